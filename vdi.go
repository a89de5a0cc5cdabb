// Package vdi implements a block driver for version 1.1 of the Virtual Disk
// Image (VDI) format, the single-file sparse disk image format originated by
// VirtualBox.
//
// An image is one host file holding a 512-byte header, a dense block map, and
// a data region in which 1 MiB blocks are materialized on first write. The
// driver exposes the image as a flat array of 512-byte sectors: reads of
// unallocated blocks return zeros, and the first write to a block appends it
// to the data region, patches the one dirty sector of the block map, and
// rewrites the header's allocation counter -- in that order, so that a crash
// at any point leaves the image readable.
//
// The driver assumes a single exclusive opener per image and takes no internal
// locks. Multiple images can be open concurrently in one process as long as
// each has its own Driver.
package vdi

import "encoding/binary"

// SectorSize is the granularity of all I/O, in bytes.
const SectorSize = 512

// BlockSize is the granularity of allocation, in bytes. The on-disk format
// names a block size field, but only the canonical 1 MiB is supported.
const BlockSize = 1 << 20

// BlockSectors is the number of sectors in one block.
const BlockSectors = BlockSize / SectorSize

// Signature is the magic number identifying a VDI image.
const Signature = 0xbeda107f

// Version1_1 is the only supported on-disk layout version.
const Version1_1 = 0x00010001

// Unallocated is the block map sentinel meaning "no physical backing; reads
// return zero". Its byte representation is the same in either endianness.
const Unallocated = 0xffffffff

// Image types stored in the header.
const (
	ImageTypeDynamic = 1 // sparse, grows on first write
	ImageTypeStatic  = 2 // fully pre-allocated at creation
)

// EncodedHeaderSize is the size of the encoded header on disk. The header
// proper is HeaderSize1_1 bytes; the remainder of the sector is reserved
// zero padding.
const EncodedHeaderSize = SectorSize

// HeaderSize1_1 is the canonical value of the header_size field.
const HeaderSize1_1 = 0x180

// DefaultText is the identification string written into new images. Images
// from other producers carry different strings; the value is not interpreted.
const DefaultText = "<<< Go Virtual Disk Image >>>\n"

// Probe inspects the first bytes of a candidate file and returns a confidence
// score between 0 and 100. The result is 100 exactly when buf holds at least
// one full header whose signature and version match, and 0 otherwise.
func Probe(buf []byte) int {
	if len(buf) < EncodedHeaderSize {
		return 0
	}

	signature := binary.LittleEndian.Uint32(buf[0x40:])
	version := binary.LittleEndian.Uint32(buf[0x44:])
	if signature == Signature && version == Version1_1 {
		return 100
	}
	return 0
}

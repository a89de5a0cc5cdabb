package vdi

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"
)

// Header mirrors the on-disk header layout byte for byte. All multi-byte
// integers are little-endian on disk. The four UUID fields are opaque: they
// are round-tripped but never interpreted.
//
// The encoded form is exactly EncodedHeaderSize bytes. The HeaderSize field
// counts HeaderSize1_1 bytes starting at its own offset (0x48), so the header
// proper ends after UUIDParent at 0x1c8; the trailing Unused2 words are
// reserved zero padding.
type Header struct {
	Text            [64]byte
	Signature       uint32
	Version         uint32
	HeaderSize      uint32
	ImageType       uint32
	ImageFlags      uint32
	Description     [256]byte
	OffsetBlockmap  uint32
	OffsetData      uint32
	Cylinders       uint32 // legacy geometry, unused for translation
	Heads           uint32
	Sectors         uint32
	SectorSize      uint32
	Unused1         uint32
	DiskSize        uint64
	BlockSize       uint32
	BlockExtra      uint32
	BlocksInImage   uint32
	BlocksAllocated uint32
	UUIDImage       [16]byte
	UUIDLastSnap    [16]byte
	UUIDLink        [16]byte
	UUIDParent      [16]byte
	Unused2         [7]uint64
}

// blockmapRegionSize gives the on-disk size of the block map for the given
// number of entries, rounded up to a whole number of sectors.
func blockmapRegionSize(blocksInImage uint32) uint32 {
	mapBytes := blocksInImage * 4
	return (mapBytes + SectorSize - 1) / SectorSize * SectorSize
}

// DecodeHeader reads a header from buf and validates every format invariant.
// buf must hold at least EncodedHeaderSize bytes.
func DecodeHeader(buf []byte) (Header, DriverError) {
	var header Header

	if len(buf) < EncodedHeaderSize {
		return header, ErrInvalidArgument.WithMessage(
			"header buffer too small")
	}

	// The struct is fixed-size, so this cannot fail on a full buffer.
	binary.Read(bytes.NewReader(buf), binary.LittleEndian, &header)

	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}

// EncodeHeader serializes the header into a fresh EncodedHeaderSize-byte
// buffer. It is the byte-exact inverse of DecodeHeader.
func EncodeHeader(header *Header) []byte {
	buf := make([]byte, EncodedHeaderSize)
	writer := bytewriter.New(buf)
	binary.Write(writer, binary.LittleEndian, header)
	return buf
}

// Validate enforces the invariants that must hold for any usable image.
func (header *Header) Validate() DriverError {
	if header.Signature != Signature {
		return ErrBadSignature
	}
	if header.Version != Version1_1 {
		return ErrBadVersion
	}
	if header.OffsetBlockmap == 0 || header.OffsetBlockmap%SectorSize != 0 {
		return ErrUnalignedBlockmap
	}
	if header.OffsetData == 0 || header.OffsetData%SectorSize != 0 {
		return ErrUnalignedData
	}
	if header.SectorSize != SectorSize {
		return ErrBadSectorSize
	}
	if header.BlockSize != BlockSize {
		return ErrBadBlockSize
	}
	if uint64(header.BlocksInImage)*BlockSize != header.DiskSize {
		return ErrSizeMismatch
	}
	if header.BlocksAllocated > header.BlocksInImage {
		return ErrSizeMismatch.WithMessage(
			"allocation counter exceeds total block count")
	}
	return nil
}

func newHeader(diskSize uint64, imageType uint32) Header {
	blocks := uint32(diskSize / BlockSize)
	header := Header{
		Signature:      Signature,
		Version:        Version1_1,
		HeaderSize:     HeaderSize1_1,
		ImageType:      imageType,
		OffsetBlockmap: SectorSize,
		OffsetData:     SectorSize + blockmapRegionSize(blocks),
		SectorSize:     SectorSize,
		DiskSize:       diskSize,
		BlockSize:      BlockSize,
		BlocksInImage:  blocks,
	}
	copy(header.Text[:], DefaultText)
	return header
}

// NewDynamicHeader builds the header of a fresh sparse image. diskSize must
// be a multiple of BlockSize; callers validate this before getting here.
// UUIDs are left zeroed for the caller to populate.
func NewDynamicHeader(diskSize uint64) Header {
	return newHeader(diskSize, ImageTypeDynamic)
}

// NewStaticHeader builds the header of a fresh fully pre-allocated image.
func NewStaticHeader(diskSize uint64) Header {
	header := newHeader(diskSize, ImageTypeStatic)
	header.BlocksAllocated = header.BlocksInImage
	return header
}

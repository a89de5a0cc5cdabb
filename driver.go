package vdi

import (
	"bytes"

	"github.com/dargueta/vdi/device"
)

// FlushPolicy controls whether the allocator inserts durability barriers
// between the three writes of the growth protocol.
type FlushPolicy int

const (
	// FlushNone issues no barriers. Crash ordering then depends on the
	// device preserving submission order.
	FlushNone = FlushPolicy(iota)
	// FlushBarriers flushes the device between the data, map, and header
	// writes, pinning the crash states to the write order.
	FlushBarriers = FlushPolicy(iota)
)

// OpenOptions configures how an image is opened.
type OpenOptions struct {
	// ReadOnly forbids writes; any WriteSectors call fails.
	ReadOnly bool
	// FlushPolicy applies to every block allocation on this handle.
	FlushPolicy FlushPolicy
}

// Driver is an open image. It owns the device handle, the decoded header,
// and the in-memory block map for the lifetime of the handle.
//
// A Driver serves one request at a time: callers issuing overlapping requests
// must serialize them. Writes become visible to subsequent reads on the same
// handle.
type Driver struct {
	device       device.SectorDevice
	header       Header
	blockmap     BlockMap
	totalSectors int64
	readOnly     bool
	flushPolicy  FlushPolicy
	inconsistent bool
}

// Open opens an image file.
func Open(path string, opts OpenOptions) (*Driver, DriverError) {
	dev, err := device.OpenFile(path, opts.ReadOnly)
	if err != nil {
		return nil, ErrIOFailed.WrapError(err)
	}

	driver, derr := OpenDevice(dev, opts)
	if derr != nil {
		dev.Close()
		return nil, derr
	}
	return driver, nil
}

// OpenDevice opens an image on an arbitrary sector device. On success the
// driver takes ownership of dev and closes it with Close; on failure the
// caller keeps ownership.
func OpenDevice(dev device.SectorDevice, opts OpenOptions) (*Driver, DriverError) {
	buf := make([]byte, EncodedHeaderSize)
	if err := dev.ReadSectors(0, 1, buf); err != nil {
		return nil, ErrIOFailed.WrapError(err)
	}

	header, derr := DecodeHeader(buf)
	if derr != nil {
		return nil, derr
	}

	blockmap, derr := LoadBlockMap(dev, header.OffsetBlockmap, header.BlocksInImage)
	if derr != nil {
		return nil, derr
	}

	return &Driver{
		device:       dev,
		header:       header,
		blockmap:     blockmap,
		totalSectors: int64(header.DiskSize / SectorSize),
		readOnly:     opts.ReadOnly,
		flushPolicy:  opts.FlushPolicy,
	}, nil
}

// Close flushes the device and releases it.
func (driver *Driver) Close() DriverError {
	flushErr := driver.device.Flush()
	closeErr := driver.device.Close()
	if flushErr != nil {
		return ErrIOFailed.WrapError(flushErr)
	}
	if closeErr != nil {
		return ErrIOFailed.WrapError(closeErr)
	}
	return nil
}

// Flush forwards a durability barrier to the device.
func (driver *Driver) Flush() DriverError {
	if err := driver.device.Flush(); err != nil {
		return ErrIOFailed.WrapError(err)
	}
	return nil
}

// Header returns a copy of the current in-memory header.
func (driver *Driver) Header() Header {
	return driver.header
}

// TotalSectors returns the size of the virtual disk, in sectors.
func (driver *Driver) TotalSectors() int64 {
	return driver.totalSectors
}

// MapEntry returns the decoded block map entry for a logical block.
func (driver *Driver) MapEntry(logicalBlock uint32) (uint32, DriverError) {
	return driver.blockmap.Lookup(logicalBlock)
}

// Inconsistent reports whether a failed allocation may have left the on-disk
// map ahead of the on-disk header. The image stays readable; Check can
// quantify the damage, and later successful allocations re-synchronize the
// header.
func (driver *Driver) Inconsistent() bool {
	return driver.inconsistent
}

// ImageStat is a point-in-time summary of an open image.
type ImageStat struct {
	Text            string
	Description     string
	ImageType       uint32
	DiskSize        uint64
	BlockSize       uint32
	BlocksInImage   uint32
	BlocksAllocated uint32
	TotalSectors    int64
	UUIDImage       [16]byte
	UUIDLastSnap    [16]byte
	UUIDLink        [16]byte
	UUIDParent      [16]byte
}

// Stat summarizes the open image.
func (driver *Driver) Stat() ImageStat {
	header := &driver.header
	return ImageStat{
		Text:            string(bytes.TrimRight(header.Text[:], "\x00")),
		Description:     string(bytes.TrimRight(header.Description[:], "\x00")),
		ImageType:       header.ImageType,
		DiskSize:        header.DiskSize,
		BlockSize:       header.BlockSize,
		BlocksInImage:   header.BlocksInImage,
		BlocksAllocated: header.BlocksAllocated,
		TotalSectors:    driver.totalSectors,
		UUIDImage:       header.UUIDImage,
		UUIDLastSnap:    header.UUIDLastSnap,
		UUIDLink:        header.UUIDLink,
		UUIDParent:      header.UUIDParent,
	}
}

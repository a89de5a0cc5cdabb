package vdi

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/noxer/bytewriter"

	"github.com/dargueta/vdi/device"
)

// CreateOptions are the recognized image-creation options.
type CreateOptions struct {
	// Size is the virtual disk size in bytes. Required; must be a positive
	// multiple of BlockSize.
	Size uint64
	// Static pre-allocates every block and marks the image ImageTypeStatic.
	Static bool
	// BlockSize may be left zero for the default. The only accepted
	// non-zero value is BlockSize; the field exists because the on-disk
	// format names one.
	BlockSize uint32
	// Description is free-form text stored in the header.
	Description string
}

func (opts *CreateOptions) validate() DriverError {
	if opts.BlockSize != 0 && opts.BlockSize != BlockSize {
		return ErrNotSupported.WithMessage(
			fmt.Sprintf("block size must be %d, got %d", BlockSize, opts.BlockSize))
	}
	if opts.Size == 0 || opts.Size%BlockSize != 0 {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"size must be a positive multiple of %d, got %d",
				BlockSize,
				opts.Size))
	}
	if opts.Size/BlockSize >= Unallocated {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf("size of %d bytes needs too many blocks", opts.Size))
	}
	if len(opts.Description) >= 256 {
		return ErrInvalidArgument.WithMessage("description too long")
	}
	return nil
}

// Create builds a new image file at path. For a dynamic image the file holds
// only the header and a block map full of Unallocated entries; for a static
// image the map is identity-populated and the data region is written out as
// zero-filled blocks.
func Create(path string, opts CreateOptions) DriverError {
	if err := opts.validate(); err != nil {
		return err
	}

	dev, err := device.CreateFile(path)
	if err != nil {
		return ErrIOFailed.WrapError(err)
	}

	derr := CreateOnDevice(dev, opts)
	closeErr := dev.Close()
	if derr != nil {
		return derr
	}
	if closeErr != nil {
		return ErrIOFailed.WrapError(closeErr)
	}
	return nil
}

// CreateOnDevice writes a new image onto an open device. The device must be
// empty or its prior contents disposable; everything up to the end of the
// new image is overwritten.
func CreateOnDevice(dev device.SectorDevice, opts CreateOptions) DriverError {
	if err := opts.validate(); err != nil {
		return err
	}

	var header Header
	if opts.Static {
		header = NewStaticHeader(opts.Size)
	} else {
		header = NewDynamicHeader(opts.Size)
	}
	copy(header.Description[:], opts.Description)

	imageUUID := uuid.New()
	copy(header.UUIDImage[:], imageUUID[:])
	snapUUID := uuid.New()
	copy(header.UUIDLastSnap[:], snapUUID[:])

	// Header and block map are contiguous; build both into one buffer and
	// write them with a single request. The map's tail padding stays zero.
	blocks := header.BlocksInImage
	region := make([]byte, EncodedHeaderSize+int(blockmapRegionSize(blocks)))
	writer := bytewriter.New(region)
	writer.Write(EncodeHeader(&header))
	for i := uint32(0); i < blocks; i++ {
		if opts.Static {
			binary.Write(writer, binary.LittleEndian, i)
		} else {
			binary.Write(writer, binary.LittleEndian, uint32(Unallocated))
		}
	}

	if err := dev.WriteSectors(0, len(region)/SectorSize, region); err != nil {
		return ErrIOFailed.WrapError(err)
	}

	if opts.Static {
		block := make([]byte, BlockSize)
		dataSector := int64(header.OffsetData) / SectorSize
		for k := int64(0); k < int64(blocks); k++ {
			err := dev.WriteSectors(dataSector+k*BlockSectors, BlockSectors, block)
			if err != nil {
				return ErrIOFailed.WrapError(err)
			}
		}
	}

	if err := dev.Flush(); err != nil {
		return ErrIOFailed.WrapError(err)
	}
	return nil
}

package vdi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodedSize(t *testing.T) {
	header := NewDynamicHeader(4 * BlockSize)
	assert.Len(t, EncodeHeader(&header), EncodedHeaderSize)
}

// Every field must land at its documented byte offset, little-endian.
func TestHeaderEncodeFieldOffsets(t *testing.T) {
	header := NewDynamicHeader(4 * BlockSize)
	header.Cylinders = 0x11111111
	header.Heads = 0x22222222
	header.Sectors = 0x33333333
	header.BlocksAllocated = 3
	for i := range header.UUIDImage {
		header.UUIDImage[i] = byte(i + 1)
	}

	buf := EncodeHeader(&header)

	le32 := func(offset int) uint32 {
		return binary.LittleEndian.Uint32(buf[offset:])
	}

	assert.EqualValues(t, DefaultText, string(buf[:len(DefaultText)]))
	assert.EqualValues(t, Signature, le32(0x40), "signature")
	assert.EqualValues(t, Version1_1, le32(0x44), "version")
	assert.EqualValues(t, HeaderSize1_1, le32(0x48), "header_size")
	assert.EqualValues(t, ImageTypeDynamic, le32(0x4c), "image_type")
	assert.EqualValues(t, 0, le32(0x50), "image_flags")
	assert.EqualValues(t, 0x200, le32(0x154), "offset_blockmap")
	assert.EqualValues(t, 0x400, le32(0x158), "offset_data")
	assert.EqualValues(t, 0x11111111, le32(0x15c), "cylinders")
	assert.EqualValues(t, 0x22222222, le32(0x160), "heads")
	assert.EqualValues(t, 0x33333333, le32(0x164), "sectors")
	assert.EqualValues(t, SectorSize, le32(0x168), "sector_size")
	assert.EqualValues(
		t, 4*BlockSize, binary.LittleEndian.Uint64(buf[0x170:]), "disk_size")
	assert.EqualValues(t, BlockSize, le32(0x178), "block_size")
	assert.EqualValues(t, 0, le32(0x17c), "block_extra")
	assert.EqualValues(t, 4, le32(0x180), "blocks_in_image")
	assert.EqualValues(t, 3, le32(0x184), "blocks_allocated")
	assert.EqualValues(t, header.UUIDImage[:], buf[0x188:0x198], "uuid_image")

	// Reserved tail is zero padding.
	for i := 0x1c8; i < EncodedHeaderSize; i++ {
		require.Zerof(t, buf[i], "reserved byte at offset %#x not zero", i)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	original := NewDynamicHeader(16 * BlockSize)
	original.BlocksAllocated = 7
	original.Cylinders = 16
	original.Heads = 4
	original.Sectors = 63
	copy(original.Description[:], "round trip me")
	for i := range original.UUIDLink {
		original.UUIDLink[i] = byte(0xa0 + i)
		original.UUIDParent[i] = byte(0x50 + i)
	}

	decoded, err := DecodeHeader(EncodeHeader(&original))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	header := NewDynamicHeader(BlockSize)
	_, err := DecodeHeader(EncodeHeader(&header)[:EncodedHeaderSize-1])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDecodeHeaderInvariants(t *testing.T) {
	corruptions := []struct {
		name     string
		mutate   func(header *Header)
		expected VDIError
	}{
		{
			"BadSignature",
			func(header *Header) { header.Signature = 0xdeadbeef },
			ErrBadSignature,
		},
		{
			"BadVersion",
			func(header *Header) { header.Version = 0x00010002 },
			ErrBadVersion,
		},
		{
			"UnalignedBlockmap",
			func(header *Header) { header.OffsetBlockmap += 16 },
			ErrUnalignedBlockmap,
		},
		{
			"ZeroBlockmapOffset",
			func(header *Header) { header.OffsetBlockmap = 0 },
			ErrUnalignedBlockmap,
		},
		{
			"UnalignedData",
			func(header *Header) { header.OffsetData += 100 },
			ErrUnalignedData,
		},
		{
			"BadSectorSize",
			func(header *Header) { header.SectorSize = 4096 },
			ErrBadSectorSize,
		},
		{
			"BadBlockSize",
			func(header *Header) { header.BlockSize = 64 * 1024 },
			ErrBadBlockSize,
		},
		{
			"SizeMismatch",
			func(header *Header) { header.BlocksInImage++ },
			ErrSizeMismatch,
		},
		{
			"CounterPastEnd",
			func(header *Header) { header.BlocksAllocated = header.BlocksInImage + 1 },
			ErrSizeMismatch,
		},
	}

	for _, corruption := range corruptions {
		t.Run(corruption.name, func(t *testing.T) {
			header := NewDynamicHeader(8 * BlockSize)
			corruption.mutate(&header)

			_, err := DecodeHeader(EncodeHeader(&header))
			require.Error(t, err)
			assert.ErrorIs(t, err, corruption.expected)
		})
	}
}

func TestNewDynamicHeader(t *testing.T) {
	header := NewDynamicHeader(2 * BlockSize)

	assert.EqualValues(t, ImageTypeDynamic, header.ImageType)
	assert.EqualValues(t, 2, header.BlocksInImage)
	assert.EqualValues(t, 0, header.BlocksAllocated)
	assert.EqualValues(t, 0x200, header.OffsetBlockmap)
	// Two entries round up to one full map sector.
	assert.EqualValues(t, 0x400, header.OffsetData)
	assert.NoError(t, header.Validate())
}

func TestNewStaticHeader(t *testing.T) {
	header := NewStaticHeader(3 * BlockSize)

	assert.EqualValues(t, ImageTypeStatic, header.ImageType)
	assert.EqualValues(t, 3, header.BlocksInImage)
	assert.EqualValues(t, 3, header.BlocksAllocated)
	assert.NoError(t, header.Validate())
}

// The data offset must account for the map being padded to whole sectors.
func TestNewHeaderMapPadding(t *testing.T) {
	// 129 entries need 516 bytes, so the map region is two sectors.
	header := NewDynamicHeader(129 * BlockSize)
	assert.EqualValues(t, 0x200+0x400, header.OffsetData)

	// 128 entries fit exactly into one sector.
	header = NewDynamicHeader(128 * BlockSize)
	assert.EqualValues(t, 0x200+0x200, header.OffsetData)
}

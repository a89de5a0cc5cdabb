package vdi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/vdi/device"
)

func TestNewBlockMapAllUnallocated(t *testing.T) {
	blockmap := NewBlockMap(5)

	for block := uint32(0); block < 5; block++ {
		entry, err := blockmap.Lookup(block)
		require.NoError(t, err)
		assert.EqualValues(t, Unallocated, entry)
	}
}

// Entries are stored little-endian even in memory, so a map sector can be
// written to disk verbatim.
func TestBlockMapStorageIsLittleEndian(t *testing.T) {
	blockmap := NewBlockMap(4)
	require.NoError(t, blockmap.Assign(2, 0x01020304))

	sector := blockmap.sectorBytes(0)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, sector[8:12])
}

func TestBlockMapLookupOutOfRange(t *testing.T) {
	blockmap := NewBlockMap(4)

	_, err := blockmap.Lookup(4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArgumentOutOfRange)
}

func TestBlockMapAssignTwiceFails(t *testing.T) {
	blockmap := NewBlockMap(4)

	require.NoError(t, blockmap.Assign(1, 0))
	err := blockmap.Assign(1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateViolation)

	// The failed Assign must not have clobbered the entry.
	entry, lookupErr := blockmap.Lookup(1)
	require.NoError(t, lookupErr)
	assert.EqualValues(t, 0, entry)
}

func TestBlockMapRevert(t *testing.T) {
	blockmap := NewBlockMap(4)
	require.NoError(t, blockmap.Assign(3, 0))

	blockmap.revert(3)
	entry, err := blockmap.Lookup(3)
	require.NoError(t, err)
	assert.EqualValues(t, Unallocated, entry)

	// A reverted entry can be assigned again.
	assert.NoError(t, blockmap.Assign(3, 0))
}

func TestBlockMapSectorFor(t *testing.T) {
	blockmap := NewBlockMap(300)

	tests := []struct {
		logicalBlock uint32
		sectorIndex  uint32
		firstEntry   uint32
	}{
		{0, 0, 0},
		{127, 0, 0},
		{128, 1, 128},
		{255, 1, 128},
		{299, 2, 256},
	}
	for _, test := range tests {
		sectorIndex, firstEntry := blockmap.SectorFor(test.logicalBlock)
		assert.Equalf(
			t, test.sectorIndex, sectorIndex, "sector index for block %d",
			test.logicalBlock)
		assert.Equalf(
			t, test.firstEntry, firstEntry, "first entry for block %d",
			test.logicalBlock)
	}
}

func TestLoadBlockMapPadsToWholeSectors(t *testing.T) {
	// Three entries on disk: 7, Unallocated, 2. The rest of the sector is
	// zero padding and must not be interpreted.
	storage := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(storage[0:], 7)
	binary.LittleEndian.PutUint32(storage[4:], Unallocated)
	binary.LittleEndian.PutUint32(storage[8:], 2)

	blockmap, err := LoadBlockMap(device.NewBufferDevice(storage), 0, 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, blockmap.BlocksInImage())

	entries := []uint32{7, Unallocated, 2}
	for block, expected := range entries {
		entry, lookupErr := blockmap.Lookup(uint32(block))
		require.NoError(t, lookupErr)
		assert.EqualValues(t, expected, entry)
	}
}

func TestBlockMapCheck(t *testing.T) {
	blockmap := NewBlockMap(6)
	require.NoError(t, blockmap.Assign(0, 1))
	require.NoError(t, blockmap.Assign(4, 0))
	// Corrupt entry: points past the data region.
	blockmap.setEntry(5, 6)

	allocated, outOfRange := blockmap.Check()
	assert.EqualValues(t, 2, allocated)
	assert.Equal(t, []uint32{5}, outOfRange)
}

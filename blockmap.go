package vdi

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/vdi/device"
)

// entriesPerSector is the number of block map entries in one map sector.
const entriesPerSector = SectorSize / 4

// BlockMap is the in-memory copy of the image's block-index table. Entry i
// holds the physical block index backing logical block i, or Unallocated.
//
// The table is kept in its on-disk little-endian byte form, padded to a whole
// number of sectors, so that the allocator can write a single dirty sector
// back without a re-encode pass. Lookup decodes entries at the point of use.
type BlockMap struct {
	entries       []byte
	blocksInImage uint32
}

// NewBlockMap returns a map of blocksInImage entries, all Unallocated.
func NewBlockMap(blocksInImage uint32) BlockMap {
	blockmap := BlockMap{
		entries:       make([]byte, blockmapRegionSize(blocksInImage)),
		blocksInImage: blocksInImage,
	}
	for i := uint32(0); i < blocksInImage; i++ {
		blockmap.setEntry(i, Unallocated)
	}
	return blockmap
}

// LoadBlockMap reads the block map from dev. The region read is the entry
// table rounded up to a sector boundary; the tail padding is zeroes on disk.
func LoadBlockMap(
	dev device.SectorDevice, offsetBlockmap, blocksInImage uint32,
) (BlockMap, DriverError) {
	blockmap := BlockMap{
		entries:       make([]byte, blockmapRegionSize(blocksInImage)),
		blocksInImage: blocksInImage,
	}

	sectors := len(blockmap.entries) / SectorSize
	err := dev.ReadSectors(
		int64(offsetBlockmap)/SectorSize, sectors, blockmap.entries)
	if err != nil {
		return BlockMap{}, ErrIOFailed.WrapError(err)
	}
	return blockmap, nil
}

// BlocksInImage returns the number of entries in the map.
func (blockmap *BlockMap) BlocksInImage() uint32 {
	return blockmap.blocksInImage
}

// Lookup returns the decoded entry for a logical block: either Unallocated or
// the physical block index backing it.
func (blockmap *BlockMap) Lookup(logicalBlock uint32) (uint32, DriverError) {
	if logicalBlock >= blockmap.blocksInImage {
		return 0, ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"logical block %d not in range [0, %d)",
				logicalBlock,
				blockmap.blocksInImage))
	}
	return binary.LittleEndian.Uint32(blockmap.entries[logicalBlock*4:]), nil
}

// Assign binds a logical block to a physical block index. The prior entry
// must be Unallocated; an entry never transitions twice. A violation is a
// bug in the caller, not a data error.
func (blockmap *BlockMap) Assign(logicalBlock, physical uint32) DriverError {
	current, err := blockmap.Lookup(logicalBlock)
	if err != nil {
		return err
	}
	if current != Unallocated {
		return ErrStateViolation.WithMessage(
			fmt.Sprintf(
				"logical block %d already mapped to physical block %d",
				logicalBlock,
				current))
	}

	blockmap.setEntry(logicalBlock, physical)
	return nil
}

// revert undoes an Assign whose backing write failed before anything on disk
// referenced the new block.
func (blockmap *BlockMap) revert(logicalBlock uint32) {
	blockmap.setEntry(logicalBlock, Unallocated)
}

func (blockmap *BlockMap) setEntry(logicalBlock, value uint32) {
	binary.LittleEndian.PutUint32(blockmap.entries[logicalBlock*4:], value)
}

// SectorFor identifies the single map sector containing a logical block's
// entry: the sector's index within the map region and the index of the first
// entry stored in it. The allocator writes exactly that sector after an
// allocation.
func (blockmap *BlockMap) SectorFor(logicalBlock uint32) (sectorIndex, firstEntry uint32) {
	sectorIndex = logicalBlock / entriesPerSector
	return sectorIndex, sectorIndex * entriesPerSector
}

// sectorBytes returns the in-memory bytes of one map sector, already in
// on-disk form.
func (blockmap *BlockMap) sectorBytes(sectorIndex uint32) []byte {
	start := sectorIndex * SectorSize
	return blockmap.entries[start : start+SectorSize]
}

// Check scans every entry and reports the number of allocated (non-sentinel)
// entries along with the logical blocks whose entries are at or past the
// map's entry count (blocksInImage). The caller cross-checks the count
// against the header.
func (blockmap *BlockMap) Check() (allocated uint32, outOfRange []uint32) {
	for block := uint32(0); block < blockmap.blocksInImage; block++ {
		entry := binary.LittleEndian.Uint32(blockmap.entries[block*4:])
		if entry == Unallocated {
			continue
		}
		if entry < blockmap.blocksInImage {
			allocated++
		} else {
			outOfRange = append(outOfRange, block)
		}
	}
	return allocated, outOfRange
}

package vdi

// allocateBlock materializes the block containing a first write. src holds
// n sectors destined for [sectorInBlock, sectorInBlock+n) of the new block.
//
// Three writes happen, always in this order:
//
//  1. the full zero-filled block, with src copied in, appended to the data
//     region;
//  2. the single 512-byte sector of the block map containing the patched
//     entry;
//  3. the header, carrying the bumped allocation counter.
//
// Data before map before header is what keeps a crash harmless: after (1)
// alone the new bytes are unreferenced, and after (2) alone the map is ahead
// of the header by exactly one block, which Check reports; the counter stays
// behind until it is rewritten to the observed count. The reverse order could
// leave the header claiming blocks that were never written.
//
// Depending on the flush policy, a barrier is inserted after (1) and (2).
func (driver *Driver) allocateBlock(
	blockIndex, sectorInBlock uint32, n int, src []byte,
) DriverError {
	physical := driver.header.BlocksAllocated
	if err := driver.blockmap.Assign(blockIndex, physical); err != nil {
		return err
	}
	driver.header.BlocksAllocated++

	block := make([]byte, BlockSize)
	copy(block[int(sectorInBlock)*SectorSize:], src[:n*SectorSize])

	dataSector := int64(driver.header.OffsetData)/SectorSize +
		int64(physical)*BlockSectors
	if err := driver.device.WriteSectors(dataSector, BlockSectors, block); err != nil {
		// Nothing on disk references the block yet; undo the reservation
		// and surface the error with memory matching the old disk state.
		driver.blockmap.revert(blockIndex)
		driver.header.BlocksAllocated--
		return ErrIOFailed.WrapError(err)
	}
	if err := driver.barrier(); err != nil {
		driver.blockmap.revert(blockIndex)
		driver.header.BlocksAllocated--
		return err
	}

	sectorIndex, _ := driver.blockmap.SectorFor(blockIndex)
	mapSector := int64(driver.header.OffsetBlockmap)/SectorSize +
		int64(sectorIndex)
	err := driver.device.WriteSectors(
		mapSector, 1, driver.blockmap.sectorBytes(sectorIndex))
	if err != nil {
		driver.inconsistent = true
		return ErrIOFailed.WrapError(err)
	}
	if err := driver.barrier(); err != nil {
		driver.inconsistent = true
		return err
	}

	if err := driver.writeHeader(); err != nil {
		driver.inconsistent = true
		return err
	}
	return nil
}

// writeHeader re-encodes the in-memory header and rewrites sector 0.
func (driver *Driver) writeHeader() DriverError {
	if err := driver.device.WriteSectors(0, 1, EncodeHeader(&driver.header)); err != nil {
		return ErrIOFailed.WrapError(err)
	}
	return nil
}

// barrier flushes the device when the handle's flush policy asks for
// barriers between the growth protocol's writes.
func (driver *Driver) barrier() DriverError {
	if driver.flushPolicy != FlushBarriers {
		return nil
	}
	if err := driver.device.Flush(); err != nil {
		return ErrIOFailed.WrapError(err)
	}
	return nil
}

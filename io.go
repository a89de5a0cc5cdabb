package vdi

import "fmt"

// checkRequest validates the shape of a read or write request. Requests that
// merely extend past the end of the disk are not an error; the transfer loop
// truncates them.
func (driver *Driver) checkRequest(sectorNum int64, count int, buf []byte) DriverError {
	if sectorNum < 0 {
		return ErrNegativeSector.WithMessage(
			fmt.Sprintf("sector %d", sectorNum))
	}
	if count < 0 {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative sector count %d", count))
	}
	if len(buf) < count*SectorSize {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer of %d bytes too small for %d sectors",
				len(buf),
				count))
	}
	return nil
}

// ReadSectors fills buf with count sectors starting at logical sector
// sectorNum and returns the number of bytes filled. Sectors in unallocated
// blocks read as zeroes. A request extending past the end of the disk is
// truncated there.
func (driver *Driver) ReadSectors(sectorNum int64, count int, buf []byte) (int, DriverError) {
	if err := driver.checkRequest(sectorNum, count, buf); err != nil {
		return 0, err
	}

	transferred := 0
	for count > 0 && sectorNum < driver.totalSectors {
		blockIndex := uint32(sectorNum / BlockSectors)
		sectorInBlock := uint32(sectorNum % BlockSectors)
		n := BlockSectors - int(sectorInBlock)
		if n > count {
			n = count
		}

		chunk := buf[transferred : transferred+n*SectorSize]
		entry, err := driver.blockmap.Lookup(blockIndex)
		if err != nil {
			return transferred, err
		}

		if entry == Unallocated {
			// Block not materialized; it reads as zeroes.
			for i := range chunk {
				chunk[i] = 0
			}
		} else {
			offset := int64(driver.header.OffsetData)/SectorSize +
				int64(entry)*BlockSectors +
				int64(sectorInBlock)
			if err := driver.device.ReadSectors(offset, n, chunk); err != nil {
				return transferred, ErrIOFailed.WrapError(err)
			}
		}

		transferred += n * SectorSize
		sectorNum += int64(n)
		count -= n
	}
	return transferred, nil
}

// WriteSectors writes count sectors from buf starting at logical sector
// sectorNum and returns the number of bytes written. Writes into allocated
// blocks go straight through to the data region; the first write into an
// unallocated block runs the growth protocol. A request extending past the
// end of the disk is truncated there.
func (driver *Driver) WriteSectors(sectorNum int64, count int, buf []byte) (int, DriverError) {
	if driver.readOnly {
		return 0, ErrReadOnlyImage
	}
	if err := driver.checkRequest(sectorNum, count, buf); err != nil {
		return 0, err
	}

	transferred := 0
	for count > 0 && sectorNum < driver.totalSectors {
		blockIndex := uint32(sectorNum / BlockSectors)
		sectorInBlock := uint32(sectorNum % BlockSectors)
		n := BlockSectors - int(sectorInBlock)
		if n > count {
			n = count
		}

		chunk := buf[transferred : transferred+n*SectorSize]
		entry, err := driver.blockmap.Lookup(blockIndex)
		if err != nil {
			return transferred, err
		}

		if entry == Unallocated {
			if err := driver.allocateBlock(blockIndex, sectorInBlock, n, chunk); err != nil {
				return transferred, err
			}
		} else {
			offset := int64(driver.header.OffsetData)/SectorSize +
				int64(entry)*BlockSectors +
				int64(sectorInBlock)
			if err := driver.device.WriteSectors(offset, n, chunk); err != nil {
				return transferred, ErrIOFailed.WrapError(err)
			}
		}

		transferred += n * SectorSize
		sectorNum += int64(n)
		count -= n
	}
	return transferred, nil
}

// IsAllocated reports whether the block containing sectorNum is backed by a
// physical block, along with the number of sectors from sectorNum that share
// that answer (clamped by count). It is a cheap probe for sparse-copy
// optimizations; it performs no I/O.
func (driver *Driver) IsAllocated(sectorNum int64, count int) (bool, int, DriverError) {
	if sectorNum < 0 || sectorNum >= driver.totalSectors {
		return false, 0, ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"sector %d not in range [0, %d)",
				sectorNum,
				driver.totalSectors))
	}

	blockIndex := uint32(sectorNum / BlockSectors)
	sectorInBlock := uint32(sectorNum % BlockSectors)
	n := BlockSectors - int(sectorInBlock)
	if n > count {
		n = count
	}

	entry, err := driver.blockmap.Lookup(blockIndex)
	if err != nil {
		return false, 0, err
	}
	return entry != Unallocated, n, nil
}

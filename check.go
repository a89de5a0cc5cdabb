package vdi

import (
	"fmt"

	bitmap "github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"
)

// Check cross-checks the block map against the header and returns the number
// of offenses found, plus an aggregated error describing each one. A clean
// image returns (0, nil).
//
// Offenses are: an entry at or past the image's block count, two entries
// sharing a physical block, and the allocation counter disagreeing with the
// number of mapped entries. The image stays usable regardless. Check only
// reports and does not modify the image: a counter that trails the map (the
// crash window between the map and header writes) stays behind until it is
// rewritten to the observed count, and an allocation made in the meantime
// takes its physical index from the trailing counter, an index already in
// use.
func (driver *Driver) Check() (int, error) {
	var details *multierror.Error
	offenses := 0

	seen := bitmap.Bitmap(bitmap.NewSlice(int(driver.header.BlocksInImage)))
	allocated := uint32(0)

	for block := uint32(0); block < driver.header.BlocksInImage; block++ {
		entry, _ := driver.blockmap.Lookup(block)
		if entry == Unallocated {
			continue
		}

		if entry >= driver.header.BlocksInImage {
			offenses++
			details = multierror.Append(details, ErrEntryOutOfRange.WithMessage(
				fmt.Sprintf(
					"logical block %d maps to physical block %d, limit %d",
					block,
					entry,
					driver.header.BlocksInImage)))
			continue
		}

		if seen.Get(int(entry)) {
			offenses++
			details = multierror.Append(details, ErrInconsistent.WithMessage(
				fmt.Sprintf("physical block %d is mapped more than once", entry)))
		}
		seen.Set(int(entry), true)
		allocated++
	}

	if allocated != driver.header.BlocksAllocated {
		offenses++
		details = multierror.Append(details, ErrInconsistent.WithMessage(
			fmt.Sprintf(
				"allocated blocks mismatch, is %d, should be %d",
				allocated,
				driver.header.BlocksAllocated)))
	}

	return offenses, details.ErrorOrNil()
}

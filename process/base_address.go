package process

import (
	"context"
	"fmt"
)

// LocateBase returns the start of the first executable region of src, in
// ascending address order.
func LocateBase(ctx context.Context, src RegionSource) (ProcessMemoryAddress, error) {
	it, err := src.Regions(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	for it.Next() {
		if region := it.Region(); region.IsExecutable() {
			return ProcessMemoryAddress(region.Address), nil
		}
	}

	if err := it.Err(); err != nil {
		return 0, fmt.Errorf("region scan stopped before an executable region: %w", err)
	}
	return 0, fmt.Errorf("%w: no executable region", ErrNotFound)
}

package process

import (
	"context"
)

// RegionInfo is one row of a region listing.
type RegionInfo struct {
	Address    ProcessMemoryAddress
	Size       ProcessMemorySize
	Protection string
	Path       string
}

// ListRegions returns every region of src for operator inspection. It is not
// used by any chain operation.
func ListRegions(ctx context.Context, src RegionSource) ([]RegionInfo, error) {
	it, err := src.Regions(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []RegionInfo
	for it.Next() {
		region := it.Region()
		out = append(out, RegionInfo{
			Address:    ProcessMemoryAddress(region.Address),
			Size:       ProcessMemorySize(region.Size),
			Protection: region.Protection().String(),
			Path:       region.Path,
		})
	}
	return out, it.Err()
}

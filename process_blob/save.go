package process_blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"memchain/process"
	"memchain/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DefaultMaxRegionSize is the largest region SaveDump captures by default.
const DefaultMaxRegionSize = 100 * 1024 * 1024

// SaveOptions controls SaveDump.
type SaveOptions struct {
	Name          string // process name recorded in the metadata
	MaxRegionSize uint   // larger regions are listed but not captured, 0 means DefaultMaxRegionSize
}

// SaveStats counts what SaveDump did with each region.
type SaveStats struct {
	Saved              int
	SkippedNonReadable int
	SkippedTooLarge    int
	ReadErrors         int
}

// SaveDump writes every readable region of h to dirname in the layout that
// LoadDump reads. Unreadable regions are still listed in the memory map so
// that a loaded dump locates the same base address.
func SaveDump(ctx context.Context, h process.Handle, dirname string, opts SaveOptions) (SaveStats, error) {
	var stats SaveStats
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("dump-%d", h.GetPID())))

	maxSize := opts.MaxRegionSize
	if maxSize == 0 {
		maxSize = DefaultMaxRegionSize
	}

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return stats, fmt.Errorf("failed to create directory: %w", err)
	}

	log.Infoln("Saving process to directory:", dirname)

	it, err := h.Regions(ctx)
	if err != nil {
		return stats, err
	}
	regions, err := memory_map.Collect(it)
	if err != nil {
		return stats, fmt.Errorf("failed to scan memory regions: %w", err)
	}

	metadata := dumpMetadata{PID: h.GetPID(), Name: opts.Name}
	for _, region := range regions {
		if region.IsExecutable() {
			metadata.Base = process.ProcessMemoryAddress(region.Address)
			break
		}
	}

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if !region.IsReadable() {
			stats.SkippedNonReadable++
			continue
		}

		if region.Size > maxSize {
			log.Infoln("Skipping large region at", fmt.Sprintf("%x", region.Address),
				"(size:", region.Size/1024/1024, "MB)")
			stats.SkippedTooLarge++
			continue
		}

		data, err := h.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), ":", err)
			stats.ReadErrors++
			continue
		}

		if err := os.WriteFile(blobFilename(dirname, region), data, 0644); err != nil {
			return stats, fmt.Errorf("failed to write memory file for region 0x%x: %w", region.Address, err)
		}
		stats.Saved++
	}

	if err := writeJSON(filepath.Join(dirname, memoryMapFile), regions); err != nil {
		return stats, err
	}
	if err := writeJSON(filepath.Join(dirname, metadataFile), metadata); err != nil {
		return stats, err
	}

	log.Infoln("Process dump saved:", stats.Saved, "regions saved,", stats.ReadErrors, "errors")
	return stats, nil
}

func writeJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(filename), err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(filename), err)
	}
	return nil
}

// IsDump reports whether dirname holds a dump written by SaveDump.
func IsDump(dirname string) bool {
	_, err := os.Stat(filepath.Join(dirname, metadataFile))
	return err == nil
}

package process_test

import (
	"context"
	"errors"
	"testing"

	"memchain/process"
	"memchain/process/memory_map"
	"memchain/process_blob"
)

func TestLocateBase(t *testing.T) {
	tests := []struct {
		name    string
		regions []memory_map.MemoryRegion
		want    process.ProcessMemoryAddress
		wantErr error
	}{
		{
			name: "first executable wins",
			regions: []memory_map.MemoryRegion{
				{Address: 0x1000, Size: 0x1000, Perms: "r--p"},
				{Address: 0x2000, Size: 0x1000, Perms: "r-xp"},
				{Address: 0x3000, Size: 0x1000, Perms: "rwxp"},
			},
			want: 0x2000,
		},
		{
			name: "inserted out of order",
			regions: []memory_map.MemoryRegion{
				{Address: 0x9000, Size: 0x1000, Perms: "r-xp"},
				{Address: 0x5000, Size: 0x1000, Perms: "--xp"},
			},
			want: 0x5000,
		},
		{
			name: "no executable region",
			regions: []memory_map.MemoryRegion{
				{Address: 0x1000, Size: 0x1000, Perms: "r--p"},
				{Address: 0x2000, Size: 0x1000, Perms: "rw-p"},
			},
			wantErr: process.ErrNotFound,
		},
		{
			name:    "empty address space",
			wantErr: process.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dump := process_blob.NewProcessDump(1, "t")
			for _, r := range tt.regions {
				if err := dump.AddRegion(r, nil); err != nil {
					t.Fatal(err)
				}
			}

			got, err := process.LocateBase(context.Background(), dump)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LocateBase: %v", err)
			}
			if got != tt.want {
				t.Errorf("LocateBase = %s, want %s", got.ToString(), tt.want.ToString())
			}
		})
	}
}

func TestLocateBaseFixture(t *testing.T) {
	got, err := process.LocateBase(context.Background(), newTarget(t))
	if err != nil {
		t.Fatalf("LocateBase: %v", err)
	}
	if got != textAddr {
		t.Errorf("LocateBase = %s, want 0x%x", got.ToString(), textAddr)
	}
}

func TestLocateBaseScanLimit(t *testing.T) {
	dump := newTarget(t)
	dump.Options = memory_map.ScanOptions{MaxRegions: 1}

	_, err := process.LocateBase(context.Background(), dump)
	if !errors.Is(err, memory_map.ErrTooManyRegions) {
		t.Fatalf("err = %v, want ErrTooManyRegions", err)
	}
	if errors.Is(err, process.ErrNotFound) {
		t.Error("an interrupted scan must not report NotFound")
	}
}

func TestLocateBaseClosedHandle(t *testing.T) {
	dump := newTarget(t)
	dump.Close()

	_, err := process.LocateBase(context.Background(), dump)
	if !errors.Is(err, process.ErrAttachDenied) {
		t.Fatalf("err = %v, want ErrAttachDenied", err)
	}
}

func TestListRegions(t *testing.T) {
	regions, err := process.ListRegions(context.Background(), newTarget(t))
	if err != nil {
		t.Fatalf("ListRegions: %v", err)
	}
	if len(regions) != 4 {
		t.Fatalf("got %d regions, want 4", len(regions))
	}
	if regions[1].Address != textAddr || regions[1].Protection != "r-x" || regions[1].Size != 0x1000 {
		t.Errorf("text region = %+v", regions[1])
	}
	for i := 1; i < len(regions); i++ {
		if regions[i].Address <= regions[i-1].Address {
			t.Errorf("regions not increasing at %d", i)
		}
	}
}

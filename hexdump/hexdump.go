// Package hexdump renders target memory for operators, marking words that
// point into mapped regions.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"memchain/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Options controls Dump.
type Options struct {
	// BytesPerLine is rounded up to a multiple of 8, 16 when zero
	BytesPerLine int

	// Color enables ANSI colors; leave off when output is not a terminal
	Color bool

	// Regions, when set, annotates every aligned 8 byte word whose value
	// falls inside one of them. Must be sorted by address.
	Regions []memory_map.MemoryRegion
}

// DefaultOptions returns 16 bytes per line without color.
func DefaultOptions() Options {
	return Options{BytesPerLine: 16}
}

type painter struct {
	enabled bool
}

func (p painter) paint(c coloransi.ColorCode, s string) string {
	if !p.enabled {
		return s
	}
	return coloransi.Foreground(c, s)
}

// Dump writes data, which was read at addr, to w.
//
//	00007ffd4a2c1000  10 20 30 40 00 00 00 00 | 00 00 00 00 00 00 00 00  . 0@.... ........  -> 0x40302010 rw-p [heap]
func Dump(w io.Writer, data []byte, addr uint64, opts Options) error {
	perLine := opts.BytesPerLine
	if perLine <= 0 {
		perLine = 16
	}
	perLine = (perLine + 7) &^ 7

	p := painter{enabled: opts.Color}
	var line bytes.Buffer
	for off := 0; off < len(data); off += perLine {
		end := min(off+perLine, len(data))
		line.Reset()
		formatLine(&line, p, data[off:end], addr+uint64(off), perLine, opts.Regions)
		if _, err := w.Write(line.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func formatLine(buf *bytes.Buffer, p painter, data []byte, addr uint64, perLine int, regions []memory_map.MemoryRegion) {
	half := perLine / 2

	buf.WriteString(p.paint(coloransi.Cyan, fmt.Sprintf("%016x", addr)))
	buf.WriteString("  ")

	for i := 0; i < perLine; i++ {
		if i == half {
			buf.WriteString("| ")
		}
		if i >= len(data) {
			buf.WriteString("   ")
			continue
		}
		color := coloransi.Green
		if data[i] == 0 {
			color = coloransi.BrightBlack
		}
		buf.WriteString(p.paint(color, fmt.Sprintf("%02x", data[i])))
		buf.WriteByte(' ')
	}

	buf.WriteByte(' ')
	for i, b := range data {
		if i == half {
			buf.WriteByte(' ')
		}
		switch {
		case b == 0:
			buf.WriteString(p.paint(coloransi.BrightBlack, "."))
		case b < 0x20 || b > 0x7e:
			buf.WriteString(p.paint(coloransi.Red, "."))
		default:
			buf.WriteString(p.paint(coloransi.White, string(rune(b))))
		}
	}

	for _, note := range pointerNotes(data, addr, regions) {
		buf.WriteString("  ")
		buf.WriteString(p.paint(coloransi.Yellow, note))
	}
	buf.WriteByte('\n')
}

// pointerNotes lists the 8 byte aligned words in data that point into a region.
func pointerNotes(data []byte, addr uint64, regions []memory_map.MemoryRegion) []string {
	if len(regions) == 0 {
		return nil
	}

	var notes []string
	first := int((8 - addr%8) % 8)
	for i := first; i+8 <= len(data); i += 8 {
		ptr := binary.NativeEndian.Uint64(data[i:])
		region := memory_map.FindRegion(ptr, regions)
		if region == nil {
			continue
		}
		note := fmt.Sprintf("-> 0x%x %s", ptr, region.Perms)
		if region.Path != "" {
			note += " " + region.Path
		}
		notes = append(notes, note)
	}
	return notes
}

package cmds

import (
	"fmt"
	"io"

	"memchain/process"
	"memchain/table"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

type printer struct {
	w     io.Writer
	color bool
}

// newPrinter colors output when mode is "always", or when mode is "auto" and
// w is a terminal.
func newPrinter(w io.Writer, mode string) printer {
	color := false
	switch mode {
	case "always":
		color = true
	case "auto", "":
		color = isTerminal(w)
	}
	return printer{w: w, color: color}
}

// isTerminal reports whether w writes to a terminal. Writers without a file
// descriptor, such as buffers, never do.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p printer) paint(c coloransi.ColorCode, s string) string {
	if !p.color {
		return s
	}
	return coloransi.Foreground(c, s)
}

func (p printer) addr(a process.ProcessMemoryAddress) string {
	return p.paint(coloransi.Cyan, a.ToString())
}

func (p printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}

// value prints v as hex and decimal.
func (p printer) value(label string, v uint64) {
	p.printf("%s %s (%d)\n", label, p.paint(coloransi.Yellow, fmt.Sprintf("0x%x", v)), v)
}

// traceStep prints one dereference of a chain walk.
func (p printer) traceStep(step process.ChainStep) {
	p.printf("  [%d] %s + 0x%x = %s -> %s\n",
		step.Index, p.addr(step.Base), step.Offset, p.addr(step.Address), p.addr(step.Value))
}

func (p printer) regions(regions []process.RegionInfo) error {
	perm := func(s string) string {
		if len(s) == 3 && s[2] == 'x' {
			return p.paint(coloransi.Red, s)
		}
		return s
	}

	tbl := table.New(
		table.Column{Header: "START"},
		table.Column{Header: "END"},
		table.Column{Header: "SIZE", AlignRight: true},
		table.Column{Header: "PERM", Format: perm},
		table.Column{Header: "PATH"},
	)

	var total uint64
	for _, r := range regions {
		end := r.Address.Add(uint64(r.Size))
		tbl.AddRow(r.Address.ToString(), end.ToString(), humanize.IBytes(uint64(r.Size)), r.Protection, r.Path)
		total += uint64(r.Size)
	}
	if err := tbl.Render(p.w); err != nil {
		return err
	}
	p.printf("%s regions, %s mapped\n", humanize.Comma(int64(len(regions))), humanize.IBytes(total))
	return nil
}

package cmds

import (
	"fmt"
	"strconv"
	"strings"

	"memchain/process"

	"github.com/spf13/pflag"
)

// offsetsValue is a pflag.Value holding a pointer chain such as "0x10,0x18,4".
type offsetsValue struct {
	offsets *process.Offsets
	set     bool
}

var _ pflag.Value = (*offsetsValue)(nil)

func newOffsetsValue(p *process.Offsets) *offsetsValue {
	return &offsetsValue{offsets: p}
}

func (v *offsetsValue) String() string {
	if v.offsets == nil || len(*v.offsets) == 0 {
		return ""
	}
	parts := make([]string, len(*v.offsets))
	for i, off := range *v.offsets {
		parts[i] = fmt.Sprintf("0x%x", off)
	}
	return strings.Join(parts, ",")
}

func (v *offsetsValue) Set(s string) error {
	offsets, err := process.ParseOffsets(s)
	if err != nil {
		return err
	}
	*v.offsets = offsets
	v.set = true
	return nil
}

func (v *offsetsValue) Type() string {
	return "offsets"
}

// parseValue accepts decimal, 0x hex, or a negative decimal stored as its
// two's complement.
func parseValue(s string) (uint64, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", s)
		}
		return uint64(v), nil
	}
	return process.ParseOffset(s)
}

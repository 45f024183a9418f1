package process

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"
)

const textPageSize = 4096

// ReadText reads a null terminated string at the flat sum of base and
// offsets. At most maxLength bytes are read. Invalid UTF-8 is replaced with
// U+FFFD, one per bad byte. An unreadable byte before the terminator fails
// the whole call with ErrReadFailed.
func ReadText(ctx context.Context, mem Memory, base ProcessMemoryAddress, offsets Offsets, maxLength ProcessMemorySize) (string, error) {
	addr := ResolveFlat(base, offsets)

	raw, err := readNTS(ctx, mem, addr, maxLength)
	if err != nil {
		return "", err
	}
	return decodeLossy(raw), nil
}

// readNTS reads page sized chunks. A chunk that fails is retried byte by byte
// so a terminator before the unreadable byte still ends the string.
func readNTS(ctx context.Context, mem Memory, addr ProcessMemoryAddress, maxLength ProcessMemorySize) ([]byte, error) {
	out := make([]byte, 0, min(uint(maxLength), 256))

	for uint(len(out)) < uint(maxLength) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur := addr.Add(uint64(len(out)))
		n := textPageSize - uint64(cur)%textPageSize
		if remaining := uint64(maxLength) - uint64(len(out)); n > remaining {
			n = remaining
		}

		chunk, err := mem.ReadMemory(cur, ProcessMemorySize(n))
		if err != nil || uint64(len(chunk)) != n {
			chunk, err = readBytewise(mem, cur, n)
			if err != nil {
				return nil, err
			}
		}

		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return append(out, chunk[:i]...), nil
		}
		out = append(out, chunk...)
	}

	return out, nil
}

// readBytewise stops after a zero byte.
func readBytewise(mem Memory, addr ProcessMemoryAddress, n uint64) ([]byte, error) {
	out := make([]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := mem.ReadMemory(addr.Add(i), 1)
		if err == nil && len(b) != 1 {
			err = ErrAddressNotMapped
		}
		if err != nil {
			return nil, &AccessError{Op: "read", Address: addr.Add(i), Size: 1, Err: err}
		}
		out = append(out, b[0])
		if b[0] == 0 {
			break
		}
	}
	return out, nil
}

func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

package data

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Metadata file format versions. Version 1 stored object keys as absolute
// remote keys, version 2 switched to root-relative keys and version 3
// appended the read-only flag. The encoder always emits the newest layout;
// the decoder accepts the full range.
const (
	VersionAbsoluteKeys = 1
	VersionRelativeKeys = 2
	VersionReadOnlyFlag = 3
)

// DecodeMetadata parses a serialized metadata record. The remoteRoot is the
// disk's configured remote prefix, required to relativize keys from version 1
// files. Every structural defect, including an unsupported version tag or a
// version 1 key outside remoteRoot, is reported as ErrFormat.
func DecodeMetadata(raw []byte, remoteRoot string) (*Metadata, error) {
	d := &decoder{rest: raw}

	version, err := d.uintField('\n')
	if err != nil {
		return nil, err
	}
	if version < VersionAbsoluteKeys || version > VersionReadOnlyFlag {
		return nil, fmt.Errorf("%w: unsupported version %d, maximum expected %d",
			ErrFormat, version, VersionReadOnlyFlag)
	}

	count, err := d.uintField('\t')
	if err != nil {
		return nil, err
	}

	meta := NewMetadata(remoteRoot)
	if meta.TotalSize, err = d.uintField('\n'); err != nil {
		return nil, err
	}

	meta.Objects = make([]RemoteObject, 0, count)
	for i := uint64(0); i < count; i++ {
		size, err := d.uintField('\t')
		if err != nil {
			return nil, err
		}

		key, err := d.stringField('\n')
		if err != nil {
			return nil, err
		}

		if version == VersionAbsoluteKeys {
			if !strings.HasPrefix(key, remoteRoot) {
				return nil, fmt.Errorf("%w: object key %q does not match remote root %q",
					ErrFormat, key, remoteRoot)
			}
			key = key[len(remoteRoot):]
		}

		meta.Objects = append(meta.Objects, RemoteObject{Key: key, Size: size})
	}

	refs, err := d.uintField('\n')
	if err != nil {
		return nil, err
	}
	if refs > math.MaxUint32 {
		return nil, fmt.Errorf("%w: reference count %d does not fit in 32 bits", ErrFormat, refs)
	}
	meta.RefCount = uint32(refs)

	if version >= VersionReadOnlyFlag {
		flag, err := d.uintField('\n')
		if err != nil {
			return nil, err
		}
		meta.ReadOnly = flag != 0
	}

	return meta, nil
}

// EncodeMetadata serializes a record in the newest layout, regardless of the
// version it was loaded from.
func EncodeMetadata(meta *Metadata) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%d\n", VersionReadOnlyFlag)
	fmt.Fprintf(&buf, "%d\t%d\n", len(meta.Objects), meta.TotalSize)

	for _, obj := range meta.Objects {
		fmt.Fprintf(&buf, "%d\t%s\n", obj.Size, escapeKey(obj.Key))
	}

	fmt.Fprintf(&buf, "%d\n", meta.RefCount)

	if meta.ReadOnly {
		buf.WriteString("1\n")
	} else {
		buf.WriteString("0\n")
	}

	return buf.Bytes()
}

type decoder struct {
	rest []byte
}

// uintField reads an unsigned decimal up to the separator and consumes both.
func (d *decoder) uintField(sep byte) (uint64, error) {
	idx := bytes.IndexByte(d.rest, sep)
	if idx < 0 {
		return 0, fmt.Errorf("%w: missing %q separator", ErrFormat, string(sep))
	}

	value, err := strconv.ParseUint(string(d.rest[:idx]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected unsigned integer before %q", ErrFormat, string(sep))
	}

	d.rest = d.rest[idx+1:]
	return value, nil
}

// stringField reads an escaped string up to the separator and consumes both.
func (d *decoder) stringField(sep byte) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(d.rest); i++ {
		c := d.rest[i]
		switch c {
		case sep:
			d.rest = d.rest[i+1:]
			return sb.String(), nil
		case '\\':
			if i+1 >= len(d.rest) {
				return "", fmt.Errorf("%w: truncated escape sequence", ErrFormat)
			}
			i++
			sb.WriteByte(unescapeByte(d.rest[i]))
		case '\t', '\n':
			return "", fmt.Errorf("%w: unescaped control character in string", ErrFormat)
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("%w: missing %q separator", ErrFormat, string(sep))
}

// escapeKey protects the field separators of the line-oriented layout.
func escapeKey(key string) string {
	var sb strings.Builder
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '\\':
			sb.WriteString(`\\`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case 0:
			sb.WriteString(`\0`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func unescapeByte(c byte) byte {
	switch c {
	case 't':
		return '\t'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	case '0':
		return 0
	default:
		return c
	}
}

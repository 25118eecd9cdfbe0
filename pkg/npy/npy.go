// Package npy reads and writes one-dimensional NumPy .npy arrays, the
// on-disk format of the graph cache. Reads are memory-mapped so the
// write-once cache shares pages across worker processes.
package npy

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

var magic = []byte("\x93NUMPY")

// DType identifies a supported array element type.
type DType string

const (
	Int64   DType = "<i8"
	Int32   DType = "<i4"
	Uint16  DType = "<u2"
	Uint64  DType = "<u8"
	Float32 DType = "<f4"
)

func (d DType) size() int {
	switch d {
	case Int64, Uint64:
		return 8
	case Int32, Float32:
		return 4
	case Uint16:
		return 2
	}
	return 0
}

// header renders the python dict literal for a 1-D array, padded so the
// data section starts on a 64-byte boundary (format version 1.0).
func header(dtype DType, n int) []byte {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d,), }", dtype, n)
	// total = 6 magic + 2 version + 2 hlen + len(dict) + padding + '\n'
	base := len(magic) + 2 + 2
	total := base + len(dict) + 1
	pad := (64 - total%64) % 64

	buf := make([]byte, 0, base+len(dict)+pad+1)
	buf = append(buf, magic...)
	buf = append(buf, 1, 0)
	hlen := uint16(len(dict) + pad + 1)
	buf = binary.LittleEndian.AppendUint16(buf, hlen)
	buf = append(buf, dict...)
	for range pad {
		buf = append(buf, ' ')
	}
	buf = append(buf, '\n')
	return buf
}

func write(path string, dtype DType, data []byte, n int) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	if _, err := f.Write(header(dtype, n)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("write data: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return os.Rename(tmp, path)
}

func sliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(t)))
}

// WriteInt64 writes a []int64 as <i8. The write is atomic (.tmp + rename).
func WriteInt64(path string, s []int64) error { return write(path, Int64, sliceBytes(s), len(s)) }

// WriteInt32 writes a []int32 as <i4.
func WriteInt32(path string, s []int32) error { return write(path, Int32, sliceBytes(s), len(s)) }

// WriteUint16 writes a []uint16 as <u2.
func WriteUint16(path string, s []uint16) error { return write(path, Uint16, sliceBytes(s), len(s)) }

// WriteUint64 writes a []uint64 as <u8.
func WriteUint64(path string, s []uint64) error { return write(path, Uint64, sliceBytes(s), len(s)) }

// WriteFloat32 writes a []float32 as <f4.
func WriteFloat32(path string, s []float32) error { return write(path, Float32, sliceBytes(s), len(s)) }

// Array is a memory-mapped .npy file. The typed accessors return views into
// the mapping; they are invalid after Close.
type Array struct {
	m     mmap.MMap
	dtype DType
	n     int
	data  []byte
}

// Open maps the file read-only and validates the header.
func Open(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	a, err := parse(m)
	if err != nil {
		m.Unmap()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func parse(m mmap.MMap) (*Array, error) {
	if len(m) < 10 || string(m[:6]) != string(magic) {
		return nil, fmt.Errorf("not an npy file")
	}
	if m[6] != 1 {
		return nil, fmt.Errorf("unsupported npy version %d.%d", m[6], m[7])
	}
	hlen := int(binary.LittleEndian.Uint16(m[8:10]))
	if len(m) < 10+hlen {
		return nil, fmt.Errorf("truncated header")
	}
	dict := string(m[10 : 10+hlen])

	dtype, err := dictField(dict, "descr")
	if err != nil {
		return nil, err
	}
	if DType(dtype).size() == 0 {
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	if order, err := dictField(dict, "fortran_order"); err != nil || order != "False" {
		return nil, fmt.Errorf("fortran_order arrays not supported")
	}
	shape, err := dictField(dict, "shape")
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(shape), ","))
	if err != nil {
		return nil, fmt.Errorf("non-1D shape %q", shape)
	}

	data := m[10+hlen:]
	if len(data) < n*DType(dtype).size() {
		return nil, fmt.Errorf("data section too small: %d bytes for %d elements", len(data), n)
	}
	return &Array{m: m, dtype: DType(dtype), n: n, data: data}, nil
}

// dictField extracts one value from the header dict literal. The writer only
// ever produces the canonical single-line form, so simple scanning suffices.
func dictField(dict, key string) (string, error) {
	idx := strings.Index(dict, "'"+key+"':")
	if idx < 0 {
		return "", fmt.Errorf("header missing %q", key)
	}
	rest := strings.TrimSpace(dict[idx+len(key)+3:])
	switch {
	case strings.HasPrefix(rest, "'"):
		end := strings.Index(rest[1:], "'")
		if end < 0 {
			return "", fmt.Errorf("unterminated string for %q", key)
		}
		return rest[1 : 1+end], nil
	case strings.HasPrefix(rest, "("):
		end := strings.Index(rest, ")")
		if end < 0 {
			return "", fmt.Errorf("unterminated tuple for %q", key)
		}
		return rest[1:end], nil
	default:
		end := strings.IndexAny(rest, ",}")
		if end < 0 {
			end = len(rest)
		}
		return strings.TrimSpace(rest[:end]), nil
	}
}

// Len returns the element count.
func (a *Array) Len() int { return a.n }

// DType returns the element type.
func (a *Array) DType() DType { return a.dtype }

// Close unmaps the file. Views returned by the accessors become invalid.
func (a *Array) Close() error { return a.m.Unmap() }

func view[T any](a *Array, want DType) ([]T, error) {
	if a.dtype != want {
		return nil, fmt.Errorf("dtype mismatch: have %s, want %s", a.dtype, want)
	}
	if a.n == 0 {
		return nil, nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&a.data[0])), a.n), nil
}

// Int64 returns the mapped data as []int64.
func (a *Array) Int64() ([]int64, error) { return view[int64](a, Int64) }

// Int32 returns the mapped data as []int32.
func (a *Array) Int32() ([]int32, error) { return view[int32](a, Int32) }

// Uint16 returns the mapped data as []uint16.
func (a *Array) Uint16() ([]uint16, error) { return view[uint16](a, Uint16) }

// Uint64 returns the mapped data as []uint64.
func (a *Array) Uint64() ([]uint64, error) { return view[uint64](a, Uint64) }

// Float32 returns the mapped data as []float32.
func (a *Array) Float32() ([]float32, error) { return view[float32](a, Float32) }

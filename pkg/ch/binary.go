package ch

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"unsafe"
)

const (
	magicBytes = "HEXATLAS"
	version    = uint32(1)
	maxNodes   = 100_000_000
	maxEdges   = 1_000_000_000
)

// fileHeader is the binary header of the persisted hierarchy.
type fileHeader struct {
	Magic        [8]byte
	Version      uint32
	NumNodes     uint32
	NumUpEdges   uint64
	NumDownEdges uint64
}

// WriteBinary serializes a CH to a binary file. Uses unsafe.Slice for fast
// zero-copy I/O; the write is atomic (.tmp + rename) with a CRC32 trailer.
func WriteBinary(path string, c *CH) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // clean up on error
	}()

	crcWriter := crc32Writer{w: f, hash: crc32.NewIEEE()}
	w := &crcWriter

	hdr := fileHeader{
		Version:      version,
		NumNodes:     uint32(c.NumNodes),
		NumUpEdges:   uint64(len(c.UpHead)),
		NumDownEdges: uint64(len(c.DownHead)),
	}
	copy(hdr.Magic[:], magicBytes)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	sections := []struct {
		name string
		fn   func() error
	}{
		{"Rank", func() error { return writeInt32Slice(w, c.Rank) }},
		{"UpFirstOut", func() error { return writeInt64Slice(w, c.UpFirstOut) }},
		{"UpHead", func() error { return writeInt32Slice(w, c.UpHead) }},
		{"UpWeight", func() error { return writeUint32Slice(w, c.UpWeight) }},
		{"UpMiddle", func() error { return writeInt32Slice(w, c.UpMiddle) }},
		{"DownFirstOut", func() error { return writeInt64Slice(w, c.DownFirstOut) }},
		{"DownHead", func() error { return writeInt32Slice(w, c.DownHead) }},
		{"DownWeight", func() error { return writeUint32Slice(w, c.DownWeight) }},
		{"DownMiddle", func() error { return writeInt32Slice(w, c.DownMiddle) }},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("write %s: %w", s.name, err)
		}
	}

	// CRC32 trailer.
	checksum := crcWriter.hash.Sum32()
	if err := binary.Write(f, binary.LittleEndian, checksum); err != nil {
		return fmt.Errorf("write CRC32: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// ReadBinary deserializes a CH from a binary file, validating magic,
// version, bounds, CSR invariants, and the CRC32 trailer.
func ReadBinary(path string) (*CH, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	crcReader := crc32Reader{r: f, hash: crc32.NewIEEE()}
	r := &crcReader

	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if string(hdr.Magic[:]) != magicBytes {
		return nil, fmt.Errorf("invalid magic bytes: %q", hdr.Magic)
	}
	if hdr.Version != version {
		return nil, fmt.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.NumNodes > maxNodes {
		return nil, fmt.Errorf("NumNodes %d exceeds limit %d", hdr.NumNodes, maxNodes)
	}
	if hdr.NumUpEdges > maxEdges || hdr.NumDownEdges > maxEdges {
		return nil, fmt.Errorf("edge count exceeds limit %d", maxEdges)
	}

	n := int(hdr.NumNodes)
	up := int(hdr.NumUpEdges)
	down := int(hdr.NumDownEdges)
	c := &CH{NumNodes: int32(n)}

	if c.Rank, err = readInt32Slice(r, n); err != nil {
		return nil, fmt.Errorf("read Rank: %w", err)
	}
	if c.UpFirstOut, err = readInt64Slice(r, n+1); err != nil {
		return nil, fmt.Errorf("read UpFirstOut: %w", err)
	}
	if c.UpHead, err = readInt32Slice(r, up); err != nil {
		return nil, fmt.Errorf("read UpHead: %w", err)
	}
	if c.UpWeight, err = readUint32Slice(r, up); err != nil {
		return nil, fmt.Errorf("read UpWeight: %w", err)
	}
	if c.UpMiddle, err = readInt32Slice(r, up); err != nil {
		return nil, fmt.Errorf("read UpMiddle: %w", err)
	}
	if c.DownFirstOut, err = readInt64Slice(r, n+1); err != nil {
		return nil, fmt.Errorf("read DownFirstOut: %w", err)
	}
	if c.DownHead, err = readInt32Slice(r, down); err != nil {
		return nil, fmt.Errorf("read DownHead: %w", err)
	}
	if c.DownWeight, err = readUint32Slice(r, down); err != nil {
		return nil, fmt.Errorf("read DownWeight: %w", err)
	}
	if c.DownMiddle, err = readInt32Slice(r, down); err != nil {
		return nil, fmt.Errorf("read DownMiddle: %w", err)
	}

	expectedCRC := crcReader.hash.Sum32()
	var storedCRC uint32
	if err := binary.Read(f, binary.LittleEndian, &storedCRC); err != nil {
		return nil, fmt.Errorf("read CRC32: %w", err)
	}
	if storedCRC != expectedCRC {
		return nil, fmt.Errorf("CRC32 mismatch: stored=%08x computed=%08x", storedCRC, expectedCRC)
	}

	if err := validateCSR(c.UpFirstOut, c.UpHead, int32(n)); err != nil {
		return nil, fmt.Errorf("upward CSR invalid: %w", err)
	}
	if err := validateCSR(c.DownFirstOut, c.DownHead, int32(n)); err != nil {
		return nil, fmt.Errorf("downward CSR invalid: %w", err)
	}

	return c, nil
}

// validateCSR checks CSR invariants.
func validateCSR(firstOut []int64, head []int32, numNodes int32) error {
	if len(firstOut) != int(numNodes)+1 {
		return fmt.Errorf("FirstOut length %d != NumNodes+1 %d", len(firstOut), numNodes+1)
	}
	numEdges := firstOut[numNodes]
	if int64(len(head)) != numEdges {
		return fmt.Errorf("Head length %d != FirstOut[NumNodes] %d", len(head), numEdges)
	}
	for i := int32(1); i <= numNodes; i++ {
		if firstOut[i] < firstOut[i-1] {
			return fmt.Errorf("FirstOut not monotonic at %d: %d < %d", i, firstOut[i], firstOut[i-1])
		}
	}
	for i, h := range head {
		if h < 0 || h >= numNodes {
			return fmt.Errorf("Head[%d]=%d out of range [0,%d)", i, h, numNodes)
		}
	}
	return nil
}

// Zero-copy I/O helpers using unsafe.Slice.

func writeUint32Slice(w io.Writer, s []uint32) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
	_, err := w.Write(b)
	return err
}

func writeInt32Slice(w io.Writer, s []int32) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
	_, err := w.Write(b)
	return err
}

func writeInt64Slice(w io.Writer, s []int64) error {
	if len(s) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
	_, err := w.Write(b)
	return err
}

func readUint32Slice(r io.Reader, n int) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]uint32, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*4)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

func readInt32Slice(r io.Reader, n int) ([]int32, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]int32, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*4)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

func readInt64Slice(r io.Reader, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	s := make([]int64, n)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), n*8)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return s, nil
}

// CRC32 wrapping writers/readers.

type crc32Writer struct {
	w    io.Writer
	hash crc32Hash
}

type crc32Hash interface {
	Write([]byte) (int, error)
	Sum32() uint32
}

func (cw *crc32Writer) Write(p []byte) (int, error) {
	cw.hash.Write(p)
	return cw.w.Write(p)
}

type crc32Reader struct {
	r    io.Reader
	hash crc32Hash
}

func (cr *crc32Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.hash.Write(p[:n])
	}
	return n, err
}

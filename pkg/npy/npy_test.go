package npy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTripInt64(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.npy")
	want := []int64{-3, 0, 7, 1 << 40}
	if err := WriteInt64(path, want); err != nil {
		t.Fatal(err)
	}

	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.DType() != Int64 || a.Len() != len(want) {
		t.Fatalf("header: dtype=%s len=%d", a.DType(), a.Len())
	}
	got, err := a.Int64()
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("elem %d: %d != %d", i, got[i], want[i])
		}
	}
}

func TestRoundTripAllDtypes(t *testing.T) {
	dir := t.TempDir()

	u16 := []uint16{0, 1, 65534, 65535}
	if err := WriteUint16(filepath.Join(dir, "u2.npy"), u16); err != nil {
		t.Fatal(err)
	}
	a, err := Open(filepath.Join(dir, "u2.npy"))
	if err != nil {
		t.Fatal(err)
	}
	got16, err := a.Uint16()
	if err != nil {
		t.Fatal(err)
	}
	if got16[3] != 65535 {
		t.Errorf("u16 sentinel lost: %d", got16[3])
	}
	a.Close()

	f32 := []float32{-71.06, 42.36}
	if err := WriteFloat32(filepath.Join(dir, "f4.npy"), f32); err != nil {
		t.Fatal(err)
	}
	a, err = Open(filepath.Join(dir, "f4.npy"))
	if err != nil {
		t.Fatal(err)
	}
	gotf, err := a.Float32()
	if err != nil {
		t.Fatal(err)
	}
	if gotf[0] != f32[0] || gotf[1] != f32[1] {
		t.Errorf("f32 mismatch: %v", gotf)
	}
	a.Close()

	u64 := []uint64{0x8844c0ffffffffff}
	if err := WriteUint64(filepath.Join(dir, "u8.npy"), u64); err != nil {
		t.Fatal(err)
	}
	a, err = Open(filepath.Join(dir, "u8.npy"))
	if err != nil {
		t.Fatal(err)
	}
	gotu, err := a.Uint64()
	if err != nil {
		t.Fatal(err)
	}
	if gotu[0] != u64[0] {
		t.Errorf("u64 mismatch: %x", gotu[0])
	}
	a.Close()
}

func TestDtypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.npy")
	if err := WriteInt32(path, []int32{1}); err != nil {
		t.Fatal(err)
	}
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, err := a.Int64(); err == nil {
		t.Error("expected dtype mismatch error")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.npy")
	if err := os.WriteFile(path, []byte("not an npy file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected header rejection")
	}
}

func TestEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.npy")
	if err := WriteInt32(path, nil); err != nil {
		t.Fatal(err)
	}
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.Len() != 0 {
		t.Errorf("len = %d, want 0", a.Len())
	}
}

func TestDataAlignment(t *testing.T) {
	// Header must pad the data section to a 64-byte boundary so mmap views
	// are aligned for the widest element type.
	h := header(Int64, 12345)
	if len(h)%64 != 0 {
		t.Errorf("header length %d not 64-byte aligned", len(h))
	}
}

func TestWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.npy")
	if err := WriteInt32(path, []int32{1, 2}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "a.npy" {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

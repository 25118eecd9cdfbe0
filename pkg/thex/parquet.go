package thex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"hexatlas/pkg/anchors"
	"hexatlas/pkg/graph"
	"hexatlas/pkg/qa"
)

// LongRow is the serving-agnostic long form: one row per (hex, res, anchor).
type LongRow struct {
	H3ID        uint64 `parquet:"h3_id"`
	Res         int32  `parquet:"res"`
	AnchorIntID int32  `parquet:"anchor_int_id"`
	TimeS       uint16 `parquet:"time_s"`
	Mode        string `parquet:"mode"`
	SnapshotTS  string `parquet:"snapshot_ts"`
}

// WideRow is the tile-serving form: fixed 20 slots per hex, sentinel-padded.
type WideRow struct {
	H3ID uint64 `parquet:"h3_id"`
	Res  int32  `parquet:"res"`
	K    uint8  `parquet:"k"`
	Prov uint8  `parquet:"prov"`

	A0ID  int32 `parquet:"a0_id"`
	A1ID  int32 `parquet:"a1_id"`
	A2ID  int32 `parquet:"a2_id"`
	A3ID  int32 `parquet:"a3_id"`
	A4ID  int32 `parquet:"a4_id"`
	A5ID  int32 `parquet:"a5_id"`
	A6ID  int32 `parquet:"a6_id"`
	A7ID  int32 `parquet:"a7_id"`
	A8ID  int32 `parquet:"a8_id"`
	A9ID  int32 `parquet:"a9_id"`
	A10ID int32 `parquet:"a10_id"`
	A11ID int32 `parquet:"a11_id"`
	A12ID int32 `parquet:"a12_id"`
	A13ID int32 `parquet:"a13_id"`
	A14ID int32 `parquet:"a14_id"`
	A15ID int32 `parquet:"a15_id"`
	A16ID int32 `parquet:"a16_id"`
	A17ID int32 `parquet:"a17_id"`
	A18ID int32 `parquet:"a18_id"`
	A19ID int32 `parquet:"a19_id"`

	A0S  uint16 `parquet:"a0_s"`
	A1S  uint16 `parquet:"a1_s"`
	A2S  uint16 `parquet:"a2_s"`
	A3S  uint16 `parquet:"a3_s"`
	A4S  uint16 `parquet:"a4_s"`
	A5S  uint16 `parquet:"a5_s"`
	A6S  uint16 `parquet:"a6_s"`
	A7S  uint16 `parquet:"a7_s"`
	A8S  uint16 `parquet:"a8_s"`
	A9S  uint16 `parquet:"a9_s"`
	A10S uint16 `parquet:"a10_s"`
	A11S uint16 `parquet:"a11_s"`
	A12S uint16 `parquet:"a12_s"`
	A13S uint16 `parquet:"a13_s"`
	A14S uint16 `parquet:"a14_s"`
	A15S uint16 `parquet:"a15_s"`
	A16S uint16 `parquet:"a16_s"`
	A17S uint16 `parquet:"a17_s"`
	A18S uint16 `parquet:"a18_s"`
	A19S uint16 `parquet:"a19_s"`

	A0Flags  uint8 `parquet:"a0_flags"`
	A1Flags  uint8 `parquet:"a1_flags"`
	A2Flags  uint8 `parquet:"a2_flags"`
	A3Flags  uint8 `parquet:"a3_flags"`
	A4Flags  uint8 `parquet:"a4_flags"`
	A5Flags  uint8 `parquet:"a5_flags"`
	A6Flags  uint8 `parquet:"a6_flags"`
	A7Flags  uint8 `parquet:"a7_flags"`
	A8Flags  uint8 `parquet:"a8_flags"`
	A9Flags  uint8 `parquet:"a9_flags"`
	A10Flags uint8 `parquet:"a10_flags"`
	A11Flags uint8 `parquet:"a11_flags"`
	A12Flags uint8 `parquet:"a12_flags"`
	A13Flags uint8 `parquet:"a13_flags"`
	A14Flags uint8 `parquet:"a14_flags"`
	A15Flags uint8 `parquet:"a15_flags"`
	A16Flags uint8 `parquet:"a16_flags"`
	A17Flags uint8 `parquet:"a17_flags"`
	A18Flags uint8 `parquet:"a18_flags"`
	A19Flags uint8 `parquet:"a19_flags"`

	Mode       string `parquet:"mode"`
	SnapshotTS string `parquet:"snapshot_ts"`
}

func (w *WideRow) slotPtrs() ([MaxSlots]*int32, [MaxSlots]*uint16, [MaxSlots]*uint8) {
	ids := [MaxSlots]*int32{
		&w.A0ID, &w.A1ID, &w.A2ID, &w.A3ID, &w.A4ID, &w.A5ID, &w.A6ID, &w.A7ID, &w.A8ID, &w.A9ID,
		&w.A10ID, &w.A11ID, &w.A12ID, &w.A13ID, &w.A14ID, &w.A15ID, &w.A16ID, &w.A17ID, &w.A18ID, &w.A19ID,
	}
	secs := [MaxSlots]*uint16{
		&w.A0S, &w.A1S, &w.A2S, &w.A3S, &w.A4S, &w.A5S, &w.A6S, &w.A7S, &w.A8S, &w.A9S,
		&w.A10S, &w.A11S, &w.A12S, &w.A13S, &w.A14S, &w.A15S, &w.A16S, &w.A17S, &w.A18S, &w.A19S,
	}
	flags := [MaxSlots]*uint8{
		&w.A0Flags, &w.A1Flags, &w.A2Flags, &w.A3Flags, &w.A4Flags, &w.A5Flags, &w.A6Flags, &w.A7Flags, &w.A8Flags, &w.A9Flags,
		&w.A10Flags, &w.A11Flags, &w.A12Flags, &w.A13Flags, &w.A14Flags, &w.A15Flags, &w.A16Flags, &w.A17Flags, &w.A18Flags, &w.A19Flags,
	}
	return ids, secs, flags
}

// Wide converts a HexRow to the fixed-slot serving form. Unoccupied slots
// carry (-1, Unreach, 0).
func (r HexRow) Wide(mode, snapshotTS string) WideRow {
	w := WideRow{
		H3ID:       r.H3,
		Res:        int32(r.Res),
		K:          uint8(len(r.Slots)),
		Prov:       r.Prov(),
		Mode:       mode,
		SnapshotTS: snapshotTS,
	}
	ids, secs, flags := w.slotPtrs()
	for i := range MaxSlots {
		*ids[i] = -1
		*secs[i] = graph.Unreach
	}
	for i, s := range r.Slots {
		if i >= MaxSlots {
			break
		}
		*ids[i] = s.AnchorID
		*secs[i] = s.Seconds
		if s.Borrowed {
			*flags[i] = 1
		}
	}
	return w
}

// Slot returns wide slot i as (id, seconds, flags).
func (w *WideRow) Slot(i int) (int32, uint16, uint8) {
	ids, secs, flags := w.slotPtrs()
	return *ids[i], *secs[i], *flags[i]
}

// Long flattens a HexRow into long-form rows (occupied slots only).
func (r HexRow) Long(mode, snapshotTS string) []LongRow {
	out := make([]LongRow, 0, len(r.Slots))
	for _, s := range r.Slots {
		out = append(out, LongRow{
			H3ID:        r.H3,
			Res:         int32(r.Res),
			AnchorIntID: s.AnchorID,
			TimeS:       s.Seconds,
			Mode:        mode,
			SnapshotTS:  snapshotTS,
		})
	}
	return out
}

// AnchorIndexRow is the sidecar mapping anchor_int_id → stable site id.
type AnchorIndexRow struct {
	AnchorIntID int32  `parquet:"anchor_int_id"`
	StableID    string `parquet:"stable_id"`
}

// WriteLong persists long-form rows atomically.
func WriteLong(path string, rows []LongRow) error { return writeParquet(path, rows) }

// WriteWide persists wide-form rows atomically.
func WriteWide(path string, rows []WideRow) error { return writeParquet(path, rows) }

// ReadWide loads wide-form rows.
func ReadWide(path string) ([]WideRow, error) {
	rows, err := parquet.ReadFile[WideRow](path)
	if err != nil {
		return nil, fmt.Errorf("read t_hex %s: %w", path, err)
	}
	return rows, nil
}

// ReadLong loads long-form rows.
func ReadLong(path string) ([]LongRow, error) {
	rows, err := parquet.ReadFile[LongRow](path)
	if err != nil {
		return nil, fmt.Errorf("read t_hex %s: %w", path, err)
	}
	return rows, nil
}

// WriteAnchorIndex writes the anchor_int_id sidecar next to outPath.
func WriteAnchorIndex(outPath string, sites []anchors.Site) (string, error) {
	rows := make([]AnchorIndexRow, len(sites))
	for i, s := range sites {
		rows[i] = AnchorIndexRow{AnchorIntID: int32(s.AnchorIntID), StableID: s.SiteID}
	}
	ext := filepath.Ext(outPath)
	path := outPath[:len(outPath)-len(ext)] + ".anchor_index" + ext
	return path, writeParquet(path, rows)
}

// Summarize reports the nearest-anchor (slot 0) quality of a row set.
func Summarize(rows []HexRow) qa.Summary {
	secs := make([]uint16, 0, len(rows))
	for _, r := range rows {
		if len(r.Slots) > 0 {
			secs = append(secs, r.Slots[0].Seconds)
		} else {
			secs = append(secs, graph.Unreach)
		}
	}
	return qa.Summarize(secs)
}

func writeParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

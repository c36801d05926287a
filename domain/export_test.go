package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func counter() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("N%d", n)
	}
}

func TestExportImportReplaceKeepsIDs(t *testing.T) {
	src := sampleState()
	data, err := EncodeExport(NewExport(src, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	imported, err := DecodeImport(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	dst := State{Boards: []Board{{ID: "old"}}, ActiveBoardID: "old"}
	dst.ApplyImport(imported, ImportReplace, counter())
	if !Equal(dst, src) {
		t.Fatalf("replace import mismatch: %#v", dst)
	}
}

func TestImportMergeAssignsFreshIDs(t *testing.T) {
	imported := State{Boards: []Board{{
		ID: "b1", Name: "Imported",
		Lists: []List{{ID: "l1", Title: "L", Cards: []Card{card("c1")}}},
	}}}
	dst := State{Boards: []Board{{ID: "b1", Name: "Mine", Lists: []List{}}}}
	dst.ApplyImport(imported, ImportMerge, counter())

	if len(dst.Boards) != 2 {
		t.Fatalf("expected 2 boards, got %d", len(dst.Boards))
	}
	got := dst.Boards[1]
	if got.ID != "N1" || got.Lists[0].ID != "N2" || got.Lists[0].Cards[0].ID != "N3" {
		t.Fatalf("expected fresh ids, got %#v", got)
	}
	if dst.ActiveBoardID != "N1" {
		t.Fatalf("expected last imported board active, got %q", dst.ActiveBoardID)
	}
	if imported.Boards[0].ID != "b1" {
		t.Fatalf("merge mutated the imported state")
	}
}

func TestImportMergeKeepsExistingActive(t *testing.T) {
	imported := State{Boards: []Board{{ID: "x", Lists: []List{}}}}
	dst := State{Boards: []Board{{ID: "a", Lists: []List{}}}, ActiveBoardID: "a"}
	dst.ApplyImport(imported, ImportMerge, counter())
	if dst.ActiveBoardID != "a" {
		t.Fatalf("expected active board a, got %q", dst.ActiveBoardID)
	}
}

func TestDecodeImportRejectsNonExport(t *testing.T) {
	if _, err := DecodeImport([]byte(`{"version":"1.0"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseImportMode(t *testing.T) {
	if m, err := ParseImportMode(""); err != nil || m != ImportReplace {
		t.Fatalf("expected default replace, got %q %v", m, err)
	}
	if _, err := ParseImportMode("append"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExportFilename(t *testing.T) {
	got := ExportFilename(time.Date(2024, 2, 3, 23, 0, 0, 0, time.UTC))
	if got != "jello-boards-export-2024-02-03.json" {
		t.Fatalf("unexpected filename %s", got)
	}
}

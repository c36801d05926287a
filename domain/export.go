package domain

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// ExportVersion is written into every export document.
const ExportVersion = "1.0"

// ImportMode selects how imported boards combine with the current ones.
type ImportMode string

const (
	// ImportReplace swaps the whole board tree, keeping imported ids.
	ImportReplace ImportMode = "replace"
	// ImportMerge appends imported boards under fresh ids.
	ImportMerge ImportMode = "merge"
)

// ParseImportMode accepts "replace" and "merge"; empty means replace.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case "", ImportReplace:
		return ImportReplace, nil
	case ImportMerge:
		return ImportMerge, nil
	default:
		return "", fmt.Errorf("%w: unknown import mode %q", ErrInvalidInput, s)
	}
}

// Export is the document produced by export and backup.
type Export struct {
	Version       string    `json:"version"`
	ExportedAt    time.Time `json:"exportedAt"`
	Boards        []Board   `json:"boards"`
	ActiveBoardID string    `json:"activeBoardId"`
}

// NewExport captures s at the given time.
func NewExport(s State, at time.Time) Export {
	c := s.Clone()
	return Export{
		Version:       ExportVersion,
		ExportedAt:    at.UTC(),
		Boards:        c.Boards,
		ActiveBoardID: c.ActiveBoardID,
	}
}

// EncodeExport renders an export as indented JSON.
func EncodeExport(e Export) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(e, "", "  ")
}

// ExportFilename names the download for an export made at t.
func ExportFilename(t time.Time) string {
	return "jello-boards-export-" + t.UTC().Format("2006-01-02") + ".json"
}

// DecodeImport parses an export document. Only the boards array is
// required; version and exportedAt are informational.
func DecodeImport(data []byte) (State, error) {
	s, err := DecodeState(data)
	if err != nil {
		return State{}, fmt.Errorf("%w: not a valid export", err)
	}
	return s, nil
}

// ApplyImport combines imported into s. Replace takes imported verbatim.
// Merge assigns fresh ids from newID to every imported board, list and
// card, appends the boards and, when no board is active, activates the
// last board.
func (s *State) ApplyImport(imported State, mode ImportMode, newID func() string) {
	imported = imported.Clone()
	if mode == ImportReplace {
		s.Boards = imported.Boards
		s.ActiveBoardID = imported.ActiveBoardID
		s.repairActive()
		return
	}
	for _, b := range imported.Boards {
		b.ID = newID()
		for li := range b.Lists {
			b.Lists[li].ID = newID()
			for ci := range b.Lists[li].Cards {
				b.Lists[li].Cards[ci].ID = newID()
			}
		}
		s.Boards = append(s.Boards, b)
	}
	if s.ActiveBoardID == "" && len(imported.Boards) > 0 {
		s.ActiveBoardID = s.Boards[len(s.Boards)-1].ID
	}
}

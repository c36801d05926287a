package domain

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// TranscriptTask is one task extracted from a meeting transcript.
type TranscriptTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ParseTranscriptTasks decodes a task extraction response: a JSON array of
// tasks, optionally wrapped in a markdown code fence. Tasks without a title
// are dropped.
func ParseTranscriptTasks(text string) ([]TranscriptTask, error) {
	body := stripFence(strings.TrimSpace(text))
	var raw []TranscriptTask
	if err := sonic.UnmarshalString(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: transcript response is not a task array: %v", ErrInvalidInput, err)
	}
	tasks := make([]TranscriptTask, 0, len(raw))
	for _, t := range raw {
		t.Title = strings.TrimSpace(t.Title)
		if t.Title == "" {
			continue
		}
		t.Description = strings.TrimSpace(t.Description)
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// AddTranscriptCards appends one p2 card per task to the first list of the
// active board and returns the created cards.
func (s *State) AddTranscriptCards(tasks []TranscriptTask, newID func() string) ([]Card, error) {
	b := s.ActiveBoard()
	if b == nil {
		return nil, fmt.Errorf("%w: no active board", ErrInvalidInput)
	}
	if len(b.Lists) == 0 {
		return nil, fmt.Errorf("%w: board %s has no lists", ErrInvalidInput, b.ID)
	}
	first := &b.Lists[0]
	created := make([]Card, 0, len(tasks))
	for _, t := range tasks {
		c := Card{
			ID:          newID(),
			Title:       t.Title,
			Description: t.Description,
			Priority:    DefaultPriority,
			Tags:        []string{},
		}
		first.Cards = append(first.Cards, c)
		created = append(created, c)
	}
	return created, nil
}

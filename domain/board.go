package domain

import (
	"sort"
	"strings"
)

// Priority ranks a card from p0 (most urgent) to p4.
type Priority string

const (
	P0 Priority = "p0"
	P1 Priority = "p1"
	P2 Priority = "p2"
	P3 Priority = "p3"
	P4 Priority = "p4"

	DefaultPriority = P2
)

// ParsePriority accepts p0..p4. Empty input yields the default priority.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultPriority, true
	case P0, P1, P2, P3, P4:
		return p, true
	default:
		return "", false
	}
}

// Card is a single item within a list.
type Card struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Tags        []string `json:"tags"`
}

// List is an ordered column of cards. Card order is the display order.
type List struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Cards []Card `json:"cards"`
}

// Board is a named, ordered sequence of lists.
type Board struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Lists []List `json:"lists"`
}

// State is the whole board tree of one account. An empty ActiveBoardID
// means no board is active.
type State struct {
	Boards        []Board `json:"boards"`
	ActiveBoardID string  `json:"activeBoardId"`
}

// NormalizeTags trims tags, strips commas, drops empties and removes
// duplicates while keeping first-seen order. Matching is case-sensitive.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// BoardTags returns the sorted set of tags used by any card on the board.
func BoardTags(b Board) []string {
	set := make(map[string]struct{})
	for _, l := range b.Lists {
		for _, c := range l.Cards {
			for _, t := range c.Tags {
				if t = strings.TrimSpace(t); t != "" {
					set[t] = struct{}{}
				}
			}
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// FilterBoard returns a copy of b that only keeps cards carrying at least
// one of the given tags. An empty filter keeps every card.
func FilterBoard(b Board, tags []string) Board {
	out := cloneBoard(b)
	if len(tags) == 0 {
		return out
	}
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[strings.TrimSpace(t)] = struct{}{}
	}
	for i := range out.Lists {
		kept := out.Lists[i].Cards[:0]
		for _, c := range out.Lists[i].Cards {
			if cardHasAny(c, want) {
				kept = append(kept, c)
			}
		}
		out.Lists[i].Cards = kept
	}
	return out
}

func cardHasAny(c Card, want map[string]struct{}) bool {
	for _, t := range c.Tags {
		if _, ok := want[strings.TrimSpace(t)]; ok {
			return true
		}
	}
	return false
}

package segment

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Segment is the best known hypothesis for one speech chunk.
type Segment struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	IsFinal  bool    `json:"isFinal"`
}

// Outcome describes what Upsert did with an incoming segment.
type Outcome int

const (
	// Appended - no stored segment was near enough, a new one was added.
	Appended Outcome = iota
	// Revised - the nearby stored segment was replaced by the new hypothesis.
	Revised
	// Kept - the nearby stored segment was more complete and stays.
	Kept
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Revised:
		return "revised"
	case Kept:
		return "kept"
	default:
		return "unknown"
	}
}

// Store holds the segments of one open utterance, ordered by start offset.
// It is not safe for concurrent use; the owning engine serializes access.
type Store struct {
	segments []Segment
}

// NewStore creates a store seeded with the utterance's first segment.
func NewStore(first Segment) *Store {
	return &Store{segments: []Segment{first}}
}

// Upsert merges seg into the store. A stored segment whose start lies
// strictly within window seconds of seg.Start is treated as an earlier
// hypothesis of the same chunk: it is replaced when seg is final or its text
// is at least as long, and kept otherwise. The start offset of a revised
// segment does not move.
func (s *Store) Upsert(seg Segment, window float64) Outcome {
	idx := s.nearest(seg.Start, window)
	if idx < 0 {
		s.segments = append(s.segments, seg)
		sort.SliceStable(s.segments, func(i, j int) bool {
			return s.segments[i].Start < s.segments[j].Start
		})
		return Appended
	}

	cur := &s.segments[idx]
	if !seg.IsFinal && utf8.RuneCountInString(seg.Text) < utf8.RuneCountInString(cur.Text) {
		return Kept
	}
	cur.Duration = seg.Duration
	cur.Text = seg.Text
	cur.IsFinal = seg.IsFinal
	return Revised
}

// nearest returns the index of the closest segment within the window, or -1.
func (s *Store) nearest(start, window float64) int {
	best := -1
	bestDist := window
	for i, cur := range s.segments {
		d := math.Abs(cur.Start - start)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Text joins segment texts in start order.
func (s *Store) Text() string {
	parts := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Segments returns a copy of the stored segments.
func (s *Store) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Len returns the number of stored segments.
func (s *Store) Len() int {
	return len(s.segments)
}

// Clear drops all segments.
func (s *Store) Clear() {
	s.segments = nil
}

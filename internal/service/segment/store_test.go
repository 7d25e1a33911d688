package segment

import "testing"

const window = 0.5

func TestStore_AppendsDistantSegments(t *testing.T) {
	s := NewStore(Segment{Start: 0, Text: "Tell me"})

	if got := s.Upsert(Segment{Start: 1.2, Text: "about yourself"}, window); got != Appended {
		t.Fatalf("expected Appended, got %v", got)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 segments, got %d", s.Len())
	}
	if got := s.Text(); got != "Tell me about yourself" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestStore_Upsert(t *testing.T) {
	tests := []struct {
		name     string
		stored   Segment
		incoming Segment
		outcome  Outcome
		text     string
		final    bool
	}{
		{
			name:     "longer interim revises",
			stored:   Segment{Start: 2, Text: "I am"},
			incoming: Segment{Start: 2.1, Text: "I am a developer"},
			outcome:  Revised,
			text:     "I am a developer",
		},
		{
			name:     "equal length interim revises",
			stored:   Segment{Start: 2, Text: "I am"},
			incoming: Segment{Start: 2, Text: "I'm a"},
			outcome:  Revised,
			text:     "I'm a",
		},
		{
			name:     "shorter interim is kept out",
			stored:   Segment{Start: 2, Text: "I am a developer"},
			incoming: Segment{Start: 2.2, Text: "I am"},
			outcome:  Kept,
			text:     "I am a developer",
		},
		{
			name:     "shorter final wins",
			stored:   Segment{Start: 2, Text: "I am a developer uh"},
			incoming: Segment{Start: 2.05, Text: "I am a developer", IsFinal: true},
			outcome:  Revised,
			text:     "I am a developer",
			final:    true,
		},
		{
			name:     "window is exclusive",
			stored:   Segment{Start: 2, Text: "first"},
			incoming: Segment{Start: 2.5, Text: "second"},
			outcome:  Appended,
			text:     "first second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(tt.stored)
			if got := s.Upsert(tt.incoming, window); got != tt.outcome {
				t.Fatalf("expected %v, got %v", tt.outcome, got)
			}
			if got := s.Text(); got != tt.text {
				t.Errorf("expected text %q, got %q", tt.text, got)
			}
			if tt.outcome == Revised {
				seg := s.Segments()[0]
				if seg.Start != tt.stored.Start {
					t.Errorf("revised segment moved from %v to %v", tt.stored.Start, seg.Start)
				}
				if seg.IsFinal != tt.final {
					t.Errorf("expected IsFinal=%v, got %v", tt.final, seg.IsFinal)
				}
			}
		})
	}
}

func TestStore_SortsByStart(t *testing.T) {
	s := NewStore(Segment{Start: 3, Text: "three"})
	s.Upsert(Segment{Start: 1, Text: "one"}, window)
	s.Upsert(Segment{Start: 2, Text: "two"}, window)

	if got := s.Text(); got != "one two three" {
		t.Errorf("expected start-ordered text, got %q", got)
	}
}

func TestStore_RevisesClosestSegment(t *testing.T) {
	s := NewStore(Segment{Start: 1.0, Text: "a"})
	s.Upsert(Segment{Start: 1.6, Text: "b"}, window)

	s.Upsert(Segment{Start: 1.45, Text: "bee"}, window)

	segs := s.Segments()
	if segs[0].Text != "a" || segs[1].Text != "bee" {
		t.Errorf("expected closest segment revised, got %+v", segs)
	}
}

func TestStore_SegmentsReturnsCopy(t *testing.T) {
	s := NewStore(Segment{Start: 0, Text: "hello"})
	segs := s.Segments()
	segs[0].Text = "mutated"

	if s.Text() != "hello" {
		t.Error("Segments() must not expose internal storage")
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(Segment{Start: 0, Text: "hello"})
	s.Clear()

	if s.Len() != 0 || s.Text() != "" {
		t.Errorf("expected empty store, got %d segments %q", s.Len(), s.Text())
	}
}

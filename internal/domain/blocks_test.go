package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateBlocks_TilesWindow(t *testing.T) {
	start := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		length   time.Duration
		block    time.Duration
		wantLen  int
		wantTail time.Time
	}{
		{"exact multiple", 4 * time.Hour, time.Hour, 4, start.Add(4 * time.Hour)},
		{"drops remainder", 4*time.Hour + 20*time.Minute, 30 * time.Minute, 8, start.Add(4 * time.Hour)},
		{"single block", 45 * time.Minute, 45 * time.Minute, 1, start.Add(45 * time.Minute)},
		{"shorter than block", 20 * time.Minute, 30 * time.Minute, 0, time.Time{}},
		{"odd durations", 100 * time.Minute, 7 * time.Minute, 14, start.Add(98 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := TimeWindow{Start: start, End: start.Add(tt.length)}
			got := GenerateBlocks(w, tt.block)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if want := int(tt.length / tt.block); len(got) != want {
				t.Fatalf("len = %d, want floor(D/B) = %d", len(got), want)
			}
			if len(got) == 0 {
				return
			}
			if !got[0].Start.Equal(start) {
				t.Fatalf("first start = %v, want %v", got[0].Start, start)
			}
			for i, b := range got {
				if b.Duration() != tt.block {
					t.Fatalf("block %d duration = %v, want %v", i, b.Duration(), tt.block)
				}
				if i > 0 && !got[i-1].End.Equal(b.Start) {
					t.Fatalf("blocks %d and %d are not contiguous", i-1, i)
				}
			}
			if tail := got[len(got)-1].End; !tail.Equal(tt.wantTail) {
				t.Fatalf("last end = %v, want %v", tail, tt.wantTail)
			}
		})
	}
}

func TestBlockSequence_IsLazyAndRestartable(t *testing.T) {
	start := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	seq := NewBlockSequence(TimeWindow{Start: start, End: start.Add(3 * time.Hour)}, time.Hour)

	first, ok := seq.Next()
	if !ok || !first.Start.Equal(start) {
		t.Fatalf("first = %v, %v", first, ok)
	}

	copied := seq
	second, _ := seq.Next()
	fromCopy, _ := copied.Next()
	if !second.Equal(fromCopy) {
		t.Fatalf("copies must iterate independently: %v vs %v", second, fromCopy)
	}

	seq.Reset()
	again, _ := seq.Next()
	if !again.Equal(first) {
		t.Fatalf("after Reset = %v, want %v", again, first)
	}
	if seq.Len() != 3 {
		t.Fatalf("Len = %d, want 3", seq.Len())
	}

	var seen int
	EachBlock(TimeWindow{Start: start, End: start.Add(3 * time.Hour)}, time.Hour, func(TimeWindow) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Fatalf("EachBlock visited %d blocks, want 2", seen)
	}
}

func TestBlockSequence_NonPositiveDuration(t *testing.T) {
	start := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	seq := NewBlockSequence(TimeWindow{Start: start, End: start.Add(time.Hour)}, 0)
	if _, ok := seq.Next(); ok {
		t.Fatalf("expected empty sequence")
	}
	if seq.Len() != 0 {
		t.Fatalf("Len = %d, want 0", seq.Len())
	}
}

func TestNewAvailability_OwnsBlocks(t *testing.T) {
	doctorID := uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	start := time.Date(2025, 12, 5, 17, 0, 0, 0, time.UTC)

	av, err := NewAvailability(doctorID, TimeWindow{Start: start, End: start.Add(4 * time.Hour)}, time.Hour)
	if err != nil {
		t.Fatalf("NewAvailability error: %v", err)
	}
	if av.ID == uuid.Nil {
		t.Fatalf("expected availability id")
	}
	if len(av.Blocks) != 4 {
		t.Fatalf("len(blocks) = %d, want 4", len(av.Blocks))
	}
	for i, b := range av.Blocks {
		if b.AvailabilityID != av.ID || b.DoctorID != doctorID {
			t.Fatalf("block %d not linked to availability", i)
		}
		if b.IsBooked {
			t.Fatalf("block %d created booked", i)
		}
		if want := start.Add(time.Duration(i) * time.Hour); !b.StartTime.Equal(want) {
			t.Fatalf("block %d start = %v, want %v", i, b.StartTime, want)
		}
	}
}

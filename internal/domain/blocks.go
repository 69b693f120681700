package domain

import "time"

// BlockSequence lazily tiles a window into contiguous sub-windows of a fixed length.
// The zero remainder at the end of the window is dropped. A BlockSequence is a value:
// copies iterate independently and Reset restarts from the window start.
type BlockSequence struct {
	window   TimeWindow
	duration time.Duration
	next     time.Time
}

func NewBlockSequence(window TimeWindow, d time.Duration) BlockSequence {
	return BlockSequence{window: window, duration: d, next: window.Start}
}

func (s *BlockSequence) Next() (TimeWindow, bool) {
	if s.duration <= 0 {
		return TimeWindow{}, false
	}
	end := s.next.Add(s.duration)
	if end.After(s.window.End) {
		return TimeWindow{}, false
	}
	w := TimeWindow{Start: s.next, End: end}
	s.next = end
	return w, true
}

func (s *BlockSequence) Reset() {
	s.next = s.window.Start
}

// Len is the number of blocks the sequence yields from the start.
func (s BlockSequence) Len() int {
	if s.duration <= 0 {
		return 0
	}
	return int(s.window.Duration() / s.duration)
}

// EachBlock calls fn for every generated block until fn returns false.
func EachBlock(window TimeWindow, d time.Duration, fn func(TimeWindow) bool) {
	seq := NewBlockSequence(window, d)
	for {
		w, ok := seq.Next()
		if !ok || !fn(w) {
			return
		}
	}
}

func GenerateBlocks(window TimeWindow, d time.Duration) []TimeWindow {
	seq := NewBlockSequence(window, d)
	out := make([]TimeWindow, 0, seq.Len())
	for {
		w, ok := seq.Next()
		if !ok {
			return out
		}
		out = append(out, w)
	}
}

package treasury

// RingLog is a bounded append-only log. Once capacity is exceeded the oldest
// entries are evicted; eviction is observable via Evicted and is not an
// error.
type RingLog[T any] struct {
	cap     int
	entries []T
	evicted uint64
}

func NewRingLog[T any](capacity int) *RingLog[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingLog[T]{cap: capacity}
}

func (l *RingLog[T]) Append(v T) {
	l.entries = append(l.entries, v)
	if len(l.entries) > l.cap {
		over := len(l.entries) - l.cap
		l.entries = append(l.entries[:0], l.entries[over:]...)
		l.evicted += uint64(over)
	}
}

// Items returns the retained entries, oldest first. The returned slice is a
// copy.
func (l *RingLog[T]) Items() []T {
	out := make([]T, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *RingLog[T]) Len() int { return len(l.entries) }

// Evicted returns how many entries have been dropped since creation.
func (l *RingLog[T]) Evicted() uint64 { return l.evicted }

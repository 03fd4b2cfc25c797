package sensor

import (
	"context"
	"sync"
)

// Smoother debounces a noisy provider. Each room keeps its last historyLen
// binary readings; the room counts as occupied when at least majority of them
// saw someone, and the smoothed answer only flips after two consecutive votes
// disagree with it.
type Smoother struct {
	inner      Provider
	historyLen int
	majority   int

	mu    sync.Mutex
	rooms map[string]*roomHistory
}

type roomHistory struct {
	samples    []bool
	occupied   bool
	agreeTrue  int
	agreeFalse int
	lastCount  int
}

// NewSmoother wraps inner. A historyLen below 1 disables smoothing and returns
// inner unchanged.
func NewSmoother(inner Provider, historyLen, majority int) Provider {
	if historyLen < 1 {
		return inner
	}
	if majority < 1 || majority > historyLen {
		majority = historyLen/2 + 1
	}
	return &Smoother{
		inner:      inner,
		historyLen: historyLen,
		majority:   majority,
		rooms:      make(map[string]*roomHistory),
	}
}

// PeopleCount reads the inner provider and returns the smoothed count. While
// smoothed-occupied it reports the latest positive raw count.
func (s *Smoother) PeopleCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.inner.PeopleCount(ctx, roomID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rooms[roomID]
	if !ok {
		h = &roomHistory{}
		s.rooms[roomID] = h
	}
	if n > 0 {
		h.lastCount = n
	}

	h.samples = append(h.samples, n > 0)
	if len(h.samples) > s.historyLen {
		h.samples = h.samples[len(h.samples)-s.historyLen:]
	}
	if len(h.samples) < s.historyLen {
		return h.count(), nil
	}

	votes := 0
	for _, v := range h.samples {
		if v {
			votes++
		}
	}
	if votes >= s.majority {
		h.agreeTrue++
		h.agreeFalse = 0
	} else {
		h.agreeFalse++
		h.agreeTrue = 0
	}

	switch {
	case !h.occupied && h.agreeTrue >= 2:
		h.occupied = true
	case h.occupied && h.agreeFalse >= 2:
		h.occupied = false
	}
	return h.count(), nil
}

func (h *roomHistory) count() int {
	if !h.occupied {
		return 0
	}
	return h.lastCount
}

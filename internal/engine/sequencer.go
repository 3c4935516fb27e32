package engine

import (
	"math/rand/v2"
	"sync"

	"github.com/castarr/castarr/internal/models"
)

// Sequencer decides which item a channel plays next. In sequential mode it
// loops the stored order endlessly; in shuffle mode it deals the available
// items as a bag, playing every item once before any repeats. Unavailable
// items are skipped in both modes without being removed from the list.
type Sequencer struct {
	mu      sync.Mutex
	items   []models.ChannelItem
	shuffle bool
	rng     *rand.Rand

	cursor    int   // sequential: next index to try
	bag       []int // shuffle: remaining indices of the current cycle
	lastOrder []int // shuffle: previous cycle's full order
	lastIdx   int   // index of the most recently returned item, -1 if none
}

// NewSequencer creates a sequencer over the given items.
func NewSequencer(items []models.ChannelItem, shuffle bool) *Sequencer {
	return &Sequencer{
		items:   items,
		shuffle: shuffle,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		lastIdx: -1,
	}
}

// WithRand replaces the random source. Intended for tests.
func (s *Sequencer) WithRand(rng *rand.Rand) *Sequencer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rng
	return s
}

// SetItems replaces the item list and restarts traversal.
func (s *Sequencer) SetItems(items []models.ChannelItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.cursor = 0
	s.bag = nil
	s.lastOrder = nil
	s.lastIdx = -1
}

// SetShuffle switches traversal mode. Takes effect on the next Next call.
func (s *Sequencer) SetShuffle(shuffle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuffle != shuffle {
		s.shuffle = shuffle
		s.bag = nil
		s.lastOrder = nil
	}
}

// MarkUnavailable flags the item with the given ID so traversal skips it.
func (s *Sequencer) MarkUnavailable(itemID models.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items[i].Available = false
			return
		}
	}
}

// Next returns a copy of the next playable item. When every item is
// unavailable it returns ErrPlaylistExhausted.
func (s *Sequencer) Next() (models.ChannelItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return models.ChannelItem{}, ErrPlaylistExhausted
	}
	if s.shuffle {
		return s.nextShuffled()
	}
	return s.nextSequential()
}

// nextSequential walks the stored order, wrapping at the end. One full lap
// without a playable item means exhaustion.
func (s *Sequencer) nextSequential() (models.ChannelItem, error) {
	n := len(s.items)
	for tries := 0; tries < n; tries++ {
		idx := s.cursor % n
		s.cursor = (s.cursor + 1) % n
		if s.items[idx].Available {
			s.lastIdx = idx
			return s.items[idx], nil
		}
	}
	return models.ChannelItem{}, ErrPlaylistExhausted
}

// nextShuffled deals from the current bag, refilling it when empty.
func (s *Sequencer) nextShuffled() (models.ChannelItem, error) {
	for attempts := 0; attempts < 2; attempts++ {
		for len(s.bag) > 0 {
			idx := s.bag[0]
			s.bag = s.bag[1:]
			if s.items[idx].Available {
				s.lastIdx = idx
				return s.items[idx], nil
			}
		}
		if err := s.refillBag(); err != nil {
			return models.ChannelItem{}, err
		}
	}
	return models.ChannelItem{}, ErrPlaylistExhausted
}

// refillBag builds a fresh random cycle over the available items. The new
// cycle never starts with the item that just played, and for more than one
// item the order always differs from the previous cycle.
func (s *Sequencer) refillBag() error {
	var avail []int
	for i := range s.items {
		if s.items[i].Available {
			avail = append(avail, i)
		}
	}
	if len(avail) == 0 {
		return ErrPlaylistExhausted
	}

	order := make([]int, len(avail))
	copy(order, avail)

	if len(order) > 1 {
		const maxReshuffles = 8
		for i := 0; i < maxReshuffles; i++ {
			s.rng.Shuffle(len(order), func(a, b int) {
				order[a], order[b] = order[b], order[a]
			})
			if order[0] != s.lastIdx && !equalOrder(order, s.lastOrder) {
				break
			}
		}
		// Rotation as a deterministic fallback if shuffling kept landing on
		// the previous boundary.
		if order[0] == s.lastIdx {
			order = append(order[1:], order[0])
		}
	}

	s.bag = order
	s.lastOrder = append([]int(nil), order...)
	return nil
}

func equalOrder(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

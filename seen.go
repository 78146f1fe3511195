package main

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SeenIDs remembers the ids of S2S SAY messages we processed recently. A
// message arriving again by another path is a duplicate.
//
// Entries expire after a time window, and the oldest are evicted once we hold
// the maximum. Flood traffic older than the window can't still be circulating
// in practice.
type SeenIDs struct {
	ids *expirable.LRU[uint64, struct{}]
}

// NewSeenIDs creates an empty cache.
func NewSeenIDs(max int, window time.Duration) *SeenIDs {
	return &SeenIDs{
		ids: expirable.NewLRU[uint64, struct{}](max, nil, window),
	}
}

func (s *SeenIDs) seen(id uint64) bool {
	_, ok := s.ids.Peek(id)
	return ok
}

// remember records the id as seen now.
func (s *SeenIDs) remember(id uint64) {
	s.ids.Add(id, struct{}{})
}

// Len is the number of ids held. It may include expired ids not yet purged.
func (s *SeenIDs) Len() int {
	return s.ids.Len()
}

package relay

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// seenSet remembers the most recent relay message ids, oldest evicted
// first.
type seenSet struct {
	mu       sync.Mutex
	ids      *linkedhashmap.Map
	capacity int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{ids: linkedhashmap.New(), capacity: capacity}
}

// Add returns false if id was already seen.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.ids.Get(id); found {
		return false
	}
	s.ids.Put(id, struct{}{})
	if s.ids.Size() > s.capacity {
		it := s.ids.Iterator()
		if it.First() {
			s.ids.Remove(it.Key())
		}
	}
	return true
}

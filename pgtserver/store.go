package pgtserver

import (
	"sync"
	"time"
)

// TicketStore is a wrapper around a standard sync.Map that maps
// proxy-granting ticket IOUs to the proxy-granting tickets delivered by the
// CAS server callback, and periodically evicts old entries.
// A grant can issue any number of proxy tickets, so lookups don't consume it
type TicketStore struct {
	internal sync.Map
}

// item is the value type for the internal map
type item struct {
	pgt          string
	creationTime int64
}

// NewTicketStore creates a new instance of TicketStore
// and starts the goroutine that evicts old entries
func NewTicketStore(interval time.Duration, maxTTL int64) *TicketStore {
	s := TicketStore{
		internal: sync.Map{},
	}

	go s.evict(interval, maxTTL)
	return &s
}

// Blocking function that periodically evicts old entries
func (s *TicketStore) evict(interval time.Duration, maxTTL int64) {
	for now := range time.Tick(interval) {
		// Deletes all values that are too old
		s.internal.Range(func(key interface{}, value interface{}) bool {
			if now.Unix()-value.(item).creationTime > maxTTL {
				s.internal.Delete(key)
			}
			return true
		})
	}
}

// Get looks up the proxy-granting ticket for an IOU,
// or returns with false as the second value
func (s *TicketStore) Get(pgtIOU string) (string, bool) {
	result, ok := s.internal.Load(pgtIOU)
	if ok {
		return result.(item).pgt, true
	}

	return "", false
}

// Put stores the proxy-granting ticket delivered for an IOU
func (s *TicketStore) Put(pgtIOU string, pgt string) {
	s.internal.Store(pgtIOU, item{pgt, time.Now().Unix()})
}

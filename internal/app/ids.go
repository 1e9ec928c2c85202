package app

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULIDGenerator returns a goroutine-safe generator of monotonic, time-sortable ULIDs.
func NewULIDGenerator(clock Clock) IDGenerator {
	if clock == nil {
		clock = time.Now
	}
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.New(rand.NewSource(clock().UnixNano())), 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(clock()), entropy).String()
	}
}

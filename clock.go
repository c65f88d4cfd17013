package evfs

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so node code is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// nowMillis returns c.Now() as milliseconds since the Unix epoch, the unit
// CommonAttrs stores its timestamps in.
func nowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// IDGenerator abstracts move-label generation for folder events so tests are
// deterministic; production code uses UUIDGenerator.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDv4 strings, used to correlate the
// removal/addition pair of a cross-folder move into one logical event.
type UUIDGenerator struct{}

// New implements IDGenerator.
func (UUIDGenerator) New() string { return uuid.New().String() }

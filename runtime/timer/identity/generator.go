package identity

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator mints time-ordered UUIDv7 identifiers. The millisecond
// timestamp occupies the high-order bits so lexicographic order
// approximates creation order, a property the store relies on for
// deterministic tie-breaking.
type Generator interface {
	// New returns a fresh UUIDv7 stamped with the current wall clock.
	New() uuid.UUID
	// NewAt returns a fresh UUIDv7 stamped with the given instant.
	NewAt(at time.Time) uuid.UUID
}

// NewGenerator returns the production generator backed by crypto/rand.
func NewGenerator() Generator {
	return randomGenerator{}
}

type randomGenerator struct{}

func (randomGenerator) New() uuid.UUID {
	return v7At(time.Now())
}

func (randomGenerator) NewAt(at time.Time) uuid.UUID {
	return v7At(at)
}

// v7At builds a UUIDv7 whose 48 high bits hold the Unix millisecond
// timestamp of at, with the remaining bits random per RFC 9562.
func v7At(at time.Time) uuid.UUID {
	var b [16]byte
	ms := uint64(at.UnixMilli())
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)
	if _, err := rand.Read(b[6:]); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	b[6] = (b[6] & 0x0f) | 0x70
	b[8] = (b[8] & 0x3f) | 0x80
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		panic(err)
	}
	return u
}

// Sequence is a deterministic Generator for tests. Generated values carry
// the caller-chosen prefix byte followed by a monotonically increasing
// counter, so successive IDs sort in generation order and remain stable
// across runs.
type Sequence struct {
	prefix byte

	mu   sync.Mutex
	next uint64
}

// NewSequence returns a Sequence whose generated IDs start with the given
// prefix byte.
func NewSequence(prefix byte) *Sequence {
	return &Sequence{prefix: prefix}
}

// New returns the next identifier in the sequence.
func (s *Sequence) New() uuid.UUID {
	s.mu.Lock()
	n := s.next
	s.next++
	s.mu.Unlock()

	var b [16]byte
	b[0] = s.prefix
	binary.BigEndian.PutUint64(b[8:], n)
	b[6] = (b[6] & 0x0f) | 0x70
	b[8] = (b[8] & 0x3f) | 0x80
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		panic(err)
	}
	return u
}

// NewAt returns the next identifier in the sequence. The instant is
// ignored; determinism takes precedence over timestamp embedding.
func (s *Sequence) NewAt(time.Time) uuid.UUID {
	return s.New()
}

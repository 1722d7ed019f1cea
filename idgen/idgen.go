// Package idgen allocates 64-bit, time-ordered ids.
//
// Layout, from the most significant bit: 1 unused bit, 41 bits of
// milliseconds since Epoch, 10 bits of node id and 12 bits of sequence.
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// Epoch is 2024-01-01T00:00:00Z in unix milliseconds.
	Epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	MaxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

var (
	ErrInvalidNodeID       = errors.New("idgen: node id out of range")
	ErrClockMovedBackwards = errors.New("idgen: clock moved backwards")
)

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock replaces the millisecond clock.
func WithClock(now func() int64) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

// Allocator hands out strictly increasing ids for one node.
type Allocator struct {
	mu            sync.Mutex
	nodeID        int64
	lastTimestamp int64
	sequence      int64
	now           func() int64
}

// New creates an allocator for nodeID, which must be in 0..MaxNodeID.
func New(nodeID int64, opts ...Option) (*Allocator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNodeID, nodeID)
	}

	a := &Allocator{
		nodeID:        nodeID,
		lastTimestamp: -1,
		now: func() int64 {
			return time.Now().UnixMilli()
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NodeID returns the node id baked into every id.
func (a *Allocator) NodeID() int64 {
	return a.nodeID
}

// NextID returns the next id. It fails with ErrClockMovedBackwards, without
// producing an id, if the clock reads earlier than the last id's timestamp.
// When the sequence is exhausted it spins until the next millisecond.
func (a *Allocator) NextID() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.now()
	if ts < a.lastTimestamp {
		return 0, fmt.Errorf("%w: last %d, now %d", ErrClockMovedBackwards, a.lastTimestamp, ts)
	}

	if ts == a.lastTimestamp {
		a.sequence = (a.sequence + 1) & maxSequence
		if a.sequence == 0 {
			for ts <= a.lastTimestamp {
				ts = a.now()
			}
		}
	} else {
		a.sequence = 0
	}
	a.lastTimestamp = ts

	id := ((ts - Epoch) << timestampShift) | (a.nodeID << nodeShift) | a.sequence
	return uint64(id), nil
}

// ID is a decoded id.
type ID struct {
	Timestamp int64 // unix milliseconds
	NodeID    int64
	Sequence  int64
}

// Time returns the id's timestamp.
func (id ID) Time() time.Time {
	return time.UnixMilli(id.Timestamp).UTC()
}

// ParseID decodes an id produced by NextID.
func ParseID(id uint64) ID {
	v := int64(id)
	return ID{
		Timestamp: (v >> timestampShift) + Epoch,
		NodeID:    (v >> nodeShift) & MaxNodeID,
		Sequence:  v & maxSequence,
	}
}

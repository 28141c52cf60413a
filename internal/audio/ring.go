package audio

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// OverflowPolicy selects what Append does with a run that does not fit in free space
type OverflowPolicy int

const (
	// OverflowReject drops the incoming run and reports the overflow
	OverflowReject OverflowPolicy = iota
	// OverflowDropOldest discards the oldest unread bytes to make room for the run
	OverflowDropOldest
)

var (
	// ErrOverflow is the sentinel wrapped by every *OverflowError
	ErrOverflow = errors.New("ring buffer overflow")
	// ErrConsumeRange is returned when Consume is asked to skip unwritten bytes
	ErrConsumeRange = errors.New("consume exceeds readable bytes")
)

// String returns the configuration name of the policy
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowReject:
		return "reject"
	case OverflowDropOldest:
		return "drop_oldest"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseOverflowPolicy converts a configuration name into an OverflowPolicy
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch name {
	case "reject", "":
		return OverflowReject, nil
	case "drop_oldest":
		return OverflowDropOldest, nil
	default:
		return OverflowReject, fmt.Errorf("unknown overflow policy %q (want reject or drop_oldest)", name)
	}
}

// OverflowError describes a single overflow event.
// Written reports whether the run still landed in the buffer (drop_oldest) or was discarded (reject).
type OverflowError struct {
	Requested int
	Free      int
	Dropped   int
	Written   bool
}

func (e *OverflowError) Error() string {
	if e.Written {
		return fmt.Sprintf("ring buffer overflow: %d bytes requested, %d free, %d oldest bytes discarded",
			e.Requested, e.Free, e.Dropped)
	}
	return fmt.Sprintf("ring buffer overflow: %d bytes requested, %d free, run rejected",
		e.Requested, e.Free)
}

func (e *OverflowError) Unwrap() error {
	return ErrOverflow
}

// Ring is a fixed-capacity circular byte buffer connecting exactly one producer
// (Append) and exactly one consumer (ReadableSpan, Peek, Consume).
//
// Both cursors are monotonically increasing byte counters; the physical index is
// the counter modulo the capacity. The difference of the two is the number of
// unread bytes, so a full buffer is distinguishable from an empty one.
//
// The backing store is held as atomic words so that a drop_oldest producer
// overwriting bytes the consumer is copying never races with it; Peek detects
// the overwrite through the read cursor and copies again.
type Ring struct {
	buf    []atomic.Uint32
	size   uint64
	policy OverflowPolicy

	written atomic.Uint64 // advanced by the producer only
	read    atomic.Uint64 // advanced by the consumer; also by the producer under drop_oldest

	// anchor is the read counter the consumer last observed. Consumer-only.
	anchor uint64

	appended     atomic.Uint64
	consumed     atomic.Uint64
	overflows    atomic.Uint64
	droppedBytes atomic.Uint64
}

// RingStats is a point-in-time snapshot of ring state for monitoring
type RingStats struct {
	Capacity     int     `json:"capacity_bytes"`
	Used         int     `json:"used_bytes"`
	Free         int     `json:"free_bytes"`
	FillRatio    float64 `json:"fill_ratio"`
	WriteIndex   int     `json:"write_index"`
	ReadIndex    int     `json:"read_index"`
	Appended     uint64  `json:"bytes_appended"`
	Consumed     uint64  `json:"bytes_consumed"`
	Overflows    uint64  `json:"overflow_events"`
	DroppedBytes uint64  `json:"dropped_bytes"`
	Policy       string  `json:"overflow_policy"`
}

// NewRing creates a ring with the given capacity in bytes
func NewRing(capacity int, policy OverflowPolicy) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	if policy != OverflowReject && policy != OverflowDropOldest {
		return nil, fmt.Errorf("invalid overflow policy %d", int(policy))
	}

	return &Ring{
		buf:    make([]atomic.Uint32, (capacity+3)/4),
		size:   uint64(capacity),
		policy: policy,
	}, nil
}

// Append writes p at the write cursor, splitting the copy at the physical end
// of the backing store. Producer-only.
//
// When p does not fit, the configured policy decides: reject leaves the buffer
// untouched, drop_oldest advances the read cursor past the oldest unread bytes.
// Either way the event is reported as an *OverflowError.
func (r *Ring) Append(p []byte) error {
	requested := len(p)
	k := uint64(requested)
	if k == 0 {
		return nil
	}

	w := r.written.Load()

	var (
		overflow *OverflowError
		dropped  uint64
	)
	// A run longer than the whole buffer keeps only its newest bytes
	if r.policy == OverflowDropOldest && k > r.size {
		dropped = k - r.size
		p = p[dropped:]
		k = r.size
	}

	for {
		rd := r.read.Load()
		free := r.size - (w - rd)
		if k <= free && dropped == 0 {
			break
		}

		if r.policy == OverflowReject {
			r.overflows.Add(1)
			r.droppedBytes.Add(k)
			return &OverflowError{Requested: requested, Free: int(free), Dropped: requested}
		}

		var over uint64
		if k > free {
			over = k - free
		}
		// the consumer may move concurrently; retry against its new position
		if over == 0 || r.read.CompareAndSwap(rd, rd+over) {
			dropped += over
			r.overflows.Add(1)
			r.droppedBytes.Add(dropped)
			overflow = &OverflowError{Requested: requested, Free: int(free), Dropped: int(dropped), Written: true}
			break
		}
	}

	start := w % r.size
	n := r.size - start
	if k < n {
		n = k
	}
	r.store(start, p[:n])
	r.store(0, p[n:])

	r.written.Store(w + k)
	r.appended.Add(k)

	if overflow != nil {
		return overflow
	}
	return nil
}

// ReadableSpan returns the number of unread bytes that can be read without
// wrapping: up to the write cursor, or up to the physical end of the buffer.
// Returns 0 when the buffer is empty. Consumer-only.
func (r *Ring) ReadableSpan() int {
	rd := r.read.Load()
	r.anchor = rd
	return int(r.span(rd, r.written.Load()))
}

func (r *Ring) span(rd, w uint64) uint64 {
	used := w - rd
	if used == 0 {
		return 0
	}
	n := r.size - rd%r.size
	if used < n {
		n = used
	}
	return n
}

// Peek copies the contiguous readable prefix into dst, at most len(dst) bytes,
// without advancing the read cursor. Consumer-only.
//
// Under drop_oldest the producer may discard bytes while they are copied; the
// copy is retried until it was taken against a stable read cursor.
func (r *Ring) Peek(dst []byte) int {
	for {
		rd := r.read.Load()
		n := r.span(rd, r.written.Load())
		if uint64(len(dst)) < n {
			n = uint64(len(dst))
		}
		if n > 0 {
			r.load(rd%r.size, dst[:n])
		}
		if r.read.Load() == rd {
			r.anchor = rd
			return int(n)
		}
	}
}

// store writes p at physical index idx; idx+len(p) must not pass the end.
// Only the producer writes, so partial words are updated by load and store.
func (r *Ring) store(idx uint64, p []byte) {
	for len(p) > 0 {
		wi, off := idx/4, idx%4
		n := 4 - off
		if uint64(len(p)) < n {
			n = uint64(len(p))
		}

		var word uint32
		if n < 4 {
			word = r.buf[wi].Load()
		}
		for j := uint64(0); j < n; j++ {
			shift := 8 * (off + j)
			word = word&^(0xFF<<shift) | uint32(p[j])<<shift
		}
		r.buf[wi].Store(word)

		idx += n
		p = p[n:]
	}
}

// load copies len(dst) bytes starting at physical index idx
func (r *Ring) load(idx uint64, dst []byte) {
	for len(dst) > 0 {
		wi, off := idx/4, idx%4
		word := r.buf[wi].Load()
		for ; off < 4 && len(dst) > 0; off++ {
			dst[0] = byte(word >> (8 * off))
			dst = dst[1:]
			idx++
		}
	}
}

// Consume advances the read cursor by n bytes past the position last observed
// by ReadableSpan, Peek or Consume. Consumer-only.
func (r *Ring) Consume(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative count %d", ErrConsumeRange, n)
	}
	if n == 0 {
		return nil
	}

	target := r.anchor + uint64(n)
	if target > r.written.Load() {
		return fmt.Errorf("%w: %d bytes requested, %d readable",
			ErrConsumeRange, n, r.written.Load()-r.anchor)
	}

	for {
		cur := r.read.Load()
		if cur >= target {
			// producer already discarded past this point
			r.anchor = cur
			return nil
		}
		if r.read.CompareAndSwap(cur, target) {
			r.consumed.Add(target - cur)
			r.anchor = target
			return nil
		}
	}
}

// Len returns the number of unread bytes
func (r *Ring) Len() int {
	rd := r.read.Load()
	return int(r.written.Load() - rd)
}

// Free returns the number of bytes that can be appended without overflow
func (r *Ring) Free() int {
	return int(r.size) - r.Len()
}

// Cap returns the capacity in bytes
func (r *Ring) Cap() int {
	return int(r.size)
}

// Empty reports whether the read and write cursors are equal
func (r *Ring) Empty() bool {
	return r.Len() == 0
}

// WriteIndex returns the physical write cursor in [0, Cap())
func (r *Ring) WriteIndex() int {
	return int(r.written.Load() % r.size)
}

// ReadIndex returns the physical read cursor in [0, Cap())
func (r *Ring) ReadIndex() int {
	return int(r.read.Load() % r.size)
}

// Policy returns the overflow policy the ring was created with
func (r *Ring) Policy() OverflowPolicy {
	return r.policy
}

// Stats returns a snapshot of ring state
func (r *Ring) Stats() RingStats {
	rd := r.read.Load()
	w := r.written.Load()
	used := int(w - rd)

	return RingStats{
		Capacity:     int(r.size),
		Used:         used,
		Free:         int(r.size) - used,
		FillRatio:    float64(used) / float64(r.size),
		WriteIndex:   int(w % r.size),
		ReadIndex:    int(rd % r.size),
		Appended:     r.appended.Load(),
		Consumed:     r.consumed.Load(),
		Overflows:    r.overflows.Load(),
		DroppedBytes: r.droppedBytes.Load(),
		Policy:       r.policy.String(),
	}
}

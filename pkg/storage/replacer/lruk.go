// Package replacer implements the LRU-K frame eviction policy the buffer
// pool manager delegates victim selection to.
package replacer

import "sync"

// FrameID indexes into the buffer pool's frame array.
type FrameID int

// record tracks one frame's bounded access history and whether the
// buffer pool currently allows it to be evicted. history holds at most k
// timestamps, oldest first, the way the teacher's LRUPageCache threads a
// doubly linked list through a map — except here the "list" is a frame's
// own short history rather than a cache-wide recency order.
type record struct {
	history   []uint64
	evictable bool
}

// hasKAccesses reports whether this frame has at least k recorded
// accesses, i.e. a finite (not +∞) backward k-distance.
func (r *record) hasKAccesses(k int) bool {
	return len(r.history) >= k
}

// kDistance returns now - (k-th most recent access timestamp). Caller
// must have checked hasKAccesses(k) first.
func (r *record) kDistance(now uint64, k int) uint64 {
	kth := r.history[len(r.history)-k]
	return now - kth
}

// earliest returns this frame's oldest recorded access timestamp, used
// to break ties among frames with fewer than k accesses.
func (r *record) earliest() uint64 {
	return r.history[0]
}

// LRUK selects an eviction victim by backward k-distance: the frame
// whose k-th most recent access is furthest in the past is preferred,
// with frames that have fewer than k accesses (infinite distance)
// always preferred over ones that have k, and ties among either group
// broken by earliest overall access timestamp. All operations are
// serialized behind a single mutex per spec 4.1.
type LRUK struct {
	mu          sync.Mutex
	k           int
	counter     uint64
	frames      map[FrameID]*record
	numEvictable int
}

// New returns an LRU-K replacer with the given history depth k.
func New(k int) *LRUK {
	if k <= 0 {
		panic("replacer: k must be positive")
	}
	return &LRUK{
		k:      k,
		frames: make(map[FrameID]*record),
	}
}

// RecordAccess notes that frameID was just accessed, growing its history
// up to k entries and dropping the oldest once full. Unknown frames get
// a fresh, non-evictable record — the buffer pool is expected to call
// SetEvictable once it decides the frame's pin discipline.
func (l *LRUK) RecordAccess(frameID FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counter++

	r, ok := l.frames[frameID]
	if !ok {
		r = &record{}
		l.frames[frameID] = r
	}

	r.history = append(r.history, l.counter)
	if len(r.history) > l.k {
		r.history = r.history[1:]
	}
}

// SetEvictable marks frameID evictable or not, adjusting the evictable
// count. No-op if the frame is unknown or the flag is unchanged.
func (l *LRUK) SetEvictable(frameID FrameID, evictable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.frames[frameID]
	if !ok || r.evictable == evictable {
		return
	}

	r.evictable = evictable
	if evictable {
		l.numEvictable++
	} else {
		l.numEvictable--
	}
}

// Evict selects and removes the victim frame with the largest backward
// k-distance among evictable frames, preferring any frame with fewer
// than k accesses and breaking ties by earliest overall timestamp.
// Reports false if no evictable frame exists.
func (l *LRUK) Evict() (FrameID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		victim     FrameID
		found      bool
		bestInf    bool   // candidate has < k accesses
		bestDist   uint64 // finite k-distance, meaningless if bestInf
		bestEarly  uint64
	)

	for id, r := range l.frames {
		if !r.evictable {
			continue
		}

		inf := !r.hasKAccesses(l.k)
		early := r.earliest()

		if !found {
			victim, found, bestInf, bestEarly = id, true, inf, early
			if !inf {
				bestDist = r.kDistance(l.counter, l.k)
			}
			continue
		}

		switch {
		case inf && !bestInf:
			victim, bestInf, bestEarly = id, true, early
		case inf && bestInf:
			if early < bestEarly {
				victim, bestEarly = id, early
			}
		case !inf && bestInf:
			// current best (infinite distance) always wins
		default: // neither has < k accesses
			dist := r.kDistance(l.counter, l.k)
			if dist > bestDist || (dist == bestDist && early < bestEarly) {
				victim, bestDist, bestEarly = id, dist, early
			}
		}
	}

	if !found {
		return 0, false
	}

	delete(l.frames, victim)
	l.numEvictable--
	return victim, true
}

// Remove unconditionally drops a known, evictable frame's record. A
// missing frame is a no-op; removing a non-evictable frame is a
// programmer error and panics, per spec 4.1.
func (l *LRUK) Remove(frameID FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.frames[frameID]
	if !ok {
		return
	}
	if !r.evictable {
		panic("replacer: Remove called on non-evictable frame")
	}

	delete(l.frames, frameID)
	l.numEvictable--
}

// Size returns the number of frames currently evictable.
func (l *LRUK) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.numEvictable
}

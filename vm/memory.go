package vm

import "hoshi/value"

// Tracker is hoshi's object tracker: an enumerable collection of every
// heap object a VM has allocated, substituting for the reference
// implementation's intrusive linked list (Go's GC frees the
// underlying memory; the tracker exists so SPEC_FULL's teardown and
// leak-diagnostic contracts still hold without one).
type Tracker struct {
	objects []value.Object

	countAllocations bool
	liveBytes        int
	allocCount       int
	freeCount        int
}

// NewTracker returns an empty tracker. countAllocations turns on the
// byte/object counters consulted by Stats.
func NewTracker(countAllocations bool) *Tracker {
	return &Tracker{countAllocations: countAllocations}
}

// Track appends obj to the tracker's object list (nothing depends on
// the list's order).
func (t *Tracker) Track(obj value.Object) {
	t.objects = append(t.objects, obj)
	if t.countAllocations {
		t.liveBytes += obj.Size()
		t.allocCount++
	}
}

// Objects returns every object the tracker currently owns.
func (t *Tracker) Objects() []value.Object { return t.objects }

// FreeAll drops the tracker's references to every tracked object,
// mirroring free_all_objects. The backing memory is reclaimed by the
// Go garbage collector once nothing else references it.
func (t *Tracker) FreeAll() {
	if t.countAllocations {
		for _, obj := range t.objects {
			t.liveBytes -= obj.Size()
			t.freeCount++
		}
	}
	t.objects = nil
}

// Stats reports the tracker's leak-diagnostic counters. Only
// meaningful when the tracker was constructed with countAllocations.
type Stats struct {
	LiveBytes  int
	AllocCount int
	FreeCount  int
}

func (t *Tracker) Stats() Stats {
	return Stats{LiveBytes: t.liveBytes, AllocCount: t.allocCount, FreeCount: t.freeCount}
}

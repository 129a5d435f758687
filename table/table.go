// Package table implements hoshi's open-addressed string hash table:
// linear probing, tombstones, and a 0.75 max load factor, keyed by
// interned *value.ObjectString identity. It backs both the VM's
// string intern table and its global-name-to-index table.
package table

import "hoshi/value"

const maxLoad = 0.75

type entry struct {
	key   *value.ObjectString
	val   value.Value
	empty bool // true until first Set touches this slot
}

// Table is a Robert Nystrom style linear-probed hash table: an empty
// slot has key == nil and val == Nil; a tombstone has key == nil and
// val == Bool(true).
type Table struct {
	count    int
	entries  []entry
	capacity int
}

// New returns an empty table. Capacity is allocated lazily on first
// Set, matching hoshi_initTable's zero-value start.
func New() *Table {
	return &Table{}
}

// Count returns the number of occupied slots: live entries plus any
// tombstones Delete has left since the last resize.
func (t *Table) Count() int { return t.count }

func freshEntries(capacity int) []entry {
	entries := make([]entry, capacity)
	for i := range entries {
		entries[i].empty = true
		entries[i].val = value.Nil
	}
	return entries
}

// find implements hoshi_tableFind: probe from hash mod capacity,
// returning the index of the matching key, or the first empty slot
// (preferring the earliest tombstone seen along the probe chain).
func (t *Table) find(key *value.ObjectString) int {
	index := int(key.Hash % uint64(t.capacity))
	tombstone := -1
	for {
		e := &t.entries[index]
		if e.key == nil {
			if e.empty {
				if tombstone != -1 {
					return tombstone
				}
				return index
			}
			// Tombstone.
			if tombstone == -1 {
				tombstone = index
			}
		} else if e.key == key {
			return index
		}
		index = (index + 1) % t.capacity
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}

func (t *Table) adjustCapacity(capacity int) {
	entries := freshEntries(capacity)

	oldEntries := t.entries
	oldCapacity := t.capacity
	t.entries = entries
	t.capacity = capacity
	t.count = 0

	for i := 0; i < oldCapacity; i++ {
		e := &oldEntries[i]
		if e.key == nil {
			continue
		}
		dest := t.find(e.key)
		t.entries[dest].key = e.key
		t.entries[dest].val = e.val
		t.entries[dest].empty = false
		t.count++
	}
}

// Set inserts or overwrites key's value, growing the table first if
// the load factor would exceed maxLoad. Returns whether key was new.
func (t *Table) Set(key *value.ObjectString, val value.Value) bool {
	if float64(t.count+1) > float64(t.capacity)*maxLoad {
		t.adjustCapacity(growCapacity(t.capacity))
	}

	index := t.find(key)
	e := &t.entries[index]
	isNewKey := e.key == nil
	if isNewKey && e.empty {
		t.count++
	}
	e.key = key
	e.val = val
	e.empty = false
	return isNewKey
}

// Get returns the value for key, if present.
func (t *Table) Get(key *value.ObjectString) (value.Value, bool) {
	if t.count == 0 {
		return value.Nil, false
	}

	index := t.find(key)
	e := &t.entries[index]
	if e.key == nil {
		return value.Nil, false
	}
	return e.val, true
}

// Delete writes a tombstone at key's slot.
func (t *Table) Delete(key *value.ObjectString) bool {
	if t.count == 0 {
		return false
	}

	index := t.find(key)
	e := &t.entries[index]
	if e.key == nil {
		return false
	}

	e.key = nil
	e.val = value.Bool(true)
	return true
}

// FindString is the content-based lookup interning relies on: it
// compares hash, length, and bytes rather than identity, so that two
// strings with identical content always resolve to the same object.
func (t *Table) FindString(chars []byte, hash uint64) *value.ObjectString {
	if t.count == 0 {
		return nil
	}

	index := int(hash % uint64(t.capacity))
	for {
		e := &t.entries[index]
		if e.key == nil {
			if e.empty {
				return nil
			}
		} else if e.key.Hash == hash && len(e.key.Chars) == len(chars) && string(e.key.Chars) == string(chars) {
			return e.key
		}
		index = (index + 1) % t.capacity
	}
}

// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rosti

import "unsafe"

// RawEntry is a view into a single map slot located by a caller-controlled
// probe: a precomputed hash, an alternate key representation, or an
// arbitrary match predicate. It is the escape hatch beneath Entry for
// callers that memoize hashes, intern keys, or look up by a derived form of
// the key without constructing it.
//
// The raw API trades safety for control. The map cannot verify that a
// supplied hash agrees with the hash policy, that a predicate is consistent
// with key equality, or that a key inserted through a raw entry will be
// findable later. Violating the contracts noted on each method leaves the
// table well-formed but with entries that probing cannot reach until the
// next rebuild.
//
// Unlike Entry, a RawEntry carries no key: a vacant raw entry receives the
// key at insertion time.
type RawEntry[K comparable, V any] struct {
	m        *Map[K, V]
	hash     uintptr
	idx      uintptr
	gen      uint32
	occupied bool
}

// RawEntryFromKey returns the raw entry for key, hashing it with the map's
// policy. It is Entry without the carried key.
func (m *Map[K, V]) RawEntryFromKey(key K) RawEntry[K, V] {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	return m.rawEntry(h, func(k K) bool { return k == key })
}

// RawEntryHashed returns the raw entry for key using the caller's
// precomputed hash instead of hashing the key. The hash must equal
// m.Hash(key); a memoized value from a previous call is the intended
// source. No check is performed.
func (m *Map[K, V]) RawEntryHashed(hash uintptr, key K) RawEntry[K, V] {
	return m.rawEntry(hash, func(k K) bool { return k == key })
}

// RawEntry returns the raw entry for the slot whose key satisfies match,
// probing from hash. The predicate is only applied to keys whose stored
// control bits agree with hash, so it must accept exactly the keys that
// hash to it under the policy that produced hash. Inserting through the
// returned vacant entry does not reuse hash: Insert rehashes the new key
// with the map's policy, and InsertHashed/InsertWithHasher place it at a
// hash the caller supplies.
func (m *Map[K, V]) RawEntry(hash uintptr, match func(key K) bool) RawEntry[K, V] {
	return m.rawEntry(hash, match)
}

func (m *Map[K, V]) rawEntry(hash uintptr, match func(key K) bool) RawEntry[K, V] {
	t := &m.table
	e := RawEntry[K, V]{m: m, hash: hash, gen: t.gen}
	if t.used > 0 {
		if i, ok := t.findIndexFunc(hash, match); ok {
			e.idx = i
			e.occupied = true
		}
	}
	return e
}

// Occupied reports whether the probe located an existing slot.
func (e RawEntry[K, V]) Occupied() bool {
	return e.occupied
}

// Key returns the stored key of an occupied entry. Panics on a vacant one.
func (e RawEntry[K, V]) Key() K {
	e.mustBeOccupied()
	return e.m.table.slots.At(e.idx).key
}

// SetKey replaces the stored key of an occupied entry and returns the
// previous key. The new key must be equivalent under the map's hash policy
// or the entry becomes unreachable by ordinary lookups. Panics on a vacant
// entry.
func (e RawEntry[K, V]) SetKey(key K) (old K) {
	e.mustBeOccupied()
	slot := e.m.table.slots.At(e.idx)
	old = slot.key
	slot.key = key
	return old
}

// Get returns the value of an occupied entry. Panics on a vacant entry.
func (e RawEntry[K, V]) Get() V {
	e.mustBeOccupied()
	return e.m.table.slots.At(e.idx).value
}

// GetKeyValue returns the stored key and value of an occupied entry. Panics
// on a vacant entry.
func (e RawEntry[K, V]) GetKeyValue() (K, V) {
	e.mustBeOccupied()
	slot := e.m.table.slots.At(e.idx)
	return slot.key, slot.value
}

// Ptr returns a pointer to the value of an occupied entry. Panics on a
// vacant entry. The pointer is valid until the table is next rebuilt.
func (e RawEntry[K, V]) Ptr() *V {
	e.mustBeOccupied()
	return &e.m.table.slots.At(e.idx).value
}

// Set replaces the value of an occupied entry and returns the previous
// value. Panics on a vacant entry.
func (e RawEntry[K, V]) Set(value V) (old V) {
	e.mustBeOccupied()
	slot := e.m.table.slots.At(e.idx)
	old = slot.value
	slot.value = value
	return old
}

// Remove deletes an occupied entry and returns its value. Panics on a
// vacant entry.
func (e RawEntry[K, V]) Remove() V {
	_, v := e.RemoveEntry()
	return v
}

// RemoveEntry deletes an occupied entry and returns the stored key and
// value. Panics on a vacant entry.
func (e RawEntry[K, V]) RemoveEntry() (K, V) {
	e.mustBeOccupied()
	t := &e.m.table
	slot := t.slots.At(e.idx)
	k, v := slot.key, slot.value
	t.erase(e.idx)
	t.checkInvariants(e.m)
	return k, v
}

// Insert stores the pair through the entry. On a vacant entry the key is
// rehashed with the map's policy and the pair placed at that hash: the hash
// the entry was probed with is deliberately not trusted, so a pair inserted
// through a predicate-built entry stays reachable by ordinary lookups. On
// an occupied entry both the stored key and the value are replaced in place;
// the slot does not move, so a new key that hashes differently is subject to
// the SetKey obligation. Returns a pointer to the resident value, valid
// until the table is next rebuilt.
func (e RawEntry[K, V]) Insert(key K, value V) *V {
	if e.occupied {
		e.assertOccupied()
		slot := e.m.table.slots.At(e.idx)
		slot.key = key
		slot.value = value
		return &slot.value
	}
	h := e.m.hash(noescape(unsafe.Pointer(&key)), e.m.seed)
	i := e.insertVacant(h, key, value, e.m.hash)
	return &e.m.table.slots.At(i).value
}

// InsertHashed inserts the pair into a vacant entry, placing it at the
// given hash verbatim. The hash must be consistent with how the map is
// probed for this key or ordinary lookups will not find the pair. Panics on
// an occupied entry.
func (e RawEntry[K, V]) InsertHashed(hash uintptr, key K, value V) *V {
	e.mustBeVacant()
	i := e.insertVacant(hash, key, value, e.m.hash)
	return &e.m.table.slots.At(i).value
}

// InsertWithHasher inserts the pair into a vacant entry, placing it at the
// given hash. If the insertion forces the table to grow, existing entries
// are rehashed with hasher instead of the map's policy. The hasher must be
// the strategy that produced the hashes this map is probed with; it is how
// a caller that bypasses the policy entirely (hashing externally and using
// RawEntryHashed for every access) keeps the table consistent across
// growth. Panics on an occupied entry.
func (e RawEntry[K, V]) InsertWithHasher(
	hash uintptr, key K, value V, hasher func(key *K, seed uintptr) uintptr,
) *V {
	e.mustBeVacant()
	fn := *(*hashFn)(noescape(unsafe.Pointer(&hasher)))
	i := e.insertVacant(hash, key, value, fn)
	return &e.m.table.slots.At(i).value
}

// OrInsert inserts the pair if the entry is vacant and returns a pointer to
// the resident value either way. A vacant insertion rehashes the key with
// the map's policy, as for Insert.
func (e RawEntry[K, V]) OrInsert(key K, value V) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	h := e.m.hash(noescape(unsafe.Pointer(&key)), e.m.seed)
	i := e.insertVacant(h, key, value, e.m.hash)
	return &e.m.table.slots.At(i).value
}

// OrInsertWith is OrInsert with the pair computed only if it is needed.
func (e RawEntry[K, V]) OrInsertWith(f func() (K, V)) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	key, value := f()
	h := e.m.hash(noescape(unsafe.Pointer(&key)), e.m.seed)
	i := e.insertVacant(h, key, value, e.m.hash)
	return &e.m.table.slots.At(i).value
}

// AndModify applies f to the value if the entry is occupied, then returns
// the entry for further chaining.
func (e RawEntry[K, V]) AndModify(f func(value *V)) RawEntry[K, V] {
	if e.occupied {
		e.assertOccupied()
		f(&e.m.table.slots.At(e.idx).value)
	}
	return e
}

// ReplaceEntryWith passes the stored key and value of an occupied entry to
// f. If f's second result is true the entry stays occupied with the returned
// value; otherwise the entry is removed and the result is a vacant entry at
// the same hash. Panics on a vacant entry.
func (e RawEntry[K, V]) ReplaceEntryWith(f func(key K, value V) (V, bool)) RawEntry[K, V] {
	e.mustBeOccupied()
	t := &e.m.table
	slot := t.slots.At(e.idx)
	v, keep := f(slot.key, slot.value)
	if keep {
		slot.value = v
		return e
	}
	t.erase(e.idx)
	t.checkInvariants(e.m)
	return RawEntry[K, V]{m: e.m, hash: e.hash, gen: t.gen}
}

// AndReplaceEntryWith is ReplaceEntryWith that leaves a vacant entry
// untouched, for chaining.
func (e RawEntry[K, V]) AndReplaceEntryWith(f func(key K, value V) (V, bool)) RawEntry[K, V] {
	if !e.occupied {
		return e
	}
	return e.ReplaceEntryWith(f)
}

func (e RawEntry[K, V]) insertVacant(hash uintptr, key K, value V, hasher hashFn) uintptr {
	t := &e.m.table
	if invariants {
		if e.gen != t.gen {
			panic("rosti: entry used after table rebuild")
		}
	}
	i := t.findInsertSlot(hash)
	i, err := t.prepareInsert(e.m, hash, i, hasher)
	if err != nil {
		panic(err)
	}
	slot := t.slots.At(i)
	slot.key = key
	slot.value = value
	t.checkInvariants(e.m)
	return i
}

func (e RawEntry[K, V]) mustBeOccupied() {
	if !e.occupied {
		panic("rosti: operation on vacant entry")
	}
	e.assertOccupied()
}

func (e RawEntry[K, V]) mustBeVacant() {
	if e.occupied {
		panic("rosti: operation on occupied entry")
	}
}

func (e RawEntry[K, V]) assertOccupied() {
	if invariants {
		t := &e.m.table
		if e.gen != t.gen {
			panic("rosti: entry used after table rebuild")
		}
		if (*t.ctrls.At(e.idx) & ctrlEmpty) == ctrlEmpty {
			panic("rosti: entry slot no longer occupied")
		}
	}
}

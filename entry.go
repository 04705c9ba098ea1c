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

// Entry is a view into a single map slot for a given key, either occupied
// (the key is present) or vacant (it is not). An entry remembers the probe
// result so that a lookup followed by an insertion, update, or removal pays
// for only one probe:
//
//	e := m.Entry(key)
//	if e.Occupied() {
//		e.Set(e.Get() + 1)
//	} else {
//		e.OrInsert(1)
//	}
//
// or, with the combinators, the common upsert shapes become one-liners:
//
//	m.Entry(key).AndModify(func(v *int) { *v++ }).OrInsert(1)
//
// An Entry is a handle into the table. It is valid only until the map is
// next mutated through anything other than the entry itself; in particular
// any operation that can rebuild the table (insertions, Reserve, ShrinkTo,
// Clear) invalidates it. Builds with the invariants tag detect stale use.
//
// A vacant entry carries the lookup key so a later insertion does not need
// it again. An occupied entry carries it too, which is what allows
// ReplaceKey and ReplaceEntry to swap it with the stored key. The one way to
// lose the carried key is Insert on a vacant entry, which moves it into the
// table; ReplaceKey and ReplaceEntry panic on such an entry.
type Entry[K comparable, V any] struct {
	m *Map[K, V]
	// The lookup key. Meaningful while hasKey, which is from construction
	// until Insert on a vacant entry consumes it.
	key  K
	hash uintptr
	// Slot index, valid while occupied.
	idx      uintptr
	gen      uint32
	occupied bool
	hasKey   bool
}

// Entry returns the entry for key, occupied or vacant.
func (m *Map[K, V]) Entry(key K) Entry[K, V] {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	t := &m.table
	e := Entry[K, V]{m: m, key: key, hash: h, gen: t.gen, hasKey: true}
	if t.used > 0 {
		if i, ok := t.findIndex(h, key); ok {
			e.idx = i
			e.occupied = true
		}
	}
	return e
}

// Occupied reports whether the entry's key is present in the map.
func (e Entry[K, V]) Occupied() bool {
	return e.occupied
}

// Key returns the stored key for an occupied entry and the lookup key for a
// vacant one.
func (e Entry[K, V]) Key() K {
	if e.occupied {
		e.assertOccupied()
		return e.m.table.slots.At(e.idx).key
	}
	return e.key
}

// OrInsert inserts value if the entry is vacant and returns a pointer to the
// resident value either way. The pointer is valid until the table is next
// rebuilt.
func (e Entry[K, V]) OrInsert(value V) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	i := e.insertVacant(value)
	return &e.m.table.slots.At(i).value
}

// OrInsertWith is OrInsert with the value computed only if it is needed.
func (e Entry[K, V]) OrInsertWith(f func() V) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	i := e.insertVacant(f())
	return &e.m.table.slots.At(i).value
}

// OrInsertWithKey is OrInsertWith for value derivations that want the key.
func (e Entry[K, V]) OrInsertWithKey(f func(key K) V) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	i := e.insertVacant(f(e.key))
	return &e.m.table.slots.At(i).value
}

// OrDefault inserts the zero value if the entry is vacant and returns a
// pointer to the resident value either way.
func (e Entry[K, V]) OrDefault() *V {
	var zero V
	return e.OrInsert(zero)
}

// AndModify applies f to the value if the entry is occupied, then returns
// the entry for further chaining.
func (e Entry[K, V]) AndModify(f func(value *V)) Entry[K, V] {
	if e.occupied {
		e.assertOccupied()
		f(&e.m.table.slots.At(e.idx).value)
	}
	return e
}

// Insert sets the entry's value whether it is occupied or vacant and returns
// the now-occupied entry. Inserting into a vacant entry moves the carried
// key into the table; ReplaceKey and ReplaceEntry panic on the returned
// entry in that case.
func (e Entry[K, V]) Insert(value V) Entry[K, V] {
	if e.occupied {
		e.assertOccupied()
		e.m.table.slots.At(e.idx).value = value
		return e
	}
	i := e.insertVacant(value)
	return Entry[K, V]{m: e.m, hash: e.hash, idx: i, gen: e.m.table.gen, occupied: true}
}

// Get returns the value of an occupied entry. Panics on a vacant entry.
func (e Entry[K, V]) Get() V {
	e.mustBeOccupied()
	return e.m.table.slots.At(e.idx).value
}

// Ptr returns a pointer to the value of an occupied entry, for in-place
// mutation. Panics on a vacant entry. The pointer is valid until the table
// is next rebuilt.
func (e Entry[K, V]) Ptr() *V {
	e.mustBeOccupied()
	return &e.m.table.slots.At(e.idx).value
}

// Set replaces the value of an occupied entry and returns the previous
// value. Panics on a vacant entry.
func (e Entry[K, V]) Set(value V) (old V) {
	e.mustBeOccupied()
	slot := e.m.table.slots.At(e.idx)
	old = slot.value
	slot.value = value
	return old
}

// Remove deletes an occupied entry and returns its value. Panics on a
// vacant entry. The entry must not be used afterwards.
func (e Entry[K, V]) Remove() V {
	_, v := e.RemoveEntry()
	return v
}

// RemoveEntry deletes an occupied entry and returns the stored key and
// value. Panics on a vacant entry.
func (e Entry[K, V]) RemoveEntry() (K, V) {
	e.mustBeOccupied()
	t := &e.m.table
	slot := t.slots.At(e.idx)
	k, v := slot.key, slot.value
	t.erase(e.idx)
	t.checkInvariants(e.m)
	return k, v
}

// ReplaceEntry replaces both the stored key and the value of an occupied
// entry, returning the previous pair. The stored key is replaced with the
// entry's carried lookup key, which under a custom hash policy need not be
// byte-identical to it. Panics on a vacant entry or if the carried key was
// consumed by Insert.
func (e Entry[K, V]) ReplaceEntry(value V) (K, V) {
	e.mustBeOccupied()
	e.mustHaveKey()
	slot := e.m.table.slots.At(e.idx)
	k, v := slot.key, slot.value
	slot.key = e.key
	slot.value = value
	return k, v
}

// ReplaceKey replaces the stored key of an occupied entry with the entry's
// carried lookup key and returns the previous stored key. Panics on a
// vacant entry or if the carried key was consumed by Insert.
func (e Entry[K, V]) ReplaceKey() K {
	e.mustBeOccupied()
	e.mustHaveKey()
	slot := e.m.table.slots.At(e.idx)
	k := slot.key
	slot.key = e.key
	return k
}

// ReplaceEntryWith passes the stored key and value of an occupied entry to
// f. If f's second result is true the entry stays occupied with the returned
// value; otherwise the entry is removed and the result is a vacant entry
// carrying the removed key, so a subsequent OrInsert reinstates it without
// another probe for the key. Panics on a vacant entry.
func (e Entry[K, V]) ReplaceEntryWith(f func(key K, value V) (V, bool)) Entry[K, V] {
	e.mustBeOccupied()
	t := &e.m.table
	slot := t.slots.At(e.idx)
	v, keep := f(slot.key, slot.value)
	if keep {
		slot.value = v
		return e
	}
	k := slot.key
	t.erase(e.idx)
	t.checkInvariants(e.m)
	return Entry[K, V]{m: e.m, key: k, hash: e.hash, gen: t.gen, hasKey: true}
}

// AndReplaceEntryWith is ReplaceEntryWith that leaves a vacant entry
// untouched, for chaining.
func (e Entry[K, V]) AndReplaceEntryWith(f func(key K, value V) (V, bool)) Entry[K, V] {
	if !e.occupied {
		return e
	}
	return e.ReplaceEntryWith(f)
}

// insertVacant claims a slot for the carried key and stores value there,
// returning the slot index. The caller must know the entry is vacant.
func (e Entry[K, V]) insertVacant(value V) uintptr {
	t := &e.m.table
	if invariants {
		if e.gen != t.gen {
			panic("rosti: entry used after table rebuild")
		}
	}
	i := t.findInsertSlot(e.hash)
	i, err := t.prepareInsert(e.m, e.hash, i, e.m.hash)
	if err != nil {
		panic(err)
	}
	slot := t.slots.At(i)
	slot.key = e.key
	slot.value = value
	t.checkInvariants(e.m)
	return i
}

func (e Entry[K, V]) mustBeOccupied() {
	if !e.occupied {
		panic("rosti: operation on vacant entry")
	}
	e.assertOccupied()
}

func (e Entry[K, V]) mustHaveKey() {
	if !e.hasKey {
		panic("rosti: entry key was consumed by Insert")
	}
}

// assertOccupied validates the handle in invariants builds: the table must
// not have been rebuilt since the entry was created and the slot must still
// be occupied.
func (e Entry[K, V]) assertOccupied() {
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

// EntryRef is Entry for a string-keyed map probed with a borrowed []byte
// key. The lookup allocates nothing: the byte slice is only materialized
// into an owned string if the entry turns out vacant and a value is
// inserted. The borrowed slice must not be mutated while the entry is live.
//
// Because the carried key is borrowed rather than owned, EntryRef has no
// ReplaceKey or ReplaceEntry.
type EntryRef[V any] struct {
	m        *Map[string, V]
	key      []byte
	hash     uintptr
	idx      uintptr
	gen      uint32
	occupied bool
}

// EntryBytes returns the entry for a byte slice key in a string-keyed map.
func EntryBytes[V any](m *Map[string, V], key []byte) EntryRef[V] {
	view := bytesToString(key)
	h := m.hash(noescape(unsafe.Pointer(&view)), m.seed)
	t := &m.table
	e := EntryRef[V]{m: m, key: key, hash: h, gen: t.gen}
	if t.used > 0 {
		if i, ok := t.findIndex(h, view); ok {
			e.idx = i
			e.occupied = true
		}
	}
	return e
}

// Occupied reports whether the entry's key is present in the map.
func (e EntryRef[V]) Occupied() bool {
	return e.occupied
}

// Key returns the stored key for an occupied entry. For a vacant entry it
// materializes (allocates) a string from the borrowed byte slice.
func (e EntryRef[V]) Key() string {
	if e.occupied {
		e.assertOccupied()
		return e.m.table.slots.At(e.idx).key
	}
	return string(e.key)
}

// OrInsert inserts value under an owned copy of the byte slice key if the
// entry is vacant, and returns a pointer to the resident value either way.
func (e EntryRef[V]) OrInsert(value V) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	i := e.insertVacant(value)
	return &e.m.table.slots.At(i).value
}

// OrInsertWith is OrInsert with the value computed only if it is needed.
func (e EntryRef[V]) OrInsertWith(f func() V) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	i := e.insertVacant(f())
	return &e.m.table.slots.At(i).value
}

// OrInsertWithKey is OrInsertWith for value derivations that want the
// borrowed key.
func (e EntryRef[V]) OrInsertWithKey(f func(key []byte) V) *V {
	if e.occupied {
		e.assertOccupied()
		return &e.m.table.slots.At(e.idx).value
	}
	i := e.insertVacant(f(e.key))
	return &e.m.table.slots.At(i).value
}

// OrDefault inserts the zero value if the entry is vacant and returns a
// pointer to the resident value either way.
func (e EntryRef[V]) OrDefault() *V {
	var zero V
	return e.OrInsert(zero)
}

// AndModify applies f to the value if the entry is occupied, then returns
// the entry for further chaining.
func (e EntryRef[V]) AndModify(f func(value *V)) EntryRef[V] {
	if e.occupied {
		e.assertOccupied()
		f(&e.m.table.slots.At(e.idx).value)
	}
	return e
}

// Insert sets the entry's value whether it is occupied or vacant and
// returns the now-occupied entry.
func (e EntryRef[V]) Insert(value V) EntryRef[V] {
	if e.occupied {
		e.assertOccupied()
		e.m.table.slots.At(e.idx).value = value
		return e
	}
	i := e.insertVacant(value)
	return EntryRef[V]{m: e.m, key: e.key, hash: e.hash, idx: i, gen: e.m.table.gen, occupied: true}
}

// Get returns the value of an occupied entry. Panics on a vacant entry.
func (e EntryRef[V]) Get() V {
	e.mustBeOccupied()
	return e.m.table.slots.At(e.idx).value
}

// Ptr returns a pointer to the value of an occupied entry. Panics on a
// vacant entry. The pointer is valid until the table is next rebuilt.
func (e EntryRef[V]) Ptr() *V {
	e.mustBeOccupied()
	return &e.m.table.slots.At(e.idx).value
}

// Set replaces the value of an occupied entry and returns the previous
// value. Panics on a vacant entry.
func (e EntryRef[V]) Set(value V) (old V) {
	e.mustBeOccupied()
	slot := e.m.table.slots.At(e.idx)
	old = slot.value
	slot.value = value
	return old
}

// Remove deletes an occupied entry and returns its value. Panics on a
// vacant entry.
func (e EntryRef[V]) Remove() V {
	_, v := e.RemoveEntry()
	return v
}

// RemoveEntry deletes an occupied entry and returns the stored key and
// value. Panics on a vacant entry.
func (e EntryRef[V]) RemoveEntry() (string, V) {
	e.mustBeOccupied()
	t := &e.m.table
	slot := t.slots.At(e.idx)
	k, v := slot.key, slot.value
	t.erase(e.idx)
	t.checkInvariants(e.m)
	return k, v
}

func (e EntryRef[V]) insertVacant(value V) uintptr {
	t := &e.m.table
	if invariants {
		if e.gen != t.gen {
			panic("rosti: entry used after table rebuild")
		}
	}
	i := t.findInsertSlot(e.hash)
	i, err := t.prepareInsert(e.m, e.hash, i, e.m.hash)
	if err != nil {
		panic(err)
	}
	slot := t.slots.At(i)
	slot.key = string(e.key)
	slot.value = value
	t.checkInvariants(e.m)
	return i
}

func (e EntryRef[V]) mustBeOccupied() {
	if !e.occupied {
		panic("rosti: operation on vacant entry")
	}
	e.assertOccupied()
}

func (e EntryRef[V]) assertOccupied() {
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

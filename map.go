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

// Package rosti provides a generic open-addressing hash table: an unordered
// map from keys to values with a richer API than Go's builtin map. Beyond
// Put, Get, and Delete it offers in-place manipulation through entries
// (Entry, EntryBytes), access under caller-supplied hashes and match
// predicates (RawEntry), draining and filtered draining with removal
// guarantees, and simultaneous multi-key access (GetMany). The layout is the
// Swiss Table design described in https://abseil.io/about/design/swisstables;
// see also https://faultlore.com/blah/hashbrown-tldr/.
//
// # Swiss Tables
//
// Swiss tables use open-addressing rather than chaining to handle
// collisions: all entries live in a single flat array of slots and a
// colliding key probes alternate slots rather than walking a linked list. A
// hybrid between linear and quadratic probing is used - linear probing
// within groups of small fixed size and quadratic probing at the group
// level. The key design choice is a separate metadata array storing one
// "control byte" per slot: 7 bits of hash(key) plus a bit distinguishing
// empty, full, deleted, and sentinel states. The control bytes let a probe
// check 8 slots at a time by comparing 8 bytes with bit tricks (SWAR, SIMD
// Within A Register) before ever touching a key.
//
// The table's layout is N-1 slots where N is a power of 2 and N+groupSize
// control bytes. The [N:N+groupSize] control bytes mirror the first
// groupSize control bytes so that probe operations at the end of the control
// bytes array do not have to perform additional checks. The control byte for
// slot N is always a sentinel, which is not available for storing an entry
// and is not a deletion tombstone.
//
// Probing takes the top 57 bits of hash(key)%N as the index into the control
// bytes and examines the groupSize control bytes at that index. Groups are
// conceptual, not physical: they overlap, are not aligned, and are read with
// unaligned loads. Probing walks through groups using quadratic probing
// until it finds a group that has at least one empty slot; see the comments
// on probeSeq for the guarantee that every group is examined.
//
// Deletion is performed using tombstones (ctrlDeleted) with an optimization
// to mark a slot as empty when we can prove doing so would not cause a probe
// for some other key to stop early. A slot whose neighboring groupSize-1
// control bytes on both sides contain an empty byte was never part of a full
// group, so probes never relied on it to continue, and it can revert
// straight to empty. Tombstones are otherwise reclaimed wholesale the next
// time the table grows or rehashes in place.
//
// # Handles and generations
//
// Entry and RawEntry values, and the pointers returned by GetPtr and
// friends, are handles into the slot array. A handle is valid until the
// table is next rebuilt: growth, shrinking, in-place rehashing, Clear, and
// Close all invalidate outstanding handles. This is a caller obligation that
// the type system does not enforce; builds with the "invariants" tag carry a
// table generation counter and panic when a stale handle is used.
//
// # Hashing
//
// By default a Map[K,V] hashes with the same function as Go's builtin
// map[K]V, extracted from the runtime's map type descriptor. A different
// hash policy can be installed with the WithHash option, and individual
// operations can bypass the policy entirely through the RawEntry API.
package rosti

import (
	"fmt"
	"math/bits"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const (
	debug = false

	groupSize       = 8
	maxAvgGroupLoad = 7

	ctrlEmpty    ctrl = 0b10000000
	ctrlDeleted  ctrl = 0b11111110
	ctrlSentinel ctrl = 0b11111111

	bitsetLSB = 0x0101010101010101
	bitsetMSB = 0x8080808080808080
)

// Slot holds a key and value.
type Slot[K comparable, V any] struct {
	key   K
	value V
}

// table is the bucket store: a flat array of slots and the parallel control
// byte metadata, plus the bookkeeping that drives growth.
type table[K comparable, V any] struct {
	// ctrls is capacity+groupSize in length. Ctrls[capacity] is always
	// ctrlSentinel which is used to stop probe iteration. A copy of the first
	// groupSize-1 elements of ctrls is mirrored into the remaining slots
	// which is done so that a probe sequence which picks a value near the end
	// of ctrls will have valid control bytes to look at.
	//
	// When the table is unallocated, ctrls points to emptyCtrls which will
	// never be modified and is used to simplify the probing code which
	// doesn't have to check for a nil ctrls.
	ctrls unsafeSlice[ctrl]
	// slots is capacity in length.
	slots unsafeSlice[Slot[K, V]]
	// The total number of slots (always 2^N-1). The capacity is used as a
	// mask to quickly compute i%N using a bitwise & operation.
	capacity uintptr
	// The number of filled slots (i.e. the number of elements in the table).
	used int
	// The number of deleted (tombstone) slots. Tombstones are dropped by the
	// next resize or in-place rehash.
	tombstones int
	// The number of slots we can still fill without needing to rehash.
	//
	// This is stored separately from the tombstone count: we do not include
	// tombstones in the growth capacity because we'd like to rehash when the
	// table is filled with tombstones as otherwise probe sequences might get
	// unacceptably long without triggering a rehash.
	growthLeft int
	// gen counts table rebuilds (resize, in-place rehash, Clear, Close).
	// Entry handles record the generation they were created under so that
	// invariants builds can detect stale handles.
	gen uint32
}

// Map is an unordered map from keys to values with a rich in-place
// manipulation API. It is inspired by Google's Swiss Tables design as
// implemented in Abseil's flat_hash_map. By default, a Map[K,V] uses the
// same hash function as Go's builtin map[K]V, though a different hash
// function can be specified using the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// The hash function applied to keys of type K. By default the hash
	// function is extracted from the Go runtime's implementation of
	// map[K]struct{}.
	hash hashFn
	seed uintptr
	// The allocator to use for the ctrls and slots slices.
	allocator Allocator[K, V]
	table     table[K, V]
}

// New constructs a new Map with the specified initial capacity. If
// initialCapacity is 0 the map will start out with zero capacity and will
// grow on the first insert. Otherwise the map is sized so that
// initialCapacity entries can be inserted without growing the backing
// storage. The zero value for a Map is not usable until New or Init has run.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	m.Init(initialCapacity, options...)
	return m
}

// Init initializes a map in place, which allows a Map to be embedded by
// value in a larger struct. The arguments are as for New; any previous state
// of the receiver is discarded without being freed.
func (m *Map[K, V]) Init(initialCapacity int, options ...option[K, V]) *Map[K, V] {
	// The ctrls for an unallocated table point to emptyCtrls which
	// simplifies probing. The emptyCtrls never match a probe operation, but
	// because growthLeft == 0 if we try to insert we'll immediately rehash
	// and grow.
	*m = Map[K, V]{
		hash:      getRuntimeHasher[K](),
		seed:      defaultSeed(),
		allocator: defaultAllocator[K, V]{},
		table: table[K, V]{
			ctrls: emptyCtrls,
		},
	}

	for _, op := range options {
		op.apply(m)
	}

	if initialCapacity > 0 {
		if err := m.table.reserve(m, initialCapacity, m.hash); err != nil {
			panic(err)
		}
	}

	m.table.checkInvariants(m)
	return m
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator.
// It is invalid to use a Map after it has been closed, though Close itself
// is idempotent.
func (m *Map[K, V]) Close() {
	m.table.dealloc(m)
	m.allocator = nil
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists. When a key is already present its
// stored key is retained: only the value is replaced, even if the new key is
// == to the old one but observably different.
func (m *Map[K, V]) Put(key K, value V) {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	t := &m.table

	// NB: Unlike the abseil swiss table implementation which uses a common
	// find routine for Get, Put, and Delete, we have to manually inline the
	// find routine for performance.
	//
	// The probe remembers the first empty or deleted slot it passes so that
	// a miss can be followed by the insertion without a second scan. A
	// tombstone can be reused without consuming growth budget; inserting
	// over an empty slot when the budget is exhausted triggers a rehash
	// first.
	var insertSlot uintptr
	insertSlotFound := false

	seq := makeProbeSeq(h1(h), t.capacity)
	if debug {
		fmt.Printf("put(%v): %s\n", key, seq)
	}

	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		match := g.matchH2(h2(h))

		for match != 0 {
			bit := match.next()
			i := seq.offsetAt(bit)
			slot := t.slots.At(i)
			if key == slot.key {
				if debug {
					fmt.Printf("put(updating): index=%d key=%v\n", i, key)
				}
				slot.value = value
				t.checkInvariants(m)
				return
			}
			match = match.clear(bit)
		}

		if !insertSlotFound {
			if match := g.matchEmptyOrDeleted(); match != 0 {
				insertSlot = seq.offsetAt(match.next())
				insertSlotFound = true
			}
		}

		if g.matchEmpty() != 0 {
			i, err := t.prepareInsert(m, h, insertSlot, m.hash)
			if err != nil {
				panic(err)
			}
			if debug {
				fmt.Printf("put(inserting): index=%d key=%v used=%d growth-left=%d\n",
					i, key, t.used, t.growthLeft)
			}
			slot := t.slots.At(i)
			slot.key = key
			slot.value = value
			t.checkInvariants(m)
			return
		}
	}
}

// Swap inserts an entry into the map and returns the previous value for the
// key, if any. Like Put, an existing entry keeps its stored key.
func (m *Map[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	t := &m.table
	i, existed, err := t.findOrPrepareInsert(m, h, key)
	if err != nil {
		panic(err)
	}
	slot := t.slots.At(i)
	if existed {
		previous, loaded = slot.value, true
		slot.value = value
	} else {
		slot.key = key
		slot.value = value
	}
	t.checkInvariants(m)
	return previous, loaded
}

// PutIfAbsent inserts an entry if and only if the key is not already
// present. It returns a pointer to the resident value (the freshly inserted
// one, or the pre-existing one which is left unmodified) and whether the
// insertion happened. The pointer is valid until the table is next rebuilt.
func (m *Map[K, V]) PutIfAbsent(key K, value V) (v *V, inserted bool) {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	t := &m.table
	i, existed, err := t.findOrPrepareInsert(m, h, key)
	if err != nil {
		panic(err)
	}
	slot := t.slots.At(i)
	if !existed {
		slot.key = key
		slot.value = value
	}
	t.checkInvariants(m)
	return &slot.value, !existed
}

// PutUnique inserts an entry whose key the caller guarantees is not already
// present in the map, skipping the existence check that Put performs.
// Violating the requirement will cause the table to behave erratically:
// lookups may return either entry and the duplicate occupies capacity until
// removed. Intended for bulk construction from a source that is already
// uniquely keyed.
func (m *Map[K, V]) PutUnique(key K, value V) {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	t := &m.table
	if t.growthLeft == 0 {
		if err := t.rehash(m, m.hash); err != nil {
			panic(err)
		}
	}
	t.uncheckedPut(h, key, value)
	t.used++
	t.checkInvariants(m)
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	t := &m.table
	if t.used == 0 {
		// A miss on an empty map doesn't need to hash.
		return value, false
	}
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)

	// NB: Unlike the abseil swiss table implementation which uses a common
	// find routine for Get, Put, and Delete, we have to manually inline the
	// find routine for performance.

	// To find the location of a key in the table, we compute hash(key). From
	// h1(hash(key)) and the capacity, we construct a probeSeq that visits
	// every group of slots in some interesting order.
	//
	// We walk through these indices. At each index, we select the entire
	// group starting with that index and extract potential candidates:
	// occupied slots with a control byte equal to h2(hash(key)). The key at
	// candidate slot y is compared with key; if key == m.slots[y].key we are
	// done and return y; otherwise we continue to the next probe index. If
	// the group has an empty slot the search stops: the key is absent.
	// Tombstones (ctrlDeleted) effectively behave like full slots that never
	// match the value we're looking for.
	//
	// The h2 bits ensure when we compare a key we are likely to have
	// actually found the object. That is, the chance is low that keys
	// compare false. Assuming that h2 is a random enough hash function, if
	// there are k "wrong" objects that must be examined in a probe sequence,
	// the expected number of objects with an h2 match is k/128. Measurements
	// and analysis indicate that even at high load factors k is less than
	// 32, meaning we perform fewer than 1/4 false positive comparisons per
	// lookup.
	seq := makeProbeSeq(h1(h), t.capacity)
	if debug {
		fmt.Printf("get(%v): %s\n", key, seq)
	}

	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		match := g.matchH2(h2(h))

		for match != 0 {
			bit := match.next()
			i := seq.offsetAt(bit)
			slot := t.slots.At(i)
			if key == slot.key {
				return slot.value, true
			}
			match = match.clear(bit)
		}

		if g.matchEmpty() != 0 {
			if debug {
				fmt.Printf("get(not-found): offset=%d\n", seq.offset)
			}
			return value, false
		}
	}
}

// GetPtr returns a pointer to the value stored for key, or nil if the key is
// not present. The pointer may be used to mutate the value in place and is
// valid until the table is next rebuilt.
func (m *Map[K, V]) GetPtr(key K) *V {
	t := &m.table
	if t.used == 0 {
		return nil
	}
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	i, ok := t.findIndex(h, key)
	if !ok {
		return nil
	}
	return &t.slots.At(i).value
}

// GetKeyValue retrieves the stored key and value for the specified key. The
// returned key is the one held by the map, which an == match does not
// necessarily make byte-identical to the argument under a custom hash
// policy.
func (m *Map[K, V]) GetKeyValue(key K) (k K, v V, ok bool) {
	t := &m.table
	if t.used == 0 {
		return k, v, false
	}
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	i, ok := t.findIndex(h, key)
	if !ok {
		return k, v, false
	}
	slot := t.slots.At(i)
	return slot.key, slot.value, true
}

// Contains reports whether the key is present in the map.
func (m *Map[K, V]) Contains(key K) bool {
	t := &m.table
	if t.used == 0 {
		return false
	}
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	_, ok := t.findIndex(h, key)
	return ok
}

// Delete deletes the entry corresponding to the specified key from the map.
// It is a noop to delete a non-existent key.
func (m *Map[K, V]) Delete(key K) {
	// Delete is find composed with erase: we perform find(key), and then
	// erase the resulting slot if found.
	t := &m.table
	if t.used == 0 {
		return
	}
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	i, ok := t.findIndex(h, key)
	if !ok {
		return
	}
	t.erase(i)
	if debug {
		fmt.Printf("delete(%v): index=%d used=%d growth-left=%d\n",
			key, i, t.used, t.growthLeft)
	}
	t.checkInvariants(m)
}

// Remove deletes the entry for key and returns its value, reporting whether
// the key was present. Removing an absent key is a noop returning ok=false.
func (m *Map[K, V]) Remove(key K) (v V, ok bool) {
	_, v, ok = m.RemoveKeyValue(key)
	return v, ok
}

// RemoveKeyValue deletes the entry for key and returns the stored key and
// value.
func (m *Map[K, V]) RemoveKeyValue(key K) (k K, v V, ok bool) {
	t := &m.table
	if t.used == 0 {
		return k, v, false
	}
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	i, ok := t.findIndex(h, key)
	if !ok {
		return k, v, false
	}
	slot := t.slots.At(i)
	k, v = slot.key, slot.value
	t.erase(i)
	t.checkInvariants(m)
	return k, v, true
}

// Retain keeps only the entries for which pred returns true, erasing the
// rest in a single pass. The predicate may mutate the value through the
// supplied pointer but must not access the map.
func (m *Map[K, V]) Retain(pred func(key K, value *V) bool) {
	t := &m.table
	for i := uintptr(0); i < t.capacity; i++ {
		// Full entries have a high bit of zero.
		if (*t.ctrls.At(i) & ctrlEmpty) != ctrlEmpty {
			slot := t.slots.At(i)
			if !pred(slot.key, &slot.value) {
				t.erase(i)
			}
		}
	}
	t.checkInvariants(m)
}

// Reserve grows the backing storage, if necessary, so that n more entries
// can be inserted without another rehash. Panics on capacity overflow or
// allocation failure; use TryReserve to handle those as errors.
func (m *Map[K, V]) Reserve(n int) {
	if err := m.TryReserve(n); err != nil {
		panic(err)
	}
}

// TryReserve is Reserve with failures reported instead of panicking: it
// returns ErrCapacityOverflow if the requested capacity is unrepresentable,
// or the (wrapped) allocator error if allocation fails. On error the map is
// unchanged and remains usable.
func (m *Map[K, V]) TryReserve(n int) error {
	if n <= 0 {
		return nil
	}
	err := m.table.reserve(m, n, m.hash)
	m.table.checkInvariants(m)
	return err
}

// ShrinkTo reduces the backing storage to the smallest capacity that can
// hold max(Len(), n) entries without growing. It is a noop if the table is
// already at or below that size.
func (m *Map[K, V]) ShrinkTo(n int) {
	t := &m.table
	if n < t.used {
		n = t.used
	}
	if n == 0 {
		t.dealloc(m)
		t.ctrls = emptyCtrls
		t.checkInvariants(m)
		return
	}
	newCapacity, err := capacityForTarget(uintptr(n))
	if err != nil {
		panic(err)
	}
	if newCapacity >= t.capacity {
		return
	}
	if err := t.resize(m, newCapacity, m.hash); err != nil {
		panic(err)
	}
}

// ShrinkToFit reduces the backing storage to fit the current entries,
// releasing it entirely if the map is empty.
func (m *Map[K, V]) ShrinkToFit() {
	m.ShrinkTo(0)
}

// Clear removes all entries while retaining the backing storage. Compare
// ShrinkToFit, which releases it.
func (m *Map[K, V]) Clear() {
	t := &m.table
	if t.capacity > 0 {
		for i := uintptr(0); i < t.capacity; i++ {
			*t.slots.At(i) = Slot[K, V]{}
		}
		t.resetCtrls()
		t.used = 0
		t.tombstones = 0
		t.gen++
	}
	t.checkInvariants(m)
}

// Clone returns a new map holding a copy of every entry. The clone shares
// the original's hash policy, seed, and allocator; sharing the seed makes
// the slot layout identical so the copy is a pair of memcopies rather than N
// re-insertions. Values are shallow copies.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c := &Map[K, V]{
		hash:      m.hash,
		seed:      m.seed,
		allocator: m.allocator,
		table: table[K, V]{
			ctrls: emptyCtrls,
		},
	}
	t := &m.table
	if t.capacity > 0 {
		slots, err := c.allocator.AllocSlots(int(t.capacity))
		if err != nil {
			panic(errors.Wrapf(err, "rosti: allocating %d slots", t.capacity))
		}
		ctrls, err := c.allocator.AllocControls(int(t.capacity + groupSize))
		if err != nil {
			c.allocator.FreeSlots(slots)
			panic(errors.Wrapf(err, "rosti: allocating %d control bytes", t.capacity+groupSize))
		}
		copy(slots, t.slots.Slice(0, t.capacity))
		copy(ctrls, unsafeConvertSlice[uint8](t.ctrls.Slice(0, t.capacity+groupSize)))
		c.table.slots = makeUnsafeSlice(slots)
		c.table.ctrls = makeUnsafeSlice(unsafeConvertSlice[ctrl](ctrls))
		c.table.capacity = t.capacity
		c.table.used = t.used
		c.table.tombstones = t.tombstones
		c.table.growthLeft = t.growthLeft
	}
	c.table.checkInvariants(c)
	return c
}

// Hash returns the map's hash for key: the configured policy applied with
// the map's seed. The result is stable until the map is closed, which makes
// it suitable for memoization with RawEntryHashed and friends.
func (m *Map[K, V]) Hash(key K) uintptr {
	return m.hash(noescape(unsafe.Pointer(&key)), m.seed)
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.table.used
}

// Capacity returns the number of entries the map can hold without growing
// the backing storage.
func (m *Map[K, V]) Capacity() int {
	return m.table.used + m.table.growthLeft
}

// usableCapacity returns the maximum number of entries a table with the
// given slot count can hold at the maximum load factor: 7/8ths of the slots
// for multi-group tables. A single-group table (capacity 7) can fill all
// slots but one, and 7*7/8 rounds to the same 6, so the formula is uniform.
func usableCapacity(capacity uintptr) int {
	return int((capacity * maxAvgGroupLoad) / groupSize)
}

// capacityForTarget returns the smallest capacity of the form 2^k-1 whose
// usable capacity is at least target.
func capacityForTarget(target uintptr) (uintptr, error) {
	// Beyond maxCapacity the load factor computation or the control byte
	// allocation size would wrap around.
	const maxCapacity = (^uintptr(0) - groupSize) / maxAvgGroupLoad
	capacity := uintptr(groupSize - 1)
	for uintptr(usableCapacity(capacity)) < target {
		if capacity >= maxCapacity/2 {
			return 0, ErrCapacityOverflow
		}
		capacity = 2*capacity + 1
	}
	return capacity, nil
}

// setCtrl sets the control byte at index i, taking care to mirror the byte
// to the end of the control bytes slice if i<groupSize.
func (t *table[K, V]) setCtrl(i uintptr, v ctrl) {
	*t.ctrls.At(i) = v
	// Mirror the first groupSize control state to the end of the ctrls
	// slice. We do this unconditionally which is faster than performing a
	// comparison to do it only for the first groupSize slots. Note that the
	// index will be the identity for slots in the range
	// [groupSize,capacity).
	*t.ctrls.At(((i-(groupSize-1))&t.capacity)+(groupSize-1)) = v
}

// resetCtrls marks every control byte empty, restores the sentinel, and
// resets the growth budget to the table's full usable capacity.
func (t *table[K, V]) resetCtrls() {
	for i := uintptr(0); i < t.capacity+groupSize; i++ {
		*t.ctrls.At(i) = ctrlEmpty
	}
	*t.ctrls.At(t.capacity) = ctrlSentinel
	t.growthLeft = usableCapacity(t.capacity)
}

// wasNeverFull returns true if index i was never part of a full group. This
// check allows an optimization during deletion whereby a deleted slot can be
// converted to empty rather than a tombstone.
func (t *table[K, V]) wasNeverFull(i uintptr) bool {
	if t.capacity < groupSize {
		// The map fits entirely in a single group so we will never probe
		// beyond this group.
		return true
	}

	indexBefore := (i - groupSize) & t.capacity
	emptyAfter := t.ctrls.At(i).matchEmpty()
	emptyBefore := t.ctrls.At(indexBefore).matchEmpty()

	// We're looking at the control bytes on either side of i, counting the
	// consecutive non-empty bytes to the left and to the right. If the sum
	// is >= groupSize then there is at least one probe window that might
	// have seen a full group:
	//
	//   xx xx xx xx xx xx xx xx  xx xx xx xx xx xx xx xx
	//   ^                        ^
	//   indexBefore              i
	//
	// The matchEmpty calls transform the control bytes into either 0x80 if
	// the control byte was empty, or 0x00 otherwise. The empty{Before,After}
	// != 0 checks test whether the groups starting at indexBefore and i
	// contain an empty byte at all; counting the trailing zeros of
	// emptyAfter and the leading zeros of emptyBefore (each divided by 8 to
	// convert bits to bytes) measures the distance to the nearest empty byte
	// on each side.
	if emptyBefore != 0 && emptyAfter != 0 &&
		((bits.TrailingZeros64(uint64(emptyAfter))>>3)+
			(bits.LeadingZeros64(uint64(emptyBefore))>>3)) < groupSize {
		return true
	}
	return false
}

// findIndex returns the index of the slot holding key, probing from hash h.
func (t *table[K, V]) findIndex(h uintptr, key K) (uintptr, bool) {
	seq := makeProbeSeq(h1(h), t.capacity)
	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		match := g.matchH2(h2(h))
		for match != 0 {
			bit := match.next()
			i := seq.offsetAt(bit)
			if key == t.slots.At(i).key {
				return i, true
			}
			match = match.clear(bit)
		}
		if g.matchEmpty() != 0 {
			return 0, false
		}
		if invariants {
			if seq.index > t.capacity {
				panic("rosti: probe sequence failed to terminate")
			}
		}
	}
}

// findIndexFunc is findIndex with an arbitrary match predicate standing in
// for key equality. Used by the RawEntry API.
func (t *table[K, V]) findIndexFunc(h uintptr, match func(key K) bool) (uintptr, bool) {
	seq := makeProbeSeq(h1(h), t.capacity)
	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		mb := g.matchH2(h2(h))
		for mb != 0 {
			bit := mb.next()
			i := seq.offsetAt(bit)
			if match(t.slots.At(i).key) {
				return i, true
			}
			mb = mb.clear(bit)
		}
		if g.matchEmpty() != 0 {
			return 0, false
		}
		if invariants {
			if seq.index > t.capacity {
				panic("rosti: probe sequence failed to terminate")
			}
		}
	}
}

// findInsertSlot returns the index of the first empty or deleted slot along
// the probe sequence for h. The caller must have established that the key is
// not present.
func (t *table[K, V]) findInsertSlot(h uintptr) uintptr {
	seq := makeProbeSeq(h1(h), t.capacity)
	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		if match := g.matchEmptyOrDeleted(); match != 0 {
			return seq.offsetAt(match.next())
		}
	}
}

// prepareInsert claims slot i (known empty or deleted) for a new entry with
// hash h: it grows the table first if there is no growth budget left (in
// which case the claimed slot is recomputed), performs the accounting, and
// writes the control byte. The caller stores the key and value at the
// returned index. hasher is used to rehash existing entries should the
// insertion force a rebuild.
func (t *table[K, V]) prepareInsert(m *Map[K, V], h uintptr, i uintptr, hasher hashFn) (uintptr, error) {
	if t.growthLeft == 0 && *t.ctrls.At(i) == ctrlEmpty {
		// Before performing the insertion we may decide the table is getting
		// overcrowded (i.e. the load factor is greater than 7/8 for big
		// tables; small tables use a max load factor of 6/7). Reusing a
		// tombstone needs no budget.
		if err := t.rehash(m, hasher); err != nil {
			return 0, err
		}
		i = t.findInsertSlot(h)
	}
	if *t.ctrls.At(i) == ctrlEmpty {
		t.growthLeft--
	} else {
		t.tombstones--
	}
	t.setCtrl(i, ctrl(h2(h)))
	t.used++
	return i, nil
}

// findOrPrepareInsert looks up key, probing from hash h. If the key is
// present the index of its slot is returned with existed=true. Otherwise the
// first empty or deleted slot seen along the probe sequence is claimed via
// prepareInsert and returned: the caller must store the key and value there.
func (t *table[K, V]) findOrPrepareInsert(m *Map[K, V], h uintptr, key K) (uintptr, bool, error) {
	var insertSlot uintptr
	insertSlotFound := false

	seq := makeProbeSeq(h1(h), t.capacity)
	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		match := g.matchH2(h2(h))
		for match != 0 {
			bit := match.next()
			i := seq.offsetAt(bit)
			if key == t.slots.At(i).key {
				return i, true, nil
			}
			match = match.clear(bit)
		}
		if !insertSlotFound {
			if match := g.matchEmptyOrDeleted(); match != 0 {
				insertSlot = seq.offsetAt(match.next())
				insertSlotFound = true
			}
		}
		if g.matchEmpty() != 0 {
			i, err := t.prepareInsert(m, h, insertSlot, m.hash)
			if err != nil {
				return 0, false, err
			}
			return i, false, nil
		}
		if invariants {
			if seq.index > t.capacity {
				panic("rosti: probe sequence failed to terminate")
			}
		}
	}
}

// uncheckedPut inserts an entry known not to be in the table. Used during
// rebuilds and by PutUnique. The caller is responsible for incrementing
// used.
func (t *table[K, V]) uncheckedPut(h uintptr, key K, value V) {
	// Given key and its hash hash(key), to insert it, we construct a
	// probeSeq, and use it to find the first group with an unoccupied (empty
	// or deleted) slot. We place the key/value into the first such slot in
	// the group and mark it as full with key's H2.
	seq := makeProbeSeq(h1(h), t.capacity)
	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		if match := g.matchEmptyOrDeleted(); match != 0 {
			i := seq.offsetAt(match.next())
			slot := t.slots.At(i)
			slot.key = key
			slot.value = value
			if *t.ctrls.At(i) == ctrlEmpty {
				t.growthLeft--
			} else {
				t.tombstones--
			}
			t.setCtrl(i, ctrl(h2(h)))
			return
		}
	}
}

// erase removes the entry at slot i: the pair is zeroed for the GC's
// benefit and the control byte becomes either empty or a tombstone.
//
// Destroying the contents and marking the ctrl deleted is always correct.
// If we can prove that the slot would not appear mid-way through any probe
// sequence we can mark the slot as empty instead, which keeps later probes
// short. The proof is wasNeverFull: a slot adjacent to empties on both
// sides within a group's reach was never part of a full group, and probing
// never continues past a group containing an empty byte.
func (t *table[K, V]) erase(i uintptr) {
	*t.slots.At(i) = Slot[K, V]{}
	t.used--
	if t.wasNeverFull(i) {
		t.setCtrl(i, ctrlEmpty)
		t.growthLeft++
	} else {
		t.setCtrl(i, ctrlDeleted)
		t.tombstones++
	}
}

// reserve ensures the table can absorb additional more insertions without
// another rebuild. When tombstones alone are consuming the budget the table
// is rebuilt in place at its current size; otherwise it is resized. hasher
// is the hash strategy used to rehash existing entries.
func (t *table[K, V]) reserve(m *Map[K, V], additional int, hasher hashFn) error {
	if additional <= t.growthLeft {
		return nil
	}
	target := t.used + additional
	if target < t.used {
		return ErrCapacityOverflow
	}
	if target <= usableCapacity(t.capacity) {
		// The capacity is sufficient; tombstones are eating the growth
		// budget. Rebuilding in place drops them.
		t.rehashInPlace(m, hasher)
		return nil
	}
	newCapacity, err := capacityForTarget(uintptr(target))
	if err != nil {
		return err
	}
	return t.resize(m, newCapacity, hasher)
}

// rehash reclaims tombstones in place when enough of the capacity is
// recoverable, and otherwise doubles the table.
func (t *table[K, V]) rehash(m *Map[K, V], hasher hashFn) error {
	// Rehash in place if we can recover >= 1/3 of the capacity. Note that
	// this heuristic differs from Abseil's and was experimentally determined
	// to balance performance on the PutDelete benchmark vs achieving a
	// reasonable load-factor.
	//
	// Abseil notes that in the worst case it takes ~4 Put/Delete pairs to
	// create a single tombstone. Rehashing in place is significantly faster
	// than resizing because the common case is that elements remain in their
	// current location. The performance of rehashInPlace is dominated by
	// recomputing the hash of every key.
	recoverable := uintptr(usableCapacity(t.capacity) - t.used)
	if t.capacity > groupSize && recoverable >= t.capacity/3 {
		t.rehashInPlace(m, hasher)
		return nil
	}
	return t.resize(m, 2*t.capacity+1, hasher)
}

// resize rebuilds the table at newCapacity by allocating a fresh slot and
// control array and re-inserting every element (recomputing each hash with
// hasher), then discarding the old arrays. Tombstones are dropped for free.
// Also used for shrinking: newCapacity may be smaller than the current
// capacity provided the usable capacity still covers the used count.
func (t *table[K, V]) resize(m *Map[K, V], newCapacity uintptr, hasher hashFn) error {
	if (1 + newCapacity) < groupSize {
		newCapacity = groupSize - 1
	}

	slots, err := m.allocator.AllocSlots(int(newCapacity))
	if err != nil {
		return errors.Wrapf(err, "rosti: allocating %d slots", newCapacity)
	}
	ctrls, err := m.allocator.AllocControls(int(newCapacity + groupSize))
	if err != nil {
		m.allocator.FreeSlots(slots)
		return errors.Wrapf(err, "rosti: allocating %d control bytes", newCapacity+groupSize)
	}

	oldCtrls, oldSlots, oldCapacity := t.ctrls, t.slots, t.capacity
	t.slots = makeUnsafeSlice(slots)
	t.ctrls = makeUnsafeSlice(unsafeConvertSlice[ctrl](ctrls))
	t.capacity = newCapacity
	t.resetCtrls()
	t.tombstones = 0
	t.gen++

	if debug {
		fmt.Printf("resize: capacity=%d->%d growth-left=%d\n",
			oldCapacity, newCapacity, t.growthLeft)
	}

	for i := uintptr(0); i < oldCapacity; i++ {
		c := *oldCtrls.At(i)
		if c == ctrlEmpty || c == ctrlDeleted {
			continue
		}
		slot := oldSlots.At(i)
		h := hasher(noescape(unsafe.Pointer(&slot.key)), m.seed)
		t.uncheckedPut(h, slot.key, slot.value)
	}

	if oldCapacity > 0 {
		m.allocator.FreeSlots(oldSlots.Slice(0, oldCapacity))
		m.allocator.FreeControls(unsafeConvertSlice[uint8](oldCtrls.Slice(0, oldCapacity+groupSize)))
	}

	t.checkInvariants(m)
	return nil
}

// rehashInPlace drops every tombstone without changing the capacity,
// relocating the elements whose probe position the reclaimed slots used to
// satisfy.
func (t *table[K, V]) rehashInPlace(m *Map[K, V], hasher hashFn) {
	// An unallocated table shares emptyCtrls, which must not be written.
	if t.capacity == 0 {
		return
	}
	if debug {
		fmt.Printf("rehash-in-place: %d/%d\n", t.used, t.capacity)
	}

	// We want to drop all of the deletes in place. We first walk over the
	// control bytes and mark every DELETED slot as EMPTY and every FULL slot
	// as DELETED. Marking the DELETED slots as EMPTY has effectively dropped
	// the tombstones, but we fouled up the probe invariant. Marking the FULL
	// slots as DELETED gives us a marker to locate the previously FULL slots.

	// Mark all DELETED slots as EMPTY and all FULL slots as DELETED.
	for i := uintptr(0); i < t.capacity; i += groupSize {
		t.ctrls.At(i).convertNonFullToEmptyAndFullToDeleted()
	}

	// Fixup the cloned control bytes and the sentinel.
	for i, n := uintptr(0), uintptr(groupSize-1); i < n; i++ {
		*t.ctrls.At(((i-(groupSize-1))&t.capacity)+(groupSize-1)) = *t.ctrls.At(i)
	}
	*t.ctrls.At(t.capacity) = ctrlSentinel

	// Now we walk over all of the DELETED slots (a.k.a. the previously FULL
	// slots). For each slot we find the first probe group we can place the
	// element in which reestablishes the probe invariant. Note that as this
	// loop proceeds we have the invariant that there are no DELETED slots in
	// the range [0, i). We may move the element at i to the range [0, i) if
	// that is where the first group with an empty slot in its probe chain
	// resides, but we never set a slot in [0, i) to DELETED.
	for i := uintptr(0); i < t.capacity; i++ {
		if *t.ctrls.At(i) != ctrlDeleted {
			continue
		}

		s := t.slots.At(i)
		h := hasher(noescape(unsafe.Pointer(&s.key)), m.seed)
		seq := makeProbeSeq(h1(h), t.capacity)
		desired := seq

		probeIndex := func(pos uintptr) uintptr {
			return ((pos - desired.offset) & t.capacity) / groupSize
		}

		var target uintptr
		for ; ; seq = seq.next() {
			g := t.ctrls.At(seq.offset)
			if match := g.matchEmptyOrDeleted(); match != 0 {
				target = seq.offsetAt(match.next())
				break
			}
		}

		if i == target || probeIndex(i) == probeIndex(target) {
			// If the target index falls within the first probe group then we
			// don't need to move the element as it already falls in the best
			// probe position.
			t.setCtrl(i, ctrl(h2(h)))
			continue
		}

		if *t.ctrls.At(target) == ctrlEmpty {
			// The target slot is empty. Transfer the element to the empty
			// slot and mark the slot at index i as empty.
			t.setCtrl(target, ctrl(h2(h)))
			*t.slots.At(target) = *t.slots.At(i)
			*t.slots.At(i) = Slot[K, V]{}
			t.setCtrl(i, ctrlEmpty)
			continue
		}

		if *t.ctrls.At(target) == ctrlDeleted {
			// The slot at target has an element (i.e. it was FULL). We're
			// going to swap our current element with that element and then
			// repeat processing of index i which now holds the element which
			// was at target.
			t.setCtrl(target, ctrl(h2(h)))
			tmp := t.slots.At(target)
			*s, *tmp = *tmp, *s
			// Repeat processing of the i'th slot which now holds a new
			// key/value.
			i--
			continue
		}

		panic(fmt.Sprintf("rosti: ctrl at position %d (%02x) should be empty or deleted",
			target, *t.ctrls.At(target)))
	}

	t.growthLeft = usableCapacity(t.capacity) - t.used
	t.tombstones = 0
	t.gen++

	if debug {
		fmt.Printf("rehash-in-place: done used=%d growth-left=%d\n", t.used, t.growthLeft)
	}

	t.checkInvariants(m)
}

// dealloc returns the table's memory to the allocator and leaves it with
// zero capacity. The ctrls are left pointing at the nil slice; callers that
// need the table to remain usable must restore emptyCtrls.
func (t *table[K, V]) dealloc(m *Map[K, V]) {
	if t.capacity > 0 {
		m.allocator.FreeSlots(t.slots.Slice(0, t.capacity))
		m.allocator.FreeControls(unsafeConvertSlice[uint8](t.ctrls.Slice(0, t.capacity+groupSize)))
		t.capacity = 0
		t.used = 0
		t.tombstones = 0
		t.growthLeft = 0
		t.gen++
	}
	t.ctrls = makeUnsafeSlice([]ctrl(nil))
	t.slots = makeUnsafeSlice([]Slot[K, V](nil))
}

func (t *table[K, V]) checkInvariants(m *Map[K, V]) {
	if invariants {
		if t.capacity > 0 {
			// Verify the cloned control bytes are good.
			for i, n := uintptr(0), uintptr(groupSize-1); i < n; i++ {
				j := ((i - (groupSize - 1)) & t.capacity) + (groupSize - 1)
				ci := *t.ctrls.At(i)
				cj := *t.ctrls.At(j)
				if ci != cj {
					panic(fmt.Sprintf("invariant failed: ctrl(%d)=%02x != ctrl(%d)=%02x\n%s",
						i, ci, j, cj, t.debugString(m)))
				}
			}
			// Verify the sentinel is good.
			if c := *t.ctrls.At(t.capacity); c != ctrlSentinel {
				panic(fmt.Sprintf("invariant failed: ctrl(%d): expected sentinel, but found %02x\n%s",
					t.capacity, c, t.debugString(m)))
			}
		}

		// For every non-empty slot, verify we can retrieve the key using
		// findIndex. Count the number of used and deleted slots.
		var used int
		var deleted int
		for i := uintptr(0); i < t.capacity; i++ {
			c := *t.ctrls.At(i)
			switch {
			case c == ctrlDeleted:
				deleted++
			case c == ctrlEmpty:
			case c == ctrlSentinel:
				panic(fmt.Sprintf("invariant failed: ctrl(%d): unexpected sentinel", i))
			default:
				s := t.slots.At(i)
				h := m.hash(noescape(unsafe.Pointer(&s.key)), m.seed)
				if _, ok := t.findIndex(h, s.key); !ok {
					panic(fmt.Sprintf("invariant failed: slot(%d): %v not found [h2=%02x h1=%07x]\n%s",
						i, s.key, h2(h), h1(h), t.debugString(m)))
				}
				used++
			}
		}

		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, t.used, t.debugString(m)))
		}
		if deleted != t.tombstones {
			panic(fmt.Sprintf("invariant failed: found %d deleted slots, but tombstone count is %d\n%s",
				deleted, t.tombstones, t.debugString(m)))
		}

		growthLeft := usableCapacity(t.capacity) - t.used - deleted
		if growthLeft != t.growthLeft {
			panic(fmt.Sprintf("invariant failed: found %d growthLeft, but expected %d\n%s",
				t.growthLeft, growthLeft, t.debugString(m)))
		}
	}
}

func (t *table[K, V]) debugString(m *Map[K, V]) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  tombstones=%d  growth-left=%d\n",
		t.capacity, t.used, t.tombstones, t.growthLeft)
	for i := uintptr(0); i < t.capacity+groupSize; i++ {
		switch c := *t.ctrls.At(i); c {
		case ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case ctrlDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		case ctrlSentinel:
			fmt.Fprintf(&buf, "  %4d: sentinel\n", i)
		default:
			if i < t.capacity {
				s := t.slots.At(i)
				h := m.hash(noescape(unsafe.Pointer(&s.key)), m.seed)
				fmt.Fprintf(&buf, "  %4d: %v [ctrl=%02x h2=%02x]\n", i, s.key, c, h2(h))
			} else {
				fmt.Fprintf(&buf, "  %4d: [ctrl=%02x]\n", i, c)
			}
		}
	}
	return buf.String()
}

type bitset uint64

func (b bitset) next() uintptr {
	return uintptr(bits.TrailingZeros64(uint64(b))) >> 3
}

func (b bitset) clear(i uintptr) bitset {
	return b &^ (bitset(0x80) << (i << 3))
}

func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(groupSize)
	for i := 0; i < groupSize; i++ {
		if (b & (bitset(0x80) << (i << 3))) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// Each slot in the hash table has a control byte which can have one of four
// states: empty, deleted, full and the sentinel. They have the following bit
// patterns:
//
//	   empty: 1 0 0 0 0 0 0 0
//	 deleted: 1 1 1 1 1 1 1 0
//	    full: 0 h h h h h h h  // h represents the H2 hash bits
//	sentinel: 1 1 1 1 1 1 1 1
type ctrl uint8

var emptyCtrls = func() unsafeSlice[ctrl] {
	v := make([]ctrl, groupSize)
	for i := range v {
		v[i] = ctrlEmpty
	}
	return makeUnsafeSlice(v)
}()

func (c *ctrl) matchH2(h uintptr) bitset {
	// NB: This generic matching routine produces false positive matches when
	// h is 2^N and the control bytes have a seq of 2^N followed by 2^N+1.
	// For example: if ctrls==0x0302 and h=02, we'll compute v as 0x0100.
	// When we subtract off 0x0101 the first 2 bytes we'll become 0xffff and
	// both be considered matches of h. The false positive matches are not a
	// problem, just a rare inefficiency. Note that they only occur if there
	// is a real match and never occur on ctrlEmpty, ctrlDeleted, or
	// ctrlSentinel. The subsequent key comparisons ensure that there is no
	// correctness issue.
	v := *(*uint64)((unsafe.Pointer)(c)) ^ (bitsetLSB * uint64(h))
	return bitset(((v - bitsetLSB) &^ v) & bitsetMSB)
}

// matchEmpty returns a bitset where each byte is 0x80 if that control byte
// indicates an empty slot (and 0x00 otherwise).
func (c *ctrl) matchEmpty() bitset {
	v := *(*uint64)((unsafe.Pointer)(c))
	// An empty slot is              1000 0000
	// A deleted or sentinel slot is 1111 111?
	// A slot is empty iff bit 7 is set and bit 1 is not. We could select any
	// of the other bits here (e.g. v << 1 would also work).
	return bitset((v &^ (v << 6)) & bitsetMSB)
}

// matchEmptyOrDeleted returns a bitset where each byte is 0x80 if that
// control byte indicates an empty or deleted slot (and 0x00 otherwise).
func (c *ctrl) matchEmptyOrDeleted() bitset {
	// An empty slot is  1000 0000.
	// A deleted slot is 1111 1110.
	// The sentinel is   1111 1111.
	// A slot is empty or deleted iff bit 7 is set and bit 0 is not.
	v := *(*uint64)((unsafe.Pointer)(c))
	return bitset((v &^ (v << 7)) & bitsetMSB)
}

// convertNonFullToEmptyAndFullToDeleted converts deleted or sentinel control
// bytes in a group to empty control bytes, and control bytes indicating full
// slots to deleted control bytes.
func (c *ctrl) convertNonFullToEmptyAndFullToDeleted() {
	// An empty slot is     1000 0000
	// A deleted slot is    1111 1110
	// The sentinel slot is 1111 1111
	// A full slot is       0??? ????
	//
	// We select the MSB, invert, add 1 if the MSB was set and zero out the
	// low bit.
	//
	//  - if the MSB was set (i.e. slot was empty, deleted, or sentinel):
	//     v:             1000 0000
	//     ^v:            0111 1111
	//     ^v + (v >> 7): 1000 0000
	//     &^ bitsetLSB:  1000 0000  = empty slot.
	//
	// - if the MSB was not set (i.e. full slot):
	//     v:             0000 0000
	//     ^v:            1111 1111
	//     ^v + (v >> 7): 1111 1111
	//     &^ bitsetLSB:  1111 1110 = deleted slot.
	p := (*uint64)((unsafe.Pointer)(c))
	v := *p & bitsetMSB
	*p = (^v + (v >> 7)) &^ bitsetLSB
}

// probeSeq maintains the state for a probe sequence. The sequence is a
// triangular progression of the form
//
//	p(i) := groupSize * (i^2 + i)/2 + hash (mod mask+1)
//
// The use of groupSize ensures that each probe step does not overlap groups;
// the sequence effectively outputs the addresses of *groups* (although not
// necessarily aligned to any boundary). The group machinery allows us to
// check an entire group with minimal branching.
//
// Wrapping around at mask+1 is important, but not for the obvious reason. As
// described above, the first few entries of the control byte array are
// mirrored at the end of the array, which group will find and use for
// selecting candidates. However, when those candidates' slots are actually
// inspected, there are no corresponding slots for the cloned bytes, so we
// need to make sure we've treated those offsets as "wrapping around".
//
// It turns out that this probe sequence visits every group exactly once if
// the number of groups is a power of two, since (i^2+i)/2 is a bijection in
// Z/(2^m). See https://en.wikipedia.org/wiki/Quadratic_probing
type probeSeq struct {
	mask   uintptr
	offset uintptr
	index  uintptr
}

func makeProbeSeq(hash, mask uintptr) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: hash & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index += groupSize
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) offsetAt(i uintptr) uintptr {
	return (s.offset + i) & s.mask
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}

// Extracts the H1 portion of a hash: the 57 upper bits.
func h1(h uintptr) uintptr {
	return h >> 7
}

// Extracts the H2 portion of a hash: the 7 bits not used for h1.
//
// These are used as an occupied control byte.
func h2(h uintptr) uintptr {
	return h & 0x7f
}

// noescape hides a pointer from escape analysis. noescape is the identity
// function but escape analysis doesn't think the output depends on the
// input. noescape is inlined and currently compiles down to zero
// instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}

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

import "iter"

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. All is a range-over-function
// iterator:
//
//	for k, v := range m.All {
//		fmt.Printf("%v: %v\n", k, v)
//	}
//
// The iteration order is unspecified and differs between maps holding the
// same entries. The map can be mutated during iteration, though there is no
// guarantee that the mutations will be visible to the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	t := &m.table
	// Snapshot the capacity, controls, and slots so that iteration remains
	// valid if the map is resized during iteration.
	capacity := t.capacity
	ctrls := t.ctrls
	slots := t.slots

	for i := uintptr(0); i < capacity; i++ {
		// Match full entries which have a high-bit of zero.
		if (*ctrls.At(i) & ctrlEmpty) != ctrlEmpty {
			s := slots.At(i)
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// AllMut is All with the value yielded as a pointer so entries can be
// mutated in place during iteration. The pointers are only valid during the
// yield call they were passed to.
func (m *Map[K, V]) AllMut(yield func(key K, value *V) bool) {
	t := &m.table
	capacity := t.capacity
	ctrls := t.ctrls
	slots := t.slots

	for i := uintptr(0); i < capacity; i++ {
		if (*ctrls.At(i) & ctrlEmpty) != ctrlEmpty {
			s := slots.At(i)
			if !yield(s.key, &s.value) {
				return
			}
		}
	}
}

// Keys calls yield for each key present in the map. See All for the
// iteration caveats.
func (m *Map[K, V]) Keys(yield func(key K) bool) {
	m.All(func(key K, _ V) bool {
		return yield(key)
	})
}

// Values calls yield for each value present in the map. See All for the
// iteration caveats.
func (m *Map[K, V]) Values(yield func(value V) bool) {
	m.All(func(_ K, value V) bool {
		return yield(value)
	})
}

// Drain yields every entry while removing all of them. When Drain returns
// the map is empty with its backing storage retained, regardless of whether
// the consumer ran the iteration to completion, stopped early, or panicked.
// The map must not be otherwise accessed until Drain returns.
func (m *Map[K, V]) Drain(yield func(key K, value V) bool) {
	t := &m.table
	if t.capacity == 0 {
		return
	}
	// The removal obligation holds even on early stop or panic.
	defer m.Clear()

	for i := uintptr(0); i < t.capacity; i++ {
		if (*t.ctrls.At(i) & ctrlEmpty) != ctrlEmpty {
			s := t.slots.At(i)
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// DrainFilter returns an iterator which applies pred to every entry,
// removing and yielding the entries for which it returns true. The
// predicate may mutate the value through the supplied pointer, whether or
// not it claims the entry.
//
// The predicate is applied to every entry even if the consumer of the
// iterator stops early: the remaining entries are filtered (without being
// yielded) before the iterator returns. Entries the predicate rejects stay
// in the map. The map must not be otherwise accessed until the iterator
// returns.
func (m *Map[K, V]) DrainFilter(pred func(key K, value *V) bool) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		t := &m.table
		i := uintptr(0)
		// If yield stops the iteration (or panics), finish applying the
		// predicate to the remaining entries. Slot i itself is covered: if
		// it was just erased the full check skips it.
		defer func() {
			for ; i < t.capacity; i++ {
				if (*t.ctrls.At(i) & ctrlEmpty) != ctrlEmpty {
					s := t.slots.At(i)
					if pred(s.key, &s.value) {
						t.erase(i)
					}
				}
			}
			t.checkInvariants(m)
		}()

		for ; i < t.capacity; i++ {
			if (*t.ctrls.At(i) & ctrlEmpty) != ctrlEmpty {
				s := t.slots.At(i)
				if pred(s.key, &s.value) {
					k, v := s.key, s.value
					t.erase(i)
					if !yield(k, v) {
						i++
						return
					}
				}
			}
		}
	}
}

// Extend inserts every pair produced by seq, overwriting values for keys
// already present.
func (m *Map[K, V]) Extend(seq iter.Seq2[K, V]) {
	for k, v := range seq {
		m.Put(k, v)
	}
}

// Collect constructs a new map holding every pair produced by seq. Later
// pairs win for duplicate keys.
func Collect[K comparable, V any](seq iter.Seq2[K, V], options ...option[K, V]) *Map[K, V] {
	m := New[K, V](0, options...)
	m.Extend(seq)
	return m
}

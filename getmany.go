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

// GetMany returns pointers to the values for all of the given keys at once,
// suitable for updating several entries without repeated lookups. The
// result is all-or-nothing: if any key is absent, or the same slot is named
// by two keys, GetMany returns (nil, false) and no pointers are exposed.
// The pointers are valid until the table is next rebuilt.
func (m *Map[K, V]) GetMany(keys ...K) ([]*V, bool) {
	idxs, ok := m.getManyIndices(keys, true)
	if !ok {
		return nil, false
	}
	t := &m.table
	ptrs := make([]*V, len(idxs))
	for j, i := range idxs {
		ptrs[j] = &t.slots.At(i).value
	}
	return ptrs, true
}

// GetManyUnchecked is GetMany without the pairwise-distinctness check. The
// caller must guarantee the keys name distinct entries; if two keys resolve
// to the same slot the returned pointers alias each other. Absent keys are
// still detected.
func (m *Map[K, V]) GetManyUnchecked(keys ...K) ([]*V, bool) {
	idxs, ok := m.getManyIndices(keys, false)
	if !ok {
		return nil, false
	}
	t := &m.table
	ptrs := make([]*V, len(idxs))
	for j, i := range idxs {
		ptrs[j] = &t.slots.At(i).value
	}
	return ptrs, true
}

// GetManyKeyValue is GetMany returning the stored keys alongside the value
// pointers. The keys are copies of the stored keys, which under a custom
// hash policy need not be byte-identical to the arguments.
func (m *Map[K, V]) GetManyKeyValue(keys ...K) ([]K, []*V, bool) {
	return m.getManyKeyValue(keys, true)
}

// GetManyKeyValueUnchecked is GetManyKeyValue without the
// pairwise-distinctness check; see GetManyUnchecked.
func (m *Map[K, V]) GetManyKeyValueUnchecked(keys ...K) ([]K, []*V, bool) {
	return m.getManyKeyValue(keys, false)
}

func (m *Map[K, V]) getManyKeyValue(keys []K, checked bool) ([]K, []*V, bool) {
	idxs, ok := m.getManyIndices(keys, checked)
	if !ok {
		return nil, nil, false
	}
	t := &m.table
	stored := make([]K, len(idxs))
	ptrs := make([]*V, len(idxs))
	for j, i := range idxs {
		slot := t.slots.At(i)
		stored[j] = slot.key
		ptrs[j] = &slot.value
	}
	return stored, ptrs, true
}

// getManyIndices resolves every key to its slot index, failing as a whole if
// any key is absent or, when checked, if two keys resolve to the same slot.
func (m *Map[K, V]) getManyIndices(keys []K, checked bool) ([]uintptr, bool) {
	if len(keys) == 0 {
		return []uintptr{}, true
	}
	t := &m.table
	if t.used == 0 {
		return nil, false
	}
	idxs := make([]uintptr, len(keys))
	for j := range keys {
		h := m.hash(noescape(unsafe.Pointer(&keys[j])), m.seed)
		i, ok := t.findIndex(h, keys[j])
		if !ok {
			return nil, false
		}
		if checked {
			// Quadratic, but the key counts this is used with are small.
			for _, prev := range idxs[:j] {
				if prev == i {
					return nil, false
				}
			}
		}
		idxs[j] = i
	}
	return idxs, true
}

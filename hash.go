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

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// StringHash hashes s with xxhash, mixing in seed. Unlike the default
// runtime-derived hash it is stable across processes and architectures of
// the same word size, which makes it suitable for hashes that are persisted
// or memoized externally and replayed through RawEntryHashed. Install it on
// a map with:
//
//	m := New[string, V](0, WithHash[string, V](func(key *string, seed uintptr) uintptr {
//		return StringHash(*key, seed)
//	}))
func StringHash(s string, seed uintptr) uintptr {
	return uintptr(mix64(xxhash.Sum64String(s) ^ uint64(seed)))
}

// BytesHash is StringHash for a byte slice. BytesHash(b, seed) ==
// StringHash(string(b), seed) without the conversion allocating.
func BytesHash(b []byte, seed uintptr) uintptr {
	return uintptr(mix64(xxhash.Sum64(b) ^ uint64(seed)))
}

// mix64 is the murmur3 64-bit finalizer. xxhash's seedless fast paths leave
// the seed to us; running the xor of digest and seed through a full
// avalanche keeps the h1/h2 split well distributed for any seed.
func mix64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// bytesToString returns a string view over b without copying. The view
// aliases b's memory: it must not be stored anywhere that outlives the call,
// and b must not be mutated while the view is live. Lookup operations
// qualify because they only compare against the view.
func bytesToString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// GetBytes retrieves the value for key from a string-keyed map without
// materializing a string from the byte slice.
func GetBytes[V any](m *Map[string, V], key []byte) (value V, ok bool) {
	return m.Get(bytesToString(key))
}

// GetPtrBytes is GetPtr for a byte slice key. The returned pointer is valid
// until the table is next rebuilt.
func GetPtrBytes[V any](m *Map[string, V], key []byte) *V {
	return m.GetPtr(bytesToString(key))
}

// ContainsBytes reports whether a string-keyed map contains the key given as
// a byte slice, without allocating.
func ContainsBytes[V any](m *Map[string, V], key []byte) bool {
	return m.Contains(bytesToString(key))
}

// DeleteBytes deletes the entry for a byte slice key from a string-keyed
// map without allocating.
func DeleteBytes[V any](m *Map[string, V], key []byte) {
	m.Delete(bytesToString(key))
}

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
	"maps"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAll(t *testing.T) {
	m := New[int, int](0)
	defer m.Close()

	e := make(map[int]int)
	for i := 0; i < 100; i++ {
		m.Put(i, i*10)
		e[i] = i * 10
	}

	seen := make(map[int]int)
	for k, v := range m.All {
		seen[k] = v
	}
	require.Equal(t, e, seen)

	// Stopping early visits exactly the prefix.
	count := 0
	for range m.All {
		count++
		if count == 3 {
			break
		}
	}
	require.EqualValues(t, 3, count)

	m.Clear()
	for range m.All {
		t.Fatal("yield on empty map")
	}
}

func TestAllMut(t *testing.T) {
	m := New[int, int](0)
	defer m.Close()

	for i := 0; i < 100; i++ {
		m.Put(i, i)
	}
	for _, v := range m.AllMut {
		*v *= 2
	}
	for i := 0; i < 100; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.EqualValues(t, 2*i, v)
	}
}

func TestKeysValues(t *testing.T) {
	m := New[int, string](0)
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.Put(i, string(rune('a'+i)))
	}

	keys := make(map[int]struct{})
	for k := range m.Keys {
		keys[k] = struct{}{}
	}
	require.EqualValues(t, 10, len(keys))
	for i := 0; i < 10; i++ {
		require.Contains(t, keys, i)
	}

	values := make(map[string]struct{})
	for v := range m.Values {
		values[v] = struct{}{}
	}
	require.EqualValues(t, 10, len(values))
	require.Contains(t, values, "a")
	require.Contains(t, values, "j")
}

func TestDrain(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		m := New[int, int](0)
		defer m.Close()
		e := make(map[int]int)
		for i := 0; i < 100; i++ {
			m.Put(i, i)
			e[i] = i
		}
		before := m.table.capacity

		drained := make(map[int]int)
		for k, v := range m.Drain {
			drained[k] = v
		}
		require.Equal(t, e, drained)
		require.EqualValues(t, 0, m.Len())
		// The backing storage survives a drain.
		require.Equal(t, before, m.table.capacity)

		// The map is usable afterwards.
		m.Put(1, 2)
		v, ok := m.Get(1)
		require.True(t, ok)
		require.EqualValues(t, 2, v)
	})

	t.Run("early-stop", func(t *testing.T) {
		m := New[int, int](0)
		defer m.Close()
		for i := 0; i < 100; i++ {
			m.Put(i, i)
		}

		// The map empties even when the consumer stops after a prefix.
		count := 0
		for range m.Drain {
			count++
			if count == 3 {
				break
			}
		}
		require.EqualValues(t, 3, count)
		require.EqualValues(t, 0, m.Len())
	})

	t.Run("empty", func(t *testing.T) {
		m := New[int, int](0)
		defer m.Close()
		for range m.Drain {
			t.Fatal("yield on empty map")
		}
	})
}

func TestDrainFilter(t *testing.T) {
	t.Run("partition", func(t *testing.T) {
		m := New[int, int](0)
		defer m.Close()
		for i := 0; i < 100; i++ {
			m.Put(i, i)
		}

		drained := make(map[int]int)
		for k, v := range m.DrainFilter(func(k int, _ *int) bool { return k%2 == 0 }) {
			drained[k] = v
		}
		require.EqualValues(t, 50, len(drained))
		require.EqualValues(t, 50, m.Len())
		for i := 0; i < 100; i++ {
			if i%2 == 0 {
				require.Contains(t, drained, i)
				require.False(t, m.Contains(i))
			} else {
				require.True(t, m.Contains(i))
			}
		}
	})

	t.Run("mutate", func(t *testing.T) {
		m := New[int, int](0)
		defer m.Close()
		for i := 0; i < 10; i++ {
			m.Put(i, i)
		}

		// The predicate can mutate values whether or not it claims the
		// entry. Mutations to claimed entries show up in the yielded value.
		for k, v := range m.DrainFilter(func(_ int, v *int) bool {
			*v += 1000
			return *v%2 == 0
		}) {
			require.EqualValues(t, k+1000, v)
		}
		for k, v := range m.All {
			require.EqualValues(t, k+1000, v)
		}
	})

	t.Run("early-stop", func(t *testing.T) {
		m := New[int, int](0)
		defer m.Close()
		for i := 0; i < 100; i++ {
			m.Put(i, i)
		}

		// Even when the consumer stops early, the predicate runs over every
		// entry exactly once and the claimed entries are all removed.
		predCalls := 0
		count := 0
		for range m.DrainFilter(func(k int, _ *int) bool {
			predCalls++
			return k%2 == 0
		}) {
			count++
			if count == 5 {
				break
			}
		}
		require.EqualValues(t, 5, count)
		require.EqualValues(t, 100, predCalls)
		require.EqualValues(t, 50, m.Len())
		for i := 0; i < 100; i += 2 {
			require.False(t, m.Contains(i))
		}
	})

	t.Run("empty", func(t *testing.T) {
		m := New[int, int](0)
		defer m.Close()
		for range m.DrainFilter(func(int, *int) bool { return true }) {
			t.Fatal("yield on empty map")
		}
	})
}

func TestExtend(t *testing.T) {
	m := New[int, int](0)
	defer m.Close()
	m.Put(1, -1)

	src := map[int]int{1: 10, 2: 20, 3: 30}
	m.Extend(maps.All(src))
	require.EqualValues(t, 3, m.Len())
	for k, v := range src {
		got, ok := m.Get(k)
		require.True(t, ok)
		require.EqualValues(t, v, got)
	}

	// Extending from another map's iterator.
	m2 := New[int, int](0)
	defer m2.Close()
	m2.Extend(m.All)
	require.Equal(t, m.toBuiltinMap(), m2.toBuiltinMap())
}

func TestCollect(t *testing.T) {
	src := map[string]int{"a": 1, "b": 2, "c": 3}
	m := Collect(maps.All(src))
	defer m.Close()
	require.EqualValues(t, len(src), m.Len())
	require.Equal(t, src, m.toBuiltinMap())
}

func TestCollectDuplicateKeys(t *testing.T) {
	seq := func(yield func(int, string) bool) {
		pairs := []struct {
			k int
			v string
		}{{2, "a"}, {1, "x"}, {2, "b"}}
		for _, p := range pairs {
			if !yield(p.k, p.v) {
				return
			}
		}
	}
	// The last occurrence of a duplicated key wins, as with repeated Puts.
	m := Collect[int, string](seq)
	defer m.Close()
	require.EqualValues(t, 2, m.Len())
	v, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, "x", v)
	v, ok = m.Get(2)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

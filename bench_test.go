package rosti

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapIter[int64], genKeys[int64]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRostiIter[int64], genKeys[int64]))
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetHit[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapGetHit[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetHit[string], genKeys[string]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRostiGetHit[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRostiGetHit[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRostiGetHit[string], genKeys[string]))
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetMiss[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapGetMiss[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetMiss[string], genKeys[string]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRostiGetMiss[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRostiGetMiss[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRostiGetMiss[string], genKeys[string]))
	})
}

func BenchmarkMapPutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutGrow[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapPutGrow[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutGrow[string], genKeys[string]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRostiPutGrow[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRostiPutGrow[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRostiPutGrow[string], genKeys[string]))
	})
}

func BenchmarkMapPutPreAllocate(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutPreAllocate[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapPutPreAllocate[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutPreAllocate[string], genKeys[string]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRostiPutPreAllocate[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRostiPutPreAllocate[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRostiPutPreAllocate[string], genKeys[string]))
	})
}

func BenchmarkMapPutReuse(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutReuse[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapPutReuse[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutReuse[string], genKeys[string]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRostiPutReuse[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRostiPutReuse[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRostiPutReuse[string], genKeys[string]))
	})
}

func BenchmarkMapPutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutDelete[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapPutDelete[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutDelete[string], genKeys[string]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRostiPutDelete[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRostiPutDelete[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRostiPutDelete[string], genKeys[string]))
	})
}

func BenchmarkMapUpsert(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapUpsert[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapUpsert[string], genKeys[string]))
	})
	b.Run("impl=rosti", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRostiUpsert[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRostiUpsert[string], genKeys[string]))
	})
}

type benchTypes interface {
	int32 | int64 | string
}

func benchSizes[T benchTypes](
	f func(b *testing.B, n int, genKeys func(start, end int) []T), genKeys func(start, end int) []T,
) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys[T benchTypes](start, end int) []T {
	var t T
	switch any(t).(type) {
	case int32:
		keys := make([]int32, end-start)
		for i := range keys {
			keys[i] = int32(start + i)
		}
		return unsafeConvertSlice[T](keys)
	case int64:
		keys := make([]int64, end-start)
		for i := range keys {
			keys[i] = int64(start + i)
		}
		return unsafeConvertSlice[T](keys)
	case string:
		keys := make([]string, end-start)
		for i := range keys {
			keys[i] = strconv.Itoa(start + i)
		}
		return unsafeConvertSlice[T](keys)
	default:
		panic("not reached")
	}
}

func benchmarkRuntimeMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	var tmp T
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += k + v
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := New[T, T](n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Put(k, k)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	var tmp T
	for i := 0; i < b.N; i++ {
		m.All(func(k, v T) bool {
			tmp += k + v
			return true
		})
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRuntimeMapGetMiss[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for _, k := range keys {
		m[k] = k
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%len(miss)]]
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiGetMiss[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := New[T, T](0)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for j := range keys {
		m.Put(keys[j], keys[j])
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%len(miss)])
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}

	// Go's builtin map has an optimization to avoid string comparisons if
	// there is pointer equality. Defeat this optimization to get a better
	// apples-to-apples comparison. This is reasonable to do because looking
	// up a value by a string key which shares the underlying string data with
	// the element in the map is a rare pattern.
	keys = genKeys(0, n)

	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[keys[i&(n-1)]]
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := New[T, T](n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Put(k, k)
	}

	// See benchmarkRuntimeMapGetHit: probe with fresh key data on both
	// implementations.
	keys = genKeys(0, n)

	cs := perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i&(n-1)])
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[T]T)
		for _, k := range keys {
			m[k] = k
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiPutGrow[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	var m Map[T, T]
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Init(0)
		for _, k := range keys {
			m.Put(k, k)
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRuntimeMapPutPreAllocate[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[T]T, n)
		for _, k := range keys {
			m[k] = k
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiPutPreAllocate[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	var m Map[T, T]
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Init(n)
		for _, k := range keys {
			m.Put(k, k)
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRuntimeMapPutReuse[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, k := range keys {
			m[k] = k
		}
		for k := range m {
			delete(m, k)
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiPutReuse[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := New[T, T](n)
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, k := range keys {
			m.Put(k, k)
		}
		m.Clear()
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRuntimeMapPutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiPutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := New[T, T](n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Put(k, k)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Delete(keys[j])
		m.Put(keys[j], keys[j])
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRuntimeMapUpsert[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]int, n)
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m[keys[i%n]]++
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkRostiUpsert[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := New[T, int](n)
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := m.Entry(keys[i%n]).OrDefault()
		*p++
	}
	b.StopTimer()
	cs.Stop()
}

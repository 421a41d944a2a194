package audio

import "sync"

var int16Pool sync.Pool
var float32Pool sync.Pool

// AcquireInt16 returns an int16 slice with length size.
func AcquireInt16(size int) []int16 {
	if size <= 0 {
		return nil
	}
	if v := int16Pool.Get(); v != nil {
		buf := v.([]int16)
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]int16, size)
}

// ReleaseInt16 puts an int16 slice back to the pool.
func ReleaseInt16(buf []int16) {
	if buf == nil {
		return
	}
	int16Pool.Put(buf[:0])
}

// AcquireFloat32 returns a float32 slice with length size.
func AcquireFloat32(size int) []float32 {
	if size <= 0 {
		return nil
	}
	if v := float32Pool.Get(); v != nil {
		buf := v.([]float32)
		if cap(buf) >= size {
			return buf[:size]
		}
	}
	return make([]float32, size)
}

// ReleaseFloat32 puts a float32 slice back to the pool.
func ReleaseFloat32(buf []float32) {
	if buf == nil {
		return
	}
	float32Pool.Put(buf[:0])
}

// keyedPool holds one sync.Pool per key.
type keyedPool[K comparable, V any] struct {
	pools sync.Map
}

func newKeyedPool[K comparable, V any]() *keyedPool[K, V] {
	return &keyedPool[K, V]{}
}

func (p *keyedPool[K, V]) pool(key K) *sync.Pool {
	if pool, ok := p.pools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := p.pools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

func (p *keyedPool[K, V]) get(key K) (V, bool) {
	if v, ok := p.pool(key).Get().(V); ok {
		return v, true
	}
	var zero V
	return zero, false
}

func (p *keyedPool[K, V]) put(key K, v V) {
	p.pool(key).Put(v)
}

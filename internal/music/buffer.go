package music

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrBufferClosed is returned by blocking calls once the buffer is closed.
	ErrBufferClosed = errors.New("audio buffer closed")
	// ErrChunkTooLarge is returned when a chunk can never fit the buffer.
	ErrChunkTooLarge = errors.New("audio chunk larger than buffer capacity")
	// ErrBufferFull is returned by TryPush when there is no room.
	ErrBufferFull = errors.New("audio buffer full")
)

// AudioChunk is one unit of compressed bytes moving from download to decode.
// The buffer owns Data after Push and hands ownership to the caller of Pop.
type AudioChunk struct {
	Data []byte
}

// Len executes the len method.
func (c AudioChunk) Len() int {
	return len(c.Data)
}

// BoundedBuffer is a FIFO of chunks limited by total byte count. Producers
// block above max, consumers block while empty until the producer finishes.
type BoundedBuffer struct {
	max int

	mu       sync.Mutex
	cond     *sync.Cond
	chunks   []AudioChunk
	size     int
	finished bool
	closed   bool
}

// NewBoundedBuffer executes the newBoundedBuffer function.
func NewBoundedBuffer(max int) *BoundedBuffer {
	if max <= 0 {
		max = 256 * 1024
	}
	b := &BoundedBuffer{max: max}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Max returns the byte capacity.
func (b *BoundedBuffer) Max() int {
	return b.max
}

// wait blocks on the condition until ctx is done. Callers hold b.mu.
func (b *BoundedBuffer) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	b.cond.Wait()
	stop()
	return ctx.Err()
}

// Push appends chunk, blocking until it fits. A chunk waits for the buffer
// to drain enough that size plus its length stays within max.
func (b *BoundedBuffer) Push(ctx context.Context, chunk AudioChunk) error {
	if chunk.Len() > b.max {
		return ErrChunkTooLarge
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return ErrBufferClosed
		}
		if b.size+chunk.Len() <= b.max {
			break
		}
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
	b.pushLocked(chunk)
	return nil
}

// TryPush appends chunk only if it fits now.
func (b *BoundedBuffer) TryPush(chunk AudioChunk) error {
	if chunk.Len() > b.max {
		return ErrChunkTooLarge
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	if b.size+chunk.Len() > b.max {
		return ErrBufferFull
	}
	b.pushLocked(chunk)
	return nil
}

func (b *BoundedBuffer) pushLocked(chunk AudioChunk) {
	b.chunks = append(b.chunks, chunk)
	b.size += chunk.Len()
	b.cond.Broadcast()
}

// Pop removes the oldest chunk. It blocks while the buffer is empty and the
// producer has not finished, and returns io.EOF once empty and finished.
func (b *BoundedBuffer) Pop(ctx context.Context) (AudioChunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return AudioChunk{}, ErrBufferClosed
		}
		if len(b.chunks) > 0 {
			return b.popLocked(), nil
		}
		if b.finished {
			return AudioChunk{}, io.EOF
		}
		if err := b.wait(ctx); err != nil {
			return AudioChunk{}, err
		}
	}
}

// TryPop removes the oldest chunk if one is queued.
func (b *BoundedBuffer) TryPop() (AudioChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.chunks) == 0 {
		return AudioChunk{}, false
	}
	return b.popLocked(), true
}

func (b *BoundedBuffer) popLocked() AudioChunk {
	chunk := b.chunks[0]
	b.chunks[0] = AudioChunk{}
	b.chunks = b.chunks[1:]
	b.size -= chunk.Len()
	b.cond.Broadcast()
	return chunk
}

// WaitReady blocks until at least min bytes are queued or the producer has
// finished with data left. It returns io.EOF when finished and empty.
func (b *BoundedBuffer) WaitReady(ctx context.Context, min int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return ErrBufferClosed
		}
		if b.size >= min || (b.finished && b.size > 0) {
			return nil
		}
		if b.finished {
			return io.EOF
		}
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
}

// Finish marks the producer done and wakes waiting consumers.
func (b *BoundedBuffer) Finish() {
	b.mu.Lock()
	b.finished = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Close drops queued chunks and fails every current and future wait.
func (b *BoundedBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.chunks = nil
	b.size = 0
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Reset empties the buffer and reopens it for a new stream.
func (b *BoundedBuffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.size = 0
	b.finished = false
	b.closed = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Size returns the queued byte count.
func (b *BoundedBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Len returns the number of queued chunks.
func (b *BoundedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIDPool_AcquireRelease(t *testing.T) {
	p := NewPacketIDPool()

	id1, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, uint16(1), id1)

	id2, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, uint16(2), id2)
	assert.NotEqual(t, id1, id2)

	p.Release(id1)
	assert.False(t, p.InUse(id1))

	id3, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, id1, id3, "lowest free id should be reused")
}

func TestPacketIDPool_ReleaseUnknownIsNoop(t *testing.T) {
	p := NewPacketIDPool()
	p.Release(42)
	assert.Equal(t, 0, p.Count())
}

func TestPacketIDPool_Register(t *testing.T) {
	p := NewPacketIDPool()
	require.True(t, p.Register(10))
	assert.False(t, p.Register(10), "registering an in-use id must fail")
	assert.False(t, p.Register(0), "id 0 is never valid")
}

func TestPacketIDPool_AcquireWaitBlocksThenWakes(t *testing.T) {
	p := NewPacketIDPool()
	// Exhaust the pool by registering every id from 1 to 65535.
	for i := uint16(1); i != 0; i++ {
		p.Register(i)
		if i == 65535 {
			break
		}
	}

	resultCh := make(chan uint16, 1)
	go func() {
		id, err := p.AcquireWait(context.Background())
		require.NoError(t, err)
		resultCh <- id
	}()

	time.Sleep(10 * time.Millisecond)
	p.Release(5)

	select {
	case id := <-resultCh:
		assert.Equal(t, uint16(5), id)
	case <-time.After(time.Second):
		t.Fatal("AcquireWait did not wake after Release")
	}
}

func TestPacketIDPool_AcquireWaitCancellation(t *testing.T) {
	p := NewPacketIDPool()
	for i := uint16(1); i != 0; i++ {
		p.Register(i)
		if i == 65535 {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.AcquireWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPacketIDPool_Reset(t *testing.T) {
	p := NewPacketIDPool()
	id, _ := p.Acquire()
	p.Reset()
	assert.False(t, p.InUse(id))
	assert.Equal(t, 0, p.Count())
}

package util_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/agentflow/internal/util"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := util.NewKeyedMutex()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			release := km.Lock("filing-A")
			defer release()
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := util.NewKeyedMutex()

	releaseA := km.Lock("A")
	done := make(chan struct{})
	go func() {
		release := km.Lock("B")
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on B blocked by A")
	}
	assert.Equal(t, 1, km.Len())
	releaseA()
	assert.Equal(t, 0, km.Len())
}

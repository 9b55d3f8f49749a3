package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadyFiresImmediatelyOnFirstCall(t *testing.T) {
	p := New(time.Hour)
	assert.True(t, p.Ready(time.Now()))
}

func TestReadyGatesSubsequentCalls(t *testing.T) {
	p := New(50 * time.Millisecond)
	start := time.Now()
	assert.True(t, p.Ready(start))
	assert.False(t, p.Ready(start.Add(10*time.Millisecond)))
	assert.True(t, p.Ready(start.Add(60*time.Millisecond)))
}

func TestResetReopensTheGate(t *testing.T) {
	p := New(time.Hour)
	now := time.Now()
	assert.True(t, p.Ready(now))
	assert.False(t, p.Ready(now.Add(time.Second)))
	p.Reset()
	assert.True(t, p.Ready(now.Add(time.Second)))
}

func TestWaitReturnsFalseWhenDoneFiresFirst(t *testing.T) {
	p := New(time.Hour)
	done := make(chan struct{})
	close(done)
	assert.False(t, p.Wait(done))
}

func TestWaitReturnsTrueAfterInterval(t *testing.T) {
	p := New(10 * time.Millisecond)
	done := make(chan struct{})
	assert.True(t, p.Wait(done))
}

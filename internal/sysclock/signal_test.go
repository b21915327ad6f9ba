package sysclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignal_SendWakesWait(t *testing.T) {
	s := NewSignal()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	s.Send()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait never woke after Send")
	}
}

func TestSignal_MultipleSendsCoalesce(t *testing.T) {
	s := NewSignal()
	s.Send()
	s.Send()
	s.Send()

	assert.True(t, s.WaitTimeout(10*time.Millisecond))
	assert.False(t, s.WaitTimeout(10*time.Millisecond), "repeated Sends before a Wait must collapse to one wakeup")
}

func TestSignal_WaitTimeoutExpires(t *testing.T) {
	s := NewSignal()
	start := time.Now()
	assert.False(t, s.WaitTimeout(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSignal_ZeroTimeoutPolls(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.WaitTimeout(0))
	s.Send()
	assert.True(t, s.WaitTimeout(0))
}

func TestSignal_ClearDiscardsPendingSend(t *testing.T) {
	s := NewSignal()
	s.Send()
	s.Clear()
	assert.False(t, s.WaitTimeout(10*time.Millisecond))
}

func TestSystemClock_IsMonotonicNonDecreasing(t *testing.T) {
	a := Default.Now()
	b := Default.Now()
	assert.False(t, b.Before(a))
}

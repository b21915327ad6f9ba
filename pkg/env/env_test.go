package env_test

import (
	"sync"
	"testing"

	"github.com/nsforge/nsf/pkg/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeThread struct {
	mutex sync.Mutex
	calls []bool
}

func (f *fakeThread) Terminate(wait bool) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, wait)
	return nil
}

func (f *fakeThread) waits() []bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]bool(nil), f.calls...)
}

func TestEnvironment_AddRemoveThreads(t *testing.T) {
	e := env.New()
	a, b := &fakeThread{}, &fakeThread{}

	e.AddThread(a)
	e.AddThread(b)
	require.Len(t, e.Threads(), 2)

	e.RemoveThread(a)
	threads := e.Threads()
	require.Len(t, threads, 1)
	assert.Same(t, env.Terminable(b), threads[0])
}

func TestEnvironment_TerminateRequestsAllBeforeJoiningAny(t *testing.T) {
	e := env.New()
	a, b := &fakeThread{}, &fakeThread{}
	e.AddThread(a)
	e.AddThread(b)

	e.Terminate()

	// Two-pass shutdown: every thread sees a non-blocking request first,
	// then a blocking join.
	assert.Equal(t, []bool{false, true}, a.waits())
	assert.Equal(t, []bool{false, true}, b.waits())
}

func TestEnvironment_StartIsIdempotent(t *testing.T) {
	e := env.New()
	e.Start()
	e.Start()

	// First Start registers the primary timer; the second must not
	// register it again.
	assert.Len(t, e.Threads(), 1)
}

package obs

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func TestInitGuard_RunsOnce(t *testing.T) {
	var g InitGuard
	var calls atomic.Int32

	var eg errgroup.Group
	for i := 0; i < 32; i++ {
		eg.Go(func() error {
			return g.Do(func() error {
				calls.Add(1)
				return nil
			})
		})
	}
	require.NoError(t, eg.Wait())
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, g.Done())
}

func TestInitGuard_RetriesAfterFailure(t *testing.T) {
	var g InitGuard
	fail := errors.New("no display")

	assert.ErrorIs(t, g.Do(func() error { return fail }), fail)
	assert.False(t, g.Done())

	calls := 0
	require.NoError(t, g.Do(func() error { calls++; return nil }))
	require.NoError(t, g.Do(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)

	g.reset()
	assert.False(t, g.Done())
}

func TestPlatformGuard_RestoresOnce(t *testing.T) {
	n := 0
	g := &platformGuard{undo: func(*zap.Logger) { n++ }}
	g.restore(zap.NewNop())
	g.restore(zap.NewNop())
	assert.Equal(t, 1, n)

	var nilGuard *platformGuard
	nilGuard.restore(zap.NewNop())
}

func TestPlatformInit_DoneAfterStartup(t *testing.T) {
	newTestRuntime(t)
	assert.True(t, platformInit.Done())
}

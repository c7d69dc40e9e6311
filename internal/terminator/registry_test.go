package terminator_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/nester/internal/terminator"
)

func TestRegistryStartsWithSharedCell(t *testing.T) {
	reg := terminator.NewRegistry()
	assert.Equal(t, terminator.SharedHandle, reg.Shared())
	assert.Equal(t, 1, reg.Live())

	cell, err := reg.Cell(reg.Shared())
	require.NoError(t, err)
	assert.False(t, cell.IsSet())
}

func TestRegistryCellIsStable(t *testing.T) {
	reg := terminator.NewRegistry()
	h := reg.Acquire()

	first, err := reg.Cell(h)
	require.NoError(t, err)

	// Grow the registry; earlier cells must not move.
	for range 64 {
		reg.Acquire()
	}

	second, err := reg.Cell(h)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRegistryDirectWriteReachesTerminator(t *testing.T) {
	reg := terminator.NewRegistry()
	h := reg.Acquire()

	term, err := reg.Terminator(h)
	require.NoError(t, err)
	term.Arm(time.Hour)

	cell, err := reg.Cell(h)
	require.NoError(t, err)
	cell.Store(true)

	assert.True(t, term.Poll())
}

func TestRegistryPerRunCellsAreIndependent(t *testing.T) {
	reg := terminator.NewRegistry()
	a, err := reg.Terminator(reg.Acquire())
	require.NoError(t, err)
	b, err := reg.Terminator(reg.Acquire())
	require.NoError(t, err)
	a.Arm(time.Hour)
	b.Arm(time.Hour)

	a.RequestCancel()
	assert.True(t, a.Poll())
	assert.False(t, b.Poll())
}

func TestRegistryReleaseAndReuse(t *testing.T) {
	reg := terminator.NewRegistry()
	h := reg.Acquire()
	cell, err := reg.Cell(h)
	require.NoError(t, err)
	cell.Set()

	require.NoError(t, reg.Release(h))
	_, err = reg.Cell(h)
	assert.True(t, errors.Is(err, terminator.ErrUnknownHandle))

	again := reg.Acquire()
	assert.NotEqual(t, h, again, "a reused cell must get a fresh handle")
	reused, err := reg.Cell(again)
	require.NoError(t, err)
	assert.Same(t, cell, reused)
	assert.False(t, reused.IsSet(), "reacquired cell must start cleared")
}

func TestRegistryStaleHandleNeverReachesNextHolder(t *testing.T) {
	reg := terminator.NewRegistry()
	stale := reg.Acquire()
	require.NoError(t, reg.Release(stale))

	next := reg.Acquire()
	term, err := reg.Terminator(next)
	require.NoError(t, err)
	term.Arm(time.Hour)

	_, err = reg.Cell(stale)
	assert.ErrorIs(t, err, terminator.ErrUnknownHandle)
	assert.ErrorIs(t, reg.Release(stale), terminator.ErrUnknownHandle)
	assert.False(t, term.Poll())
}

func TestRegistryReuseIsOldestFirst(t *testing.T) {
	reg := terminator.NewRegistry()
	a, b := reg.Acquire(), reg.Acquire()
	require.NoError(t, reg.Release(a))
	require.NoError(t, reg.Release(b))

	fa, err := reg.Cell(reg.Acquire())
	require.NoError(t, err)
	fb, err := reg.Cell(reg.Acquire())
	require.NoError(t, err)
	assert.NotSame(t, fa, fb)
	assert.Equal(t, 3, reg.Live())
}

func TestRegistryReleaseErrors(t *testing.T) {
	reg := terminator.NewRegistry()
	assert.Error(t, reg.Release(reg.Shared()))
	assert.ErrorIs(t, reg.Release(42), terminator.ErrUnknownHandle)

	h := reg.Acquire()
	require.NoError(t, reg.Release(h))
	assert.ErrorIs(t, reg.Release(h), terminator.ErrUnknownHandle)
}

func TestRegistryUnknownHandle(t *testing.T) {
	reg := terminator.NewRegistry()
	_, err := reg.Terminator(99)
	assert.ErrorIs(t, err, terminator.ErrUnknownHandle)
}

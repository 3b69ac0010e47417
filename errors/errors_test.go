package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrInvalidArgument, ErrCapacityExceeded, ErrAllocationFailure, ErrExecutionFailure}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, Is(a, b), "%v should not match %v", a, b)
		}
	}
}

func TestInvalidArgumentf(t *testing.T) {
	err := InvalidArgumentf("membrane %q is nil", "root")
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
	assert.False(t, IsCapacityExceeded(err))
	assert.Contains(t, err.Error(), `membrane "root" is nil`)
	assert.Contains(t, err.Error(), "invalid argument")
}

func TestCapacityExceededf(t *testing.T) {
	err := CapacityExceededf("children of %s (%d/%d)", "root", 16, 16)
	assert.True(t, IsCapacityExceeded(err))
	assert.Contains(t, err.Error(), "16/16")
}

func TestWrapKeepsSentinel(t *testing.T) {
	wrapped := Wrap(ErrExecutionFailure, "graph compute")
	assert.True(t, Is(wrapped, ErrExecutionFailure))

	// fmt %w wrapping is understood as well
	stdWrapped := fmt.Errorf("outer: %w", ErrAllocationFailure)
	assert.True(t, Is(stdWrapped, ErrAllocationFailure))
}

func TestNilHelpers(t *testing.T) {
	assert.False(t, IsInvalidArgument(nil))
	assert.False(t, IsCapacityExceeded(nil))
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAsMatchesSentinel(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("send: %w", WrapAs(ErrGateway, cause, "send to u1"))

	assert.True(t, errors.Is(err, ErrGateway))
	assert.False(t, errors.Is(err, ErrCalendar))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "GATEWAY_FAILURE", Kind(err))
	assert.Contains(t, err.Error(), "send to u1: timeout")
}

func TestKindFallsBackToInternal(t *testing.T) {
	assert.Equal(t, ErrInternal.Code, Kind(errors.New("boom")))
	assert.Equal(t, "", Kind(nil))
}

func TestClone(t *testing.T) {
	clone := Clone(ErrValidation, "slot must be 1..5")
	assert.Equal(t, ErrValidation.Code, clone.Code)
	assert.Equal(t, "slot must be 1..5", clone.Message)
	assert.Equal(t, "validation failed", ErrValidation.Message)
	assert.Nil(t, Clone(nil, "x"))
}

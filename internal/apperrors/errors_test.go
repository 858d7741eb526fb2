package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(NewDuplicate("already subscribed")))
	assert.False(t, IsDuplicate(errors.New("already subscribed")))
	assert.False(t, IsDuplicate(nil))
}

func TestBrokerUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewBrokerUnavailable("channel not open", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "BROKER_UNAVAILABLE")
	assert.Contains(t, err.Error(), "channel not open")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorWithoutCause(t *testing.T) {
	err := NewDuplicate("reminder already set")
	assert.Equal(t, "DUPLICATE: reminder already set", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

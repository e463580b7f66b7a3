package shserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsAsUnwrapsResourceError(t *testing.T) {
	cause := errors.New("out of memory")
	err := error(&ResourceError{Resource: "queryPool", Cause: cause})

	var re *ResourceError
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, "queryPool", re.Resource)
	assert.True(t, errors.Is(err, cause))
}

func TestQueryErrorMessage(t *testing.T) {
	err := &QueryError{Slot: 3, Cause: errors.New("not signaled")}
	assert.Contains(t, err.Error(), "slot 3")
}

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Field: "TileSize", Reason: "must be positive"}
	assert.Contains(t, err.Error(), "TileSize")
	assert.Contains(t, err.Error(), "must be positive")
}

func TestDeviceLostUnwraps(t *testing.T) {
	cause := errors.New("gpu reset")
	err := &DeviceLost{Cause: cause}
	assert.ErrorIs(t, err, cause)
}

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("handle alert: %w", Denied("risk.evaluate", "DailyCapExceeded"))

	assert.True(t, errors.Is(err, ErrRiskDenied))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindRiskDenied, KindOf(err))
	assert.Equal(t, "DailyCapExceeded", ReasonOf(err))
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Transient("broker.place_order", cause)

	assert.True(t, errors.Is(err, ErrTransient))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "broker.place_order")
}

func TestUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "", ReasonOf(nil))
}

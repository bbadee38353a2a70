package indexer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepError(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&StepError{Step: StepEmbed, Err: cause})

	assert.Equal(t, "embed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	var stepErr *StepError
	assert.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepEmbed, stepErr.Step)
}

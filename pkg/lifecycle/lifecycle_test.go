package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	var tr Tracker
	assert.Equal(t, Stopped, tr.Load())
	assert.NoError(t, tr.Transition(Stopped, Starting))
	assert.Error(t, tr.Transition(Stopped, Starting))
	assert.Equal(t, Starting, tr.Load())
	tr.Set(Running)
	assert.Equal(t, "running", tr.Load().String())
	assert.Equal(t, "unknown", State(9).String())
}

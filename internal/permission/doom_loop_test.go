package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDoomLoopDetector(t *testing.T) {
	d := NewDoomLoopDetector()
	input := []byte(`{"action":{"type":"status_check"}}`)

	assert.False(t, d.Check("run_command", input))
	assert.False(t, d.Check("run_command", input))
	assert.True(t, d.Check("run_command", input))
	assert.True(t, d.Check("run_command", input))

	// A different call breaks the run.
	assert.False(t, d.Check("read_files", input))
	assert.False(t, d.Check("run_command", input))
}

func TestDoomLoopDetector_DifferentInput(t *testing.T) {
	d := NewDoomLoopDetector()

	assert.False(t, d.Check("run_command", []byte(`{"a":1}`)))
	assert.False(t, d.Check("run_command", []byte(`{"a":2}`)))
	assert.False(t, d.Check("run_command", []byte(`{"a":1}`)))
}

func TestDoomLoopDetector_Reset(t *testing.T) {
	d := NewDoomLoopDetector()
	input := []byte(`{}`)

	d.Check("x", input)
	d.Check("x", input)
	d.Reset()
	assert.False(t, d.Check("x", input))
}

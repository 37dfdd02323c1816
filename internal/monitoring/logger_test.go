package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("run %s started", "abc")
	assert.Equal(t, []string{"run abc started"}, *lines)

	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, *lines, 1, "nil logger discards lines")
}

func TestComponent(t *testing.T) {
	lines := capture(t)
	store := Component("store")
	store("cycle %d: persist poses: %v", 4, "disk full")
	assert.Equal(t, []string{"[store] cycle 4: persist poses: disk full"}, *lines)

	// The component follows a logger swapped in after it was created.
	var later []string
	SetLogger(func(format string, v ...interface{}) {
		later = append(later, fmt.Sprintf(format, v...))
	})
	store("again")
	assert.Equal(t, []string{"[store] again"}, later)
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}

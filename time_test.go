package pipehttp

import (
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
)

func TestAbsoluteNano(t *testing.T) {
	t.Parallel()
	start := time.Now()
	start2 := absoluteNano()
	time.Sleep(time.Millisecond * 200)
	a := (absoluteNano() - start2) / 1e6
	b := time.Since(start).Milliseconds()
	diff := a - b
	assert.True(t, diff <= 5 && diff >= -5)
}

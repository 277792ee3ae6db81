package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	later := start.Add(48 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestFuncClock(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	var c Clock = Func(func() time.Time { return fixed })
	assert.Equal(t, fixed, c.Now())
}

func TestRealClockMovesForward(t *testing.T) {
	var c Clock = Real{}
	before := time.Now()
	got := c.Now()
	assert.False(t, got.Before(before))
}

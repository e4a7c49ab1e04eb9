package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal(t *testing.T) {
	before := time.Now()
	now := Real.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, Real.Since(before), time.Duration(0))
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	assert.True(t, c.Now().Equal(start))

	c.Advance(time.Hour)
	assert.Equal(t, time.Hour, c.Since(start))

	later := start.Add(48 * time.Hour)
	c.Set(later)
	assert.True(t, c.Now().Equal(later))
}

package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGateAllow(t *testing.T) {
	clock := time.Unix(0, 0)
	gate := NewGateWithClock(10*time.Second, func() time.Time { return clock })

	assert.True(t, gate.Allow(), "first call is always admitted")
	assert.False(t, gate.Allow())

	clock = clock.Add(9 * time.Second)
	assert.False(t, gate.Allow())

	clock = clock.Add(time.Second)
	assert.True(t, gate.Allow())
	assert.False(t, gate.Allow())
}

func TestGateIntervalMeasuredFromAdmission(t *testing.T) {
	clock := time.Unix(0, 0)
	gate := NewGateWithClock(10*time.Second, func() time.Time { return clock })

	assert.True(t, gate.Allow())
	clock = clock.Add(25 * time.Second)
	assert.True(t, gate.Allow())

	// Denied calls do not push the window forward.
	clock = clock.Add(5 * time.Second)
	assert.False(t, gate.Allow())
	clock = clock.Add(5 * time.Second)
	assert.True(t, gate.Allow())
}

func TestGateReset(t *testing.T) {
	clock := time.Unix(0, 0)
	gate := NewGateWithClock(time.Hour, func() time.Time { return clock })

	assert.True(t, gate.Allow())
	assert.False(t, gate.Allow())
	gate.Reset()
	assert.True(t, gate.Allow())
}

package trafficlight

import (
	"math/rand"
	"time"
)

// cycle tracks how long the current phase has to last.
type cycle struct {
	min, max time.Duration
	rnd      *rand.Rand

	start    time.Time
	duration time.Duration
}

func newCycle(min, max time.Duration, rnd *rand.Rand) *cycle {
	return &cycle{min: min, max: max, rnd: rnd}
}

// reset starts a new cycle at now with a duration drawn uniformly from
// [min, max], both ends inclusive.
func (c *cycle) reset(now time.Time) {
	c.start = now
	c.duration = c.min
	if span := c.max - c.min; span > 0 {
		c.duration += time.Duration(c.rnd.Int63n(int64(span) + 1))
	}
}

func (c *cycle) expired(now time.Time) bool {
	return now.Sub(c.start) > c.duration
}

// remaining is the time left until the cycle expires, never negative.
func (c *cycle) remaining(now time.Time) time.Duration {
	if d := c.duration - now.Sub(c.start); d > 0 {
		return d
	}
	return 0
}

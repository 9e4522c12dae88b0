package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoubles(t *testing.T) {
	assert.Equal(t, 2*time.Minute, Backoff(1))
	assert.Equal(t, 4*time.Minute, Backoff(2))
	assert.Equal(t, 8*time.Minute, Backoff(3))
}

func TestBackoffStrictlyIncreasing(t *testing.T) {
	for n := 1; n < maxBackoffShift; n++ {
		assert.Greater(t, Backoff(n+1), Backoff(n), "backoff(%d) must exceed backoff(%d)", n+1, n)
	}
}

func TestBackoffClamps(t *testing.T) {
	assert.Equal(t, Backoff(1), Backoff(0))
	assert.Equal(t, Backoff(1), Backoff(-3))
	assert.Equal(t, Backoff(maxBackoffShift), Backoff(maxBackoffShift+50))
}

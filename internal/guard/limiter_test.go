package guard

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/paperqa/internal/apperr"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLimiter() (*Limiter, *clock) {
	c := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(0, 0, 0)
	l.now = c.now
	return l, c
}

func TestLimiter_FourthRequestRejected(t *testing.T) {
	l, c := newTestLimiter()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("10.0.0.1"), "request %d", i+1)
		c.t = c.t.Add(5 * time.Second)
	}

	err := l.Allow("10.0.0.1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimit, apperr.KindOf(err))
	assert.Equal(t, 45*time.Second, apperr.RetryAfter(err))

	assert.NoError(t, l.Allow("10.0.0.2"), "other clients are unaffected")
}

func TestLimiter_WindowResetsLazily(t *testing.T) {
	l, c := newTestLimiter()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("a"))
	}
	require.Error(t, l.Allow("a"))

	c.t = c.t.Add(59 * time.Second)
	require.Error(t, l.Allow("a"))

	c.t = c.t.Add(time.Second)
	assert.NoError(t, l.Allow("a"))
}

func TestLimiter_RejectedRequestsNotCounted(t *testing.T) {
	l, c := newTestLimiter()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("a"))
	}
	for i := 0; i < 10; i++ {
		require.Error(t, l.Allow("a"))
	}
	c.t = c.t.Add(DefaultWindow)
	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Allow("a"))
	}
}

func TestLimiter_InFlight(t *testing.T) {
	l, _ := newTestLimiter()

	release, err := l.Acquire("a")
	require.NoError(t, err)

	_, err = l.Acquire("a")
	require.Error(t, err)
	assert.Equal(t, inFlightRetry, apperr.RetryAfter(err))

	release()
	release()

	release2, err := l.Acquire("a")
	require.NoError(t, err)
	release2()

	_, err = l.Acquire("a")
	require.NoError(t, err)
	_, err = l.Acquire("a")
	require.Error(t, err)
}

func TestLimiter_InFlightRejectionNotCounted(t *testing.T) {
	l, _ := newTestLimiter()
	release, err := l.Acquire("a")
	require.NoError(t, err)
	_, err = l.Acquire("a")
	require.Error(t, err)
	release()

	require.NoError(t, l.Allow("a"))
	require.NoError(t, l.Allow("a"))
	assert.Error(t, l.Allow("a"))
}

func TestClientID(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/jobs", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", ClientID(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientID(r))

	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientID(r))
}

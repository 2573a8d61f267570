package guard

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/paperqa/internal/apperr"
)

const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 3
	DefaultMaxInFlight = 1

	// inFlightRetry is the hint returned when only the concurrency slot is taken.
	inFlightRetry = 5 * time.Second
	// maxTracked bounds the client table before stale windows are pruned.
	maxTracked = 4096
)

type clientWindow struct {
	start    time.Time
	count    int
	inFlight int
}

// Limiter is a fixed-window, per-client request limiter with an optional cap
// on concurrent requests. Windows reset lazily on the first request after they
// lapse. State is per process; several processes each enforce their own limit.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	maxInFlight int
	clients     map[string]*clientWindow
	now         func() time.Time
}

// NewLimiter creates a Limiter. Non-positive arguments take the defaults.
func NewLimiter(window time.Duration, maxRequests, maxInFlight int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Limiter{
		window:      window,
		maxRequests: maxRequests,
		maxInFlight: maxInFlight,
		clients:     make(map[string]*clientWindow),
		now:         time.Now,
	}
}

// Allow counts one request for client, or returns a rate-limit error with the
// time until the window resets. Rejected requests are not counted.
func (l *Limiter) Allow(client string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.admit(client)
	return err
}

// Acquire counts one request and takes a concurrency slot for client. The
// returned release must be called when the request finishes.
func (l *Limiter) Acquire(client string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.current(client, now)
	if w.inFlight >= l.maxInFlight {
		return nil, apperr.RateLimited(inFlightRetry)
	}
	if _, err := l.admit(client); err != nil {
		return nil, err
	}
	w.inFlight++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if w.inFlight > 0 {
				w.inFlight--
			}
		})
	}, nil
}

func (l *Limiter) admit(client string) (*clientWindow, error) {
	now := l.now()
	w := l.current(client, now)
	if w.count >= l.maxRequests {
		return nil, apperr.RateLimited(w.start.Add(l.window).Sub(now))
	}
	w.count++
	return w, nil
}

// current returns client's window, resetting it if it has lapsed.
func (l *Limiter) current(client string, now time.Time) *clientWindow {
	w, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= maxTracked {
			l.prune(now)
		}
		w = &clientWindow{start: now}
		l.clients[client] = w
		return w
	}
	if now.Sub(w.start) >= l.window {
		w.start = now
		w.count = 0
	}
	return w
}

func (l *Limiter) prune(now time.Time) {
	for id, w := range l.clients {
		if w.inFlight == 0 && now.Sub(w.start) >= l.window {
			delete(l.clients, id)
		}
	}
}

// ClientID derives the client identifier from the forwarded address,
// falling back to the connection's remote host.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package stream

import "sync"

// Limits a stream can be refused by, used as metric and log labels.
const (
	limitPerIP = "per_ip"
	limitTotal = "total"
)

const (
	defaultMaxPerIP = 10
	defaultMaxTotal = 1000
)

// streamLimiter counts open SSE streams per client IP and overall.
type streamLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

// newStreamLimiter creates a limiter. Non-positive limits use the defaults.
func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	if maxPerIP <= 0 {
		maxPerIP = defaultMaxPerIP
	}
	if maxTotal <= 0 {
		maxTotal = defaultMaxTotal
	}
	return &streamLimiter{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// acquire reserves a slot for ip. When refused it names the exhausted limit.
func (l *streamLimiter) acquire(ip string) (refused string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.total >= l.maxTotal:
		return limitTotal, false
	case l.perIP[ip] >= l.maxPerIP:
		return limitPerIP, false
	}
	l.perIP[ip]++
	l.total++
	return "", true
}

// release frees a slot reserved by acquire.
func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.perIP[ip]--; l.perIP[ip] <= 0 {
		delete(l.perIP, ip)
	}
}

// count returns the open streams of ip.
func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

// active returns the open streams of all clients.
func (l *streamLimiter) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

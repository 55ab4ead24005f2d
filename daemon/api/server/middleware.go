package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"

	"github.com/flyq/jolt-verifier-canister/daemon/manager"
	"github.com/flyq/jolt-verifier-canister/daemon/service"
)

const (
	// CallerHeader carries the caller identity checked by the owner guard.
	CallerHeader    = "X-Caller"
	RequestIDHeader = "X-Request-ID"
)

// callerOf returns the caller identity of r; requests without one act as
// the anonymous caller.
func callerOf(r *http.Request) string {
	if c := r.Header.Get(CallerHeader); c != "" {
		return c
	}
	return manager.AnonymousOwner
}

// limiterIdleTTL is how long a client's bucket survives without requests.
const limiterIdleTTL = 10 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per remote address and drops buckets
// idle for longer than idleTTL.
type clientLimiter struct {
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	buckets   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
	mu        sync.Mutex
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = int(rps) + 1
	}
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: limiterIdleTTL,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func (cl *clientLimiter) allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := cl.now()
	if now.Sub(cl.lastSweep) >= cl.idleTTL {
		cl.sweepLocked(now)
	}

	b, exists := cl.buckets[key]
	if !exists {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (cl *clientLimiter) sweepLocked(now time.Time) {
	for key, b := range cl.buckets {
		if now.Sub(b.lastSeen) > cl.idleTTL {
			delete(cl.buckets, key)
		}
	}
	cl.lastSweep = now
}

func (cl *clientLimiter) size() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.buckets)
}

// limiterKey is the remote host. The caller header is client supplied and
// is not trusted for limiting.
func limiterKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withMiddleware adds request ids, rate limiting, corrupt state recovery and
// access logging around next.
func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if v := recover(); v != nil {
				cse, ok := v.(*service.CorruptStateError)
				if !ok {
					panic(v)
				}
				a.logger.WithRequest(reqID).Error(cse, "request aborted on corrupt stored state")
				writeCodeError(rec, codes.DataLoss, "stored state is corrupted")
			}
			a.metrics.RecordHTTPRequest(r.Method, strconv.Itoa(rec.status))
			a.logger.RequestServed(reqID, r.Method, r.URL.Path, rec.status, time.Since(start))
		}()

		if a.limiter != nil && !a.limiter.allow(limiterKey(r)) {
			writeCodeError(rec, codes.ResourceExhausted, "rate limit exceeded")
			return
		}
		next.ServeHTTP(rec, r)
	})
}

package lim

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"nullbin/svc/db"
	"nullbin/svc/util"
)

const (
	adaptiveWindow = 60 * time.Second
	redisTimeout   = 100 * time.Millisecond
)

// Limiter enforces request quotas per client and endpoint. With Redis
// available it counts in shared fixed windows so multiple replicas see
// one budget; without it each process falls back to a local token
// bucket kept in an LRU cache keyed by client IP.
type Limiter struct {
	rdb               *db.Redis
	trustedProxies    []netip.Prefix
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	local             *lru.Cache[string, *rate.Limiter]
	rpm               int
	burst             int
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(rpm, burst, ipCap int, rdb *db.Redis, trustedProxies []string) (*Limiter, error) {
	prefixes, err := parseProxies(trustedProxies)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *rate.Limiter](ipCap)
	if err != nil {
		return nil, err
	}
	l := &Limiter{
		rdb:            rdb,
		trustedProxies: prefixes,
		local:          cache,
		rpm:            rpm,
		burst:          burst,
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	return l, nil
}

func parseProxies(proxies []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(proxies))
	for _, p := range proxies {
		if strings.Contains(p, "/") {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR in trusted proxies: %s: %w", p, err)
			}
			out = append(out, prefix)
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("invalid IP in trusted proxies: %s: %w", p, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (l *Limiter) Stop() {
	l.detector.Stop()
}

func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(adaptiveWindow).Unix())
}

func (l *Limiter) isAdaptiveMode() bool {
	return time.Now().Unix() < atomic.LoadInt64(&l.adaptiveModeUntil)
}

func (l *Limiter) RecordRequest() { l.detector.RecordRequest() }
func (l *Limiter) RecordError()   { l.detector.RecordError() }

// effectiveLimit halves the budget while the anomaly detector has the
// limiter in adaptive mode.
func (l *Limiter) effectiveLimit() int {
	limit := l.rpm
	if l.isAdaptiveMode() {
		limit /= 2
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (l *Limiter) Check(r *http.Request, endpoint string) *Result {
	ip := l.ClientIP(r)
	limit := l.effectiveLimit()
	now := time.Now()

	if l.rdb != nil {
		ctx, cancel := context.WithTimeout(r.Context(), redisTimeout)
		defer cancel()
		allowed, err := l.rdb.Allow(ctx, "rl:"+endpoint+":"+ip, limit, time.Minute)
		if err == nil {
			remaining := 0
			if allowed {
				remaining = 1
			}
			return &Result{Allowed: allowed, Limit: limit, Remaining: remaining, Reset: now.Add(time.Minute)}
		}
		util.Warn().Err(err).Msg("redis rate limit unavailable, using local fallback")
	}
	return l.checkLocal(ip, endpoint, limit, now)
}

func (l *Limiter) checkLocal(ip, endpoint string, limit int, now time.Time) *Result {
	key := ip + ":" + endpoint
	lim, ok := l.local.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(limit)/60.0, l.burst)
		l.local.Add(key, lim)
	}
	if !lim.Allow() {
		return &Result{Allowed: false, Limit: limit, Remaining: 0, Reset: now.Add(time.Minute)}
	}
	return &Result{Allowed: true, Limit: limit, Remaining: l.burst - 1, Reset: now.Add(time.Minute)}
}

// ClientIP resolves the real client address. X-Forwarded-For is only
// honored when the direct peer is a trusted proxy, and the chain is
// walked right to left until the first untrusted hop.
func (l *Limiter) ClientIP(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(l.trustedProxies) == 0 || !l.isTrusted(remoteIP) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	hops := strings.Split(xff, ",")
	if len(hops) > 100 {
		util.Warn().Int("hops", len(hops)).Str("remote", util.RedactIP(remoteIP)).Msg("oversized X-Forwarded-For header")
		return remoteIP
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			util.Warn().Str("ip", util.RedactIP(hop)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !l.isTrusted(hop) {
			return hop
		}
	}
	return remoteIP
}

func (l *Limiter) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range l.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

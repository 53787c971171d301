package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/dnscache"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

// Validator implements §4.C: token validation and alias resolution, each
// backed by a TTL+grace cache and an outbound call to the control plane
// guarded by a circuit breaker.
type Validator struct {
	enabled          bool
	controlPlaneBase string
	internalSecret   string
	tunnelDomain     string

	httpClient *http.Client
	resolver   *dnscache.Resolver

	tokenCB  *gobreaker.CircuitBreaker
	aliasCB  *gobreaker.CircuitBreaker
	tokens   *Cache[bool]
	aliases  *Cache[string]
	invalidc func()
}

// Config bundles the knobs NewValidator needs from internal/config without
// importing that package (avoids an import cycle with callers that need
// both).
type Config struct {
	Enabled          bool
	ControlPlaneBase string
	InternalSecret   string
	TunnelDomain     string
	FreshTTL         time.Duration
	GraceFactor      int
	CacheCeiling     int
}

// NewValidator builds a Validator. onInvalidToken is invoked every time a
// token is conclusively rejected (used to drive the relay's invalid-token
// counter, §4.H).
func NewValidator(cfg Config, onInvalidToken func()) *Validator {
	resolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			resolver.Refresh(true)
		}
	}()

	transport := &http.Transport{
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		},
	}

	grace := time.Duration(cfg.GraceFactor) * cfg.FreshTTL
	if onInvalidToken == nil {
		onInvalidToken = func() {}
	}

	return &Validator{
		enabled:          cfg.Enabled,
		controlPlaneBase: cfg.ControlPlaneBase,
		internalSecret:   cfg.InternalSecret,
		tunnelDomain:     cfg.TunnelDomain,
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: transport,
		},
		resolver: resolver,
		tokenCB: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "relay-allow-tls",
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
		}),
		aliasCB: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "relay-resolve-alias",
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
		}),
		tokens:   NewCache[bool](cfg.CacheCeiling, cfg.FreshTTL, grace),
		aliases:  NewCache[string](cfg.CacheCeiling, cfg.FreshTTL, grace),
		invalidc: onInvalidToken,
	}
}

// ValidateToken implements the token-validation half of §4.C.
func (v *Validator) ValidateToken(ctx context.Context, token string) bool {
	if !v.enabled {
		v.tokens.Set(token, true)
		return true
	}

	domain := fmt.Sprintf("%s.%s", token, v.tunnelDomain)
	allowed, err := v.queryAllowTLS(ctx, domain)
	if err == nil {
		v.tokens.Set(token, allowed)
		if !allowed {
			v.invalidc()
		}
		return allowed
	}

	slog.Warn("token validation call failed, checking stale-grace cache", "token", redactToken(token), "error", err)
	cached, fresh, found := v.tokens.Get(token)
	if found && cached {
		if !fresh {
			slog.Warn("serving stale-grace token validity", "token", redactToken(token))
		}
		return true
	}
	v.invalidc()
	return false
}

// ResolveAlias implements the alias-resolution half of §4.C. An empty
// returned token with ok=false means "treat as 404", matching the
// no-negative-caching rule.
func (v *Validator) ResolveAlias(ctx context.Context, alias string) (token string, ok bool) {
	if IsReservedAlias(alias) {
		return "", false
	}

	resolved, err := v.queryResolveAlias(ctx, alias)
	if err == nil {
		if resolved == "" {
			return "", false
		}
		v.aliases.Set(alias, resolved)
		return resolved, true
	}

	slog.Warn("alias resolution call failed", "alias", alias, "error", err)
	cached, _, found := v.aliases.Get(alias)
	if found {
		return cached, true
	}
	return "", false
}

func (v *Validator) queryAllowTLS(ctx context.Context, domain string) (bool, error) {
	result, err := v.tokenCB.Execute(func() (interface{}, error) {
		return v.getJSON(ctx, "/internal/allow-tls", url.Values{"domain": {domain}})
	})
	if err != nil {
		return false, err
	}
	return gjson.GetBytes(result.([]byte), "allow").Bool(), nil
}

func (v *Validator) queryResolveAlias(ctx context.Context, alias string) (string, error) {
	result, err := v.aliasCB.Execute(func() (interface{}, error) {
		return v.getJSON(ctx, "/internal/resolve-alias", url.Values{"alias": {alias}})
	})
	if err != nil {
		return "", err
	}
	tok := gjson.GetBytes(result.([]byte), "token")
	if !tok.Exists() || tok.Type == gjson.Null {
		return "", nil
	}
	return tok.String(), nil
}

func (v *Validator) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := v.controlPlaneBase + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("x-relay-internal-secret", v.internalSecret)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: control-plane call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity: control-plane returned status %d", resp.StatusCode)
	}

	const maxControlPlaneBody = 64 << 10
	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxControlPlaneBody))
	if err != nil {
		return nil, fmt.Errorf("identity: read control-plane response: %w", err)
	}
	if !gjson.ValidBytes(buf) {
		return nil, fmt.Errorf("identity: control-plane returned non-JSON body")
	}
	return buf, nil
}

// SweepCaches runs the janitor's cache maintenance pass (§4.J) over both
// caches, returning the total entries removed.
func (v *Validator) SweepCaches(graceTTL time.Duration, ceiling int) int {
	return v.tokens.Sweep(graceTTL, ceiling) + v.aliases.Sweep(graceTTL, ceiling)
}

// TokenCacheLen and AliasCacheLen report current cache sizes for logging.
func (v *Validator) TokenCacheLen() int { return v.tokens.Len() }
func (v *Validator) AliasCacheLen() int { return v.aliases.Len() }

func redactToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return token[:2] + "***" + token[len(token)-2:]
}

// Package ingress implements the public HTTP front door (§4.F): Host
// parsing, identity resolution through the §4.C caches, rate limiting,
// capped body reads, and dispatch of request frames to a registered client.
package ingress

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/firstprinciplecode/uplink-sub001/internal/codec"
	"github.com/firstprinciplecode/uplink-sub001/internal/identity"
	"github.com/firstprinciplecode/uplink-sub001/internal/metrics"
	"github.com/firstprinciplecode/uplink-sub001/internal/pending"
	"github.com/firstprinciplecode/uplink-sub001/internal/ratelimit"
	"github.com/firstprinciplecode/uplink-sub001/internal/registry"
	"github.com/firstprinciplecode/uplink-sub001/internal/traffic"
)

// Handler wires every collaborator the ingress path needs.
type Handler struct {
	TunnelDomain   string
	AliasDomain    string
	Validator      *identity.Validator
	Limiter        *ratelimit.Limiter
	Registry       *registry.Registry
	Pending        *pending.Table
	Tracker        *traffic.Tracker
	Stats          *traffic.Stats
	MaxRequestSize int64
	PendingTimeout time.Duration
}

// ServeTunnel is the gin handler for every path not claimed by an
// introspection route. It implements the §4.F numbered steps.
func (h *Handler) ServeTunnel(c *gin.Context) {
	host := parseHost(c.Request.Host)

	token, alias, ok := h.resolveIdentity(c.Request.Context(), host)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	if admitted, retryAfter := h.Limiter.Admit(token); !admitted {
		h.Stats.IncRateLimited()
		metrics.RecordRateLimited()
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		c.Status(http.StatusTooManyRequests)
		return
	}

	session, ok := h.Registry.Lookup(token)
	if !ok || !session.Alive() {
		c.String(http.StatusBadGateway, "Tunnel not connected")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.MaxRequestSize+1))
	if err != nil {
		h.Stats.IncErrors()
		c.Status(http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > h.MaxRequestSize {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	id := uuid.NewString()
	frame := codec.NewRequest(id, c.Request.Method, requestPath(c.Request), c.Request.Header, body)

	entry, resultCh := h.Pending.Allocate(id, token, alias, h.PendingTimeout)

	session.WriteMu.Lock()
	err = codec.WriteFrame(session.Conn, frame, int(h.MaxRequestSize)+4096)
	session.WriteMu.Unlock()
	if err != nil {
		h.Pending.Cancel(id)
		slog.Warn("failed to write request frame", "token", redact(token), "error", err)
		c.String(http.StatusBadGateway, "Tunnel not connected")
		return
	}

	h.Tracker.RecordRequest(token, alias, len(body))
	h.Stats.IncRequests()

	select {
	case result := <-resultCh:
		writeResult(c, result)
	case <-c.Request.Context().Done():
		h.Pending.Cancel(entry.ID)
	}
}

func writeResult(c *gin.Context, result pending.Result) {
	for k, values := range result.Headers {
		for _, v := range values {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(result.StatusCode)
	_, _ = c.Writer.Write(result.Body)
}

// resolveIdentity implements §4.F steps 2-4: parse the left-most label,
// decide token vs. alias mode, and resolve to an owning token.
func (h *Handler) resolveIdentity(ctx context.Context, host string) (token, alias string, ok bool) {
	if host == "" {
		return "", "", false
	}
	switch {
	case strings.HasSuffix(host, "."+h.TunnelDomain):
		label := strings.TrimSuffix(host, "."+h.TunnelDomain)
		if !identity.ValidTokenShape(label) {
			return "", "", false
		}
		return label, "", true
	case strings.HasSuffix(host, "."+h.AliasDomain):
		label := strings.TrimSuffix(host, "."+h.AliasDomain)
		if identity.IsReservedAlias(label) {
			return "", "", false
		}
		resolved, found := h.Validator.ResolveAlias(ctx, label)
		if !found {
			return "", "", false
		}
		return resolved, label, true
	default:
		return "", "", false
	}
}

func parseHost(hostHeader string) string {
	host := hostHeader
	if h, _, err := net.SplitHostPort(hostHeader); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

func requestPath(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

func redact(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return token[:2] + "***" + token[len(token)-2:]
}

// IsTunnelHost reports whether host ends in the tunnel or alias domain —
// used by the router to decide between tunnel traffic and introspection
// routes sharing the same port (§4.H).
func (h *Handler) IsTunnelHost(hostHeader string) bool {
	host := parseHost(hostHeader)
	return strings.HasSuffix(host, "."+h.TunnelDomain) || strings.HasSuffix(host, "."+h.AliasDomain)
}

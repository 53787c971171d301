package ingress

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/firstprinciplecode/uplink-sub001/internal/codec"
	"github.com/firstprinciplecode/uplink-sub001/internal/identity"
	"github.com/firstprinciplecode/uplink-sub001/internal/pending"
	"github.com/firstprinciplecode/uplink-sub001/internal/ratelimit"
	"github.com/firstprinciplecode/uplink-sub001/internal/registry"
	"github.com/firstprinciplecode/uplink-sub001/internal/traffic"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T) (*Handler, net.Conn) {
	serverConn, clientConn := net.Pipe()
	reg := registry.New()
	reg.Register("abc123", &registry.Session{Token: "abc123", Conn: serverConn})

	v := identity.NewValidator(identity.Config{Enabled: false, FreshTTL: time.Minute, GraceFactor: 5, CacheCeiling: 100}, nil)

	h := &Handler{
		TunnelDomain:   "tunnel.example",
		AliasDomain:    "example",
		Validator:      v,
		Limiter:        ratelimit.New(time.Minute, 1000),
		Registry:       reg,
		Pending:        pending.New(),
		Tracker:        traffic.NewTracker(),
		Stats:          traffic.NewStats(),
		MaxRequestSize: 1 << 20,
		PendingTimeout: time.Second,
	}
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })
	return h, clientConn
}

func TestServeTunnel_UnknownHost404(t *testing.T) {
	h, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Host = "nope.other.com"

	h.ServeTunnel(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeTunnel_NoLiveClient502(t *testing.T) {
	h, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Host = "unregistered.tunnel.example"

	h.ServeTunnel(c)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestServeTunnel_RoundTripsResponse(t *testing.T) {
	h, clientConn := newTestHandler(t)

	go func() {
		reader := bufio.NewReader(clientConn)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req codec.Request
		_ = json.Unmarshal(line, &req)

		// No control handler reads serverConn here, so the response is
		// delivered the way the control handler would deliver it: straight
		// into the pending table under the request frame's id.
		h.Pending.Complete(req.ID, 200, nil, []byte("pong"))
	}()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ping", nil)
	c.Request.Host = "abc123.tunnel.example"

	h.ServeTunnel(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestServeTunnel_RateLimited429(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Limiter = ratelimit.New(time.Minute, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Host = "abc123.tunnel.example"

	h.ServeTunnel(c)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestServeTunnel_BodyTooLarge413(t *testing.T) {
	h, _ := newTestHandler(t)
	h.MaxRequestSize = 4

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this is too long"))
	c.Request.Host = "abc123.tunnel.example"

	h.ServeTunnel(c)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestResolveIdentity_ReservedAlias(t *testing.T) {
	h, _ := newTestHandler(t)
	_, _, ok := h.resolveIdentity(nil, "www.example")
	assert.False(t, ok)
}

func TestParseHost_StripsPortAndLowercases(t *testing.T) {
	assert.Equal(t, "abc.example.com", parseHost("ABC.Example.com:8080"))
}


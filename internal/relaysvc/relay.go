// Package relaysvc wires every component into the running relay: the
// ingress HTTP server, the control-channel listener, and the periodic
// janitor, supervised together with errgroup so a fatal error in any one
// triggers a coordinated shutdown of the others.
package relaysvc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/firstprinciplecode/uplink-sub001/internal/config"
	"github.com/firstprinciplecode/uplink-sub001/internal/control"
	"github.com/firstprinciplecode/uplink-sub001/internal/identity"
	"github.com/firstprinciplecode/uplink-sub001/internal/ingress"
	"github.com/firstprinciplecode/uplink-sub001/internal/introspection"
	"github.com/firstprinciplecode/uplink-sub001/internal/janitor"
	"github.com/firstprinciplecode/uplink-sub001/internal/metrics"
	"github.com/firstprinciplecode/uplink-sub001/internal/pending"
	"github.com/firstprinciplecode/uplink-sub001/internal/ratelimit"
	"github.com/firstprinciplecode/uplink-sub001/internal/registry"
	"github.com/firstprinciplecode/uplink-sub001/internal/traffic"
)

// Relay bundles the relay's entire live state and three supervised
// long-running loops (§5).
type Relay struct {
	cfg *config.Config

	registry  *registry.Registry
	pending   *pending.Table
	limiter   *ratelimit.Limiter
	validator *identity.Validator
	tracker   *traffic.Tracker
	stats     *traffic.Stats

	relayRunID string
	startedAt  time.Time

	ingressSrv *http.Server
	ctrlLn     net.Listener
	janitor    *janitor.Janitor
}

// New constructs a Relay from cfg. It does not start listening — call Run.
func New(cfg *config.Config) *Relay {
	stats := traffic.NewStats()
	reg := registry.New()
	pend := pending.New()
	limiter := ratelimit.New(config.DefaultRateLimitWindow, cfg.RateLimitRequests)
	validator := identity.NewValidator(identity.Config{
		Enabled:          cfg.ValidateTokens,
		ControlPlaneBase: cfg.ControlPlaneBase,
		InternalSecret:   cfg.InternalSecret,
		TunnelDomain:     cfg.TunnelDomain,
		FreshTTL:         config.DefaultTokenCacheTTL,
		GraceFactor:      config.DefaultStaleGraceFactor,
		CacheCeiling:     config.DefaultCacheCeiling,
	}, func() {
		stats.IncInvalidTokens()
		metrics.RecordInvalidToken()
	})
	tracker := traffic.NewTracker()

	r := &Relay{
		cfg:        cfg,
		registry:   reg,
		pending:    pend,
		limiter:    limiter,
		validator:  validator,
		tracker:    tracker,
		stats:      stats,
		relayRunID: traffic.NewRunID(),
		startedAt:  time.Now(),
	}

	r.janitor = &janitor.Janitor{
		Registry:     reg,
		Limiter:      limiter,
		Validator:    validator,
		Interval:     config.DefaultJanitorInterval,
		GraceTTL:     time.Duration(config.DefaultStaleGraceFactor) * config.DefaultTokenCacheTTL,
		CacheCeiling: config.DefaultCacheCeiling,
	}

	ingressHandler := &ingress.Handler{
		TunnelDomain:   cfg.TunnelDomain,
		AliasDomain:    cfg.AliasDomain,
		Validator:      validator,
		Limiter:        limiter,
		Registry:       reg,
		Pending:        pend,
		Tracker:        tracker,
		Stats:          stats,
		MaxRequestSize: cfg.MaxRequestSize,
		PendingTimeout: cfg.PendingTimeout,
	}
	introspectionHandler := &introspection.Handler{
		InternalSecret: cfg.InternalSecret,
		Registry:       reg,
		Pending:        pend,
		Tracker:        tracker,
		Stats:          stats,
		RelayRunID:     r.relayRunID,
		StartedAt:      r.startedAt.UTC().Format(time.RFC3339),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("uplink-relay"))
	router.Use(metrics.Middleware())

	// §4.F step 1 / §4.H: these paths are introspection endpoints only when
	// the Host is not under the tunnel or alias domain. On such a host the
	// same path is ordinary traffic bound for the client, so it falls
	// through to ServeTunnel instead, whether or not a client is registered.
	localOnly := func(c *gin.Context) {
		if ingressHandler.IsTunnelHost(c.Request.Host) {
			ingressHandler.ServeTunnel(c)
			c.Abort()
		}
	}

	introspectionGroup := router.Group("/")
	introspectionGroup.Use(localOnly)
	introspectionGroup.Use(introspectionHandler.RequireSecret())
	introspectionGroup.GET("/health", introspectionHandler.Health)
	introspectionGroup.GET("/internal/connected-tokens", introspectionHandler.ConnectedTokens)
	introspectionGroup.GET("/internal/traffic-stats", introspectionHandler.TrafficStats)
	router.GET("/metrics", localOnly, gin.WrapH(promhttp.Handler()))

	router.NoRoute(ingressHandler.ServeTunnel)
	router.NoMethod(ingressHandler.ServeTunnel)

	r.ingressSrv = &http.Server{
		Addr:              net.JoinHostPort(cfg.IngressHost, cfg.IngressPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       65 * time.Second,
	}

	return r
}

// Run starts all three loops and blocks until ctx is cancelled or one of
// them fails fatally.
func (r *Relay) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(r.cfg.IngressHost, r.cfg.ControlPort))
	if err != nil {
		return fmt.Errorf("relaysvc: listen on control port: %w", err)
	}
	if r.cfg.CtrlTLS {
		tlsCfg, err := controlTLSConfig(r.cfg)
		if err != nil {
			ln.Close()
			return fmt.Errorf("relaysvc: control TLS config: %w", err)
		}
		ln = tls.NewListener(ln, tlsCfg)
	}
	r.ctrlLn = ln

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("ingress listening", "addr", r.ingressSrv.Addr)
		if err := r.ingressSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("relaysvc: ingress server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		slog.Info("control channel listening", "addr", ln.Addr())
		return r.acceptLoop(gctx, ln)
	})

	group.Go(func() error {
		r.janitor.Run(gctx)
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		return r.shutdown()
	})

	return group.Wait()
}

func (r *Relay) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("relaysvc: accept control connection: %w", err)
			}
		}
		go control.Handle(conn, control.Deps{
			Registry:     r.registry,
			Pending:      r.pending,
			Validator:    r.validator,
			Tracker:      r.tracker,
			Stats:        r.stats,
			MaxFrameSize: int(r.cfg.MaxRequestSize),
		})
	}
}

func (r *Relay) shutdown() error {
	slog.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.ingressSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ingress server shutdown error", "error", err)
	}
	if r.ctrlLn != nil {
		_ = r.ctrlLn.Close()
	}
	return nil
}

// controlTLSConfig builds the server-side TLS config for the control
// listener from cfg's Ctrl* settings (§6). CtrlCA, when set, turns on mutual
// TLS by requiring and verifying a client certificate against that CA;
// CtrlTLSInsecure relaxes that requirement to "verify if given" instead,
// for environments where clients don't yet carry a cert.
func controlTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CtrlCert, cfg.CtrlKey)
	if err != nil {
		return nil, fmt.Errorf("load control cert/key: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if cfg.CtrlCA != "" {
		caPEM, err := os.ReadFile(cfg.CtrlCA)
		if err != nil {
			return nil, fmt.Errorf("read control CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("control CA file contains no usable certificates")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		if cfg.CtrlTLSInsecure {
			tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return tlsCfg, nil
}

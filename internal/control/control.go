// Package control implements the per-client control-channel state machine
// (§4.G): AwaitingRegister -> Registered, dispatching response frames to the
// pending table and registering/deregistering sessions.
package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/firstprinciplecode/uplink-sub001/internal/codec"
	"github.com/firstprinciplecode/uplink-sub001/internal/identity"
	"github.com/firstprinciplecode/uplink-sub001/internal/metrics"
	"github.com/firstprinciplecode/uplink-sub001/internal/pending"
	"github.com/firstprinciplecode/uplink-sub001/internal/registry"
	"github.com/firstprinciplecode/uplink-sub001/internal/traffic"
)

type state int

const (
	stateAwaitingRegister state = iota
	stateRegistered
	stateTerminating
)

func (s state) String() string {
	switch s {
	case stateAwaitingRegister:
		return "awaiting_register"
	case stateRegistered:
		return "registered"
	case stateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Deps bundles the shared collaborators a client connection dispatches
// against.
type Deps struct {
	Registry     *registry.Registry
	Pending      *pending.Table
	Validator    *identity.Validator
	Tracker      *traffic.Tracker
	Stats        *traffic.Stats
	MaxFrameSize int
}

// Handle runs a single client connection's lifecycle to completion: it
// blocks until the stream closes or a terminal error occurs. Call it in its
// own goroutine per accepted connection.
func Handle(conn net.Conn, deps Deps) {
	reader := codec.NewReader(conn, deps.MaxFrameSize)
	st := stateAwaitingRegister
	var session *registry.Session

	defer func() {
		conn.Close()
		if session != nil {
			session.MarkClosed()
			deps.Registry.Deregister(session.Token, session)
			metrics.SetActiveSessions(deps.Registry.Len())
			slog.Info("control session closed", "token", redact(session.Token), "state", st)
		} else {
			slog.Info("control connection closed before registering", "remote", conn.RemoteAddr().String(), "state", st)
		}
	}()

	for {
		line, err := reader.ReadFrame()
		if err != nil {
			st = stateTerminating
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, codec.ErrFrameTooLarge) {
				writeError(conn, session, deps.MaxFrameSize, "frame too large")
				return
			}
			slog.Warn("control read error", "error", err)
			return
		}
		if line == nil {
			st = stateTerminating
			return
		}

		frame, err := codec.Parse(line)
		if err != nil {
			st = stateTerminating
			slog.Warn("control frame parse error", "error", err)
			writeError(conn, session, deps.MaxFrameSize, "malformed frame")
			return
		}

		switch st {
		case stateAwaitingRegister:
			reg, ok := frame.(*codec.Register)
			if !ok {
				st = stateTerminating
				writeError(conn, session, deps.MaxFrameSize, "expected register frame")
				return
			}
			if !identity.ValidTokenShape(reg.Token) {
				st = stateTerminating
				deps.Stats.IncInvalidTokens()
				metrics.RecordInvalidToken()
				writeError(conn, session, deps.MaxFrameSize, "invalid token")
				return
			}
			if !deps.Validator.ValidateToken(context.Background(), reg.Token) {
				st = stateTerminating
				deps.Stats.IncInvalidTokens()
				metrics.RecordInvalidToken()
				writeError(conn, session, deps.MaxFrameSize, "invalid token")
				return
			}

			session = &registry.Session{
				Token:       reg.Token,
				TargetPort:  reg.TargetPort,
				RemoteAddr:  conn.RemoteAddr().String(),
				ConnectedAt: time.Now(),
				Conn:        conn,
			}
			if evicted := deps.Registry.Register(reg.Token, session); evicted != nil {
				evicted.MarkClosed()
				evicted.Conn.Close()
			}
			metrics.SetActiveSessions(deps.Registry.Len())

			session.WriteMu.Lock()
			err = codec.WriteFrame(conn, codec.NewRegistered(), deps.MaxFrameSize)
			session.WriteMu.Unlock()
			if err != nil {
				st = stateTerminating
				slog.Warn("failed to ack register", "error", err)
				return
			}
			st = stateRegistered
			slog.Info("client registered", "token", redact(reg.Token), "remote", session.RemoteAddr)

		case stateRegistered:
			resp, ok := frame.(*codec.Response)
			if !ok {
				slog.Warn("unexpected frame in registered state, discarding")
				continue
			}
			headers := codec.StripHopByHop(resp.Headers)
			delivered, token, alias := deps.Pending.Complete(resp.ID, resp.Status, headers, resp.Body)
			if !delivered {
				slog.Info("response for unknown or already-resolved request id, discarding", "id", resp.ID)
				continue
			}
			deps.Tracker.RecordResponse(token, alias, resp.Status, len(resp.Body))
		}
	}
}

func writeError(conn net.Conn, session *registry.Session, maxFrameSize int, message string) {
	frame := codec.NewError(message)
	if session != nil {
		session.WriteMu.Lock()
		defer session.WriteMu.Unlock()
	}
	_ = codec.WriteFrame(conn, frame, maxFrameSize)
}

func redact(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return token[:2] + "***" + token[len(token)-2:]
}

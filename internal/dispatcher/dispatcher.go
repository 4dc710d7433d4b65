// Package dispatcher implements the per-connection request handler
// (spec.md §4.7): it reads envelopes off a connection, resolves the
// effective session, branches on the request payload, and writes back a
// Response envelope — or, for StreamSubscribe, hands the connection off to
// the streaming loop in stream.go.
package dispatcher

import (
	"errors"
	"io"
	"net"

	"browserd/internal/audit"
	"browserd/internal/engine"
	"browserd/internal/identity"
	"browserd/internal/logx"
	"browserd/internal/policy"
	"browserd/internal/refengine"
	"browserd/internal/registry"
	"browserd/internal/stats"
	"browserd/internal/wire"
)

// EngineFactory builds the engine a new session should use. The default,
// set by New, always returns a *refengine.Engine; a daemon that wants real
// sessions supplies a factory that builds a *realengine.Engine instead.
type EngineFactory func(cfg *wire.SessionConfig) engine.Engine

// Dispatcher holds everything a connection handler needs that outlives any
// single connection: the session registry, audit logger, stats counters,
// and the engine factory new sessions are built with.
type Dispatcher struct {
	Registry         *registry.Registry
	Audit            *audit.Logger
	Stats            *stats.Stats
	Log              *logx.Logger
	DefaultSessionID string
	NewEngine        EngineFactory
}

// New returns a Dispatcher whose sessions default to the reference engine.
func New(reg *registry.Registry, auditLogger *audit.Logger, st *stats.Stats, log *logx.Logger, defaultSessionID string) *Dispatcher {
	return &Dispatcher{
		Registry:         reg,
		Audit:            auditLogger,
		Stats:            st,
		Log:              log,
		DefaultSessionID: defaultSessionID,
		NewEngine:        func(cfg *wire.SessionConfig) engine.Engine { return refengine.New(cfg) },
	}
}

// HandleConnection runs the dispatcher's read-dispatch-write loop for one
// connection until EOF, a fatal I/O error, a CloseSession, or the end of a
// streaming subscription. It recovers from a panic in request handling so
// one broken connection cannot bring down the daemon.
func (d *Dispatcher) HandleConnection(conn net.Conn) {
	defer conn.Close()
	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	defer func() {
		if rec := recover(); rec != nil {
			d.Log.Errorf("dispatcher: recovered from panic: %v", rec)
		}
	}()

	for {
		env, err := r.ReadEnvelope()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			d.Log.Warnf("dispatcher: read envelope: %v", err)
			return
		}

		if env.Request == nil {
			if werr := w.WriteEnvelope(errorEnvelope("", "", engine.CodeInvalidRequest, "expected a request envelope")); werr != nil {
				return
			}
			continue
		}

		d.Stats.IncrementRequestsDispatched()
		req := env.Request
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = d.DefaultSessionID
		}

		resp, plan, closeConn := d.dispatchRequest(req, sessionID)
		if resp != nil {
			if werr := w.WriteEnvelope(&wire.Envelope{Response: resp}); werr != nil {
				return
			}
		}
		if plan != nil {
			d.runStream(w, plan)
			return
		}
		if closeConn {
			return
		}
	}
}

// dispatchRequest branches on req.Payload per spec.md §6's mapping table.
// It returns the Response envelope to write (for a stream subscription this
// is the acknowledgement, written before the plan runs), an optional
// streamPlan to hand off to the streaming loop, and whether the connection
// should close afterward.
func (d *Dispatcher) dispatchRequest(req *wire.Request, sessionID string) (*wire.Response, *streamPlan, bool) {
	switch p := req.Payload.(type) {

	case *wire.CreateSessionPayload:
		return d.handleCreateSession(req, p), nil, false

	case *wire.NavigatePayload:
		return d.handleNavigate(req, sessionID, p), nil, false

	case *wire.ObservePayload:
		return d.handleObserve(req, sessionID, p), nil, false

	case *wire.ActPayload:
		return d.handleAct(req, sessionID, p), nil, false

	case *wire.StreamSubscribePayload:
		return d.handleStreamSubscribe(req, sessionID, p)

	case *wire.CloseSessionPayload:
		return d.handleCloseSession(req, sessionID), nil, true

	default:
		return errorResponse(req, engine.CodeInvalidRequest, "missing payload"), nil, false
	}
}

func (d *Dispatcher) handleCreateSession(req *wire.Request, p *wire.CreateSessionPayload) *wire.Response {
	cfg := p.Config
	if cfg == nil || cfg.SessionID == "" {
		return errorResponse(req, engine.CodeInvalidRequest, "config.session_id must be non-empty")
	}

	if cfg.InitialURL != "" {
		if reason := policy.ValidateURL(cfg.InitialURL, cfg.NetworkAllowlist); reason != "" {
			return errorResponse(req, engine.CodeInvalidRequest, reason)
		}
	}
	identity.ApplyDefaults(cfg)

	eng := d.NewEngine(cfg)
	var obs *wire.Observation
	if cfg.InitialURL != "" {
		var eerr *engine.Error
		obs, eerr = eng.Navigate(cfg.InitialURL)
		if eerr != nil {
			return errorResponse(req, eerr.Code, eerr.Message)
		}
		d.Audit.Navigate(cfg.SessionID, cfg.InitialURL)
	} else {
		var eerr *engine.Error
		obs, eerr = eng.Observe(wire.ObserveOptions{IncludeDOMSnapshot: true, IncludeAccessibility: true})
		if eerr != nil {
			return errorResponse(req, eerr.Code, eerr.Message)
		}
	}

	d.Registry.Insert(&registry.Entry{ID: cfg.SessionID, Allowlist: cfg.NetworkAllowlist, Engine: eng})
	d.Stats.IncrementSessionsCreated()

	return &wire.Response{
		RequestID: req.RequestID,
		SessionID: cfg.SessionID,
		Payload: &wire.CreateSessionResponse{
			Session: wire.SessionInfo{
				ID:           cfg.SessionID,
				StateVersion: obs.StateVersion,
				URL:          obs.URL,
			},
			Observation: obs,
		},
	}
}

func (d *Dispatcher) handleNavigate(req *wire.Request, sessionID string, p *wire.NavigatePayload) *wire.Response {
	if p.URL == "" {
		return errorResponse(req, engine.CodeInvalidRequest, "url must be non-empty")
	}

	var obs *wire.Observation
	var eerr *engine.Error
	found := d.Registry.WithSession(sessionID, func(e *registry.Entry) {
		if reason := policy.ValidateURL(p.URL, e.Allowlist); reason != "" {
			eerr = engine.New(engine.CodeInvalidRequest, reason)
			return
		}
		obs, eerr = e.Engine.Navigate(p.URL)
	})
	if !found {
		return errorResponse(req, engine.CodeInvalidSession, "unknown session_id")
	}
	if eerr != nil {
		return errorResponse(req, eerr.Code, eerr.Message)
	}

	d.Audit.Navigate(sessionID, p.URL)
	return &wire.Response{
		RequestID: req.RequestID,
		SessionID: sessionID,
		Payload:   &wire.NavigateResponse{Observation: obs},
	}
}

func (d *Dispatcher) handleObserve(req *wire.Request, sessionID string, p *wire.ObservePayload) *wire.Response {
	var obs *wire.Observation
	var eerr *engine.Error
	found := d.Registry.WithSession(sessionID, func(e *registry.Entry) {
		obs, eerr = e.Engine.Observe(p.Options)
	})
	if !found {
		return errorResponse(req, engine.CodeInvalidSession, "unknown session_id")
	}
	if eerr != nil {
		return errorResponse(req, eerr.Code, eerr.Message)
	}
	return &wire.Response{
		RequestID: req.RequestID,
		SessionID: sessionID,
		Payload:   &wire.ObserveResponse{Observation: obs},
	}
}

func (d *Dispatcher) handleAct(req *wire.Request, sessionID string, p *wire.ActPayload) *wire.Response {
	if p.Action == nil {
		return errorResponse(req, engine.CodeInvalidRequest, "missing action")
	}

	var result *wire.ActionResult
	var eerr *engine.Error
	found := d.Registry.WithSession(sessionID, func(e *registry.Entry) {
		result, eerr = e.Engine.Act(p.Action)
	})
	if !found {
		return errorResponse(req, engine.CodeInvalidSession, "unknown session_id")
	}
	if eerr != nil {
		return errorResponse(req, eerr.Code, eerr.Message)
	}

	d.Audit.Action(sessionID, p.Action.Type.String(), result.StateVersion, auditFieldsFor(p.Action))
	return &wire.Response{
		RequestID: req.RequestID,
		SessionID: sessionID,
		Payload:   &wire.ActResponse{Result: result},
	}
}

// closer is implemented by engines that own a background worker (the real
// engine's mailbox goroutine); the reference engine has nothing to release
// and does not implement it.
type closer interface {
	Close()
}

func (d *Dispatcher) handleCloseSession(req *wire.Request, sessionID string) *wire.Response {
	entry, found := d.Registry.RemoveEntry(sessionID)
	if !found {
		return errorResponse(req, engine.CodeInvalidSession, "unknown session_id")
	}
	if c, ok := entry.Engine.(closer); ok {
		c.Close()
	}
	return &wire.Response{
		RequestID: req.RequestID,
		SessionID: sessionID,
		Payload:   &wire.CloseSessionResponse{Closed: true},
	}
}

func auditFieldsFor(a *wire.Action) audit.ActionFields {
	f := audit.ActionFields{
		ExpectedStateVersion: a.ExpectedStateVersion,
		TextLen:              len([]rune(a.Text)),
		KeyLen:               len([]rune(a.Key)),
	}
	if a.Scroll != nil {
		f.ScrollX, f.ScrollY = a.Scroll.X, a.Scroll.Y
		f.ScrollUnit = scrollUnitName(a.Scroll.Unit)
	}
	if a.Target.NodeID != 0 {
		f.TargetNodeID = a.Target.NodeID
	}
	if a.Target.Point != nil {
		f.HasTargetPoint = true
		f.TargetX, f.TargetY = a.Target.Point.X, a.Target.Point.Y
	}
	return f
}

func scrollUnitName(u wire.ScrollUnit) string {
	switch u {
	case wire.ScrollUnitLines:
		return "lines"
	default:
		return "pixels"
	}
}

func errorResponse(req *wire.Request, code, message string) *wire.Response {
	var requestID, sessionID string
	if req != nil {
		requestID, sessionID = req.RequestID, req.SessionID
	}
	return &wire.Response{
		RequestID: requestID,
		SessionID: sessionID,
		Error:     &wire.ErrorInfo{Code: code, Message: message},
	}
}

func errorEnvelope(requestID, sessionID, code, message string) *wire.Envelope {
	return &wire.Envelope{Response: &wire.Response{
		RequestID: requestID,
		SessionID: sessionID,
		Error:     &wire.ErrorInfo{Code: code, Message: message},
	}}
}

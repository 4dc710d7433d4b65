package dispatcher_test

import (
	"net"
	"testing"

	"browserd/internal/audit"
	"browserd/internal/dispatcher"
	"browserd/internal/engine"
	"browserd/internal/logx"
	"browserd/internal/registry"
	"browserd/internal/stats"
	"browserd/internal/wire"
)

func newTestDispatcher() *dispatcher.Dispatcher {
	return dispatcher.New(registry.New(), audit.New("", logx.New(logx.LevelError)), stats.New(), logx.New(logx.LevelError), "default-session")
}

// client wraps one end of a net.Pipe with a wire Reader/Writer for
// round-tripping requests in tests.
type client struct {
	w *wire.Writer
	r *wire.Reader
}

func dial(t *testing.T, d *dispatcher.Dispatcher) (*client, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	go d.HandleConnection(serverConn)
	return &client{w: wire.NewWriter(clientConn), r: wire.NewReader(clientConn)}, clientConn
}

func (c *client) send(t *testing.T, req *wire.Request) *wire.Response {
	t.Helper()
	if err := c.w.WriteEnvelope(&wire.Envelope{Request: req}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	env, err := c.r.ReadEnvelope()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if env.Response == nil {
		t.Fatalf("expected a response envelope, got %+v", env)
	}
	return env.Response
}

func TestScenario_CreateNavigateObserve(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	createResp := c.send(t, &wire.Request{
		RequestID: "r1",
		Payload: &wire.CreateSessionPayload{Config: &wire.SessionConfig{
			SessionID: "s1",
			Viewport:  wire.Viewport{Width: 800, Height: 600},
		}},
	})
	if createResp.Error != nil {
		t.Fatalf("create session: %+v", createResp.Error)
	}
	create := createResp.Payload.(*wire.CreateSessionResponse)
	if create.Session.StateVersion != 1 {
		t.Fatalf("state_version = %d, want 1", create.Session.StateVersion)
	}

	navResp := c.send(t, &wire.Request{
		RequestID: "r2",
		SessionID: "s1",
		Payload:   &wire.NavigatePayload{URL: "https://example.com/"},
	})
	if navResp.Error != nil {
		t.Fatalf("navigate: %+v", navResp.Error)
	}
	nav := navResp.Payload.(*wire.NavigateResponse)
	if nav.Observation.StateVersion != 2 {
		t.Fatalf("state_version = %d, want 2", nav.Observation.StateVersion)
	}
	if nav.Observation.URL != "https://example.com/" {
		t.Fatalf("url = %q", nav.Observation.URL)
	}

	obsResp := c.send(t, &wire.Request{
		RequestID: "r3",
		SessionID: "s1",
		Payload:   &wire.ObservePayload{Options: wire.ObserveOptions{IncludeDOMSnapshot: true}},
	})
	if obsResp.Error != nil {
		t.Fatalf("observe: %+v", obsResp.Error)
	}
	obs := obsResp.Payload.(*wire.ObserveResponse)
	if obs.Observation.StateVersion != 2 {
		t.Fatalf("observe did not mutate state_version, got %d", obs.Observation.StateVersion)
	}
	if len(obs.Observation.DomSnapshot) == 0 {
		t.Fatal("expected a non-empty dom snapshot")
	}
	if obsResp.RequestID != "r3" {
		t.Fatalf("request_id = %q, want r3", obsResp.RequestID)
	}
}

func TestScenario_AllowlistRejection(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	c.send(t, &wire.Request{
		RequestID: "r1",
		Payload: &wire.CreateSessionPayload{Config: &wire.SessionConfig{
			SessionID:        "s1",
			Viewport:         wire.Viewport{Width: 800, Height: 600},
			NetworkAllowlist: []string{"example.com"},
		}},
	})

	resp := c.send(t, &wire.Request{
		RequestID: "r2",
		SessionID: "s1",
		Payload:   &wire.NavigatePayload{URL: "https://evil.example.net/"},
	})
	if resp.Error == nil || resp.Error.Code != engine.CodeInvalidRequest {
		t.Fatalf("expected invalid_request for disallowed host, got %+v", resp.Error)
	}
}

func TestScenario_OptimisticConcurrency(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	c.send(t, &wire.Request{
		RequestID: "r1",
		Payload: &wire.CreateSessionPayload{Config: &wire.SessionConfig{
			SessionID: "s1",
			Viewport:  wire.Viewport{Width: 800, Height: 600},
		}},
	})

	resp := c.send(t, &wire.Request{
		RequestID: "r2",
		SessionID: "s1",
		Payload: &wire.ActPayload{Action: &wire.Action{
			Type:                 wire.ActionHover,
			ExpectedStateVersion: 999,
		}},
	})
	if resp.Error == nil || resp.Error.Code != engine.CodeStaleState {
		t.Fatalf("expected stale_state, got %+v", resp.Error)
	}
}

func TestScenario_ClickHitTestsButton(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	c.send(t, &wire.Request{
		RequestID: "r1",
		Payload: &wire.CreateSessionPayload{Config: &wire.SessionConfig{
			SessionID: "s1",
			Viewport:  wire.Viewport{Width: 900, Height: 600},
		}},
	})

	resp := c.send(t, &wire.Request{
		RequestID: "r2",
		SessionID: "s1",
		Payload: &wire.ActPayload{Action: &wire.Action{
			Type:   wire.ActionClick,
			Target: wire.ActionTarget{Point: &wire.Point{X: 450, Y: 200}},
		}},
	})
	if resp.Error != nil {
		t.Fatalf("act: %+v", resp.Error)
	}
	act := resp.Payload.(*wire.ActResponse)
	if len(act.Result.Effects) == 0 {
		t.Fatal("expected at least one effect")
	}
	if act.Result.Effects[0].Summary != "clicked node 2" {
		t.Fatalf("summary = %q, want a click on the button node", act.Result.Effects[0].Summary)
	}
}

func TestScenario_ClipboardPolicy(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	c.send(t, &wire.Request{
		RequestID: "r1",
		Payload: &wire.CreateSessionPayload{Config: &wire.SessionConfig{
			SessionID: "s1",
			Viewport:  wire.Viewport{Width: 800, Height: 600},
			Clipboard: wire.ClipboardPolicy{AllowRead: false, AllowWrite: true, MaxBytes: 1024},
		}},
	})

	resp := c.send(t, &wire.Request{
		RequestID: "r2",
		SessionID: "s1",
		Payload:   &wire.ActPayload{Action: &wire.Action{Type: wire.ActionClipboardRead}},
	})
	if resp.Error == nil || resp.Error.Code != engine.CodeClipboardDenied {
		t.Fatalf("expected clipboard_denied, got %+v", resp.Error)
	}
}

func TestScenario_Streaming(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	c.send(t, &wire.Request{
		RequestID: "r1",
		Payload: &wire.CreateSessionPayload{Config: &wire.SessionConfig{
			SessionID: "s1",
			Viewport:  wire.Viewport{Width: 800, Height: 600},
			FrameRate: 30,
		}},
	})

	subResp := c.send(t, &wire.Request{
		RequestID: "r2",
		SessionID: "s1",
		Payload:   &wire.StreamSubscribePayload{Options: wire.StreamOptions{IncludeFrames: true, TargetFPS: 1000}},
	})
	if subResp.Error != nil {
		t.Fatalf("subscribe: %+v", subResp.Error)
	}
	if !subResp.Payload.(*wire.StreamSubscribeResponse).Subscribed {
		t.Fatal("expected subscribed = true")
	}

	env, err := c.r.ReadEnvelope()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if env.Event == nil {
		t.Fatalf("expected an event envelope, got %+v", env)
	}
	if env.Event.Type != wire.EventFrame {
		t.Fatalf("event type = %v, want Frame", env.Event.Type)
	}
}

func TestCloseSession_ClosesConnection(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	c.send(t, &wire.Request{
		RequestID: "r1",
		Payload: &wire.CreateSessionPayload{Config: &wire.SessionConfig{
			SessionID: "s1",
			Viewport:  wire.Viewport{Width: 800, Height: 600},
		}},
	})

	resp := c.send(t, &wire.Request{
		RequestID: "r2",
		SessionID: "s1",
		Payload:   &wire.CloseSessionPayload{},
	})
	if resp.Error != nil {
		t.Fatalf("close session: %+v", resp.Error)
	}
	if !resp.Payload.(*wire.CloseSessionResponse).Closed {
		t.Fatal("expected closed = true")
	}

	if _, err := c.r.ReadEnvelope(); err == nil {
		t.Fatal("expected connection to be closed after CloseSession")
	}
}

func TestInvalidSession_ReturnsInvalidSessionError(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	resp := c.send(t, &wire.Request{
		RequestID: "r1",
		SessionID: "no-such-session",
		Payload:   &wire.ObservePayload{},
	})
	if resp.Error == nil || resp.Error.Code != engine.CodeInvalidSession {
		t.Fatalf("expected invalid_session, got %+v", resp.Error)
	}
}

func TestMissingPayload_ReturnsInvalidRequest(t *testing.T) {
	d := newTestDispatcher()
	c, conn := dial(t, d)
	defer conn.Close()

	resp := c.send(t, &wire.Request{RequestID: "r1"})
	if resp.Error == nil || resp.Error.Code != engine.CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %+v", resp.Error)
	}
}

package refengine_test

import (
	"strings"
	"testing"

	"browserd/internal/engine"
	"browserd/internal/refengine"
	"browserd/internal/wire"
)

func newEngine(viewport wire.Viewport, clipboard wire.ClipboardPolicy) *refengine.Engine {
	return refengine.New(&wire.SessionConfig{
		SessionID: "s1",
		Viewport:  viewport,
		Clipboard: clipboard,
	})
}

// Scenario 1: Create → Navigate → Observe.
func TestScenario_CreateNavigateObserve(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})

	if got := e.StateVersion(); got != 1 {
		t.Fatalf("initial state_version = %d, want 1", got)
	}

	obs, err := e.Observe(wire.ObserveOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.URL != "about:blank" {
		t.Fatalf("initial url = %q, want about:blank", obs.URL)
	}

	obs, err = e.Navigate("https://example.com/")
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if obs.StateVersion != 2 {
		t.Fatalf("state_version after navigate = %d, want 2", obs.StateVersion)
	}
	if obs.URL != "https://example.com/" {
		t.Fatalf("url after navigate = %q", obs.URL)
	}

	obs, err = e.Observe(wire.ObserveOptions{IncludeDOMSnapshot: true})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if obs.StateVersion != 2 {
		t.Fatalf("observe state_version = %d, want 2", obs.StateVersion)
	}
	if len(obs.DomSnapshot) == 0 {
		t.Fatal("expected non-empty dom snapshot")
	}
	if !strings.Contains(string(obs.DomSnapshot), `"url":"https://example.com/"`) {
		t.Fatalf("dom snapshot missing url field: %s", obs.DomSnapshot)
	}
}

func TestNavigate_RejectsEmptyURL(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	_, err := e.Navigate("")
	if err == nil || err.Code != engine.CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
	if e.StateVersion() != 1 {
		t.Fatalf("state_version should be unchanged on rejected navigate, got %d", e.StateVersion())
	}
}

// Scenario 3: Optimistic concurrency.
func TestScenario_OptimisticConcurrency(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	if _, err := e.Navigate("https://example.com/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if e.StateVersion() != 2 {
		t.Fatalf("state_version = %d, want 2", e.StateVersion())
	}

	_, err := e.Act(&wire.Action{
		Type:                 wire.ActionClick,
		ExpectedStateVersion: 99,
		Target:               wire.ActionTarget{Point: &wire.Point{X: 10, Y: 10}},
	})
	if err == nil || err.Code != engine.CodeStaleState {
		t.Fatalf("expected stale_state, got %v", err)
	}
	if e.StateVersion() != 2 {
		t.Fatalf("state_version should not advance on stale_state, got %d", e.StateVersion())
	}

	result, err := e.Act(&wire.Action{
		Type:                 wire.ActionClick,
		ExpectedStateVersion: 2,
		Target:               wire.ActionTarget{Point: &wire.Point{X: 10, Y: 10}},
	})
	if err != nil {
		t.Fatalf("unexpected error with matching expected_state_version: %v", err)
	}
	if result.StateVersion != 3 {
		t.Fatalf("state_version after act = %d, want 3", result.StateVersion)
	}
}

func TestAct_ZeroExpectedStateVersionBypassesCheck(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	result, err := e.Act(&wire.Action{Type: wire.ActionHover, Target: wire.ActionTarget{NodeID: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StateVersion != 2 {
		t.Fatalf("state_version = %d, want 2", result.StateVersion)
	}
}

// Scenario 4: Click hit-tests to button.
func TestScenario_ClickHitTestsButton(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	result, err := e.Act(&wire.Action{
		Type:   wire.ActionClick,
		Target: wire.ActionTarget{Point: &wire.Point{X: 400, Y: 150}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Effects) != 1 || result.Effects[0].Kind != "click" {
		t.Fatalf("effects = %+v, want one click effect", result.Effects)
	}
	if !strings.Contains(string(result.Observation.DomSnapshot), `"focused_node":2`) {
		t.Fatalf("dom snapshot missing focused_node=2: %s", result.Observation.DomSnapshot)
	}
}

func TestClick_OnButtonRightEdgeResolvesToRoot(t *testing.T) {
	// button rect for an 800x600 viewport is x=267,y=150,w=266,h=100; the
	// point exactly on its right edge (533,200) must not hit-test as inside.
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	result, err := e.Act(&wire.Action{
		Type:   wire.ActionClick,
		Target: wire.ActionTarget{Point: &wire.Point{X: 533, Y: 200}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(result.Observation.DomSnapshot), `"focused_node":2`) {
		t.Fatalf("point on button's right edge must not resolve to the button: %s", result.Observation.DomSnapshot)
	}
}

func TestClick_OutsideAnyRegionResolvesToRoot(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	result, err := e.Act(&wire.Action{
		Type:   wire.ActionClick,
		Target: wire.ActionTarget{Point: &wire.Point{X: 1, Y: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(result.Observation.DomSnapshot), `"focused_node":1`) {
		t.Fatalf("expected focus on root node: %s", result.Observation.DomSnapshot)
	}
}

func TestType_TargetRootSubstitutesTextbox(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	result, err := e.Act(&wire.Action{
		Type:   wire.ActionTypeText,
		Text:   "hi",
		Target: wire.ActionTarget{Point: &wire.Point{X: 1, Y: 1}}, // resolves to root
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(result.Observation.DomSnapshot), `"focused_node":3`) {
		t.Fatalf("expected type on root target to substitute textbox (node 3): %s", result.Observation.DomSnapshot)
	}
}

func TestType_RejectsEmptyText(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	_, err := e.Act(&wire.Action{Type: wire.ActionTypeText, Text: ""})
	if err == nil || err.Code != engine.CodeInvalidRequest {
		t.Fatalf("expected invalid_request for empty text, got %v", err)
	}
}

func TestAct_UnspecifiedIsInvalidRequest(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	_, err := e.Act(&wire.Action{Type: wire.ActionUnspecified})
	if err == nil || err.Code != engine.CodeInvalidRequest {
		t.Fatalf("expected invalid_request for unspecified action, got %v", err)
	}
}

func TestAct_NilActionIsInvalidRequest(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	_, err := e.Act(nil)
	if err == nil || err.Code != engine.CodeInvalidRequest {
		t.Fatalf("expected invalid_request for nil action, got %v", err)
	}
}

// Scenario 5: Clipboard policy.
func TestScenario_ClipboardPolicy(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{
		AllowRead:  false,
		AllowWrite: true,
		MaxBytes:   16,
	})

	_, err := e.Act(&wire.Action{Type: wire.ActionClipboardWrite, Text: "hello"})
	if err != nil {
		t.Fatalf("expected clipboard write to succeed: %v", err)
	}

	_, err = e.Act(&wire.Action{Type: wire.ActionClipboardWrite, Text: "way-too-long-text"})
	if err == nil || err.Code != engine.CodeClipboardLimit {
		t.Fatalf("expected clipboard_limit, got %v", err)
	}

	_, err = e.Act(&wire.Action{Type: wire.ActionClipboardRead})
	if err == nil || err.Code != engine.CodeClipboardDenied {
		t.Fatalf("expected clipboard_denied, got %v", err)
	}
}

func TestClipboardWrite_UnsetMaxBytesUsesDefaultLimit(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{AllowWrite: true})

	oversized := strings.Repeat("a", 64*1024+1)
	_, err := e.Act(&wire.Action{Type: wire.ActionClipboardWrite, Text: oversized})
	if err == nil || err.Code != engine.CodeClipboardLimit {
		t.Fatalf("expected clipboard_limit against the default max_bytes, got %v", err)
	}
}

func TestClipboardRead_DeniedByAllowlistMismatch(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{
		AllowRead:     true,
		AllowWrite:    true,
		MaxBytes:      1024,
		ReadAllowlist: []string{"allowed.example"},
	})
	if _, err := e.Navigate("https://other.example/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	_, err := e.Act(&wire.Action{Type: wire.ActionClipboardRead})
	if err == nil || err.Code != engine.CodeClipboardDenied {
		t.Fatalf("expected clipboard_denied for host outside read_allowlist, got %v", err)
	}
}

func TestClipboardRead_AllowedByMatchingAllowlist(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{
		AllowRead:     true,
		AllowWrite:    true,
		MaxBytes:      1024,
		ReadAllowlist: []string{"allowed.example"},
	})
	if _, err := e.Navigate("https://allowed.example/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if _, err := e.Act(&wire.Action{Type: wire.ActionClipboardWrite, Text: "secret"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := e.Act(&wire.Action{Type: wire.ActionClipboardRead})
	if err != nil {
		t.Fatalf("expected clipboard read to succeed: %v", err)
	}
	if result.Effects[0].Metadata["text"] != "secret" {
		t.Fatalf("clipboard read metadata = %+v, want text=secret", result.Effects[0].Metadata)
	}
}

// Scenario 6 (engine half): StreamEvent emits Frame/DomDiff/AccessibilityDiff/HitTest on request.
func TestStreamEvent_AllKinds(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	if _, err := e.Navigate("https://example.com/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	frame, err := e.StreamEvent(wire.EventFrame)
	if err != nil || len(frame.Frame) == 0 {
		t.Fatalf("frame event: %v / %v", err, frame)
	}
	domDiff, err := e.StreamEvent(wire.EventDomDiff)
	if err != nil || len(domDiff.DomDiff) == 0 {
		t.Fatalf("dom diff event: %v / %v", err, domDiff)
	}
	if !strings.Contains(string(domDiff.DomDiff), `"type":"replace"`) {
		t.Fatalf("dom diff missing replace envelope: %s", domDiff.DomDiff)
	}
	a11yDiff, err := e.StreamEvent(wire.EventAccessibilityDiff)
	if err != nil || len(a11yDiff.AccessibilityDiff) == 0 {
		t.Fatalf("accessibility diff event: %v / %v", err, a11yDiff)
	}
	hitTest, err := e.StreamEvent(wire.EventHitTest)
	if err != nil || hitTest.HitTest == nil {
		t.Fatalf("hit test event: %v / %v", err, hitTest)
	}
}

func TestStreamEvent_UnspecifiedIsError(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	_, err := e.StreamEvent(wire.EventUnspecified)
	if err == nil {
		t.Fatal("expected error for unspecified event type")
	}
}

// Invariant: hit-test regions have positive width and height.
func TestHitTestMap_RegionsHavePositiveDimensions(t *testing.T) {
	for _, vp := range []wire.Viewport{
		{Width: 800, Height: 600},
		{Width: 1, Height: 1},
		{Width: 3840, Height: 2160},
		{Width: 101, Height: 101},
	} {
		e := newEngine(vp, wire.ClipboardPolicy{})
		obs, err := e.Observe(wire.ObserveOptions{IncludeHitTest: true})
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		for _, r := range obs.HitTest.Regions {
			if r.Bounds.Width <= 0 || r.Bounds.Height <= 0 {
				t.Fatalf("region %+v has non-positive dimension for viewport %+v", r, vp)
			}
		}
	}
}

// Layout uses integer (floor) division for an odd viewport, matching the
// reference stub engine's u32 math rather than unrounded float division.
func TestHitTestMap_OddViewportUsesIntegerLayout(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 101, Height: 101}, wire.ClipboardPolicy{})
	obs, err := e.Observe(wire.ObserveOptions{IncludeHitTest: true})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	byNode := make(map[uint64]wire.Rect)
	for _, r := range obs.HitTest.Regions {
		byNode[r.NodeID] = r.Bounds
	}
	wantButton := wire.Rect{X: 34, Y: 25, Width: 33, Height: 16}
	if got := byNode[2]; got != wantButton {
		t.Fatalf("button rect = %+v, want %+v", got, wantButton)
	}
	wantTextbox := wire.Rect{X: 25, Y: 61, Width: 50, Height: 12}
	if got := byNode[3]; got != wantTextbox {
		t.Fatalf("textbox rect = %+v, want %+v", got, wantTextbox)
	}
}

// Invariant: state_version strictly increases by 1 on every successful navigate/act.
func TestStateVersion_StrictlyIncreasesByOne(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	prev := e.StateVersion()
	ops := []func() *engine.Error{
		func() *engine.Error { _, err := e.Navigate("https://a.example/"); return err },
		func() *engine.Error { _, err := e.Act(&wire.Action{Type: wire.ActionHover, Target: wire.ActionTarget{NodeID: 2}}); return err },
		func() *engine.Error { _, err := e.Act(&wire.Action{Type: wire.ActionFocus, Target: wire.ActionTarget{NodeID: 3}}); return err },
		func() *engine.Error { _, err := e.Navigate("https://b.example/"); return err },
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		got := e.StateVersion()
		if got != prev+1 {
			t.Fatalf("op %d: state_version = %d, want %d", i, got, prev+1)
		}
		prev = got
	}
}

func TestObserve_IndependentlyControlledFields(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	obs, err := e.Observe(wire.ObserveOptions{})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if obs.Frame != nil || obs.DomSnapshot != nil || obs.AccessibilityTree != nil || obs.HitTest != nil {
		t.Fatalf("expected all optional fields unset with no options, got %+v", obs)
	}

	obs, err = e.Observe(wire.ObserveOptions{IncludeFrame: true})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(obs.Frame) == 0 {
		t.Fatal("expected frame to be populated")
	}
	if obs.DomSnapshot != nil || obs.AccessibilityTree != nil || obs.HitTest != nil {
		t.Fatal("expected only frame to be populated")
	}
}

func TestScroll_AccumulatesAndSaturates(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	result, err := e.Act(&wire.Action{Type: wire.ActionScroll, Scroll: &wire.ScrollParams{X: 10, Y: 20}})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if !strings.Contains(string(result.Observation.DomSnapshot), `"scroll_x":10`) {
		t.Fatalf("expected scroll_x=10 in snapshot: %s", result.Observation.DomSnapshot)
	}

	result, err = e.Act(&wire.Action{Type: wire.ActionScroll, Scroll: &wire.ScrollParams{X: 1 << 31, Y: 0}})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if strings.Contains(string(result.Observation.DomSnapshot), `+Inf`) {
		t.Fatalf("scroll offset must not overflow: %s", result.Observation.DomSnapshot)
	}
}

func TestAccessibilityTree_HasDocumentRoleAndTwoChildren(t *testing.T) {
	e := newEngine(wire.Viewport{Width: 800, Height: 600}, wire.ClipboardPolicy{})
	obs, err := e.Observe(wire.ObserveOptions{IncludeAccessibility: true})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	s := string(obs.AccessibilityTree)
	if !strings.Contains(s, `"role":"document"`) {
		t.Fatalf("missing document role: %s", s)
	}
	if !strings.Contains(s, `"role":"button"`) || !strings.Contains(s, `"role":"textbox"`) {
		t.Fatalf("missing button/textbox children: %s", s)
	}
}

func TestFrameRate_DefaultsWhenConfigOmitsIt(t *testing.T) {
	e := refengine.New(&wire.SessionConfig{Viewport: wire.Viewport{Width: 800, Height: 600}})
	if got := e.FrameRate(); got != 12 {
		t.Fatalf("default frame_rate = %d, want 12", got)
	}
}

func TestFrameRate_HonorsConfig(t *testing.T) {
	e := refengine.New(&wire.SessionConfig{Viewport: wire.Viewport{Width: 800, Height: 600}, FrameRate: 30})
	if got := e.FrameRate(); got != 30 {
		t.Fatalf("frame_rate = %d, want 30", got)
	}
}

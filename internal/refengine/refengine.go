// Package refengine implements browserd's deterministic, no-network
// reference engine (spec.md §4.5): a small synthetic page with a button and
// a textbox, driven entirely by in-process state. It satisfies
// internal/engine.Engine and is the engine every CreateSession uses unless
// a real adapter is wired in its place.
package refengine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"browserd/internal/engine"
	"browserd/internal/identity"
	"browserd/internal/policy"
	"browserd/internal/wire"
)

// Node ids. Only three nodes exist in the reference engine's synthetic page.
const (
	rootNodeID    uint64 = 1
	buttonNodeID  uint64 = 2
	textboxNodeID uint64 = 3
)

const defaultURL = "about:blank"

// Engine is the deterministic reference engine. All public methods acquire
// mu, mirroring the mutex-guarded-mutable-fields shape the teacher uses for
// its long-lived Session value; every method here runs to completion under
// the lock, since spec.md's concurrency model already serializes engine
// operations per session through the registry.
type Engine struct {
	mu sync.Mutex

	url          string
	title        string
	stateVersion uint64
	viewport     wire.Viewport
	frameRate    uint32

	scrollX, scrollY float64
	focusedNode      uint64
	hoveredNode      uint64
	lastAction       string
	lastTextLen      int
	lastKey          string

	clipboard    wire.ClipboardPolicy
	clipboardBuf string

	now func() time.Time
}

// New constructs a reference engine from a session's config. state_version
// starts at 1 and the page starts at "about:blank", per spec.md §4.5/§8.
func New(cfg *wire.SessionConfig) *Engine {
	viewport := cfg.Viewport
	if viewport.Width == 0 {
		viewport.Width = 1
	}
	if viewport.Height == 0 {
		viewport.Height = 1
	}
	frameRate := cfg.FrameRate
	if frameRate == 0 {
		frameRate = 12
	}
	return &Engine{
		url:          defaultURL,
		title:        "",
		stateVersion: 1,
		viewport:     viewport,
		frameRate:    frameRate,
		clipboard:    identity.ClipboardPolicy(cfg),
		now:          time.Now,
	}
}

// StateVersion implements engine.Engine.
func (e *Engine) StateVersion() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateVersion
}

// FrameRate implements engine.Engine.
func (e *Engine) FrameRate() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameRate
}

// Navigate implements engine.Engine.
func (e *Engine) Navigate(url string) (*wire.Observation, *engine.Error) {
	if url == "" {
		return nil, engine.New(engine.CodeInvalidRequest, "navigate: empty url")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.url = url
	e.title = ""
	e.scrollX, e.scrollY = 0, 0
	e.stateVersion++
	e.lastAction = ""

	return e.buildObservationLocked(wire.ObserveOptions{
		IncludeDOMSnapshot:   true,
		IncludeAccessibility: true,
	}), nil
}

// Observe implements engine.Engine.
func (e *Engine) Observe(options wire.ObserveOptions) (*wire.Observation, *engine.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildObservationLocked(options), nil
}

// Act implements engine.Engine.
func (e *Engine) Act(action *wire.Action) (*wire.ActionResult, *engine.Error) {
	if action == nil {
		return nil, engine.New(engine.CodeInvalidRequest, "act: missing action")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if action.ExpectedStateVersion != 0 && action.ExpectedStateVersion != e.stateVersion {
		return nil, engine.New(engine.CodeStaleState, fmt.Sprintf(
			"expected state_version %d, current is %d", action.ExpectedStateVersion, e.stateVersion))
	}

	effect, err := e.applyActionLocked(action)
	if err != nil {
		return nil, err
	}

	e.stateVersion++
	obs := e.buildObservationLocked(wire.ObserveOptions{
		IncludeDOMSnapshot:   true,
		IncludeAccessibility: true,
	})
	return &wire.ActionResult{
		StateVersion: e.stateVersion,
		Observation:  obs,
		Effects:      []wire.ActionEffect{effect},
	}, nil
}

// StreamEvent implements engine.Engine.
func (e *Engine) StreamEvent(eventType wire.EventType) (*wire.Event, *engine.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := &wire.Event{
		Type:         eventType,
		StateVersion: e.stateVersion,
		Timestamp:    e.now().UnixMilli(),
	}
	switch eventType {
	case wire.EventFrame:
		ev.Frame = e.buildFrameLocked()
	case wire.EventDomDiff:
		ev.DomDiff = e.wrapDiffLocked(e.buildDOMSnapshotLocked())
	case wire.EventAccessibilityDiff:
		ev.AccessibilityDiff = e.wrapDiffLocked(e.buildAccessibilityTreeLocked())
	case wire.EventHitTest:
		ev.HitTest = e.buildHitTestMapLocked()
	default:
		return nil, engine.New(engine.CodeInvalidRequest, "stream_event: unspecified event type")
	}
	return ev, nil
}

// ─── action semantics ────────────────────────────────────────────────────────

func (e *Engine) applyActionLocked(a *wire.Action) (wire.ActionEffect, *engine.Error) {
	switch a.Type {
	case wire.ActionClick:
		node := e.resolveTargetLocked(a.Target, false)
		e.focusedNode, e.hoveredNode = node, node
		e.lastAction = "click"
		return wire.ActionEffect{Kind: "click", Summary: fmt.Sprintf("clicked node %d", node)}, nil

	case wire.ActionTypeText:
		if a.Text == "" {
			return wire.ActionEffect{}, engine.New(engine.CodeInvalidRequest, "type: empty text")
		}
		node := e.resolveTargetLocked(a.Target, true)
		e.focusedNode = node
		e.lastTextLen = utf8.RuneCountInString(a.Text)
		e.lastAction = "type"
		return wire.ActionEffect{Kind: "type", Summary: fmt.Sprintf("typed %d characters into node %d", e.lastTextLen, node)}, nil

	case wire.ActionScroll:
		var dx, dy float64
		if a.Scroll != nil {
			dx, dy = a.Scroll.X, a.Scroll.Y
		}
		e.scrollX = saturate(e.scrollX + dx)
		e.scrollY = saturate(e.scrollY + dy)
		e.lastAction = "scroll"
		return wire.ActionEffect{Kind: "scroll", Summary: fmt.Sprintf("scrolled to (%.0f, %.0f)", e.scrollX, e.scrollY)}, nil

	case wire.ActionHover:
		node := e.resolveTargetLocked(a.Target, false)
		e.hoveredNode = node
		e.lastAction = "hover"
		return wire.ActionEffect{Kind: "hover", Summary: fmt.Sprintf("hovered node %d", node)}, nil

	case wire.ActionKey:
		e.lastKey = a.Key
		e.lastAction = "key"
		return wire.ActionEffect{Kind: "key", Summary: fmt.Sprintf("key %q", a.Key)}, nil

	case wire.ActionFocus:
		node := e.resolveTargetLocked(a.Target, false)
		e.focusedNode = node
		e.lastAction = "focus"
		return wire.ActionEffect{Kind: "focus", Summary: fmt.Sprintf("focused node %d", node)}, nil

	case wire.ActionClipboardRead:
		if err := e.ensureReadAllowedLocked(); err != nil {
			return wire.ActionEffect{}, err
		}
		if len(e.clipboardBuf) > int(e.clipboard.MaxBytes) {
			return wire.ActionEffect{}, engine.New(engine.CodeClipboardLimit, "clipboard contents exceed max_bytes")
		}
		e.lastAction = "clipboard_read"
		return wire.ActionEffect{
			Kind:     "clipboard_read",
			Summary:  fmt.Sprintf("read %d bytes", len(e.clipboardBuf)),
			Metadata: map[string]string{"text": e.clipboardBuf},
		}, nil

	case wire.ActionClipboardWrite:
		if err := e.ensureWriteAllowedLocked(); err != nil {
			return wire.ActionEffect{}, err
		}
		if uint64(len(a.Text)) > e.clipboard.MaxBytes {
			return wire.ActionEffect{}, engine.New(engine.CodeClipboardLimit, "text exceeds max_bytes")
		}
		e.clipboardBuf = a.Text
		e.lastAction = "clipboard_write"
		return wire.ActionEffect{Kind: "clipboard_write", Summary: fmt.Sprintf("wrote %d bytes", len(a.Text))}, nil

	default:
		return wire.ActionEffect{}, engine.New(engine.CodeInvalidRequest, "act: unspecified action type")
	}
}

func (e *Engine) ensureReadAllowedLocked() *engine.Error {
	if !e.clipboard.AllowRead {
		return engine.New(engine.CodeClipboardDenied, "clipboard read not permitted")
	}
	if len(e.clipboard.ReadAllowlist) == 0 {
		return nil
	}
	host, port, err := policy.EffectiveHostPort(e.url)
	if err != nil || !policy.AllowlistAllows(host, port, e.clipboard.ReadAllowlist) {
		return engine.New(engine.CodeClipboardDenied, "current page host not in clipboard read_allowlist")
	}
	return nil
}

func (e *Engine) ensureWriteAllowedLocked() *engine.Error {
	if !e.clipboard.AllowWrite {
		return engine.New(engine.CodeClipboardDenied, "clipboard write not permitted")
	}
	return nil
}

// saturate clamps an accumulated scroll offset to a generous but bounded
// range so repeated scroll actions can never overflow float64 arithmetic
// into NaN/Inf.
func saturate(v float64) float64 {
	const bound = 1 << 30
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

// ─── target resolution ──────────────────────────────────────────────────────

func (e *Engine) resolveTargetLocked(t wire.ActionTarget, isType bool) uint64 {
	var node uint64
	switch {
	case t.NodeID != 0:
		node = t.NodeID
	case t.Point != nil:
		node = e.hitTestPointLocked(*t.Point)
	case e.focusedNode != 0:
		node = e.focusedNode
	default:
		node = rootNodeID
	}
	if isType && node == rootNodeID {
		node = textboxNodeID
	}
	return node
}

func (e *Engine) hitTestPointLocked(p wire.Point) uint64 {
	if rectContains(buttonRect(e.viewport), p) {
		return buttonNodeID
	}
	if rectContains(textboxRect(e.viewport), p) {
		return textboxNodeID
	}
	return rootNodeID
}

func rectContains(r wire.Rect, p wire.Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// buttonRect computes the synthetic button's bounds for a viewport, per
// spec.md §4.5's layout formula. All arithmetic is integer (floor) division,
// matching the reference stub engine's u32 math, so a client computing the
// same formula reproduces identical bounds.
func buttonRect(vp wire.Viewport) wire.Rect {
	vw, vh := maxU32(vp.Width, 1), maxU32(vp.Height, 1)
	bw := maxU32(vw/3, 1)
	bh := maxU32(vh/6, 1)
	bx := satSubU32(vw, bw) / 2
	by := satSubU32(vh/3, bh/2)
	return wire.Rect{
		X:      float64(bx),
		Y:      float64(by),
		Width:  float64(bw),
		Height: float64(bh),
	}
}

// textboxRect computes the synthetic textbox's bounds for a viewport, using
// the same integer-floor arithmetic as buttonRect.
func textboxRect(vp wire.Viewport) wire.Rect {
	vw, vh := maxU32(vp.Width, 1), maxU32(vp.Height, 1)
	tw := maxU32(vw/2, 1)
	th := maxU32(vh/8, 1)
	tx := satSubU32(vw, tw) / 2
	ty := satSubU32(vh*2/3, th/2)
	return wire.Rect{
		X:      float64(tx),
		Y:      float64(ty),
		Width:  float64(tw),
		Height: float64(th),
	}
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// satSubU32 subtracts with saturation at zero, matching Rust's
// saturating_sub for the unsigned layout math above.
func satSubU32(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}

// ─── observations and snapshots ─────────────────────────────────────────────

func (e *Engine) buildObservationLocked(opts wire.ObserveOptions) *wire.Observation {
	obs := &wire.Observation{
		StateVersion: e.stateVersion,
		URL:          e.url,
		Title:        e.title,
		Timestamp:    e.now().UnixMilli(),
	}
	if opts.IncludeFrame {
		obs.Frame = e.buildFrameLocked()
	}
	if opts.IncludeDOMSnapshot {
		obs.DomSnapshot = e.buildDOMSnapshotLocked()
	}
	if opts.IncludeAccessibility {
		obs.AccessibilityTree = e.buildAccessibilityTreeLocked()
	}
	if opts.IncludeHitTest {
		obs.HitTest = e.buildHitTestMapLocked()
	}
	return obs
}

// domSnapshot is the deterministic JSON shape of the reference engine's DOM.
type domSnapshot struct {
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	StateVersion uint64  `json:"state_version"`
	LastAction   string  `json:"last_action,omitempty"`
	ScrollX      float64 `json:"scroll_x"`
	ScrollY      float64 `json:"scroll_y"`
	FocusedNode  uint64  `json:"focused_node"`
	HoveredNode  uint64  `json:"hovered_node"`
}

func (e *Engine) buildDOMSnapshotLocked() []byte {
	snap := domSnapshot{
		URL:          e.url,
		Title:        e.title,
		StateVersion: e.stateVersion,
		LastAction:   e.lastAction,
		ScrollX:      e.scrollX,
		ScrollY:      e.scrollY,
		FocusedNode:  e.focusedNode,
		HoveredNode:  e.hoveredNode,
	}
	b, err := json.Marshal(snap)
	if err != nil {
		// domSnapshot has no cyclic or unsupported fields; Marshal cannot fail.
		panic(fmt.Sprintf("refengine: marshal dom snapshot: %v", err))
	}
	return b
}

type a11yNode struct {
	ID   uint64 `json:"id"`
	Role string `json:"role"`
}

type a11yTree struct {
	Role     string     `json:"role"`
	Children []a11yNode `json:"children"`
}

func (e *Engine) buildAccessibilityTreeLocked() []byte {
	tree := a11yTree{
		Role: "document",
		Children: []a11yNode{
			{ID: buttonNodeID, Role: "button"},
			{ID: textboxNodeID, Role: "textbox"},
		},
	}
	b, err := json.Marshal(tree)
	if err != nil {
		panic(fmt.Sprintf("refengine: marshal accessibility tree: %v", err))
	}
	return b
}

type diffEnvelope struct {
	Type         string          `json:"type"`
	StateVersion uint64          `json:"state_version"`
	Snapshot     json.RawMessage `json:"snapshot"`
}

func (e *Engine) wrapDiffLocked(snapshot []byte) []byte {
	b, err := json.Marshal(diffEnvelope{
		Type:         "replace",
		StateVersion: e.stateVersion,
		Snapshot:     snapshot,
	})
	if err != nil {
		panic(fmt.Sprintf("refengine: marshal diff envelope: %v", err))
	}
	return b
}

func (e *Engine) buildHitTestMapLocked() *wire.HitTestMap {
	btn := buttonRect(e.viewport)
	tb := textboxRect(e.viewport)
	return &wire.HitTestMap{
		Width:  e.viewport.Width,
		Height: e.viewport.Height,
		Regions: []wire.HitTestRegion{
			{NodeID: buttonNodeID, Bounds: btn},
			{NodeID: textboxNodeID, Bounds: tb},
		},
	}
}

// buildFrameLocked produces a deterministic placeholder "frame" payload.
// The reference engine never renders pixels; it emits a small, stable byte
// sequence so frame-consuming code paths (observe/stream with
// include_frame) have something non-empty to exercise.
func (e *Engine) buildFrameLocked() []byte {
	return []byte(fmt.Sprintf("refengine-frame v=%d url=%s", e.stateVersion, e.url))
}

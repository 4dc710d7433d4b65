// Package realengine is the concrete, wired real-engine adapter: it drives
// an actual headless browser (via driver, backed by go-rod) behind the same
// engine.Engine contract the reference engine satisfies. All driver calls
// happen on a single dedicated goroutine (mailbox.go); public methods are
// thin wrappers that build a command and wait for its reply.
package realengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"browserd/internal/engine"
	"browserd/internal/identity"
	"browserd/internal/policy"
	"browserd/internal/wire"
)

const rootNodeID uint64 = 1

// Options configures timeouts the adapter enforces around driver calls, per
// spec.md §4.6.
type Options struct {
	LoadTimeout   time.Duration
	ScriptTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.ScriptTimeout <= 0 {
		o.ScriptTimeout = 200 * time.Millisecond
	}
	return o
}

// Engine is the real-engine adapter. Every field below is touched only from
// the mailbox's single worker goroutine once New returns, so it carries no
// locking of its own.
type Engine struct {
	mb     *mailbox
	driver driver
	bridge *snapshotBridge
	opts   Options

	url          string
	title        string
	stateVersion uint64
	frameRate    uint32

	scrollX, scrollY         float64
	focusedNode, hoveredNode uint64
	lastHitTest              *wire.HitTestMap

	clipboard    wire.ClipboardPolicy
	clipboardBuf string

	nextNodeID uint64
}

// New builds a real engine around drv. cfg supplies the session's starting
// clipboard policy and frame rate; drv is typically a *rodDriver but any
// driver implementation works (tests supply a fake).
func New(cfg *wire.SessionConfig, drv driver, opts Options) *Engine {
	frameRate := cfg.FrameRate
	if frameRate == 0 {
		frameRate = 12
	}
	opts = opts.withDefaults()
	e := &Engine{
		driver:       drv,
		bridge:       newSnapshotBridge(opts.ScriptTimeout),
		opts:         opts,
		url:          "about:blank",
		stateVersion: 1,
		frameRate:    frameRate,
		clipboard:    identity.ClipboardPolicy(cfg),
		nextNodeID:   2,
	}
	e.mb = newMailbox(e.handle)
	return e
}

// NewWithRod builds a real engine backed by a fresh headless Chrome
// instance launched via go-rod. controlURL, when non-empty, connects to an
// already-running Chrome DevTools endpoint instead of launching a new
// process (useful for sharing one browser across sessions in the future;
// currently every session launches its own).
func NewWithRod(cfg *wire.SessionConfig, controlURL string, opts Options) (*Engine, error) {
	width, height := cfg.Viewport.Width, cfg.Viewport.Height
	if width == 0 {
		width = 1280
	}
	if height == 0 {
		height = 720
	}
	drv, err := newRodDriver(controlURL, width, height)
	if err != nil {
		return nil, fmt.Errorf("realengine: launch driver: %w", err)
	}
	return New(cfg, drv, opts), nil
}

// Close stops the mailbox and closes the driver, sending shutdown to the
// worker goroutine. Safe to call more than once.
func (e *Engine) Close() {
	e.mb.stop()
}

func (e *Engine) handle(cmd command) {
	switch {
	case cmd.shutdown:
		if err := e.driver.Close(); err != nil {
			cmd.reply <- result{err: engine.New(engine.CodeUnavailable, err.Error())}
			return
		}
		cmd.reply <- result{}
	case cmd.navigateURL != nil:
		obs, err := e.doNavigate(*cmd.navigateURL)
		cmd.reply <- result{value: obs, err: err}
	case cmd.observeOpts != nil:
		obs, err := e.doObserve(*cmd.observeOpts)
		cmd.reply <- result{value: obs, err: err}
	case cmd.act != nil:
		action, _ := cmd.act.action.(*wire.Action)
		res, err := e.doAct(action)
		cmd.reply <- result{value: res, err: err}
	case cmd.streamEvent != nil:
		ev, err := e.doStreamEvent(wire.EventType(cmd.streamEvent.eventType))
		cmd.reply <- result{value: ev, err: err}
	case cmd.readState:
		cmd.reply <- result{value: e.stateVersion}
	case cmd.readFrameRate:
		cmd.reply <- result{value: e.frameRate}
	}
}

// StateVersion implements engine.Engine.
func (e *Engine) StateVersion() uint64 {
	v, _ := e.mb.submit(command{readState: true})
	n, _ := v.(uint64)
	return n
}

// FrameRate implements engine.Engine.
func (e *Engine) FrameRate() uint32 {
	v, _ := e.mb.submit(command{readFrameRate: true})
	n, _ := v.(uint32)
	return n
}

// Navigate implements engine.Engine.
func (e *Engine) Navigate(url string) (*wire.Observation, *engine.Error) {
	v, err := e.mb.submit(command{navigateURL: &url})
	if err != nil {
		return nil, err
	}
	obs, _ := v.(*wire.Observation)
	return obs, nil
}

// Observe implements engine.Engine.
func (e *Engine) Observe(options wire.ObserveOptions) (*wire.Observation, *engine.Error) {
	v, err := e.mb.submit(command{observeOpts: &observeArgs{
		includeFrame:   options.IncludeFrame,
		includeDOM:     options.IncludeDOMSnapshot,
		includeA11y:    options.IncludeAccessibility,
		includeHitTest: options.IncludeHitTest,
	}})
	if err != nil {
		return nil, err
	}
	obs, _ := v.(*wire.Observation)
	return obs, nil
}

// Act implements engine.Engine.
func (e *Engine) Act(action *wire.Action) (*wire.ActionResult, *engine.Error) {
	v, err := e.mb.submit(command{act: &actArgs{action: action}})
	if err != nil {
		return nil, err
	}
	res, _ := v.(*wire.ActionResult)
	return res, nil
}

// StreamEvent implements engine.Engine.
func (e *Engine) StreamEvent(eventType wire.EventType) (*wire.Event, *engine.Error) {
	v, err := e.mb.submit(command{streamEvent: &streamEventArgs{eventType: int32(eventType)}})
	if err != nil {
		return nil, err
	}
	ev, _ := v.(*wire.Event)
	return ev, nil
}

// ─── worker-goroutine logic ─────────────────────────────────────────────────

func (e *Engine) doNavigate(url string) (*wire.Observation, *engine.Error) {
	if url == "" {
		return nil, engine.New(engine.CodeInvalidRequest, "navigate: empty url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.LoadTimeout)
	defer cancel()

	if err := e.driver.Navigate(ctx, url); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, engine.New(engine.CodeLoadTimeout, fmt.Sprintf("navigate to %q did not complete in time", url))
		}
		return nil, engine.New(engine.CodeRenderingInit, err.Error())
	}

	e.url = url
	e.scrollX, e.scrollY = 0, 0
	e.focusedNode, e.hoveredNode = 0, 0
	e.lastHitTest = nil
	e.nextNodeID = 2
	e.stateVersion++

	obs := e.buildObservation(context.Background(), wire.ObserveOptions{
		IncludeDOMSnapshot:   true,
		IncludeAccessibility: true,
	})
	return obs, nil
}

func (e *Engine) doObserve(opts observeArgs) (*wire.Observation, *engine.Error) {
	ctx := context.Background()
	return e.buildObservation(ctx, wire.ObserveOptions{
		IncludeFrame:         opts.includeFrame,
		IncludeDOMSnapshot:   opts.includeDOM,
		IncludeAccessibility: opts.includeA11y,
		IncludeHitTest:       opts.includeHitTest,
	}), nil
}

func (e *Engine) buildObservation(ctx context.Context, opts wire.ObserveOptions) *wire.Observation {
	title, _ := e.driver.Title(ctx)
	e.title = title

	obs := &wire.Observation{
		StateVersion: e.stateVersion,
		URL:          e.url,
		Title:        e.title,
		Timestamp:    time.Now().UnixMilli(),
	}

	if opts.IncludeFrame {
		if png, err := e.driver.Screenshot(ctx); err == nil {
			obs.Frame = png
		}
	}
	if opts.IncludeDOMSnapshot || opts.IncludeAccessibility {
		scriptCtx, cancel := context.WithTimeout(ctx, e.opts.ScriptTimeout)
		html, htmlErr := e.driver.HTML(scriptCtx)
		cancel()
		if htmlErr == nil {
			dom, a11y := e.bridge.extract(html, e.url, e.title, e.stateVersion)
			if opts.IncludeDOMSnapshot {
				obs.DomSnapshot = dom
			}
			if opts.IncludeAccessibility {
				obs.AccessibilityTree = a11y
			}
		}
	}
	if opts.IncludeHitTest {
		obs.HitTest = e.refreshHitTest(ctx)
	}
	return obs
}

// refreshHitTest re-queries the driver's interactive elements, assigns each
// a freshly minted synthetic node id, and stores the result for target
// resolution. Node ids are not stable across refreshes: a client resolving
// a target by node_id should do so against the hit-test map from the most
// recent observation. Failures yield an empty map rather than an error, per
// §4.6's best-effort snapshotting rule.
func (e *Engine) refreshHitTest(ctx context.Context) *wire.HitTestMap {
	w, h := e.driver.Viewport()
	boxes, err := e.driver.InteractiveElements(ctx)
	if err != nil {
		e.lastHitTest = &wire.HitTestMap{Width: w, Height: h}
		return e.lastHitTest
	}

	regions := make([]wire.HitTestRegion, 0, len(boxes))
	for _, b := range boxes {
		if b.Width <= 0 || b.Height <= 0 {
			continue
		}
		id := e.nextNodeID
		e.nextNodeID++
		regions = append(regions, wire.HitTestRegion{
			NodeID: id,
			Bounds: wire.Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height},
		})
	}
	e.lastHitTest = &wire.HitTestMap{Width: w, Height: h, Regions: regions}
	return e.lastHitTest
}

// ─── actions ─────────────────────────────────────────────────────────────────

type resolvedTarget struct {
	NodeID uint64
	X, Y   float64
}

func (e *Engine) resolveTarget(t wire.ActionTarget) (resolvedTarget, *engine.Error) {
	switch {
	case t.NodeID != 0:
		if e.lastHitTest == nil {
			return resolvedTarget{}, engine.New(engine.CodeInvalidTarget,
				"no hit-test map available to resolve node_id; observe with include_hit_test first")
		}
		for _, r := range e.lastHitTest.Regions {
			if r.NodeID == t.NodeID {
				cx, cy := rectCenter(r.Bounds)
				return resolvedTarget{NodeID: t.NodeID, X: cx, Y: cy}, nil
			}
		}
		return resolvedTarget{}, engine.New(engine.CodeInvalidTarget,
			fmt.Sprintf("node_id %d not present in most recent hit-test map", t.NodeID))

	case t.Point != nil:
		w, h := e.driver.Viewport()
		x := clamp(t.Point.X, 0, float64(w))
		y := clamp(t.Point.Y, 0, float64(h))
		return resolvedTarget{NodeID: e.nodeContaining(x, y), X: x, Y: y}, nil

	case e.focusedNode != 0 && e.lastHitTest != nil:
		for _, r := range e.lastHitTest.Regions {
			if r.NodeID == e.focusedNode {
				cx, cy := rectCenter(r.Bounds)
				return resolvedTarget{NodeID: e.focusedNode, X: cx, Y: cy}, nil
			}
		}
		fallthrough

	default:
		return resolvedTarget{NodeID: rootNodeID}, nil
	}
}

func (e *Engine) nodeContaining(x, y float64) uint64 {
	if e.lastHitTest == nil {
		return rootNodeID
	}
	for _, r := range e.lastHitTest.Regions {
		b := r.Bounds
		if x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height {
			return r.NodeID
		}
	}
	return rootNodeID
}

func rectCenter(r wire.Rect) (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) doAct(a *wire.Action) (*wire.ActionResult, *engine.Error) {
	if a == nil {
		return nil, engine.New(engine.CodeInvalidRequest, "act: missing action")
	}
	if a.ExpectedStateVersion != 0 && a.ExpectedStateVersion != e.stateVersion {
		return nil, engine.New(engine.CodeStaleState, fmt.Sprintf(
			"expected state_version %d, current is %d", a.ExpectedStateVersion, e.stateVersion))
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.ScriptTimeout)
	defer cancel()

	effect, err := e.applyAction(ctx, a)
	if err != nil {
		return nil, err
	}

	e.stateVersion++
	obs := e.buildObservation(context.Background(), wire.ObserveOptions{
		IncludeDOMSnapshot:   true,
		IncludeAccessibility: true,
	})
	return &wire.ActionResult{
		StateVersion: e.stateVersion,
		Observation:  obs,
		Effects:      []wire.ActionEffect{effect},
	}, nil
}

func (e *Engine) applyAction(ctx context.Context, a *wire.Action) (wire.ActionEffect, *engine.Error) {
	switch a.Type {
	case wire.ActionClick:
		t, rerr := e.resolveTarget(a.Target)
		if rerr != nil {
			return wire.ActionEffect{}, rerr
		}
		if err := e.driver.Click(ctx, t.X, t.Y); err != nil {
			return wire.ActionEffect{}, translateDriverErr(ctx, err)
		}
		e.focusedNode, e.hoveredNode = t.NodeID, t.NodeID
		return wire.ActionEffect{Kind: "click", Summary: fmt.Sprintf("clicked node %d", t.NodeID)}, nil

	case wire.ActionTypeText:
		if a.Text == "" {
			return wire.ActionEffect{}, engine.New(engine.CodeInvalidRequest, "type: empty text")
		}
		t, rerr := e.resolveTarget(a.Target)
		if rerr != nil {
			return wire.ActionEffect{}, rerr
		}
		if t.NodeID != rootNodeID {
			if err := e.driver.Click(ctx, t.X, t.Y); err != nil {
				return wire.ActionEffect{}, translateDriverErr(ctx, err)
			}
		}
		if err := e.driver.TypeText(ctx, a.Text); err != nil {
			return wire.ActionEffect{}, translateDriverErr(ctx, err)
		}
		e.focusedNode = t.NodeID
		return wire.ActionEffect{Kind: "type", Summary: fmt.Sprintf("typed %d characters into node %d", len([]rune(a.Text)), t.NodeID)}, nil

	case wire.ActionScroll:
		var dx, dy float64
		if a.Scroll != nil {
			dx, dy = a.Scroll.X, a.Scroll.Y
		}
		if err := e.driver.Scroll(ctx, dx, dy); err != nil {
			return wire.ActionEffect{}, translateDriverErr(ctx, err)
		}
		e.scrollX += dx
		e.scrollY += dy
		return wire.ActionEffect{Kind: "scroll", Summary: fmt.Sprintf("scrolled by (%.0f, %.0f)", dx, dy)}, nil

	case wire.ActionHover:
		t, rerr := e.resolveTarget(a.Target)
		if rerr != nil {
			return wire.ActionEffect{}, rerr
		}
		if err := e.driver.MoveMouse(ctx, t.X, t.Y); err != nil {
			return wire.ActionEffect{}, translateDriverErr(ctx, err)
		}
		e.hoveredNode = t.NodeID
		return wire.ActionEffect{Kind: "hover", Summary: fmt.Sprintf("hovered node %d", t.NodeID)}, nil

	case wire.ActionKey:
		if err := e.driver.PressKey(ctx, a.Key); err != nil {
			return wire.ActionEffect{}, translateDriverErr(ctx, err)
		}
		return wire.ActionEffect{Kind: "key", Summary: fmt.Sprintf("key %q", a.Key)}, nil

	case wire.ActionFocus:
		t, rerr := e.resolveTarget(a.Target)
		if rerr != nil {
			return wire.ActionEffect{}, rerr
		}
		if err := e.driver.Click(ctx, t.X, t.Y); err != nil {
			return wire.ActionEffect{}, translateDriverErr(ctx, err)
		}
		e.focusedNode = t.NodeID
		return wire.ActionEffect{Kind: "focus", Summary: fmt.Sprintf("focused node %d", t.NodeID)}, nil

	case wire.ActionClipboardRead:
		if err := e.ensureReadAllowed(); err != nil {
			return wire.ActionEffect{}, err
		}
		if uint64(len(e.clipboardBuf)) > e.clipboard.MaxBytes {
			return wire.ActionEffect{}, engine.New(engine.CodeClipboardLimit, "clipboard contents exceed max_bytes")
		}
		return wire.ActionEffect{
			Kind:     "clipboard_read",
			Summary:  fmt.Sprintf("read %d bytes", len(e.clipboardBuf)),
			Metadata: map[string]string{"text": e.clipboardBuf},
		}, nil

	case wire.ActionClipboardWrite:
		if err := e.ensureWriteAllowed(); err != nil {
			return wire.ActionEffect{}, err
		}
		if uint64(len(a.Text)) > e.clipboard.MaxBytes {
			return wire.ActionEffect{}, engine.New(engine.CodeClipboardLimit, "text exceeds max_bytes")
		}
		e.clipboardBuf = a.Text
		return wire.ActionEffect{Kind: "clipboard_write", Summary: fmt.Sprintf("wrote %d bytes", len(a.Text))}, nil

	default:
		return wire.ActionEffect{}, engine.New(engine.CodeInvalidRequest, "act: unspecified action type")
	}
}

func (e *Engine) ensureReadAllowed() *engine.Error {
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

func (e *Engine) ensureWriteAllowed() *engine.Error {
	if !e.clipboard.AllowWrite {
		return engine.New(engine.CodeClipboardDenied, "clipboard write not permitted")
	}
	return nil
}

// translateDriverErr turns a driver failure into script_timeout when ctx's
// deadline is the cause, script_error otherwise.
func translateDriverErr(ctx context.Context, err error) *engine.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.New(engine.CodeScriptTimeout, err.Error())
	}
	return engine.New(engine.CodeScriptError, err.Error())
}

func (e *Engine) doStreamEvent(eventType wire.EventType) (*wire.Event, *engine.Error) {
	ctx := context.Background()
	ev := &wire.Event{
		Type:         eventType,
		StateVersion: e.stateVersion,
		Timestamp:    time.Now().UnixMilli(),
	}
	switch eventType {
	case wire.EventFrame:
		png, err := e.driver.Screenshot(ctx)
		if err != nil {
			return nil, engine.New(engine.CodeScriptError, err.Error())
		}
		ev.Frame = png
	case wire.EventDomDiff:
		obs := e.buildObservation(ctx, wire.ObserveOptions{IncludeDOMSnapshot: true})
		ev.DomDiff = wrapDiff(e.stateVersion, obs.DomSnapshot)
	case wire.EventAccessibilityDiff:
		obs := e.buildObservation(ctx, wire.ObserveOptions{IncludeAccessibility: true})
		ev.AccessibilityDiff = wrapDiff(e.stateVersion, obs.AccessibilityTree)
	case wire.EventHitTest:
		ev.HitTest = e.refreshHitTest(ctx)
	default:
		return nil, engine.New(engine.CodeInvalidRequest, "stream_event: unspecified event type")
	}
	return ev, nil
}

func wrapDiff(stateVersion uint64, snapshot []byte) []byte {
	if snapshot == nil {
		snapshot = []byte("null")
	}
	return []byte(fmt.Sprintf(`{"type":"replace","state_version":%d,"snapshot":%s}`, stateVersion, snapshot))
}

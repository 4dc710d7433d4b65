package realengine

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// rodDriver drives a real headless Chrome instance via go-rod's CDP
// bindings. It is the driver realengine.New uses unless a test or an
// embedding deployment supplies a different one.
type rodDriver struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	width    uint32
	height   uint32
}

// newRodDriver launches a headless Chrome (or connects to one reachable at
// controlURL, when non-empty) and opens a single page sized to width x
// height.
func newRodDriver(controlURL string, width, height uint32) (*rodDriver, error) {
	d := &rodDriver{width: width, height: height}

	if controlURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		d.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  int(width),
		Height: int(height),
	}); err != nil {
		page.Close()
		browser.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	d.page = page
	return d, nil
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

func (d *rodDriver) HTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("html: %w", err)
	}
	return html, nil
}

func (d *rodDriver) Title(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("info: %w", err)
	}
	return info.Title, nil
}

func (d *rodDriver) Click(ctx context.Context, x, y float64) error {
	page := d.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (d *rodDriver) TypeText(ctx context.Context, text string) error {
	if err := d.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

func (d *rodDriver) Scroll(ctx context.Context, dx, dy float64) error {
	if err := d.page.Context(ctx).Mouse.Scroll(dx, dy, 1); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (d *rodDriver) MoveMouse(ctx context.Context, x, y float64) error {
	if err := d.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	return nil
}

// namedKeys maps the key names the wire protocol allows onto rod's input
// key constants. Single printable characters fall through to keyForRune.
var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Space":      input.Space,
	"Home":       input.Home,
	"End":        input.End,
}

func (d *rodDriver) PressKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	k, ok := namedKeys[key]
	if !ok {
		k = keyForRune(key)
	}
	if err := d.page.Context(ctx).Keyboard.Press(k); err != nil {
		return fmt.Errorf("press key %q: %w", key, err)
	}
	return nil
}

// keyForRune maps a single-character key name to rod's input.Key; any other
// (unrecognized, multi-rune) name falls back to input.Unknown, which is a
// harmless no-op keypress rather than an error.
func keyForRune(key string) input.Key {
	runes := []rune(key)
	if len(runes) != 1 {
		return input.Unknown
	}
	if k, ok := input.Keys[runes[0]]; ok {
		return k
	}
	return input.Unknown
}

func (d *rodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// interactiveSelector lists the element kinds treated as hit-testable,
// matching the reference engine's synthetic button/textbox pair in spirit:
// anything a user would plausibly click, type into, or tab to.
const interactiveSelector = "a, button, input, select, textarea, [role=button], [onclick]"

func (d *rodDriver) InteractiveElements(ctx context.Context) ([]elementBox, error) {
	elements, err := d.page.Context(ctx).Elements(interactiveSelector)
	if err != nil {
		return nil, fmt.Errorf("find interactive elements: %w", err)
	}
	boxes := make([]elementBox, 0, len(elements))
	for _, el := range elements {
		shape, err := el.Shape()
		if err != nil {
			continue
		}
		box := shape.Box()
		boxes = append(boxes, elementBox{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height})
	}
	return boxes, nil
}

func (d *rodDriver) Viewport() (uint32, uint32) {
	return d.width, d.height
}

func (d *rodDriver) Close() error {
	var firstErr error
	if d.page != nil {
		if err := d.page.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
	return firstErr
}

package realengine

import "context"

// driver is the pluggable interface between the mailbox/timeout/threading
// machinery in this package and whatever actually renders a page. The
// shipped implementation, rodDriver, wraps github.com/go-rod/rod; a
// deployment embedding a different renderer only needs to implement this
// interface and pass it to New.
//
// Every method is called from the mailbox's single worker goroutine, so
// implementations do not need their own internal locking.
type driver interface {
	// Navigate loads url, blocking until the page finishes loading or ctx is
	// cancelled (load_timeout).
	Navigate(ctx context.Context, url string) error

	// HTML returns the current page's serialized document, used as input to
	// the snapshot bridge (script.go). An error here is best-effort: callers
	// treat it as "no snapshot available" rather than an operation failure.
	HTML(ctx context.Context) (string, error)

	// Title returns the current page's title.
	Title(ctx context.Context) (string, error)

	// Click dispatches a left click at viewport coordinates (x, y).
	Click(ctx context.Context, x, y float64) error

	// TypeText inserts text at the currently focused element.
	TypeText(ctx context.Context, text string) error

	// Scroll scrolls the page by (dx, dy) viewport pixels.
	Scroll(ctx context.Context, dx, dy float64) error

	// MoveMouse moves the pointer to viewport coordinates (x, y), used for
	// Hover actions.
	MoveMouse(ctx context.Context, x, y float64) error

	// PressKey sends a single named key press (e.g. "Enter", "Tab").
	PressKey(ctx context.Context, key string) error

	// Screenshot captures the current viewport as a PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// InteractiveElements returns the bounding boxes of the page's
	// clickable/focusable elements, used to build a HitTestMap. Best-effort:
	// elements that cannot be measured are skipped, never erroring the call.
	InteractiveElements(ctx context.Context) ([]elementBox, error)

	// Viewport returns the driver's current render surface dimensions.
	Viewport() (width, height uint32)

	// Close releases any resources the driver holds (browser process,
	// connections). Called exactly once, from the mailbox's shutdown
	// command.
	Close() error
}

// elementBox is one interactive element's bounding box in viewport pixels.
// It carries no node id; the engine assigns ids when it builds a hit-test map.
type elementBox struct {
	X, Y, Width, Height float64
}

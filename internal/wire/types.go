// Package wire defines the browserd protocol's message types and implements
// their protobuf wire-format encoding by hand against
// google.golang.org/protobuf/encoding/protowire, field by field, keyed by the
// field numbers documented alongside each type below. There is no .proto file
// or protoc-gen-go step in this repository; the numbering here is the single
// source of truth and is kept stable so a future generated implementation
// could produce byte-identical frames.
package wire

// ─── Envelope ────────────────────────────────────────────────────────────────

// Envelope is the single wire message type exchanged over the socket: a
// tagged union of exactly one of Request, Response, or Event.
//
//	Envelope {
//	  1: Request  request
//	  2: Response response
//	  3: Event    event
//	}
type Envelope struct {
	Request  *Request
	Response *Response
	Event    *Event
}

// ─── Request ─────────────────────────────────────────────────────────────────

// Request {
//   1: string          request_id
//   2: string          session_id
//   10: CreateSession
//   11: Navigate
//   12: Observe
//   13: Act
//   14: StreamSubscribe
//   15: CloseSession
// }
type Request struct {
	RequestID string
	SessionID string
	Payload   RequestPayload
}

// RequestPayload is the oneof interface satisfied by each of the six request
// payload kinds. A Request with a nil Payload carries no payload field,
// which the dispatcher rejects as invalid_request per spec.md §7.
type RequestPayload interface {
	isRequestPayload()
}

// CreateSessionPayload creates a new session from config.
type CreateSessionPayload struct {
	Config *SessionConfig
}

// NavigatePayload navigates the session's engine to URL.
type NavigatePayload struct {
	URL string
}

// ObservePayload requests a snapshot of the current page.
type ObservePayload struct {
	Options ObserveOptions
}

// ActPayload dispatches a synthetic user action.
type ActPayload struct {
	Action *Action
}

// StreamSubscribePayload opens a periodic event stream on the connection.
type StreamSubscribePayload struct {
	Options StreamOptions
}

// CloseSessionPayload destroys the session and closes the connection.
type CloseSessionPayload struct{}

func (*CreateSessionPayload) isRequestPayload()   {}
func (*NavigatePayload) isRequestPayload()        {}
func (*ObservePayload) isRequestPayload()         {}
func (*ActPayload) isRequestPayload()             {}
func (*StreamSubscribePayload) isRequestPayload() {}
func (*CloseSessionPayload) isRequestPayload()    {}

// ObserveOptions independently controls which Observation fields are
// populated (spec.md §4.4).
type ObserveOptions struct {
	IncludeFrame         bool
	IncludeDOMSnapshot   bool
	IncludeAccessibility bool
	IncludeHitTest       bool
}

// StreamOptions is the client-requested configuration for a subscription;
// internal/dispatcher normalizes it into a streamSettings (spec.md §4.8).
type StreamOptions struct {
	IncludeFrames             bool
	IncludeDOMDiffs           bool
	IncludeAccessibilityDiffs bool
	IncludeHitTest            bool
	TargetFPS                 uint32
}

// ─── Response ────────────────────────────────────────────────────────────────

// Response {
//   1: string    request_id
//   2: string    session_id
//   3: ErrorInfo error
//   10: CreateSessionResponse
//   11: NavigateResponse
//   12: ObserveResponse
//   13: ActResponse
//   14: StreamSubscribeResponse
//   15: CloseSessionResponse
// }
type Response struct {
	RequestID string
	SessionID string
	Error     *ErrorInfo
	Payload   ResponsePayload
}

// ResponsePayload is the oneof interface satisfied by each success payload.
// A Response has exactly one of Error or Payload populated (spec.md §3).
type ResponsePayload interface {
	isResponsePayload()
}

// ErrorInfo is the wire form of an engine or policy error.
type ErrorInfo struct {
	Code    string
	Message string
}

// CreateSessionResponse reports the newly created session and its initial
// observation.
type CreateSessionResponse struct {
	Session     SessionInfo
	Observation *Observation
}

// SessionInfo is the lightweight session summary returned by CreateSession.
type SessionInfo struct {
	ID           string
	StateVersion uint64
	URL          string
}

// NavigateResponse carries the observation produced by a successful
// navigation.
type NavigateResponse struct {
	Observation *Observation
}

// ObserveResponse carries the requested observation.
type ObserveResponse struct {
	Observation *Observation
}

// ActResponse carries the result of a dispatched action.
type ActResponse struct {
	Result *ActionResult
}

// StreamSubscribeResponse acknowledges a subscription; the connection then
// carries an indefinite sequence of Event envelopes.
type StreamSubscribeResponse struct {
	Subscribed bool
}

// CloseSessionResponse acknowledges session teardown.
type CloseSessionResponse struct {
	Closed bool
}

func (*CreateSessionResponse) isResponsePayload()   {}
func (*NavigateResponse) isResponsePayload()        {}
func (*ObserveResponse) isResponsePayload()         {}
func (*ActResponse) isResponsePayload()             {}
func (*StreamSubscribeResponse) isResponsePayload() {}
func (*CloseSessionResponse) isResponsePayload()    {}

// ─── Event ───────────────────────────────────────────────────────────────────

// EventType identifies the kind of a streamed Event.
type EventType int32

const (
	EventUnspecified EventType = iota
	EventFrame
	EventDomDiff
	EventAccessibilityDiff
	EventHitTest
)

// String renders an EventType for logging.
func (t EventType) String() string {
	switch t {
	case EventFrame:
		return "Frame"
	case EventDomDiff:
		return "DomDiff"
	case EventAccessibilityDiff:
		return "AccessibilityDiff"
	case EventHitTest:
		return "HitTest"
	default:
		return "Unspecified"
	}
}

// Event {
//   1: EventType type
//   2: uint64    state_version
//   3: int64     timestamp
//   4: bytes     frame
//   5: bytes     dom_diff
//   6: bytes     accessibility_diff
//   7: HitTestMap hit_test
// }
type Event struct {
	Type              EventType
	StateVersion      uint64
	Timestamp         int64
	Frame             []byte
	DomDiff           []byte
	AccessibilityDiff []byte
	HitTest           *HitTestMap
}

// ─── SessionConfig ───────────────────────────────────────────────────────────

// Viewport describes the engine's render surface.
type Viewport struct {
	Width             uint32
	Height            uint32
	DeviceScaleFactor float64
}

// ClipboardMode names the clipboard isolation policy; reserved for future
// use, currently advisory (spec.md §4.5 clipboard policy is driven by the
// AllowRead/AllowWrite/MaxBytes/ReadAllowlist fields, not Mode).
type ClipboardMode string

// ClipboardPolicy is the per-session clipboard access policy.
type ClipboardPolicy struct {
	Mode          ClipboardMode
	AllowRead     bool
	AllowWrite    bool
	MaxBytes      uint64
	ReadAllowlist []string
}

// SessionConfig {
//   1: string   session_id
//   2: string   initial_url
//   3: Viewport viewport
//   4: string   user_agent
//   5: string   locale
//   6: string   timezone
//   7: uint32   frame_rate
//   8: repeated string network_allowlist
//   9: Clipboard clipboard
// }
type SessionConfig struct {
	SessionID        string
	InitialURL       string
	Viewport         Viewport
	UserAgent        string
	Locale           string
	Timezone         string
	FrameRate        uint32
	NetworkAllowlist []string
	Clipboard        ClipboardPolicy
}

// ─── Action ──────────────────────────────────────────────────────────────────

// ActionKind enumerates the kinds of synthetic user action.
type ActionKind int32

const (
	ActionUnspecified ActionKind = iota
	ActionClick
	ActionTypeText // the "Type" action (typing text).
	ActionScroll
	ActionHover
	ActionKey
	ActionFocus
	ActionClipboardRead
	ActionClipboardWrite
)

// String renders an ActionKind for logging and audit records.
func (t ActionKind) String() string {
	switch t {
	case ActionClick:
		return "click"
	case ActionTypeText:
		return "type"
	case ActionScroll:
		return "scroll"
	case ActionHover:
		return "hover"
	case ActionKey:
		return "key"
	case ActionFocus:
		return "focus"
	case ActionClipboardRead:
		return "clipboard_read"
	case ActionClipboardWrite:
		return "clipboard_write"
	default:
		return "unspecified"
	}
}

// ScrollUnit is the unit scroll deltas are expressed in.
type ScrollUnit int32

const (
	ScrollUnitUnspecified ScrollUnit = iota // normalized to ScrollUnitPixels
	ScrollUnitPixels
	ScrollUnitLines
)

// Modifier is a keyboard modifier held during an action.
type Modifier int32

const (
	ModifierUnspecified Modifier = iota
	ModifierShift
	ModifierAlt
	ModifierCtrl
	ModifierMeta
)

// Point is a viewport-pixel coordinate.
type Point struct {
	X float64
	Y float64
}

// ScrollParams describes a scroll delta.
type ScrollParams struct {
	X    float64
	Y    float64
	Unit ScrollUnit
}

// ActionTarget resolves to either a node ID or a viewport point; exactly one
// is meaningful at a time (spec.md §4.5 target resolution).
type ActionTarget struct {
	NodeID uint64
	Point  *Point
}

// Action {
//   1: ActionType type
//   2: uint64     expected_state_version
//   3: ActionTarget target
//   4: string     text
//   5: string     key
//   6: ScrollParams scroll
//   7: repeated Modifier modifiers
// }
type Action struct {
	Type                 ActionKind
	ExpectedStateVersion uint64
	Target               ActionTarget
	Text                 string
	Key                  string
	Scroll               *ScrollParams
	Modifiers            []Modifier
}

// ─── Observation / results ──────────────────────────────────────────────────

// Rect is an axis-aligned viewport rectangle.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// HitTestRegion is one interactive region in a HitTestMap.
type HitTestRegion struct {
	NodeID uint64
	Bounds Rect
}

// HitTestMap is the full set of interactive regions in the current viewport.
type HitTestMap struct {
	Width   uint32
	Height  uint32
	Regions []HitTestRegion
}

// Observation is a point-in-time snapshot of a session's page.
type Observation struct {
	StateVersion      uint64
	URL               string
	Title             string
	Timestamp         int64
	Frame             []byte
	DomSnapshot       []byte
	AccessibilityTree []byte
	HitTest           *HitTestMap
}

// ActionEffect describes one side effect an action produced.
type ActionEffect struct {
	Kind     string
	Summary  string
	Metadata map[string]string
}

// ActionResult is returned by a successful Act request.
type ActionResult struct {
	StateVersion uint64
	Observation  *Observation
	Effects      []ActionEffect
}

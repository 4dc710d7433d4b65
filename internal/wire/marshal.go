package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MarshalEnvelope encodes e as a protobuf-wire-format message. Exactly one of
// e.Request, e.Response, e.Event must be non-nil; MarshalEnvelope returns an
// error otherwise.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("wire: marshal envelope: envelope is nil")
	}
	set := 0
	var b []byte
	if e.Request != nil {
		set++
		b = appendMessageField(b, 1, marshalRequest(e.Request))
	}
	if e.Response != nil {
		set++
		b = appendMessageField(b, 2, marshalResponse(e.Response))
	}
	if e.Event != nil {
		set++
		b = appendMessageField(b, 3, marshalEvent(e.Event))
	}
	if set != 1 {
		return nil, fmt.Errorf("wire: marshal envelope: exactly one of request/response/event must be set, got %d", set)
	}
	return b, nil
}

// ─── low-level append helpers ───────────────────────────────────────────────

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, uint64(v))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

func appendEnumField(b []byte, num protowire.Number, v int32) []byte {
	return appendVarintField(b, num, uint64(uint32(v)))
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendDoubleField(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// appendMessageField always encodes the field, even if payload is empty,
// because the caller has already decided the submessage is present (a nil
// *T pointer is never passed through this helper).
func appendMessageField(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// ─── Request ─────────────────────────────────────────────────────────────────

func marshalRequest(r *Request) []byte {
	var b []byte
	b = appendStringField(b, 1, r.RequestID)
	b = appendStringField(b, 2, r.SessionID)
	switch p := r.Payload.(type) {
	case *CreateSessionPayload:
		var cfg []byte
		if p.Config != nil {
			cfg = marshalSessionConfig(p.Config)
		}
		b = appendMessageField(b, 10, cfg)
	case *NavigatePayload:
		b = appendMessageField(b, 11, appendStringField(nil, 1, p.URL))
	case *ObservePayload:
		b = appendMessageField(b, 12, marshalObserveOptions(p.Options))
	case *ActPayload:
		var a []byte
		if p.Action != nil {
			a = marshalAction(p.Action)
		}
		b = appendMessageField(b, 13, a)
	case *StreamSubscribePayload:
		b = appendMessageField(b, 14, marshalStreamOptions(p.Options))
	case *CloseSessionPayload:
		b = appendMessageField(b, 15, nil)
	}
	return b
}

func marshalObserveOptions(o ObserveOptions) []byte {
	var b []byte
	b = appendBoolField(b, 1, o.IncludeFrame)
	b = appendBoolField(b, 2, o.IncludeDOMSnapshot)
	b = appendBoolField(b, 3, o.IncludeAccessibility)
	b = appendBoolField(b, 4, o.IncludeHitTest)
	return b
}

func marshalStreamOptions(o StreamOptions) []byte {
	var b []byte
	b = appendBoolField(b, 1, o.IncludeFrames)
	b = appendBoolField(b, 2, o.IncludeDOMDiffs)
	b = appendBoolField(b, 3, o.IncludeAccessibilityDiffs)
	b = appendBoolField(b, 4, o.IncludeHitTest)
	b = appendVarintField(b, 5, uint64(o.TargetFPS))
	return b
}

// ─── Response ────────────────────────────────────────────────────────────────

func marshalResponse(r *Response) []byte {
	var b []byte
	b = appendStringField(b, 1, r.RequestID)
	b = appendStringField(b, 2, r.SessionID)
	if r.Error != nil {
		b = appendMessageField(b, 3, marshalErrorInfo(r.Error))
	}
	switch p := r.Payload.(type) {
	case *CreateSessionResponse:
		b = appendMessageField(b, 10, marshalCreateSessionResponse(p))
	case *NavigateResponse:
		var o []byte
		if p.Observation != nil {
			o = marshalObservation(p.Observation)
		}
		b = appendMessageField(b, 11, appendMessageFieldRaw(1, o))
	case *ObserveResponse:
		var o []byte
		if p.Observation != nil {
			o = marshalObservation(p.Observation)
		}
		b = appendMessageField(b, 12, appendMessageFieldRaw(1, o))
	case *ActResponse:
		var rr []byte
		if p.Result != nil {
			rr = marshalActionResult(p.Result)
		}
		b = appendMessageField(b, 13, appendMessageFieldRaw(1, rr))
	case *StreamSubscribeResponse:
		b = appendMessageField(b, 14, appendBoolField(nil, 1, p.Subscribed))
	case *CloseSessionResponse:
		b = appendMessageField(b, 15, appendBoolField(nil, 1, p.Closed))
	}
	return b
}

// appendMessageFieldRaw wraps payload under field number 1 of an anonymous
// single-field wrapper message, used for the *Response types that hold
// exactly one named submessage.
func appendMessageFieldRaw(num protowire.Number, payload []byte) []byte {
	if payload == nil {
		return nil
	}
	return appendMessageField(nil, num, payload)
}

func marshalErrorInfo(e *ErrorInfo) []byte {
	var b []byte
	b = appendStringField(b, 1, e.Code)
	b = appendStringField(b, 2, e.Message)
	return b
}

func marshalCreateSessionResponse(r *CreateSessionResponse) []byte {
	var b []byte
	b = appendMessageField(b, 1, marshalSessionInfo(r.Session))
	if r.Observation != nil {
		b = appendMessageField(b, 2, marshalObservation(r.Observation))
	}
	return b
}

func marshalSessionInfo(s SessionInfo) []byte {
	var b []byte
	b = appendStringField(b, 1, s.ID)
	b = appendVarintField(b, 2, s.StateVersion)
	b = appendStringField(b, 3, s.URL)
	return b
}

// ─── Event ───────────────────────────────────────────────────────────────────

func marshalEvent(e *Event) []byte {
	var b []byte
	b = appendEnumField(b, 1, int32(e.Type))
	b = appendVarintField(b, 2, e.StateVersion)
	b = appendInt64Field(b, 3, e.Timestamp)
	b = appendBytesField(b, 4, e.Frame)
	b = appendBytesField(b, 5, e.DomDiff)
	b = appendBytesField(b, 6, e.AccessibilityDiff)
	if e.HitTest != nil {
		b = appendMessageField(b, 7, marshalHitTestMap(e.HitTest))
	}
	return b
}

// ─── SessionConfig ───────────────────────────────────────────────────────────

func marshalSessionConfig(c *SessionConfig) []byte {
	var b []byte
	b = appendStringField(b, 1, c.SessionID)
	b = appendStringField(b, 2, c.InitialURL)
	b = appendMessageField(b, 3, marshalViewport(c.Viewport))
	b = appendStringField(b, 4, c.UserAgent)
	b = appendStringField(b, 5, c.Locale)
	b = appendStringField(b, 6, c.Timezone)
	b = appendVarintField(b, 7, uint64(c.FrameRate))
	for _, a := range c.NetworkAllowlist {
		b = appendStringField(b, 8, a)
	}
	b = appendMessageField(b, 9, marshalClipboardPolicy(c.Clipboard))
	return b
}

func marshalViewport(v Viewport) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(v.Width))
	b = appendVarintField(b, 2, uint64(v.Height))
	b = appendDoubleField(b, 3, v.DeviceScaleFactor)
	return b
}

func marshalClipboardPolicy(c ClipboardPolicy) []byte {
	var b []byte
	b = appendStringField(b, 1, string(c.Mode))
	b = appendBoolField(b, 2, c.AllowRead)
	b = appendBoolField(b, 3, c.AllowWrite)
	b = appendVarintField(b, 4, c.MaxBytes)
	for _, a := range c.ReadAllowlist {
		b = appendStringField(b, 5, a)
	}
	return b
}

// ─── Action ──────────────────────────────────────────────────────────────────

func marshalAction(a *Action) []byte {
	var b []byte
	b = appendEnumField(b, 1, int32(a.Type))
	b = appendVarintField(b, 2, a.ExpectedStateVersion)
	b = appendMessageField(b, 3, marshalActionTarget(a.Target))
	b = appendStringField(b, 4, a.Text)
	b = appendStringField(b, 5, a.Key)
	if a.Scroll != nil {
		b = appendMessageField(b, 6, marshalScrollParams(a.Scroll))
	}
	for _, m := range a.Modifiers {
		b = appendEnumField(b, 7, int32(m))
	}
	return b
}

func marshalActionTarget(t ActionTarget) []byte {
	var b []byte
	b = appendVarintField(b, 1, t.NodeID)
	if t.Point != nil {
		b = appendMessageField(b, 2, marshalPoint(*t.Point))
	}
	return b
}

func marshalPoint(p Point) []byte {
	var b []byte
	b = appendDoubleField(b, 1, p.X)
	b = appendDoubleField(b, 2, p.Y)
	return b
}

func marshalScrollParams(s *ScrollParams) []byte {
	var b []byte
	b = appendDoubleField(b, 1, s.X)
	b = appendDoubleField(b, 2, s.Y)
	b = appendEnumField(b, 3, int32(s.Unit))
	return b
}

// ─── Observation / results ──────────────────────────────────────────────────

func marshalRect(r Rect) []byte {
	var b []byte
	b = appendDoubleField(b, 1, r.X)
	b = appendDoubleField(b, 2, r.Y)
	b = appendDoubleField(b, 3, r.Width)
	b = appendDoubleField(b, 4, r.Height)
	return b
}

func marshalHitTestRegion(r HitTestRegion) []byte {
	var b []byte
	b = appendVarintField(b, 1, r.NodeID)
	b = appendMessageField(b, 2, marshalRect(r.Bounds))
	return b
}

func marshalHitTestMap(h *HitTestMap) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(h.Width))
	b = appendVarintField(b, 2, uint64(h.Height))
	for _, r := range h.Regions {
		b = appendMessageField(b, 3, marshalHitTestRegion(r))
	}
	return b
}

func marshalObservation(o *Observation) []byte {
	var b []byte
	b = appendVarintField(b, 1, o.StateVersion)
	b = appendStringField(b, 2, o.URL)
	b = appendStringField(b, 3, o.Title)
	b = appendInt64Field(b, 4, o.Timestamp)
	b = appendBytesField(b, 5, o.Frame)
	b = appendBytesField(b, 6, o.DomSnapshot)
	b = appendBytesField(b, 7, o.AccessibilityTree)
	if o.HitTest != nil {
		b = appendMessageField(b, 8, marshalHitTestMap(o.HitTest))
	}
	return b
}

func marshalActionEffect(e ActionEffect) []byte {
	var b []byte
	b = appendStringField(b, 1, e.Kind)
	b = appendStringField(b, 2, e.Summary)
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendStringField(entry, 1, k)
		entry = appendStringField(entry, 2, e.Metadata[k])
		b = appendMessageField(b, 3, entry)
	}
	return b
}

func marshalActionResult(r *ActionResult) []byte {
	var b []byte
	b = appendVarintField(b, 1, r.StateVersion)
	if r.Observation != nil {
		b = appendMessageField(b, 2, marshalObservation(r.Observation))
	}
	for _, e := range r.Effects {
		b = appendMessageField(b, 3, marshalActionEffect(e))
	}
	return b
}

// sortStrings avoids importing sort in multiple files; kept tiny and local
// since metadata maps are expected to hold at most a handful of entries.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

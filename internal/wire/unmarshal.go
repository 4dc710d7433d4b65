package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// UnmarshalEnvelope decodes a protobuf-wire-format Envelope. It returns an
// error if the bytes are malformed or if the decoded envelope does not carry
// exactly one of request/response/event.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	e := &Envelope{}
	set := 0
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, fmt.Errorf("wire: envelope.request: %w", err)
			}
			req, err := unmarshalRequest(msg)
			if err != nil {
				return 0, err
			}
			e.Request = req
			set++
			return n, nil
		case 2:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, fmt.Errorf("wire: envelope.response: %w", err)
			}
			resp, err := unmarshalResponse(msg)
			if err != nil {
				return 0, err
			}
			e.Response = resp
			set++
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, fmt.Errorf("wire: envelope.event: %w", err)
			}
			ev, err := unmarshalEvent(msg)
			if err != nil {
				return 0, err
			}
			e.Event = ev
			set++
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	if set != 1 {
		return nil, fmt.Errorf("wire: unmarshal envelope: exactly one of request/response/event must be set, got %d", set)
	}
	return e, nil
}

// ─── low-level consume helpers ──────────────────────────────────────────────

// forEachField walks every (tag, value) pair in b, calling fn with the field
// number, wire type, and the slice positioned just after the tag. fn must
// return the number of bytes it consumed from that slice.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		consumed, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if consumed < 0 || consumed > len(b) {
			return fmt.Errorf("wire: field %d: invalid consumed length", num)
		}
		b = b[consumed:]
	}
	return nil
}

func skipUnknown(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("wire: skip field %d: %w", num, protowire.ParseError(n))
	}
	return n, nil
}

func consumeMessage(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire: expected bytes-encoded message, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("wire: expected bytes-encoded string, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return string(v), n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire: expected bytes field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire: expected varint field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("wire: expected fixed64 field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), n, nil
}

// ─── Request ─────────────────────────────────────────────────────────────────

func unmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			r.RequestID = s
			return n, nil
		case 2:
			s, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			r.SessionID = s
			return n, nil
		case 10:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			cfg, err := unmarshalSessionConfig(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = &CreateSessionPayload{Config: cfg}
			return n, nil
		case 11:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			var url string
			if err := forEachField(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == 1 {
					s, n, err := consumeString(typ, b)
					if err != nil {
						return 0, err
					}
					url = s
					return n, nil
				}
				return skipUnknown(num, typ, b)
			}); err != nil {
				return 0, err
			}
			r.Payload = &NavigatePayload{URL: url}
			return n, nil
		case 12:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			opts, err := unmarshalObserveOptions(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = &ObservePayload{Options: opts}
			return n, nil
		case 13:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			a, err := unmarshalAction(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = &ActPayload{Action: a}
			return n, nil
		case 14:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			opts, err := unmarshalStreamOptions(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = &StreamSubscribePayload{Options: opts}
			return n, nil
		case 15:
			_, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			r.Payload = &CloseSessionPayload{}
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal request: %w", err)
	}
	return r, nil
}

func unmarshalObserveOptions(b []byte) (ObserveOptions, error) {
	var o ObserveOptions
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeFrame = v != 0
			return n, nil
		case 2:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeDOMSnapshot = v != 0
			return n, nil
		case 3:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeAccessibility = v != 0
			return n, nil
		case 4:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeHitTest = v != 0
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return o, err
}

func unmarshalStreamOptions(b []byte) (StreamOptions, error) {
	var o StreamOptions
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeFrames = v != 0
			return n, nil
		case 2:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeDOMDiffs = v != 0
			return n, nil
		case 3:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeAccessibilityDiffs = v != 0
			return n, nil
		case 4:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.IncludeHitTest = v != 0
			return n, nil
		case 5:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.TargetFPS = uint32(v)
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return o, err
}

// ─── Response ────────────────────────────────────────────────────────────────

func unmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			r.RequestID = s
			return n, nil
		case 2:
			s, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			r.SessionID = s
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			ei, err := unmarshalErrorInfo(msg)
			if err != nil {
				return 0, err
			}
			r.Error = ei
			return n, nil
		case 10:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			csr, err := unmarshalCreateSessionResponse(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = csr
			return n, nil
		case 11:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			obs, err := unmarshalWrappedObservation(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = &NavigateResponse{Observation: obs}
			return n, nil
		case 12:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			obs, err := unmarshalWrappedObservation(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = &ObserveResponse{Observation: obs}
			return n, nil
		case 13:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			res, err := unmarshalWrappedActionResult(msg)
			if err != nil {
				return 0, err
			}
			r.Payload = &ActResponse{Result: res}
			return n, nil
		case 14:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			var subscribed bool
			if err := forEachField(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == 1 {
					v, n, err := consumeVarint(typ, b)
					if err != nil {
						return 0, err
					}
					subscribed = v != 0
					return n, nil
				}
				return skipUnknown(num, typ, b)
			}); err != nil {
				return 0, err
			}
			r.Payload = &StreamSubscribeResponse{Subscribed: subscribed}
			return n, nil
		case 15:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			var closed bool
			if err := forEachField(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == 1 {
					v, n, err := consumeVarint(typ, b)
					if err != nil {
						return 0, err
					}
					closed = v != 0
					return n, nil
				}
				return skipUnknown(num, typ, b)
			}); err != nil {
				return 0, err
			}
			r.Payload = &CloseSessionResponse{Closed: closed}
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal response: %w", err)
	}
	return r, nil
}

// unmarshalWrappedObservation unwraps the single-field (number 1) submessage
// wrapper used by NavigateResponse/ObserveResponse.
func unmarshalWrappedObservation(b []byte) (*Observation, error) {
	var obs *Observation
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			o, err := unmarshalObservation(msg)
			if err != nil {
				return 0, err
			}
			obs = o
			return n, nil
		}
		return skipUnknown(num, typ, b)
	})
	return obs, err
}

func unmarshalWrappedActionResult(b []byte) (*ActionResult, error) {
	var res *ActionResult
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			r, err := unmarshalActionResult(msg)
			if err != nil {
				return 0, err
			}
			res = r
			return n, nil
		}
		return skipUnknown(num, typ, b)
	})
	return res, err
}

func unmarshalErrorInfo(b []byte) (*ErrorInfo, error) {
	e := &ErrorInfo{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			s, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			e.Code = s
			return n, nil
		case 2:
			s, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			e.Message = s
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return e, err
}

func unmarshalCreateSessionResponse(b []byte) (*CreateSessionResponse, error) {
	r := &CreateSessionResponse{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			si, err := unmarshalSessionInfo(msg)
			if err != nil {
				return 0, err
			}
			r.Session = si
			return n, nil
		case 2:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			o, err := unmarshalObservation(msg)
			if err != nil {
				return 0, err
			}
			r.Observation = o
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return r, err
}

func unmarshalSessionInfo(b []byte) (SessionInfo, error) {
	var s SessionInfo
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			s.ID = v
			return n, nil
		case 2:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			s.StateVersion = v
			return n, nil
		case 3:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			s.URL = v
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return s, err
}

// ─── Event ───────────────────────────────────────────────────────────────────

func unmarshalEvent(b []byte) (*Event, error) {
	e := &Event{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			e.Type = EventType(int32(v))
			return n, nil
		case 2:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			e.StateVersion = v
			return n, nil
		case 3:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			e.Timestamp = int64(v)
			return n, nil
		case 4:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			e.Frame = v
			return n, nil
		case 5:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			e.DomDiff = v
			return n, nil
		case 6:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			e.AccessibilityDiff = v
			return n, nil
		case 7:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			h, err := unmarshalHitTestMap(msg)
			if err != nil {
				return 0, err
			}
			e.HitTest = h
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal event: %w", err)
	}
	return e, nil
}

// ─── SessionConfig ───────────────────────────────────────────────────────────

func unmarshalSessionConfig(b []byte) (*SessionConfig, error) {
	c := &SessionConfig{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.SessionID = v
			return n, nil
		case 2:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.InitialURL = v
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			vp, err := unmarshalViewport(msg)
			if err != nil {
				return 0, err
			}
			c.Viewport = vp
			return n, nil
		case 4:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.UserAgent = v
			return n, nil
		case 5:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.Locale = v
			return n, nil
		case 6:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.Timezone = v
			return n, nil
		case 7:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			c.FrameRate = uint32(v)
			return n, nil
		case 8:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.NetworkAllowlist = append(c.NetworkAllowlist, v)
			return n, nil
		case 9:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			cp, err := unmarshalClipboardPolicy(msg)
			if err != nil {
				return 0, err
			}
			c.Clipboard = cp
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal session config: %w", err)
	}
	return c, nil
}

func unmarshalViewport(b []byte) (Viewport, error) {
	var v Viewport
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			val, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			v.Width = uint32(val)
			return n, nil
		case 2:
			val, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			v.Height = uint32(val)
			return n, nil
		case 3:
			val, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			v.DeviceScaleFactor = val
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return v, err
}

func unmarshalClipboardPolicy(b []byte) (ClipboardPolicy, error) {
	var c ClipboardPolicy
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.Mode = ClipboardMode(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			c.AllowRead = v != 0
			return n, nil
		case 3:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			c.AllowWrite = v != 0
			return n, nil
		case 4:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			c.MaxBytes = v
			return n, nil
		case 5:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			c.ReadAllowlist = append(c.ReadAllowlist, v)
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return c, err
}

// ─── Action ──────────────────────────────────────────────────────────────────

func unmarshalAction(b []byte) (*Action, error) {
	a := &Action{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			a.Type = ActionKind(int32(v))
			return n, nil
		case 2:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			a.ExpectedStateVersion = v
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			t, err := unmarshalActionTarget(msg)
			if err != nil {
				return 0, err
			}
			a.Target = t
			return n, nil
		case 4:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			a.Text = v
			return n, nil
		case 5:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			a.Key = v
			return n, nil
		case 6:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			sp, err := unmarshalScrollParams(msg)
			if err != nil {
				return 0, err
			}
			a.Scroll = sp
			return n, nil
		case 7:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			a.Modifiers = append(a.Modifiers, Modifier(int32(v)))
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal action: %w", err)
	}
	return a, nil
}

func unmarshalActionTarget(b []byte) (ActionTarget, error) {
	var t ActionTarget
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			t.NodeID = v
			return n, nil
		case 2:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			p, err := unmarshalPoint(msg)
			if err != nil {
				return 0, err
			}
			t.Point = &p
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return t, err
}

func unmarshalPoint(b []byte) (Point, error) {
	var p Point
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			p.X = v
			return n, nil
		case 2:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			p.Y = v
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return p, err
}

func unmarshalScrollParams(b []byte) (*ScrollParams, error) {
	s := &ScrollParams{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			s.X = v
			return n, nil
		case 2:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			s.Y = v
			return n, nil
		case 3:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			s.Unit = ScrollUnit(int32(v))
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ─── Observation / results ──────────────────────────────────────────────────

func unmarshalRect(b []byte) (Rect, error) {
	var r Rect
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			r.X = v
			return n, nil
		case 2:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			r.Y = v
			return n, nil
		case 3:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			r.Width = v
			return n, nil
		case 4:
			v, n, err := consumeDouble(typ, b)
			if err != nil {
				return 0, err
			}
			r.Height = v
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return r, err
}

func unmarshalHitTestRegion(b []byte) (HitTestRegion, error) {
	var r HitTestRegion
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			r.NodeID = v
			return n, nil
		case 2:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			rect, err := unmarshalRect(msg)
			if err != nil {
				return 0, err
			}
			r.Bounds = rect
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return r, err
}

func unmarshalHitTestMap(b []byte) (*HitTestMap, error) {
	h := &HitTestMap{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			h.Width = uint32(v)
			return n, nil
		case 2:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			h.Height = uint32(v)
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			r, err := unmarshalHitTestRegion(msg)
			if err != nil {
				return 0, err
			}
			h.Regions = append(h.Regions, r)
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func unmarshalObservation(b []byte) (*Observation, error) {
	o := &Observation{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.StateVersion = v
			return n, nil
		case 2:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			o.URL = v
			return n, nil
		case 3:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			o.Title = v
			return n, nil
		case 4:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			o.Timestamp = int64(v)
			return n, nil
		case 5:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			o.Frame = v
			return n, nil
		case 6:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			o.DomSnapshot = v
			return n, nil
		case 7:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			o.AccessibilityTree = v
			return n, nil
		case 8:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			h, err := unmarshalHitTestMap(msg)
			if err != nil {
				return 0, err
			}
			o.HitTest = h
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal observation: %w", err)
	}
	return o, nil
}

func unmarshalActionEffect(b []byte) (ActionEffect, error) {
	e := ActionEffect{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			e.Kind = v
			return n, nil
		case 2:
			v, n, err := consumeString(typ, b)
			if err != nil {
				return 0, err
			}
			e.Summary = v
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			var key, val string
			if err := forEachField(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					s, n, err := consumeString(typ, b)
					if err != nil {
						return 0, err
					}
					key = s
					return n, nil
				case 2:
					s, n, err := consumeString(typ, b)
					if err != nil {
						return 0, err
					}
					val = s
					return n, nil
				default:
					return skipUnknown(num, typ, b)
				}
			}); err != nil {
				return 0, err
			}
			if e.Metadata == nil {
				e.Metadata = make(map[string]string)
			}
			e.Metadata[key] = val
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	return e, err
}

func unmarshalActionResult(b []byte) (*ActionResult, error) {
	r := &ActionResult{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			if err != nil {
				return 0, err
			}
			r.StateVersion = v
			return n, nil
		case 2:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			o, err := unmarshalObservation(msg)
			if err != nil {
				return 0, err
			}
			r.Observation = o
			return n, nil
		case 3:
			msg, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			eff, err := unmarshalActionEffect(msg)
			if err != nil {
				return 0, err
			}
			r.Effects = append(r.Effects, eff)
			return n, nil
		default:
			return skipUnknown(num, typ, b)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("wire: unmarshal action result: %w", err)
	}
	return r, nil
}

package dispatcher

import (
	"time"

	"browserd/internal/engine"
	"browserd/internal/registry"
	"browserd/internal/wire"
)

// streamSettings is the normalized form of a StreamSubscribe request's
// options, per spec.md §4.8.
type streamSettings struct {
	includeFrames             bool
	includeDOMDiffs           bool
	includeAccessibilityDiffs bool
	includeHitTest            bool
	targetFPS                 uint32
}

// streamPlan carries everything runStream needs once a StreamSubscribe
// request has been accepted: the session to poll and the settings to poll
// it with. The subscribe acknowledgement is written by HandleConnection
// before runStream starts the loop.
type streamPlan struct {
	sessionID string
	settings  streamSettings
}

// handleStreamSubscribe validates the target session exists and builds the
// streamPlan HandleConnection will hand to runStream. The acknowledgement
// Response is returned alongside the plan so HandleConnection writes it
// before entering the loop (spec.md §4.7 step 5).
func (d *Dispatcher) handleStreamSubscribe(req *wire.Request, sessionID string, p *wire.StreamSubscribePayload) (*wire.Response, *streamPlan, bool) {
	var frameRate uint32
	found := d.Registry.WithSession(sessionID, func(e *registry.Entry) {
		frameRate = e.Engine.FrameRate()
	})
	if !found {
		return errorResponse(req, engine.CodeInvalidSession, "unknown session_id"), nil, false
	}

	settings := normalizeStreamOptions(p.Options, frameRate)
	resp := &wire.Response{
		RequestID: req.RequestID,
		SessionID: sessionID,
		Payload:   &wire.StreamSubscribeResponse{Subscribed: true},
	}
	return resp, &streamPlan{sessionID: sessionID, settings: settings}, false
}

// normalizeStreamOptions turns client-requested StreamOptions into
// streamSettings per spec.md §4.8: all-false becomes frames-only, and
// target_fps falls back to the engine's frame rate, then to 12.
func normalizeStreamOptions(o wire.StreamOptions, engineFrameRate uint32) streamSettings {
	s := streamSettings{
		includeFrames:             o.IncludeFrames,
		includeDOMDiffs:           o.IncludeDOMDiffs,
		includeAccessibilityDiffs: o.IncludeAccessibilityDiffs,
		includeHitTest:            o.IncludeHitTest,
		targetFPS:                 o.TargetFPS,
	}
	if !s.includeFrames && !s.includeDOMDiffs && !s.includeAccessibilityDiffs && !s.includeHitTest {
		s.includeFrames = true
	}
	if s.targetFPS == 0 {
		s.targetFPS = engineFrameRate
	}
	if s.targetFPS == 0 {
		s.targetFPS = 12
	}
	return s
}

// runStream drives the per-tick event loop for a subscribed connection
// until a write fails or the session disappears from the registry. It
// acquires the registry lock only for the duration of each individual
// StreamEvent call, never across a full tick or the inter-tick sleep
// (spec.md §4.7's "hold the lock only for one engine operation" rule
// applies here too).
func (d *Dispatcher) runStream(w *wire.Writer, plan *streamPlan) {
	interval := time.Duration(max64(1, 1000/int64(plan.settings.targetFPS))) * time.Millisecond

	kinds := make([]wire.EventType, 0, 4)
	if plan.settings.includeFrames {
		kinds = append(kinds, wire.EventFrame)
	}
	if plan.settings.includeDOMDiffs {
		kinds = append(kinds, wire.EventDomDiff)
	}
	if plan.settings.includeAccessibilityDiffs {
		kinds = append(kinds, wire.EventAccessibilityDiff)
	}
	if plan.settings.includeHitTest {
		kinds = append(kinds, wire.EventHitTest)
	}

	for {
		for _, kind := range kinds {
			var ev *wire.Event
			var eerr *engine.Error
			found := d.Registry.WithSession(plan.sessionID, func(e *registry.Entry) {
				ev, eerr = e.Engine.StreamEvent(kind)
			})
			if !found {
				return
			}
			if eerr != nil {
				if werr := w.WriteEnvelope(errorEnvelope("", plan.sessionID, eerr.Code, eerr.Message)); werr != nil {
					return
				}
				continue
			}
			if werr := w.WriteEnvelope(&wire.Envelope{Event: ev}); werr != nil {
				return
			}
			d.Stats.IncrementStreamTicksEmitted()
		}
		time.Sleep(interval)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

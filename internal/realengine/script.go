package realengine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robertkrimen/otto"
)

// snapshotBridge turns a page's raw HTML into DOM/accessibility JSON
// summaries (their fields differ from the reference engine's snapshots) by
// running a small extraction
// script against an otto VM rather than round-tripping through CDP a second
// time. Grounded on the teacher's jschallenge.OttoSolver: a single VM,
// mutex-free here because every call already runs on the mailbox's one
// worker goroutine, with a fresh otto.Otto per call (extraction scripts are
// cheap and this avoids leaking state between pages).
type snapshotBridge struct {
	timeout time.Duration
}

func newSnapshotBridge(timeout time.Duration) *snapshotBridge {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &snapshotBridge{timeout: timeout}
}

// halt is the sentinel value passed to otto's Interrupt channel; recovering
// a panic(halt{}) distinguishes "we deliberately cut this off" from a real
// script bug.
type halt struct{}

var errScriptTimeout = fmt.Errorf("realengine: script evaluation exceeded its budget")

// extract runs a deterministic extraction script against html and returns
// two JSON documents: a DOM summary (url, title, state_version,
// content_length) and an accessibility root (role "document", has_form).
// These are not the reference engine's shapes. Per spec.md §4.6 this is best-effort:
// any failure (parse error, runtime error, timeout) yields empty byte
// slices rather than propagating an error, so a failed snapshot never fails
// the surrounding Observe/Act/Navigate call.
func (b *snapshotBridge) extract(html, url, title string, stateVersion uint64) (dom, accessibility []byte) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	timer := time.AfterFunc(b.timeout, func() {
		vm.Interrupt <- func() {
			panic(halt{})
		}
	})
	defer timer.Stop()

	result, err := b.runLocked(vm, html, url, title, stateVersion)
	if err != nil {
		return nil, nil
	}
	return result.dom, result.accessibility
}

type extractResult struct {
	dom, accessibility []byte
}

func (b *snapshotBridge) runLocked(vm *otto.Otto, html, url, title string, stateVersion uint64) (res extractResult, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			if _, ok := caught.(halt); ok {
				err = errScriptTimeout
				return
			}
			panic(caught)
		}
	}()

	bootstrap := fmt.Sprintf(`
var __pageHTML = %q;
var __pageURL = %q;
var __pageTitle = %q;
var __stateVersion = %d;
var __textLength = __pageHTML.replace(/<[^>]*>/g, "").length;
`, html, url, title, stateVersion)
	if _, err := vm.Run(bootstrap); err != nil {
		return extractResult{}, fmt.Errorf("bootstrap: %w", err)
	}

	domVal, err := vm.Run(`JSON.stringify({
		url: __pageURL,
		title: __pageTitle,
		state_version: __stateVersion,
		content_length: __textLength
	})`)
	if err != nil {
		return extractResult{}, fmt.Errorf("dom extraction: %w", err)
	}
	domJSON, err := domVal.ToString()
	if err != nil {
		return extractResult{}, fmt.Errorf("dom result: %w", err)
	}

	hasForm := false
	if hasFormVal, err := vm.Run(`/<form[\s>]/i.test(__pageHTML)`); err == nil {
		hasForm, _ = hasFormVal.ToBoolean()
	}

	a11yVal, err := vm.Run(fmt.Sprintf(`JSON.stringify({
		role: "document",
		has_form: %t
	})`, hasForm))
	if err != nil {
		return extractResult{}, fmt.Errorf("accessibility extraction: %w", err)
	}
	a11yJSON, err := a11yVal.ToString()
	if err != nil {
		return extractResult{}, fmt.Errorf("accessibility result: %w", err)
	}

	if !json.Valid([]byte(domJSON)) || !json.Valid([]byte(a11yJSON)) {
		return extractResult{}, fmt.Errorf("extraction produced invalid JSON")
	}
	return extractResult{dom: []byte(domJSON), accessibility: []byte(a11yJSON)}, nil
}

package realengine

import "browserd/internal/engine"

// command is the tagged union of operations a mailbox can carry. Exactly one
// of the op-specific fields should be set by the caller that builds it; the
// engine's handle function inspects them, one field for each of the six
// engine operations plus shutdown.
type command struct {
	reply chan<- result

	navigateURL   *string
	observeOpts   *observeArgs
	act           *actArgs
	streamEvent   *streamEventArgs
	readState     bool
	readFrameRate bool
	shutdown      bool
}

type observeArgs struct {
	includeFrame, includeDOM, includeA11y, includeHitTest bool
}

type actArgs struct {
	action any // *wire.Action, kept as any to avoid an import cycle hazard; cast at call sites.
}

type streamEventArgs struct {
	eventType int32
}

// result is what a command's one-shot reply channel carries back.
type result struct {
	value any
	err   *engine.Error
}

// mailbox is a single-worker command queue, grounded on the teacher's
// worker.WorkerPool job-channel pattern (_examples/firasghr-GoSessionEngine/
// worker/pool.go) narrowed to exactly one worker goroutine: the real engine's
// state (its driver, page handle, clipboard buffer) is never touched by more
// than one goroutine, so every public Engine method becomes "build a command,
// submit it, wait on a private reply channel."
type mailbox struct {
	queue chan command
	done  chan struct{}
}

// newMailbox creates a mailbox and starts its single worker goroutine, which
// calls handle for every submitted command until a shutdown command arrives.
func newMailbox(handle func(command)) *mailbox {
	mb := &mailbox{
		queue: make(chan command, 8),
		done:  make(chan struct{}),
	}
	go mb.run(handle)
	return mb
}

func (mb *mailbox) run(handle func(command)) {
	defer close(mb.done)
	for cmd := range mb.queue {
		handle(cmd)
		if cmd.shutdown {
			return
		}
	}
}

// submit enqueues cmd and blocks for its reply. If the worker has already
// exited (for example, shutdown raced with submit), submit returns
// unavailable rather than hanging forever.
func (mb *mailbox) submit(cmd command) (any, *engine.Error) {
	reply := make(chan result, 1)
	cmd.reply = reply

	select {
	case mb.queue <- cmd:
	case <-mb.done:
		return nil, engine.New(engine.CodeUnavailable, "engine worker is not running")
	}

	select {
	case r := <-reply:
		return r.value, r.err
	case <-mb.done:
		// The worker may have exited between accepting cmd and replying
		// (e.g. a concurrent shutdown); one last non-blocking check for a
		// reply that raced the close, else report unavailable.
		select {
		case r := <-reply:
			return r.value, r.err
		default:
			return nil, engine.New(engine.CodeUnavailable, "engine worker stopped before replying")
		}
	}
}

// stop sends a shutdown command and waits for the worker to exit. Safe to
// call more than once; once the worker has exited, done is closed and later
// calls return without sending anything.
func (mb *mailbox) stop() {
	select {
	case <-mb.done:
		return
	default:
	}
	reply := make(chan result, 1)
	select {
	case mb.queue <- command{reply: reply, shutdown: true}:
		<-mb.done
	case <-mb.done:
	}
}

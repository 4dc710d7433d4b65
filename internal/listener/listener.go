// Package listener owns the daemon's Unix stream socket: binding it (and
// unlinking any stale file left by a previous run), accepting connections,
// running one handler goroutine per connection under an errgroup, and
// unlinking the socket again on shutdown (spec.md §4.9, §5 resource
// discipline).
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"browserd/internal/logx"
)

// Handler processes one accepted connection to completion.
type Handler func(conn net.Conn)

// Listener binds a Unix stream socket and dispatches accepted connections
// to a Handler, each on its own goroutine tracked by an errgroup.
type Listener struct {
	socketPath string
	handle     Handler
	log        *logx.Logger

	ln net.Listener
	eg *errgroup.Group
}

// New returns a Listener bound to socketPath. Any existing file at
// socketPath is removed first, matching spec.md §4.9's "unlinked both at
// startup (if present) and at daemon exit" resource-discipline rule.
func New(socketPath string, handle Handler, log *logx.Logger) (*Listener, error) {
	if err := removeStaleSocket(socketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listener: bind %q: %w", socketPath, err)
	}
	return &Listener{socketPath: socketPath, handle: handle, log: log, ln: ln}, nil
}

func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("listener: remove stale socket %q: %w", path, err)
	}
	return nil
}

// Serve accepts connections until ctx is cancelled or a hard accept error
// occurs, dispatching each connection to Handler on its own goroutine. It
// blocks until every in-flight handler has returned.
func (l *Listener) Serve(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	l.eg = eg

	eg.Go(func() error {
		<-egCtx.Done()
		return l.ln.Close()
	})

	eg.Go(func() error {
		for {
			conn, err := l.ln.Accept()
			if err != nil {
				if egCtx.Err() != nil {
					return nil
				}
				return fmt.Errorf("listener: accept: %w", err)
			}
			eg.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						l.log.Errorf("listener: recovered from panic in connection handler: %v", r)
					}
				}()
				l.handle(conn)
				return nil
			})
		}
	})

	err := eg.Wait()
	if removeErr := removeStaleSocket(l.socketPath); removeErr != nil {
		l.log.Warnf("listener: %v", removeErr)
	}
	return err
}

// Addr returns the socket's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// browserd is a headless browser-automation daemon. It exposes a
// session-oriented, length-prefixed protobuf protocol over a local stream
// socket: clients create a session, navigate it, observe its page, dispatch
// synthetic actions, and optionally subscribe to a periodic event stream.
//
// Startup sequence:
//  1. Parse flags and initialise the logger.
//  2. Load configuration from environment (flags take precedence where
//     both are given).
//  3. Run security prerequisite checks; fail fast on a hard violation.
//  4. Construct the session registry, audit logger, stats counters, and
//     dispatcher.
//  5. Bind the socket and start accepting connections.
//  6. Log a periodic stats summary in the background.
//  7. Block until SIGINT/SIGTERM, then shut down: stop accepting new
//     connections, let in-flight ones drain, unlink the socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"browserd/internal/audit"
	"browserd/internal/config"
	"browserd/internal/dispatcher"
	"browserd/internal/engine"
	"browserd/internal/listener"
	"browserd/internal/logx"
	"browserd/internal/realengine"
	"browserd/internal/refengine"
	"browserd/internal/registry"
	"browserd/internal/security"
	"browserd/internal/stats"
	"browserd/internal/wire"
)

// version is the daemon's reported build version; overridden at build time
// with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("browserd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	socketFlag := fs.String("socket", "", "Path to the local stream socket (default: BROWSERD_SOCKET or "+config.DefaultSocketPath+")")
	sessionIDFlag := fs.String("session-id", "", "Default session id for connections that omit one (default: BROWSERD_SESSION_ID)")
	versionFlag := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if *versionFlag {
		fmt.Fprintf(stdout, "browserd %s\n", version)
		return 0
	}

	log := logx.New(logx.LevelInfo)
	log.Info("browserd starting up")

	cfg := config.FromEnv(os.LookupEnv, log)
	if *socketFlag != "" {
		cfg.SocketPath = *socketFlag
	}
	if *sessionIDFlag != "" {
		cfg.DefaultSessionID = *sessionIDFlag
	}

	if err := security.Check(cfg.Security, log, security.Geteuid); err != nil {
		log.Errorf("security: %v", err)
		return 1
	}

	reg := registry.New()
	auditLogger := audit.New(cfg.AuditLogDir, log)
	st := stats.New()
	d := dispatcher.New(reg, auditLogger, st, log, cfg.DefaultSessionID)
	d.NewEngine = engineFactory(cfg.EngineKind, log)

	l, err := listener.New(cfg.SocketPath, d.HandleConnection, log)
	if err != nil {
		log.Errorf("listener: %v", err)
		return 1
	}
	log.Infof("listening on %s (engine=%s)", cfg.SocketPath, cfg.EngineKind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- l.Serve(ctx) }()

	stopMonitor := make(chan struct{})
	go monitorStats(st, reg, log, stopMonitor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Fprintln(stdout)
		log.Infof("received signal %s; shutting down", sig)
	case err := <-serveErrCh:
		close(stopMonitor)
		if err != nil {
			log.Errorf("listener: serve: %v", err)
			return 1
		}
		return 0
	}

	cancel()
	close(stopMonitor)
	if err := <-serveErrCh; err != nil {
		log.Errorf("listener: serve: %v", err)
		return 1
	}
	reg.CloseAll()

	sessions, requests, ticks := st.Snapshot()
	log.Infof("final stats - sessions: %d requests: %d stream_ticks: %d rps: %.1f",
		sessions, requests, ticks, st.RequestsPerSecond())
	log.Info("browserd shut down cleanly")
	return 0
}

// engineFactory returns the EngineFactory matching kind. Unknown values and
// "reference" both fall back to the deterministic engine; "real" launches a
// go-rod-backed headless Chrome instance per session, logging and falling
// back to the reference engine if that fails.
func engineFactory(kind string, log *logx.Logger) dispatcher.EngineFactory {
	if kind != "real" {
		return func(cfg *wire.SessionConfig) engine.Engine { return refengine.New(cfg) }
	}
	return func(cfg *wire.SessionConfig) engine.Engine {
		eng, err := realengine.NewWithRod(cfg, "", realengine.Options{})
		if err != nil {
			log.Errorf("realengine: falling back to reference engine: %v", err)
			return refengine.New(cfg)
		}
		return eng
	}
}

// monitorStats logs a stats summary every 10 seconds until stop is closed.
func monitorStats(st *stats.Stats, reg *registry.Registry, log *logx.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sessions, requests, ticks := st.Snapshot()
			log.Infof("stats - sessions: %d (live %d) requests: %d stream_ticks: %d rps: %.1f",
				sessions, reg.Count(), requests, ticks, st.RequestsPerSecond())
		}
	}
}

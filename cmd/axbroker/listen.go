package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"runtime"

	"github.com/embermqtt/ember/broker"
	"github.com/embermqtt/ember/endpoint"
	"github.com/embermqtt/ember/network"
)

// listen accepts connections on ln forever, handing each one to
// brk.Serve. acceptLoops goroutines call Accept concurrently — net.Listener
// is documented safe for that, and it is this command's stand-in for the
// original broker's per-io_context accept loop (the `iocs` flag).
func listen(ctx context.Context, ln net.Listener, brk *broker.Broker, logger *slog.Logger, label string, acceptLoops int) {
	if acceptLoops <= 0 {
		acceptLoops = runtime.GOMAXPROCS(0)
	}
	for i := 0; i < acceptLoops; i++ {
		go acceptLoop(ctx, ln, brk, logger, label)
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, brk *broker.Broker, logger *slog.Logger, label string) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Warn("axbroker: accept failed", "listener", label, "err", err)
			return
		}
		go func() {
			if err := brk.Serve(ctx, endpoint.NewNetStream(conn)); err != nil {
				logger.Debug("axbroker: connection ended", "listener", label, "err", err)
			}
		}()
	}
}

// buildTLSConfig loads certificate/private_key, and verify_file as a client-
// CA bundle, per §6's `certificate`/`private_key`/`verify_file` flags.
func buildTLSConfig() (*tls.Config, error) {
	cfg := &network.TLSConfig{
		CertFile: certificate,
		KeyFile:  privateKey,
		CAFile:   verifyFile,
	}
	return cfg.Build()
}

// applyCoreMapping logs the `fixed_core_map`/`threads_per_ioc` knobs the
// original C++ broker used to pin io_context worker threads to specific
// CPU cores. Go's scheduler has no portable equivalent without cgo, so this
// is accepted for config compatibility and otherwise a no-op; threads_per_
// ioc instead scales GOMAXPROCS as the closest available lever.
func applyCoreMapping(logger *slog.Logger) {
	if fixedCoreMap {
		logger.Warn("axbroker: fixed_core_map has no effect; Go's scheduler does not support CPU pinning without cgo")
	}
	if iocs > 0 && threadsPerIOC > 1 {
		runtime.GOMAXPROCS(iocs * threadsPerIOC)
	}
}

func unsupportedWebSocket(logger *slog.Logger, label string, port int) error {
	if port == 0 {
		return nil
	}
	return fmt.Errorf("axbroker: %s configured on port %d but this build has no WebSocket framing dependency wired in", label, port)
}

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embermqtt/ember/broker"
	"github.com/embermqtt/ember/hook"
)

func runBroker(ctx context.Context) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger := newLogger()
	applyCoreMapping(logger)

	if err := unsupportedWebSocket(logger, "ws.port", wsPort); err != nil {
		return err
	}
	if err := unsupportedWebSocket(logger, "wss.port", wssPort); err != nil {
		return err
	}

	hooks, err := buildHooks(logger)
	if err != nil {
		return err
	}

	brk := broker.New(broker.Config{
		Hooks:  hooks,
		Logger: logger,
		Capabilities: hook.Capabilities{
			ReceiveMaximum:       65535,
			MaximumQoS:           2,
			RetainAvailable:      true,
			WildcardSubAvailable: true,
			SharedSubAvailable:   true,
		},
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listeners, err := openListeners(logger)
	if err != nil {
		return err
	}
	if len(listeners) == 0 {
		return fmt.Errorf("axbroker: no listener configured (tcp.port and tls.port are both 0)")
	}

	for label, ln := range listeners {
		logger.Info("axbroker: listening", "listener", label, "addr", ln.Addr())
		listen(ctx, ln, brk, logger, label, iocs)
	}

	<-ctx.Done()
	logger.Info("axbroker: shutting down")

	for _, ln := range listeners {
		_ = ln.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := brk.Shutdown(shutdownCtx); err != nil {
		logger.Warn("axbroker: shutdown did not complete cleanly", "err", err)
		return err
	}
	return nil
}

// openListeners binds the tcp.port and tls.port listeners named by the
// current flag values; either may be disabled by setting its port to 0.
func openListeners(logger *slog.Logger) (map[string]net.Listener, error) {
	listeners := make(map[string]net.Listener, 2)

	if tcpPort > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", tcpPort))
		if err != nil {
			return nil, fmt.Errorf("axbroker: tcp.port %d: %w", tcpPort, err)
		}
		listeners["tcp"] = ln
	}

	if tlsPort > 0 {
		tlsCfg, err := buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("axbroker: tls.port: %w", err)
		}
		ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", tlsPort), tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("axbroker: tls.port %d: %w", tlsPort, err)
		}
		listeners["tls"] = ln
	}

	return listeners, nil
}

// buildHooks assembles the hook chain: an ACLHook loaded from auth_file if
// given, otherwise nothing (an empty Manager allow-alls per hook.Manager's
// "no hook provides this event" default — a permissive dev-mode broker).
func buildHooks(logger *slog.Logger) (*hook.Manager, error) {
	m := hook.NewManager()
	if authFile == "" {
		logger.Warn("axbroker: no auth_file configured; accepting all connections and all publish/subscribe operations")
		return m, nil
	}

	raw, err := os.ReadFile(authFile)
	if err != nil {
		return nil, fmt.Errorf("axbroker: auth_file: %w", err)
	}
	acl := broker.NewACLHook()
	if err := acl.Load(raw); err != nil {
		return nil, fmt.Errorf("axbroker: auth_file: %w", err)
	}
	if err := m.Add(acl); err != nil {
		return nil, fmt.Errorf("axbroker: registering acl hook: %w", err)
	}
	return m, nil
}

// Package serverutil runs an http.Server with graceful shutdown tied to a
// context, optionally terminating TLS.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Options controls how Run hosts the server.
type Options struct {
	Server *http.Server

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// ShutdownTimeout bounds graceful shutdown once the context is
	// cancelled. Zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Ready is closed once the listener is accepting connections.
	Ready chan<- struct{}
}

const DefaultShutdownTimeout = 10 * time.Second

// Run listens on the server's address and serves until the context is
// cancelled, then drains in-flight requests within ShutdownTimeout. It
// returns nil on a clean shutdown.
func Run(ctx context.Context, opts Options) error {
	if opts.Server == nil {
		return fmt.Errorf("server is required")
	}
	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return fmt.Errorf("both TLS cert file and key file must be provided")
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ln, err := net.Listen("tcp", opts.Server.Addr)
	if err != nil {
		return err
	}

	if opts.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		tlsCfg := opts.Server.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		} else {
			tlsCfg = tlsCfg.Clone()
		}
		tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
		opts.Server.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	if opts.Ready != nil {
		close(opts.Ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- opts.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := opts.Server.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}

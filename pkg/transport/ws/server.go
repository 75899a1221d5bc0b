package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"nodeshell/pkg/log"
	"nodeshell/pkg/semaphore"
)

// MaxConcurrent is the number of requests served at the same time.
// Further requests receive HTTP 503.
const MaxConcurrent = 100

// Listen binds a TCP listener on addr.
func Listen(addr string) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", addr, err)
	}

	nl, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("net.ListenTCP(tcp, %s): %w", tcpAddr.String(), err)
	}
	return nl, nil
}

// Serve runs an HTTP server on nl until ctx is cancelled or the server fails.
// The listener is closed when Serve returns.
func Serve(ctx context.Context, nl net.Listener, handler http.Handler, logger *log.Logger) error {
	return serve(ctx, nl, handler, logger, semaphore.New(MaxConcurrent, 0))
}

func serve(ctx context.Context, nl net.Listener, handler http.Handler, logger *log.Logger, sem *semaphore.Slots) error {
	defer nl.Close()

	server := createHTTPServer(ctx, limit(handler, sem, logger))

	logger.VerboseMsg("Serving HTTP on %s\n", nl.Addr())
	return serveWithContext(ctx, server, nl)
}

// ListenAndServe combines Listen and Serve.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	nl, err := Listen(addr)
	if err != nil {
		return err
	}
	return Serve(ctx, nl, handler, logger)
}

func createHTTPServer(ctx context.Context, handler http.Handler) *http.Server {
	return &http.Server{
		Handler: handler,

		// sockets are long lived, only the header phase is bounded
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,

		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

// limit rejects requests with 503 once all slots are busy and keeps
// handler panics from taking the server down.
func limit(handler http.Handler, sem *semaphore.Slots, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sem.TryAcquire() {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		defer sem.Release()

		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorMsg("Handler panic on %s: %v\n", r.URL.Path, rec)
			}
		}()

		handler.ServeHTTP(w, r)
	}
}

func serveWithContext(ctx context.Context, server *http.Server, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		// hijacked websockets are not tracked by Shutdown, their handlers
		// observe ctx through BaseContext
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = server.Close()

		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving after cancellation: %w", err)

	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http.Server.Serve(): %w", err)
	}
}

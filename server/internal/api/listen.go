package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"pkt.systems/pslog"
)

const shutdownTimeout = 5 * time.Second

// Timeouts 对应 http.Server 的读写超时；WebSocket 在升级后会清除它们。
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

// Serve 在 ln 上提供 handler，ctx 取消时优雅关闭。
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, timeouts Timeouts) error {
	logger := pslog.Ctx(ctx)
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  timeouts.Read,
		WriteTimeout: timeouts.Write,
		ErrorLog:     pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

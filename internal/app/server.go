package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/pkg/health"
)

// serve runs srv until ctx is cancelled. On cancellation the instance first
// reports not ready, waits g.ReadinessDelay for load balancers to notice,
// and then drains in-flight requests for at most g.ShutdownTimeout.
func serve(ctx context.Context, lg *zap.Logger, srv *http.Server, hs *health.Health, g GracefulConfig) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()

		hs.SetReady(false)
		lg.Info("Not ready, waiting before shutdown", zap.Duration("delay", g.ReadinessDelay))
		time.Sleep(g.ReadinessDelay)

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.ShutdownTimeout)
		defer cancel()
		lg.Info("Draining connections", zap.Duration("timeout", g.ShutdownTimeout))
		if err := srv.Shutdown(sctx); err != nil {
			lg.Error("Drain incomplete", zap.Error(err))
		}
		hs.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	<-drained
	lg.Info("Server stopped")
	return nil
}

package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. Open positions stay in the
// store; the reconciler resumes them on the next start.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down",
		zap.Int("open-positions", a.ledger.OpenCount()))

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	err = a.feed.Close()
	if err != nil {
		a.logger.Error("market-feed-close-error", zap.Error(err))
	}

	// Drain the gateway's feed consumer before closing the store under it.
	a.gateway.Wait()

	err = a.store.Close()
	if err != nil {
		a.logger.Error("store-close-error", zap.Error(err))
	}

	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}

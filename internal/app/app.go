package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/admission"
	"github.com/betcore/sprintbet/internal/execution"
	"github.com/betcore/sprintbet/internal/gateway"
	"github.com/betcore/sprintbet/internal/ledger"
	"github.com/betcore/sprintbet/internal/oracle"
	"github.com/betcore/sprintbet/internal/router"
	"github.com/betcore/sprintbet/internal/settlement"
	"github.com/betcore/sprintbet/internal/storage"
	"github.com/betcore/sprintbet/pkg/config"
	"github.com/betcore/sprintbet/pkg/healthprobe"
	"github.com/betcore/sprintbet/pkg/httpserver"
	"github.com/betcore/sprintbet/pkg/wallet"
	"github.com/betcore/sprintbet/pkg/websocket"
)

// App owns the full component graph and its lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	feed          *websocket.Client
	gateway       *gateway.Gateway
	store         storage.Store
	ledger        *ledger.Ledger
	gate          *admission.Gate
	orders        *execution.Client
	chain         *oracle.Client
	router        *router.Router
	reconciler    *settlement.Reconciler
	tracker       *wallet.Tracker
	engine        *Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Engine exposes the signal pipeline for callers that drive the app
// programmatically rather than over HTTP.
func (a *App) Engine() *Engine {
	return a.engine
}

// Ledger exposes the position book for read-only inspection.
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}

package httpserver

import (
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/types"
)

// PositionsHandler serves read-only views over the position book.
type PositionsHandler struct {
	book   PositionBook
	logger *zap.Logger
}

// NewPositionsHandler creates a new positions handler.
func NewPositionsHandler(book PositionBook, logger *zap.Logger) *PositionsHandler {
	return &PositionsHandler{
		book:   book,
		logger: logger,
	}
}

// PositionsResponse lists the open positions awaiting settlement.
type PositionsResponse struct {
	Count     int                   `json:"count"`
	Positions []*types.PendingTrade `json:"positions"`
}

// BankrollResponse reports the bankroll accounting snapshot.
type BankrollResponse struct {
	BankrollUSD  float64 `json:"bankroll_usd"`
	ReservedUSD  float64 `json:"reserved_usd"`
	AvailableUSD float64 `json:"available_usd"`
	OpenCount    int     `json:"open_count"`
}

// HandlePositions handles GET /api/positions requests.
func (h *PositionsHandler) HandlePositions(w http.ResponseWriter, _ *http.Request) {
	trades := h.book.PendingTrades()
	h.writeJSON(w, http.StatusOK, PositionsResponse{
		Count:     len(trades),
		Positions: trades,
	})
}

// HandleBankroll handles GET /api/bankroll requests.
func (h *PositionsHandler) HandleBankroll(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, BankrollResponse{
		BankrollUSD:  h.book.Bankroll(),
		ReservedUSD:  h.book.Reserved(),
		AvailableUSD: h.book.Available(),
		OpenCount:    h.book.OpenCount(),
	})
}

func (h *PositionsHandler) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

package httpserver

import (
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/pkg/types"
)

// SignalHandler ingests scorer signals over HTTP. The request blocks until
// routing completes, so the caller learns the fill outcome synchronously.
type SignalHandler struct {
	engine SignalSubmitter
	logger *zap.Logger
}

// NewSignalHandler creates a new signal handler.
func NewSignalHandler(engine SignalSubmitter, logger *zap.Logger) *SignalHandler {
	return &SignalHandler{
		engine: engine,
		logger: logger,
	}
}

// SignalResponse is the outcome of one submitted signal.
type SignalResponse struct {
	Status    string  `json:"status"` // filled, no_fill, rejected
	Reason    string  `json:"reason,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
	FillPrice float64 `json:"fill_price,omitempty"`
	FilledUSD float64 `json:"filled_usd,omitempty"`
	Mode      string  `json:"mode,omitempty"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleSignal handles POST /api/signal requests.
func (h *SignalHandler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	var sig types.Signal
	err := json.NewDecoder(r.Body).Decode(&sig)
	if err != nil {
		h.writeError(w, "invalid signal body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err = sig.Validate()
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Debug("signal-received",
		zap.String("condition-id", sig.ConditionID),
		zap.String("side", string(sig.Side)),
		zap.Int("score", sig.Score))

	result, reason, err := h.engine.Submit(r.Context(), &sig)
	if err != nil {
		h.logger.Error("signal-submit-failed",
			zap.String("condition-id", sig.ConditionID),
			zap.Error(err))
		h.writeError(w, "execution failed", http.StatusBadGateway)
		return
	}

	switch {
	case reason != "":
		h.writeJSON(w, http.StatusConflict, SignalResponse{
			Status: "rejected",
			Reason: reason,
		})
	case result == nil:
		h.writeJSON(w, http.StatusOK, SignalResponse{Status: "no_fill"})
	default:
		h.writeJSON(w, http.StatusOK, SignalResponse{
			Status:    "filled",
			OrderID:   result.OrderID,
			FillPrice: result.FillPrice,
			FilledUSD: result.FilledUSD,
			Mode:      string(result.Mode),
		})
	}
}

func (h *SignalHandler) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

func (h *SignalHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}

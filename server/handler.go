package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Hdd5ps/sheet-to-sound/config"
	"github.com/Hdd5ps/sheet-to-sound/core/library"
	"github.com/Hdd5ps/sheet-to-sound/logger"
	"github.com/Hdd5ps/sheet-to-sound/repository"
)

// APIHandler handles all API requests.
type APIHandler struct {
	engine   *library.Engine
	userRepo repository.UserRepository
	cfg      *config.Config
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(engine *library.Engine, userRepo repository.UserRepository, cfg *config.Config) *APIHandler {
	return &APIHandler{
		engine:   engine,
		userRepo: userRepo,
		cfg:      cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}

// writeEngineError maps engine errors onto HTTP statuses. Validation
// failures carry their message; store failures are logged with context and
// surfaced as a generic internal error so no internals leak.
func writeEngineError(w http.ResponseWriter, op string, err error) {
	var vErr *library.ValidationError
	if errors.As(err, &vErr) {
		http.Error(w, vErr.Message, http.StatusBadRequest)
		return
	}
	if errors.Is(err, library.ErrNotFound) {
		http.Error(w, "Score or conversion not found", http.StatusNotFound)
		return
	}

	logger.Error("internal error", logger.String("op", op), logger.ErrorField(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

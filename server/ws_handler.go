package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/Hdd5ps/sheet-to-sound/core/library"
	"github.com/Hdd5ps/sheet-to-sound/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConversionSocketHandler pushes conversion status updates over a
// websocket and closes once the conversion reaches a terminal state. The
// record is re-read on an interval; there is no upper bound on job time,
// so the socket stays open as long as the client does.
func (h *APIHandler) ConversionSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversionID := mux.Vars(r)["conversion_id"]

	// Ownership check before the upgrade so a forbidden id gets a plain 404.
	conv, err := h.engine.GetConversion(r.Context(), userID, conversionID)
	if err != nil {
		writeEngineError(w, "subscribe conversion", err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(conv); err != nil {
		return
	}
	if conv.Terminal() {
		return
	}

	lastStatus := conv.Status
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		conv, err := h.engine.GetConversion(r.Context(), userID, conversionID)
		if err != nil {
			if errors.Is(err, library.ErrNotFound) {
				// Deleted out from under the subscriber.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "conversion deleted"),
					time.Now().Add(time.Second))
				return
			}
			logger.Error("failed to read conversion for subscriber",
				logger.String("conversionId", conversionID),
				logger.ErrorField(err))
			return
		}

		if conv.Status == lastStatus {
			continue
		}
		lastStatus = conv.Status

		if err := conn.WriteJSON(conv); err != nil {
			return
		}
		if conv.Terminal() {
			return
		}
	}
}

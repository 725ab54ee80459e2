package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Hdd5ps/sheet-to-sound/core/library"
	"github.com/Hdd5ps/sheet-to-sound/logger"
	"github.com/Hdd5ps/sheet-to-sound/model"

	"github.com/gorilla/mux"
)

// UploadScoreHandler handles sheet-music uploads.
func (h *APIHandler) UploadScoreHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if r.ContentLength > h.cfg.MaxUploadSize {
		http.Error(w, fmt.Sprintf("Request too large. Maximum size is %d MB", h.cfg.MaxUploadSize>>20), http.StatusRequestEntityTooLarge)
		return
	}

	if err := r.ParseMultipartForm(h.cfg.MaxUploadSize); err != nil {
		logger.Error("failed to parse upload form", logger.ErrorField(err))
		http.Error(w, "Failed to parse upload form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if err == http.ErrMissingFile {
			http.Error(w, "Missing score file. Please select a file to upload.", http.StatusBadRequest)
		} else {
			http.Error(w, "Failed to process uploaded file", http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	score, err := h.engine.Upload(r.Context(), library.UploadInput{
		UserID:      userID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeEngineError(w, "upload score", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"scoreId":  score.ID,
		"url":      score.URL,
		"metadata": score,
	})
}

// ConvertRequest represents the conversion request body.
type ConvertRequest struct {
	Instruments []string          `json:"instruments"`
	SATBConfig  *model.SATBConfig `json:"satbConfig"`
	Tempo       int               `json:"tempo"`
}

// ConvertScoreHandler starts a synthesis job against a score.
func (h *APIHandler) ConvertScoreHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	scoreID := mux.Vars(r)["score_id"]

	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.engine.Convert(r.Context(), library.ConvertInput{
		UserID:      userID,
		ScoreID:     scoreID,
		Instruments: req.Instruments,
		SATBConfig:  req.SATBConfig,
		Tempo:       req.Tempo,
	})
	if err != nil {
		writeEngineError(w, "convert score", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"conversionId": conv.ID,
		"status":       conv.Status,
	})
}

// GetConversionHandler returns the full conversion record.
func (h *APIHandler) GetConversionHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversionID := mux.Vars(r)["conversion_id"]

	conv, err := h.engine.GetConversion(r.Context(), userID, conversionID)
	if err != nil {
		writeEngineError(w, "get conversion", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// LibraryHandler lists the user's scores with their conversions attached.
func (h *APIHandler) LibraryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	scores, err := h.engine.ListLibrary(r.Context(), userID)
	if err != nil {
		writeEngineError(w, "list library", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"library": scores,
	})
}

// DeleteScoreHandler removes a score and all of its conversions.
func (h *APIHandler) DeleteScoreHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	scoreID := mux.Vars(r)["score_id"]

	if err := h.engine.DeleteScore(r.Context(), userID, scoreID); err != nil {
		writeEngineError(w, "delete score", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Score and its conversions deleted",
	})
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Podly27/CB-soutez-4RO/internal/utils"
	"github.com/Podly27/CB-soutez-4RO/pkg/cbshare"
	"github.com/Podly27/CB-soutez-4RO/pkg/diary"
	"github.com/Podly27/CB-soutez-4RO/pkg/storage"
)

const maxRequestBody = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read the request.")
		return
	}

	shareURL := strings.TrimSpace(gjson.GetBytes(body, "url").String())
	if shareURL == "" {
		writeError(w, http.StatusBadRequest, "A diary URL is required.")
		return
	}

	if !s.hostAllowed(shareURL) {
		writeError(w, http.StatusUnprocessableEntity, "Unknown diary source.")
		return
	}

	result, err := s.Resolver.Resolve(r.Context(), shareURL)
	if err != nil {
		var importErr *cbshare.ImportError
		if errors.As(err, &importErr) {
			utils.Log.WithField("kind", importErr.Kind).Warn("diary import rejected")
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"ok":      false,
				"kind":    string(importErr.Kind),
				"message": userMessage(importErr.Kind),
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "The diary could not be imported.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read the request.")
		return
	}

	rec := diary.Record{
		Contest:    strings.TrimSpace(gjson.GetBytes(body, "contest").String()),
		Category:   strings.TrimSpace(gjson.GetBytes(body, "category").String()),
		DiaryURL:   strings.TrimSpace(gjson.GetBytes(body, "diary_url").String()),
		CallSign:   strings.TrimSpace(gjson.GetBytes(body, "call_sign").String()),
		QTHName:    strings.TrimSpace(gjson.GetBytes(body, "qth_name").String()),
		QTHLocator: cbshare.NormalizeLocator(gjson.GetBytes(body, "qth_locator").String()),
		QSOCount:   int(gjson.GetBytes(body, "qso_count").Int()),
		Email:      strings.TrimSpace(gjson.GetBytes(body, "email").String()),
	}

	switch {
	case rec.Contest == "" || rec.Category == "":
		writeError(w, http.StatusUnprocessableEntity, "Contest and category are required.")
		return
	case rec.CallSign == "" || rec.QTHName == "":
		writeError(w, http.StatusUnprocessableEntity, "Call sign and QTH name are required.")
		return
	case !diary.ValidLocator(rec.QTHLocator):
		writeError(w, http.StatusUnprocessableEntity, "The station locator is not valid.")
		return
	case rec.QSOCount <= 0:
		writeError(w, http.StatusUnprocessableEntity, "The contact count must be a positive number.")
		return
	case rec.Email == "" || !strings.Contains(rec.Email, "@"):
		writeError(w, http.StatusUnprocessableEntity, "A valid e-mail address is required.")
		return
	}

	if rec.DiaryURL != "" {
		exists, err := s.DB.DiaryURLExists(r.Context(), rec.DiaryURL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "The submission could not be saved.")
			return
		}
		if exists {
			writeError(w, http.StatusUnprocessableEntity, "A diary with this URL was already submitted.")
			return
		}
	}

	lon, lat, err := diary.LocatorToGPS(rec.QTHLocator)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "The station locator is not valid.")
		return
	}

	id, err := s.DB.InsertDiary(r.Context(), storage.Diary{
		Contest:    rec.Contest,
		Category:   rec.Category,
		DiaryURL:   rec.DiaryURL,
		CallSign:   rec.CallSign,
		QTHName:    rec.QTHName,
		QTHLocator: rec.QTHLocator,
		QTHLon:     lon,
		QTHLat:     lat,
		QSOCount:   rec.QSOCount,
		Email:      rec.Email,
		AuditJSON:  gjson.GetBytes(body, "audit").Raw,
	})
	if err != nil {
		utils.Log.Warn("failed to save submission: ", err)
		writeError(w, http.StatusInternalServerError, "The submission could not be saved.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	diaries, err := s.DB.ListDiaries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not list submissions.")
		return
	}
	if diaries == nil {
		diaries = []storage.Diary{}
	}
	writeJSON(w, http.StatusOK, diaries)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "message": message})
}

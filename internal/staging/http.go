package staging

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/lakestage/pkg/catalogstore"
)

// HTTPHandler exposes the admin API: health, catalog record lookups, and
// profile administration for the registry store.
type HTTPHandler struct {
	recorder *Recorder
	profiles ProfileStore
	logger   *zap.Logger
	router   chi.Router
}

// NewHTTPHandler constructs the handler and wires routes.
func NewHTTPHandler(recorder *Recorder, profiles ProfileStore, logger *zap.Logger) *HTTPHandler {
	h := &HTTPHandler{
		recorder: recorder,
		profiles: profiles,
		logger:   logger,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/records/{id}", h.handleGetRecord)
		r.Get("/records", h.handleListRecords)
		r.Get("/profiles", h.handleListProfiles)
		r.Get("/profiles/{id}", h.handleGetProfile)
		r.Put("/profiles/{id}", h.handlePutProfile)
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.recorder.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalogstore.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		h.logger.Error("get record", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *HTTPHandler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	outcome := Outcome(r.URL.Query().Get("outcome"))
	switch outcome {
	case "", OutcomeSuccess, OutcomeFailed:
	default:
		writeError(w, http.StatusBadRequest, "outcome must be SUCCESS or FAILED")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.recorder.List(r.Context(), outcome, limit)
	if err != nil {
		h.logger.Error("list records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (h *HTTPHandler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.ListProfiles(r.Context())
	if err != nil {
		h.logger.Error("list profiles", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

func (h *HTTPHandler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	profile, err := h.profiles.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Error("get profile", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *HTTPHandler) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var profile DataSourceProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile document")
		return
	}
	if profile.ID == "" {
		profile.ID = id
	}
	if profile.ID != id {
		writeError(w, http.StatusBadRequest, "profile id does not match URL")
		return
	}
	if err := profile.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.profiles.PutProfile(r.Context(), &profile); err != nil {
		h.logger.Error("put profile", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store failed")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

// Package httpapi exposes the compensation engine as a REST API.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	apperrors "github.com/TriMatrix-Network/matrix_layer/internal/errors"

	app "github.com/TriMatrix-Network/matrix_layer/internal/app"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/metrics"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns a router exposing the engine REST API.
func NewHandler(application *app.Application, audit *auditLog) http.Handler {
	h := &handler{app: application, audit: audit}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/members", h.createMember).Methods(http.MethodPost)
	r.HandleFunc("/members", h.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}", h.getMember).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/join", h.join).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}/upgrade", h.upgrade).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}/upgrade/evaluate", h.evaluateUpgrade).Methods(http.MethodPost)
	r.HandleFunc("/members/{id}/trees", h.trees).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/recycles", h.recycles).Methods(http.MethodGet)
	r.HandleFunc("/members/{id}/commissions", h.commissions).Methods(http.MethodGet)

	if audit != nil {
		r.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createMember(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string `json:"display_name"`
		Referrer    string `json:"referrer"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	m, err := h.app.Members.Register(r.Context(), payload.DisplayName, payload.Referrer)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *handler) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.app.Members.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *handler) getMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Members.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) join(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ReferrerID  string  `json:"referrer_id"`
		Amount      float64 `json:"amount"`
		TxReference string  `json:"tx_reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Placement.Join(r.Context(), mux.Vars(r)["id"], payload.ReferrerID, payload.TxReference, payload.Amount)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) upgrade(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FromSlot    int     `json:"from_slot"`
		ToSlot      int     `json:"to_slot"`
		Amount      float64 `json:"amount"`
		TxReference string  `json:"tx_reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Upgrade.Upgrade(r.Context(), mux.Vars(r)["id"], payload.FromSlot, payload.ToSlot, payload.Amount, payload.TxReference)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) evaluateUpgrade(w http.ResponseWriter, r *http.Request) {
	eval, err := h.app.Upgrade.Evaluate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (h *handler) trees(w http.ResponseWriter, r *http.Request) {
	trees, err := h.app.Placement.Trees(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trees)
}

func (h *handler) recycles(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r, 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snaps, err := h.app.Recycle.History(r.Context(), mux.Vars(r)["id"], slot)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (h *handler) commissions(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Commissions.ListByPayee(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func slotParam(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("slot"))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// writeTaxonomyError maps engine error kinds onto HTTP statuses.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindState, apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindDownstream:
		status = http.StatusBadGateway
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

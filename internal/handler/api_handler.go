// internal/handler/api_handler.go
package handler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prospectgrid/prospectgrid-backend/internal/apperrors"
	"github.com/prospectgrid/prospectgrid-backend/internal/model"
	"github.com/prospectgrid/prospectgrid-backend/internal/payment"
	"github.com/prospectgrid/prospectgrid-backend/internal/pricing"
	"github.com/prospectgrid/prospectgrid-backend/internal/service"
)

// APIHandler holds the dependencies for the campaign HTTP surface.
type APIHandler struct {
	Service  *service.CampaignService
	Payments payment.Provider
	Log      *slog.Logger
}

// Routes mounts every endpoint on a chi router.
func (h *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Post("/api/upload", h.UploadCSV)
	r.Get("/api/estimate/{session_id}", h.Estimate)
	r.Post("/api/create-checkout-session", h.CreateCheckoutSession)
	r.Post("/api/verify-payment/{payment_reference}", h.VerifyPayment)
	r.Post("/api/webhook", h.Webhook)
	r.Get("/api/status/{campaign_id}", h.GetStatus)
	r.Get("/api/results/{campaign_id}", h.GetResults)
	r.Get("/api/property/{campaign_id}/{index}", h.GetProperty)

	return r
}

func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// UploadCSV validates an address CSV and opens an upload session.
// Requires a street column; city/state/zip are optional.
func (h *APIHandler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "file must be a CSV")
		return
	}

	addrs, rowErrors, err := parseAddressCSV(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(addrs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "no valid addresses found",
			"details": rowErrors,
		})
		return
	}

	sess, err := h.Service.CreateUploadSession(addrs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"session_id":    sess.ID,
		"address_count": len(sess.Addresses),
	}
	if len(rowErrors) > 0 {
		resp["errors"] = rowErrors
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseAddressCSV(r io.Reader) ([]model.RawAddress, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid CSV: %v", err)
	}
	col := map[string]int{}
	for i, hdr := range headers {
		col[strings.ToLower(strings.TrimSpace(hdr))] = i
	}
	streetIdx, ok := col["street"]
	if !ok {
		return nil, nil, fmt.Errorf("missing 'street' column")
	}

	var addrs []model.RawAddress
	var rowErrors []string
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("Row %d: %v", row, err))
			continue
		}
		get := func(name string) string {
			idx, ok := col[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		street := get("street")
		if streetIdx >= len(record) || street == "" {
			rowErrors = append(rowErrors, fmt.Sprintf("Row %d: missing street value", row))
			continue
		}
		addrs = append(addrs, model.RawAddress{
			Street: street,
			City:   get("city"),
			State:  get("state"),
			Zip:    get("zip"),
		})
	}
	return addrs, rowErrors, nil
}

// Estimate prices all four tiers for a session.
func (h *APIHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	sess, err := h.Service.SessionRepo.GetByID(sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if sess == nil || sess.Expired(time.Now()) {
		writeError(w, http.StatusNotFound, "session not found or expired")
		return
	}

	quotes := pricing.AllQuotes(len(sess.Addresses))
	costs := map[string]pricing.TierQuote{}
	for level, q := range quotes {
		costs[string(level)] = q
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address_count": len(sess.Addresses),
		"costs":         costs,
	})
}

// CreateCheckoutSession opens a hosted payment page for a session+tier.
func (h *APIHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID    string `json:"session_id"`
		ServiceLevel string `json:"service_level"`
		Email        string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	level := model.ServiceLevel(payload.ServiceLevel)
	if payload.SessionID == "" || !level.Valid() {
		writeError(w, http.StatusBadRequest, "missing or invalid fields")
		return
	}

	sess, err := h.Service.SessionRepo.GetByID(payload.SessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if sess == nil || sess.Expired(time.Now()) {
		writeError(w, http.StatusNotFound, "session not found or expired")
		return
	}

	quote := pricing.Quote(level, len(sess.Addresses))
	description := fmt.Sprintf("ProspectGrid - %s (%d properties)",
		strings.ReplaceAll(string(level), "_", " "), len(sess.Addresses))

	checkout, err := h.Payments.CreateSession(r.Context(),
		pricing.AmountCents(quote), description, payload.Email,
		map[string]string{
			"upload_session_id": payload.SessionID,
			"service_level":     string(level),
			"address_count":     strconv.Itoa(len(sess.Addresses)),
		})
	if err != nil {
		h.Log.Error("checkout session creation failed", "error", err)
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checkout_url": checkout.URL,
		"session_id":   checkout.ID,
	})
}

// VerifyPayment is the synchronous path to campaign creation, called by
// the client after checkout redirects back.
func (h *APIHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "payment_reference")
	campaign, err := h.Service.CreateFromPayment(r.Context(), ref)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
	})
}

// Webhook is the asynchronous path: payment events delivered at least
// once, possibly duplicated. Signature verification happens upstream.
func (h *APIHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if event.Type != "checkout.session.completed" || event.Data.Object.ID == "" {
		// Not ours; acknowledge so the provider stops redelivering.
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	campaign, err := h.Service.CreateFromPayment(r.Context(), event.Data.Object.ID)
	if err != nil {
		// 5xx makes the provider redeliver; creation is idempotent so
		// that is always safe.
		h.Log.Error("webhook campaign creation failed",
			"payment_reference", event.Data.Object.ID, "error", err)
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received":    true,
		"campaign_id": campaign.ID,
	})
}

func (h *APIHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Service.GetStatus(chi.URLParam(r, "campaign_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *APIHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Service.GetResults(chi.URLParam(r, "campaign_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *APIHandler) GetProperty(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid property index")
		return
	}
	prop, err := h.Service.GetProperty(chi.URLParam(r, "campaign_id"), index)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrMaintenanceMode):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, apperrors.ErrPaymentNotCompleted):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrSessionNotFound),
		errors.Is(err, apperrors.ErrCampaignNotFound),
		errors.Is(err, apperrors.ErrPropertyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrSessionExpired):
		writeError(w, http.StatusGone, err.Error())
	default:
		h.Log.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package httpapi exposes the loyalty platform over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/tableside/platform/internal/app"
	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/metrics"
	loyaltysvc "github.com/tableside/platform/internal/app/services/loyalty"
	"github.com/tableside/platform/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/customers/", h.customerResources)
	mux.HandleFunc("/orders/", h.orderResources)
	mux.HandleFunc("/rules", h.rules)
	mux.HandleFunc("/rules/", h.ruleResources)
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// customerResources dispatches /customers/{id}/loyalty/{balance|transactions|redeem}.
func (h *handler) customerResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/customers"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] != "loyalty" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	customerID := parts[0]

	switch parts[2] {
	case "balance":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		bal, err := h.app.Loyalty.GetBalance(r.Context(), customerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, bal)

	case "transactions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		history, err := h.app.Loyalty.GetTransactions(r.Context(), customerID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if history == nil {
			history = []loyalty.Transaction{}
		}
		writeJSON(w, http.StatusOK, history)

	case "redeem":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Points  int64  `json:"points"`
			OrderID string `json:"order_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		discount, entry, bal, err := h.app.Loyalty.Redeem(r.Context(), customerID, payload.Points, payload.OrderID)
		if err != nil {
			writeError(w, redeemStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"Discount":    discount,
			"Transaction": entry,
			"Balance":     bal,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// orderResources dispatches the order workflow hooks
// /orders/{id}/{complete|refund}.
func (h *handler) orderResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/orders"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	orderID := parts[0]

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "complete":
		var payload struct {
			CustomerID string  `json:"customer_id"`
			LocationID string  `json:"location_id"`
			Subtotal   float64 `json:"subtotal"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		points, err := h.app.Loyalty.CalculatePoints(r.Context(), payload.CustomerID, payload.LocationID, payload.Subtotal)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if points == 0 {
			bal, err := h.app.Loyalty.GetBalance(r.Context(), payload.CustomerID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"Points": int64(0), "Balance": bal})
			return
		}

		_, bal, err := h.app.Loyalty.Award(r.Context(), payload.CustomerID, orderID, points, "")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"Points": points, "Balance": bal})

	case "refund":
		var payload struct {
			CustomerID string `json:"customer_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Loyalty.Reverse(r.Context(), payload.CustomerID, orderID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rule, err := decodeRule(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := h.app.Rules.Create(r.Context(), rule)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		rules, err := h.app.Rules.List(r.Context(), r.URL.Query().Get("location_id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if rules == nil {
			rules = []loyalty.Rule{}
		}
		writeJSON(w, http.StatusOK, rules)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) ruleResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rules"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ruleID := parts[0]

	if len(parts) == 2 && r.Method == http.MethodPost {
		var active bool
		switch parts[1] {
		case "activate":
			active = true
		case "deactivate":
			active = false
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rule, err := h.app.Rules.SetActive(r.Context(), ruleID, active)
		if err != nil {
			writeError(w, ruleStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
		return
	}
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rule, err := h.app.Rules.Get(r.Context(), ruleID)
		if err != nil {
			writeError(w, ruleStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, rule)

	case http.MethodPut:
		rule, err := decodeRule(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rule.ID = ruleID
		updated, err := h.app.Rules.Update(r.Context(), rule)
		if err != nil {
			writeError(w, ruleStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodeRule(body io.ReadCloser) (loyalty.Rule, error) {
	var payload struct {
		Name              string     `json:"name"`
		Type              string     `json:"rule_type"`
		LocationID        string     `json:"location_id"`
		PointsPerDollar   float64    `json:"points_per_dollar"`
		FixedPoints       int64      `json:"fixed_points"`
		MinPurchaseAmount float64    `json:"min_purchase_amount"`
		RedemptionValue   float64    `json:"redemption_value"`
		DisplayOrder      int        `json:"display_order"`
		StartDate         *time.Time `json:"start_date"`
		EndDate           *time.Time `json:"end_date"`
		Active            bool       `json:"active"`
	}
	if err := decodeJSON(body, &payload); err != nil {
		return loyalty.Rule{}, err
	}

	rule := loyalty.Rule{
		Name:              payload.Name,
		Type:              loyalty.RuleType(payload.Type),
		LocationID:        payload.LocationID,
		PointsPerDollar:   payload.PointsPerDollar,
		FixedPoints:       payload.FixedPoints,
		MinPurchaseAmount: payload.MinPurchaseAmount,
		RedemptionValue:   payload.RedemptionValue,
		DisplayOrder:      payload.DisplayOrder,
		Active:            payload.Active,
	}
	if payload.StartDate != nil {
		rule.StartDate = payload.StartDate.UTC()
	}
	if payload.EndDate != nil {
		rule.EndDate = payload.EndDate.UTC()
	}
	return rule, nil
}

func redeemStatus(err error) int {
	switch {
	case errors.Is(err, loyaltysvc.ErrInsufficientPoints):
		return http.StatusConflict
	case errors.Is(err, loyaltysvc.ErrNoActiveRedemptionRule):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func ruleStatus(err error) int {
	if errors.Is(err, storage.ErrRuleNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
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

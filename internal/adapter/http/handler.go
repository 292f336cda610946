package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"currency-conversion-service/internal/domain/model"
	"currency-conversion-service/internal/domain/ports"
	"currency-conversion-service/internal/metrics"
	"currency-conversion-service/pkg/logger"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ConversionResponse keeps the {"quantity", "ccy"} shape existing clients
// read and adds the rate metadata.
type ConversionResponse struct {
	Quantity      json.Number `json:"quantity"`
	Ccy           string      `json:"ccy"`
	Rate          float64     `json:"rate"`
	RateFetchedAt time.Time   `json:"rate_fetched_at"`
	Source        string      `json:"source"`
	Stale         bool        `json:"stale"`
}

type RateResponse struct {
	From      string    `json:"ccy_from"`
	To        string    `json:"ccy_to"`
	Rate      float64   `json:"rate"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
}

type Handler struct {
	service ports.ConversionService
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewHandler(service ports.ConversionService, log *logger.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service: service,
		log:     log,
		metrics: metrics,
	}
}

func (h *Handler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	h.metrics.ConversionRequestsTotal.Inc()

	query := r.URL.Query()
	from := model.ParseCurrency(query.Get("ccy_from"))
	to := model.ParseCurrency(query.Get("ccy_to"))
	quantityStr := query.Get("quantity")

	if from == "" || to == "" || quantityStr == "" {
		h.sendErrorResponse(w, r, http.StatusBadRequest, "missing required parameters: ccy_from, ccy_to and quantity")
		return
	}

	quantity, err := strconv.ParseFloat(quantityStr, 64)
	if err != nil || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		h.sendErrorResponse(w, r, http.StatusBadRequest, "invalid quantity parameter")
		return
	}

	result, err := h.service.Convert(r.Context(), model.ConversionRequest{
		FromCurrency: from,
		ToCurrency:   to,
		Quantity:     quantity,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.sendSuccessResponse(w, r, ConversionResponse{
		Quantity:      json.Number(result.Amount.StringFixed(result.MinorUnits)),
		Ccy:           result.ToCurrency.String(),
		Rate:          result.Rate,
		RateFetchedAt: result.RateFetchedAt.UTC(),
		Source:        result.Source,
		Stale:         result.Stale,
	})
}

func (h *Handler) GetRateHandler(w http.ResponseWriter, r *http.Request) {
	h.metrics.RateRequestsTotal.Inc()

	query := r.URL.Query()
	from := model.ParseCurrency(query.Get("ccy_from"))
	to := model.ParseCurrency(query.Get("ccy_to"))

	if from == "" || to == "" {
		h.sendErrorResponse(w, r, http.StatusBadRequest, "missing required parameters: ccy_from and ccy_to")
		return
	}

	entry, err := h.service.GetRate(r.Context(), from, to)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.sendSuccessResponse(w, r, RateResponse{
		From:      from.String(),
		To:        to.String(),
		Rate:      entry.Rate,
		FetchedAt: entry.FetchedAt.UTC(),
		Source:    entry.Source,
	})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) sendSuccessResponse(w http.ResponseWriter, r *http.Request, data interface{}) {
	h.writeJSON(w, r, http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handler) sendErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	h.writeJSON(w, r, statusCode, Response{Success: false, Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "error", err, "request_id", GetRequestID(r.Context()))
	}
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := http.StatusInternalServerError
	errorMessage := "internal server error"

	switch {
	case errors.Is(err, model.ErrInvalidPair):
		statusCode = http.StatusBadRequest
		errorMessage = err.Error()
	case errors.Is(err, model.ErrInvalidQuantity):
		statusCode = http.StatusBadRequest
		errorMessage = "quantity must be a non-negative finite number"
	case errors.Is(err, model.ErrUnsupportedPair):
		statusCode = http.StatusNotFound
		errorMessage = "exchange rate not available for this currency pair"
	case errors.Is(err, model.ErrUpstreamFailure):
		statusCode = http.StatusBadGateway
		errorMessage = "failed to fetch exchange rate from upstream"
	}

	h.log.Error("Service error",
		"error", err,
		"status_code", statusCode,
		"reason", model.FailureReasonOf(err),
		"request_id", GetRequestID(r.Context()),
	)
	h.sendErrorResponse(w, r, statusCode, errorMessage)
}

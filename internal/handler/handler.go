package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"loyalty-rewards-api/internal/database"
	"loyalty-rewards-api/internal/models"
	"loyalty-rewards-api/internal/rewards"
	"loyalty-rewards-api/internal/rules"
	"loyalty-rewards-api/internal/service"
	"loyalty-rewards-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	log         logrus.FieldLogger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      logrus.FieldLogger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		log:         log,
	}
}

// Routes registers the API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.ListCustomers)
		r.Post("/", h.CreateCustomer)
		r.Get("/{id}", h.GetCustomer)
		r.Put("/{id}", h.UpdateCustomer)
		r.Delete("/{id}", h.DeleteCustomer)
		r.Get("/{id}/legacy", h.GetLegacyCustomer)
		r.Put("/{id}/legacy", h.UpdateLegacyCustomer)
		r.Get("/{id}/businesses/{business_id}/eligibility", h.GetEligibility)
	})

	r.Route("/businesses", func(r chi.Router) {
		r.Get("/", h.ListBusinesses)
		r.Post("/", h.CreateBusiness)
		r.Get("/{id}", h.GetBusiness)
		r.Put("/{id}", h.UpdateBusiness)
		r.Delete("/{id}", h.DeleteBusiness)
		r.Get("/{id}/reward-rule", h.GetRewardRule)
		r.Put("/{id}/reward-rule", h.SetRewardRule)
	})

	r.Route("/visits", func(r chi.Router) {
		r.Get("/", h.ListVisits)
		r.Post("/", h.RecordVisit)
		r.Get("/{id}", h.GetVisit)
		r.Put("/{id}", h.UpdateVisit)
		r.Delete("/{id}", h.DeleteVisit)
	})

	r.Route("/demo", func(r chi.Router) {
		r.Get("/customers", h.ListDemoCustomers)
		r.Post("/customers", h.AddDemoCustomer)
		r.Get("/customers/{name}/visits", h.GetDemoVisits)
		r.Post("/visits", h.LogDemoVisit)
	})
}

// ListCustomers handles GET /customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, customers)
}

// CreateCustomer handles POST /customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req models.Customer
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.CreateCustomer(r.Context(), &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, req)
}

// GetCustomer handles GET /customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// UpdateCustomer handles PUT /customers/{id}
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req models.Customer
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")

	if err := h.service.UpdateCustomer(r.Context(), &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, req)
}

// DeleteCustomer handles DELETE /customers/{id}
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCustomer(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLegacyCustomer handles GET /customers/{id}/legacy
func (h *Handler) GetLegacyCustomer(w http.ResponseWriter, r *http.Request) {
	legacy, err := h.service.GetLegacyCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, legacy)
}

// UpdateLegacyCustomer handles PUT /customers/{id}/legacy
func (h *Handler) UpdateLegacyCustomer(w http.ResponseWriter, r *http.Request) {
	var req models.LegacyCustomer
	if !h.decode(w, r, &req) {
		return
	}

	legacy, err := h.service.UpdateLegacyCustomer(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, legacy)
}

// GetEligibility handles GET /customers/{id}/businesses/{business_id}/eligibility
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CheckEligibility(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "business_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, eligibilityResponse(res))
}

// ListBusinesses handles GET /businesses
func (h *Handler) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	businesses, err := h.service.ListBusinesses(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, businesses)
}

// CreateBusiness handles POST /businesses
func (h *Handler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	var req models.Business
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.CreateBusiness(r.Context(), &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, &req)
}

// GetBusiness handles GET /businesses/{id}
func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBusiness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, b)
}

// UpdateBusiness handles PUT /businesses/{id}
func (h *Handler) UpdateBusiness(w http.ResponseWriter, r *http.Request) {
	var req models.Business
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")

	if err := h.service.UpdateBusiness(r.Context(), &req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, &req)
}

// DeleteBusiness handles DELETE /businesses/{id}
func (h *Handler) DeleteBusiness(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBusiness(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRewardRule handles GET /businesses/{id}/reward-rule
func (h *Handler) GetRewardRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetRewardRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

// SetRewardRule handles PUT /businesses/{id}/reward-rule. The body is the
// stored rule form and is read with the same lenient decoder as stored blobs.
func (h *Handler) SetRewardRule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		h.respondError(w, http.StatusBadRequest, "request body is required")
		return
	}

	rule, err := rules.TryParse(string(body))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid reward rule: "+err.Error())
		return
	}

	if err := h.service.SetRewardRule(r.Context(), chi.URLParam(r, "id"), rule); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

// ListVisits handles GET /visits?customer_id=&business_id=
func (h *Handler) ListVisits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	visits, err := h.service.ListVisits(r.Context(), q.Get("customer_id"), q.Get("business_id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, visits)
}

// RecordVisit handles POST /visits
func (h *Handler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	var req models.Visit
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.RecordVisit(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.RecordVisitResponse{
		Visit:       req,
		Eligibility: eligibilityResponse(res),
	})
}

// GetVisit handles GET /visits/{id}
func (h *Handler) GetVisit(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.GetVisit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, v)
}

// UpdateVisit handles PUT /visits/{id}
func (h *Handler) UpdateVisit(w http.ResponseWriter, r *http.Request) {
	var req models.Visit
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")

	res, err := h.service.UpdateVisit(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.RecordVisitResponse{
		Visit:       req,
		Eligibility: eligibilityResponse(res),
	})
}

// DeleteVisit handles DELETE /visits/{id}
func (h *Handler) DeleteVisit(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteVisit(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type demoCustomerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// ListDemoCustomers handles GET /demo/customers
func (h *Handler) ListDemoCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.DemoCustomers(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, customers)
}

type demoVisitsResponse struct {
	Name   string `json:"name"`
	Visits int    `json:"visits"`
}

// GetDemoVisits handles GET /demo/customers/{name}/visits
func (h *Handler) GetDemoVisits(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	visits, err := h.service.DemoVisits(r.Context(), name)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, demoVisitsResponse{Name: validation.SanitizeString(name), Visits: visits})
}

// AddDemoCustomer handles POST /demo/customers
func (h *Handler) AddDemoCustomer(w http.ResponseWriter, r *http.Request) {
	var req demoCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.AddDemoCustomer(r.Context(), req.Name, req.Phone); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogDemoVisit handles POST /demo/visits
func (h *Handler) LogDemoVisit(w http.ResponseWriter, r *http.Request) {
	var req demoCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.LogDemoVisit(r.Context(), req.Name); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func eligibilityResponse(res rewards.Result) models.EligibilityResponse {
	return models.EligibilityResponse{
		CustomerID:     res.CustomerID,
		BusinessID:     res.BusinessID,
		Visits:         res.Visits,
		VisitsRequired: res.VisitsRequired,
		Eligible:       res.Eligible,
		Description:    res.Description,
		RewardsEarned:  res.RewardsEarned,
	}
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// respondServiceError maps service errors onto HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrDemoDisabled):
		h.respondError(w, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}

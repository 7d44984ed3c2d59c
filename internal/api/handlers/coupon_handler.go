package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/benefitpass/coupon-engine/internal/geo"
	"github.com/benefitpass/coupon-engine/internal/models"
	"github.com/benefitpass/coupon-engine/internal/service"
	"github.com/benefitpass/coupon-engine/internal/validation"
)

// --- Request / Response DTOs ---

type IssueRequestBody struct {
	BenefitID string `json:"benefit_id"`
}

type LocationBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type RedeemRequestBody struct {
	Token      string        `json:"token,omitempty"`
	Pin        string        `json:"pin,omitempty"`
	MerchantID string        `json:"merchant_id"`
	Location   *LocationBody `json:"location,omitempty"`
	StaffID    string        `json:"staff_id,omitempty"`
}

type errorBody struct {
	Code    validation.Code `json:"code"`
	Message string          `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// --- Handler struct & constructor ---

type CouponHandler struct {
	svc *service.CouponLifecycle
	log *logrus.Logger
}

func NewCouponHandler(svc *service.CouponLifecycle, log *logrus.Logger) *CouponHandler {
	return &CouponHandler{svc: svc, log: log}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code validation.Code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func (h *CouponHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (b *LocationBody) toPoint() (*geo.Point, bool) {
	if b == nil {
		return nil, true
	}
	p := geo.Point{Lat: b.Lat, Lng: b.Lng}
	if !p.Valid() {
		return nil, false
	}
	return &p, true
}

// issueErrorCode maps a service rejection to the client-facing reason. A
// user-scope quota rejection with a limit of one is reported as the
// friendlier duplicate-active-coupon reason.
func issueErrorCode(ie *service.IssueError) validation.Code {
	if ie.Code == validation.CodeQuotaExceededUser && ie.Quota != nil && ie.Quota.Limit == 1 {
		return validation.CodeDuplicateActiveCoupon
	}
	return ie.Code
}

// --- Handlers ---

// IssueCoupon handles POST /coupons. The authenticated user arrives as
// X-User-ID from the gateway in front of this service.
func (h *CouponHandler) IssueCoupon(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "USER_REQUIRED", "X-User-ID header required")
		return
	}

	var body IssueRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BenefitID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "benefit_id required")
		return
	}

	coupon, err := h.svc.Issue(r.Context(), service.IssueRequest{
		UserID:    userID,
		BenefitID: body.BenefitID,
		Student:   r.Header.Get("X-User-Student") == "true",
		Metadata: models.IssueMetadata{
			DeviceID:  r.Header.Get("X-Device-ID"),
			UserAgent: r.UserAgent(),
			IPAddress: clientIP(r),
		},
	})
	if err != nil {
		var ie *service.IssueError
		if errors.As(err, &ie) {
			writeError(w, http.StatusBadRequest, issueErrorCode(ie), ie.Reason)
			return
		}
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"coupon": coupon})
}

// RedeemCoupon handles POST /coupons/redeem.
func (h *CouponHandler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var body RedeemRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if body.MerchantID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "merchant_id required")
		return
	}
	if body.Token == "" && body.Pin == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "token or pin required")
		return
	}
	location, ok := body.Location.toPoint()
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_LOCATION", "coordinates out of range")
		return
	}

	res, err := h.svc.Redeem(r.Context(), service.RedeemRequest{
		Token:      body.Token,
		Pin:        body.Pin,
		MerchantID: body.MerchantID,
		Location:   location,
		StaffID:    body.StaffID,
		DeviceID:   r.Header.Get("X-Device-ID"),
		IPAddress:  clientIP(r),
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	if !res.Valid {
		writeError(w, http.StatusBadRequest, res.Code, res.Reason)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"redemption": res.Record,
	})
}

// ValidateCoupon handles GET /coupons/validate/{token}. Read-only: it runs
// the same pipeline and always answers 200 with the verdict.
func (h *CouponHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	merchantID := r.URL.Query().Get("merchant_id")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "merchant_id required")
		return
	}

	var location *geo.Point
	if raw := r.URL.Query().Get("location"); raw != "" {
		p, err := geo.ParsePoint(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
			return
		}
		location = &p
	}

	res, err := h.svc.Validate(r.Context(), service.RedeemRequest{
		Token:      tok,
		MerchantID: merchantID,
		Location:   location,
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListUserCoupons handles GET /users/{userID}/coupons?status=. Status is
// derived from (redeemed_at, expire_at, now); there is no stored column.
func (h *CouponHandler) ListUserCoupons(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var status models.CouponStatus
	switch r.URL.Query().Get("status") {
	case "":
		status = ""
	case "active":
		status = models.CouponPending
	case "used":
		status = models.CouponRedeemed
	case "expired":
		status = models.CouponExpired
	default:
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "status must be active, used or expired")
		return
	}

	coupons, err := h.svc.ListUserCoupons(r.Context(), userID, status)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if coupons == nil {
		coupons = []*models.Coupon{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"coupons": coupons})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/benefitpass/coupon-engine/internal/api/handlers"
	"github.com/benefitpass/coupon-engine/internal/api/middleware"
	"github.com/benefitpass/coupon-engine/internal/service"
)

// NewRouter builds the HTTP surface backed by the coupon engine. Auth sits
// in front of this router; the authenticated user arrives as X-User-ID.
func NewRouter(svc *service.CouponLifecycle, log *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger(log))

	h := handlers.NewCouponHandler(svc, log)

	r.Route("/coupons", func(r chi.Router) {
		r.Post("/", h.IssueCoupon)
		r.Post("/redeem", h.RedeemCoupon)
		r.Get("/validate/{token}", h.ValidateCoupon)
	})

	r.Get("/users/{userID}/coupons", h.ListUserCoupons)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

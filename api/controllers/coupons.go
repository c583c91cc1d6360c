package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/api/responses"
	"github.com/shoplane/shoplane-backend/api/validators"
	couponsvc "github.com/shoplane/shoplane-backend/internal/coupons"
	"github.com/shoplane/shoplane-backend/pkg/logger"
)

type applyCouponRequest struct {
	OrderID    uuid.UUID `json:"orderId" validate:"required"`
	UserID     uuid.UUID `json:"userId" validate:"required"`
	CouponCode string    `json:"couponCode" validate:"required"`
}

type removeCouponRequest struct {
	OrderID uuid.UUID `json:"orderId" validate:"required"`
	UserID  uuid.UUID `json:"userId" validate:"required"`
}

type applyCouponResponse struct {
	Success             bool            `json:"success"`
	DiscountAmount      decimal.Decimal `json:"discountAmount"`
	TotalBeforeDiscount decimal.Decimal `json:"totalBeforeDiscount"`
	TotalAfterDiscount  decimal.Decimal `json:"totalAfterDiscount"`
}

type removeCouponResponse struct {
	Success             bool            `json:"success"`
	TotalBeforeDiscount decimal.Decimal `json:"totalBeforeDiscount"`
	TotalAfterDiscount  decimal.Decimal `json:"totalAfterDiscount"`
}

// ApplyCoupon applies a coupon code to an order's total.
func ApplyCoupon(svc couponsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload applyCouponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Apply(r.Context(), payload.OrderID, payload.UserID, validators.SanitizeCode(payload.CouponCode))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, applyCouponResponse{
			Success:             true,
			DiscountAmount:      result.DiscountAmount,
			TotalBeforeDiscount: result.TotalBeforeDiscount,
			TotalAfterDiscount:  result.TotalAfterDiscount,
		})
	}
}

// RemoveCoupon removes the order's applied coupon and restores the total.
func RemoveCoupon(svc couponsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload removeCouponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Remove(r.Context(), payload.OrderID, payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, removeCouponResponse{
			Success:             true,
			TotalBeforeDiscount: result.TotalBeforeDiscount,
			TotalAfterDiscount:  result.TotalAfterDiscount,
		})
	}
}

package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/api/responses"
	"github.com/shoplane/shoplane-backend/api/validators"
	offersvc "github.com/shoplane/shoplane-backend/internal/offers"
	"github.com/shoplane/shoplane-backend/pkg/logger"
)

type bestOfferRequest struct {
	ProductID     *uuid.UUID      `json:"productId"`
	CategoryID    *uuid.UUID      `json:"categoryId"`
	OriginalPrice decimal.Decimal `json:"originalPrice" validate:"required"`
}

type bestOfferResponse struct {
	OriginalPrice  decimal.Decimal `json:"originalPrice"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalPrice     decimal.Decimal `json:"finalPrice"`
	AppliedScope   string          `json:"appliedScope"`
	AppliedOfferID *uuid.UUID      `json:"appliedOfferId,omitempty"`
}

// BestOffer computes the single best discount for a product in its
// category.
func BestOffer(svc offersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload bestOfferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		best, err := svc.CalculateBestOffer(r.Context(), payload.ProductID, payload.CategoryID, payload.OriginalPrice)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bestOfferResponse{
			OriginalPrice:  best.OriginalPrice,
			DiscountAmount: best.DiscountAmount,
			FinalPrice:     best.FinalPrice,
			AppliedScope:   string(best.AppliedScope),
			AppliedOfferID: best.AppliedOfferID,
		})
	}
}

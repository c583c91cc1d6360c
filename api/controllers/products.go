package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/api/responses"
	"github.com/shoplane/shoplane-backend/api/validators"
	catalogsvc "github.com/shoplane/shoplane-backend/internal/catalog"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
	"github.com/shoplane/shoplane-backend/pkg/logger"
)

const maxStockAdjustment = 1000000

type productResponse struct {
	ProductID       uuid.UUID        `json:"productId"`
	CategoryID      uuid.UUID        `json:"categoryId"`
	Price           decimal.Decimal  `json:"price"`
	DiscountPrice   *decimal.Decimal `json:"discountPrice,omitempty"`
	Stock           int              `json:"stock"`
	Blocked         bool             `json:"blocked"`
	CategoryBlocked bool             `json:"categoryBlocked"`
}

// GetProduct serves the product snapshot the cart coordinator validates
// against.
func GetProduct(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Fetch(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, productResponse{
			ProductID:       view.ProductID,
			CategoryID:      view.CategoryID,
			Price:           view.Price,
			DiscountPrice:   view.DiscountPrice,
			Stock:           view.Stock,
			Blocked:         view.Blocked,
			CategoryBlocked: view.CategoryBlocked,
		})
	}
}

// DecrementStock reserves qty units. Duplicate idempotency keys inside the
// dedup window are acknowledged without a second decrement.
func DecrementStock(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stockAdjustment(logg, svc.Reserve)
}

// IncrementStock returns qty units to the ledger.
func IncrementStock(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return stockAdjustment(logg, svc.Release)
}

func stockAdjustment(logg *logger.Logger, adjust func(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		qty, err := validators.ParseQueryInt(r, "qty", 0, 1, maxStockAdjustment)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if qty < 1 {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "qty query parameter is required"))
			return
		}
		idemKey := r.Header.Get("Idempotency-Key")
		if err := adjust(r.Context(), productID, qty, idemKey); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"applied": true})
	}
}

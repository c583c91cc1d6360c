package offers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/pkg/db/models"
	"github.com/shoplane/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
	"github.com/shoplane/shoplane-backend/pkg/money"
)

// BestOffer is the result of one price computation. Product and category
// discounts never stack; exactly one offer (or none) applies.
type BestOffer struct {
	OriginalPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalPrice     decimal.Decimal
	AppliedScope   enums.OfferScope
	AppliedOfferID *uuid.UUID
}

// Service computes the best applicable discount for a product. Pure reads,
// no side effects.
type Service interface {
	CalculateBestOffer(ctx context.Context, productID, categoryID *uuid.UUID, originalPrice decimal.Decimal) (*BestOffer, error)
}

type service struct {
	repo *Repository
	now  func() time.Time
}

// NewService builds the offer engine. A nil clock defaults to time.Now.
func NewService(repo *Repository, clock func() time.Time) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("offers repository required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &service{repo: repo, now: clock}, nil
}

// CalculateBestOffer picks the single highest product-scoped and
// category-scoped discount independently, then resolves the winner.
// Ties inside a scope break deterministically: earliest CreatedAt, then
// lowest offer id.
func (s *service) CalculateBestOffer(ctx context.Context, productID, categoryID *uuid.UUID, originalPrice decimal.Decimal) (*BestOffer, error) {
	if originalPrice.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "original price must be positive")
	}

	now := s.now()

	productBest, productAmount, err := s.bestForScope(ctx, productID, now, originalPrice, s.repo.ActiveProductOffers)
	if err != nil {
		return nil, err
	}
	categoryBest, categoryAmount, err := s.bestForScope(ctx, categoryID, now, originalPrice, s.repo.ActiveCategoryOffers)
	if err != nil {
		return nil, err
	}

	result := &BestOffer{
		OriginalPrice:  money.Round(originalPrice),
		DiscountAmount: decimal.Zero,
		FinalPrice:     money.Round(originalPrice),
		AppliedScope:   enums.OfferScopeNone,
	}

	var winner *models.Offer
	var amount decimal.Decimal
	switch {
	case productBest != nil && productAmount.GreaterThan(decimal.Zero) && productAmount.GreaterThanOrEqual(categoryAmount):
		winner, amount = productBest, productAmount
		result.AppliedScope = enums.OfferScopeProduct
	case categoryBest != nil && categoryAmount.GreaterThan(decimal.Zero):
		winner, amount = categoryBest, categoryAmount
		result.AppliedScope = enums.OfferScopeCategory
	default:
		return result, nil
	}

	if amount.GreaterThan(originalPrice) {
		amount = originalPrice
	}
	result.DiscountAmount = money.Round(amount)
	result.FinalPrice = money.Round(originalPrice.Sub(amount))
	offerID := winner.ID
	result.AppliedOfferID = &offerID
	return result, nil
}

type offerLoader func(ctx context.Context, id uuid.UUID) ([]models.Offer, error)

func (s *service) bestForScope(ctx context.Context, id *uuid.UUID, now time.Time, originalPrice decimal.Decimal, load offerLoader) (*models.Offer, decimal.Decimal, error) {
	if id == nil || *id == uuid.Nil {
		return nil, decimal.Zero, nil
	}
	candidates, err := load(ctx, *id)
	if err != nil {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load offers")
	}

	var best *models.Offer
	bestAmount := decimal.Zero
	for i := range candidates {
		offer := &candidates[i]
		if !windowContains(offer, now) {
			continue
		}
		amount := money.Discount(offer.DiscountType, offer.DiscountValue, originalPrice)
		if best == nil || amount.GreaterThan(bestAmount) || (amount.Equal(bestAmount) && beats(offer, best)) {
			best = offer
			bestAmount = amount
		}
	}
	return best, bestAmount, nil
}

// windowContains checks the offer's validity window; a nil bound leaves
// that side open.
func windowContains(offer *models.Offer, now time.Time) bool {
	if offer.StartAt != nil && now.Before(*offer.StartAt) {
		return false
	}
	if offer.EndAt != nil && now.After(*offer.EndAt) {
		return false
	}
	return true
}

// beats orders equally discounting offers: earliest CreatedAt first, then
// lowest id string, so selection never depends on row iteration order.
func beats(candidate, current *models.Offer) bool {
	if candidate.CreatedAt.Before(current.CreatedAt) {
		return true
	}
	if current.CreatedAt.Before(candidate.CreatedAt) {
		return false
	}
	return candidate.ID.String() < current.ID.String()
}

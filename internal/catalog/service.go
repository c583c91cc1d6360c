package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
	"github.com/shoplane/shoplane-backend/pkg/logger"
	"github.com/shoplane/shoplane-backend/pkg/metrics"
)

const (
	opReserve = "reserve"
	opRelease = "release"
)

type idempotencyStore interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	StockOpKey(op, productID, key string) string
	Del(context.Context, ...string) error
}

// ProductView is the read model returned to stock ledger consumers.
type ProductView struct {
	ProductID       uuid.UUID
	CategoryID      uuid.UUID
	Price           decimal.Decimal
	DiscountPrice   *decimal.Decimal
	Stock           int
	Blocked         bool
	CategoryBlocked bool
}

// Service is the catalog stock ledger: per-product stock counts mutated
// only through reserve/release, plus the read-only product fetch.
type Service interface {
	Fetch(ctx context.Context, productID uuid.UUID) (*ProductView, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error
	Release(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error
}

type service struct {
	repo       *Repository
	idem       idempotencyStore
	idemWindow time.Duration
	m          *metrics.LedgerMetrics
	logg       *logger.Logger
}

// NewService builds the stock ledger service. The idempotency store is
// optional; without it reserve/release run without de-duplication, which
// matches the pre-dedup behavior but loses retry safety.
func NewService(repo *Repository, idem idempotencyStore, idemWindow time.Duration, m *metrics.LedgerMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if idemWindow <= 0 {
		idemWindow = 15 * time.Minute
	}
	return &service{
		repo:       repo,
		idem:       idem,
		idemWindow: idemWindow,
		m:          m,
		logg:       logg,
	}, nil
}

// Fetch returns the product snapshot used for purchasability checks and as
// the offer engine's reference price.
func (s *service) Fetch(ctx context.Context, productID uuid.UUID) (*ProductView, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}

	stock, err := s.repo.AvailableQty(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock")
	}

	return &ProductView{
		ProductID:       product.ID,
		CategoryID:      product.CategoryID,
		Price:           product.PriceAmount,
		DiscountPrice:   product.DiscountPrice,
		Stock:           stock,
		Blocked:         product.Blocked,
		CategoryBlocked: product.CategoryBlocked,
	}, nil
}

// Reserve atomically decrements available stock by qty. A duplicate call
// carrying an idempotency key already recorded within the window is a
// no-op, so a retried RPC cannot double-decrement.
func (s *service) Reserve(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error {
	if err := validateAdjustment(productID, qty); err != nil {
		return err
	}

	applied, marker := s.claimOp(ctx, opReserve, productID, idemKey)
	if !applied {
		return nil
	}

	ok, err := s.repo.DecrementStock(ctx, productID, qty)
	if err != nil {
		s.releaseClaim(ctx, marker)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
	}
	if ok {
		return nil
	}

	// The conditional update did not fire: either the product has no
	// stock record or there is not enough left. The claim is rolled back
	// so a retry with a lower quantity can go through.
	s.releaseClaim(ctx, marker)

	available, availErr := s.repo.AvailableQty(ctx, productID)
	if availErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, availErr, "inspect stock")
	}
	if _, prodErr := s.repo.FindProduct(ctx, productID); errors.Is(prodErr, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return pkgerrors.
		New(pkgerrors.CodeOutOfStock, fmt.Sprintf("only %d left", available)).
		WithDetails(map[string]any{"available": available})
}

// Release credits qty back to the ledger. It never fails on the ledger
// side; callers are responsible for releasing exactly the deltas they
// reserved, since the ledger happily credits past the original allocation.
func (s *service) Release(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error {
	if err := validateAdjustment(productID, qty); err != nil {
		return err
	}

	applied, marker := s.claimOp(ctx, opRelease, productID, idemKey)
	if !applied {
		return nil
	}

	if err := s.repo.IncrementStock(ctx, productID, qty); err != nil {
		s.releaseClaim(ctx, marker)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment stock")
	}
	return nil
}

// claimOp records the idempotency key before the mutation is applied.
// Returns applied=false when the key was already claimed (duplicate call).
// Redis being down degrades to non-deduplicated behavior with a warning;
// availability wins over dedup here.
func (s *service) claimOp(ctx context.Context, op string, productID uuid.UUID, idemKey string) (applied bool, marker string) {
	if s.idem == nil || idemKey == "" {
		return true, ""
	}
	key := s.idem.StockOpKey(op, productID.String(), idemKey)
	ok, err := s.idem.SetNX(ctx, key, "applied", s.idemWindow)
	if err != nil {
		s.m.IncDedupDegradation(op)
		if s.logg != nil {
			s.logg.Warn(s.logg.WithProductID(ctx, productID.String()), "idempotency store unavailable, applying without dedup")
		}
		return true, ""
	}
	if !ok {
		s.m.IncDuplicateSuppressed(op)
		if s.logg != nil {
			s.logg.Info(s.logg.WithProductID(ctx, productID.String()), "duplicate "+op+" suppressed by idempotency key")
		}
		return false, ""
	}
	return true, key
}

func (s *service) releaseClaim(ctx context.Context, marker string) {
	if s.idem == nil || marker == "" {
		return
	}
	if err := s.idem.Del(ctx, marker); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "failed to roll back idempotency claim "+marker)
	}
}

func validateAdjustment(productID uuid.UUID, qty int) error {
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be at least 1")
	}
	return nil
}

package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shoplane/shoplane-backend/internal/orders"
	"github.com/shoplane/shoplane-backend/pkg/db"
	"github.com/shoplane/shoplane-backend/pkg/db/models"
	"github.com/shoplane/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
	"github.com/shoplane/shoplane-backend/pkg/locks"
	"github.com/shoplane/shoplane-backend/pkg/logger"
	"github.com/shoplane/shoplane-backend/pkg/money"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ApplyResult reports the money movement of a coupon apply.
type ApplyResult struct {
	DiscountAmount      decimal.Decimal
	TotalBeforeDiscount decimal.Decimal
	TotalAfterDiscount  decimal.Decimal
}

// RemoveResult reports the restored totals after a coupon removal.
type RemoveResult struct {
	TotalBeforeDiscount decimal.Decimal
	TotalAfterDiscount  decimal.Decimal
}

// Service is the coupon ledger: apply one coupon to an order's total and
// remove it again, with usage limits enforced.
type Service interface {
	Apply(ctx context.Context, orderID, userID uuid.UUID, code string) (*ApplyResult, error)
	Remove(ctx context.Context, orderID, userID uuid.UUID) (*RemoveResult, error)
}

type service struct {
	repo      Repository
	orderRepo orders.Repository
	tx        txRunner
	locks     *locks.Keyed
	now       func() time.Time
	logg      *logger.Logger
}

// NewService builds the coupon ledger service. A nil clock defaults to
// time.Now.
func NewService(repo Repository, orderRepo orders.Repository, tx txRunner, keyed *locks.Keyed, clock func() time.Time, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if keyed == nil {
		keyed = locks.NewKeyed()
	}
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:      repo,
		orderRepo: orderRepo,
		tx:        tx,
		locks:     keyed,
		now:       clock,
		logg:      logg,
	}, nil
}

// Apply validates the coupon against the order, deducts the discount from
// the order total and appends the usage row, both inside one transaction.
// Apply calls for the same order serialize on a per-order lock; the unique
// order_id index on usages is the safety net if two processes race.
func (s *service) Apply(ctx context.Context, orderID, userID uuid.UUID, code string) (*ApplyResult, error) {
	if orderID == uuid.Nil || userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and user id are required")
	}
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	lockKey := "coupon:" + orderID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order does not belong to user")
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load coupon")
	}

	if err := s.validateCoupon(ctx, coupon, order, userID); err != nil {
		return nil, err
	}

	discount := s.discountFor(coupon, order.TotalAmount)
	newTotal := money.Round(order.TotalAmount.Sub(discount))

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		txOrders := s.orderRepo.WithTx(tx)

		if err := txRepo.CreateUsage(ctx, &models.CouponUsage{
			ID:             uuid.New(),
			CouponID:       coupon.ID,
			OrderID:        orderID,
			UserID:         userID,
			DiscountAmount: discount,
		}); err != nil {
			if db.IsUniqueViolation(err, "idx_coupon_usages_order") {
				return pkgerrors.New(pkgerrors.CodeValidation, "coupon already applied to this order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record coupon usage")
		}

		if err := txOrders.UpdateTotals(ctx, orderID, newTotal, discount); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order total")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{"coupon_code": code, "discount": discount.String()})
		s.logg.Info(logCtx, "coupon applied")
	}

	return &ApplyResult{
		DiscountAmount:      discount,
		TotalBeforeDiscount: money.Round(order.TotalAmount),
		TotalAfterDiscount:  newTotal,
	}, nil
}

// Remove deletes the order's usage row and restores its recorded discount
// to the order total, both inside one transaction.
func (s *service) Remove(ctx context.Context, orderID, userID uuid.UUID) (*RemoveResult, error) {
	if orderID == uuid.Nil || userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and user id are required")
	}

	lockKey := "coupon:" + orderID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}

	usage, err := s.repo.FindUsageByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "no coupon applied to this order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load coupon usage")
	}
	if usage.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon was not applied by this user")
	}

	restoredTotal := money.Round(order.TotalAmount.Add(usage.DiscountAmount))

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		txOrders := s.orderRepo.WithTx(tx)

		if err := txRepo.DeleteUsage(ctx, usage.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete coupon usage")
		}
		if err := txOrders.UpdateTotals(ctx, orderID, restoredTotal, decimal.Zero); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore order total")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		logCtx = s.logg.WithField(logCtx, "restored", usage.DiscountAmount.String())
		s.logg.Info(logCtx, "coupon removed")
	}

	return &RemoveResult{
		TotalBeforeDiscount: money.Round(order.TotalAmount),
		TotalAfterDiscount:  restoredTotal,
	}, nil
}

// validateCoupon runs the ordered eligibility checks. Every rejection is a
// CodeValidation with a reason the storefront can show verbatim.
func (s *service) validateCoupon(ctx context.Context, coupon *models.Coupon, order *models.Order, userID uuid.UUID) error {
	now := s.now()

	if !coupon.Active {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon is not active")
	}
	if coupon.StartAt != nil && now.Before(*coupon.StartAt) {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon not started")
	}
	if coupon.EndAt != nil && now.After(*coupon.EndAt) {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon expired")
	}
	if order.TotalAmount.LessThan(coupon.MinOrderAmount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "below minimum order amount").
			WithDetails(map[string]any{
				"min_order_amount": coupon.MinOrderAmount.String(),
				"order_total":      order.TotalAmount.String(),
			})
	}

	if _, err := s.repo.FindUsageByOrder(ctx, order.ID); err == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon already applied to this order")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing usage")
	}

	if coupon.UsageLimitPerCoupon > 0 {
		count, err := s.repo.CountUsageByCoupon(ctx, coupon.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count coupon usage")
		}
		if count >= int64(coupon.UsageLimitPerCoupon) {
			return pkgerrors.New(pkgerrors.CodeValidation, "coupon usage limit reached")
		}
	}
	if coupon.UsageLimitPerUser > 0 {
		count, err := s.repo.CountUsageByCouponAndUser(ctx, coupon.ID, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count user coupon usage")
		}
		if count >= int64(coupon.UsageLimitPerUser) {
			return pkgerrors.New(pkgerrors.CodeValidation, "usage limit reached for user")
		}
	}
	return nil
}

// discountFor resolves the coupon into money terms: the shared PERCENT/FLAT
// rule, PERCENT additionally capped by MaxDiscountAmount, and everything
// capped at the order total.
func (s *service) discountFor(coupon *models.Coupon, orderTotal decimal.Decimal) decimal.Decimal {
	amount := money.Discount(coupon.DiscountType, coupon.DiscountValue, orderTotal)
	if coupon.DiscountType == enums.DiscountTypePercent {
		amount = money.Cap(amount, coupon.MaxDiscountAmount)
	}
	if amount.GreaterThan(orderTotal) {
		amount = orderTotal
	}
	return money.Round(amount)
}

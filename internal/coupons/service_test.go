package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shoplane/shoplane-backend/internal/orders"
	"github.com/shoplane/shoplane-backend/pkg/db"
	"github.com/shoplane/shoplane-backend/pkg/db/models"
	"github.com/shoplane/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:coupons_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Order{}, &models.Coupon{}, &models.CouponUsage{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newTestService(t *testing.T, gdb *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(
		NewRepository(gdb),
		orders.NewRepository(gdb),
		gormTxRunner{db: gdb},
		nil,
		func() time.Time { return testNow },
		nil,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedOrder(t *testing.T, gdb *gorm.DB, userID uuid.UUID, total string) uuid.UUID {
	t.Helper()
	order := models.Order{
		ID:          uuid.New(),
		UserID:      userID,
		TotalAmount: decimal.RequireFromString(total),
	}
	if err := gdb.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order.ID
}

type couponSeed struct {
	code         string
	discountType enums.DiscountType
	value        string
	maxDiscount  string
	minOrder     string
	perCoupon    int
	perUser      int
	active       bool
	startAt      *time.Time
	endAt        *time.Time
}

func seedCoupon(t *testing.T, gdb *gorm.DB, seed couponSeed) uuid.UUID {
	t.Helper()
	coupon := models.Coupon{
		ID:                  uuid.New(),
		Code:                seed.code,
		DiscountType:        seed.discountType,
		DiscountValue:       decimal.RequireFromString(seed.value),
		UsageLimitPerCoupon: seed.perCoupon,
		UsageLimitPerUser:   seed.perUser,
		Active:              seed.active,
		StartAt:             seed.startAt,
		EndAt:               seed.endAt,
	}
	if seed.maxDiscount != "" {
		max := decimal.RequireFromString(seed.maxDiscount)
		coupon.MaxDiscountAmount = &max
	}
	if seed.minOrder != "" {
		coupon.MinOrderAmount = decimal.RequireFromString(seed.minOrder)
	}
	if err := gdb.Create(&coupon).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	// gorm substitutes the column default for zero-valued fields tagged with
	// `default`, so an inactive seed must write active=false explicitly.
	if !seed.active {
		if err := gdb.Model(&models.Coupon{}).Where("id = ?", coupon.ID).UpdateColumn("active", false).Error; err != nil {
			t.Fatalf("seed coupon active flag: %v", err)
		}
	}
	return coupon.ID
}

func orderTotal(t *testing.T, gdb *gorm.DB, orderID uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	if err := gdb.First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order
}

func usageCount(t *testing.T, gdb *gorm.DB, orderID uuid.UUID) int64 {
	t.Helper()
	var count int64
	if err := gdb.Model(&models.CouponUsage{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		t.Fatalf("count usage: %v", err)
	}
	return count
}

func TestApplyFlatCoupon(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "600")
	seedCoupon(t, gdb, couponSeed{code: "SAVE60", discountType: enums.DiscountTypeFlat, value: "60", active: true})

	got, err := svc.Apply(context.Background(), orderID, userID, "SAVE60")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.DiscountAmount.String() != "60" {
		t.Fatalf("expected discount 60, got %s", got.DiscountAmount)
	}
	if got.TotalAfterDiscount.String() != "540" {
		t.Fatalf("expected total 540, got %s", got.TotalAfterDiscount)
	}

	order := orderTotal(t, gdb, orderID)
	if order.TotalAmount.String() != "540" {
		t.Fatalf("persisted total should be 540, got %s", order.TotalAmount)
	}
	if order.CouponDiscount.String() != "60" {
		t.Fatalf("persisted discount should be 60, got %s", order.CouponDiscount)
	}
	if usageCount(t, gdb, orderID) != 1 {
		t.Fatalf("expected exactly one usage row")
	}
}

func TestApplyPercentCouponCappedByMaxDiscount(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "1000")
	seedCoupon(t, gdb, couponSeed{
		code: "TEN", discountType: enums.DiscountTypePercent, value: "10",
		maxDiscount: "75", active: true,
	})

	got, err := svc.Apply(context.Background(), orderID, userID, "TEN")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.DiscountAmount.String() != "75" {
		t.Fatalf("10%% of 1000 should cap at 75, got %s", got.DiscountAmount)
	}
	if got.TotalAfterDiscount.String() != "925" {
		t.Fatalf("expected total 925, got %s", got.TotalAfterDiscount)
	}
}

func TestApplyBelowMinimumOrderLeavesNoTrace(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "400")
	seedCoupon(t, gdb, couponSeed{
		code: "BIGSPEND", discountType: enums.DiscountTypeFlat, value: "50",
		minOrder: "500", active: true,
	})

	_, err := svc.Apply(context.Background(), orderID, userID, "BIGSPEND")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if typed := pkgerrors.As(err); typed.Message() != "below minimum order amount" {
		t.Fatalf("unexpected reason %q", typed.Message())
	}
	if usageCount(t, gdb, orderID) != 0 {
		t.Fatalf("rejected apply must not write a usage row")
	}
	if got := orderTotal(t, gdb, orderID); got.TotalAmount.String() != "400" {
		t.Fatalf("rejected apply must not change the total, got %s", got.TotalAmount)
	}
}

func TestApplyPerUserLimit(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	firstOrder := seedOrder(t, gdb, userID, "300")
	secondOrder := seedOrder(t, gdb, userID, "300")
	seedCoupon(t, gdb, couponSeed{
		code: "ONCE", discountType: enums.DiscountTypeFlat, value: "30",
		perUser: 1, active: true,
	})

	if _, err := svc.Apply(context.Background(), firstOrder, userID, "ONCE"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := svc.Apply(context.Background(), secondOrder, userID, "ONCE")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if typed := pkgerrors.As(err); typed.Message() != "usage limit reached for user" {
		t.Fatalf("unexpected reason %q", typed.Message())
	}
}

func TestApplyPerCouponLimit(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	firstUser := uuid.New()
	secondUser := uuid.New()
	firstOrder := seedOrder(t, gdb, firstUser, "300")
	secondOrder := seedOrder(t, gdb, secondUser, "300")
	seedCoupon(t, gdb, couponSeed{
		code: "LIMITED", discountType: enums.DiscountTypeFlat, value: "30",
		perCoupon: 1, active: true,
	})

	if _, err := svc.Apply(context.Background(), firstOrder, firstUser, "LIMITED"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := svc.Apply(context.Background(), secondOrder, secondUser, "LIMITED")
	if typed := pkgerrors.As(err); typed == nil || typed.Message() != "coupon usage limit reached" {
		t.Fatalf("expected coupon usage limit reached, got %v", err)
	}
}

func TestApplyWindowAndActiveChecks(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "300")

	future := testNow.Add(time.Hour)
	past := testNow.Add(-time.Hour)
	seedCoupon(t, gdb, couponSeed{code: "SOON", discountType: enums.DiscountTypeFlat, value: "10", active: true, startAt: &future})
	seedCoupon(t, gdb, couponSeed{code: "GONE", discountType: enums.DiscountTypeFlat, value: "10", active: true, endAt: &past})
	seedCoupon(t, gdb, couponSeed{code: "OFF", discountType: enums.DiscountTypeFlat, value: "10", active: false})

	tests := []struct {
		code   string
		reason string
	}{
		{code: "SOON", reason: "coupon not started"},
		{code: "GONE", reason: "coupon expired"},
		{code: "OFF", reason: "coupon is not active"},
	}
	for _, tt := range tests {
		_, err := svc.Apply(context.Background(), orderID, userID, tt.code)
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("code %s: expected validation error, got %v", tt.code, err)
		}
		if typed.Message() != tt.reason {
			t.Fatalf("code %s: expected reason %q, got %q", tt.code, tt.reason, typed.Message())
		}
	}
}

func TestApplyTwiceToSameOrder(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "500")
	seedCoupon(t, gdb, couponSeed{code: "A", discountType: enums.DiscountTypeFlat, value: "10", active: true})
	seedCoupon(t, gdb, couponSeed{code: "B", discountType: enums.DiscountTypeFlat, value: "20", active: true})

	if _, err := svc.Apply(context.Background(), orderID, userID, "A"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := svc.Apply(context.Background(), orderID, userID, "B")
	if typed := pkgerrors.As(err); typed == nil || typed.Message() != "coupon already applied to this order" {
		t.Fatalf("expected already-applied rejection, got %v", err)
	}
}

func TestApplyRemoveRoundTrip(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "250.50")
	seedCoupon(t, gdb, couponSeed{code: "RT", discountType: enums.DiscountTypePercent, value: "20", active: true})

	applied, err := svc.Apply(context.Background(), orderID, userID, "RT")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.DiscountAmount.String() != "50.1" {
		t.Fatalf("expected discount 50.1, got %s", applied.DiscountAmount)
	}

	removed, err := svc.Remove(context.Background(), orderID, userID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.TotalAfterDiscount.String() != "250.5" {
		t.Fatalf("expected restored total 250.5, got %s", removed.TotalAfterDiscount)
	}

	order := orderTotal(t, gdb, orderID)
	if !order.TotalAmount.Equal(decimal.RequireFromString("250.50")) {
		t.Fatalf("total should be restored exactly, got %s", order.TotalAmount)
	}
	if !order.CouponDiscount.IsZero() {
		t.Fatalf("coupon discount should reset to zero, got %s", order.CouponDiscount)
	}
	if usageCount(t, gdb, orderID) != 0 {
		t.Fatalf("usage row should be deleted")
	}
}

func TestRemoveWithoutAppliedCoupon(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "100")

	_, err := svc.Remove(context.Background(), orderID, userID)
	if typed := pkgerrors.As(err); typed == nil || typed.Message() != "no coupon applied to this order" {
		t.Fatalf("expected no-coupon rejection, got %v", err)
	}
}

func TestRemoveByDifferentUser(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "100")
	seedCoupon(t, gdb, couponSeed{code: "MINE", discountType: enums.DiscountTypeFlat, value: "5", active: true})

	if _, err := svc.Apply(context.Background(), orderID, userID, "MINE"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	_, err := svc.Remove(context.Background(), orderID, uuid.New())
	if typed := pkgerrors.As(err); typed == nil {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestApplyUnknownCouponOrOrder(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, gdb)
	userID := uuid.New()
	orderID := seedOrder(t, gdb, userID, "100")

	if _, err := svc.Apply(context.Background(), orderID, userID, "NOPE"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown coupon, got %v", err)
	}
	if _, err := svc.Apply(context.Background(), uuid.New(), userID, "NOPE"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown order, got %v", err)
	}
}

func TestUsageUniqueIndexIsTheSafetyNet(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	repo := NewRepository(gdb)
	ctx := context.Background()
	orderID := uuid.New()

	first := models.CouponUsage{ID: uuid.New(), CouponID: uuid.New(), OrderID: orderID, UserID: uuid.New(), DiscountAmount: decimal.RequireFromString("5")}
	if err := repo.CreateUsage(ctx, &first); err != nil {
		t.Fatalf("first usage: %v", err)
	}
	second := models.CouponUsage{ID: uuid.New(), CouponID: uuid.New(), OrderID: orderID, UserID: uuid.New(), DiscountAmount: decimal.RequireFromString("5")}
	err := repo.CreateUsage(ctx, &second)
	if err == nil {
		t.Fatalf("duplicate order usage must fail")
	}
	if !db.IsUniqueViolation(err, "idx_coupon_usages_order") {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	catalogclient "github.com/shoplane/shoplane-backend/pkg/clients/catalog"
	offersclient "github.com/shoplane/shoplane-backend/pkg/clients/offers"
	"github.com/shoplane/shoplane-backend/pkg/db/models"
	"github.com/shoplane/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
)

type fakeCatalog struct {
	mu         sync.Mutex
	products   map[uuid.UUID]*catalogclient.ProductSnapshot
	reserved   map[uuid.UUID]int
	released   map[uuid.UUID]int
	fetchErr   error
	reserveErr error
	releaseErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[uuid.UUID]*catalogclient.ProductSnapshot{},
		reserved: map[uuid.UUID]int{},
		released: map[uuid.UUID]int{},
	}
}

func (f *fakeCatalog) add(price string, stock int) uuid.UUID {
	id := uuid.New()
	f.products[id] = &catalogclient.ProductSnapshot{
		ProductID:  id,
		CategoryID: uuid.New(),
		Price:      decimal.RequireFromString(price),
		Stock:      stock,
	}
	return id
}

func (f *fakeCatalog) Fetch(ctx context.Context, productID uuid.UUID) (*catalogclient.ProductSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	snapshot, ok := f.products[productID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	copied := *snapshot
	return &copied, nil
}

func (f *fakeCatalog) Reserve(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	snapshot, ok := f.products[productID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if snapshot.Stock < qty {
		return pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock")
	}
	snapshot.Stock -= qty
	f.reserved[productID] += qty
	return nil
}

func (f *fakeCatalog) Release(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if snapshot, ok := f.products[productID]; ok {
		snapshot.Stock += qty
	}
	f.released[productID] += qty
	return nil
}

type fakeOffers struct {
	response *offersclient.BestOfferResponse
	err      error
}

func (f *fakeOffers) BestOffer(ctx context.Context, input offersclient.BestOfferRequest) (*offersclient.BestOfferResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &offersclient.BestOfferResponse{
		OriginalPrice: input.OriginalPrice,
		FinalPrice:    input.OriginalPrice,
		AppliedScope:  enums.OfferScopeNone,
	}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Cart{}, &models.CartLine{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newTestService(t *testing.T, repo Repository, catalog *fakeCatalog, offers *fakeOffers) Service {
	t.Helper()
	if offers == nil {
		offers = &fakeOffers{}
	}
	svc, err := NewService(repo, catalog, offers, nil, 10, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func lineQty(t *testing.T, gdb *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var line models.CartLine
	err := gdb.First(&line, "product_id = ?", productID).Error
	if err == gorm.ErrRecordNotFound {
		return 0
	}
	if err != nil {
		t.Fatalf("load line: %v", err)
	}
	return line.Quantity
}

func TestAddToCartReservesThenPersists(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("100", 5)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()

	view, err := svc.AddToCart(context.Background(), userID, productID, 3)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if catalog.reserved[productID] != 3 {
		t.Fatalf("expected 3 reserved, got %d", catalog.reserved[productID])
	}
	if lineQty(t, gdb, productID) != 3 {
		t.Fatalf("expected persisted qty 3")
	}
	if view.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", view.ItemCount)
	}
	if view.Subtotal.String() != "300" {
		t.Fatalf("expected subtotal 300, got %s", view.Subtotal)
	}
}

func TestAddToCartClampsToMaxQty(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 50)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()

	if _, err := svc.AddToCart(context.Background(), userID, productID, 15); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := lineQty(t, gdb, productID); got != 10 {
		t.Fatalf("expected clamp to 10, got %d", got)
	}
	if catalog.reserved[productID] != 10 {
		t.Fatalf("reservation must match the clamped qty, got %d", catalog.reserved[productID])
	}
}

func TestAddToCartGrowsExistingLineByExtraOnly(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 50)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 7); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := svc.AddToCart(ctx, userID, productID, 7); err != nil {
		t.Fatalf("second add: %v", err)
	}
	if got := lineQty(t, gdb, productID); got != 10 {
		t.Fatalf("expected 10 after clamp, got %d", got)
	}
	if catalog.reserved[productID] != 10 {
		t.Fatalf("expected total 10 reserved (7 then 3), got %d", catalog.reserved[productID])
	}
}

func TestAddToCartInsufficientStockForExtra(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 4)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 4); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := svc.AddToCart(ctx, userID, productID, 3)
	if !pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	if got := lineQty(t, gdb, productID); got != 4 {
		t.Fatalf("failed add must not change the line, got %d", got)
	}
	if catalog.reserved[productID] != 4 {
		t.Fatalf("no partial reservation allowed, got %d", catalog.reserved[productID])
	}
}

func TestAddToCartNewLineCapsAtAvailableStock(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 2)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)

	if _, err := svc.AddToCart(context.Background(), uuid.New(), productID, 8); err != nil {
		t.Fatalf("add: %v", err)
	}
	if catalog.reserved[productID] != 2 {
		t.Fatalf("expected to reserve what was available, got %d", catalog.reserved[productID])
	}
}

func TestAddToCartBlockedAndMissingProduct(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	blockedID := catalog.add("10", 5)
	catalog.products[blockedID].Blocked = true
	outID := catalog.add("10", 0)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := svc.AddToCart(ctx, userID, blockedID, 1); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation for blocked product, got %v", err)
	}
	if _, err := svc.AddToCart(ctx, userID, outID, 1); !pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	if _, err := svc.AddToCart(ctx, userID, uuid.New(), 1); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddToCartUsesBestOfferPrice(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("100", 5)
	offerID := uuid.New()
	offers := &fakeOffers{response: &offersclient.BestOfferResponse{
		OriginalPrice:  decimal.RequireFromString("100"),
		DiscountAmount: decimal.RequireFromString("30"),
		FinalPrice:     decimal.RequireFromString("70"),
		AppliedScope:   enums.OfferScopeCategory,
		AppliedOfferID: &offerID,
	}}
	svc := newTestService(t, NewRepository(gdb), catalog, offers)

	view, err := svc.AddToCart(context.Background(), uuid.New(), productID, 1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if view.Lines[0].UnitPrice.String() != "70" {
		t.Fatalf("expected offer price 70, got %s", view.Lines[0].UnitPrice)
	}
}

func TestAddToCartFallsBackWhenOffersDown(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("100", 5)
	discount := decimal.RequireFromString("80")
	catalog.products[productID].DiscountPrice = &discount
	offers := &fakeOffers{err: pkgerrors.New(pkgerrors.CodeDependency, "offers unreachable")}
	svc := newTestService(t, NewRepository(gdb), catalog, offers)

	view, err := svc.AddToCart(context.Background(), uuid.New(), productID, 1)
	if err != nil {
		t.Fatalf("add should survive an offers outage: %v", err)
	}
	if view.Lines[0].UnitPrice.String() != "80" {
		t.Fatalf("expected discount price fallback 80, got %s", view.Lines[0].UnitPrice)
	}
}

type failingCreateRepo struct {
	Repository
}

func (f *failingCreateRepo) CreateLine(ctx context.Context, line *models.CartLine) error {
	return errors.New("disk full")
}

func (f *failingCreateRepo) WithTx(tx *gorm.DB) Repository { return f }

func TestAddToCartCompensatesOnPersistFailure(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 5)
	repo := &failingCreateRepo{Repository: NewRepository(gdb)}
	svc := newTestService(t, repo, catalog, nil)

	_, err := svc.AddToCart(context.Background(), uuid.New(), productID, 2)
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if catalog.released[productID] != 2 {
		t.Fatalf("expected compensating release of 2, got %d", catalog.released[productID])
	}
	if snapshot := catalog.products[productID]; snapshot.Stock != 5 {
		t.Fatalf("stock should be restored to 5, got %d", snapshot.Stock)
	}
}

func TestUpdateQuantityReservesDelta(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.UpdateQuantity(ctx, userID, productID, 6); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if catalog.reserved[productID] != 6 {
		t.Fatalf("expected 6 reserved after growth, got %d", catalog.reserved[productID])
	}

	if _, err := svc.UpdateQuantity(ctx, userID, productID, 1); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if catalog.released[productID] != 5 {
		t.Fatalf("expected 5 released on shrink, got %d", catalog.released[productID])
	}
	if got := lineQty(t, gdb, productID); got != 1 {
		t.Fatalf("expected qty 1, got %d", got)
	}
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 4); err != nil {
		t.Fatalf("add: %v", err)
	}
	view, err := svc.UpdateQuantity(ctx, userID, productID, 0)
	if err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected empty cart")
	}
	if catalog.released[productID] != 4 {
		t.Fatalf("expected full release of 4, got %d", catalog.released[productID])
	}
}

func TestUpdateQuantityInsufficientStockLeavesStateAlone(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 3)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := svc.UpdateQuantity(ctx, userID, productID, 8)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := lineQty(t, gdb, productID); got != 2 {
		t.Fatalf("qty must stay 2, got %d", got)
	}
	if catalog.reserved[productID] != 2 {
		t.Fatalf("no extra reservation allowed, got %d", catalog.reserved[productID])
	}
}

func TestRemoveItemReleasesAndIsNotIdempotent(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.RemoveItem(ctx, userID, productID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if catalog.released[productID] != 3 {
		t.Fatalf("expected release of 3, got %d", catalog.released[productID])
	}

	_, err := svc.RemoveItem(ctx, userID, productID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("second remove must be NotFound, got %v", err)
	}
	if catalog.released[productID] != 3 {
		t.Fatalf("second remove must not release again, got %d", catalog.released[productID])
	}
}

func TestClearCartReleasesEverything(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	first := catalog.add("10", 20)
	second := catalog.add("20", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, first, 2); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if _, err := svc.AddToCart(ctx, userID, second, 5); err != nil {
		t.Fatalf("add second: %v", err)
	}

	if err := svc.ClearCart(ctx, userID, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if catalog.released[first] != 2 || catalog.released[second] != 5 {
		t.Fatalf("expected full releases, got %d and %d", catalog.released[first], catalog.released[second])
	}

	view, err := svc.GetCartForUser(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("cart should be empty")
	}
}

func TestClearCartOnOrderCompleteKeepsReservations(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 4); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.ClearCart(ctx, userID, true); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if catalog.released[productID] != 0 {
		t.Fatalf("checkout must not release consumed stock, got %d", catalog.released[productID])
	}
	if got := lineQty(t, gdb, productID); got != 0 {
		t.Fatalf("lines should be gone, got qty %d", got)
	}
}

func TestGetCartEvictsOutOfStockLine(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 3); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Another buyer drains the remaining stock out from under the cart.
	catalog.mu.Lock()
	catalog.products[productID].Stock = 0
	catalog.mu.Unlock()

	view, err := svc.GetCartForUser(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("out-of-stock line should be evicted")
	}
	if catalog.released[productID] != 3 {
		t.Fatalf("eviction must release the reserved 3, got %d", catalog.released[productID])
	}
	if got := lineQty(t, gdb, productID); got != 0 {
		t.Fatalf("line should be deleted, got qty %d", got)
	}
}

func TestGetCartKeepsLineWhenCatalogDown(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	catalog.mu.Lock()
	catalog.fetchErr = pkgerrors.New(pkgerrors.CodeDependency, "catalog unreachable")
	catalog.mu.Unlock()

	view, err := svc.GetCartForUser(ctx, userID)
	if err != nil {
		t.Fatalf("degraded read must not fail: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("line must be kept, got %d lines", len(view.Lines))
	}
	if view.Lines[0].Availability != enums.LineAvailabilityUnknown {
		t.Fatalf("expected unknown availability, got %s", view.Lines[0].Availability)
	}
	if view.Lines[0].Purchasable {
		t.Fatalf("unvalidated line must not be purchasable")
	}
	if catalog.released[productID] != 0 {
		t.Fatalf("degraded read must not release anything")
	}
}

func TestGetCartEvictsGoneProduct(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	catalog.mu.Lock()
	delete(catalog.products, productID)
	catalog.mu.Unlock()

	view, err := svc.GetCartForUser(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("gone product should be evicted")
	}
	if catalog.released[productID] != 2 {
		t.Fatalf("eviction must release the reserved 2, got %d", catalog.released[productID])
	}
}

func TestGetCartForUnknownUserIsEmpty(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	svc := newTestService(t, NewRepository(gdb), newFakeCatalog(), nil)

	view, err := svc.GetCartForUser(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.Lines) != 0 || view.ItemCount != 0 || !view.Subtotal.IsZero() {
		t.Fatalf("expected empty view, got %+v", view)
	}
}

func TestRemoveItemsReleasesEachLine(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	first := catalog.add("10", 20)
	second := catalog.add("20", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, first, 2); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if _, err := svc.AddToCart(ctx, userID, second, 5); err != nil {
		t.Fatalf("add second: %v", err)
	}

	view, err := svc.RemoveItems(ctx, userID, []uuid.UUID{first, second})
	if err != nil {
		t.Fatalf("remove items: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(view.Lines))
	}
	if catalog.released[first] != 2 || catalog.released[second] != 5 {
		t.Fatalf("expected full releases 2/5, got %d/%d",
			catalog.released[first], catalog.released[second])
	}
}

func TestRemoveItemsAbortsOnFirstMissingLine(t *testing.T) {
	t.Parallel()
	gdb := newTestDB(t)
	catalog := newFakeCatalog()
	productID := catalog.add("10", 20)
	svc := newTestService(t, NewRepository(gdb), catalog, nil)
	userID := uuid.New()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, userID, productID, 4); err != nil {
		t.Fatalf("add: %v", err)
	}

	_, err := svc.RemoveItems(ctx, userID, []uuid.UUID{uuid.New(), productID})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected NotFound on missing line, got %v", err)
	}
	if got := lineQty(t, gdb, productID); got != 4 {
		t.Fatalf("abort must leave later lines untouched, qty %d", got)
	}
	if catalog.released[productID] != 0 {
		t.Fatalf("abort must not release, got %d", catalog.released[productID])
	}

	if _, err := svc.RemoveItems(ctx, userID, nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("empty batch must be rejected, got %v", err)
	}
}

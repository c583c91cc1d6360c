package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	catalogclient "github.com/shoplane/shoplane-backend/pkg/clients/catalog"
	offersclient "github.com/shoplane/shoplane-backend/pkg/clients/offers"
	"github.com/shoplane/shoplane-backend/pkg/db/models"
	"github.com/shoplane/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
	"github.com/shoplane/shoplane-backend/pkg/locks"
	"github.com/shoplane/shoplane-backend/pkg/logger"
	"github.com/shoplane/shoplane-backend/pkg/metrics"
	"github.com/shoplane/shoplane-backend/pkg/money"
)

const (
	opAdd    = "add_to_cart"
	opUpdate = "update_quantity"
	opRemove = "remove_item"
	opClear  = "clear_cart"
	opGet    = "get_cart"
)

type catalogClient interface {
	Fetch(ctx context.Context, productID uuid.UUID) (*catalogclient.ProductSnapshot, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error
	Release(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error
}

type offersClient interface {
	BestOffer(ctx context.Context, input offersclient.BestOfferRequest) (*offersclient.BestOfferResponse, error)
}

// LineView is one cart line as presented to the storefront.
type LineView struct {
	ProductID    uuid.UUID
	Quantity     int
	UnitPrice    decimal.Decimal
	LineTotal    decimal.Decimal
	Availability enums.LineAvailability
	Purchasable  bool
}

// CartView is the storefront cart read model: surviving lines plus the
// derived totals.
type CartView struct {
	CartID    uuid.UUID
	UserID    uuid.UUID
	Lines     []LineView
	Subtotal  decimal.Decimal
	ItemCount int
}

// Service coordinates cart mutations with the catalog stock ledger. Every
// quantity change reserves or releases the matching stock delta before the
// cart line is persisted.
type Service interface {
	AddToCart(ctx context.Context, userID, productID uuid.UUID, requestedQty int) (*CartView, error)
	UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, newQty int) (*CartView, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error)
	RemoveItems(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) (*CartView, error)
	ClearCart(ctx context.Context, userID uuid.UUID, orderComplete bool) error
	GetCartForUser(ctx context.Context, userID uuid.UUID) (*CartView, error)
}

type service struct {
	repo    Repository
	catalog catalogClient
	offers  offersClient
	locks   *locks.Keyed
	maxQty  int
	metrics *metrics.CartMetrics
	logg    *logger.Logger
}

// NewService builds the cart coordinator. maxQty <= 0 falls back to 10.
func NewService(repo Repository, catalog catalogClient, offers offersClient, keyed *locks.Keyed, maxQty int, m *metrics.CartMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if offers == nil {
		return nil, fmt.Errorf("offers client required")
	}
	if keyed == nil {
		keyed = locks.NewKeyed()
	}
	if maxQty <= 0 {
		maxQty = 10
	}
	return &service{
		repo:    repo,
		catalog: catalog,
		offers:  offers,
		locks:   keyed,
		maxQty:  maxQty,
		metrics: m,
		logg:    logg,
	}, nil
}

// AddToCart reserves stock for the requested quantity and then persists the
// cart line. Quantities clamp to [1,maxQty] per line; an existing line grows
// by the clamped extra only, and nothing is reserved partially.
func (s *service) AddToCart(ctx context.Context, userID, productID uuid.UUID, requestedQty int) (*CartView, error) {
	if userID == uuid.Nil || productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and product id are required")
	}
	if requestedQty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	lockKey := "cart:" + userID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	snapshot, err := s.fetchProduct(ctx, productID, opAdd)
	if err != nil {
		return nil, err
	}
	if snapshot.Blocked || snapshot.CategoryBlocked {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product unavailable")
	}
	if snapshot.Stock < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "product is out of stock")
	}

	if requestedQty > s.maxQty {
		requestedQty = s.maxQty
	}

	cart, err := s.repo.FindOrCreateByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}

	line, err := s.repo.FindLine(ctx, cart.ID, productID)
	switch {
	case err == nil:
		if err := s.growExistingLine(ctx, cart, line, snapshot, requestedQty); err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.createNewLine(ctx, cart, snapshot, requestedQty); err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart line")
	}

	return s.viewForUser(ctx, userID)
}

func (s *service) growExistingLine(ctx context.Context, cart *models.Cart, line *models.CartLine, snapshot *catalogclient.ProductSnapshot, requestedQty int) error {
	newQty := line.Quantity + requestedQty
	if newQty > s.maxQty {
		newQty = s.maxQty
	}
	extra := newQty - line.Quantity
	if extra <= 0 {
		return nil
	}
	if snapshot.Stock < extra {
		return pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("only %d left", snapshot.Stock)).
			WithDetails(map[string]any{"available": snapshot.Stock, "requested": extra})
	}

	saga := newReservationSaga(s.catalog, s.metrics, s.logg, opAdd, cart.ID, line.ProductID, extra)
	if err := saga.reserve(ctx); err != nil {
		return err
	}

	line.Quantity = newQty
	line.UnitPriceSnapshot = s.snapshotPrice(ctx, snapshot)
	if err := s.repo.UpdateLine(ctx, line); err != nil {
		saga.compensate(ctx)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update cart line")
	}
	saga.commit()
	return nil
}

func (s *service) createNewLine(ctx context.Context, cart *models.Cart, snapshot *catalogclient.ProductSnapshot, requestedQty int) error {
	qtyToAdd := requestedQty
	if snapshot.Stock < qtyToAdd {
		qtyToAdd = snapshot.Stock
	}
	if qtyToAdd < 1 {
		return pkgerrors.New(pkgerrors.CodeOutOfStock, "product is out of stock")
	}

	saga := newReservationSaga(s.catalog, s.metrics, s.logg, opAdd, cart.ID, snapshot.ProductID, qtyToAdd)
	if err := saga.reserve(ctx); err != nil {
		return err
	}

	line := models.CartLine{
		ID:                uuid.New(),
		CartID:            cart.ID,
		ProductID:         snapshot.ProductID,
		Quantity:          qtyToAdd,
		UnitPriceSnapshot: s.snapshotPrice(ctx, snapshot),
	}
	if err := s.repo.CreateLine(ctx, &line); err != nil {
		saga.compensate(ctx)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create cart line")
	}
	saga.commit()
	return nil
}

// UpdateQuantity moves a line to newQty, reserving or releasing exactly the
// delta. newQty of 0 removes the line.
func (s *service) UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, newQty int) (*CartView, error) {
	if userID == uuid.Nil || productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and product id are required")
	}
	if newQty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if newQty == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	lockKey := "cart:" + userID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	cart, line, err := s.findLineForUser(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.fetchProduct(ctx, productID, opUpdate)
	if err != nil {
		return nil, err
	}
	if snapshot.Blocked || snapshot.CategoryBlocked {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product unavailable")
	}

	if newQty > s.maxQty {
		newQty = s.maxQty
	}

	delta := newQty - line.Quantity
	switch {
	case delta > 0:
		if snapshot.Stock < delta {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("only %d left", snapshot.Stock)).
				WithDetails(map[string]any{"available": snapshot.Stock, "requested": delta})
		}
		saga := newReservationSaga(s.catalog, s.metrics, s.logg, opUpdate, cart.ID, productID, delta)
		if err := saga.reserve(ctx); err != nil {
			return nil, err
		}
		line.Quantity = newQty
		line.UnitPriceSnapshot = s.snapshotPrice(ctx, snapshot)
		if err := s.repo.UpdateLine(ctx, line); err != nil {
			saga.compensate(ctx)
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update cart line")
		}
		saga.commit()
	case delta < 0:
		if err := s.release(ctx, productID, -delta, opUpdate); err != nil {
			return nil, err
		}
		line.Quantity = newQty
		line.UnitPriceSnapshot = s.snapshotPrice(ctx, snapshot)
		if err := s.repo.UpdateLine(ctx, line); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update cart line")
		}
	default:
		line.UnitPriceSnapshot = s.snapshotPrice(ctx, snapshot)
		if err := s.repo.UpdateLine(ctx, line); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refresh cart line")
		}
	}

	return s.viewForUser(ctx, userID)
}

// RemoveItem releases the line's full reserved quantity and deletes it.
func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error) {
	if userID == uuid.Nil || productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and product id are required")
	}

	lockKey := "cart:" + userID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	if err := s.removeLine(ctx, userID, productID); err != nil {
		return nil, err
	}
	return s.viewForUser(ctx, userID)
}

// RemoveItems removes a batch of lines; the first missing line aborts with
// NotFound before any further mutation.
func (s *service) RemoveItems(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) (*CartView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if len(productIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one product id is required")
	}

	lockKey := "cart:" + userID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	for _, productID := range productIDs {
		if err := s.removeLine(ctx, userID, productID); err != nil {
			return nil, err
		}
	}
	return s.viewForUser(ctx, userID)
}

func (s *service) removeLine(ctx context.Context, userID, productID uuid.UUID) error {
	_, line, err := s.findLineForUser(ctx, userID, productID)
	if err != nil {
		return err
	}
	if err := s.release(ctx, productID, line.Quantity, opRemove); err != nil {
		return err
	}
	if err := s.repo.DeleteLine(ctx, line.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete cart line")
	}
	return nil
}

// ClearCart empties the cart. orderComplete means checkout consumed the
// stock, so reservations are not released back; otherwise each line's full
// quantity is returned to the ledger. Lines whose release fails stay in the
// cart so the reservation is not orphaned.
func (s *service) ClearCart(ctx context.Context, userID uuid.UUID, orderComplete bool) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	lockKey := "cart:" + userID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}

	if orderComplete {
		if err := s.repo.DeleteLinesByCart(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear cart lines")
		}
		return nil
	}

	var failed error
	for _, line := range cart.Lines {
		if err := s.release(ctx, line.ProductID, line.Quantity, opClear); err != nil {
			failed = multierr.Append(failed, err)
			continue
		}
		if err := s.repo.DeleteLine(ctx, line.ID); err != nil {
			failed = multierr.Append(failed, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete cart line"))
		}
	}
	if failed != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, failed, "clear cart")
	}
	return nil
}

// GetCartForUser returns the cart after re-validating every line against
// the catalog. Gone, blocked, or out-of-stock products are evicted and
// their reservations released; catalog outages leave the line flagged
// unknown rather than failing the read.
func (s *service) GetCartForUser(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	lockKey := "cart:" + userID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	return s.viewForUser(ctx, userID)
}

func (s *service) viewForUser(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &CartView{UserID: userID, Lines: []LineView{}, Subtotal: decimal.Zero}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}

	view := &CartView{
		CartID:   cart.ID,
		UserID:   userID,
		Lines:    make([]LineView, 0, len(cart.Lines)),
		Subtotal: decimal.Zero,
	}

	for _, line := range cart.Lines {
		snapshot, err := s.catalog.Fetch(ctx, line.ProductID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				s.evictLine(ctx, cart.ID, line, "product_gone")
				continue
			}
			s.metrics.IncUpstreamFailure("catalog", opGet)
			if s.logg != nil {
				logCtx := s.logg.WithProductID(ctx, line.ProductID.String())
				s.logg.Warn(logCtx, "cart line kept without re-validation: catalog unreachable")
			}
			view.Lines = append(view.Lines, lineView(line, enums.LineAvailabilityUnknown, false))
			view.Subtotal = view.Subtotal.Add(line.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(line.Quantity))))
			view.ItemCount += line.Quantity
			continue
		}

		switch {
		case snapshot.Blocked || snapshot.CategoryBlocked:
			s.evictLine(ctx, cart.ID, line, "blocked")
			continue
		case snapshot.Stock < 1:
			s.evictLine(ctx, cart.ID, line, "out_of_stock")
			continue
		}

		view.Lines = append(view.Lines, lineView(line, enums.LineAvailabilityOK, true))
		view.Subtotal = view.Subtotal.Add(line.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(line.Quantity))))
		view.ItemCount += line.Quantity
	}

	view.Subtotal = money.Round(view.Subtotal)
	return view, nil
}

// evictLine removes a no-longer-purchasable line and returns its reserved
// stock. A failed release here is a leak and is logged like a failed saga
// compensation.
func (s *service) evictLine(ctx context.Context, cartID uuid.UUID, line models.CartLine, reason string) {
	if err := s.catalog.Release(ctx, line.ProductID, line.Quantity, uuid.NewString()); err != nil {
		s.metrics.IncReservationLeak(opGet)
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"product_id": line.ProductID.String(),
				"cart_id":    cartID.String(),
				"qty":        line.Quantity,
				"reason":     reason,
			})
			s.logg.Error(logCtx, "reservation leak: eviction release failed", err)
		}
	}
	if err := s.repo.DeleteLine(ctx, line.ID); err != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "evict cart line", err)
		}
		return
	}
	s.metrics.IncLineEviction(reason)
}

func (s *service) findLineForUser(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, *models.CartLine, error) {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	line, err := s.repo.FindLine(ctx, cart.ID, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart line")
	}
	return cart, line, nil
}

func (s *service) fetchProduct(ctx context.Context, productID uuid.UUID, operation string) (*catalogclient.ProductSnapshot, error) {
	snapshot, err := s.catalog.Fetch(ctx, productID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		s.metrics.IncUpstreamFailure("catalog", operation)
		return nil, err
	}
	return snapshot, nil
}

// release issues a stock release for an already-held reservation. Transport
// failure surfaces as Dependency and the caller leaves local state alone.
func (s *service) release(ctx context.Context, productID uuid.UUID, qty int, operation string) error {
	if qty < 1 {
		return nil
	}
	err := s.catalog.Release(ctx, productID, qty, uuid.NewString())
	if err != nil {
		s.metrics.IncUpstreamFailure("catalog", operation)
		return err
	}
	return nil
}

// snapshotPrice resolves the unit price recorded on the line: best-offer
// final price when the engine is reachable and finds a discount, then the
// product's own discount price, then list price. Offer engine outages fall
// through silently so pricing never blocks the cart.
func (s *service) snapshotPrice(ctx context.Context, snapshot *catalogclient.ProductSnapshot) decimal.Decimal {
	best, err := s.offers.BestOffer(ctx, offersclient.BestOfferRequest{
		ProductID:     &snapshot.ProductID,
		CategoryID:    &snapshot.CategoryID,
		OriginalPrice: snapshot.Price,
	})
	if err != nil {
		s.metrics.IncUpstreamFailure("offers", "best_offer")
		if s.logg != nil {
			logCtx := s.logg.WithProductID(ctx, snapshot.ProductID.String())
			s.logg.Warn(logCtx, "offer lookup failed, falling back to catalog price")
		}
	} else if best.AppliedScope != enums.OfferScopeNone {
		return money.Round(best.FinalPrice)
	}

	if snapshot.DiscountPrice != nil && snapshot.DiscountPrice.GreaterThan(decimal.Zero) && snapshot.DiscountPrice.LessThan(snapshot.Price) {
		return money.Round(*snapshot.DiscountPrice)
	}
	return money.Round(snapshot.Price)
}

func lineView(line models.CartLine, availability enums.LineAvailability, purchasable bool) LineView {
	return LineView{
		ProductID:    line.ProductID,
		Quantity:     line.Quantity,
		UnitPrice:    line.UnitPriceSnapshot,
		LineTotal:    money.Round(line.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(line.Quantity)))),
		Availability: availability,
		Purchasable:  purchasable,
	}
}

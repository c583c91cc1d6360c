package cart

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shoplane/shoplane-backend/pkg/logger"
	"github.com/shoplane/shoplane-backend/pkg/metrics"
)

// ReservationState tracks one stock reservation through its lifecycle.
// Happy path: PENDING_RESERVE -> RESERVED -> COMMITTED. When the local
// write fails after a successful reserve the saga compensates:
// RESERVED -> COMPENSATING -> COMPENSATED, or COMPENSATION_FAILED when the
// release also fails and stock has leaked.
type ReservationState string

const (
	StatePendingReserve     ReservationState = "PENDING_RESERVE"
	StateReserved           ReservationState = "RESERVED"
	StateCommitted          ReservationState = "COMMITTED"
	StateCompensating       ReservationState = "COMPENSATING"
	StateCompensated        ReservationState = "COMPENSATED"
	StateCompensationFailed ReservationState = "COMPENSATION_FAILED"
)

type stockReserver interface {
	Reserve(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error
	Release(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error
}

// reservationSaga coordinates a single reserve-then-persist sequence. Each
// saga carries its own idempotency key so the ledger can de-duplicate a
// transport-level retry without collapsing distinct deltas.
type reservationSaga struct {
	catalog   stockReserver
	metrics   *metrics.CartMetrics
	logg      *logger.Logger
	operation string

	productID uuid.UUID
	cartID    uuid.UUID
	qty       int
	idemKey   string
	state     ReservationState
}

func newReservationSaga(catalog stockReserver, m *metrics.CartMetrics, logg *logger.Logger, operation string, cartID, productID uuid.UUID, qty int) *reservationSaga {
	return &reservationSaga{
		catalog:   catalog,
		metrics:   m,
		logg:      logg,
		operation: operation,
		productID: productID,
		cartID:    cartID,
		qty:       qty,
		idemKey:   uuid.NewString(),
		state:     StatePendingReserve,
	}
}

// reserve claims qty units of stock. The saga stays PENDING_RESERVE on
// failure so commit and compensate become no-ops.
func (s *reservationSaga) reserve(ctx context.Context) error {
	start := time.Now()
	err := s.catalog.Reserve(ctx, s.productID, s.qty, s.idemKey)
	s.metrics.ObserveStockOp("reserve", time.Since(start))
	if err != nil {
		s.metrics.IncUpstreamFailure("catalog", s.operation)
		return err
	}
	s.state = StateReserved
	return nil
}

// commit marks the reservation as owned by a persisted cart line.
func (s *reservationSaga) commit() {
	if s.state == StateReserved {
		s.state = StateCommitted
	}
}

// compensate returns the reserved stock after a local-write failure. A
// failed release means the units are leaked until reconciliation; that is
// logged with everything needed to repair it by hand and counted.
func (s *reservationSaga) compensate(ctx context.Context) {
	if s.state != StateReserved {
		return
	}
	s.state = StateCompensating

	start := time.Now()
	err := s.catalog.Release(ctx, s.productID, s.qty, uuid.NewString())
	s.metrics.ObserveStockOp("release", time.Since(start))
	if err == nil {
		s.state = StateCompensated
		return
	}

	s.state = StateCompensationFailed
	s.metrics.IncReservationLeak(s.operation)
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id": s.productID.String(),
			"cart_id":    s.cartID.String(),
			"qty":        s.qty,
			"idem_key":   s.idemKey,
			"leaked_at":  time.Now().UTC().Format(time.RFC3339),
		})
		s.logg.Error(logCtx, "reservation leak: compensating release failed", err)
	}
}

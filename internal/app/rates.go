/**
 * @description
 * This file implements the rate reservation manager. Reservations pin an
 * exchange rate for a currency pair and amount; POST /rate creates them and
 * POST /rate/refresh either extends one (live rate still within tolerance)
 * or replaces it with a fresh reservation at the live rate.
 *
 * @notes
 * - Concurrent refreshes of the same reservation race on an optimistic
 *   updated_at guard; the loser re-reads and re-evaluates instead of
 *   surfacing a conflict, so both callers leave holding a valid reservation.
 * - Refreshing an already-expired reservation is allowed: the tolerance
 *   check decides extension vs. replacement exactly as for a live one.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/store"
	"github.com/wavepay/ledger-service/pkg/exchangeclient"
)

// refreshMaxRetries bounds how often a refresh re-reads after losing the
// optimistic update race.
const refreshMaxRetries = 5

// RateService manages exchange-rate reservations. It is the only writer of
// the exchange_rates table.
type RateService struct {
	repo      store.Repository
	gateway   ExchangeGateway
	quoteTTL  time.Duration
	tolerance decimal.Decimal // relative drift allowance, in percent
	now       func() time.Time
}

// NewRateService creates a RateService.
func NewRateService(repo store.Repository, gateway ExchangeGateway, quoteTTL time.Duration, tolerancePercent float64) *RateService {
	return &RateService{
		repo:      repo,
		gateway:   gateway,
		quoteTTL:  quoteTTL,
		tolerance: decimal.NewFromFloat(tolerancePercent),
		now:       time.Now,
	}
}

// Reserve quotes the pair through the exchange gateway and holds the rate
// until expiration. The caller-supplied id makes the call idempotent:
// repeating it returns the reservation already held, untouched.
func (s *RateService) Reserve(ctx context.Context, req domain.RateRequest) (*domain.ExchangeRateReservation, error) {
	if req.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: reservation id required", ErrInvalidValue)
	}
	if !req.From.Valid() || !req.To.Valid() || req.From == req.To {
		return nil, ErrInvalidCurrencyPair
	}
	if req.Amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidValue)
	}

	quote, err := s.quote(ctx, req.ID, req.From, req.To, req.Amount)
	if err != nil {
		return nil, err
	}

	reservation := &domain.ExchangeRateReservation{
		ID:             req.ID,
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		AmountCurrency: req.From,
		Rate:           quote,
		Expiration:     s.now().Add(s.quoteTTL),
	}
	stored, created, err := s.repo.InsertReservation(ctx, reservation)
	if err != nil {
		return nil, err
	}
	if !created {
		log.Printf("level=info component=rates msg=\"reservation replayed\" exchange_id=%s", req.ID)
	}
	return stored, nil
}

// Refresh re-quotes the pair. Within tolerance the stored reservation keeps
// its rate and gets a new expiration; outside tolerance a brand-new
// reservation at the live rate is created and the old row is left to expire.
func (s *RateService) Refresh(ctx context.Context, exchangeID uuid.UUID) (*domain.RateRefreshResponse, error) {
	for attempt := 0; attempt < refreshMaxRetries; attempt++ {
		reservation, err := s.repo.FindReservationByID(ctx, exchangeID)
		if err != nil {
			return nil, err
		}

		live, err := s.quote(ctx, reservation.ID, reservation.From, reservation.To, reservation.Amount)
		if err != nil {
			return nil, err
		}

		if s.withinTolerance(reservation.Rate, live) {
			extended, err := s.repo.ExtendReservation(ctx, reservation.ID, s.now().Add(s.quoteTTL), reservation.UpdatedAt)
			if err != nil {
				return nil, err
			}
			if !extended {
				// A concurrent refresh moved the row; re-read and re-evaluate.
				continue
			}
			refreshed, err := s.repo.FindReservationByID(ctx, reservation.ID)
			if err != nil {
				return nil, err
			}
			return &domain.RateRefreshResponse{Exchange: *refreshed, IsNewRate: false}, nil
		}

		replacement := &domain.ExchangeRateReservation{
			ID:             uuid.New(),
			From:           reservation.From,
			To:             reservation.To,
			Amount:         reservation.Amount,
			AmountCurrency: reservation.AmountCurrency,
			Rate:           live,
			Expiration:     s.now().Add(s.quoteTTL),
		}
		stored, _, err := s.repo.InsertReservation(ctx, replacement)
		if err != nil {
			return nil, err
		}
		log.Printf("level=info component=rates msg=\"rate drifted outside tolerance; issued new reservation\" old_exchange_id=%s new_exchange_id=%s", reservation.ID, stored.ID)
		return &domain.RateRefreshResponse{Exchange: *stored, IsNewRate: true}, nil
	}
	return nil, fmt.Errorf("refresh contention on reservation %s: retries exhausted", exchangeID)
}

func (s *RateService) quote(ctx context.Context, id uuid.UUID, from, to domain.Currency, amount domain.Amount) (decimal.Decimal, error) {
	resp, err := s.gateway.GetRate(ctx, exchangeclient.RateRequest{
		ID:     id,
		From:   from.String(),
		To:     to.String(),
		Amount: amount.String(),
	})
	if err != nil {
		if errors.Is(err, exchangeclient.ErrUnsupportedPair) {
			return decimal.Decimal{}, ErrInvalidCurrencyPair
		}
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.Rate.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: gateway quoted non-positive rate", ErrUpstreamUnavailable)
	}
	return resp.Rate, nil
}

func (s *RateService) withinTolerance(stored, live decimal.Decimal) bool {
	if stored.Sign() <= 0 {
		return false
	}
	drift := live.Sub(stored).Abs().Div(stored).Mul(decimal.NewFromInt(100))
	return drift.Cmp(s.tolerance) <= 0
}

/**
 * @description
 * This file defines the exchange-rate reservation model and its API DTOs.
 * A reservation pins an exchange rate for a currency pair and amount until
 * its expiration; the reservation id doubles as the caller's idempotency key.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExchangeRateReservation is a held exchange rate for (from -> to, amount).
// Rows are written only by the rate reservation manager.
type ExchangeRateReservation struct {
	ID             uuid.UUID       `json:"id"`
	From           Currency        `json:"from"`
	To             Currency        `json:"to"`
	Amount         Amount          `json:"amount"`
	AmountCurrency Currency        `json:"amount_currency"`
	Rate           decimal.Decimal `json:"rate"`
	Expiration     time.Time       `json:"expiration"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Expired reports whether the reservation can no longer back a transaction.
func (r *ExchangeRateReservation) Expired(now time.Time) bool {
	return !now.Before(r.Expiration)
}

// RateRequest is the DTO for POST /rate. ID is caller-supplied and makes the
// call idempotent: repeating it returns the already-held reservation.
type RateRequest struct {
	ID     uuid.UUID `json:"id"`
	From   Currency  `json:"from"`
	To     Currency  `json:"to"`
	Amount Amount    `json:"amount"`
}

// RateRefreshRequest is the DTO for POST /rate/refresh.
type RateRefreshRequest struct {
	ExchangeID uuid.UUID `json:"exchange_id"`
}

// RateRefreshResponse reports the reservation now in force. IsNewRate is
// true when the live rate drifted outside tolerance and a fresh reservation
// replaced the old one.
type RateRefreshResponse struct {
	Exchange  ExchangeRateReservation `json:"exchange"`
	IsNewRate bool                    `json:"is_new_rate"`
}

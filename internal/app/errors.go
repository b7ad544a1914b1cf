/**
 * @description
 * This file declares the business-rule errors the app layer surfaces to the
 * API layer. Storage errors (not found, insufficient funds, limit exceeded,
 * conflict) live in internal/store; the errors here cover validation that
 * happens before any row is written.
 */

package app

import "errors"

var (
	// ErrForbidden is returned when a caller touches a resource they do not own.
	ErrForbidden = errors.New("caller does not own this resource")
	// ErrInvalidCurrencyPair is returned for a pair the service cannot quote.
	ErrInvalidCurrencyPair = errors.New("invalid currency pair")
	// ErrRateExpired is returned when a transaction references a reservation
	// past its expiration.
	ErrRateExpired = errors.New("exchange rate reservation expired")
	// ErrMissingExchange is returned when currencies differ but no
	// reservation was referenced.
	ErrMissingExchange = errors.New("cross-currency transaction requires an exchange reservation")
	// ErrFeeTooLow is returned when the declared fee is below the computed minimum.
	ErrFeeTooLow = errors.New("declared fee below minimum")
	// ErrNotApproved is returned for token withdrawals from accounts lacking
	// withdrawal approval.
	ErrNotApproved = errors.New("account not approved for token withdrawal")
	// ErrInvalidValue is returned for zero-value transfers and other
	// nonsensical amounts.
	ErrInvalidValue = errors.New("invalid transaction value")
	// ErrSelfTransfer is returned when source and destination are the same account.
	ErrSelfTransfer = errors.New("source and destination are the same account")
	// ErrUpstreamUnavailable is returned when a dependency the operation
	// cannot proceed without is unreachable.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrRateLimited is returned when the submission throttle trips.
	ErrRateLimited = errors.New("too many requests")
)

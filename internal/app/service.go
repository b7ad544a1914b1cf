/**
 * @description
 * This file contains the core business logic for the ledger service. The
 * `Service` struct orchestrates account management and transaction
 * processing, coordinating the database repository, the exchange and keys
 * gateways, and the message broker.
 *
 * Key features:
 * - Implements transaction creation for all four shapes: internal transfers,
 *   withdrawals, cross-currency exchanges and cross-currency withdrawals.
 * - Validation is strictly side-effect free; the first write is the atomic
 *   multi-leg transfer, which either commits every ledger row or nothing.
 * - Withdrawal groups commit with pending legs and are handed to the
 *   settlement dispatcher through RabbitMQ.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/exchangeclient, pkg/keysclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/observability"
	"github.com/wavepay/ledger-service/internal/store"
	"github.com/wavepay/ledger-service/pkg/blockchainclient"
	"github.com/wavepay/ledger-service/pkg/exchangeclient"
	"github.com/wavepay/ledger-service/pkg/keysclient"
	"github.com/wavepay/ledger-service/pkg/rabbitmq"
)

const (
	// EventsExchange is the durable topic exchange all ledger events go through.
	EventsExchange = "ledger.events"
	// RoutingKeySettlementSubmit carries freshly committed withdrawal groups.
	RoutingKeySettlementSubmit = "settlement.submit"
	// RoutingKeySettlementRetry carries requeued settlement jobs.
	RoutingKeySettlementRetry = "settlement.retry"

	// Pagination bounds for list endpoints.
	DefaultPageLimit = 20
	MaxPageLimit     = 50

	submissionRateLimitScope = "tx_submit"
)

// ExchangeGateway is the slice of the exchange gateway client the service uses.
type ExchangeGateway interface {
	GetRate(ctx context.Context, req exchangeclient.RateRequest) (*exchangeclient.RateResponse, error)
	Execute(ctx context.Context, req exchangeclient.ExecuteRequest) error
	GetFeePrice(ctx context.Context, currency string) (*exchangeclient.FeePriceResponse, error)
}

// BlockchainGateway submits withdrawals to the chain.
type BlockchainGateway interface {
	Submit(ctx context.Context, req blockchainclient.SubmitRequest) (*blockchainclient.SubmitResponse, error)
}

// AddressProvisioner derives blockchain addresses for new accounts.
type AddressProvisioner interface {
	CreateAddress(ctx context.Context, accountID string, currency string) (*keysclient.CreateAddressResponse, error)
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo            store.Repository
	eventProducer   rabbitmq.Publisher
	exchange        ExchangeGateway
	keys            AddressProvisioner
	fees            *FeeCalculator
	limits          *LimitPolicy
	system          domain.SystemAccounts
	limiter         *RedisRateLimiter
	metrics         *observability.Metrics
	submissionLimit int
	now             func() time.Time
}

// NewService creates a new ledger service instance.
func NewService(
	repo store.Repository,
	producer rabbitmq.Publisher,
	exchange ExchangeGateway,
	keys AddressProvisioner,
	fees *FeeCalculator,
	limits *LimitPolicy,
	system domain.SystemAccounts,
	limiter *RedisRateLimiter,
	metrics *observability.Metrics,
	submissionLimitPerMinute int,
) *Service {
	return &Service{
		repo:            repo,
		eventProducer:   producer,
		exchange:        exchange,
		keys:            keys,
		fees:            fees,
		limits:          limits,
		system:          system,
		limiter:         limiter,
		metrics:         metrics,
		submissionLimit: submissionLimitPerMinute,
		now:             time.Now,
	}
}

// ResolveCaller maps the authenticated subject to its user record.
func (s *Service) ResolveCaller(ctx context.Context, subject string) (*domain.User, error) {
	return s.repo.FindUserBySubject(ctx, subject)
}

// normalizePage clamps pagination parameters to the allowed window.
func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return offset, limit
}

// CreateAccount provisions a blockchain address for the new account and
// stores it. Token accounts start without withdrawal approval; it is granted
// out of band once the on-chain approval confirms.
func (s *Service) CreateAccount(ctx context.Context, subject string, req domain.CreateAccountRequest) (*domain.Account, error) {
	user, err := s.ResolveCaller(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !req.Currency.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalidValue, req.Currency)
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s account", req.Currency)
	}

	addr, err := s.keys.CreateAddress(ctx, id.String(), req.Currency.String())
	if err != nil {
		return nil, fmt.Errorf("%w: address provisioning failed: %v", ErrUpstreamUnavailable, err)
	}

	account := &domain.Account{
		ID:                      id,
		UserID:                  user.ID,
		Currency:                req.Currency,
		Address:                 &addr.Address,
		Name:                    name,
		TokenWithdrawalApproved: !req.Currency.IsToken(),
	}
	return s.repo.CreateAccount(ctx, account)
}

// GetAccount returns one of the caller's accounts.
func (s *Service) GetAccount(ctx context.Context, subject string, accountID uuid.UUID) (*domain.Account, error) {
	_, account, err := s.ownedAccount(ctx, subject, accountID)
	return account, err
}

// UpdateAccount renames one of the caller's accounts.
func (s *Service) UpdateAccount(ctx context.Context, subject string, accountID uuid.UUID, req domain.UpdateAccountRequest) (*domain.Account, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidValue)
	}
	if _, _, err := s.ownedAccount(ctx, subject, accountID); err != nil {
		return nil, err
	}
	return s.repo.UpdateAccountName(ctx, accountID, req.Name)
}

// DeleteAccount deactivates one of the caller's accounts; its balance and
// ledger history are retained.
func (s *Service) DeleteAccount(ctx context.Context, subject string, accountID uuid.UUID) error {
	if _, _, err := s.ownedAccount(ctx, subject, accountID); err != nil {
		return err
	}
	return s.repo.DeactivateAccount(ctx, accountID)
}

// ListAccounts pages through the caller's own accounts.
func (s *Service) ListAccounts(ctx context.Context, subject string, userID uuid.UUID, offset, limit int) ([]domain.Account, error) {
	user, err := s.ResolveCaller(ctx, subject)
	if err != nil {
		return nil, err
	}
	if user.ID != userID {
		return nil, ErrForbidden
	}
	offset, limit = normalizePage(offset, limit)
	return s.repo.ListAccountsByUser(ctx, userID, offset, limit)
}

// GetAccountBalance returns the balance of one of the caller's accounts.
func (s *Service) GetAccountBalance(ctx context.Context, subject string, accountID uuid.UUID) (*domain.AccountBalance, error) {
	_, account, err := s.ownedAccount(ctx, subject, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.AccountBalance{AccountID: account.ID, Currency: account.Currency, Balance: account.Balance}, nil
}

// ListUserBalances returns the caller's balances across all active accounts.
func (s *Service) ListUserBalances(ctx context.Context, subject string, userID uuid.UUID) ([]domain.AccountBalance, error) {
	user, err := s.ResolveCaller(ctx, subject)
	if err != nil {
		return nil, err
	}
	if user.ID != userID {
		return nil, ErrForbidden
	}
	return s.repo.ListBalancesByUser(ctx, userID)
}

func (s *Service) ownedAccount(ctx context.Context, subject string, accountID uuid.UUID) (*domain.User, *domain.Account, error) {
	user, err := s.ResolveCaller(ctx, subject)
	if err != nil {
		return nil, nil, err
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if account.UserID != user.ID {
		return nil, nil, ErrForbidden
	}
	return user, account, nil
}

// transferPlan is the classified shape of a create request, ready for the
// atomic transfer.
type transferPlan struct {
	groupKind  string
	entries    []domain.LedgerEntry
	hasPending bool
}

// CreateTransaction validates, classifies and commits one transaction group.
// Steps 1-6 are pure validation with no side effects; the first write is the
// atomic transfer in step 7. Once that commits, downstream failures (exchange
// report, queue publish) are logged but never roll the ledger back.
func (s *Service) CreateTransaction(ctx context.Context, subject string, req domain.CreateTransactionRequest) (*domain.TransactionOut, error) {
	// 1. Resolve and authorize the caller
	user, err := s.ResolveCaller(ctx, subject)
	if err != nil {
		return nil, err
	}
	if req.UserID != uuid.Nil && req.UserID != user.ID {
		return nil, ErrForbidden
	}

	// 2. Throttle submissions per user
	if s.limiter != nil && s.submissionLimit > 0 {
		count, _, limitErr := s.limiter.ConsumeRateLimit(ctx, submissionRateLimitScope, user.ID.String(), s.submissionLimit, time.Minute)
		if limitErr != nil {
			log.Printf("level=warn component=service msg=\"submission limiter unavailable; allowing request\" user_id=%s err=%v", user.ID, limitErr)
		} else if count > s.submissionLimit {
			return nil, ErrRateLimited
		}
	}

	// 3. Validate the basic shape of the request
	if req.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: transaction id required", ErrInvalidValue)
	}
	if req.Value.IsZero() {
		return nil, fmt.Errorf("%w: value must be positive", ErrInvalidValue)
	}
	if !req.ValueCurrency.Valid() || !req.ToCurrency.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency", ErrInvalidValue)
	}

	fromAccount, err := s.repo.FindAccountByID(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if fromAccount.UserID != user.ID {
		return nil, ErrForbidden
	}
	if !fromAccount.Active {
		return nil, store.ErrAccountInactive
	}
	if fromAccount.Currency != req.ValueCurrency {
		return nil, fmt.Errorf("%w: funding account holds %s, not %s", ErrInvalidValue, fromAccount.Currency, req.ValueCurrency)
	}

	// 4. Resolve the destination; an address we host collapses to an
	// internal transfer
	toAccount, withdrawalAddress, err := s.resolveDestination(ctx, req)
	if err != nil {
		return nil, err
	}
	if toAccount != nil && toAccount.ID == fromAccount.ID {
		return nil, ErrSelfTransfer
	}

	// 5. Cross-currency transactions must reference a live reservation for
	// the exact pair
	var reservation *domain.ExchangeRateReservation
	toValue := req.Value
	if req.ValueCurrency != req.ToCurrency {
		if req.ExchangeID == nil {
			return nil, ErrMissingExchange
		}
		reservation, err = s.repo.FindReservationByID(ctx, *req.ExchangeID)
		if err != nil {
			return nil, err
		}
		if reservation.From != req.ValueCurrency || reservation.To != req.ToCurrency {
			return nil, fmt.Errorf("%w: reservation holds %s->%s", ErrInvalidCurrencyPair, reservation.From, reservation.To)
		}
		if reservation.Expired(s.now()) {
			return nil, ErrRateExpired
		}
		if req.ExchangeRate != nil && !req.ExchangeRate.Equal(reservation.Rate) {
			return nil, fmt.Errorf("%w: quoted rate %s does not match reservation", ErrInvalidValue, req.ExchangeRate)
		}
		toValue, err = req.Value.Convert(reservation.Rate)
		if err != nil {
			return nil, err
		}
		if toValue.IsZero() {
			return nil, fmt.Errorf("%w: converted value rounds to zero", ErrInvalidValue)
		}
	} else if req.ExchangeID != nil {
		return nil, fmt.Errorf("%w: same-currency transaction must not reference an exchange", ErrInvalidValue)
	}

	// 6. Enforce the fee floor; the declared fee is validated, never replaced
	if err := s.checkFee(ctx, req, fromAccount, withdrawalAddress != nil); err != nil {
		return nil, err
	}

	// 7. Plan the ledger rows and commit them atomically together with the
	// balance moves and the rolling-window limit check
	plan := s.plan(req, user.ID, fromAccount, toAccount, withdrawalAddress, toValue)
	entries, err := s.repo.PerformTransfer(ctx, store.TransferParams{
		Entries: plan.entries,
		Limit:   s.limits.CheckFor(user.ID, req.ValueCurrency, req.Value),
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TransactionsCreated.WithLabelValues(plan.groupKind).Inc()
	}

	// 8. Report consumed exchanges; the committed ledger stands even if the
	// gateway call fails
	if reservation != nil {
		if execErr := s.exchange.Execute(ctx, exchangeclient.ExecuteRequest{
			ID:           reservation.ID,
			From:         reservation.From.String(),
			To:           reservation.To.String(),
			ActualAmount: req.Value.String(),
			Rate:         reservation.Rate,
		}); execErr != nil {
			log.Printf("level=error component=service msg=\"exchange execution report failed\" exchange_id=%s gid=%s err=%v", reservation.ID, req.ID, execErr)
		}
	}

	// 9. Hand pending withdrawal legs to the settlement dispatcher
	if plan.hasPending {
		job := domain.SettlementJob{TransactionID: req.ID, EnqueuedAt: s.now()}
		if pubErr := s.eventProducer.Publish(ctx, EventsExchange, RoutingKeySettlementSubmit, job); pubErr != nil {
			log.Printf("level=error component=service msg=\"failed to enqueue settlement job\" gid=%s err=%v", req.ID, pubErr)
		}
	}

	return s.foldGroup(ctx, entries)
}

// resolveDestination returns the internal destination account, or the raw
// withdrawal address when the transaction leaves the ledger. Exactly one of
// the two is non-nil.
func (s *Service) resolveDestination(ctx context.Context, req domain.CreateTransactionRequest) (*domain.Account, *string, error) {
	switch req.ToType {
	case domain.ReceiverAccount:
		toID, err := uuid.Parse(req.To)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: destination is not an account id", ErrInvalidValue)
		}
		account, err := s.repo.FindAccountByID(ctx, toID)
		if err != nil {
			return nil, nil, err
		}
		if !account.Active {
			return nil, nil, store.ErrAccountInactive
		}
		if account.Currency != req.ToCurrency {
			return nil, nil, fmt.Errorf("%w: destination account holds %s, not %s", ErrInvalidValue, account.Currency, req.ToCurrency)
		}
		return account, nil, nil
	case domain.ReceiverAddress:
		if req.To == "" {
			return nil, nil, fmt.Errorf("%w: destination address required", ErrInvalidValue)
		}
		hosted, err := s.repo.FindAccountByAddress(ctx, req.To)
		if err == nil {
			if hosted.Currency != req.ToCurrency {
				return nil, nil, fmt.Errorf("%w: address belongs to a %s account", ErrInvalidValue, hosted.Currency)
			}
			return hosted, nil, nil
		}
		if !errors.Is(err, store.ErrAccountNotFound) {
			return nil, nil, err
		}
		addr := req.To
		return nil, &addr, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown destination type %q", ErrInvalidValue, req.ToType)
	}
}

func (s *Service) checkFee(ctx context.Context, req domain.CreateTransactionRequest, fromAccount *domain.Account, external bool) error {
	if !external {
		if req.Fee.Cmp(s.fees.MinimumInternalFee()) < 0 {
			return ErrFeeTooLow
		}
		return nil
	}
	if fromAccount.Currency.IsToken() && !fromAccount.TokenWithdrawalApproved {
		return ErrNotApproved
	}
	minimum, err := s.fees.MinimumWithdrawalFee(ctx, fromAccount.Currency)
	if err != nil {
		return err
	}
	if req.Fee.Cmp(minimum) < 0 {
		return fmt.Errorf("%w: minimum is %s %s", ErrFeeTooLow, minimum, fromAccount.Currency)
	}
	return nil
}

// plan builds the group's ledger rows. Funding legs are debited value plus
// fee; the destination receives the (converted) value and the fee lands in
// the per-currency fee-collection account, so every group conserves value
// exactly.
func (s *Service) plan(req domain.CreateTransactionRequest, userID uuid.UUID, from, to *domain.Account, withdrawalAddress *string, toValue domain.Amount) *transferPlan {
	crossCurrency := req.ValueCurrency != req.ToCurrency
	plan := &transferPlan{}

	base := domain.LedgerEntry{
		GID:    req.ID,
		UserID: userID,
		Fee:    req.Fee,
	}

	switch {
	case !crossCurrency && to != nil:
		plan.groupKind = domain.GroupKindInternal
		leg := base
		leg.DrAccountID = from.ID
		leg.CrAccountID = to.ID
		leg.Currency = req.ValueCurrency
		leg.Value = req.Value
		leg.Status = domain.StatusDone
		leg.Kind = domain.KindInternal
		plan.entries = append(plan.entries, leg)

	case !crossCurrency:
		plan.groupKind = domain.GroupKindWithdrawal
		plan.hasPending = true
		leg := base
		leg.DrAccountID = from.ID
		leg.CrAccountID = s.system.Transfer[req.ToCurrency]
		leg.Currency = req.ToCurrency
		leg.Value = req.Value
		leg.Status = domain.StatusPending
		leg.Kind = domain.KindWithdrawal
		leg.WithdrawalAddress = withdrawalAddress
		plan.entries = append(plan.entries, leg)

	case to != nil:
		plan.groupKind = domain.GroupKindInternalMulti
		fromLeg := base
		fromLeg.DrAccountID = from.ID
		fromLeg.CrAccountID = s.system.Liquidity[req.ValueCurrency]
		fromLeg.Currency = req.ValueCurrency
		fromLeg.Value = req.Value
		fromLeg.Status = domain.StatusDone
		fromLeg.Kind = domain.KindMultiFrom

		toLeg := base
		toLeg.DrAccountID = s.system.Liquidity[req.ToCurrency]
		toLeg.CrAccountID = to.ID
		toLeg.Currency = req.ToCurrency
		toLeg.Value = toValue
		toLeg.Status = domain.StatusDone
		toLeg.Kind = domain.KindMultiTo
		plan.entries = append(plan.entries, fromLeg, toLeg)

	default:
		plan.groupKind = domain.GroupKindWithdrawalMulti
		plan.hasPending = true
		fromLeg := base
		fromLeg.DrAccountID = from.ID
		fromLeg.CrAccountID = s.system.Liquidity[req.ValueCurrency]
		fromLeg.Currency = req.ValueCurrency
		fromLeg.Value = req.Value
		fromLeg.Status = domain.StatusDone
		fromLeg.Kind = domain.KindMultiFrom

		withdrawalLeg := base
		withdrawalLeg.DrAccountID = s.system.Liquidity[req.ToCurrency]
		withdrawalLeg.CrAccountID = s.system.Transfer[req.ToCurrency]
		withdrawalLeg.Currency = req.ToCurrency
		withdrawalLeg.Value = toValue
		withdrawalLeg.Status = domain.StatusPending
		withdrawalLeg.Kind = domain.KindWithdrawal
		withdrawalLeg.WithdrawalAddress = withdrawalAddress
		plan.entries = append(plan.entries, fromLeg, withdrawalLeg)
	}

	if !req.Fee.IsZero() {
		feeLeg := base
		feeLeg.DrAccountID = from.ID
		feeLeg.CrAccountID = s.system.Fees[req.ValueCurrency]
		feeLeg.Currency = req.ValueCurrency
		feeLeg.Value = req.Fee
		feeLeg.Status = domain.StatusDone
		feeLeg.Kind = domain.KindFee
		plan.entries = append(plan.entries, feeLeg)
	}

	for i := range plan.entries {
		plan.entries[i].ID = uuid.New()
		plan.entries[i].GroupKind = plan.groupKind
	}
	return plan
}

// GetTransaction returns one folded transaction group. Visibility: the
// group's creator, or the owner of any account credited by it.
func (s *Service) GetTransaction(ctx context.Context, subject string, gid uuid.UUID) (*domain.TransactionOut, error) {
	user, err := s.ResolveCaller(ctx, subject)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.FindEntriesByGID(ctx, gid)
	if err != nil {
		return nil, err
	}
	if !s.groupVisibleTo(ctx, entries, user.ID) {
		return nil, store.ErrTransactionNotFound
	}
	return s.foldGroup(ctx, entries)
}

// ListUserTransactions pages through the caller's transaction groups, newest first.
func (s *Service) ListUserTransactions(ctx context.Context, subject string, userID uuid.UUID, offset, limit int) ([]domain.TransactionOut, error) {
	user, err := s.ResolveCaller(ctx, subject)
	if err != nil {
		return nil, err
	}
	if user.ID != userID {
		return nil, ErrForbidden
	}
	offset, limit = normalizePage(offset, limit)
	gids, err := s.repo.ListGroupIDsByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	return s.foldGroups(ctx, gids)
}

// ListAccountTransactions pages through groups touching one of the caller's
// accounts, newest first.
func (s *Service) ListAccountTransactions(ctx context.Context, subject string, accountID uuid.UUID, offset, limit int) ([]domain.TransactionOut, error) {
	if _, _, err := s.ownedAccount(ctx, subject, accountID); err != nil {
		return nil, err
	}
	offset, limit = normalizePage(offset, limit)
	gids, err := s.repo.ListGroupIDsByAccount(ctx, accountID, offset, limit)
	if err != nil {
		return nil, err
	}
	return s.foldGroups(ctx, gids)
}

func (s *Service) groupVisibleTo(ctx context.Context, entries []domain.LedgerEntry, userID uuid.UUID) bool {
	if entries[0].UserID == userID {
		return true
	}
	for _, e := range entries {
		account, err := s.repo.FindAccountByID(ctx, e.CrAccountID)
		if err == nil && account.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Service) foldGroups(ctx context.Context, gids []uuid.UUID) ([]domain.TransactionOut, error) {
	entries, err := s.repo.FindEntriesByGIDs(ctx, gids)
	if err != nil {
		return nil, err
	}
	byGID := make(map[uuid.UUID][]domain.LedgerEntry, len(gids))
	for _, e := range entries {
		byGID[e.GID] = append(byGID[e.GID], e)
	}

	out := make([]domain.TransactionOut, 0, len(gids))
	resolve := s.accountResolver(ctx)
	for _, gid := range gids {
		group, ok := byGID[gid]
		if !ok {
			continue
		}
		folded, err := buildTransactionOut(group, resolve)
		if err != nil {
			return nil, err
		}
		out = append(out, *folded)
	}
	return out, nil
}

func (s *Service) foldGroup(ctx context.Context, entries []domain.LedgerEntry) (*domain.TransactionOut, error) {
	return buildTransactionOut(entries, s.accountResolver(ctx))
}

// accountResolver returns a memoizing resolver of account party info. Lookup
// failures degrade to a bare account id rather than failing the read.
func (s *Service) accountResolver(ctx context.Context) addressResolver {
	cache := make(map[uuid.UUID]domain.TransactionAddressInfo)
	return func(accountID uuid.UUID) domain.TransactionAddressInfo {
		if info, ok := cache[accountID]; ok {
			return info
		}
		id := accountID
		info := domain.TransactionAddressInfo{AccountID: &id}
		if account, err := s.repo.FindAccountByID(ctx, accountID); err == nil {
			info.Address = account.Address
			if owner, err := s.repo.FindUserByID(ctx, account.UserID); err == nil {
				name := owner.Name
				info.OwnerName = &name
			}
		}
		cache[accountID] = info
		return info
	}
}

package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/store"
	"github.com/wavepay/ledger-service/pkg/keysclient"
)

type serviceRepoStub struct {
	store.Repository

	usersBySubject map[string]*domain.User
	usersByID      map[uuid.UUID]*domain.User
	accounts       map[uuid.UUID]*domain.Account
	byAddress      map[string]*domain.Account
	reservations   map[uuid.UUID]*domain.ExchangeRateReservation

	transferParams *store.TransferParams
	transferErr    error
}

func newServiceRepoStub() *serviceRepoStub {
	return &serviceRepoStub{
		usersBySubject: make(map[string]*domain.User),
		usersByID:      make(map[uuid.UUID]*domain.User),
		accounts:       make(map[uuid.UUID]*domain.Account),
		byAddress:      make(map[string]*domain.Account),
		reservations:   make(map[uuid.UUID]*domain.ExchangeRateReservation),
	}
}

func (s *serviceRepoStub) addUser(subject, name string) *domain.User {
	user := &domain.User{ID: uuid.New(), ExternalSubject: subject, Name: name}
	s.usersBySubject[subject] = user
	s.usersByID[user.ID] = user
	return user
}

func (s *serviceRepoStub) addAccount(userID uuid.UUID, currency domain.Currency, balance uint64, address string) *domain.Account {
	account := &domain.Account{
		ID:                      uuid.New(),
		UserID:                  userID,
		Currency:                currency,
		Balance:                 domain.NewAmount(balance),
		Active:                  true,
		TokenWithdrawalApproved: !currency.IsToken(),
	}
	if address != "" {
		account.Address = &address
		s.byAddress[address] = account
	}
	s.accounts[account.ID] = account
	return account
}

func (s *serviceRepoStub) FindUserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	user, ok := s.usersBySubject[subject]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return user, nil
}

func (s *serviceRepoStub) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return user, nil
}

func (s *serviceRepoStub) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *serviceRepoStub) FindAccountByAddress(ctx context.Context, address string) (*domain.Account, error) {
	account, ok := s.byAddress[address]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *serviceRepoStub) FindReservationByID(ctx context.Context, id uuid.UUID) (*domain.ExchangeRateReservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, store.ErrReservationNotFound
	}
	return r, nil
}

func (s *serviceRepoStub) PerformTransfer(ctx context.Context, params store.TransferParams) ([]domain.LedgerEntry, error) {
	s.transferParams = &params
	if s.transferErr != nil {
		return nil, s.transferErr
	}
	now := time.Now()
	entries := make([]domain.LedgerEntry, len(params.Entries))
	for i, e := range params.Entries {
		e.CreatedAt = now
		e.UpdatedAt = now
		entries[i] = e
	}
	return entries, nil
}

type publisherStub struct {
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) Close() {}

type keysStub struct {
	err error
}

func (k *keysStub) CreateAddress(ctx context.Context, accountID string, currency string) (*keysclient.CreateAddressResponse, error) {
	if k.err != nil {
		return nil, k.err
	}
	return &keysclient.CreateAddressResponse{Address: "addr-" + accountID}, nil
}

type serviceFixture struct {
	repo      *serviceRepoStub
	producer  *publisherStub
	gateway   *rateGatewayStub
	system    domain.SystemAccounts
	service   *Service
	user      *domain.User
	liquidity map[domain.Currency]*domain.Account
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	repo := newServiceRepoStub()
	producer := &publisherStub{}
	gateway := &rateGatewayStub{rate: decimal.RequireFromString("1")}

	system := domain.SystemAccounts{
		Liquidity: map[domain.Currency]uuid.UUID{},
		Fees:      map[domain.Currency]uuid.UUID{},
		Transfer:  map[domain.Currency]uuid.UUID{},
	}
	systemUser := repo.addUser("system", "system")
	liquidity := make(map[domain.Currency]*domain.Account, len(domain.Currencies))
	for _, c := range domain.Currencies {
		l := repo.addAccount(systemUser.ID, c, 0, "")
		f := repo.addAccount(systemUser.ID, c, 0, "")
		p := repo.addAccount(systemUser.ID, c, 0, "pool-"+c.String())
		system.Liquidity[c] = l.ID
		system.Fees[c] = f.ID
		system.Transfer[c] = p.ID
		liquidity[c] = l
	}

	limits, err := NewLimitPolicyFromStrings(86400, "100000000", "20000000000000000000", "200000000000000000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fees := NewFeeCalculator(nil, testFeeOptions())

	svc := NewService(repo, producer, gateway, &keysStub{}, fees, limits, system, nil, nil, 0)
	user := repo.addUser("sub-alice", "alice")

	return &serviceFixture{
		repo:      repo,
		producer:  producer,
		gateway:   gateway,
		system:    system,
		service:   svc,
		user:      user,
		liquidity: liquidity,
	}
}

func TestCreateTransactionInternal(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 1000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	to := fx.repo.addAccount(bob.ID, domain.CurrencyBTC, 0, "")

	out, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            to.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != domain.StatusDone {
		t.Fatalf("expected done, got %s", out.Status)
	}

	entries := fx.repo.transferParams.Entries
	if len(entries) != 1 {
		t.Fatalf("expected a single leg, got %d", len(entries))
	}
	leg := entries[0]
	if leg.Kind != domain.KindInternal || leg.GroupKind != domain.GroupKindInternal {
		t.Fatalf("wrong classification: kind=%s group=%s", leg.Kind, leg.GroupKind)
	}
	if leg.DrAccountID != from.ID || leg.CrAccountID != to.ID {
		t.Fatal("leg moves funds between the wrong accounts")
	}
	if leg.Status != domain.StatusDone {
		t.Fatalf("internal legs commit done, got %s", leg.Status)
	}

	// Internal transfers settle on the ledger; nothing goes to the queue.
	if len(fx.producer.published) != 0 {
		t.Fatalf("expected no settlement job, got %d", len(fx.producer.published))
	}
}

func TestCreateTransactionWithdrawal(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 1000000, "")
	gid := uuid.New()

	out, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            gid,
		From:          from.ID,
		To:            "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
		ToType:        domain.ReceiverAddress,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(7500),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != domain.StatusPending {
		t.Fatalf("withdrawals commit pending, got %s", out.Status)
	}

	entries := fx.repo.transferParams.Entries
	if len(entries) != 2 {
		t.Fatalf("expected withdrawal and fee legs, got %d", len(entries))
	}
	var withdrawal, fee *domain.LedgerEntry
	for i := range entries {
		switch entries[i].Kind {
		case domain.KindWithdrawal:
			withdrawal = &entries[i]
		case domain.KindFee:
			fee = &entries[i]
		}
	}
	if withdrawal == nil || fee == nil {
		t.Fatalf("missing legs: %+v", entries)
	}
	if withdrawal.CrAccountID != fx.system.Transfer[domain.CurrencyBTC] {
		t.Fatal("withdrawal leg must credit the transfer pool")
	}
	if withdrawal.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", withdrawal.Status)
	}
	if withdrawal.WithdrawalAddress == nil || *withdrawal.WithdrawalAddress != "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2" {
		t.Fatal("withdrawal leg must carry the destination address")
	}
	if fee.CrAccountID != fx.system.Fees[domain.CurrencyBTC] || fee.Value.String() != "7500" {
		t.Fatalf("wrong fee leg: %+v", fee)
	}

	if len(fx.producer.published) != 1 {
		t.Fatalf("expected one settlement job, got %d", len(fx.producer.published))
	}
	event := fx.producer.published[0]
	if event.exchange != EventsExchange || event.routingKey != RoutingKeySettlementSubmit {
		t.Fatalf("wrong publish target: %s %s", event.exchange, event.routingKey)
	}
	job, ok := event.body.(domain.SettlementJob)
	if !ok || job.TransactionID != gid {
		t.Fatalf("wrong job payload: %+v", event.body)
	}
}

func TestCreateTransactionFeeBelowFloor(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 1000000, "")

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
		ToType:        domain.ReceiverAddress,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(7499),
	})
	if !errors.Is(err, ErrFeeTooLow) {
		t.Fatalf("expected fee-too-low error, got %v", err)
	}
	if fx.repo.transferParams != nil {
		t.Fatal("validation failure must not reach the store")
	}
}

func TestCreateTransactionCrossCurrency(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 200000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	to := fx.repo.addAccount(bob.ID, domain.CurrencyETH, 0, "")

	exchangeID := uuid.New()
	fx.repo.reservations[exchangeID] = &domain.ExchangeRateReservation{
		ID:         exchangeID,
		From:       domain.CurrencyBTC,
		To:         domain.CurrencyETH,
		Amount:     domain.NewAmount(100000000),
		Rate:       decimal.RequireFromString("19.95"),
		Expiration: time.Now().Add(time.Minute),
	}

	out, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            to.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyETH,
		Value:         domain.NewAmount(100000000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
		ExchangeID:    &exchangeID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ToValue.String() != "1995000000" {
		t.Fatalf("expected converted value 1995000000, got %s", out.ToValue)
	}

	entries := fx.repo.transferParams.Entries
	if len(entries) != 2 {
		t.Fatalf("expected two exchange legs, got %d", len(entries))
	}
	var fromLeg, toLeg *domain.LedgerEntry
	for i := range entries {
		switch entries[i].Kind {
		case domain.KindMultiFrom:
			fromLeg = &entries[i]
		case domain.KindMultiTo:
			toLeg = &entries[i]
		}
	}
	if fromLeg == nil || toLeg == nil {
		t.Fatalf("missing legs: %+v", entries)
	}
	if fromLeg.CrAccountID != fx.system.Liquidity[domain.CurrencyBTC] {
		t.Fatal("funding leg must credit btc liquidity")
	}
	if toLeg.DrAccountID != fx.system.Liquidity[domain.CurrencyETH] || toLeg.CrAccountID != to.ID {
		t.Fatal("destination leg must draw from eth liquidity")
	}
	if toLeg.Value.String() != "1995000000" {
		t.Fatalf("expected converted leg value, got %s", toLeg.Value)
	}
	if fromLeg.Status != domain.StatusDone || toLeg.Status != domain.StatusDone {
		t.Fatal("exchange legs commit done")
	}
}

func TestCreateTransactionCrossCurrencyRequiresExchange(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 200000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	to := fx.repo.addAccount(bob.ID, domain.CurrencyETH, 0, "")

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            to.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyETH,
		Value:         domain.NewAmount(100000000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if !errors.Is(err, ErrMissingExchange) {
		t.Fatalf("expected missing-exchange error, got %v", err)
	}
}

func TestCreateTransactionRejectsStaleQuotedRate(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 200000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	to := fx.repo.addAccount(bob.ID, domain.CurrencyETH, 0, "")

	exchangeID := uuid.New()
	fx.repo.reservations[exchangeID] = &domain.ExchangeRateReservation{
		ID:         exchangeID,
		From:       domain.CurrencyBTC,
		To:         domain.CurrencyETH,
		Amount:     domain.NewAmount(100000000),
		Rate:       decimal.RequireFromString("19.95"),
		Expiration: time.Now().Add(time.Minute),
	}

	quoted := decimal.RequireFromString("21.00")
	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            to.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyETH,
		Value:         domain.NewAmount(100000000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
		ExchangeID:    &exchangeID,
		ExchangeRate:  &quoted,
	})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid-value error for a stale quoted rate, got %v", err)
	}
}

func TestCreateTransactionExpiredReservation(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 200000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	to := fx.repo.addAccount(bob.ID, domain.CurrencyETH, 0, "")

	exchangeID := uuid.New()
	fx.repo.reservations[exchangeID] = &domain.ExchangeRateReservation{
		ID:         exchangeID,
		From:       domain.CurrencyBTC,
		To:         domain.CurrencyETH,
		Amount:     domain.NewAmount(100000000),
		Rate:       decimal.RequireFromString("19.95"),
		Expiration: time.Now().Add(-time.Minute),
	}

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            to.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyETH,
		Value:         domain.NewAmount(100000000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
		ExchangeID:    &exchangeID,
	})
	if !errors.Is(err, ErrRateExpired) {
		t.Fatalf("expected rate-expired error, got %v", err)
	}
}

func TestCreateTransactionForeignAccount(t *testing.T) {
	fx := newServiceFixture(t)
	bob := fx.repo.addUser("sub-bob", "bob")
	bobAccount := fx.repo.addAccount(bob.ID, domain.CurrencyBTC, 1000000, "")
	aliceAccount := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 0, "")

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          bobAccount.ID,
		To:            aliceAccount.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestCreateTransactionSelfTransfer(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 1000000, "")

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            from.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected self-transfer error, got %v", err)
	}
}

func TestCreateTransactionHostedAddressCollapsesToInternal(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 1000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	hosted := fx.repo.addAccount(bob.ID, domain.CurrencyBTC, 0, "1HostedAddressXXXXXXXXXXXXXXXXXXXX")

	out, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            "1HostedAddressXXXXXXXXXXXXXXXXXXXX",
		ToType:        domain.ReceiverAddress,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != domain.StatusDone {
		t.Fatalf("a hosted address settles on the ledger, got %s", out.Status)
	}

	entries := fx.repo.transferParams.Entries
	if len(entries) != 1 || entries[0].Kind != domain.KindInternal {
		t.Fatalf("expected a single internal leg, got %+v", entries)
	}
	if entries[0].CrAccountID != hosted.ID {
		t.Fatal("leg must credit the hosted account")
	}
	if len(fx.producer.published) != 0 {
		t.Fatal("no settlement job for a ledger-internal move")
	}
}

func TestCreateTransactionHostedAddressCurrencyMismatch(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 1000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	fx.repo.addAccount(bob.ID, domain.CurrencyETH, 0, "0xHostedEthAddress")

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            "0xHostedEthAddress",
		ToType:        domain.ReceiverAddress,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid-value error, got %v", err)
	}
}

func TestCreateTransactionTokenWithdrawalNeedsApproval(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencySTQ, 10000000000000000, "")
	if from.TokenWithdrawalApproved {
		t.Fatal("fixture error: token accounts start unapproved")
	}

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            "0x52908400098527886E0F7030069857D2E4169EE7",
		ToType:        domain.ReceiverAddress,
		ToCurrency:    domain.CurrencySTQ,
		Value:         domain.NewAmount(1000000000000000),
		ValueCurrency: domain.CurrencySTQ,
		Fee:           domain.NewAmount(1000000000000000),
	})
	if !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected not-approved error, got %v", err)
	}
}

func TestCreateTransactionPassesLimitCheck(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 1000000, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	to := fx.repo.addAccount(bob.ID, domain.CurrencyBTC, 0, "")

	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            to.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(25000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	check := fx.repo.transferParams.Limit
	if check == nil {
		t.Fatal("expected a limit check alongside the transfer")
	}
	if check.UserID != fx.user.ID || check.Currency != domain.CurrencyBTC {
		t.Fatalf("check carries wrong identity: %+v", check)
	}
	if check.Candidate.String() != "25000" {
		t.Fatalf("candidate must be the funding value, got %s", check.Candidate)
	}
}

func TestCreateTransactionStoreErrorsPropagate(t *testing.T) {
	fx := newServiceFixture(t)
	from := fx.repo.addAccount(fx.user.ID, domain.CurrencyBTC, 10, "")
	bob := fx.repo.addUser("sub-bob", "bob")
	to := fx.repo.addAccount(bob.ID, domain.CurrencyBTC, 0, "")

	fx.repo.transferErr = store.ErrInsufficientFunds
	_, err := fx.service.CreateTransaction(context.Background(), "sub-alice", domain.CreateTransactionRequest{
		ID:            uuid.New(),
		From:          from.ID,
		To:            to.ID.String(),
		ToType:        domain.ReceiverAccount,
		ToCurrency:    domain.CurrencyBTC,
		Value:         domain.NewAmount(100000),
		ValueCurrency: domain.CurrencyBTC,
		Fee:           domain.NewAmount(0),
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient-funds error, got %v", err)
	}
	if len(fx.producer.published) != 0 {
		t.Fatal("a failed transfer must not enqueue settlement")
	}
}

func TestGetAccountOwnership(t *testing.T) {
	fx := newServiceFixture(t)
	bob := fx.repo.addUser("sub-bob", "bob")
	bobAccount := fx.repo.addAccount(bob.ID, domain.CurrencyBTC, 0, "")

	if _, err := fx.service.GetAccount(context.Background(), "sub-alice", bobAccount.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
	if _, err := fx.service.GetAccount(context.Background(), "sub-bob", bobAccount.ID); err != nil {
		t.Fatalf("unexpected error for owner: %v", err)
	}
	if _, err := fx.service.GetAccount(context.Background(), "sub-alice", uuid.New()); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name       string
		offset     int
		limit      int
		wantOffset int
		wantLimit  int
	}{
		{name: "defaults", offset: 0, limit: 0, wantOffset: 0, wantLimit: DefaultPageLimit},
		{name: "negative offset clamps", offset: -5, limit: 10, wantOffset: 0, wantLimit: 10},
		{name: "limit above max clamps", offset: 3, limit: 500, wantOffset: 3, wantLimit: MaxPageLimit},
		{name: "in range passes through", offset: 20, limit: 50, wantOffset: 20, wantLimit: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, limit := normalizePage(tt.offset, tt.limit)
			if offset != tt.wantOffset || limit != tt.wantLimit {
				t.Fatalf("expected (%d,%d), got (%d,%d)", tt.wantOffset, tt.wantLimit, offset, limit)
			}
		})
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/store"
	"github.com/wavepay/ledger-service/pkg/blockchainclient"
)

type dispatcherRepoStub struct {
	store.Repository

	pending  map[uuid.UUID][]domain.LedgerEntry
	accounts map[uuid.UUID]*domain.Account

	settled       map[uuid.UUID]string
	attempts      map[uuid.UUID]int
	settleErr     error
	findErr       error
	attemptsStart int
}

func newDispatcherRepoStub() *dispatcherRepoStub {
	return &dispatcherRepoStub{
		pending:  make(map[uuid.UUID][]domain.LedgerEntry),
		accounts: make(map[uuid.UUID]*domain.Account),
		settled:  make(map[uuid.UUID]string),
		attempts: make(map[uuid.UUID]int),
	}
}

func (s *dispatcherRepoStub) FindPendingWithdrawalEntries(ctx context.Context, gid uuid.UUID) ([]domain.LedgerEntry, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.pending[gid], nil
}

func (s *dispatcherRepoStub) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *dispatcherRepoStub) MarkEntrySettled(ctx context.Context, entryID uuid.UUID, blockchainTxID string) error {
	if s.settleErr != nil {
		return s.settleErr
	}
	s.settled[entryID] = blockchainTxID
	return nil
}

func (s *dispatcherRepoStub) IncrementSettlementAttempts(ctx context.Context, entryID uuid.UUID) (int, error) {
	s.attempts[entryID]++
	return s.attemptsStart + s.attempts[entryID], nil
}

type chainStub struct {
	hash     string
	err      error
	requests []blockchainclient.SubmitRequest
}

func (c *chainStub) Submit(ctx context.Context, req blockchainclient.SubmitRequest) (*blockchainclient.SubmitResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &blockchainclient.SubmitResponse{TxHash: c.hash}, nil
}

func pendingWithdrawalEntry(gid uuid.UUID, address string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:                uuid.New(),
		GID:               gid,
		DrAccountID:       uuid.New(),
		CrAccountID:       uuid.New(),
		Currency:          domain.CurrencyBTC,
		Value:             domain.NewAmount(100000),
		Status:            domain.StatusPending,
		Kind:              domain.KindWithdrawal,
		GroupKind:         domain.GroupKindWithdrawal,
		WithdrawalAddress: &address,
	}
}

func settlementJobBody(t *testing.T, gid uuid.UUID) []byte {
	t.Helper()
	body, err := json.Marshal(domain.SettlementJob{TransactionID: gid, EnqueuedAt: time.Now()})
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	return body
}

func TestSettlementSubmitsAndAcks(t *testing.T) {
	repo := newDispatcherRepoStub()
	chain := &chainStub{hash: "0xdeadbeef"}
	consumer := NewSettlementConsumer(repo, chain, NewFeeCalculator(nil, testFeeOptions()), nil, 10)

	gid := uuid.New()
	entry := pendingWithdrawalEntry(gid, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	poolAddress := "pool-btc-address"
	repo.accounts[entry.DrAccountID] = &domain.Account{ID: entry.DrAccountID, Address: &poolAddress}
	repo.pending[gid] = []domain.LedgerEntry{entry}

	if ack := consumer.HandleMessage(settlementJobBody(t, gid)); !ack {
		t.Fatal("expected ack on success")
	}
	if repo.settled[entry.ID] != "0xdeadbeef" {
		t.Fatalf("entry not settled: %v", repo.settled)
	}
	if len(chain.requests) != 1 {
		t.Fatalf("expected one submission, got %d", len(chain.requests))
	}
	req := chain.requests[0]
	if req.IdempotencyKey != entry.ID.String() {
		t.Fatal("submission must use the entry id as idempotency key")
	}
	if req.ToAddress != *entry.WithdrawalAddress || req.FromAddress != poolAddress {
		t.Fatalf("wrong addresses: %+v", req)
	}
	if req.Value != "100000" || req.Currency != "btc" {
		t.Fatalf("wrong payload: %+v", req)
	}
}

func TestSettlementRetryableFailureNacks(t *testing.T) {
	repo := newDispatcherRepoStub()
	chain := &chainStub{err: errors.New("gateway timeout")}
	consumer := NewSettlementConsumer(repo, chain, NewFeeCalculator(nil, testFeeOptions()), nil, 10)

	gid := uuid.New()
	entry := pendingWithdrawalEntry(gid, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	repo.pending[gid] = []domain.LedgerEntry{entry}

	if ack := consumer.HandleMessage(settlementJobBody(t, gid)); ack {
		t.Fatal("expected nack for a retryable failure")
	}
	if repo.attempts[entry.ID] != 1 {
		t.Fatalf("expected one counted attempt, got %d", repo.attempts[entry.ID])
	}
	if len(repo.settled) != 0 {
		t.Fatal("nothing must be marked settled")
	}
}

func TestSettlementExhaustedAttemptsParks(t *testing.T) {
	repo := newDispatcherRepoStub()
	repo.attemptsStart = 9
	chain := &chainStub{err: errors.New("gateway timeout")}
	consumer := NewSettlementConsumer(repo, chain, NewFeeCalculator(nil, testFeeOptions()), nil, 10)

	gid := uuid.New()
	entry := pendingWithdrawalEntry(gid, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	repo.pending[gid] = []domain.LedgerEntry{entry}

	// The tenth failure exhausts the budget: ack, leave pending.
	if ack := consumer.HandleMessage(settlementJobBody(t, gid)); !ack {
		t.Fatal("expected ack once the attempt budget is spent")
	}
	if len(repo.settled) != 0 {
		t.Fatal("a parked entry stays pending")
	}
}

func TestSettlementRejectionParksImmediately(t *testing.T) {
	repo := newDispatcherRepoStub()
	chain := &chainStub{err: &blockchainclient.RejectedError{StatusCode: 422, Message: "invalid address"}}
	consumer := NewSettlementConsumer(repo, chain, NewFeeCalculator(nil, testFeeOptions()), nil, 10)

	gid := uuid.New()
	entry := pendingWithdrawalEntry(gid, "badaddress")
	repo.pending[gid] = []domain.LedgerEntry{entry}

	if ack := consumer.HandleMessage(settlementJobBody(t, gid)); !ack {
		t.Fatal("expected ack for a non-retryable rejection")
	}
	if repo.attempts[entry.ID] != 0 {
		t.Fatal("rejections must not burn retry attempts")
	}
	if len(repo.settled) != 0 {
		t.Fatal("a rejected entry stays pending")
	}
}

func TestSettlementSkipsAlreadyHashedEntries(t *testing.T) {
	repo := newDispatcherRepoStub()
	chain := &chainStub{hash: "0xnewhash"}
	consumer := NewSettlementConsumer(repo, chain, NewFeeCalculator(nil, testFeeOptions()), nil, 10)

	gid := uuid.New()
	existing := "0xalready"
	entry := pendingWithdrawalEntry(gid, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	entry.BlockchainTxID = &existing
	repo.pending[gid] = []domain.LedgerEntry{entry}

	if ack := consumer.HandleMessage(settlementJobBody(t, gid)); !ack {
		t.Fatal("expected ack")
	}
	if len(chain.requests) != 0 {
		t.Fatal("an entry with a chain hash must not be resubmitted")
	}
}

func TestSettlementIgnoresMalformedAndEmptyJobs(t *testing.T) {
	repo := newDispatcherRepoStub()
	chain := &chainStub{hash: "0x1"}
	consumer := NewSettlementConsumer(repo, chain, NewFeeCalculator(nil, testFeeOptions()), nil, 10)

	if ack := consumer.HandleMessage([]byte("{not json")); !ack {
		t.Fatal("malformed payloads are acked, not redelivered forever")
	}
	if ack := consumer.HandleMessage(settlementJobBody(t, uuid.New())); !ack {
		t.Fatal("a job with no pending legs is acked")
	}
	if ack := consumer.HandleMessage([]byte(`{"transaction_id":"00000000-0000-0000-0000-000000000000"}`)); !ack {
		t.Fatal("a job without a transaction id is acked")
	}
}

func TestSettlementLookupFailureNacks(t *testing.T) {
	repo := newDispatcherRepoStub()
	repo.findErr = errors.New("connection reset")
	chain := &chainStub{hash: "0x1"}
	consumer := NewSettlementConsumer(repo, chain, NewFeeCalculator(nil, testFeeOptions()), nil, 10)

	if ack := consumer.HandleMessage(settlementJobBody(t, uuid.New())); ack {
		t.Fatal("expected nack when pending legs cannot be loaded")
	}
}

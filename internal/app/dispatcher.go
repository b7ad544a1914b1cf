/**
 * @description
 * This file contains the settlement dispatcher: the consumer that drains the
 * settlement queue and pushes committed withdrawal legs onto the chain
 * through the blockchain gateway.
 *
 * Key features:
 * - Idempotent: each submission carries the ledger entry id as idempotency
 *   key, and legs that already have a chain hash are skipped, so redelivered
 *   jobs never double-spend.
 * - Retryable failures (network, gateway 5xx) nack the delivery for
 *   redelivery; gateway rejections and exhausted attempt budgets ack the
 *   message, leave the leg pending and raise an alert metric so an operator
 *   can intervene.
 *
 * @dependencies
 * - context, encoding/json, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/blockchainclient: For chain submission.
 */

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/observability"
	"github.com/wavepay/ledger-service/internal/store"
	"github.com/wavepay/ledger-service/pkg/blockchainclient"
)

// SettlementConsumer processes settlement jobs from the message queue.
type SettlementConsumer struct {
	repo        store.Repository
	chain       BlockchainGateway
	fees        *FeeCalculator
	metrics     *observability.Metrics
	maxAttempts int
}

// NewSettlementConsumer creates a settlement consumer.
func NewSettlementConsumer(repo store.Repository, chain BlockchainGateway, fees *FeeCalculator, metrics *observability.Metrics, maxAttempts int) *SettlementConsumer {
	return &SettlementConsumer{
		repo:        repo,
		chain:       chain,
		fees:        fees,
		metrics:     metrics,
		maxAttempts: maxAttempts,
	}
}

// HandleMessage processes one settlement job. It returns true to ack the
// delivery and false to nack it for redelivery.
func (c *SettlementConsumer) HandleMessage(body []byte) bool {
	var job domain.SettlementJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("level=error component=settlement msg=\"failed to unmarshal job payload\" err=%v", err)
		return true
	}

	if job.TransactionID == uuid.Nil {
		log.Printf("level=error component=settlement msg=\"job missing transaction id\" payload=%s", body)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processJob(ctx, job); err != nil {
		log.Printf("level=error component=settlement msg=\"settlement attempt failed; redelivering\" gid=%s err=%v", job.TransactionID, err)
		return false
	}
	return true
}

// processJob settles every pending withdrawal leg of the group. Returning an
// error nacks the whole delivery; legs already settled are skipped on the
// redelivery pass.
func (c *SettlementConsumer) processJob(ctx context.Context, job domain.SettlementJob) error {
	entries, err := c.repo.FindPendingWithdrawalEntries(ctx, job.TransactionID)
	if err != nil {
		return fmt.Errorf("load pending legs: %w", err)
	}
	if len(entries) == 0 {
		log.Printf("level=info component=settlement msg=\"no pending legs; nothing to settle\" gid=%s", job.TransactionID)
		return nil
	}

	for _, entry := range entries {
		if err := c.settleEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *SettlementConsumer) settleEntry(ctx context.Context, entry domain.LedgerEntry) error {
	if entry.BlockchainTxID != nil && *entry.BlockchainTxID != "" {
		log.Printf("level=info component=settlement msg=\"leg already has chain hash; skipping\" entry_id=%s tx_hash=%s", entry.ID, *entry.BlockchainTxID)
		return nil
	}
	if entry.WithdrawalAddress == nil || *entry.WithdrawalAddress == "" {
		log.Printf("level=error component=settlement msg=\"pending leg has no withdrawal address; leaving for operator\" entry_id=%s", entry.ID)
		return nil
	}

	fromAddress := ""
	if pool, err := c.repo.FindAccountByID(ctx, entry.DrAccountID); err == nil && pool.Address != nil {
		fromAddress = *pool.Address
	}

	resp, err := c.chain.Submit(ctx, blockchainclient.SubmitRequest{
		IdempotencyKey: entry.ID.String(),
		Currency:       entry.Currency.String(),
		FromAddress:    fromAddress,
		ToAddress:      *entry.WithdrawalAddress,
		Value:          entry.Value.String(),
		FeePrice:       c.fees.ChainFeePrice(ctx, entry.Currency).String(),
	})
	if err != nil {
		c.recordOutcome("failure")
		if blockchainclient.IsRetryable(err) {
			return c.retryOrPark(ctx, entry, err)
		}
		// Rejections cannot succeed on retry; park the leg immediately.
		c.park(entry, err)
		return nil
	}

	if err := c.repo.MarkEntrySettled(ctx, entry.ID, resp.TxHash); err != nil {
		// The hash is on chain; the idempotency key makes the redelivery
		// pass safe.
		return fmt.Errorf("record settlement for entry %s: %w", entry.ID, err)
	}
	c.recordOutcome("success")
	log.Printf("level=info component=settlement msg=\"withdrawal settled\" entry_id=%s gid=%s tx_hash=%s", entry.ID, entry.GID, resp.TxHash)
	return nil
}

// retryOrPark bumps the attempt counter and either asks for redelivery or,
// once the budget is spent, parks the leg.
func (c *SettlementConsumer) retryOrPark(ctx context.Context, entry domain.LedgerEntry, cause error) error {
	attempts, err := c.repo.IncrementSettlementAttempts(ctx, entry.ID)
	if err != nil {
		return fmt.Errorf("count attempt for entry %s: %w", entry.ID, err)
	}
	if attempts < c.maxAttempts {
		return fmt.Errorf("submit entry %s (attempt %d/%d): %w", entry.ID, attempts, c.maxAttempts, cause)
	}
	c.park(entry, cause)
	return nil
}

// park acknowledges a leg the dispatcher has given up on. The leg stays
// pending, the user's funds stay debited and the alert metric fires; an
// operator resolves it out of band.
func (c *SettlementConsumer) park(entry domain.LedgerEntry, cause error) {
	if c.metrics != nil {
		c.metrics.SettlementRetriesExhausted.Inc()
	}
	log.Printf("level=error component=settlement msg=\"settlement abandoned; manual intervention required\" entry_id=%s gid=%s currency=%s value=%s err=%v",
		entry.ID, entry.GID, entry.Currency, entry.Value, cause)
}

func (c *SettlementConsumer) recordOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.SettlementSubmissions.WithLabelValues(outcome).Inc()
	}
}

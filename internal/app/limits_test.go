package app

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/domain"
)

func TestLimitPolicyCheckFor(t *testing.T) {
	policy, err := NewLimitPolicyFromStrings(86400, "100000000", "20000000000000000000", "200000000000000000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	userID := uuid.New()
	check := policy.CheckFor(userID, domain.CurrencyBTC, domain.NewAmount(5000))
	if check == nil {
		t.Fatal("expected a check for btc")
	}
	if check.UserID != userID || check.Currency != domain.CurrencyBTC {
		t.Fatalf("check carries wrong identity: %+v", check)
	}
	if check.Candidate.String() != "5000" {
		t.Fatalf("expected candidate 5000, got %s", check.Candidate.String())
	}
	if check.Ceiling.String() != "100000000" {
		t.Fatalf("expected ceiling 100000000, got %s", check.Ceiling.String())
	}
	if check.Period != 24*time.Hour {
		t.Fatalf("expected 24h window, got %s", check.Period)
	}
}

func TestLimitPolicyWithoutCeiling(t *testing.T) {
	policy := NewLimitPolicy(time.Hour, map[domain.Currency]domain.Amount{
		domain.CurrencyBTC: domain.NewAmount(1000),
	})

	if check := policy.CheckFor(uuid.New(), domain.CurrencyETH, domain.NewAmount(1)); check != nil {
		t.Fatalf("expected no check for a currency without a ceiling, got %+v", check)
	}

	var nilPolicy *LimitPolicy
	if check := nilPolicy.CheckFor(uuid.New(), domain.CurrencyBTC, domain.NewAmount(1)); check != nil {
		t.Fatal("nil policy must produce no check")
	}
}

func TestLimitPolicyFromStringsRejectsBadCeiling(t *testing.T) {
	if _, err := NewLimitPolicyFromStrings(86400, "not-a-number", "1", "1"); err == nil {
		t.Fatal("expected error for malformed ceiling")
	}
}

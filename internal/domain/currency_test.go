package domain

import "testing"

func TestParseCurrency(t *testing.T) {
	for _, c := range Currencies {
		parsed, err := ParseCurrency(c.String())
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", c, err)
		}
		if parsed != c {
			t.Fatalf("expected %s, got %s", c, parsed)
		}
	}

	for _, invalid := range []string{"", "BTC", "doge", "btc "} {
		if _, err := ParseCurrency(invalid); err == nil {
			t.Fatalf("expected error for %q", invalid)
		}
	}
}

func TestSettlementChain(t *testing.T) {
	if got := CurrencyBTC.SettlementChain(); got != CurrencyBTC {
		t.Fatalf("expected btc to settle on btc, got %s", got)
	}
	if got := CurrencyETH.SettlementChain(); got != CurrencyETH {
		t.Fatalf("expected eth to settle on eth, got %s", got)
	}
	if got := CurrencySTQ.SettlementChain(); got != CurrencyETH {
		t.Fatalf("expected stq to settle on eth, got %s", got)
	}

	if CurrencyBTC.IsToken() || CurrencyETH.IsToken() {
		t.Fatal("native coins must not be tokens")
	}
	if !CurrencySTQ.IsToken() {
		t.Fatal("stq must be a token")
	}
}

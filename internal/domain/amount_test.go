package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain integer", input: "100000000", want: "100000000"},
		{name: "zero", input: "0", want: "0"},
		{name: "wei-scale value", input: "20000000000000000000", want: "20000000000000000000"},
		{name: "surrounding whitespace", input: "  42 ", want: "42"},
		{name: "empty", input: "", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "decimal point", input: "1.5", wantErr: true},
		{name: "not a number", input: "satoshi", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.String())
			}
		})
	}
}

func TestAmountCheckedArithmetic(t *testing.T) {
	a := NewAmount(300)
	b := NewAmount(200)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if sum.String() != "500" {
		t.Fatalf("expected 500, got %s", sum.String())
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("unexpected sub error: %v", err)
	}
	if diff.String() != "100" {
		t.Fatalf("expected 100, got %s", diff.String())
	}

	if _, err := b.Sub(a); !errors.Is(err, ErrAmountUnderflow) {
		t.Fatalf("expected underflow error, got %v", err)
	}

	max, err := ParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := max.Add(NewAmount(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
}

func TestAmountConvertFloors(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		rate  string
		want  string
	}{
		{name: "whole multiple", value: 200, rate: "0.5", want: "100"},
		{name: "fractional result floors", value: 3, rate: "0.4", want: "1"},
		{name: "sub-unit result floors to zero", value: 1, rate: "0.4", want: "0"},
		{name: "rate above one", value: 100, rate: "19.95", want: "1995"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := decimal.NewFromString(tt.rate)
			if err != nil {
				t.Fatalf("bad rate literal: %v", err)
			}
			got, err := NewAmount(tt.value).Convert(rate)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got.String())
			}
		})
	}

	if _, err := NewAmount(10).Convert(decimal.NewFromInt(-1)); err == nil {
		t.Fatal("expected error for negative rate")
	}
}

func TestAmountJSONRoundTrip(t *testing.T) {
	a, err := ParseAmount("20000000000000000000")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	if string(data) != `"20000000000000000000"` {
		t.Fatalf("expected quoted decimal string, got %s", data)
	}

	var back Amount
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if back.Cmp(a) != 0 {
		t.Fatalf("round trip changed value: %s != %s", back.String(), a.String())
	}

	// Bare JSON numbers are accepted too.
	var fromNumber Amount
	if err := json.Unmarshal([]byte(`12345`), &fromNumber); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if fromNumber.String() != "12345" {
		t.Fatalf("expected 12345, got %s", fromNumber.String())
	}

	var negative Amount
	if err := json.Unmarshal([]byte(`"-5"`), &negative); err == nil {
		t.Fatal("expected error for negative value")
	}
}

func TestAmountScan(t *testing.T) {
	var a Amount
	if err := a.Scan("7500"); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if a.String() != "7500" {
		t.Fatalf("expected 7500, got %s", a.String())
	}

	if err := a.Scan([]byte("42")); err != nil {
		t.Fatalf("unexpected scan error: %v", err)
	}
	if a.String() != "42" {
		t.Fatalf("expected 42, got %s", a.String())
	}

	if err := a.Scan(int64(-1)); err == nil {
		t.Fatal("expected error scanning negative int64")
	}

	if err := a.Scan(3.14); err == nil {
		t.Fatal("expected error scanning float64")
	}
}

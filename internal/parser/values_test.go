package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		amount   float64
		currency string
		ok       bool
	}{
		{"US format", "$1,299.99", 1299.99, "USD", true},
		{"German format", "1.299,00 €", 1299.00, "EUR", true},
		{"German cents", "12,99 €", 12.99, "EUR", true},
		{"Whole part with trailing dot", "1,299.", 1299, "", true},
		{"Rupees", "Rs. 499", 499, "INR", true},
		{"Rupee symbol", "₹ 24,990", 24990, "INR", true},
		{"ISO code", "EUR 15.50", 15.50, "EUR", true},
		{"Plain integer", "42", 42, "", true},
		{"Thousands only", "1.299", 1299, "", true},
		{"No digits", "Price unavailable", 0, "", false},
		{"Empty", "", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, currency, ok := ParsePrice(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.amount, amount, 0.001)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"4.5 out of 5 stars", 4.5, true},
		{"4,3 von 5 Sternen", 4.3, true},
		{"5", 5, true},
		{"12 stars", 0, false},
		{"no rating", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseRating(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"(1,234)", 1234, true},
		{"2.345 ratings", 2345, true},
		{"17", 17, true},
		{"none", 0, false},
		{"(1.2K)", 1200, true},
		{"3k ratings", 3000, true},
		{"1,5K", 1500, true},
		{"2.4M", 2400000, true},
		{"17 More", 17, true},
		{"99999999999999999999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseCount(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Dell Inspiron 15", CleanText("  Dell\n\tInspiron   15 "))
	assert.Equal(t, "", CleanText(" \n "))
}

package main

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// formatMoney renders amount in currency's conventional format, e.g.
// "$1,234.50". Amounts are rounded to the currency's minor unit.
func formatMoney(amount decimal.Decimal, currency string) string {
	// money.New never returns a nil currency, unlike GetCurrency.
	cur := money.New(0, currency).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}

// formatSigned is formatMoney with an explicit "+" on gains.
func formatSigned(amount decimal.Decimal, currency string) string {
	if amount.IsPositive() {
		return "+" + formatMoney(amount, currency)
	}
	return formatMoney(amount, currency)
}

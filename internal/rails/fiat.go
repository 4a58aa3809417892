package rails

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultTokenValueUSD is the fixed AZR price in US dollars.
var DefaultTokenValueUSD = decimal.NewFromInt(10)

// FiatValue is a token amount priced in USD and ZAR at one captured rate.
type FiatValue struct {
	Tokens int64           `json:"tokens"`
	USD    decimal.Decimal `json:"usd"`
	ZAR    decimal.Decimal `json:"zar"`
	Rate   decimal.Decimal `json:"rate"`
}

// Convert prices tokens as tokens × tokenValueUSD × rate, rounded to cents.
func Convert(tokens int64, tokenValueUSD decimal.Decimal, q Quote) FiatValue {
	usd := decimal.NewFromInt(tokens).Mul(tokenValueUSD)
	return FiatValue{
		Tokens: tokens,
		USD:    usd.Round(2),
		ZAR:    usd.Mul(q.Rate).Round(2),
		Rate:   q.Rate,
	}
}

// ZARMoney returns the rand amount in cents.
func (v FiatValue) ZARMoney() *money.Money {
	return NewMoney(v.ZAR, money.ZAR)
}

// USDMoney returns the dollar amount in cents.
func (v FiatValue) USDMoney() *money.Money {
	return NewMoney(v.USD, money.USD)
}

// NewMoney converts a decimal amount into minor units of currency.
func NewMoney(amount decimal.Decimal, currency string) *money.Money {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return money.New(0, currency)
	}
	factor := decimal.New(1, int32(cur.Fraction))
	return money.New(amount.Mul(factor).Round(0).IntPart(), cur.Code)
}

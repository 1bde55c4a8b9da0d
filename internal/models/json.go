package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money renders an amount with exactly two decimal places, the scale of
// the NUMERIC(12,2) money columns.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func (p Product) MarshalJSON() ([]byte, error) {
	type product Product
	return json.Marshal(struct {
		product
		Price string `json:"price"`
	}{product(p), Money(p.Price)})
}

func (c CartItem) MarshalJSON() ([]byte, error) {
	type cartItem CartItem
	return json.Marshal(struct {
		cartItem
		Price string `json:"price"`
	}{cartItem(c), Money(c.Price)})
}

func (o Order) MarshalJSON() ([]byte, error) {
	type order Order
	return json.Marshal(struct {
		order
		TotalPrice string `json:"total_price"`
	}{order(o), Money(o.TotalPrice)})
}

func (i OrderItem) MarshalJSON() ([]byte, error) {
	type orderItem OrderItem
	return json.Marshal(struct {
		orderItem
		PriceEach string `json:"price_each"`
	}{orderItem(i), Money(i.PriceEach)})
}

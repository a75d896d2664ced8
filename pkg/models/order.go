package models

import (
	"encoding/json"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// Shipping method, order status and payment status values as held locally.
// The backend expects the first letter capitalized on the wire; Capitalize
// handles the outbound form.
const (
	ShippingStandard = "standard"
	ShippingExpress  = "express"

	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderShipped   = "shipped"
	OrderDelivered = "delivered"

	PaymentPending   = "pending"
	PaymentConfirmed = "confirmed"
	PaymentFailed    = "failed"
)

// Additional charge slots are fixed: index 0 is packaging, index 1 is
// transaction. The order matters because serialization maps them to distinct
// backend fields.
const (
	PackagingChargeName   = "Packaging Charges (Inc. GST)"
	TransactionChargeName = "Transaction Charges"
)

type Product struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Image         []string `json:"image"`
	DiscountPrice float64  `json:"discount_price"`
	OriginalPrice float64  `json:"original_price"`
}

// SnapshotPrice returns the price a new line item records for this product:
// discount price if set, else original price, else zero.
func (p Product) SnapshotPrice() float64 {
	if p.DiscountPrice > 0 {
		return p.DiscountPrice
	}
	if p.OriginalPrice > 0 {
		return p.OriginalPrice
	}
	return 0
}

// DeletedProduct is the placeholder for a line whose product was removed
// server-side after the order was placed.
func DeletedProduct() Product {
	return Product{Name: "Deleted Product", Image: []string{}}
}

// LineItem is one product entry within an order. Price is snapshotted when
// the line is created and never recomputed from the product afterwards.
type LineItem struct {
	Key       string  `json:"key"`
	Product   Product `json:"product"`
	VariantID string  `json:"variant_id,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

func (l LineItem) Total() float64 {
	return l.Price * float64(l.Quantity)
}

type AdditionalCharge struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// DefaultCharges returns the fixed two-slot charge list with zero amounts.
func DefaultCharges() [2]AdditionalCharge {
	return [2]AdditionalCharge{
		{Name: PackagingChargeName},
		{Name: TransactionChargeName},
	}
}

type ShippingAndPayment struct {
	ShippingMethod    string              `json:"shipping_method"`
	OrderStatus       string              `json:"order_status"`
	PaymentStatus     string              `json:"payment_status"`
	Discount          float64             `json:"discount"`
	OrderNote         string              `json:"order_note"`
	AdditionalCharges [2]AdditionalCharge `json:"additional_charges"`
}

// FinancialSummary is derived from the current line items and
// shipping/payment slice. It is recomputed on every change and never stored.
type FinancialSummary struct {
	Subtotal               float64 `json:"subtotal"`
	DiscountAmount         float64 `json:"discount_amount"`
	AdditionalChargesTotal float64 `json:"additional_charges_total"`
	Total                  float64 `json:"total"`
}

type CustomerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type AddressRef struct {
	ID      string `json:"id"`
	Line1   string `json:"line1,omitempty"`
	City    string `json:"city,omitempty"`
	Pincode string `json:"pincode,omitempty"`
}

// Amount accepts a JSON number or numeric string and coerces anything
// malformed to zero rather than failing the decode.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*a = Amount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*a = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*a = 0
		return nil
	}
	*a = Amount(n)
	return nil
}

// RawOrder is the shape the backend order API returns for a single order.
type RawOrder struct {
	ID                string         `json:"id"`
	Customer          *CustomerRef   `json:"customer"`
	BillingAddress    *AddressRef    `json:"billingAddress"`
	ShippingAddress   *AddressRef    `json:"shippingAddress"`
	Products          []RawOrderLine `json:"products"`
	ShippingMethod    string         `json:"shippingMethod"`
	OrderStatus       string         `json:"orderStatus"`
	PaymentStatus     string         `json:"paymentStatus"`
	Discount          Amount         `json:"discount"`
	OrderNote         string         `json:"orderNote"`
	AdditionalCharges []RawCharges   `json:"additionalCharges"`
}

type RawOrderLine struct {
	Product  *Product `json:"product"`
	Variant  *string  `json:"variant"`
	Quantity int      `json:"quantity"`
	Price    *float64 `json:"price"`
}

type RawCharges struct {
	PackagingCharge Amount `json:"packagingCharge"`
	ShippingCharge  Amount `json:"shippingCharge"`
}

// UpdatePayload is the wire shape submitted back to the backend. Quantities
// and charge amounts travel as strings; the three status fields travel
// capitalized; paymentTotal carries the computed total.
type UpdatePayload struct {
	Customer          string           `json:"customer"`
	BillingAddress    *string          `json:"billingAddress"`
	ShippingAddress   *string          `json:"shippingAddress"`
	Products          []PayloadLine    `json:"products"`
	ShippingMethod    string           `json:"shippingMethod"`
	OrderStatus       string           `json:"orderStatus"`
	PaymentStatus     string           `json:"paymentStatus"`
	AdditionalCharges []PayloadCharges `json:"additionalCharges"`
	OrderNote         string           `json:"orderNote"`
	Discount          float64          `json:"discount"`
	PaymentTotal      float64          `json:"paymentTotal"`
}

type PayloadLine struct {
	Product  *string `json:"product"`
	Variant  *string `json:"variant"`
	Quantity string  `json:"quantity"`
	Price    float64 `json:"price"`
}

type PayloadCharges struct {
	PackagingCharge string `json:"packagingCharge"`
	ShippingCharge  string `json:"shippingCharge"`
}

// Capitalize uppercases the first rune and leaves the rest unchanged.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// Decapitalize mirrors Capitalize for values coming back from the backend.
func Decapitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

func ValidShippingMethod(s string) bool {
	return s == ShippingStandard || s == ShippingExpress
}

func ValidOrderStatus(s string) bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderShipped, OrderDelivered:
		return true
	}
	return false
}

func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentPending, PaymentConfirmed, PaymentFailed:
		return true
	}
	return false
}

package composer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/internal/lineitems"
	"github.com/jogardn/order-console/internal/shipping"
	"github.com/jogardn/order-console/pkg/models"
)

// Gateway is the backend order API as the composer sees it.
type Gateway interface {
	FetchOrder(ctx context.Context, orderID string) (*models.RawOrder, error)
	UpdateOrder(ctx context.Context, orderID string, payload models.UpdatePayload) error
}

type State int

const (
	StateFetching State = iota
	StateReady
	StateSubmitting
	StateSucceeded
	StateFetchFailed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFetchFailed:
		return "fetch_failed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotEditable is returned for edits attempted outside the Ready state,
	// including while a submit is in flight.
	ErrNotEditable = errors.New("order is not editable in the current state")
	// ErrClosed is returned when the session was torn down; results of
	// in-flight calls are discarded rather than applied.
	ErrClosed = errors.New("edit session is closed")
)

// FetchError means the order could not be loaded; the session never becomes
// editable.
type FetchError struct {
	OrderID string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch order %s: %v", e.OrderID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError means the aggregate invariant was unmet at submit time.
// No backend call is issued.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order is not ready to submit, missing: %v", e.Missing)
}

// SubmitError means the backend rejected the update. The session returns to
// Ready with all local edits intact.
type SubmitError struct {
	OrderID string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("failed to update order %s: %v", e.OrderID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Snapshot is the composer's full view at a point in time: the three slices,
// the derived summary and the submit gate. Change listeners receive it after
// every recomputation.
type Snapshot struct {
	OrderID         string                    `json:"order_id"`
	State           string                    `json:"state"`
	Customer        *models.CustomerRef       `json:"customer"`
	BillingAddress  *models.AddressRef        `json:"billing_address"`
	ShippingAddress *models.AddressRef        `json:"shipping_address"`
	Lines           []models.LineItem         `json:"lines"`
	Shipping        models.ShippingAndPayment `json:"shipping"`
	Summary         models.FinancialSummary   `json:"summary"`
	CanSubmit       bool                      `json:"can_submit"`
	Missing         []string                  `json:"missing,omitempty"`
}

// ChargeUpdate targets one of the two fixed charge slots.
type ChargeUpdate struct {
	Index  int     `json:"index"`
	Amount float64 `json:"amount"`
}

// ShippingUpdate carries a shipping/payment edit; nil fields are untouched.
type ShippingUpdate struct {
	ShippingMethod *string        `json:"shipping_method"`
	OrderStatus    *string        `json:"order_status"`
	PaymentStatus  *string        `json:"payment_status"`
	Discount       *float64       `json:"discount"`
	OrderNote      *string        `json:"order_note"`
	Charges        []ChargeUpdate `json:"charges"`
}

// Composer owns one order edit session. It fetches the order, decomposes it
// into the line item and shipping/payment slices, recomputes the financial
// summary on every slice change and gates submission on the aggregate
// invariant: customer, both addresses and at least one line item.
//
// Lifecycle: Fetching -> Ready -> Submitting -> Succeeded, with submit
// failures returning to Ready (edits preserved) and fetch failures ending in
// FetchFailed (never editable).
type Composer struct {
	orderID  string
	gateway  Gateway
	logger   *logrus.Logger
	onChange func(Snapshot)

	lines    *lineitems.Set
	shipping *shipping.Editor

	mu              sync.Mutex
	state           State
	closed          bool
	hydratedOrderID string
	customer        *models.CustomerRef
	billingAddress  *models.AddressRef
	shippingAddress *models.AddressRef
	currentLines    []models.LineItem
	currentShipping models.ShippingAndPayment
	summary         models.FinancialSummary
}

// New builds a composer for an existing order. onChange may be nil; when set
// it receives a snapshot after every recomputation.
func New(orderID string, gw Gateway, logger *logrus.Logger, onChange func(Snapshot)) *Composer {
	c := &Composer{
		orderID:  orderID,
		gateway:  gw,
		logger:   logger,
		onChange: onChange,
		state:    StateFetching,
	}
	c.lines = lineitems.NewSet(c.onLinesChanged)
	c.shipping = shipping.NewEditor(c.onShippingChanged)
	c.currentShipping = c.shipping.Data()
	return c
}

// Fetch loads the order and hydrates the local slices. Hydration runs at
// most once per order id: a repeat call (or a late second response) cannot
// clobber in-progress edits.
func (c *Composer) Fetch(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.hydratedOrderID == c.orderID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	raw, err := c.gateway.FetchOrder(ctx, c.orderID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		c.state = StateFetchFailed
		snapshot := c.snapshotLocked()
		c.mu.Unlock()

		c.logger.WithError(err).WithField("order_id", c.orderID).Error("Failed to fetch order for editing")
		c.emit(snapshot)
		return &FetchError{OrderID: c.orderID, Err: err}
	}
	if c.hydratedOrderID == c.orderID {
		c.mu.Unlock()
		return nil
	}
	c.hydratedOrderID = c.orderID
	c.customer = raw.Customer
	c.billingAddress = raw.BillingAddress
	c.shippingAddress = raw.ShippingAddress
	c.mu.Unlock()

	// Slice hydration notifies back into the composer, which recomputes the
	// summary; the locks are never held across these calls.
	c.lines.LoadFromOrder(raw.Products)
	c.shipping.Load(raw)

	c.mu.Lock()
	c.state = StateReady
	c.recomputeLocked()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"order_id":    c.orderID,
		"items_count": len(snapshot.Lines),
		"subtotal":    snapshot.Summary.Subtotal,
	}).Info("Order hydrated for editing")

	c.emit(snapshot)
	return nil
}

// AddLine adds a product to the order, merging into an existing line for the
// same product id. Quantity must be at least 1.
func (c *Composer) AddLine(product models.Product, quantity int) (models.LineItem, error) {
	if quantity < 1 {
		return models.LineItem{}, fmt.Errorf("quantity must be at least 1, got %d", quantity)
	}
	if err := c.requireReady(); err != nil {
		return models.LineItem{}, err
	}
	return c.lines.Add(product, quantity), nil
}

// RemoveLine drops a line by key.
func (c *Composer) RemoveLine(key string) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if !c.lines.Remove(key) {
		return fmt.Errorf("no line item with key %s", key)
	}
	return nil
}

// SetLineQuantity replaces a line's quantity. Values below 1 are rejected;
// decrementing from 1 is a no-op on the caller side, not a removal.
func (c *Composer) SetLineQuantity(key string, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d", quantity)
	}
	if err := c.requireReady(); err != nil {
		return err
	}
	if !c.lines.SetQuantity(key, quantity) {
		return fmt.Errorf("no line item with key %s", key)
	}
	return nil
}

// ApplyShipping applies a shipping/payment edit through the editor's
// clamping setters.
func (c *Composer) ApplyShipping(update ShippingUpdate) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if update.ShippingMethod != nil {
		if err := c.shipping.SetShippingMethod(*update.ShippingMethod); err != nil {
			return err
		}
	}
	if update.OrderStatus != nil {
		if err := c.shipping.SetOrderStatus(*update.OrderStatus); err != nil {
			return err
		}
	}
	if update.PaymentStatus != nil {
		if err := c.shipping.SetPaymentStatus(*update.PaymentStatus); err != nil {
			return err
		}
	}
	if update.Discount != nil {
		c.shipping.SetDiscount(*update.Discount)
	}
	if update.OrderNote != nil {
		c.shipping.SetOrderNote(*update.OrderNote)
	}
	for _, charge := range update.Charges {
		if err := c.shipping.SetChargeAmount(charge.Index, charge.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Submit serializes the aggregate and sends it to the backend. It refuses to
// contact the backend while the aggregate invariant is unmet. A backend
// failure returns the session to Ready with every local edit preserved.
func (c *Composer) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotEditable
	}
	if missing := c.missingLocked(); len(missing) > 0 {
		c.mu.Unlock()
		return &ValidationError{Missing: missing}
	}
	payload := c.payloadLocked()
	c.state = StateSubmitting
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snapshot)

	err := c.gateway.UpdateOrder(ctx, c.orderID, payload)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		c.state = StateReady
		snapshot = c.snapshotLocked()
		c.mu.Unlock()

		c.logger.WithError(err).WithField("order_id", c.orderID).Error("Order update rejected by backend")
		c.emit(snapshot)
		return &SubmitError{OrderID: c.orderID, Err: err}
	}
	c.state = StateSucceeded
	snapshot = c.snapshotLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"order_id":      c.orderID,
		"payment_total": payload.PaymentTotal,
	}).Info("Order update submitted")

	c.emit(snapshot)
	return nil
}

// Cancel discards all local edits and leaves the workflow without contacting
// the backend. Only valid from Ready.
func (c *Composer) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateReady {
		return ErrNotEditable
	}
	c.closed = true
	return nil
}

// Close tears the session down. Results of calls still in flight are
// discarded rather than applied to the dead session.
func (c *Composer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Composer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Composer) Summary() models.FinancialSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// CanSubmit reports submit eligibility and which aggregate fields block it.
func (c *Composer) CanSubmit() (bool, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	missing := c.missingLocked()
	return len(missing) == 0, missing
}

func (c *Composer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Composer) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateReady {
		return ErrNotEditable
	}
	return nil
}

// onLinesChanged and onShippingChanged are the single recomputation path:
// each slice reports its full new value and the summary is rederived here.
func (c *Composer) onLinesChanged(items []models.LineItem) {
	c.mu.Lock()
	c.currentLines = items
	c.recomputeLocked()
	snapshot := c.snapshotLocked()
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.emit(snapshot)
	}
}

func (c *Composer) onShippingChanged(data models.ShippingAndPayment) {
	c.mu.Lock()
	c.currentShipping = data
	c.recomputeLocked()
	snapshot := c.snapshotLocked()
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.emit(snapshot)
	}
}

// recomputeLocked derives the financial summary from the current slices.
// The total clamps at zero after the discount subtraction.
func (c *Composer) recomputeLocked() {
	var subtotal float64
	for _, line := range c.currentLines {
		subtotal += line.Total()
	}
	discountAmount := subtotal * (c.currentShipping.Discount / 100)
	chargesTotal := c.currentShipping.AdditionalCharges[0].Amount + c.currentShipping.AdditionalCharges[1].Amount

	total := subtotal - discountAmount + chargesTotal
	if total < 0 {
		total = 0
	}

	c.summary = models.FinancialSummary{
		Subtotal:               subtotal,
		DiscountAmount:         discountAmount,
		AdditionalChargesTotal: chargesTotal,
		Total:                  total,
	}
}

func (c *Composer) missingLocked() []string {
	var missing []string
	if c.customer == nil || c.customer.ID == "" {
		missing = append(missing, "customer")
	}
	if c.billingAddress == nil || c.billingAddress.ID == "" {
		missing = append(missing, "billingAddress")
	}
	if c.shippingAddress == nil || c.shippingAddress.ID == "" {
		missing = append(missing, "shippingAddress")
	}
	if len(c.currentLines) == 0 {
		missing = append(missing, "lineItems")
	}
	return missing
}

// payloadLocked serializes the aggregate to the backend wire shape:
// quantities and charge amounts as strings, status fields capitalized,
// charges mapped positionally and paymentTotal carrying the computed total.
func (c *Composer) payloadLocked() models.UpdatePayload {
	products := make([]models.PayloadLine, 0, len(c.currentLines))
	for _, line := range c.currentLines {
		p := models.PayloadLine{
			Quantity: strconv.Itoa(line.Quantity),
			Price:    line.Price,
		}
		if line.Product.ID != "" {
			id := line.Product.ID
			p.Product = &id
		}
		if line.VariantID != "" {
			v := line.VariantID
			p.Variant = &v
		}
		products = append(products, p)
	}

	payload := models.UpdatePayload{
		Customer:       c.customer.ID,
		Products:       products,
		ShippingMethod: models.Capitalize(c.currentShipping.ShippingMethod),
		OrderStatus:    models.Capitalize(c.currentShipping.OrderStatus),
		PaymentStatus:  models.Capitalize(c.currentShipping.PaymentStatus),
		AdditionalCharges: []models.PayloadCharges{{
			PackagingCharge: formatAmount(c.currentShipping.AdditionalCharges[0].Amount),
			ShippingCharge:  formatAmount(c.currentShipping.AdditionalCharges[1].Amount),
		}},
		OrderNote:    c.currentShipping.OrderNote,
		Discount:     c.currentShipping.Discount,
		PaymentTotal: c.summary.Total,
	}
	if c.billingAddress != nil && c.billingAddress.ID != "" {
		id := c.billingAddress.ID
		payload.BillingAddress = &id
	}
	if c.shippingAddress != nil && c.shippingAddress.ID != "" {
		id := c.shippingAddress.ID
		payload.ShippingAddress = &id
	}
	return payload
}

func (c *Composer) snapshotLocked() Snapshot {
	missing := c.missingLocked()
	return Snapshot{
		OrderID:         c.orderID,
		State:           c.state.String(),
		Customer:        c.customer,
		BillingAddress:  c.billingAddress,
		ShippingAddress: c.shippingAddress,
		Lines:           c.currentLines,
		Shipping:        c.currentShipping,
		Summary:         c.summary,
		CanSubmit:       c.state == StateReady && len(missing) == 0,
		Missing:         missing,
	}
}

func (c *Composer) emit(snapshot Snapshot) {
	if c.onChange != nil {
		c.onChange(snapshot)
	}
}

// formatAmount renders a charge amount the way the backend stores it: a
// plain decimal string without trailing zeros.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

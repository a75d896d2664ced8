package shipping

import (
	"fmt"
	"sync"

	"github.com/jogardn/order-console/pkg/models"
)

// Editor holds the shipping/payment slice of an order being edited. Numeric
// inputs are normalized rather than rejected: discount clamps to [0, 100] and
// charge amounts clamp to zero from below. Every setter notifies with the
// full current value so the composer always sees a consistent snapshot.
type Editor struct {
	mu       sync.Mutex
	data     models.ShippingAndPayment
	onChange func(models.ShippingAndPayment)
}

func NewEditor(onChange func(models.ShippingAndPayment)) *Editor {
	return &Editor{
		data: models.ShippingAndPayment{
			ShippingMethod:    models.ShippingStandard,
			OrderStatus:       models.OrderPending,
			PaymentStatus:     models.PaymentPending,
			AdditionalCharges: models.DefaultCharges(),
		},
		onChange: onChange,
	}
}

// Load hydrates the slice from a fetched order. Status fields arrive
// capitalized from the backend and are normalized to their local forms;
// amounts get the same clamping as interactive edits.
func (e *Editor) Load(raw *models.RawOrder) {
	e.mu.Lock()
	if method := models.Decapitalize(raw.ShippingMethod); models.ValidShippingMethod(method) {
		e.data.ShippingMethod = method
	}
	if status := models.Decapitalize(raw.OrderStatus); models.ValidOrderStatus(status) {
		e.data.OrderStatus = status
	}
	if status := models.Decapitalize(raw.PaymentStatus); models.ValidPaymentStatus(status) {
		e.data.PaymentStatus = status
	}
	e.data.Discount = clampDiscount(float64(raw.Discount))
	e.data.OrderNote = raw.OrderNote
	if len(raw.AdditionalCharges) > 0 {
		e.data.AdditionalCharges[0].Amount = clampAmount(float64(raw.AdditionalCharges[0].PackagingCharge))
		e.data.AdditionalCharges[1].Amount = clampAmount(float64(raw.AdditionalCharges[0].ShippingCharge))
	}
	snapshot := e.data
	e.mu.Unlock()

	e.notify(snapshot)
}

func (e *Editor) SetShippingMethod(method string) error {
	if !models.ValidShippingMethod(method) {
		return fmt.Errorf("invalid shipping method %q", method)
	}
	e.set(func(d *models.ShippingAndPayment) { d.ShippingMethod = method })
	return nil
}

func (e *Editor) SetOrderStatus(status string) error {
	if !models.ValidOrderStatus(status) {
		return fmt.Errorf("invalid order status %q", status)
	}
	e.set(func(d *models.ShippingAndPayment) { d.OrderStatus = status })
	return nil
}

func (e *Editor) SetPaymentStatus(status string) error {
	if !models.ValidPaymentStatus(status) {
		return fmt.Errorf("invalid payment status %q", status)
	}
	e.set(func(d *models.ShippingAndPayment) { d.PaymentStatus = status })
	return nil
}

// SetDiscount clamps out-of-range percentages instead of rejecting them.
func (e *Editor) SetDiscount(value float64) {
	e.set(func(d *models.ShippingAndPayment) { d.Discount = clampDiscount(value) })
}

// SetChargeAmount updates one of the two fixed charge slots. Negative
// amounts clamp to zero. The slot names are constants and never change.
func (e *Editor) SetChargeAmount(index int, amount float64) error {
	if index < 0 || index > 1 {
		return fmt.Errorf("charge index %d out of range", index)
	}
	e.set(func(d *models.ShippingAndPayment) { d.AdditionalCharges[index].Amount = clampAmount(amount) })
	return nil
}

func (e *Editor) SetOrderNote(note string) {
	e.set(func(d *models.ShippingAndPayment) { d.OrderNote = note })
}

// Data returns a copy of the current slice.
func (e *Editor) Data() models.ShippingAndPayment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data
}

// ChargesTotal is the sum of the two charge amounts.
func (e *Editor) ChargesTotal() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.AdditionalCharges[0].Amount + e.data.AdditionalCharges[1].Amount
}

func (e *Editor) set(mutate func(*models.ShippingAndPayment)) {
	e.mu.Lock()
	mutate(&e.data)
	snapshot := e.data
	e.mu.Unlock()

	e.notify(snapshot)
}

func (e *Editor) notify(snapshot models.ShippingAndPayment) {
	if e.onChange != nil {
		e.onChange(snapshot)
	}
}

func clampDiscount(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func clampAmount(value float64) float64 {
	if value < 0 {
		return 0
	}
	return value
}

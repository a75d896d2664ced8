package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestFetchOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/orders/ord-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "ord-1",
			"customer": {"id": "cust-1", "name": "Asha"},
			"billingAddress": {"id": "addr-1"},
			"shippingAddress": {"id": "addr-2"},
			"products": [
				{"product": {"id": "p1", "name": "Widget", "original_price": 100}, "quantity": 2, "price": 90}
			],
			"shippingMethod": "Express",
			"orderStatus": "Confirmed",
			"paymentStatus": "Pending",
			"discount": "10",
			"orderNote": "gift wrap",
			"additionalCharges": [{"packagingCharge": "20", "shippingCharge": "bad-input"}]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	order, err := client.FetchOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Customer == nil || order.Customer.ID != "cust-1" {
		t.Errorf("unexpected customer: %+v", order.Customer)
	}
	if len(order.Products) != 1 || *order.Products[0].Price != 90 {
		t.Errorf("unexpected products: %+v", order.Products)
	}
	if float64(order.Discount) != 10 {
		t.Errorf("string discount should parse, got %v", order.Discount)
	}
	if float64(order.AdditionalCharges[0].PackagingCharge) != 20 {
		t.Errorf("expected packaging charge 20, got %v", order.AdditionalCharges[0].PackagingCharge)
	}
	if float64(order.AdditionalCharges[0].ShippingCharge) != 0 {
		t.Errorf("malformed charge should coerce to 0, got %v", order.AdditionalCharges[0].ShippingCharge)
	}
}

func TestFetchOrderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	if _, err := client.FetchOrder(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing order")
	}
}

func TestUpdateOrderSendsPayload(t *testing.T) {
	var received models.UpdatePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/orders/ord-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	billing := "addr-1"
	err := client.UpdateOrder(context.Background(), "ord-1", models.UpdatePayload{
		Customer:       "cust-1",
		BillingAddress: &billing,
		ShippingMethod: "Express",
		PaymentTotal:   250,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.Customer != "cust-1" || received.PaymentTotal != 250 {
		t.Errorf("payload not delivered intact: %+v", received)
	}
	if received.ShippingAddress != nil {
		t.Errorf("nil address should serialize as null, got %v", *received.ShippingAddress)
	}
}

func TestUpdateOrderSurfacesBackendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success": false, "message": "billing address no longer exists"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	err := client.UpdateOrder(context.Background(), "ord-1", models.UpdatePayload{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "billing address no longer exists") {
		t.Errorf("expected backend message in error, got %v", err)
	}
}

func TestBreakerTripsOnRepeatedFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	for i := 0; i < 5; i++ {
		client.FetchOrder(context.Background(), "ord-1")
	}

	metrics := client.BreakerMetrics()
	if metrics["state"] != "open" {
		t.Errorf("expected breaker open after repeated failures, got %v", metrics["state"])
	}
}

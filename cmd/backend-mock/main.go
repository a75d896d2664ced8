package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/pkg/models"
)

// In-memory stand-in for the backend order API, for running the console
// locally without the real platform.
type OrderStore struct {
	orders  map[string]*models.RawOrder
	updates map[string]models.UpdatePayload
	mutex   sync.RWMutex
	logger  *logrus.Logger
}

func NewOrderStore(logger *logrus.Logger) *OrderStore {
	store := &OrderStore{
		orders:  make(map[string]*models.RawOrder),
		updates: make(map[string]models.UpdatePayload),
		logger:  logger,
	}
	store.seed()
	return store
}

func (s *OrderStore) seed() {
	price := func(v float64) *float64 { return &v }

	s.orders["ord-1001"] = &models.RawOrder{
		ID:              "ord-1001",
		Customer:        &models.CustomerRef{ID: "cust-1", Name: "Asha Verma", Email: "asha@example.com"},
		BillingAddress:  &models.AddressRef{ID: "addr-1", Line1: "14 Lake Road", City: "Pune", Pincode: "411001"},
		ShippingAddress: &models.AddressRef{ID: "addr-2", Line1: "14 Lake Road", City: "Pune", Pincode: "411001"},
		Products: []models.RawOrderLine{
			{
				Product:  &models.Product{ID: "p-100", Name: "Steel Water Bottle", Image: []string{"bottle.jpg"}, DiscountPrice: 100, OriginalPrice: 120},
				Quantity: 2,
				Price:    price(100),
			},
			{
				Product:  &models.Product{ID: "p-200", Name: "Bamboo Lunch Box", Image: []string{"lunchbox.jpg"}, OriginalPrice: 50},
				Quantity: 1,
				Price:    price(50),
			},
		},
		ShippingMethod:    "Standard",
		OrderStatus:       "Pending",
		PaymentStatus:     "Pending",
		Discount:          10,
		OrderNote:         "call before delivery",
		AdditionalCharges: []models.RawCharges{{PackagingCharge: 20, ShippingCharge: 5}},
	}

	// An order whose product was deleted from the catalog.
	s.orders["ord-1002"] = &models.RawOrder{
		ID:              "ord-1002",
		Customer:        &models.CustomerRef{ID: "cust-2", Name: "Ravi Nair"},
		BillingAddress:  &models.AddressRef{ID: "addr-3", City: "Kochi"},
		ShippingAddress: &models.AddressRef{ID: "addr-4", City: "Kochi"},
		Products: []models.RawOrderLine{
			{Quantity: 1, Price: price(75)},
		},
		ShippingMethod:    "Express",
		OrderStatus:       "Confirmed",
		PaymentStatus:     "Confirmed",
		AdditionalCharges: []models.RawCharges{{}},
	}
}

func (s *OrderStore) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	s.mutex.RLock()
	order, ok := s.orders[orderID]
	s.mutex.RUnlock()

	if !ok {
		respondWithError(w, http.StatusNotFound, "Order not found")
		return
	}

	s.logger.WithField("order_id", orderID).Info("Serving order")
	respondWithJSON(w, http.StatusOK, order)
}

func (s *OrderStore) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var payload models.UpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		respondWithError(w, http.StatusNotFound, "Order not found")
		return
	}
	if payload.Customer == "" {
		respondWithError(w, http.StatusBadRequest, "customer is required")
		return
	}
	if len(payload.Products) == 0 {
		respondWithError(w, http.StatusBadRequest, "order must contain at least one product")
		return
	}

	s.updates[orderID] = payload

	s.logger.WithFields(logrus.Fields{
		"order_id":      orderID,
		"payment_total": payload.PaymentTotal,
		"items_count":   len(payload.Products),
	}).Info("Order update accepted")

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Order updated successfully",
	})
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	store := NewOrderStore(logger)
	port := getEnv("BACKEND_MOCK_PORT", "9090")

	router := mux.NewRouter()
	router.HandleFunc("/orders/{id}", store.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}", store.UpdateOrder).Methods("PUT")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "backend-mock"})
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.WithField("port", port).Info("Starting backend mock")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down backend mock...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

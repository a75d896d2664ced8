package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/internal/circuitbreaker"
	"github.com/jogardn/order-console/pkg/models"
)

// Client talks to the backend order API. All calls pass through a circuit
// breaker so a failing backend stops being hammered by edit sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "order-api",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			MaxRequests: 2,
		}, logger),
		logger: logger,
	}
}

// FetchOrder retrieves a single order by id.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*models.RawOrder, error) {
	c.logger.WithField("order_id", orderID).Info("Fetching order from backend")

	var order models.RawOrder
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request to order API: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("order %s not found", orderID)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("order API returned error status: %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return fmt.Errorf("failed to decode order API response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":    orderID,
		"items_count": len(order.Products),
	}).Info("Retrieved order from backend")

	return &order, nil
}

// UpdateOrder submits the serialized aggregate for an existing order.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, payload models.UpdatePayload) error {
	c.logger.WithFields(logrus.Fields{
		"order_id":      orderID,
		"payment_total": payload.PaymentTotal,
	}).Info("Submitting order update to backend")

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal update payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/orders/"+orderID, bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send update to order API: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var body struct {
				Message string `json:"message"`
			}
			json.NewDecoder(resp.Body).Decode(&body)
			if body.Message != "" {
				return fmt.Errorf("order API rejected update (%d): %s", resp.StatusCode, body.Message)
			}
			return fmt.Errorf("order API returned error status: %d", resp.StatusCode)
		}
		return nil
	})
}

// BreakerMetrics exposes the breaker state for the health endpoint.
func (c *Client) BreakerMetrics() map[string]interface{} {
	return c.breaker.Metrics()
}

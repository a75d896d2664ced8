package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/internal/events"
)

// update-monitor tails the order.updated topic and logs every accepted
// order update, useful when watching console activity during development.

type logHandler struct {
	logger *logrus.Logger
}

func (h *logHandler) HandleOrderUpdated(event events.OrderUpdatedEvent) error {
	h.logger.WithFields(logrus.Fields{
		"order_id":      event.OrderID,
		"customer_id":   event.CustomerID,
		"payment_total": event.PaymentTotal,
		"item_count":    event.ItemCount,
		"updated_at":    event.UpdatedAt.Format(time.RFC3339),
	}).Info("Order updated")
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	logger.WithField("brokers", kafkaBrokers).Info("Initializing Kafka consumer...")

	var consumer *events.KafkaConsumer
	var err error

	// Retry connecting to Kafka
	for i := 0; i < 10; i++ {
		consumer, err = events.NewKafkaConsumer(kafkaBrokers, "update-monitor-group", &logHandler{logger: logger}, logger)
		if err == nil {
			logger.Info("Successfully connected to Kafka")
			break
		}
		logger.WithError(err).Warn("Failed to connect to Kafka, retrying...")
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Consumer stopped with error")
		}
	}()

	logger.Info("Update monitor started - monitoring order.updated topic")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down update monitor...")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

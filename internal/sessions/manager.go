package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/order-console/internal/composer"
	"github.com/jogardn/order-console/internal/drafts"
	"github.com/jogardn/order-console/internal/editlock"
	"github.com/jogardn/order-console/internal/events"
)

// ErrSessionNotFound is returned for lookups of unknown or ended sessions.
var ErrSessionNotFound = fmt.Errorf("edit session not found")

// Broadcaster pushes session notifications to connected console clients.
type Broadcaster interface {
	Broadcast(messageType, sessionID string, data interface{})
}

// EventPublisher announces accepted order updates downstream.
type EventPublisher interface {
	PublishOrderUpdated(event events.OrderUpdatedEvent) error
}

// Session is one order edit workflow instance. All of its state lives in its
// composer; nothing is shared between sessions.
type Session struct {
	ID        string
	OrderID   string
	Composer  *composer.Composer
	CreatedAt time.Time
}

// Manager owns the live edit sessions. Opening a session takes the per-order
// edit lock, fetches the order and hydrates a composer; ending it (submit,
// cancel or teardown) releases the lock and drops the persisted draft.
type Manager struct {
	gateway     composer.Gateway
	locker      editlock.Locker
	drafts      drafts.Saver
	broadcaster Broadcaster
	publisher   EventPublisher
	logger      *logrus.Logger
	lockTTL     time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

type ManagerConfig struct {
	Gateway     composer.Gateway
	Locker      editlock.Locker
	Drafts      drafts.Saver
	Broadcaster Broadcaster
	Publisher   EventPublisher
	LockTTL     time.Duration
}

func NewManager(config ManagerConfig, logger *logrus.Logger) *Manager {
	if config.Locker == nil {
		config.Locker = editlock.NoopLocker{}
	}
	if config.Drafts == nil {
		config.Drafts = drafts.NoopSaver{}
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Minute
	}

	return &Manager{
		gateway:     config.Gateway,
		locker:      config.Locker,
		drafts:      config.Drafts,
		broadcaster: config.Broadcaster,
		publisher:   config.Publisher,
		logger:      logger,
		lockTTL:     config.LockTTL,
		sessions:    make(map[string]*Session),
	}
}

// Open starts an edit session for an existing order. A fetch failure means
// no session is created: the order can not be edited on top of an empty form.
func (m *Manager) Open(ctx context.Context, orderID string) (*Session, error) {
	sessionID := uuid.New().String()

	if err := m.locker.Acquire(ctx, orderID, sessionID, m.lockTTL); err != nil {
		return nil, err
	}

	comp := composer.New(orderID, m.gateway, m.logger, func(snapshot composer.Snapshot) {
		m.onSnapshot(sessionID, snapshot)
	})

	if err := comp.Fetch(ctx); err != nil {
		if releaseErr := m.locker.Release(context.Background(), orderID, sessionID); releaseErr != nil {
			m.logger.WithError(releaseErr).WithField("order_id", orderID).Error("Failed to release edit lock after fetch failure")
		}
		return nil, err
	}

	session := &Session{
		ID:        sessionID,
		OrderID:   orderID,
		Composer:  comp,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"order_id":   orderID,
	}).Info("Edit session opened")

	return session, nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Submit runs the composer's submit and, on success, publishes the update
// event and ends the session.
func (m *Manager) Submit(ctx context.Context, sessionID string) (composer.Snapshot, error) {
	session, err := m.Get(sessionID)
	if err != nil {
		return composer.Snapshot{}, err
	}

	if err := session.Composer.Submit(ctx); err != nil {
		return session.Composer.Snapshot(), err
	}

	snapshot := session.Composer.Snapshot()
	m.publishUpdated(snapshot)
	m.end(session)
	return snapshot, nil
}

// Cancel discards the session's edits without contacting the backend.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	session, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if err := session.Composer.Cancel(); err != nil {
		return err
	}
	m.end(session)

	m.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"order_id":   session.OrderID,
	}).Info("Edit session cancelled")
	return nil
}

// CloseAll tears down every live session, releasing locks. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		open = append(open, session)
	}
	m.mu.Unlock()

	for _, session := range open {
		session.Composer.Close()
		m.end(session)
	}
}

func (m *Manager) end(session *Session) {
	session.Composer.Close()

	m.mu.Lock()
	delete(m.sessions, session.ID)
	m.mu.Unlock()

	if err := m.drafts.Delete(session.ID); err != nil {
		m.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to delete draft")
	}
	if err := m.locker.Release(context.Background(), session.OrderID, session.ID); err != nil {
		m.logger.WithError(err).WithField("order_id", session.OrderID).Error("Failed to release edit lock")
	}
}

func (m *Manager) onSnapshot(sessionID string, snapshot composer.Snapshot) {
	if m.broadcaster != nil {
		m.broadcaster.Broadcast("summary_changed", sessionID, map[string]interface{}{
			"order_id":   snapshot.OrderID,
			"state":      snapshot.State,
			"summary":    snapshot.Summary,
			"can_submit": snapshot.CanSubmit,
		})
	}
	if err := m.drafts.Save(sessionID, snapshot); err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to persist draft snapshot")
	}
}

func (m *Manager) publishUpdated(snapshot composer.Snapshot) {
	if m.publisher == nil {
		return
	}

	customerID := ""
	if snapshot.Customer != nil {
		customerID = snapshot.Customer.ID
	}
	event := events.OrderUpdatedEvent{
		OrderID:      snapshot.OrderID,
		CustomerID:   customerID,
		PaymentTotal: snapshot.Summary.Total,
		ItemCount:    len(snapshot.Lines),
		UpdatedAt:    time.Now(),
	}

	// Publishing is best effort; the backend already accepted the update.
	if err := m.publisher.PublishOrderUpdated(event); err != nil {
		m.logger.WithError(err).WithField("order_id", snapshot.OrderID).Error("Failed to publish order updated event")
	}
}

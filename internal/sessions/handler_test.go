package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/order-console/internal/composer"
	"github.com/jogardn/order-console/internal/editlock"
	"github.com/jogardn/order-console/internal/events"
	"github.com/jogardn/order-console/pkg/models"
)

type fakeGateway struct {
	mu          sync.Mutex
	order       *models.RawOrder
	fetchErr    error
	updateErr   error
	updateCalls int
	lastPayload models.UpdatePayload
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (*models.RawOrder, error) {
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.order, nil
}

func (g *fakeGateway) UpdateOrder(ctx context.Context, orderID string, payload models.UpdatePayload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	g.lastPayload = payload
	return g.updateErr
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	denyNext bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) Acquire(ctx context.Context, orderID, sessionID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.denyNext {
		return editlock.ErrLocked
	}
	if _, taken := l.held[orderID]; taken {
		return editlock.ErrLocked
	}
	l.held[orderID] = sessionID
	return nil
}

func (l *fakeLocker) Release(ctx context.Context, orderID, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[orderID] == sessionID {
		delete(l.held, orderID)
	}
	return nil
}

func (l *fakeLocker) Refresh(ctx context.Context, orderID, sessionID string, ttl time.Duration) error {
	return nil
}

func (l *fakeLocker) holder(orderID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[orderID]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.OrderUpdatedEvent
}

func (p *fakePublisher) PublishOrderUpdated(event events.OrderUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func price(v float64) *float64 { return &v }

func testOrder() *models.RawOrder {
	return &models.RawOrder{
		ID:              "ord-1",
		Customer:        &models.CustomerRef{ID: "cust-1"},
		BillingAddress:  &models.AddressRef{ID: "bill-1"},
		ShippingAddress: &models.AddressRef{ID: "ship-1"},
		Products: []models.RawOrderLine{
			{Product: &models.Product{ID: "p1", Name: "Widget"}, Quantity: 2, Price: price(100)},
			{Product: &models.Product{ID: "p2", Name: "Gadget"}, Quantity: 1, Price: price(50)},
		},
		ShippingMethod:    "Standard",
		OrderStatus:       "Pending",
		PaymentStatus:     "Pending",
		Discount:          10,
		AdditionalCharges: []models.RawCharges{{PackagingCharge: 20, ShippingCharge: 5}},
	}
}

type env struct {
	router    *mux.Router
	gateway   *fakeGateway
	locker    *fakeLocker
	publisher *fakePublisher
	manager   *Manager
}

func newEnv(gw *fakeGateway) *env {
	logger := testLogger()
	locker := newFakeLocker()
	publisher := &fakePublisher{}
	manager := NewManager(ManagerConfig{
		Gateway:   gw,
		Locker:    locker,
		Publisher: publisher,
	}, logger)

	router := mux.NewRouter()
	NewHandler(manager, logger).Register(router)

	return &env{router: router, gateway: gw, locker: locker, publisher: publisher, manager: manager}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	fields := map[string]json.RawMessage{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	}
	return rec, fields
}

func (e *env) openSession(t *testing.T) string {
	t.Helper()
	rec, fields := e.do(t, http.MethodPost, "/sessions", openSessionRequest{OrderID: "ord-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sessionID string
	require.NoError(t, json.Unmarshal(fields["session_id"], &sessionID))
	return sessionID
}

func TestOpenSessionReturnsDecomposedOrder(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	rec, fields := e.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot composer.Snapshot
	require.NoError(t, json.Unmarshal(fields["session"], &snapshot))
	assert.Equal(t, "ready", snapshot.State)
	assert.Len(t, snapshot.Lines, 2)
	assert.Equal(t, 250.0, snapshot.Summary.Subtotal)
	assert.Equal(t, 250.0, snapshot.Summary.Total)
	assert.True(t, snapshot.CanSubmit)
	assert.Equal(t, sessionID, e.locker.holder("ord-1"))
}

func TestOpenSessionConflictWhenLocked(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	e.openSession(t)

	rec, _ := e.do(t, http.MethodPost, "/sessions", openSessionRequest{OrderID: "ord-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOpenSessionFetchFailure(t *testing.T) {
	e := newEnv(&fakeGateway{fetchErr: errors.New("backend down")})

	rec, _ := e.do(t, http.MethodPost, "/sessions", openSessionRequest{OrderID: "ord-1"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, e.locker.holder("ord-1"), "lock must be released when no session is created")
}

func TestAddLineRejectsNonPositiveQuantity(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	rec, _ := e.do(t, http.MethodPost, "/sessions/"+sessionID+"/lines", addLineRequest{
		Product:  models.Product{ID: "p3", OriginalPrice: 10},
		Quantity: 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddLineMergesAndRecomputes(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	rec, fields := e.do(t, http.MethodPost, "/sessions/"+sessionID+"/lines", addLineRequest{
		Product:  models.Product{ID: "p1", Name: "Widget", OriginalPrice: 100},
		Quantity: 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var line models.LineItem
	require.NoError(t, json.Unmarshal(fields["line"], &line))
	assert.Equal(t, 5, line.Quantity, "adding an existing product merges quantities")

	var summary models.FinancialSummary
	require.NoError(t, json.Unmarshal(fields["summary"], &summary))
	assert.Equal(t, 550.0, summary.Subtotal)
}

func TestShippingUpdateClampsValues(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	discount := 150.0
	rec, fields := e.do(t, http.MethodPut, "/sessions/"+sessionID+"/shipping", composer.ShippingUpdate{
		Discount: &discount,
		Charges:  []composer.ChargeUpdate{{Index: 0, Amount: -10}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var shippingData models.ShippingAndPayment
	require.NoError(t, json.Unmarshal(fields["shipping"], &shippingData))
	assert.Equal(t, 100.0, shippingData.Discount, "discount above 100 clamps")
	assert.Equal(t, 0.0, shippingData.AdditionalCharges[0].Amount, "negative charge clamps to 0")
}

func TestSubmitEndsSessionAndPublishes(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	rec, _ := e.do(t, http.MethodPost, "/sessions/"+sessionID+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 1, e.gateway.updateCalls)
	assert.Equal(t, "2", e.gateway.lastPayload.Products[0].Quantity)
	assert.Equal(t, "Standard", e.gateway.lastPayload.ShippingMethod)
	assert.Equal(t, 250.0, e.gateway.lastPayload.PaymentTotal)

	require.Len(t, e.publisher.events, 1)
	assert.Equal(t, "ord-1", e.publisher.events[0].OrderID)
	assert.Equal(t, 250.0, e.publisher.events[0].PaymentTotal)

	assert.Empty(t, e.locker.holder("ord-1"), "lock released after submit")

	rec, _ = e.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "session is gone after a successful submit")
}

func TestSubmitValidationFailureSkipsBackend(t *testing.T) {
	order := testOrder()
	order.BillingAddress = nil
	e := newEnv(&fakeGateway{order: order})
	sessionID := e.openSession(t)

	rec, _ := e.do(t, http.MethodPost, "/sessions/"+sessionID+"/submit", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, e.gateway.updateCalls)
	assert.Empty(t, e.publisher.events)
}

func TestSubmitFailureKeepsSessionEditable(t *testing.T) {
	gw := &fakeGateway{order: testOrder(), updateErr: fmt.Errorf("server fault")}
	e := newEnv(gw)
	sessionID := e.openSession(t)

	rec, _ := e.do(t, http.MethodPost, "/sessions/"+sessionID+"/submit", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, e.publisher.events)

	// Session survives with its edits; a retry after the backend recovers
	// succeeds.
	rec, fields := e.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot composer.Snapshot
	require.NoError(t, json.Unmarshal(fields["session"], &snapshot))
	assert.Equal(t, "ready", snapshot.State)
	assert.Len(t, snapshot.Lines, 2)

	gw.updateErr = nil
	rec, _ = e.do(t, http.MethodPost, "/sessions/"+sessionID+"/submit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelDiscardsAndReleasesLock(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	rec, _ := e.do(t, http.MethodPost, "/sessions/"+sessionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, e.gateway.updateCalls, "cancel never contacts the backend")
	assert.Empty(t, e.locker.holder("ord-1"))

	rec, _ = e.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveLineRecomputesSummary(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	session, err := e.manager.Get(sessionID)
	require.NoError(t, err)
	lines := session.Composer.Snapshot().Lines

	rec, fields := e.do(t, http.MethodDelete, "/sessions/"+sessionID+"/lines/"+lines[1].Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.FinancialSummary
	require.NoError(t, json.Unmarshal(fields["summary"], &summary))
	assert.Equal(t, 200.0, summary.Subtotal)

	rec, _ = e.do(t, http.MethodDelete, "/sessions/"+sessionID+"/lines/unknown-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetLineQuantity(t *testing.T) {
	e := newEnv(&fakeGateway{order: testOrder()})
	sessionID := e.openSession(t)

	session, err := e.manager.Get(sessionID)
	require.NoError(t, err)
	key := session.Composer.Snapshot().Lines[0].Key

	rec, fields := e.do(t, http.MethodPut, "/sessions/"+sessionID+"/lines/"+key, setQuantityRequest{Quantity: 4})
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.FinancialSummary
	require.NoError(t, json.Unmarshal(fields["summary"], &summary))
	assert.Equal(t, 450.0, summary.Subtotal)

	rec, _ = e.do(t, http.MethodPut, "/sessions/"+sessionID+"/lines/"+key, setQuantityRequest{Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "quantity below 1 is rejected at the boundary")
}

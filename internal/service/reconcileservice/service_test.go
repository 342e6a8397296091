package reconcileservice_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/logger"
	"stocksync/internal/service/reconcileservice"
)

// MockStockRepository é uma implementação mock da interface StockRepository
type MockStockRepository struct {
	mock.Mock
}

func (m *MockStockRepository) FindEvent(ctx context.Context, eventID string) (domain.StockEvent, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(domain.StockEvent), args.Error(1)
}

func (m *MockStockRepository) AppendEvent(ctx context.Context, e domain.StockEvent) (domain.StockEvent, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(domain.StockEvent), args.Error(1)
}

// MockOrderRepository é uma implementação mock da interface OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(domain.Order), args.Error(1)
}

// MockLedger é uma implementação mock da interface Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) AllocateReserve(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error {
	args := m.Called(ctx, sourceID, profileID, product, amount)
	return args.Error(0)
}

func (m *MockLedger) AllocateRelease(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error {
	args := m.Called(ctx, sourceID, profileID, product, amount)
	return args.Error(0)
}

// MockBridge é uma implementação mock da ponte de unidades serializadas
type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Enabled() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockBridge) Reserve(ctx context.Context, orderID string, product domain.ProductIdentity, quantity int) error {
	args := m.Called(ctx, orderID, product, quantity)
	return args.Error(0)
}

func (m *MockBridge) Cancel(ctx context.Context, profileID, orderID string, product domain.ProductIdentity) error {
	args := m.Called(ctx, profileID, orderID, product)
	return args.Error(0)
}

func (m *MockBridge) Return(ctx context.Context, profileID, orderID string, product domain.ProductIdentity, quantity int) error {
	args := m.Called(ctx, profileID, orderID, product, quantity)
	return args.Error(0)
}

// MockPublisher é uma implementação mock da interface bus.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, msgType string, payload interface{}) error {
	args := m.Called(ctx, topic, msgType, payload)
	return args.Error(0)
}

// MockGuard é uma implementação mock da guarda de idempotência
type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Executed(ctx context.Context, namespace, key string) bool {
	args := m.Called(ctx, namespace, key)
	return args.Bool(0)
}

func (m *MockGuard) Commit(ctx context.Context, namespace, key string) error {
	args := m.Called(ctx, namespace, key)
	return args.Error(0)
}

type reconcileMocks struct {
	stocks    *MockStockRepository
	orders    *MockOrderRepository
	ledger    *MockLedger
	signs     *MockBridge
	publisher *MockPublisher
	guard     *MockGuard
}

func newReconciler() (*reconcileservice.Service, reconcileMocks) {
	m := reconcileMocks{
		stocks:    new(MockStockRepository),
		orders:    new(MockOrderRepository),
		ledger:    new(MockLedger),
		signs:     new(MockBridge),
		publisher: new(MockPublisher),
		guard:     new(MockGuard),
	}
	svc := reconcileservice.NewService(m.stocks, m.orders, m.ledger, m.signs, m.publisher, m.guard, logger.NewLogger("fatal"))
	return svc, m
}

func editedEnvelope(t *testing.T, eventID, previousEventID string) bus.Envelope {
	t.Helper()
	body, err := json.Marshal(domain.StockProductsEdited{EventID: eventID, PreviousEventID: previousEventID})
	assert.NoError(t, err)
	return bus.Envelope{ID: "env-1", Type: domain.MessageStockProductsEdited, Payload: body}
}

func TestHandleProductsEdited_Success_OpenRequestIncrease(t *testing.T) {
	svc, m := newReconciler()

	previous := domain.StockEvent{
		ID:        "event-prev",
		StockID:   "stock-1",
		Status:    domain.StockStatusPackage,
		ProfileID: "profile-1",
		OrderID:   domain.ID("order-1"),
		Products:  []domain.StockProduct{{Product: productA, Quantity: 3}},
	}
	current := previous
	current.ID = "event-cur"
	current.PreviousID = domain.ID("event-prev")
	current.Products = []domain.StockProduct{{Product: productA, Quantity: 7}}

	m.stocks.On("FindEvent", mock.Anything, "event-cur").Return(current, nil)
	m.stocks.On("FindEvent", mock.Anything, "event-prev").Return(previous, nil)
	m.guard.On("Executed", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(false)
	m.ledger.On("AllocateReserve", mock.Anything, "event-cur", "profile-1", productA, 4).Return(nil)
	m.signs.On("Enabled").Return(true)
	m.signs.On("Reserve", mock.Anything, "order-1", productA, 4).Return(nil)
	m.guard.On("Commit", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(nil)

	err := svc.HandleProductsEdited(context.Background(), editedEnvelope(t, "event-cur", "event-prev"))

	assert.NoError(t, err)
	m.ledger.AssertExpectations(t)
	m.signs.AssertExpectations(t)
}

func TestHandleProductsEdited_Success_OpenRequestDecrease(t *testing.T) {
	svc, m := newReconciler()

	previous := domain.StockEvent{
		ID:        "event-prev",
		StockID:   "stock-1",
		Status:    domain.StockStatusPackage,
		ProfileID: "profile-1",
		OrderID:   domain.ID("order-1"),
		Products:  []domain.StockProduct{{Product: productA, Quantity: 7}},
	}
	current := previous
	current.ID = "event-cur"
	current.Products = []domain.StockProduct{{Product: productA, Quantity: 3}}

	m.stocks.On("FindEvent", mock.Anything, "event-cur").Return(current, nil)
	m.stocks.On("FindEvent", mock.Anything, "event-prev").Return(previous, nil)
	m.guard.On("Executed", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(false)
	m.ledger.On("AllocateRelease", mock.Anything, "event-cur", "profile-1", productA, 4).Return(nil)
	m.signs.On("Enabled").Return(true)
	m.signs.On("Cancel", mock.Anything, "profile-1", "order-1", productA).Return(nil)
	m.guard.On("Commit", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(nil)

	err := svc.HandleProductsEdited(context.Background(), editedEnvelope(t, "event-cur", "event-prev"))

	assert.NoError(t, err)
	m.ledger.AssertExpectations(t)
	m.signs.AssertExpectations(t)
}

func TestHandleProductsEdited_Success_DisabledBridgeSkipsSigns(t *testing.T) {
	svc, m := newReconciler()

	previous := domain.StockEvent{
		ID:        "event-prev",
		StockID:   "stock-1",
		Status:    domain.StockStatusPackage,
		ProfileID: "profile-1",
		OrderID:   domain.ID("order-1"),
		Products:  []domain.StockProduct{{Product: productA, Quantity: 3}},
	}
	current := previous
	current.ID = "event-cur"
	current.Products = []domain.StockProduct{{Product: productA, Quantity: 5}}

	m.stocks.On("FindEvent", mock.Anything, "event-cur").Return(current, nil)
	m.stocks.On("FindEvent", mock.Anything, "event-prev").Return(previous, nil)
	m.guard.On("Executed", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(false)
	m.ledger.On("AllocateReserve", mock.Anything, "event-cur", "profile-1", productA, 2).Return(nil)
	m.signs.On("Enabled").Return(false)
	m.guard.On("Commit", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(nil)

	err := svc.HandleProductsEdited(context.Background(), editedEnvelope(t, "event-cur", "event-prev"))

	assert.NoError(t, err)
	m.signs.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleProductsEdited_Success_CompletedDecreaseCreatesReturnReceipt(t *testing.T) {
	svc, m := newReconciler()

	// Requisição já concluída: a redução vira um NOVO recebimento (a
	// mercadoria voltou fisicamente) mais um sub-pedido de devolução.
	previous := domain.StockEvent{
		ID:        "event-prev",
		StockID:   "stock-1",
		Status:    domain.StockStatusCompleted,
		ProfileID: "profile-1",
		UserID:    "user-1",
		Number:    "REQ-7",
		OrderID:   domain.ID("order-1"),
		Products:  []domain.StockProduct{{Product: productA, Quantity: 5}},
	}
	current := previous
	current.ID = "event-cur"
	current.Products = []domain.StockProduct{{Product: productA, Quantity: 2}}

	appended := domain.StockEvent{ID: "event-new", StockID: "stock-2", Status: domain.StockStatusIncoming}

	m.stocks.On("FindEvent", mock.Anything, "event-cur").Return(current, nil)
	m.stocks.On("FindEvent", mock.Anything, "event-prev").Return(previous, nil)
	m.guard.On("Executed", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(false)
	m.stocks.On("AppendEvent", mock.Anything, mock.MatchedBy(func(e domain.StockEvent) bool {
		return e.Status == domain.StockStatusIncoming &&
			len(e.Products) == 1 && e.Products[0].Quantity == 3 &&
			e.ProfileID == "profile-1" && e.Number == "REQ-7"
	})).Return(appended, nil)
	m.publisher.On("Publish", mock.Anything, bus.TopicStocksEvents, domain.MessageStockStatusChanged,
		domain.StockStatusChanged{StockID: "stock-2", EventID: "event-new"}).Return(nil)
	m.orders.On("FindByID", mock.Anything, "order-1").Return(domain.Order{ID: "order-1"}, nil)
	m.publisher.On("Publish", mock.Anything, bus.TopicOrdersEvents, domain.MessageCreatePartialReturnOrder,
		domain.CreatePartialReturnOrder{OrderID: "order-1", Product: productA, Quantity: 3}).Return(nil)
	m.signs.On("Enabled").Return(true)
	m.signs.On("Return", mock.Anything, "profile-1", "order-1", productA, 3).Return(nil)
	m.guard.On("Commit", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(nil)

	err := svc.HandleProductsEdited(context.Background(), editedEnvelope(t, "event-cur", "event-prev"))

	assert.NoError(t, err)
	m.stocks.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
	m.signs.AssertExpectations(t)
	m.ledger.AssertNotCalled(t, "AllocateRelease", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleProductsEdited_Success_CompletedOrderGoneSkipsReturnOrder(t *testing.T) {
	svc, m := newReconciler()

	previous := domain.StockEvent{
		ID:        "event-prev",
		StockID:   "stock-1",
		Status:    domain.StockStatusCompleted,
		ProfileID: "profile-1",
		OrderID:   domain.ID("order-1"),
		Products:  []domain.StockProduct{{Product: productA, Quantity: 5}},
	}
	current := previous
	current.ID = "event-cur"
	current.Products = []domain.StockProduct{{Product: productA, Quantity: 4}}

	appended := domain.StockEvent{ID: "event-new", StockID: "stock-2"}

	m.stocks.On("FindEvent", mock.Anything, "event-cur").Return(current, nil)
	m.stocks.On("FindEvent", mock.Anything, "event-prev").Return(previous, nil)
	m.guard.On("Executed", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(false)
	m.stocks.On("AppendEvent", mock.Anything, mock.Anything).Return(appended, nil)
	m.publisher.On("Publish", mock.Anything, bus.TopicStocksEvents, domain.MessageStockStatusChanged,
		mock.Anything).Return(nil)
	m.orders.On("FindByID", mock.Anything, "order-1").
		Return(domain.Order{}, apperror.NewNotFoundError("pedido inexistente"))
	m.guard.On("Commit", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(nil)

	err := svc.HandleProductsEdited(context.Background(), editedEnvelope(t, "event-cur", "event-prev"))

	assert.NoError(t, err)
	m.publisher.AssertNotCalled(t, "Publish", mock.Anything, bus.TopicOrdersEvents, mock.Anything, mock.Anything)
}

func TestHandleProductsEdited_Success_DuplicatePairIsSkipped(t *testing.T) {
	svc, m := newReconciler()

	previous := domain.StockEvent{ID: "event-prev", Products: []domain.StockProduct{{Product: productA, Quantity: 3}}}
	current := domain.StockEvent{ID: "event-cur", Products: []domain.StockProduct{{Product: productA, Quantity: 7}}}

	m.stocks.On("FindEvent", mock.Anything, "event-cur").Return(current, nil)
	m.stocks.On("FindEvent", mock.Anything, "event-prev").Return(previous, nil)
	m.guard.On("Executed", mock.Anything, "reconcile", "event-cur:event-prev:reconcile").Return(true)

	err := svc.HandleProductsEdited(context.Background(), editedEnvelope(t, "event-cur", "event-prev"))

	assert.NoError(t, err)
	m.ledger.AssertNotCalled(t, "AllocateReserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

package ledgerservice_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/logger"
	"stocksync/internal/service/ledgerservice"
)

// MockTotalRepository é uma implementação mock da interface TotalRepository
type MockTotalRepository struct {
	mock.Mock
}

func (m *MockTotalRepository) FindByStorage(ctx context.Context, profileID string, product domain.ProductIdentity, storage *string) (domain.StockTotal, error) {
	args := m.Called(ctx, profileID, product, storage)
	return args.Get(0).(domain.StockTotal), args.Error(1)
}

func (m *MockTotalRepository) CountBins(ctx context.Context, profileID string, product domain.ProductIdentity) (int, error) {
	args := m.Called(ctx, profileID, product)
	return args.Int(0), args.Error(1)
}

func (m *MockTotalRepository) FindBins(ctx context.Context, profileID string, product domain.ProductIdentity) ([]domain.StockTotal, error) {
	args := m.Called(ctx, profileID, product)
	return args.Get(0).([]domain.StockTotal), args.Error(1)
}

func (m *MockTotalRepository) Create(ctx context.Context, t domain.StockTotal) (domain.StockTotal, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(domain.StockTotal), args.Error(1)
}

func (m *MockTotalRepository) ApplyDelta(ctx context.Context, totalID string, deltaTotal, deltaReserve int, reason string) (domain.StockTotal, error) {
	args := m.Called(ctx, totalID, deltaTotal, deltaReserve, reason)
	return args.Get(0).(domain.StockTotal), args.Error(1)
}

func (m *MockTotalRepository) SumTotalByProduct(ctx context.Context, productID string) (int, error) {
	args := m.Called(ctx, productID)
	return args.Int(0), args.Error(1)
}

// MockProfileRepository é uma implementação mock da interface ProfileRepository
type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) FindUserByProfile(ctx context.Context, profileID string) (string, error) {
	args := m.Called(ctx, profileID)
	return args.String(0), args.Error(1)
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

// MockCache é uma implementação mock da interface cache.Client
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *MockCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCache) Publish(ctx context.Context, channel string, payload interface{}) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

func newTestLogger() logger.Logger {
	return logger.NewLogger("fatal")
}

func newTestService(totals *MockTotalRepository, profiles *MockProfileRepository, publisher *MockPublisher, guard *MockGuard, cacheClient *MockCache) *ledgerservice.Service {
	return ledgerservice.NewService(totals, profiles, publisher, guard, cacheClient, time.Hour, newTestLogger())
}

func envelope(t *testing.T, msgType string, payload interface{}) bus.Envelope {
	t.Helper()
	body, err := json.Marshal(payload)
	assert.NoError(t, err)
	return bus.Envelope{ID: "env-1", Type: msgType, Payload: body}
}

var testProduct = domain.ProductIdentity{ProductID: "prod-1", OfferID: domain.ID("offer-1")}

// --- Testes para o Alocador ---

func TestAllocateReserve_Success_SingleBin(t *testing.T) {
	totals := new(MockTotalRepository)
	publisher := new(MockPublisher)
	svc := newTestService(totals, new(MockProfileRepository), publisher, new(MockGuard), new(MockCache))

	totals.On("CountBins", mock.Anything, "profile-1", testProduct).Return(1, nil)
	publisher.On("Publish", mock.Anything, bus.TopicProductStocks, domain.MessageReserveUnit,
		domain.UnitOperation{SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: 1, Amount: 5}).Return(nil)

	err := svc.AllocateReserve(context.Background(), "evt-1", "profile-1", testProduct, 5)

	assert.NoError(t, err)
	totals.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestAllocateReserve_Success_MultiBinFanOut(t *testing.T) {
	totals := new(MockTotalRepository)
	publisher := new(MockPublisher)
	svc := newTestService(totals, new(MockProfileRepository), publisher, new(MockGuard), new(MockCache))

	totals.On("CountBins", mock.Anything, "profile-1", testProduct).Return(3, nil)
	for i := 1; i <= 4; i++ {
		publisher.On("Publish", mock.Anything, bus.TopicProductStocks, domain.MessageReserveUnit,
			domain.UnitOperation{SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: i, Amount: 1}).Return(nil).Once()
	}

	err := svc.AllocateReserve(context.Background(), "evt-1", "profile-1", testProduct, 4)

	assert.NoError(t, err)
	publisher.AssertExpectations(t)
	publisher.AssertNumberOfCalls(t, "Publish", 4)
}

func TestAllocateRelease_Success_UsesLowPriorityTopic(t *testing.T) {
	totals := new(MockTotalRepository)
	publisher := new(MockPublisher)
	svc := newTestService(totals, new(MockProfileRepository), publisher, new(MockGuard), new(MockCache))

	totals.On("CountBins", mock.Anything, "profile-1", testProduct).Return(0, nil)
	publisher.On("Publish", mock.Anything, bus.TopicProductStocksLow, domain.MessageReleaseReserveUnit,
		domain.UnitOperation{SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: 1, Amount: 2}).Return(nil)

	err := svc.AllocateRelease(context.Background(), "evt-1", "profile-1", testProduct, 2)

	assert.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestAllocateDecrement_Success_UsesLowPriorityTopic(t *testing.T) {
	totals := new(MockTotalRepository)
	publisher := new(MockPublisher)
	svc := newTestService(totals, new(MockProfileRepository), publisher, new(MockGuard), new(MockCache))

	totals.On("CountBins", mock.Anything, "profile-1", testProduct).Return(1, nil)
	publisher.On("Publish", mock.Anything, bus.TopicProductStocksLow, domain.MessageDecrementAndReleaseUnit,
		domain.UnitOperation{SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: 1, Amount: 3}).Return(nil)

	err := svc.AllocateDecrement(context.Background(), "evt-1", "profile-1", testProduct, 3)

	assert.NoError(t, err)
	publisher.AssertExpectations(t)
}

// --- Testes para as Operações Diretas ---

func TestAddTotal_Success_CreatesBinLazily(t *testing.T) {
	totals := new(MockTotalRepository)
	profiles := new(MockProfileRepository)
	svc := newTestService(totals, profiles, new(MockPublisher), new(MockGuard), new(MockCache))

	storage := domain.ID("shelf-A")
	totals.On("FindByStorage", mock.Anything, "profile-1", testProduct, storage).
		Return(domain.StockTotal{}, apperror.NewNotFoundError("linha inexistente"))
	profiles.On("FindUserByProfile", mock.Anything, "profile-1").Return("user-9", nil)
	totals.On("Create", mock.Anything, mock.MatchedBy(func(tt domain.StockTotal) bool {
		return tt.ProfileID == "profile-1" && tt.UserID == "user-9" && tt.Total == 0 && tt.Reserve == 0
	})).Return(domain.StockTotal{ID: "bin-1"}, nil)
	totals.On("ApplyDelta", mock.Anything, "bin-1", 7, 0, "add-total").Return(domain.StockTotal{ID: "bin-1", Total: 7}, nil)

	err := svc.AddTotal(context.Background(), "profile-1", testProduct, storage, 7)

	assert.NoError(t, err)
	totals.AssertExpectations(t)
	profiles.AssertExpectations(t)
}

func TestAddTotal_Fail_ProfileWithoutLinkedUser(t *testing.T) {
	totals := new(MockTotalRepository)
	profiles := new(MockProfileRepository)
	svc := newTestService(totals, profiles, new(MockPublisher), new(MockGuard), new(MockCache))

	totals.On("FindByStorage", mock.Anything, "profile-1", testProduct, (*string)(nil)).
		Return(domain.StockTotal{}, apperror.NewNotFoundError("linha inexistente"))
	profiles.On("FindUserByProfile", mock.Anything, "profile-1").
		Return("", apperror.NewNotFoundError("vínculo ausente"))

	err := svc.AddTotal(context.Background(), "profile-1", testProduct, nil, 7)

	assert.Error(t, err)
	assert.IsType(t, &apperror.IntegrityError{}, err)
	totals.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReserve_Success_ChoosesSmallestFittingBin(t *testing.T) {
	totals := new(MockTotalRepository)
	svc := newTestService(totals, new(MockProfileRepository), new(MockPublisher), new(MockGuard), new(MockCache))

	// Locais já ordenados pelo repositório: menor total primeiro.
	bins := []domain.StockTotal{
		{ID: "bin-small", Total: 2, Reserve: 1}, // disponível 1, não comporta 3
		{ID: "bin-big", Total: 10, Reserve: 2},  // disponível 8, comporta
	}
	totals.On("FindBins", mock.Anything, "profile-1", testProduct).Return(bins, nil)
	totals.On("ApplyDelta", mock.Anything, "bin-big", 0, 3, "reserve").Return(domain.StockTotal{}, nil)

	err := svc.Reserve(context.Background(), "profile-1", testProduct, 3)

	assert.NoError(t, err)
	totals.AssertExpectations(t)
}

func TestReserve_Fail_NoBinFits(t *testing.T) {
	totals := new(MockTotalRepository)
	svc := newTestService(totals, new(MockProfileRepository), new(MockPublisher), new(MockGuard), new(MockCache))

	// Nenhum local comporta: o menor é escolhido e o invariante aborta.
	bins := []domain.StockTotal{
		{ID: "bin-small", Total: 2, Reserve: 2},
	}
	totals.On("FindBins", mock.Anything, "profile-1", testProduct).Return(bins, nil)
	totals.On("ApplyDelta", mock.Anything, "bin-small", 0, 5, "reserve").
		Return(domain.StockTotal{}, apperror.NewIntegrityError("invariante violado"))

	err := svc.Reserve(context.Background(), "profile-1", testProduct, 5)

	assert.Error(t, err)
	assert.IsType(t, &apperror.IntegrityError{}, err)
}

func TestReleaseReserve_Success_SynthesizesRecoveryBin(t *testing.T) {
	totals := new(MockTotalRepository)
	profiles := new(MockProfileRepository)
	svc := newTestService(totals, profiles, new(MockPublisher), new(MockGuard), new(MockCache))

	totals.On("FindBins", mock.Anything, "profile-1", testProduct).Return([]domain.StockTotal{}, nil)
	profiles.On("FindUserByProfile", mock.Anything, "profile-1").Return("user-9", nil)
	// Drift de dados: o local nasce com total = reserve = amount para que a
	// liberação deixe o livro-razão consistente.
	totals.On("Create", mock.Anything, mock.MatchedBy(func(tt domain.StockTotal) bool {
		return tt.Total == 4 && tt.Reserve == 4
	})).Return(domain.StockTotal{ID: "bin-recovered", Total: 4, Reserve: 4}, nil)
	totals.On("ApplyDelta", mock.Anything, "bin-recovered", 0, -4, "release-reserve").
		Return(domain.StockTotal{ID: "bin-recovered", Total: 4, Reserve: 0}, nil)

	err := svc.ReleaseReserve(context.Background(), "profile-1", testProduct, 4)

	assert.NoError(t, err)
	totals.AssertExpectations(t)
}

func TestDecrementAndRelease_Success_AppliesBothDeltas(t *testing.T) {
	totals := new(MockTotalRepository)
	svc := newTestService(totals, new(MockProfileRepository), new(MockPublisher), new(MockGuard), new(MockCache))

	bins := []domain.StockTotal{{ID: "bin-1", Total: 10, Reserve: 2}}
	totals.On("FindBins", mock.Anything, "profile-1", testProduct).Return(bins, nil)
	totals.On("ApplyDelta", mock.Anything, "bin-1", -2, -2, "decrement-release").
		Return(domain.StockTotal{ID: "bin-1", Total: 8, Reserve: 0}, nil)

	err := svc.DecrementAndRelease(context.Background(), "profile-1", testProduct, 2)

	assert.NoError(t, err)
	totals.AssertExpectations(t)
}

// --- Testes para os Handlers de Operação Unitária ---

func TestHandleReserveUnit_Success(t *testing.T) {
	totals := new(MockTotalRepository)
	publisher := new(MockPublisher)
	guard := new(MockGuard)
	svc := newTestService(totals, new(MockProfileRepository), publisher, guard, new(MockCache))

	env := envelope(t, domain.MessageReserveUnit, domain.UnitOperation{
		SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: 1, Amount: 1,
	})

	unitKey := "evt-1:reserve-unit:" + testProduct.Key() + ":1"
	guard.On("Executed", mock.Anything, "ledger", unitKey).Return(false)
	totals.On("FindBins", mock.Anything, "profile-1", testProduct).
		Return([]domain.StockTotal{{ID: "bin-1", Total: 5, Reserve: 0}}, nil)
	totals.On("ApplyDelta", mock.Anything, "bin-1", 0, 1, "reserve").Return(domain.StockTotal{}, nil)
	publisher.On("Publish", mock.Anything, bus.TopicProductStocks, domain.MessageRecomputeProductTotal,
		domain.RecomputeProductTotal{ProductID: "prod-1"}).Return(nil)
	guard.On("Commit", mock.Anything, "ledger", unitKey).Return(nil)

	err := svc.HandleReserveUnit(context.Background(), env)

	assert.NoError(t, err)
	guard.AssertExpectations(t)
	totals.AssertExpectations(t)
}

func TestHandleReserveUnit_Success_DuplicateDeliveryIsSkipped(t *testing.T) {
	totals := new(MockTotalRepository)
	guard := new(MockGuard)
	svc := newTestService(totals, new(MockProfileRepository), new(MockPublisher), guard, new(MockCache))

	env := envelope(t, domain.MessageReserveUnit, domain.UnitOperation{
		SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: 1, Amount: 1,
	})

	guard.On("Executed", mock.Anything, "ledger", "evt-1:reserve-unit:"+testProduct.Key()+":1").Return(true)

	err := svc.HandleReserveUnit(context.Background(), env)

	assert.NoError(t, err)
	totals.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	guard.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleReserveUnit_Success_RepublishedUnitWithFreshEnvelopeIsSkipped(t *testing.T) {
	totals := new(MockTotalRepository)
	guard := new(MockGuard)
	svc := newTestService(totals, new(MockProfileRepository), new(MockPublisher), guard, new(MockCache))

	// O alocador republicou a mesma unidade após um crash: o envelope ganha
	// um ID novo, mas a chave lógica (SourceID, tipo, produto, UnitIndex) é
	// idêntica — a unidade já aplicada não pode ser aplicada de novo.
	body, err := json.Marshal(domain.UnitOperation{
		SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: 1, Amount: 1,
	})
	assert.NoError(t, err)
	env := bus.Envelope{ID: "env-republished-99", Type: domain.MessageReserveUnit, Payload: body}

	guard.On("Executed", mock.Anything, "ledger", "evt-1:reserve-unit:"+testProduct.Key()+":1").Return(true)

	err = svc.HandleReserveUnit(context.Background(), env)

	assert.NoError(t, err)
	totals.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	guard.AssertExpectations(t)
}

func TestHandleDecrementAndReleaseUnit_Fail_NoCommitOnError(t *testing.T) {
	totals := new(MockTotalRepository)
	guard := new(MockGuard)
	svc := newTestService(totals, new(MockProfileRepository), new(MockPublisher), guard, new(MockCache))

	env := envelope(t, domain.MessageDecrementAndReleaseUnit, domain.UnitOperation{
		SourceID: "evt-1", ProfileID: "profile-1", Product: testProduct, UnitIndex: 1, Amount: 1,
	})

	guard.On("Executed", mock.Anything, "ledger", "evt-1:decrement-release-unit:"+testProduct.Key()+":1").Return(false)
	totals.On("FindBins", mock.Anything, "profile-1", testProduct).
		Return([]domain.StockTotal{{ID: "bin-1", Total: 3, Reserve: 1}}, nil)
	totals.On("ApplyDelta", mock.Anything, "bin-1", -1, -1, "decrement-release").
		Return(domain.StockTotal{}, apperror.NewDBError("falha na transação", assert.AnError))

	err := svc.HandleDecrementAndReleaseUnit(context.Background(), env)

	assert.Error(t, err)
	guard.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleRecomputeProductTotal_Success(t *testing.T) {
	totals := new(MockTotalRepository)
	cacheClient := new(MockCache)
	svc := newTestService(totals, new(MockProfileRepository), new(MockPublisher), new(MockGuard), cacheClient)

	env := envelope(t, domain.MessageRecomputeProductTotal, domain.RecomputeProductTotal{ProductID: "prod-1"})

	totals.On("SumTotalByProduct", mock.Anything, "prod-1").Return(42, nil)
	cacheClient.On("Set", mock.Anything, ledgerservice.CardTotalKey("prod-1"), 42, time.Hour).Return(nil)

	err := svc.HandleRecomputeProductTotal(context.Background(), env)

	assert.NoError(t, err)
	cacheClient.AssertExpectations(t)
}

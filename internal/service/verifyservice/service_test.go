package verifyservice_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"stocksync/internal/domain"
	"stocksync/internal/pkg/cache"
	"stocksync/internal/pkg/logger"
	"stocksync/internal/service/ledgerservice"
	"stocksync/internal/service/verifyservice"
)

// MockVerifyRepository é uma implementação mock da interface VerifyRepository
type MockVerifyRepository struct {
	mock.Mock
}

func (m *MockVerifyRepository) ListTotals(ctx context.Context) ([]domain.StockTotal, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.StockTotal), args.Error(1)
}

func (m *MockVerifyRepository) SumTransactions(ctx context.Context, totalID string) (int, int, error) {
	args := m.Called(ctx, totalID)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockVerifyRepository) ListProductIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockVerifyRepository) SumTotalByProduct(ctx context.Context, productID string) (int, error) {
	args := m.Called(ctx, productID)
	return args.Int(0), args.Error(1)
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

func newVerifier(repo *MockVerifyRepository, cacheClient *MockCache) *verifyservice.Service {
	return verifyservice.NewService(repo, cacheClient, logger.NewLogger("fatal"))
}

func TestVerifyTotals_Success_NoDiscrepancies(t *testing.T) {
	repo := new(MockVerifyRepository)
	verifier := newVerifier(repo, new(MockCache))

	totals := []domain.StockTotal{
		{ID: "bin-1", Total: 10, Reserve: 2},
		{ID: "bin-2", Total: 5, Reserve: 0},
	}
	repo.On("ListTotals", mock.Anything).Return(totals, nil)
	repo.On("SumTransactions", mock.Anything, "bin-1").Return(10, 2, nil)
	repo.On("SumTransactions", mock.Anything, "bin-2").Return(5, 0, nil)

	report, err := verifier.VerifyTotals(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Empty(t, report.Discrepancies)
}

func TestVerifyTotals_Success_DetectsJournalDrift(t *testing.T) {
	repo := new(MockVerifyRepository)
	verifier := newVerifier(repo, new(MockCache))

	totals := []domain.StockTotal{{ID: "bin-1", Total: 10, Reserve: 2}}
	repo.On("ListTotals", mock.Anything).Return(totals, nil)
	// O journal diz 8/3: duas divergências na mesma linha.
	repo.On("SumTransactions", mock.Anything, "bin-1").Return(8, 3, nil)

	report, err := verifier.VerifyTotals(context.Background())

	assert.NoError(t, err)
	assert.Len(t, report.Discrepancies, 2)
	assert.Equal(t, "total", report.Discrepancies[0].Field)
	assert.Equal(t, "reserve", report.Discrepancies[1].Field)
}

func TestVerifyCardTotals_Success_MatchingCache(t *testing.T) {
	repo := new(MockVerifyRepository)
	cacheClient := new(MockCache)
	verifier := newVerifier(repo, cacheClient)

	repo.On("ListProductIDs", mock.Anything).Return([]string{"prod-1"}, nil)
	repo.On("SumTotalByProduct", mock.Anything, "prod-1").Return(42, nil)
	cacheClient.On("Get", mock.Anything, ledgerservice.CardTotalKey("prod-1")).Return("42", nil)

	report, err := verifier.VerifyCardTotals(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Discrepancies)
}

func TestVerifyCardTotals_Success_DetectsStaleCache(t *testing.T) {
	repo := new(MockVerifyRepository)
	cacheClient := new(MockCache)
	verifier := newVerifier(repo, cacheClient)

	repo.On("ListProductIDs", mock.Anything).Return([]string{"prod-1"}, nil)
	repo.On("SumTotalByProduct", mock.Anything, "prod-1").Return(42, nil)
	cacheClient.On("Get", mock.Anything, ledgerservice.CardTotalKey("prod-1")).Return("40", nil)

	report, err := verifier.VerifyCardTotals(context.Background())

	assert.NoError(t, err)
	assert.Len(t, report.Discrepancies, 1)
	assert.Equal(t, "prod-1", report.Discrepancies[0].Subject)
}

func TestVerifyCardTotals_Success_CacheMissIsDiscrepancy(t *testing.T) {
	repo := new(MockVerifyRepository)
	cacheClient := new(MockCache)
	verifier := newVerifier(repo, cacheClient)

	repo.On("ListProductIDs", mock.Anything).Return([]string{"prod-1"}, nil)
	repo.On("SumTotalByProduct", mock.Anything, "prod-1").Return(42, nil)
	cacheClient.On("Get", mock.Anything, ledgerservice.CardTotalKey("prod-1")).Return("", cache.ErrCacheMiss)

	report, err := verifier.VerifyCardTotals(context.Background())

	assert.NoError(t, err)
	assert.Len(t, report.Discrepancies, 1)
}

func TestReportSummary(t *testing.T) {
	clean := verifyservice.Report{Checked: 3}
	assert.Contains(t, clean.Summary(), "nenhuma divergência")

	dirty := verifyservice.Report{Checked: 3, Discrepancies: []verifyservice.Discrepancy{{Subject: "bin-1"}}}
	assert.Contains(t, dirty.Summary(), "1 divergência")
}

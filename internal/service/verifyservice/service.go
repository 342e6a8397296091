package verifyservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"stocksync/internal/domain"
	"stocksync/internal/pkg/cache"
	"stocksync/internal/pkg/logger"
	"stocksync/internal/service/ledgerservice"
)

// VerifyRepository é a superfície read-only que os jobs de verificação
// consomem do livro-razão.
type VerifyRepository interface {
	ListTotals(ctx context.Context) ([]domain.StockTotal, error)
	SumTransactions(ctx context.Context, totalID string) (sumTotal, sumReserve int, err error)
	ListProductIDs(ctx context.Context) ([]string, error)
	SumTotalByProduct(ctx context.Context, productID string) (int, error)
}

// Discrepancy descreve uma divergência encontrada por um job.
type Discrepancy struct {
	Subject  string // id da linha ou do produto
	Field    string
	Expected int
	Actual   int
	Message  string
}

// Report é o resumo em lote de um job: contagens e divergências.
// Os jobs apenas REPORTAM — nunca corrigem automaticamente; a intervenção
// é do operador.
type Report struct {
	Checked       int
	Discrepancies []Discrepancy
}

// Summary devolve o resumo legível do lote.
func (r Report) Summary() string {
	if len(r.Discrepancies) == 0 {
		return fmt.Sprintf("%d registros verificados, nenhuma divergência.", r.Checked)
	}
	return fmt.Sprintf("%d registros verificados, %d divergência(s) encontrada(s).", r.Checked, len(r.Discrepancies))
}

// Service implementa os jobs batch de verificação de consistência:
// valida que a saga manteve o livro-razão íntegro, sem fazer parte dela.
type Service struct {
	totals VerifyRepository
	cache  cache.Client
	logger logger.Logger
}

// NewService cria e retorna uma nova instância do serviço de verificação.
func NewService(totals VerifyRepository, cacheClient cache.Client, log logger.Logger) *Service {
	return &Service{
		totals: totals,
		cache:  cacheClient,
		logger: log,
	}
}

// VerifyTotals compara cada linha do livro-razão com a soma do seu journal
// de transações: toda mutação passa pelo journal, então os pares devem
// bater exatamente.
func (s *Service) VerifyTotals(ctx context.Context) (Report, error) {
	totals, err := s.totals.ListTotals(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Checked: len(totals)}
	for _, t := range totals {
		sumTotal, sumReserve, err := s.totals.SumTransactions(ctx, t.ID)
		if err != nil {
			return Report{}, err
		}

		if sumTotal != t.Total {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Subject:  t.ID,
				Field:    "total",
				Expected: sumTotal,
				Actual:   t.Total,
				Message:  fmt.Sprintf("Linha %s: total=%d difere da soma do journal (%d).", t.ID, t.Total, sumTotal),
			})
		}
		if sumReserve != t.Reserve {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Subject:  t.ID,
				Field:    "reserve",
				Expected: sumReserve,
				Actual:   t.Reserve,
				Message:  fmt.Sprintf("Linha %s: reserve=%d difere da soma do journal (%d).", t.ID, t.Reserve, sumReserve),
			})
		}
	}

	s.logger.Info("Verificação de totais concluída.", map[string]interface{}{
		"checked":       report.Checked,
		"discrepancies": len(report.Discrepancies),
	})
	return report, nil
}

// VerifyCardTotals compara a soma do livro-razão de cada produto com o
// total cacheado exibido no cartão do produto.
func (s *Service) VerifyCardTotals(ctx context.Context) (Report, error) {
	products, err := s.totals.ListProductIDs(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Checked: len(products)}
	for _, productID := range products {
		ledgerSum, err := s.totals.SumTotalByProduct(ctx, productID)
		if err != nil {
			return Report{}, err
		}

		cached, err := s.cache.Get(ctx, ledgerservice.CardTotalKey(productID))
		if err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Subject:  productID,
					Field:    "card-total",
					Expected: ledgerSum,
					Actual:   0,
					Message:  fmt.Sprintf("Produto %s: total do cartão ausente no cache (livro-razão soma %d).", productID, ledgerSum),
				})
				continue
			}
			return Report{}, err
		}

		cachedSum, convErr := strconv.Atoi(cached)
		if convErr != nil || cachedSum != ledgerSum {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Subject:  productID,
				Field:    "card-total",
				Expected: ledgerSum,
				Actual:   cachedSum,
				Message:  fmt.Sprintf("Produto %s: cartão mostra %s, livro-razão soma %d.", productID, cached, ledgerSum),
			})
		}
	}

	s.logger.Info("Verificação de totais de cartão concluída.", map[string]interface{}{
		"checked":       report.Checked,
		"discrepancies": len(report.Discrepancies),
	})
	return report, nil
}

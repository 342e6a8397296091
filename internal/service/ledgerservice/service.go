package ledgerservice

import (
	"context"
	"fmt"
	"time"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/cache"
	"stocksync/internal/pkg/logger"
)

// TotalRepository define o contrato que o Serviço do Livro-Razão espera da
// camada de persistência.
type TotalRepository interface {
	FindByStorage(ctx context.Context, profileID string, product domain.ProductIdentity, storage *string) (domain.StockTotal, error)
	CountBins(ctx context.Context, profileID string, product domain.ProductIdentity) (int, error)
	FindBins(ctx context.Context, profileID string, product domain.ProductIdentity) ([]domain.StockTotal, error)
	Create(ctx context.Context, t domain.StockTotal) (domain.StockTotal, error)
	ApplyDelta(ctx context.Context, totalID string, deltaTotal, deltaReserve int, reason string) (domain.StockTotal, error)
	SumTotalByProduct(ctx context.Context, productID string) (int, error)
}

// ProfileRepository resolve o usuário dono das linhas criadas preguiçosamente.
type ProfileRepository interface {
	FindUserByProfile(ctx context.Context, profileID string) (string, error)
}

// Guard é a guarda de idempotência usada pelos handlers de operação unitária.
type Guard interface {
	Executed(ctx context.Context, namespace, key string) bool
	Commit(ctx context.Context, namespace, key string) error
}

// nsLedger é o namespace de deduplicação das operações do livro-razão.
const nsLedger = "ledger"

// cardTotalKeyPrefix prefixa a chave do total cacheado do cartão de produto.
const cardTotalKeyPrefix = "product-card-total:"

// Service implementa o livro-razão de estoque e o alocador de reservas.
// As operações diretas (AddTotal, Reserve, ReleaseReserve, SubTotal,
// DecrementAndRelease) localizam exatamente UMA linha e aplicam o delta com
// validação de invariante; o alocador (Allocate*) converte um delta lógico
// em uma ou N operações unitárias despachadas pelo barramento, honrando a
// política de divisão por locais de armazenamento.
type Service struct {
	totals   TotalRepository
	profiles ProfileRepository
	bus      bus.Publisher
	guard    Guard
	cache    cache.Client
	cacheTTL time.Duration
	logger   logger.Logger
}

// NewService cria e retorna uma nova instância do Serviço do Livro-Razão.
func NewService(totals TotalRepository, profiles ProfileRepository, publisher bus.Publisher, guard Guard, cacheClient cache.Client, cacheTTL time.Duration, log logger.Logger) *Service {
	return &Service{
		totals:   totals,
		profiles: profiles,
		bus:      publisher,
		guard:    guard,
		cache:    cacheClient,
		cacheTTL: cacheTTL,
		logger:   log,
	}
}

// createBin cria preguiçosamente uma linha do livro-razão. O dono é o
// usuário vinculado ao perfil; a ausência desse vínculo é uma violação de
// integridade (crítico, operação abortada, sem registro de deduplicação).
func (s *Service) createBin(ctx context.Context, profileID string, product domain.ProductIdentity, storage *string, total, reserve int) (domain.StockTotal, error) {
	userID, err := s.profiles.FindUserByProfile(ctx, profileID)
	if err != nil {
		s.logger.Critical("Perfil sem usuário vinculado; criação de local abortada.", err, map[string]interface{}{
			"profile_id": profileID,
			"product_id": product.ProductID,
		})
		return domain.StockTotal{}, apperror.NewIntegrityError(
			fmt.Sprintf("Perfil %s sem usuário vinculado para criação de local.", profileID))
	}

	return s.totals.Create(ctx, domain.StockTotal{
		ProfileID: profileID,
		Product:   product,
		Storage:   storage,
		Total:     total,
		Reserve:   reserve,
		UserID:    userID,
	})
}

// AddTotal incrementa a quantidade física no local declarado, criando a
// linha na primeira entrada de mercadoria.
func (s *Service) AddTotal(ctx context.Context, profileID string, product domain.ProductIdentity, storage *string, amount int) error {
	entry, err := s.totals.FindByStorage(ctx, profileID, product, storage)
	if err != nil {
		if _, notFound := err.(*apperror.NotFoundError); !notFound {
			return err
		}
		s.logger.Warn("Local inexistente para recebimento; criando novo local.", map[string]interface{}{
			"profile_id": profileID,
			"product_id": product.ProductID,
			"storage":    storage,
		})
		entry, err = s.createBin(ctx, profileID, product, storage, 0, 0)
		if err != nil {
			return err
		}
	}

	_, err = s.totals.ApplyDelta(ctx, entry.ID, amount, 0, "add-total")
	return err
}

// chooseBin escolhe o local-alvo de uma operação entre os existentes,
// do menor total para o maior, preferindo o primeiro que comporta o delta.
// Se nenhum comporta, devolve o menor mesmo assim: a validação de
// invariante do repositório abortará com log crítico, que é o desfecho
// correto para deltas que o chamador certificou errado.
func chooseBin(bins []domain.StockTotal, fits func(domain.StockTotal) bool) domain.StockTotal {
	for _, b := range bins {
		if fits(b) {
			return b
		}
	}
	return bins[0]
}

// Reserve marca `amount` unidades como reservadas em um único local.
func (s *Service) Reserve(ctx context.Context, profileID string, product domain.ProductIdentity, amount int) error {
	bins, err := s.totals.FindBins(ctx, profileID, product)
	if err != nil {
		return err
	}

	var entry domain.StockTotal
	if len(bins) == 0 {
		// O chamador deveria ter consultado antes; registra e cria o local
		// zerado para que a trilha fique visível.
		s.logger.Warn("Nenhum local para reservar; criando novo local.", map[string]interface{}{
			"profile_id": profileID,
			"product_id": product.ProductID,
			"amount":     amount,
		})
		entry, err = s.createBin(ctx, profileID, product, nil, 0, 0)
		if err != nil {
			return err
		}
	} else {
		entry = chooseBin(bins, func(b domain.StockTotal) bool { return b.Available() >= amount })
	}

	_, err = s.totals.ApplyDelta(ctx, entry.ID, 0, amount, "reserve")
	return err
}

// ReleaseReserve devolve `amount` unidades reservadas ao estoque livre.
// Se nenhum local existe (drift de dados: o estoque foi consumido mas nunca
// registrado), sintetiza um local com total = reserve = amount para que a
// liberação prossiga — log crítico, o drift veio de cima.
func (s *Service) ReleaseReserve(ctx context.Context, profileID string, product domain.ProductIdentity, amount int) error {
	bins, err := s.totals.FindBins(ctx, profileID, product)
	if err != nil {
		return err
	}

	var entry domain.StockTotal
	if len(bins) == 0 {
		s.logger.Critical("Nenhum local ao liberar reserva; sintetizando local de recuperação.", nil, map[string]interface{}{
			"profile_id": profileID,
			"product_id": product.ProductID,
			"amount":     amount,
		})
		entry, err = s.createBin(ctx, profileID, product, nil, amount, amount)
		if err != nil {
			return err
		}
	} else {
		entry = chooseBin(bins, func(b domain.StockTotal) bool { return b.Reserve >= amount })
	}

	_, err = s.totals.ApplyDelta(ctx, entry.ID, 0, -amount, "release-reserve")
	return err
}

// SubTotal remove `amount` unidades físicas de um único local.
func (s *Service) SubTotal(ctx context.Context, profileID string, product domain.ProductIdentity, amount int) error {
	bins, err := s.totals.FindBins(ctx, profileID, product)
	if err != nil {
		return err
	}

	var entry domain.StockTotal
	if len(bins) == 0 {
		s.logger.Critical("Nenhum local ao decrementar total; sintetizando local de recuperação.", nil, map[string]interface{}{
			"profile_id": profileID,
			"product_id": product.ProductID,
			"amount":     amount,
		})
		entry, err = s.createBin(ctx, profileID, product, nil, amount, 0)
		if err != nil {
			return err
		}
	} else {
		entry = chooseBin(bins, func(b domain.StockTotal) bool { return b.Available() >= amount })
	}

	_, err = s.totals.ApplyDelta(ctx, entry.ID, -amount, 0, "sub-total")
	return err
}

// DecrementAndRelease libera a reserva E decrementa o total em uma única
// mutação (conclusão/entrega do pedido: a mercadoria saiu fisicamente).
func (s *Service) DecrementAndRelease(ctx context.Context, profileID string, product domain.ProductIdentity, amount int) error {
	bins, err := s.totals.FindBins(ctx, profileID, product)
	if err != nil {
		return err
	}

	var entry domain.StockTotal
	if len(bins) == 0 {
		s.logger.Critical("Nenhum local ao baixar estoque; sintetizando local de recuperação.", nil, map[string]interface{}{
			"profile_id": profileID,
			"product_id": product.ProductID,
			"amount":     amount,
		})
		entry, err = s.createBin(ctx, profileID, product, nil, amount, amount)
		if err != nil {
			return err
		}
	} else {
		entry = chooseBin(bins, func(b domain.StockTotal) bool { return b.Reserve >= amount })
	}

	_, err = s.totals.ApplyDelta(ctx, entry.ID, -amount, -amount, "decrement-release")
	return err
}

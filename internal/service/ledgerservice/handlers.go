package ledgerservice

import (
	"context"
	"fmt"
	"strconv"

	"stocksync/internal/domain"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/dedup"
)

// Consumidores das operações unitárias despachadas pelo alocador. Cada
// mensagem é deduplicada pela chave lógica (SourceID, tipo da operação,
// UnitIndex): sob reentrega at-least-once — inclusive quando o alocador
// republica as unidades com envelopes novos — cada unidade é aplicada no
// máximo uma vez.

// unitHandler encapsula o padrão comum: deduplica, aplica a mutação,
// agenda o recálculo do total do cartão e só então confirma a deduplicação.
func (s *Service) unitHandler(ctx context.Context, env bus.Envelope, handlerName string,
	apply func(ctx context.Context, msg domain.UnitOperation) error) error {

	var msg domain.UnitOperation
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	key := dedup.Key(msg.SourceID, handlerName, msg.Product.Key(), strconv.Itoa(msg.UnitIndex))
	if s.guard.Executed(ctx, nsLedger, key) {
		s.logger.Debug("Operação unitária já aplicada; ignorando reentrega.", map[string]interface{}{
			"handler":    handlerName,
			"source_id":  msg.SourceID,
			"unit_index": msg.UnitIndex,
		})
		return nil
	}

	if err := apply(ctx, msg); err != nil {
		// Sem Commit: a reentrega corrigida poderá prosseguir.
		return err
	}

	if err := s.bus.Publish(ctx, bus.TopicProductStocks, domain.MessageRecomputeProductTotal,
		domain.RecomputeProductTotal{ProductID: msg.Product.ProductID}); err != nil {
		s.logger.Error("Falha ao agendar recálculo do total do cartão.", err)
		return err
	}

	s.guard.Commit(ctx, nsLedger, key)
	return nil
}

// HandleReserveUnit aplica uma unidade de reserva.
func (s *Service) HandleReserveUnit(ctx context.Context, env bus.Envelope) error {
	return s.unitHandler(ctx, env, "reserve-unit", func(ctx context.Context, msg domain.UnitOperation) error {
		return s.Reserve(ctx, msg.ProfileID, msg.Product, msg.Amount)
	})
}

// HandleReleaseReserveUnit aplica uma unidade de liberação de reserva.
func (s *Service) HandleReleaseReserveUnit(ctx context.Context, env bus.Envelope) error {
	return s.unitHandler(ctx, env, "release-reserve-unit", func(ctx context.Context, msg domain.UnitOperation) error {
		return s.ReleaseReserve(ctx, msg.ProfileID, msg.Product, msg.Amount)
	})
}

// HandleDecrementAndReleaseUnit aplica uma unidade de baixa física.
func (s *Service) HandleDecrementAndReleaseUnit(ctx context.Context, env bus.Envelope) error {
	return s.unitHandler(ctx, env, "decrement-release-unit", func(ctx context.Context, msg domain.UnitOperation) error {
		return s.DecrementAndRelease(ctx, msg.ProfileID, msg.Product, msg.Amount)
	})
}

// HandleRecomputeProductTotal ressoma o livro-razão do produto e atualiza o
// total cacheado exibido no cartão. Naturalmente idempotente: recalcular
// duas vezes grava o mesmo valor.
func (s *Service) HandleRecomputeProductTotal(ctx context.Context, env bus.Envelope) error {
	var msg domain.RecomputeProductTotal
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	sum, err := s.totals.SumTotalByProduct(ctx, msg.ProductID)
	if err != nil {
		return err
	}

	if err := s.cache.Set(ctx, cardTotalKeyPrefix+msg.ProductID, sum, s.cacheTTL); err != nil {
		s.logger.Error("Falha ao atualizar total cacheado do cartão.", err)
		return err
	}

	s.logger.Debug("Total do cartão de produto recalculado.", map[string]interface{}{
		"product_id": msg.ProductID,
		"total":      sum,
	})
	return nil
}

// CardTotalKey expõe a chave do cache do cartão (job de verificação).
func CardTotalKey(productID string) string {
	return cardTotalKeyPrefix + productID
}

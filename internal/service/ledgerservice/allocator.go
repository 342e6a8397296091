package ledgerservice

import (
	"context"

	"stocksync/internal/domain"
	"stocksync/internal/pkg/bus"
)

// Alocador de reservas: converte um delta lógico de quantidade N em
// operações unitárias do livro-razão, conforme a política de divisão por
// locais de armazenamento:
//
//   - exatamente 1 local: uma única operação com o delta inteiro;
//   - mais de 1 local: N operações de delta 1, indexadas a partir de 1,
//     para espalhar a pressão de reserva do menor local para o maior e
//     tornar cada unidade individualmente reentregável e idempotente;
//   - 0 locais: uma única operação — o consumidor sintetiza o local
//     (caminho de recuperação de drift) ou o cria zerado.
//
// Aumentos trafegam no tópico normal; liberações/baixas no tópico de baixa
// prioridade, para que sob carga o crescimento de reserva não seja
// estrangulado pela limpeza, nem a limpeza adiada indefinidamente.

// dispatch fatia o delta em operações unitárias e as publica no tópico.
// sourceID é o id do fato lógico (evento) que originou o delta: ele viaja
// em cada unidade para que a deduplicação sobreviva a uma republicação sob
// reentrega (os envelopes ganham IDs novos, as unidades não).
func (s *Service) dispatch(ctx context.Context, topic, msgType, sourceID, profileID string, product domain.ProductIdentity, amount int) error {
	count, err := s.totals.CountBins(ctx, profileID, product)
	if err != nil {
		return err
	}

	if count <= 1 {
		return s.bus.Publish(ctx, topic, msgType, domain.UnitOperation{
			SourceID:  sourceID,
			ProfileID: profileID,
			Product:   product,
			UnitIndex: 1,
			Amount:    amount,
		})
	}

	for i := 1; i <= amount; i++ {
		err := s.bus.Publish(ctx, topic, msgType, domain.UnitOperation{
			SourceID:  sourceID,
			ProfileID: profileID,
			Product:   product,
			UnitIndex: i,
			Amount:    1,
		})
		if err != nil {
			// Unidades já publicadas são inofensivas sob reentrega: cada uma
			// é deduplicada pela chave lógica (SourceID, tipo, UnitIndex).
			return err
		}
	}
	return nil
}

// AllocateReserve aloca um aumento de reserva de `amount` unidades.
func (s *Service) AllocateReserve(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error {
	return s.dispatch(ctx, bus.TopicProductStocks, domain.MessageReserveUnit, sourceID, profileID, product, amount)
}

// AllocateRelease aloca uma liberação de reserva de `amount` unidades.
func (s *Service) AllocateRelease(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error {
	return s.dispatch(ctx, bus.TopicProductStocksLow, domain.MessageReleaseReserveUnit, sourceID, profileID, product, amount)
}

// AllocateDecrement aloca uma baixa física (liberação + decremento).
func (s *Service) AllocateDecrement(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error {
	return s.dispatch(ctx, bus.TopicProductStocksLow, domain.MessageDecrementAndReleaseUnit, sourceID, profileID, product, amount)
}

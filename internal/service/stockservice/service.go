package stockservice

import (
	"context"
	"fmt"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/dedup"
	"stocksync/internal/pkg/logger"
)

// StockRepository define o contrato que a máquina de estados espera da
// camada de persistência das requisições de estoque.
type StockRepository interface {
	FindEvent(ctx context.Context, eventID string) (domain.StockEvent, error)
}

// Ledger define as operações do livro-razão que as transições disparam.
type Ledger interface {
	AddTotal(ctx context.Context, profileID string, product domain.ProductIdentity, storage *string, amount int) error
	AllocateReserve(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error
	AllocateRelease(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error
	AllocateDecrement(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error
}

// Guard é a guarda de idempotência por (id do evento, identidade do handler).
type Guard interface {
	Executed(ctx context.Context, namespace, key string) bool
	Commit(ctx context.Context, namespace, key string) error
}

// nsStock é o namespace de deduplicação das transições de requisição.
const nsStock = "stock-status"

// Service implementa os efeitos de livro-razão da máquina de estados da
// requisição de estoque. Cada transição é deduplicada independentemente;
// este handler roda com prioridade alta, antes da propagação para o pedido
// e das notificações.
type Service struct {
	stocks StockRepository
	ledger Ledger
	guard  Guard
	logger logger.Logger
}

// NewService cria e retorna uma nova instância do serviço de transições.
func NewService(stocks StockRepository, ledger Ledger, guard Guard, log logger.Logger) *Service {
	return &Service{
		stocks: stocks,
		ledger: ledger,
		guard:  guard,
		logger: log,
	}
}

// HandleStatusChanged reage à transição de status de uma requisição de
// estoque aplicando o efeito de livro-razão correspondente ao novo estado.
// O evento (e, quando necessário, o anterior) é sempre relido do
// repositório: nunca se confia em snapshot embutido na mensagem.
func (s *Service) HandleStatusChanged(ctx context.Context, env bus.Envelope) error {
	var msg domain.StockStatusChanged
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	event, err := s.stocks.FindEvent(ctx, msg.EventID)
	if err != nil {
		// Evento inexistente: precondição não atendida, sem reentrega.
		return err
	}

	key := dedup.Key(msg.EventID, "ledger-transition")
	if s.guard.Executed(ctx, nsStock, key) {
		s.logger.Debug("Transição já processada; ignorando reentrega.", map[string]interface{}{
			"event_id": msg.EventID,
			"status":   string(event.Status),
		})
		return nil
	}

	switch event.Status {
	case domain.StockStatusIncoming:
		err = s.applyIncoming(ctx, event)
	case domain.StockStatusMoving:
		err = s.applyMoving(ctx, event)
	case domain.StockStatusWarehouse:
		err = s.applyWarehouse(ctx, event, msg.PreviousEventID)
	case domain.StockStatusPackage:
		err = s.applyPackage(ctx, event)
	case domain.StockStatusCancel:
		err = s.applyCancel(ctx, event, msg.PreviousEventID)
	default:
		// Extradition/Completed propagam para o pedido em handler próprio;
		// Decommission não tem efeito de livro-razão na criação;
		// Error/Divide não mutam o livro-razão.
		s.logger.Debug("Transição sem efeito de livro-razão.", map[string]interface{}{
			"event_id": msg.EventID,
			"status":   string(event.Status),
		})
	}
	if err != nil {
		return err
	}

	s.guard.Commit(ctx, nsStock, key)
	return nil
}

// applyIncoming registra a entrada física: AddTotal para cada linha no
// local declarado, reserva intocada.
func (s *Service) applyIncoming(ctx context.Context, event domain.StockEvent) error {
	for _, line := range event.Products {
		if err := s.ledger.AddTotal(ctx, event.ProfileID, line.Product, line.Storage, line.Quantity); err != nil {
			return err
		}
	}
	s.logger.Info("Recebimento registrado no livro-razão.", map[string]interface{}{
		"stock_id":   event.StockID,
		"event_id":   event.ID,
		"profile_id": event.ProfileID,
		"lines":      len(event.Products),
	})
	return nil
}

// applyMoving reserva o estoque no perfil de ORIGEM na criação da
// transferência, antes de qualquer processamento downstream.
func (s *Service) applyMoving(ctx context.Context, event domain.StockEvent) error {
	for _, line := range event.Products {
		if err := s.ledger.AllocateReserve(ctx, event.ID, event.ProfileID, line.Product, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// applyWarehouse registra a chegada da transferência: baixa física +
// liberação de reserva no perfil de ORIGEM. O perfil de referência é lido
// do evento ANTERIOR, não do atual — após a transferência o perfil de
// registro já é o destino.
func (s *Service) applyWarehouse(ctx context.Context, event domain.StockEvent, previousEventID *string) error {
	if previousEventID == nil {
		return apperror.NewPreconditionError(
			fmt.Sprintf("Evento %s sem evento anterior; impossível resolver o perfil de origem.", event.ID))
	}

	previous, err := s.stocks.FindEvent(ctx, *previousEventID)
	if err != nil {
		return err
	}
	if previous.Status != domain.StockStatusMoving {
		return apperror.NewPreconditionError(
			fmt.Sprintf("Evento anterior %s não é uma transferência (status %s).", previous.ID, previous.Status))
	}

	for _, line := range previous.Products {
		if err := s.ledger.AllocateDecrement(ctx, event.ID, previous.ProfileID, line.Product, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// applyPackage reserva o estoque no perfil para o qual a requisição foi
// enviada (separação de pedido).
func (s *Service) applyPackage(ctx context.Context, event domain.StockEvent) error {
	for _, line := range event.Products {
		if err := s.ledger.AllocateReserve(ctx, event.ID, event.ProfileID, line.Product, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// applyCancel devolve a quantidade reservada de cada linha — mas somente
// quando o evento imediatamente anterior deixou uma reserva em aberto
// (Moving, Package ou Extradition). Cancelar uma requisição que nunca
// reservou (Incoming, Decommission) não pode liberar nada: a liberação
// violaria 0 <= reserve e a mensagem ficaria presa em reentrega eterna.
// Após Completed o livro-razão já foi decrementado na conclusão e também
// não pode ser tocado de novo (guarda contra dupla compensação).
func (s *Service) applyCancel(ctx context.Context, event domain.StockEvent, previousEventID *string) error {
	if previousEventID == nil {
		s.logger.Info("Cancelamento sem evento anterior: nenhuma reserva a liberar.", map[string]interface{}{
			"stock_id": event.StockID,
			"event_id": event.ID,
		})
		return nil
	}

	previous, err := s.stocks.FindEvent(ctx, *previousEventID)
	if err != nil {
		return err
	}

	switch previous.Status {
	case domain.StockStatusMoving, domain.StockStatusPackage, domain.StockStatusExtradition:
		// Estados que mantêm reserva em aberto: segue para a liberação.
	case domain.StockStatusCompleted:
		s.logger.Info("Cancelamento após conclusão: livro-razão já decrementado, sem compensação.", map[string]interface{}{
			"stock_id": event.StockID,
			"event_id": event.ID,
		})
		return nil
	default:
		s.logger.Info("Cancelamento de requisição sem reserva em aberto: livro-razão intocado.", map[string]interface{}{
			"stock_id":        event.StockID,
			"event_id":        event.ID,
			"previous_status": string(previous.Status),
		})
		return nil
	}

	for _, line := range event.Products {
		if err := s.ledger.AllocateRelease(ctx, event.ID, event.ProfileID, line.Product, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

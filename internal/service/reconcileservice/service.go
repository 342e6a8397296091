package reconcileservice

import (
	"context"
	"fmt"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/dedup"
	"stocksync/internal/pkg/logger"
	"stocksync/internal/service/signservice"
)

// StockRepository define o contrato do reconciliador com as requisições.
type StockRepository interface {
	FindEvent(ctx context.Context, eventID string) (domain.StockEvent, error)
	AppendEvent(ctx context.Context, e domain.StockEvent) (domain.StockEvent, error)
}

// OrderRepository é o lookup puro do pedido vinculado.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// Ledger define as alocações que o reconciliador dispara.
type Ledger interface {
	AllocateReserve(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error
	AllocateRelease(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error
}

// Guard é a guarda de idempotência por par (evento atual, evento anterior).
type Guard interface {
	Executed(ctx context.Context, namespace, key string) bool
	Commit(ctx context.Context, namespace, key string) error
}

// nsReconcile é o namespace de deduplicação do reconciliador.
const nsReconcile = "reconcile"

// Service é o reconciliador de diffs: reage à edição da coleção de
// produtos de uma requisição computando os deltas entre o snapshot
// anterior e o atual, e emitindo a sequência correta de mensagens de
// reserva/liberação/unidade serializada. Monotônico e idempotente por par
// de eventos: reprocessar o mesmo (atual, anterior) não tem efeito
// adicional depois de deduplicado.
type Service struct {
	stocks StockRepository
	orders OrderRepository
	ledger Ledger
	signs  signservice.Bridge
	bus    bus.Publisher
	guard  Guard
	logger logger.Logger
}

// NewService cria e retorna uma nova instância do reconciliador.
func NewService(stocks StockRepository, orders OrderRepository, ledger Ledger, signs signservice.Bridge, publisher bus.Publisher, guard Guard, log logger.Logger) *Service {
	return &Service{
		stocks: stocks,
		orders: orders,
		ledger: ledger,
		signs:  signs,
		bus:    publisher,
		guard:  guard,
		logger: log,
	}
}

// HandleProductsEdited processa a edição da coleção de produtos.
// Requisições ainda abertas seguem o caminho de ajuste de reserva; as já
// concluídas seguem o caminho irmão de devolução (o estoque já saiu
// fisicamente).
func (s *Service) HandleProductsEdited(ctx context.Context, env bus.Envelope) error {
	var msg domain.StockProductsEdited
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	current, err := s.stocks.FindEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}
	previous, err := s.stocks.FindEvent(ctx, msg.PreviousEventID)
	if err != nil {
		// Snapshot anterior ausente: precondição permanente, registrada e
		// pulada — nunca retry infinito.
		return err
	}

	key := dedup.Key(msg.EventID, msg.PreviousEventID, "reconcile")
	if s.guard.Executed(ctx, nsReconcile, key) {
		return nil
	}

	diff := Diff(previous.Products, current.Products)

	if current.Status == domain.StockStatusCompleted {
		err = s.reconcileCompleted(ctx, current, diff)
	} else {
		err = s.reconcileOpen(ctx, current, diff)
	}
	if err != nil {
		return err
	}

	s.guard.Commit(ctx, nsReconcile, key)
	return nil
}

// reconcileOpen ajusta as reservas de uma requisição ainda aberta.
// Aumentos são despachados antes das reduções (tópico normal vs. baixa
// prioridade), para que os aumentos assentem primeiro.
func (s *Service) reconcileOpen(ctx context.Context, current domain.StockEvent, diff DiffResult) error {
	for _, inc := range diff.Increases {
		if err := s.ledger.AllocateReserve(ctx, current.ID, current.ProfileID, inc.Product, inc.Quantity); err != nil {
			return err
		}
		if s.signs.Enabled() && current.OrderID != nil {
			if err := s.signs.Reserve(ctx, *current.OrderID, inc.Product, inc.Quantity); err != nil {
				return err
			}
		}
	}

	for _, dec := range diff.Decreases {
		if dec.Removed {
			// A linha (e seu local declarado) desapareceu entre edições:
			// sinal de drift a investigar; a liberação cai no caminho de
			// recuperação do alocador se o local não existir mais.
			s.logger.Warn("Linha removida na edição: local de armazenamento desapareceu entre snapshots.", map[string]interface{}{
				"stock_id":   current.StockID,
				"event_id":   current.ID,
				"product_id": dec.Product.ProductID,
				"quantity":   dec.Quantity,
			})
		}

		if err := s.ledger.AllocateRelease(ctx, current.ID, current.ProfileID, dec.Product, dec.Quantity); err != nil {
			return err
		}
		if s.signs.Enabled() && current.OrderID != nil {
			if err := s.signs.Cancel(ctx, current.ProfileID, *current.OrderID, dec.Product); err != nil {
				return err
			}
		}
	}

	s.logger.Info("Edição reconciliada.", map[string]interface{}{
		"stock_id":  current.StockID,
		"event_id":  current.ID,
		"increases": len(diff.Increases),
		"decreases": len(diff.Decreases),
	})
	return nil
}

// reconcileCompleted é o reconciliador irmão para requisições já
// concluídas: o total já foi decrementado fisicamente, então reduções não
// liberam reserva — geram um NOVO recebimento (a mercadoria voltou) e, se o
// pedido ainda existe, um sub-pedido de devolução parcial restrito à linha
// e quantidade alteradas.
func (s *Service) reconcileCompleted(ctx context.Context, current domain.StockEvent, diff DiffResult) error {
	for _, inc := range diff.Increases {
		// Aumento após conclusão não tem compensação automática definida.
		s.logger.Warn("Aumento de quantidade após conclusão; nenhuma compensação automática.", map[string]interface{}{
			"stock_id":   current.StockID,
			"product_id": inc.Product.ProductID,
			"quantity":   inc.Quantity,
		})
	}

	for _, dec := range diff.Decreases {
		appended, err := s.stocks.AppendEvent(ctx, domain.StockEvent{
			Status:    domain.StockStatusIncoming,
			OrderID:   current.OrderID,
			ProfileID: current.ProfileID,
			UserID:    current.UserID,
			Number:    current.Number,
			Products: []domain.StockProduct{{
				Product:  dec.Product,
				Storage:  dec.Storage,
				Quantity: dec.Quantity,
			}},
		})
		if err != nil {
			return err
		}

		err = s.bus.Publish(ctx, bus.TopicStocksEvents, domain.MessageStockStatusChanged, domain.StockStatusChanged{
			StockID: appended.StockID,
			EventID: appended.ID,
		})
		if err != nil {
			return err
		}

		if current.OrderID != nil {
			if err := s.createPartialReturn(ctx, *current.OrderID, current.ProfileID, dec); err != nil {
				return err
			}
		}
	}

	return nil
}

// createPartialReturn emite o sub-pedido de devolução se o pedido original
// ainda existir, junto com o sinal de devolução das unidades serializadas.
func (s *Service) createPartialReturn(ctx context.Context, orderID, profileID string, dec DiffLine) error {
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		if apperror.IsPrecondition(err) {
			s.logger.Info("Pedido original inexistente; devolução segue apenas no estoque.", map[string]interface{}{
				"order_id": orderID,
			})
			return nil
		}
		return err
	}

	err := s.bus.Publish(ctx, bus.TopicOrdersEvents, domain.MessageCreatePartialReturnOrder, domain.CreatePartialReturnOrder{
		OrderID:  orderID,
		Product:  dec.Product,
		Quantity: dec.Quantity,
	})
	if err != nil {
		return err
	}

	if s.signs.Enabled() {
		return s.signs.Return(ctx, profileID, orderID, dec.Product, dec.Quantity)
	}
	return nil
}

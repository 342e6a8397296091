package sagaservice

import (
	"context"
	"fmt"

	"stocksync/internal/domain"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/dedup"
)

// Lado pedido -> estoque da saga.

// HandleOrderStatusChanged reage às transições de status do pedido.
func (s *Service) HandleOrderStatusChanged(ctx context.Context, env bus.Envelope) error {
	var msg domain.OrderStatusChanged
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	// Relê o pedido autoritativo: a mensagem pode estar defasada em relação
	// a atualizações concorrentes.
	order, err := s.orders.FindByID(ctx, msg.OrderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case domain.OrderStatusCancelled:
		return s.cancelStockRequests(ctx, msg, order)
	case domain.OrderStatusDecommission:
		return s.requestDecommission(ctx, msg, order)
	case domain.OrderStatusCompleted:
		return s.decrementOnCompletion(ctx, msg, order)
	case domain.OrderStatusDelivery:
		return s.decrementOnDelivery(ctx, msg, order)
	}

	s.logger.Debug("Transição de pedido sem efeito na saga de estoque.", map[string]interface{}{
		"order_id": order.ID,
		"status":   string(order.Status),
	})
	return nil
}

// cancelStockRequests cancela toda requisição de estoque vinculada ao
// pedido que ainda não esteja cancelada.
func (s *Service) cancelStockRequests(ctx context.Context, msg domain.OrderStatusChanged, order domain.Order) error {
	key := dedup.Key(msg.EventID, "order-cancel-stocks")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	events, err := s.stocks.FindCurrentByOrder(ctx, order.ID)
	if err != nil {
		return err
	}

	for _, event := range events {
		if event.Status == domain.StockStatusCancel {
			continue
		}

		appended, err := s.stocks.AppendEvent(ctx, event.NextEvent(domain.StockStatusCancel))
		if err != nil {
			return err
		}

		err = s.bus.Publish(ctx, bus.TopicStocksEvents, domain.MessageStockStatusChanged, domain.StockStatusChanged{
			StockID:         appended.StockID,
			EventID:         appended.ID,
			PreviousEventID: appended.PreviousID,
		})
		if err != nil {
			return err
		}

		s.logger.Info("Requisição de estoque cancelada pela saga do pedido.", map[string]interface{}{
			"order_id": order.ID,
			"stock_id": appended.StockID,
		})
	}

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

// requestDecommission pede a criação da requisição de baixa espelhando as
// linhas do pedido.
func (s *Service) requestDecommission(ctx context.Context, msg domain.OrderStatusChanged, order domain.Order) error {
	key := dedup.Key(msg.EventID, "order-decommission")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	err := s.bus.Publish(ctx, bus.TopicStocksEvents, domain.MessageCreateDecommissionRequest, domain.CreateDecommissionRequest{
		OrderID: order.ID,
		Lines:   order.Products,
	})
	if err != nil {
		return err
	}

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

// decrementOnCompletion libera a reserva e decrementa o total no armazém
// que atendeu o pedido, via operações unitárias do alocador.
func (s *Service) decrementOnCompletion(ctx context.Context, msg domain.OrderStatusChanged, order domain.Order) error {
	key := dedup.Key(msg.EventID, "order-completed-ledger")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	profileID, found, err := s.fulfillingProfile(ctx, order.ID)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Warn("Pedido concluído sem requisição de separação; livro-razão intocado.", map[string]interface{}{
			"order_id": order.ID,
		})
		return nil
	}

	for _, line := range order.Products {
		if err := s.ledger.AllocateDecrement(ctx, msg.EventID, profileID, line.Product, line.Quantity); err != nil {
			return err
		}
	}

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

// decrementOnDelivery é o caminho legado: mesma baixa da conclusão, mas
// aplicada diretamente no livro-razão, sem fan-out de mensagens unitárias.
func (s *Service) decrementOnDelivery(ctx context.Context, msg domain.OrderStatusChanged, order domain.Order) error {
	key := dedup.Key(msg.EventID, "order-delivery-ledger")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	profileID, found, err := s.fulfillingProfile(ctx, order.ID)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Warn("Pedido em entrega sem requisição de separação; livro-razão intocado.", map[string]interface{}{
			"order_id": order.ID,
		})
		return nil
	}

	for _, line := range order.Products {
		if err := s.ledger.DecrementAndRelease(ctx, profileID, line.Product, line.Quantity); err != nil {
			return err
		}
	}

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

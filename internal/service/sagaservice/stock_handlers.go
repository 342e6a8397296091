package sagaservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/dedup"
)

// Lado estoque -> pedido da saga.

// HandleStockStatusChanged propaga Extradition/Completed da requisição para
// o pedido vinculado. Registrado com prioridade mais baixa que o handler de
// livro-razão: alocação primeiro, broadcast depois.
func (s *Service) HandleStockStatusChanged(ctx context.Context, env bus.Envelope) error {
	var msg domain.StockStatusChanged
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	event, err := s.stocks.FindEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}

	var target domain.OrderStatus
	switch event.Status {
	case domain.StockStatusExtradition:
		target = domain.OrderStatusExtradition
	case domain.StockStatusCompleted:
		target = domain.OrderStatusCompleted
	default:
		return nil
	}

	if event.OrderID == nil {
		return nil
	}
	if event.IsMoveLeg() {
		// Perna de transferência armazém-a-armazém: o destino ainda precisa
		// atender o pedido, então o pedido fica intocado.
		s.logger.Debug("Transferência entre armazéns: propagação ao pedido suprimida.", map[string]interface{}{
			"stock_id": event.StockID,
			"order_id": *event.OrderID,
		})
		return nil
	}

	key := dedup.Key(msg.EventID, "stock-order-propagate")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	err = s.bus.Publish(ctx, bus.TopicOrdersEvents, domain.MessageAdvanceOrderStatus, domain.AdvanceOrderStatus{
		OrderID:   *event.OrderID,
		Status:    target,
		ProfileID: event.ProfileID,
	})
	if err != nil {
		return err
	}

	// Notificação de presença: esconde o pedido das filas dos demais
	// operadores. Efeito puro, fora do livro-razão.
	s.publishPresence(ctx, *event.OrderID, event.ProfileID)

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

// publishPresence publica o anúncio no canal pub/sub. Falha aqui não
// derruba o handler: a notificação é best-effort.
func (s *Service) publishPresence(ctx context.Context, orderID, profileID string) {
	payload, err := json.Marshal(map[string]string{
		"order_id":   orderID,
		"profile_id": profileID,
	})
	if err != nil {
		return
	}
	if err := s.notifier.Publish(ctx, presenceChannel, payload); err != nil {
		s.logger.Warn("Falha ao publicar notificação de presença.", map[string]interface{}{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

// HandleAdvanceOrderStatus consome o pedido de avanço de status e o aplica
// ao agregado, publicando o evento de domínio resultante.
func (s *Service) HandleAdvanceOrderStatus(ctx context.Context, env bus.Envelope) error {
	var msg domain.AdvanceOrderStatus
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	key := dedup.Key(env.ID, "advance-order-status")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	order, err := s.orders.UpdateStatus(ctx, msg.OrderID, msg.Status)
	if err != nil {
		if apperror.IsPrecondition(err) {
			// Pedido não existe mais: precondição permanente, sem reentrega.
			return err
		}
		// Falha de downstream: crítico, sem registro de deduplicação, o
		// broker reentrega.
		s.logger.Critical("Falha ao avançar status do pedido.", err, map[string]interface{}{
			"order_id": msg.OrderID,
			"status":   string(msg.Status),
		})
		return err
	}

	err = s.bus.Publish(ctx, bus.TopicOrdersEvents, domain.MessageOrderStatusChanged, domain.OrderStatusChanged{
		OrderID: order.ID,
		EventID: uuid.New().String(),
	})
	if err != nil {
		return err
	}

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

// HandleCreateDecommissionRequest cria a requisição de baixa: uma por
// pedido, com as linhas copiadas 1:1 e o bloco invariável vindo do
// perfil/usuário/número do pedido.
func (s *Service) HandleCreateDecommissionRequest(ctx context.Context, env bus.Envelope) error {
	var msg domain.CreateDecommissionRequest
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	key := dedup.Key(env.ID, "create-decommission")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	// Relê o pedido autoritativo; as linhas da mensagem são apenas contexto.
	order, err := s.orders.FindByID(ctx, msg.OrderID)
	if err != nil {
		return err
	}

	existing, err := s.stocks.FindCurrentByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return apperror.NewPreconditionError(
			fmt.Sprintf("Pedido %s já possui requisição de estoque; baixa não duplicada.", order.ID))
	}

	lines := make([]domain.StockProduct, 0, len(order.Products))
	for _, p := range order.Products {
		lines = append(lines, domain.StockProduct{Product: p.Product, Quantity: p.Quantity})
	}

	appended, err := s.stocks.AppendEvent(ctx, domain.StockEvent{
		Status:    domain.StockStatusDecommission,
		OrderID:   &order.ID,
		ProfileID: order.ProfileID,
		UserID:    order.UserID,
		Number:    order.Number,
		Products:  lines,
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

	s.logger.Info("Requisição de baixa criada para o pedido.", map[string]interface{}{
		"order_id": order.ID,
		"stock_id": appended.StockID,
	})

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

// HandleCreatePartialReturnOrder cria o sub-pedido de devolução parcial,
// se o pedido original ainda existir.
func (s *Service) HandleCreatePartialReturnOrder(ctx context.Context, env bus.Envelope) error {
	var msg domain.CreatePartialReturnOrder
	if err := env.Decode(&msg); err != nil {
		return fmt.Errorf("payload inválido de %s: %w", env.Type, err)
	}

	key := dedup.Key(env.ID, "create-partial-return")
	if s.guard.Executed(ctx, nsSaga, key) {
		return nil
	}

	parent, err := s.orders.FindByID(ctx, msg.OrderID)
	if err != nil {
		// Pedido original já não existe: a devolução segue só no estoque.
		return err
	}

	if _, err := s.orders.CreatePartialReturn(ctx, parent, msg.Product, msg.Quantity); err != nil {
		return err
	}

	s.guard.Commit(ctx, nsSaga, key)
	return nil
}

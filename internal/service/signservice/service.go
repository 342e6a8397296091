package signservice

import (
	"context"

	"stocksync/internal/domain"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/logger"
)

// Bridge é a ponte com o subsistema de conformidade de unidades
// serializadas ("signs"): mercadorias numeradas individualmente cujas
// reservas andam em sincronia com as mudanças de quantidade. O núcleo só
// emite sinais de reserva/cancelamento/devolução chaveados por pedido,
// perfil e constantes do item — o agregado pertence ao subsistema externo.
type Bridge interface {
	Enabled() bool
	Reserve(ctx context.Context, orderID string, product domain.ProductIdentity, quantity int) error
	Cancel(ctx context.Context, profileID, orderID string, product domain.ProductIdentity) error
	Return(ctx context.Context, profileID, orderID string, product domain.ProductIdentity, quantity int) error
}

// partSize limita cada parte de reserva a 100 unidades, para conter o
// fan-out da saga em pedidos grandes.
const partSize = 100

// NewBridge resolve a presença do subsistema na inicialização, como
// capability flag de configuração — nunca por checagem de tipo em runtime.
func NewBridge(enabled bool, publisher bus.Publisher, log logger.Logger) Bridge {
	if !enabled {
		return &disabledBridge{logger: log}
	}
	return &Service{bus: publisher, logger: log}
}

// Service é a ponte ativa: publica os sinais no barramento.
type Service struct {
	bus    bus.Publisher
	logger logger.Logger
}

func (s *Service) Enabled() bool { return true }

// Reserve pede a reserva de `quantity` unidades ainda não atribuídas do
// pedido, em partes 1-based de até 100 unidades.
func (s *Service) Reserve(ctx context.Context, orderID string, product domain.ProductIdentity, quantity int) error {
	part := 1
	for remaining := quantity; remaining > 0; remaining -= partSize {
		chunk := remaining
		if chunk > partSize {
			chunk = partSize
		}

		err := s.bus.Publish(ctx, bus.TopicProductStocks, domain.MessageReserveSerializedUnits, domain.ReserveSerializedUnits{
			OrderID: orderID,
			Part:    part,
			Lines:   []domain.OrderProduct{{Product: product, Quantity: chunk}},
		})
		if err != nil {
			return err
		}
		part++
	}

	s.logger.Debug("Reserva de unidades serializadas despachada.", map[string]interface{}{
		"order_id":   orderID,
		"product_id": product.ProductID,
		"quantity":   quantity,
		"parts":      part - 1,
	})
	return nil
}

// Cancel pede o cancelamento das reservas do pedido que ficaram sem linha
// atribuída após a edição.
func (s *Service) Cancel(ctx context.Context, profileID, orderID string, product domain.ProductIdentity) error {
	return s.bus.Publish(ctx, bus.TopicProductStocksLow, domain.MessageCancelSerializedUnitReservation, domain.CancelSerializedUnitReservation{
		ProfileID: profileID,
		OrderID:   orderID,
		Product:   product,
	})
}

// Return sinaliza a devolução de unidades após uma baixa já concluída.
func (s *Service) Return(ctx context.Context, profileID, orderID string, product domain.ProductIdentity, quantity int) error {
	return s.bus.Publish(ctx, bus.TopicProductStocksLow, domain.MessageReturnSerializedUnits, domain.ReturnSerializedUnits{
		ProfileID: profileID,
		OrderID:   orderID,
		Product:   product,
		Quantity:  quantity,
	})
}

// disabledBridge é a implementação injetada quando o subsistema não está
// instalado: todos os sinais são no-ops silenciosos.
type disabledBridge struct {
	logger logger.Logger
}

func (d *disabledBridge) Enabled() bool { return false }

func (d *disabledBridge) Reserve(ctx context.Context, orderID string, product domain.ProductIdentity, quantity int) error {
	return nil
}

func (d *disabledBridge) Cancel(ctx context.Context, profileID, orderID string, product domain.ProductIdentity) error {
	return nil
}

func (d *disabledBridge) Return(ctx context.Context, profileID, orderID string, product domain.ProductIdentity, quantity int) error {
	return nil
}

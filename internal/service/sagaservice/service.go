package sagaservice

import (
	"context"

	"stocksync/internal/domain"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/cache"
	"stocksync/internal/pkg/logger"
)

// OrderRepository define o contrato da saga com o agregado de pedidos.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	CreatePartialReturn(ctx context.Context, parent domain.Order, product domain.ProductIdentity, quantity int) (domain.Order, error)
}

// StockRepository define o contrato da saga com as requisições de estoque.
type StockRepository interface {
	FindEvent(ctx context.Context, eventID string) (domain.StockEvent, error)
	FindCurrentByOrder(ctx context.Context, orderID string) ([]domain.StockEvent, error)
	AppendEvent(ctx context.Context, e domain.StockEvent) (domain.StockEvent, error)
}

// Ledger define as operações do livro-razão usadas pelo lado do pedido.
type Ledger interface {
	AllocateDecrement(ctx context.Context, sourceID, profileID string, product domain.ProductIdentity, amount int) error
	DecrementAndRelease(ctx context.Context, profileID string, product domain.ProductIdentity, amount int) error
}

// Guard é a guarda de idempotência por (id do evento, identidade do handler).
type Guard interface {
	Executed(ctx context.Context, namespace, key string) bool
	Commit(ctx context.Context, namespace, key string) error
}

const (
	// nsSaga é o namespace de deduplicação da coordenação entre agregados.
	nsSaga = "saga"

	// presenceChannel é o canal pub/sub onde se anuncia que um pedido saiu
	// da fila dos demais operadores (efeito puro, fora do livro-razão).
	presenceChannel = "orders.presence"
)

// Service implementa a saga pedido<->estoque: transições de status do
// pedido disparam criação/cancelamento/baixa de requisições de estoque, e
// transições de requisição disparam avanço de status do pedido e
// notificações. A coordenação é SEMPRE mediada por mensagens; cada escrita
// cruzada relê o estado autoritativo atual em vez de confiar no snapshot
// embutido na mensagem.
type Service struct {
	orders   OrderRepository
	stocks   StockRepository
	ledger   Ledger
	bus      bus.Publisher
	notifier cache.Client
	guard    Guard
	logger   logger.Logger
}

// NewService cria e retorna uma nova instância da saga.
func NewService(orders OrderRepository, stocks StockRepository, ledger Ledger, publisher bus.Publisher, notifier cache.Client, guard Guard, log logger.Logger) *Service {
	return &Service{
		orders:   orders,
		stocks:   stocks,
		ledger:   ledger,
		bus:      publisher,
		notifier: notifier,
		guard:    guard,
		logger:   log,
	}
}

// fulfillingProfile localiza o perfil que atende o pedido: o evento atual
// da requisição de separação vinculada (nunca uma perna de transferência).
func (s *Service) fulfillingProfile(ctx context.Context, orderID string) (string, bool, error) {
	events, err := s.stocks.FindCurrentByOrder(ctx, orderID)
	if err != nil {
		return "", false, err
	}
	for _, e := range events {
		if e.IsMoveLeg() {
			continue
		}
		switch e.Status {
		case domain.StockStatusPackage, domain.StockStatusExtradition, domain.StockStatusCompleted:
			return e.ProfileID, true, nil
		}
	}
	return "", false, nil
}

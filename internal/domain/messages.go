package domain

// Tipos de mensagem transportados no envelope do barramento.
// O tópico onde cada tipo trafega é decidido pelo publicador:
// aumentos de reserva no tópico normal, liberações/baixas no de baixa
// prioridade, para que o crescimento de reserva nunca seja estrangulado
// pelo trabalho de limpeza (e vice-versa).
const (
	// Inbound (eventos de domínio)
	MessageOrderStatusChanged   = "order.status-changed"
	MessageStockStatusChanged   = "stock.status-changed"
	MessageStockProductsEdited  = "stock.products-edited"

	// Outbound (operações unitárias do livro-razão)
	MessageReserveUnit             = "stock-total.reserve-unit"
	MessageReleaseReserveUnit      = "stock-total.release-reserve-unit"
	MessageDecrementAndReleaseUnit = "stock-total.decrement-release-unit"
	MessageRecomputeProductTotal   = "stock-total.recompute-product-total"

	// Outbound (coordenação entre agregados)
	MessageAdvanceOrderStatus        = "order.advance-status"
	MessageCreateDecommissionRequest = "stock.create-decommission"
	MessageCreatePartialReturnOrder  = "order.create-partial-return"

	// Outbound (subsistema de unidades serializadas)
	MessageReserveSerializedUnits          = "sign.reserve-units"
	MessageCancelSerializedUnitReservation = "sign.cancel-reservation"
	MessageReturnSerializedUnits           = "sign.return-units"
)

// OrderStatusChanged notifica que um pedido mudou de status.
// O handler SEMPRE relê o pedido autoritativo; o EventID serve apenas
// como chave de deduplicação do evento lógico.
type OrderStatusChanged struct {
	OrderID string `json:"order_id"`
	EventID string `json:"event_id"`
}

// StockStatusChanged notifica que uma requisição de estoque avançou para um
// novo snapshot de evento. PreviousEventID permite diffs e a leitura do
// perfil de origem em transferências.
type StockStatusChanged struct {
	StockID         string  `json:"stock_id"`
	EventID         string  `json:"event_id"`
	PreviousEventID *string `json:"previous_event_id,omitempty"`
}

// StockProductsEdited notifica que a coleção de produtos da requisição foi
// editada enquanto a requisição ainda estava aberta (ou após Completed, no
// caminho de devolução).
type StockProductsEdited struct {
	EventID         string `json:"event_id"`
	PreviousEventID string `json:"previous_event_id"`
}

// UnitOperation é a carga comum das operações unitárias do livro-razão.
// UnitIndex é 1-based: quando há mais de um local de armazenamento, o
// alocador emite uma mensagem por unidade (Amount=1) para que cada unidade
// seja individualmente reentregável e deduplicável.
// SourceID identifica o fato lógico que originou a operação (id do evento
// de pedido/estoque): a deduplicação da unidade é calculada sobre
// (SourceID, tipo, identidade do produto, UnitIndex), de modo que uma
// republicação do alocador
// sob reentrega produza as MESMAS chaves — o ID do envelope é só rastreio.
type UnitOperation struct {
	SourceID  string          `json:"source_id"`
	ProfileID string          `json:"profile_id"`
	Product   ProductIdentity `json:"product"`
	UnitIndex int             `json:"unit_index"`
	Amount    int             `json:"amount"`
}

// RecomputeProductTotal pede o recálculo do total agregado visível no
// cartão do produto (cache).
type RecomputeProductTotal struct {
	ProductID string `json:"product_id"`
}

// AdvanceOrderStatus pede o avanço do status de um pedido.
type AdvanceOrderStatus struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	ProfileID string      `json:"profile_id"` // Perfil que executou a transição
}

// CreateDecommissionRequest pede a criação de uma requisição de baixa
// espelhando 1:1 as linhas do pedido.
type CreateDecommissionRequest struct {
	OrderID string         `json:"order_id"`
	Lines   []OrderProduct `json:"lines"`
}

// CreatePartialReturnOrder pede a criação de um sub-pedido de devolução
// restrito à linha e quantidade alteradas.
type CreatePartialReturnOrder struct {
	OrderID  string          `json:"order_id"`
	Product  ProductIdentity `json:"product"`
	Quantity int             `json:"quantity"`
}

// ReserveSerializedUnits pede a reserva de unidades serializadas ainda não
// atribuídas do pedido. Part é 1-based; cada parte cobre no máximo 100
// unidades para limitar o fan-out da saga.
type ReserveSerializedUnits struct {
	OrderID string         `json:"order_id"`
	Part    int            `json:"part"`
	Lines   []OrderProduct `json:"lines"`
}

// CancelSerializedUnitReservation pede o cancelamento das reservas de
// unidades serializadas do pedido que ficaram sem linha atribuída.
type CancelSerializedUnitReservation struct {
	ProfileID string          `json:"profile_id"`
	OrderID   string          `json:"order_id"`
	Product   ProductIdentity `json:"product"`
}

// ReturnSerializedUnits sinaliza a devolução de unidades serializadas após
// uma baixa já concluída (caminho de devolução parcial).
type ReturnSerializedUnits struct {
	ProfileID string          `json:"profile_id"`
	OrderID   string          `json:"order_id"`
	Product   ProductIdentity `json:"product"`
	Quantity  int             `json:"quantity"`
}

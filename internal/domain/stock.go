package domain

import "time"

// StockStatus é o estado de uma requisição de estoque no seu ciclo de vida.
type StockStatus string

const (
	StockStatusIncoming     StockStatus = "incoming"     // Recebimento de mercadoria
	StockStatusDecommission StockStatus = "decommission" // Baixa / write-off
	StockStatusMoving       StockStatus = "moving"       // Transferência entre armazéns (criação)
	StockStatusWarehouse    StockStatus = "warehouse"    // Chegou ao armazém de destino
	StockStatusPackage      StockStatus = "package"      // Separação/empacotamento de pedido
	StockStatusExtradition  StockStatus = "extradition"  // Pronto para expedição
	StockStatusCompleted    StockStatus = "completed"    // Concluída (terminal)
	StockStatusCancel       StockStatus = "cancel"       // Cancelada (terminal)
	StockStatusError        StockStatus = "error"
	StockStatusDivide       StockStatus = "divide"
)

// IsTerminal indica se o estado encerra o ciclo de vida da requisição.
func (s StockStatus) IsTerminal() bool {
	return s == StockStatusCompleted || s == StockStatusCancel
}

// StockProduct é uma linha da coleção de produtos de uma requisição de estoque.
type StockProduct struct {
	Product  ProductIdentity `json:"product"`
	Storage  *string         `json:"storage,omitempty"` // Local de armazenamento declarado na linha
	Quantity int             `json:"quantity"`
}

// StockEvent é um snapshot imutável de uma requisição de estoque.
// A requisição (agregado) é uma sequência append-only desses snapshots:
// somente o último é o "atual", e cada um conhece o anterior (PreviousID),
// o que permite aos handlers de transição calcular diffs.
type StockEvent struct {
	ID         string      `json:"id"`
	StockID    string      `json:"stock_id"`
	PreviousID *string     `json:"previous_id,omitempty"`
	Status     StockStatus `json:"status"`

	// Vínculos opcionais
	OrderID         *string `json:"order_id,omitempty"`          // Pedido que originou a requisição
	MoveToProfileID *string `json:"move_to_profile_id,omitempty"` // Destino de transferência armazém-a-armazém

	// Bloco invariável: copiado de evento em evento, nunca alterado
	ProfileID string `json:"profile_id"`
	UserID    string `json:"user_id"`
	Number    string `json:"number"`

	Products  []StockProduct `json:"products"`
	Comment   *string        `json:"comment,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsMoveLeg indica se o evento é a perna de uma transferência
// armazém-a-armazém. Nesse caso as transições Extradition/Completed NÃO
// propagam status para o pedido: o armazém de destino ainda precisa atendê-lo.
func (e StockEvent) IsMoveLeg() bool {
	return e.MoveToProfileID != nil
}

// NextEvent constrói o próximo snapshot do agregado: copia o bloco
// invariável e a coleção de produtos, encadeando o evento atual como anterior.
// O ID do novo evento é atribuído pelo repositório no append.
func (e StockEvent) NextEvent(status StockStatus) StockEvent {
	prev := e.ID
	next := e
	next.ID = ""
	next.PreviousID = &prev
	next.Status = status
	next.Products = make([]StockProduct, len(e.Products))
	copy(next.Products, e.Products)
	return next
}

package domain

import "time"

// OrderStatus é o estado de um pedido. O pedido é um agregado externo:
// o núcleo referencia e reage a ele, mas não é o dono do seu ciclo de vida.
type OrderStatus string

const (
	OrderStatusNew          OrderStatus = "new"
	OrderStatusPackage      OrderStatus = "package"
	OrderStatusExtradition  OrderStatus = "extradition" // Pronto para expedição
	OrderStatusDelivery     OrderStatus = "delivery"    // Em entrega (caminho legado)
	OrderStatusCompleted    OrderStatus = "completed"   // Entregue
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusDecommission OrderStatus = "decommission" // Baixa / write-off
	OrderStatusReturn       OrderStatus = "return"       // Devolução (sub-pedido parcial)
)

// OrderProduct é uma linha de produto de um pedido.
type OrderProduct struct {
	Product  ProductIdentity `json:"product"`
	Quantity int             `json:"quantity"`
}

// Order é a visão local (somente leitura + avanço de status) do agregado
// de pedidos. ParentID aponta para o pedido original quando este é um
// sub-pedido de devolução parcial.
type Order struct {
	ID        string         `json:"id"`
	ParentID  *string        `json:"parent_id,omitempty"`
	Status    OrderStatus    `json:"status"`
	ProfileID string         `json:"profile_id"`
	UserID    string         `json:"user_id"`
	Number    string         `json:"number"`
	Products  []OrderProduct `json:"products"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

package orderrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stocksync/internal/domain"
	"stocksync/internal/errors"
	"stocksync/internal/pkg/logger"
)

// OrderRepository é a visão local do agregado externo de pedidos: leitura
// do estado autoritativo, avanço de status e criação de sub-pedidos de
// devolução parcial. O ciclo de vida completo do pedido pertence a outro
// sistema; aqui só existe o que a saga precisa.
type OrderRepository struct {
	DB        *sql.DB
	DBTimeout time.Duration
	logger    logger.Logger
}

// NewOrderRepository cria e retorna uma nova instância do repositório.
func NewOrderRepository(db *sql.DB, dbTimeout time.Duration, log logger.Logger) *OrderRepository {
	return &OrderRepository{
		DB:        db,
		DBTimeout: dbTimeout,
		logger:    log,
	}
}

const orderColumns = `id, parent_id, status, profile_id, usr, number, products, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (domain.Order, error) {
	var o domain.Order
	var parentID sql.NullString
	var status string
	var products []byte

	err := row.Scan(&o.ID, &parentID, &status, &o.ProfileID, &o.UserID, &o.Number, &products, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	o.Status = domain.OrderStatus(status)
	if parentID.Valid {
		p := parentID.String
		o.ParentID = &p
	}
	if err := json.Unmarshal(products, &o.Products); err != nil {
		return domain.Order{}, fmt.Errorf("falha ao desserializar linhas do pedido: %w", err)
	}
	return o, nil
}

// FindByID busca o estado atual e autoritativo do pedido. "Não encontrado"
// é um desfecho definido (NotFoundError), nunca uma exceção inesperada.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.DB.QueryRowContext(ctxTimeout, query, orderID))
	if err == sql.ErrNoRows {
		return domain.Order{}, errors.NewNotFoundError(fmt.Sprintf("Pedido %s inexistente.", orderID))
	}
	if err != nil {
		r.logger.Error("Falha ao buscar pedido.", err)
		return domain.Order{}, errors.NewDBError("Falha ao buscar pedido", err)
	}
	return o, nil
}

// UpdateStatus avança o status do pedido e devolve o agregado atualizado.
// Pedido inexistente é NotFound — o chamador decide se isso é precondição
// ou falha de downstream.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        UPDATE orders SET status = $1, updated_at = $2
        WHERE id = $3
        RETURNING ` + orderColumns

	o, err := scanOrder(r.DB.QueryRowContext(ctxTimeout, query, string(status), time.Now(), orderID))
	if err == sql.ErrNoRows {
		return domain.Order{}, errors.NewNotFoundError(fmt.Sprintf("Pedido %s inexistente.", orderID))
	}
	if err != nil {
		r.logger.Error("Falha ao avançar status do pedido.", err)
		return domain.Order{}, errors.NewDBError("Falha ao avançar status do pedido", err)
	}

	r.logger.Info("Status do pedido avançado.", map[string]interface{}{
		"order_id": orderID,
		"status":   string(status),
	})
	return o, nil
}

// CreatePartialReturn cria o sub-pedido de devolução parcial restrito à
// linha e quantidade alteradas, vinculado ao pedido original.
func (r *OrderRepository) CreatePartialReturn(ctx context.Context, parent domain.Order, product domain.ProductIdentity, quantity int) (domain.Order, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	now := time.Now()
	sub := domain.Order{
		ID:        uuid.New().String(),
		ParentID:  &parent.ID,
		Status:    domain.OrderStatusReturn,
		ProfileID: parent.ProfileID,
		UserID:    parent.UserID,
		Number:    fmt.Sprintf("%s-R", parent.Number),
		Products:  []domain.OrderProduct{{Product: product, Quantity: quantity}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	products, err := json.Marshal(sub.Products)
	if err != nil {
		return domain.Order{}, errors.NewInternalError("Falha ao serializar linhas do sub-pedido", err)
	}

	query := `
        INSERT INTO orders (` + orderColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.DB.ExecContext(ctxTimeout, query,
		sub.ID, sub.ParentID, string(sub.Status), sub.ProfileID, sub.UserID, sub.Number, products,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Falha ao criar sub-pedido de devolução.", err)
		return domain.Order{}, errors.NewDBError("Falha ao criar sub-pedido de devolução", err)
	}

	r.logger.Info("Sub-pedido de devolução parcial criado.", map[string]interface{}{
		"order_id":   sub.ID,
		"parent_id":  parent.ID,
		"product_id": product.ProductID,
		"quantity":   quantity,
	})
	return sub, nil
}

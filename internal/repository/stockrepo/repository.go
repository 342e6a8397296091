package stockrepo

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

// StockRepository persiste as requisições de estoque como agregados
// event-sourced: a tabela stocks guarda apenas (id do agregado -> id do
// snapshot atual), e stock_events guarda os snapshots imutáveis encadeados
// pelo previous_id. Um snapshot nunca é editado: avanço de estado é sempre
// um novo append que supersede o anterior.
type StockRepository struct {
	DB        *sql.DB
	DBTimeout time.Duration
	logger    logger.Logger
}

// NewStockRepository cria e retorna uma nova instância do repositório.
func NewStockRepository(db *sql.DB, dbTimeout time.Duration, log logger.Logger) *StockRepository {
	return &StockRepository{
		DB:        db,
		DBTimeout: dbTimeout,
		logger:    log,
	}
}

const eventColumns = `id, stock_id, previous_id, status, order_id, move_to_profile_id,
        profile_id, usr, number, products, comment, created_at`

// scanEvent lê uma linha de stock_events em domain.StockEvent.
func scanEvent(row interface{ Scan(...interface{}) error }) (domain.StockEvent, error) {
	var e domain.StockEvent
	var previousID, orderID, moveTo, comment sql.NullString
	var products []byte
	var status string

	err := row.Scan(
		&e.ID, &e.StockID, &previousID, &status, &orderID, &moveTo,
		&e.ProfileID, &e.UserID, &e.Number, &products, &comment, &e.CreatedAt,
	)
	if err != nil {
		return domain.StockEvent{}, err
	}

	e.Status = domain.StockStatus(status)
	e.PreviousID = fromNull(previousID)
	e.OrderID = fromNull(orderID)
	e.MoveToProfileID = fromNull(moveTo)
	e.Comment = fromNull(comment)

	if err := json.Unmarshal(products, &e.Products); err != nil {
		return domain.StockEvent{}, fmt.Errorf("falha ao desserializar coleção de produtos: %w", err)
	}
	return e, nil
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toNull(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// FindEvent busca um snapshot pelo seu id. "Não encontrado" é um desfecho
// definido: os handlers o tratam como precondição não atendida.
func (r *StockRepository) FindEvent(ctx context.Context, eventID string) (domain.StockEvent, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `SELECT ` + eventColumns + ` FROM stock_events WHERE id = $1`

	e, err := scanEvent(r.DB.QueryRowContext(ctxTimeout, query, eventID))
	if err == sql.ErrNoRows {
		return domain.StockEvent{}, errors.NewNotFoundError(fmt.Sprintf("Evento de estoque %s inexistente.", eventID))
	}
	if err != nil {
		r.logger.Error("Falha ao buscar evento de estoque.", err)
		return domain.StockEvent{}, errors.NewDBError("Falha ao buscar evento de estoque", err)
	}
	return e, nil
}

// FindCurrentEvent busca o snapshot atual (o último) da requisição.
func (r *StockRepository) FindCurrentEvent(ctx context.Context, stockID string) (domain.StockEvent, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT ` + eventColumns + `
        FROM stock_events e
        JOIN stocks s ON s.current_event_id = e.id
        WHERE s.id = $1`

	e, err := scanEvent(r.DB.QueryRowContext(ctxTimeout, query, stockID))
	if err == sql.ErrNoRows {
		return domain.StockEvent{}, errors.NewNotFoundError(fmt.Sprintf("Requisição de estoque %s inexistente.", stockID))
	}
	if err != nil {
		r.logger.Error("Falha ao buscar evento atual da requisição.", err)
		return domain.StockEvent{}, errors.NewDBError("Falha ao buscar evento atual", err)
	}
	return e, nil
}

// FindCurrentByOrder lista o snapshot atual de todas as requisições
// vinculadas ao pedido. Lista vazia é um desfecho definido.
func (r *StockRepository) FindCurrentByOrder(ctx context.Context, orderID string) ([]domain.StockEvent, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT ` + eventColumns + `
        FROM stock_events e
        JOIN stocks s ON s.current_event_id = e.id
        WHERE e.order_id = $1
        ORDER BY e.created_at`

	rows, err := r.DB.QueryContext(ctxTimeout, query, orderID)
	if err != nil {
		r.logger.Error("Falha ao buscar requisições do pedido.", err)
		return nil, errors.NewDBError("Falha ao buscar requisições do pedido", err)
	}
	defer rows.Close()

	var events []domain.StockEvent
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, errors.NewDBError("Falha ao ler evento de estoque", scanErr)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBError("Falha ao iterar eventos de estoque", err)
	}
	return events, nil
}

// AppendEvent anexa um novo snapshot ao agregado e avança o ponteiro
// "atual". Se o evento não referencia um agregado existente (StockID vazio),
// um novo agregado é criado. O encadeamento previous_id é resolvido aqui,
// sob o lock do ponteiro, para que appends concorrentes nunca bifurquem a
// cadeia de snapshots.
func (r *StockRepository) AppendEvent(ctx context.Context, e domain.StockEvent) (domain.StockEvent, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctxTimeout, nil)
	if err != nil {
		r.logger.Error("Falha ao iniciar transação de append.", err)
		return domain.StockEvent{}, errors.NewDBError("Falha ao iniciar transação", err)
	}
	defer tx.Rollback()

	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()

	isNew := e.StockID == ""
	if isNew {
		// Novo agregado
		e.StockID = uuid.New().String()
		e.PreviousID = nil
	} else {
		// Agregado existente: trava o ponteiro e encadeia o snapshot atual
		var currentID string
		err := tx.QueryRowContext(ctxTimeout,
			`SELECT current_event_id FROM stocks WHERE id = $1 FOR UPDATE`, e.StockID).Scan(&currentID)
		if err == sql.ErrNoRows {
			return domain.StockEvent{}, errors.NewNotFoundError(fmt.Sprintf("Requisição de estoque %s inexistente.", e.StockID))
		}
		if err != nil {
			r.logger.Error("Falha ao travar ponteiro do agregado.", err)
			return domain.StockEvent{}, errors.NewDBError("Falha ao travar requisição", err)
		}
		e.PreviousID = &currentID
	}

	products, err := json.Marshal(e.Products)
	if err != nil {
		return domain.StockEvent{}, errors.NewInternalError("Falha ao serializar coleção de produtos", err)
	}

	// O snapshot entra antes do ponteiro: stocks.current_event_id referencia
	// stock_events.id.
	queryInsert := `
        INSERT INTO stock_events (` + eventColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = tx.ExecContext(ctxTimeout, queryInsert,
		e.ID, e.StockID, toNull(e.PreviousID), string(e.Status), toNull(e.OrderID), toNull(e.MoveToProfileID),
		e.ProfileID, e.UserID, e.Number, products, toNull(e.Comment), e.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Falha ao inserir snapshot de evento.", err)
		return domain.StockEvent{}, errors.NewDBError("Falha ao inserir evento de estoque", err)
	}

	if isNew {
		if _, err := tx.ExecContext(ctxTimeout,
			`INSERT INTO stocks (id, current_event_id) VALUES ($1, $2)`, e.StockID, e.ID); err != nil {
			r.logger.Error("Falha ao criar agregado de requisição.", err)
			return domain.StockEvent{}, errors.NewDBError("Falha ao criar requisição", err)
		}
	} else {
		if _, err := tx.ExecContext(ctxTimeout,
			`UPDATE stocks SET current_event_id = $1 WHERE id = $2`, e.ID, e.StockID); err != nil {
			r.logger.Error("Falha ao avançar ponteiro do agregado.", err)
			return domain.StockEvent{}, errors.NewDBError("Falha ao avançar requisição", err)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		r.logger.Error("Falha ao commitar append de evento.", commitErr)
		return domain.StockEvent{}, errors.NewDBError("Falha ao commitar transação", commitErr)
	}

	r.logger.Debug("Snapshot de evento anexado.", map[string]interface{}{
		"stock_id": e.StockID,
		"event_id": e.ID,
		"status":   string(e.Status),
	})
	return e, nil
}

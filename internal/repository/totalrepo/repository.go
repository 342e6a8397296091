package totalrepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stocksync/internal/domain"
	"stocksync/internal/errors"
	"stocksync/internal/pkg/logger"
)

// TotalRepository é a camada de persistência do livro-razão de estoque
// (stock_totals) e do seu journal histórico (stock_transactions).
// Toda mutação passa por ApplyDelta, que valida o invariante
// 0 <= reserve <= total dentro da mesma transação que grava o journal.
type TotalRepository struct {
	DB        *sql.DB
	DBTimeout time.Duration
	logger    logger.Logger
}

// NewTotalRepository cria e retorna uma nova instância do repositório.
func NewTotalRepository(db *sql.DB, dbTimeout time.Duration, log logger.Logger) *TotalRepository {
	return &TotalRepository{
		DB:        db,
		DBTimeout: dbTimeout,
		logger:    log,
	}
}

const totalColumns = `id, profile_id, product_id, offer_id, variation_id, modification_id,
        storage, total, reserve, comment, priority, usr, created_at, updated_at`

// scanTotal lê uma linha de stock_totals em domain.StockTotal.
func scanTotal(row interface{ Scan(...interface{}) error }) (domain.StockTotal, error) {
	var t domain.StockTotal
	var offer, variation, modification, storage, comment sql.NullString
	err := row.Scan(
		&t.ID, &t.ProfileID, &t.Product.ProductID, &offer, &variation, &modification,
		&storage, &t.Total, &t.Reserve, &comment, &t.Priority, &t.UserID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.StockTotal{}, err
	}
	t.Product.OfferID = fromNull(offer)
	t.Product.VariationID = fromNull(variation)
	t.Product.ModificationID = fromNull(modification)
	t.Storage = fromNull(storage)
	t.Comment = fromNull(comment)
	return t, nil
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

// FindByStorage busca a linha do livro-razão para a tupla perfil/produto no
// local de armazenamento informado. Sub-identificadores nil casam somente
// com NULL (IS NOT DISTINCT FROM), nunca com valores presentes.
// "Não encontrado" é um desfecho definido (NotFoundError), não uma falha.
func (r *TotalRepository) FindByStorage(ctx context.Context, profileID string, product domain.ProductIdentity, storage *string) (domain.StockTotal, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT ` + totalColumns + `
        FROM stock_totals
        WHERE profile_id = $1
          AND product_id = $2
          AND offer_id IS NOT DISTINCT FROM $3
          AND variation_id IS NOT DISTINCT FROM $4
          AND modification_id IS NOT DISTINCT FROM $5
          AND storage IS NOT DISTINCT FROM $6`

	row := r.DB.QueryRowContext(ctxTimeout, query,
		profileID, product.ProductID,
		toNull(product.OfferID), toNull(product.VariationID), toNull(product.ModificationID),
		toNull(storage),
	)

	t, err := scanTotal(row)
	if err == sql.ErrNoRows {
		return domain.StockTotal{}, errors.NewNotFoundError(
			fmt.Sprintf("Linha de estoque inexistente para produto %s no perfil %s.", product.ProductID, profileID))
	}
	if err != nil {
		r.logger.Error("Falha ao buscar linha do livro-razão.", err)
		return domain.StockTotal{}, errors.NewDBError("Falha ao buscar linha de estoque", err)
	}
	return t, nil
}

// CountBins conta os locais de armazenamento existentes para a tupla
// perfil/produto. O alocador usa a contagem para decidir entre uma operação
// única (1 local) e N operações unitárias (mais de um local).
func (r *TotalRepository) CountBins(ctx context.Context, profileID string, product domain.ProductIdentity) (int, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT COUNT(*)
        FROM stock_totals
        WHERE profile_id = $1
          AND product_id = $2
          AND offer_id IS NOT DISTINCT FROM $3
          AND variation_id IS NOT DISTINCT FROM $4
          AND modification_id IS NOT DISTINCT FROM $5`

	var count int
	err := r.DB.QueryRowContext(ctxTimeout, query,
		profileID, product.ProductID,
		toNull(product.OfferID), toNull(product.VariationID), toNull(product.ModificationID),
	).Scan(&count)
	if err != nil {
		r.logger.Error("Falha ao contar locais de armazenamento.", err)
		return 0, errors.NewDBError("Falha ao contar locais de armazenamento", err)
	}
	return count, nil
}

// FindBins lista os locais de armazenamento da tupla perfil/produto,
// ordenados do menor total para o maior — a ordem em que a pressão de
// reserva é distribuída.
func (r *TotalRepository) FindBins(ctx context.Context, profileID string, product domain.ProductIdentity) ([]domain.StockTotal, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT ` + totalColumns + `
        FROM stock_totals
        WHERE profile_id = $1
          AND product_id = $2
          AND offer_id IS NOT DISTINCT FROM $3
          AND variation_id IS NOT DISTINCT FROM $4
          AND modification_id IS NOT DISTINCT FROM $5
        ORDER BY total ASC, id ASC`

	rows, err := r.DB.QueryContext(ctxTimeout, query,
		profileID, product.ProductID,
		toNull(product.OfferID), toNull(product.VariationID), toNull(product.ModificationID),
	)
	if err != nil {
		r.logger.Error("Falha ao listar locais de armazenamento.", err)
		return nil, errors.NewDBError("Falha ao listar locais de armazenamento", err)
	}
	defer rows.Close()

	var totals []domain.StockTotal
	for rows.Next() {
		t, scanErr := scanTotal(rows)
		if scanErr != nil {
			return nil, errors.NewDBError("Falha ao ler linha de estoque", scanErr)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBError("Falha ao iterar linhas de estoque", err)
	}
	return totals, nil
}

// Create insere uma nova linha do livro-razão. Usada na criação preguiçosa
// de locais (primeiro recebimento, ou recuperação de drift em liberações).
func (r *TotalRepository) Create(ctx context.Context, t domain.StockTotal) (domain.StockTotal, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
        INSERT INTO stock_totals (` + totalColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.DB.ExecContext(ctxTimeout, query,
		t.ID, t.ProfileID, t.Product.ProductID,
		toNull(t.Product.OfferID), toNull(t.Product.VariationID), toNull(t.Product.ModificationID),
		toNull(t.Storage), t.Total, t.Reserve, toNull(t.Comment), t.Priority, t.UserID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Falha ao criar linha do livro-razão.", err)
		return domain.StockTotal{}, errors.NewDBError("Falha ao criar linha de estoque", err)
	}

	// Linha criada com quantidades iniciais também ganha registro no journal
	// (caminho de recuperação de drift), para que a soma das transações
	// continue reproduzindo o estado atual.
	if t.Total != 0 || t.Reserve != 0 {
		if err := r.insertTransaction(ctxTimeout, r.DB, t.ID, t.Total, t.Reserve, "create"); err != nil {
			return domain.StockTotal{}, err
		}
	}

	r.logger.Info("Nova linha do livro-razão criada.", map[string]interface{}{
		"total_id":   t.ID,
		"profile_id": t.ProfileID,
		"product_id": t.Product.ProductID,
		"total":      t.Total,
		"reserve":    t.Reserve,
	})
	return t, nil
}

// execer cobre *sql.DB e *sql.Tx para o insert do journal.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *TotalRepository) insertTransaction(ctx context.Context, db execer, totalID string, deltaTotal, deltaReserve int, reason string) error {
	query := `
        INSERT INTO stock_transactions (id, total_id, delta_total, delta_reserve, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.ExecContext(ctx, query, uuid.New().String(), totalID, deltaTotal, deltaReserve, reason, time.Now())
	if err != nil {
		r.logger.Error("Falha ao gravar transação no journal de estoque.", err)
		return errors.NewDBError("Falha ao gravar transação de estoque", err)
	}
	return nil
}

// ApplyDelta aplica atomicamente um par de deltas (total, reserve) à linha,
// gravando a transação correspondente no journal dentro da mesma transação
// de banco. Se o resultado violar o invariante 0 <= reserve <= total, nada
// é gravado e um IntegrityError é retornado: esses deltas são pré-calculados
// pelo chamador e certificados no momento da alocação, então a violação é
// um erro de contrato de programação, não uma condição recuperável.
func (r *TotalRepository) ApplyDelta(ctx context.Context, totalID string, deltaTotal, deltaReserve int, reason string) (domain.StockTotal, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	tx, err := r.DB.BeginTx(ctxTimeout, nil)
	if err != nil {
		r.logger.Error("Falha ao iniciar transação para mutação de estoque.", err)
		return domain.StockTotal{}, errors.NewDBError("Falha ao iniciar transação", err)
	}
	defer tx.Rollback() // Rollback em caso de erro

	// 1. Trava a linha pelo id (FOR UPDATE) e lê o estado atual
	querySelect := `
        SELECT ` + totalColumns + `
        FROM stock_totals
        WHERE id = $1 FOR UPDATE`

	current, err := scanTotal(tx.QueryRowContext(ctxTimeout, querySelect, totalID))
	if err == sql.ErrNoRows {
		return domain.StockTotal{}, errors.NewNotFoundError(fmt.Sprintf("Linha de estoque %s inexistente.", totalID))
	}
	if err != nil {
		r.logger.Error("Falha ao travar linha do livro-razão para mutação.", err)
		return domain.StockTotal{}, errors.NewDBError("Falha ao buscar linha para mutação", err)
	}

	// 2. Valida o invariante ANTES de qualquer escrita
	if !current.CheckInvariant(deltaTotal, deltaReserve) {
		r.logger.Critical("Mutação violaria o invariante do livro-razão; operação abortada.", nil, map[string]interface{}{
			"total_id":      totalID,
			"profile_id":    current.ProfileID,
			"product_id":    current.Product.ProductID,
			"total":         current.Total,
			"reserve":       current.Reserve,
			"delta_total":   deltaTotal,
			"delta_reserve": deltaReserve,
			"reason":        reason,
		})
		return domain.StockTotal{}, errors.NewIntegrityError(
			fmt.Sprintf("Delta (%d, %d) inválido para linha %s com total=%d reserve=%d.",
				deltaTotal, deltaReserve, totalID, current.Total, current.Reserve))
	}

	// 3. Aplica o delta e grava o journal na mesma transação
	queryUpdate := `
        UPDATE stock_totals
        SET total = total + $1, reserve = reserve + $2, updated_at = $3
        WHERE id = $4`

	if _, err := tx.ExecContext(ctxTimeout, queryUpdate, deltaTotal, deltaReserve, time.Now(), totalID); err != nil {
		r.logger.Error("Falha ao atualizar linha do livro-razão.", err)
		return domain.StockTotal{}, errors.NewDBError("Falha ao atualizar linha de estoque", err)
	}

	if err := r.insertTransaction(ctxTimeout, tx, totalID, deltaTotal, deltaReserve, reason); err != nil {
		return domain.StockTotal{}, err
	}

	// 4. Commita a transação
	if commitErr := tx.Commit(); commitErr != nil {
		r.logger.Error("Falha ao commitar mutação de estoque.", commitErr)
		return domain.StockTotal{}, errors.NewDBError("Falha ao commitar transação", commitErr)
	}

	current.Total += deltaTotal
	current.Reserve += deltaReserve
	current.UpdatedAt = time.Now()
	return current, nil
}

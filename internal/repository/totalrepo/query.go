package totalrepo

import (
	"context"

	"stocksync/internal/domain"
	"stocksync/internal/errors"
)

// Superfície de consulta read-only do livro-razão: consumida pela API de
// consulta e pelos jobs de verificação. Nenhum método aqui muta estado.

// FindFiltered lista linhas do livro-razão segundo o filtro informado.
func (r *TotalRepository) FindFiltered(ctx context.Context, filter domain.TotalFilter) ([]domain.StockTotal, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
        SELECT ` + totalColumns + `
        FROM stock_totals
        WHERE ($1 = '' OR profile_id = $1)
          AND ($2 = '' OR product_id = $2)
        ORDER BY profile_id, product_id, total ASC
        LIMIT $3`

	rows, err := r.DB.QueryContext(ctxTimeout, query, filter.ProfileID, filter.ProductID, limit)
	if err != nil {
		r.logger.Error("Falha na consulta filtrada do livro-razão.", err)
		return nil, errors.NewDBError("Falha ao consultar linhas de estoque", err)
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

// SumTotalByProduct soma o total disponível de todas as linhas do produto,
// em todos os perfis — o valor exibido no cartão do produto.
func (r *TotalRepository) SumTotalByProduct(ctx context.Context, productID string) (int, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT COALESCE(SUM(total - reserve), 0)
        FROM stock_totals
        WHERE product_id = $1`

	var sum int
	if err := r.DB.QueryRowContext(ctxTimeout, query, productID).Scan(&sum); err != nil {
		r.logger.Error("Falha ao somar totais do produto.", err)
		return 0, errors.NewDBError("Falha ao somar totais do produto", err)
	}
	return sum, nil
}

// ListTotals devolve todas as linhas do livro-razão (job de verificação).
func (r *TotalRepository) ListTotals(ctx context.Context) ([]domain.StockTotal, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	rows, err := r.DB.QueryContext(ctxTimeout, `SELECT `+totalColumns+` FROM stock_totals ORDER BY id`)
	if err != nil {
		r.logger.Error("Falha ao listar linhas do livro-razão.", err)
		return nil, errors.NewDBError("Falha ao listar linhas de estoque", err)
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

// SumTransactions soma o journal de uma linha do livro-razão. A comparação
// com o par (total, reserve) atual é o cheque de consistência do verify.
func (r *TotalRepository) SumTransactions(ctx context.Context, totalID string) (sumTotal, sumReserve int, err error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	query := `
        SELECT COALESCE(SUM(delta_total), 0), COALESCE(SUM(delta_reserve), 0)
        FROM stock_transactions
        WHERE total_id = $1`

	if err := r.DB.QueryRowContext(ctxTimeout, query, totalID).Scan(&sumTotal, &sumReserve); err != nil {
		r.logger.Error("Falha ao somar journal de transações.", err)
		return 0, 0, errors.NewDBError("Falha ao somar transações de estoque", err)
	}
	return sumTotal, sumReserve, nil
}

// ListProductIDs devolve os produtos distintos presentes no livro-razão.
func (r *TotalRepository) ListProductIDs(ctx context.Context) ([]string, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, r.DBTimeout)
	defer cancel()

	rows, err := r.DB.QueryContext(ctxTimeout, `SELECT DISTINCT product_id FROM stock_totals ORDER BY product_id`)
	if err != nil {
		r.logger.Error("Falha ao listar produtos do livro-razão.", err)
		return nil, errors.NewDBError("Falha ao listar produtos", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewDBError("Falha ao ler produto", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDBError("Falha ao iterar produtos", err)
	}
	return ids, nil
}

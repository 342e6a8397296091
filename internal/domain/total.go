package domain

import "time"

// StockTotal representa uma linha do livro-razão de estoque: a quantidade
// física (Total) e a quantidade reservada (Reserve) de uma variante de
// produto em um local de armazenamento de um perfil de armazém.
// Invariante: 0 <= Reserve <= Total, sempre.
type StockTotal struct {
	ID        string          `json:"id"`
	ProfileID string          `json:"profile_id"`
	Product   ProductIdentity `json:"product"`
	Storage   *string         `json:"storage,omitempty"` // Local físico (prateleira, corredor); nil = sem local declarado
	Total     int             `json:"total"`
	Reserve   int             `json:"reserve"`
	Comment   *string         `json:"comment,omitempty"`
	Priority  bool            `json:"priority"`
	UserID    string          `json:"user_id"` // Usuário dono (vinculado ao perfil)
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Available retorna a quantidade livre para novas reservas.
func (t StockTotal) Available() int {
	return t.Total - t.Reserve
}

// CheckInvariant valida o invariante do livro-razão após aplicar os deltas.
// Retorna false quando a mutação violaria 0 <= reserve <= total.
func (t StockTotal) CheckInvariant(deltaTotal, deltaReserve int) bool {
	newTotal := t.Total + deltaTotal
	newReserve := t.Reserve + deltaReserve
	return newTotal >= 0 && newReserve >= 0 && newReserve <= newTotal
}

// StockTransaction é o registro histórico (journal) de cada mutação aplicada
// a uma linha do livro-razão. A soma das transações de uma linha deve sempre
// reproduzir o par (total, reserve) atual — é isso que o job de verificação
// confere.
type StockTransaction struct {
	ID           string    `json:"id"`
	TotalID      string    `json:"total_id"`
	DeltaTotal   int       `json:"delta_total"`
	DeltaReserve int       `json:"delta_reserve"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// TotalFilter define os parâmetros da consulta read-only do livro-razão.
type TotalFilter struct {
	ProfileID string
	ProductID string
	Limit     int
}

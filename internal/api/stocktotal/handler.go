package stocktotal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/logger"
)

// Query define o contrato read-only que o Handler espera do livro-razão.
// Relatórios, exports e telas administrativas consomem o estoque
// exclusivamente por esta superfície de consulta.
type Query interface {
	FindFiltered(ctx context.Context, filter domain.TotalFilter) ([]domain.StockTotal, error)
}

// Handler agrupa os métodos de consulta do livro-razão.
type Handler struct {
	Query  Query
	Logger logger.Logger
}

// NewHandler cria uma nova instância do Handler, injetando a consulta e o Logger.
func NewHandler(query Query, log logger.Logger) *Handler {
	return &Handler{
		Query:  query,
		Logger: log,
	}
}

// handleResponse processa erros e envia respostas padronizadas ao cliente.
func (h *Handler) handleResponse(w http.ResponseWriter, r *http.Request, data interface{}, err error) {
	if err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if jsonErr := json.NewEncoder(w).Encode(data); jsonErr != nil {
			h.Logger.Error("Falha ao codificar JSON de resposta", jsonErr)
		}
		return
	}

	status, category, message := apperror.MapToHTTPStatus(err)
	if status >= 500 {
		h.Logger.Error(fmt.Sprintf("Erro de Servidor: %s", category), err)
	} else {
		h.Logger.Debug(fmt.Sprintf("Requisição rejeitada com status %d. Categoria: %s", status, category), map[string]interface{}{"path": r.URL.Path})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":     status,
		"category": category,
		"message":  message,
	})
}

// ListTotalsHandler lida com GET /v1/stocks/totals?profile=&product=&limit=.
func (h *Handler) ListTotalsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.handleResponse(w, r, nil, apperror.NewValidationError("Parâmetro 'limit' deve ser um inteiro."))
			return
		}
		limit = parsed
	}

	filter := domain.TotalFilter{
		ProfileID: r.URL.Query().Get("profile"),
		ProductID: r.URL.Query().Get("product"),
		Limit:     limit,
	}

	totals, err := h.Query.FindFiltered(r.Context(), filter)
	h.handleResponse(w, r, totals, err)
}

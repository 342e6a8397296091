package stockrequest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"stocksync/internal/domain"
	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/logger"
)

// Query define o contrato read-only que o Handler espera das requisições
// de estoque: o snapshot de evento atual de um agregado.
type Query interface {
	FindCurrentEvent(ctx context.Context, stockID string) (domain.StockEvent, error)
}

// Handler agrupa os métodos de consulta das requisições de estoque.
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

// GetCurrentHandler lida com GET /v1/stocks/requests?id={stockID}:
// devolve o snapshot de evento ATUAL da requisição (status, produtos,
// encadeamento com o evento anterior).
func (h *Handler) GetCurrentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}

	stockID := r.URL.Query().Get("id")
	if stockID == "" {
		h.handleResponse(w, r, nil, apperror.NewValidationError("O parâmetro 'id' é obrigatório."))
		return
	}

	event, err := h.Query.FindCurrentEvent(r.Context(), stockID)
	h.handleResponse(w, r, event, err)
}

package router

import (
	"net/http"

	"stocksync/internal/api/stockrequest"
	"stocksync/internal/api/stocktotal"
)

// NewRouter configura e retorna o roteador HTTP da superfície de consulta
// read-only. Recebe os Handlers já inicializados por injeção de dependências.
func NewRouter(totalHandler *stocktotal.Handler, requestHandler *stockrequest.Handler) http.Handler {

	// Usamos o ServeMux padrão do net/http para roteamento
	mux := http.NewServeMux()

	// --- 1. Rotas de Health Check ---
	mux.HandleFunc("/ping", PingHandler)

	// --- 2. Consulta do Livro-Razão (v1) ---

	// GET /v1/stocks/totals (linhas atuais do livro-razão, filtráveis)
	mux.HandleFunc("/v1/stocks/totals", totalHandler.ListTotalsHandler)

	// GET /v1/stocks/requests?id={stockID} (snapshot atual da requisição)
	mux.HandleFunc("/v1/stocks/requests", requestHandler.GetCurrentHandler)

	return mux
}

// PingHandler é uma função utilitária para o health check.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

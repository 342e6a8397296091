package errors

import (
	"fmt"
	"net/http"
)

// AppError é a interface central para todos os erros customizados do núcleo.
// Ela permite que o código externo (handlers de mensagem, API de consulta)
// acesse a Categoria e a Mensagem do erro.
type AppError interface {
	Error() string    // Implementa a interface error padrão do Go
	Category() string // Categoria do erro (e.g., "NOT_FOUND", "INTEGRITY")
	HTTPStatus() int  // Código HTTP sugerido para a API de consulta
	Unwrap() error    // Permite encapsular erros subjacentes (original error)
}

// --- Tipos de Erro Específicos (Erros de Domínio) ---

// ValidationError representa falhas de validação de dados de entrada.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string    { return fmt.Sprintf("Erro de Validação: %s", e.Msg) }
func (e *ValidationError) Category() string { return "VALIDATION_ERROR" }
func (e *ValidationError) HTTPStatus() int  { return http.StatusBadRequest }
func (e *ValidationError) Unwrap() error    { return nil }

// NewValidationError cria um novo erro de validação.
func NewValidationError(msg string) AppError {
	return &ValidationError{Msg: msg}
}

// NotFoundError representa a ausência de um recurso solicitado.
// Nos colaboradores de leitura do núcleo, "não encontrado" é um desfecho
// definido e esperado — os handlers o tratam como precondição não atendida.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string    { return fmt.Sprintf("Recurso não encontrado: %s", e.Msg) }
func (e *NotFoundError) Category() string { return "NOT_FOUND" }
func (e *NotFoundError) HTTPStatus() int  { return http.StatusNotFound }
func (e *NotFoundError) Unwrap() error    { return nil }

// NewNotFoundError cria um novo erro de recurso não encontrado.
func NewNotFoundError(msg string) AppError {
	return &NotFoundError{Msg: msg}
}

// PreconditionError indica que o handler não deve agir: agregado/evento
// referenciado inexistente ou status errado para a transição. Não é uma
// falha — o handler registra e retorna sem efeito, sem reentrega.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string    { return fmt.Sprintf("Precondição não atendida: %s", e.Msg) }
func (e *PreconditionError) Category() string { return "PRECONDITION" }
func (e *PreconditionError) HTTPStatus() int  { return http.StatusConflict }
func (e *PreconditionError) Unwrap() error    { return nil }

// NewPreconditionError cria um novo erro de precondição.
func NewPreconditionError(msg string) AppError {
	return &PreconditionError{Msg: msg}
}

// ConflictError representa um conflito na regra de negócio (e.g., OCC).
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string    { return fmt.Sprintf("Conflito de estado: %s", e.Msg) }
func (e *ConflictError) Category() string { return "CONFLICT" }
func (e *ConflictError) HTTPStatus() int  { return http.StatusConflict }
func (e *ConflictError) Unwrap() error    { return nil }

// NewConflictError cria um novo erro de conflito.
func NewConflictError(msg string) AppError {
	return &ConflictError{Msg: msg}
}

// IntegrityError representa uma violação de contrato de dados: o invariante
// do livro-razão seria quebrado, ou falta o vínculo usuário/perfil exigido
// para criar um local. É logado como crítico, a operação é abortada sem
// mutação parcial e o registro de deduplicação NÃO é salvo, para que uma
// reentrega corrigida possa prosseguir.
type IntegrityError struct {
	Msg string
}

func (e *IntegrityError) Error() string    { return fmt.Sprintf("Violação de integridade: %s", e.Msg) }
func (e *IntegrityError) Category() string { return "INTEGRITY" }
func (e *IntegrityError) HTTPStatus() int  { return http.StatusUnprocessableEntity }
func (e *IntegrityError) Unwrap() error    { return nil }

// NewIntegrityError cria um novo erro de violação de integridade.
func NewIntegrityError(msg string) AppError {
	return &IntegrityError{Msg: msg}
}

// --- Tipos de Erro de Infraestrutura (Encapsulamento) ---

// InternalError representa falhas inesperadas no serviço ou repositório.
type InternalError struct {
	Msg string
	Err error // Erro original subjacente (e.g., erro do driver SQL)
}

func (e *InternalError) Error() string    { return fmt.Sprintf("Erro Interno: %s", e.Msg) }
func (e *InternalError) Category() string { return "INTERNAL_ERROR" }
func (e *InternalError) HTTPStatus() int  { return http.StatusInternalServerError }
func (e *InternalError) Unwrap() error    { return e.Err }

// NewInternalError cria um erro interno (para falhas não esperadas).
func NewInternalError(msg string, err error) AppError {
	return &InternalError{Msg: msg, Err: err}
}

// NewDBError é um atalho para criar um InternalError específico de falhas no DB.
func NewDBError(msg string, err error) AppError {
	return NewInternalError(fmt.Sprintf("%s (DB): %s", msg, err.Error()), err)
}

// --- Helpers de Classificação ---

// IsPrecondition indica se o erro é uma precondição não atendida
// (inclui NotFound dos colaboradores de leitura).
func IsPrecondition(err error) bool {
	switch err.(type) {
	case *PreconditionError, *NotFoundError:
		return true
	}
	return false
}

// MapToHTTPStatus recebe um erro e o traduz para o código HTTP e corpo de resposta.
func MapToHTTPStatus(err error) (int, string, string) {
	if appErr, ok := err.(AppError); ok {
		return appErr.HTTPStatus(), appErr.Category(), appErr.Error()
	}
	return http.StatusInternalServerError, "UNKNOWN_ERROR", "Ocorreu um erro inesperado."
}

package bus

import (
	"context"
	"sort"

	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/logger"
)

// HandlerFunc processa uma mensagem entregue pelo consumidor. O envelope
// completo é passado para que o handler use o ID da entrega como chave de
// deduplicação própria quando necessário.
type HandlerFunc func(ctx context.Context, env Envelope) error

// registration associa um handler a um tipo de mensagem com prioridade
// explícita. Prioridade menor executa primeiro: deduplicação e alocação de
// reserva rodam antes dos handlers de notificação/broadcast.
type registration struct {
	name     string
	priority int
	fn       HandlerFunc
}

// Registry mapeia tipos de mensagem para seus handlers, em ordem fixa de
// prioridade. Substitui as prioridades implícitas de listeners de framework
// por um campo explícito (ver notas de design do sistema).
type Registry struct {
	handlers map[string][]registration
	logger   logger.Logger
}

// NewRegistry cria um registro de handlers vazio.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		handlers: make(map[string][]registration),
		logger:   log,
	}
}

// Register adiciona um handler para o tipo de mensagem. O nome identifica o
// handler nos logs e nas chaves de deduplicação.
func (r *Registry) Register(msgType, name string, priority int, fn HandlerFunc) {
	regs := append(r.handlers[msgType], registration{name: name, priority: priority, fn: fn})
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].priority < regs[j].priority })
	r.handlers[msgType] = regs
}

// Dispatch entrega o envelope a todos os handlers registrados para o tipo,
// em ordem de prioridade.
//
// Precondição não atendida é um desfecho esperado: o handler é registrado
// como pulado e os demais continuam. Qualquer outro erro interrompe a
// cadeia e é devolvido ao consumidor, que NÃO confirma o offset — o broker
// reentrega e os handlers já aplicados são protegidos pela deduplicação.
func (r *Registry) Dispatch(ctx context.Context, env Envelope) error {
	regs, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("Mensagem sem handler registrado; ignorando.", map[string]interface{}{
			"type": env.Type,
			"id":   env.ID,
		})
		return nil
	}

	for _, reg := range regs {
		err := reg.fn(ctx, env)
		if err == nil {
			continue
		}

		if apperror.IsPrecondition(err) {
			r.logger.Info("Handler pulado: precondição não atendida.", map[string]interface{}{
				"handler": reg.name,
				"type":    env.Type,
				"id":      env.ID,
				"reason":  err.Error(),
			})
			continue
		}

		r.logger.Error("Handler falhou; mensagem será reentregue.", err)
		return err
	}

	return nil
}

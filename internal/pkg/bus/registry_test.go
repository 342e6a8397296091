package bus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	apperror "stocksync/internal/errors"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/logger"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger("fatal")
}

func TestDispatch_Success_RunsHandlersInPriorityOrder(t *testing.T) {
	registry := bus.NewRegistry(newTestLogger())

	var order []string
	// Registrado fora de ordem de propósito: a prioridade manda.
	registry.Register("stock.status-changed", "broadcast", 50, func(ctx context.Context, env bus.Envelope) error {
		order = append(order, "broadcast")
		return nil
	})
	registry.Register("stock.status-changed", "ledger", 10, func(ctx context.Context, env bus.Envelope) error {
		order = append(order, "ledger")
		return nil
	})

	err := registry.Dispatch(context.Background(), bus.Envelope{ID: "env-1", Type: "stock.status-changed"})

	assert.NoError(t, err)
	assert.Equal(t, []string{"ledger", "broadcast"}, order)
}

func TestDispatch_Success_PreconditionSkipsHandlerButContinues(t *testing.T) {
	registry := bus.NewRegistry(newTestLogger())

	var secondRan bool
	registry.Register("stock.status-changed", "first", 10, func(ctx context.Context, env bus.Envelope) error {
		return apperror.NewPreconditionError("evento inexistente")
	})
	registry.Register("stock.status-changed", "second", 20, func(ctx context.Context, env bus.Envelope) error {
		secondRan = true
		return nil
	})

	err := registry.Dispatch(context.Background(), bus.Envelope{ID: "env-1", Type: "stock.status-changed"})

	assert.NoError(t, err)
	assert.True(t, secondRan)
}

func TestDispatch_Fail_ErrorAbortsChain(t *testing.T) {
	registry := bus.NewRegistry(newTestLogger())

	var secondRan bool
	registry.Register("stock.status-changed", "first", 10, func(ctx context.Context, env bus.Envelope) error {
		return assert.AnError
	})
	registry.Register("stock.status-changed", "second", 20, func(ctx context.Context, env bus.Envelope) error {
		secondRan = true
		return nil
	})

	err := registry.Dispatch(context.Background(), bus.Envelope{ID: "env-1", Type: "stock.status-changed"})

	assert.Error(t, err)
	assert.False(t, secondRan)
}

func TestDispatch_Success_UnknownTypeIsIgnored(t *testing.T) {
	registry := bus.NewRegistry(newTestLogger())

	err := registry.Dispatch(context.Background(), bus.Envelope{ID: "env-1", Type: "unknown.type"})

	assert.NoError(t, err)
}

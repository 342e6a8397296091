package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"stocksync/internal/pkg/logger"
)

// Consumer lê um tópico em loop e despacha cada envelope pelo Registry.
// Entrega at-least-once: o offset só é confirmado quando todos os handlers
// tiveram sucesso (ou foram pulados por precondição); em falha, a mensagem
// permanece para reentrega após backoff.
type Consumer struct {
	reader   *kafka.Reader
	registry *Registry
	logger   logger.Logger
	topic    string
}

// NewConsumer cria um consumidor para o tópico dentro do grupo informado.
// Consumidores de tópicos distintos formam os pools de workers por classe
// de urgência.
func NewConsumer(brokers []string, groupID, topic string, registry *Registry, log logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &Consumer{reader: reader, registry: registry, logger: log, topic: topic}
}

// Run processa mensagens até o contexto ser cancelado.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumidor iniciado.", map[string]interface{}{"topic": c.topic})

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Consumidor encerrado.", map[string]interface{}{"topic": c.topic})
				return nil
			}
			c.logger.Error("Falha ao buscar mensagem do broker.", err)
			// Backoff simples antes de tentar de novo; retry fino é do broker.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			// Envelope malformado nunca vai processar com sucesso:
			// registra e confirma para não envenenar a partição.
			c.logger.Error("Envelope malformado; descartando mensagem.", err)
			if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
				c.logger.Error("Falha ao confirmar offset de mensagem descartada.", commitErr)
			}
			continue
		}

		if err := c.registry.Dispatch(ctx, env); err != nil {
			// Offset não confirmado: o broker reentrega. Os handlers que já
			// aplicaram seus efeitos estão protegidos pela deduplicação.
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Falha ao confirmar offset.", err)
		}
	}
}

// Close libera o reader subjacente.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"stocksync/internal/pkg/logger"
)

// Tópicos (transportes nomeados). As liberações/baixas trafegam em um
// tópico de prioridade mais baixa, consumido por um pool próprio, para que
// os aumentos de reserva assentem antes do trabalho de limpeza.
const (
	TopicStocksEvents     = "stocks-events"
	TopicOrdersEvents     = "orders-events"
	TopicProductStocks    = "products-stocks"
	TopicProductStocksLow = "products-stocks-low"
)

// Envelope é o invólucro de toda mensagem no barramento. O ID identifica a
// publicação (rastreio em log); deduplicação usa as chaves lógicas do
// payload, não o ID — uma republicação gera envelopes novos.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode desserializa o payload do envelope no destino informado.
func (e Envelope) Decode(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}

// Publisher define o contrato que os serviços esperam para despachar
// mensagens de acompanhamento.
type Publisher interface {
	Publish(ctx context.Context, topic, msgType string, payload interface{}) error
}

// KafkaPublisher é a implementação concreta de Publisher sobre kafka-go.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaPublisher cria o produtor compartilhado. O tópico é definido por
// mensagem, permitindo um único writer para todos os transportes.
func NewKafkaPublisher(brokers []string, log logger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: writer, logger: log}
}

// Publish serializa o payload em um Envelope e o escreve no tópico.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, msgType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("falha ao serializar payload de %s: %w", msgType, err)
	}

	env := Envelope{
		ID:      uuid.New().String(),
		Type:    msgType,
		Payload: body,
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("falha ao serializar envelope de %s: %w", msgType, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msgType),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("falha ao publicar %s em %s: %w", msgType, topic, err)
	}

	p.logger.Debug("Mensagem publicada.", map[string]interface{}{
		"topic": topic,
		"type":  msgType,
		"id":    env.ID,
	})
	return nil
}

// Close libera o writer subjacente.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

package dedup

import (
	"context"
	"errors"
	"strings"
	"time"

	"stocksync/internal/pkg/cache"
	"stocksync/internal/pkg/logger"
)

// Deduplicator é a guarda de idempotência do processo: para um namespace e
// uma chave composta (id da entidade + identidade do handler), registra se o
// efeito já foi aplicado. O chamador verifica ANTES de qualquer mutação e
// confirma (Commit) somente DEPOIS que o conjunto de mutações teve sucesso.
// Um crash entre a mutação e o Commit é tolerado pela reentrega do broker:
// as mutações guardadas são elas próprias idempotentes ou granulares por
// unidade, cada uma deduplicável pela sua chave lógica.
type Deduplicator struct {
	cache  cache.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewDeduplicator cria uma nova guarda de idempotência sobre o armazenamento
// chave-valor. O TTL limita a vida dos registros (política de retenção do
// namespace).
func NewDeduplicator(cacheClient cache.Client, ttl time.Duration, log logger.Logger) *Deduplicator {
	return &Deduplicator{cache: cacheClient, ttl: ttl, logger: log}
}

// Key monta a chave composta a partir das partes da identidade lógica do
// evento (id do sujeito, identidade do handler, e opcionalmente constantes
// mais finas como a unidade serializada).
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Executed verifica se o efeito identificado por (namespace, key) já foi
// aplicado. Em caso de falha do armazenamento, assume que NÃO foi executado:
// a reentrega é segura porque as mutações são idempotentes, enquanto pular
// um efeito não é.
func (d *Deduplicator) Executed(ctx context.Context, namespace, key string) bool {
	full := namespace + ":" + key
	_, err := d.cache.Get(ctx, full)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		d.logger.Warn("Falha ao consultar registro de deduplicação; prosseguindo como não executado.", map[string]interface{}{
			"namespace": namespace,
			"key":       key,
			"error":     err.Error(),
		})
	}
	return false
}

// Commit grava o registro de deduplicação após o sucesso completo do efeito.
// NUNCA deve ser chamado quando qualquer sub-passo falhou: o registro
// ausente é o que permite à reentrega corrigida prosseguir. A gravação usa
// SET NX (compare-and-set atômico): quando dois workers concorrentes aplicam
// o mesmo efeito idempotente, apenas o primeiro grava o registro.
func (d *Deduplicator) Commit(ctx context.Context, namespace, key string) error {
	full := namespace + ":" + key
	stored, err := d.cache.SetNX(ctx, full, "1", d.ttl)
	if err != nil {
		// Falha ao gravar o registro não é fatal: a reentrega reaplicará
		// mutações idempotentes. Registra para diagnóstico.
		d.logger.Warn("Falha ao gravar registro de deduplicação.", map[string]interface{}{
			"namespace": namespace,
			"key":       key,
			"error":     err.Error(),
		})
		return err
	}
	if !stored {
		// Outro worker chegou primeiro com o mesmo efeito. Nada a fazer.
		d.logger.Debug("Registro de deduplicação já existia no Commit.", map[string]interface{}{
			"namespace": namespace,
			"key":       key,
		})
	}
	return nil
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	// Pacotes de infraestrutura e utilitários
	"stocksync/config"
	"stocksync/internal/pkg/bus"
	"stocksync/internal/pkg/cache"
	"stocksync/internal/pkg/database"
	"stocksync/internal/pkg/dedup"
	"stocksync/internal/pkg/logger"

	// Camadas do núcleo para Injeção de Dependências
	"stocksync/internal/api/router"
	"stocksync/internal/api/stockrequest"
	"stocksync/internal/api/stocktotal"
	"stocksync/internal/domain"
	"stocksync/internal/repository/orderrepo"
	"stocksync/internal/repository/profilerepo"
	"stocksync/internal/repository/stockrepo"
	"stocksync/internal/repository/totalrepo"
	"stocksync/internal/service/ledgerservice"
	"stocksync/internal/service/reconcileservice"
	"stocksync/internal/service/sagaservice"
	"stocksync/internal/service/signservice"
	"stocksync/internal/service/stockservice"
)

func main() {
	// 1. Configuração e Inicialização
	log.Println("⚡ Inicializando worker de consistência de estoque...")
	// O godotenv.Load() procura por um arquivo chamado .env na raiz.
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ Aviso: Arquivo .env não encontrado ou erro de leitura. Carregando configs apenas do ambiente do sistema.")
	}

	cfg := config.LoadConfig()
	appLog := logger.NewLogger(cfg.LogLevel)
	appLog.Info("Configurações carregadas.", nil)

	// 2. Conexão com Recursos de Infraestrutura

	// A. Banco de Dados (PostgreSQL)
	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		appLog.Fatal("Falha ao conectar ao banco de dados.", err)
	}
	defer db.Close()
	appLog.Info("Conexão PostgreSQL estabelecida.", nil)

	// B. Redis (deduplicação, cache de cartão, pub/sub de presença)
	cacheClient, err := cache.NewRedisClient(cfg.RedisAddr)
	if err != nil {
		appLog.Fatal("Falha ao conectar ao Redis.", err)
	}
	appLog.Info("Conexão Redis estabelecida.", nil)

	// C. Kafka (barramento de mensagens)
	publisher := bus.NewKafkaPublisher(cfg.KafkaBrokers, appLog)
	defer publisher.Close()
	appLog.Info("Produtor Kafka inicializado.", nil)

	// 3. INJEÇÃO DE DEPENDÊNCIAS
	// Ordem: Repository -> Service -> Handlers de mensagem

	// A. Repositórios (Camada de Acesso a Dados)
	totalRepo := totalrepo.NewTotalRepository(db, cfg.DBTimeout, appLog)
	stockRepo := stockrepo.NewStockRepository(db, cfg.DBTimeout, appLog)
	orderRepo := orderrepo.NewOrderRepository(db, cfg.DBTimeout, appLog)
	profileRepo := profilerepo.NewProfileRepository(db, cfg.DBTimeout, appLog)
	appLog.Debug("Repositórios inicializados.", nil)

	// B. Guarda de idempotência
	guard := dedup.NewDeduplicator(cacheClient, cfg.DedupTTL, appLog)

	// C. Serviços (Camada de Lógica de Negócio)
	signsBridge := signservice.NewBridge(cfg.SignsEnabled, publisher, appLog)
	ledgerSvc := ledgerservice.NewService(totalRepo, profileRepo, publisher, guard, cacheClient, cfg.CacheTTL, appLog)
	stockSvc := stockservice.NewService(stockRepo, ledgerSvc, guard, appLog)
	sagaSvc := sagaservice.NewService(orderRepo, stockRepo, ledgerSvc, publisher, cacheClient, guard, appLog)
	reconcileSvc := reconcileservice.NewService(stockRepo, orderRepo, ledgerSvc, signsBridge, publisher, guard, appLog)
	appLog.Debug("Serviços inicializados.", map[string]interface{}{"signs_enabled": cfg.SignsEnabled})

	// 4. Registro dos Handlers de Mensagem
	// A prioridade é explícita e menor executa primeiro: os efeitos de
	// livro-razão rodam antes da propagação ao pedido e das notificações.
	registry := bus.NewRegistry(appLog)

	registry.Register(domain.MessageStockStatusChanged, "stock-ledger-transition", 10, stockSvc.HandleStatusChanged)
	registry.Register(domain.MessageStockStatusChanged, "stock-order-propagate", 50, sagaSvc.HandleStockStatusChanged)
	registry.Register(domain.MessageStockProductsEdited, "stock-reconcile", 10, reconcileSvc.HandleProductsEdited)

	registry.Register(domain.MessageOrderStatusChanged, "order-saga", 10, sagaSvc.HandleOrderStatusChanged)
	registry.Register(domain.MessageAdvanceOrderStatus, "order-advance", 10, sagaSvc.HandleAdvanceOrderStatus)
	registry.Register(domain.MessageCreateDecommissionRequest, "order-decommission", 10, sagaSvc.HandleCreateDecommissionRequest)
	registry.Register(domain.MessageCreatePartialReturnOrder, "order-partial-return", 10, sagaSvc.HandleCreatePartialReturnOrder)

	registry.Register(domain.MessageReserveUnit, "ledger-reserve-unit", 10, ledgerSvc.HandleReserveUnit)
	registry.Register(domain.MessageReleaseReserveUnit, "ledger-release-unit", 10, ledgerSvc.HandleReleaseReserveUnit)
	registry.Register(domain.MessageDecrementAndReleaseUnit, "ledger-decrement-unit", 10, ledgerSvc.HandleDecrementAndReleaseUnit)
	registry.Register(domain.MessageRecomputeProductTotal, "ledger-recompute-card", 50, ledgerSvc.HandleRecomputeProductTotal)

	// 5. Consumidores por tópico (um pool de workers por classe de urgência)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topics := []string{
		bus.TopicStocksEvents,
		bus.TopicOrdersEvents,
		bus.TopicProductStocks,
		bus.TopicProductStocksLow,
	}

	var wg sync.WaitGroup
	consumers := make([]*bus.Consumer, 0, len(topics))
	for _, topic := range topics {
		consumer := bus.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, topic, registry, appLog)
		consumers = append(consumers, consumer)

		wg.Add(1)
		go func(c *bus.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				appLog.Error("Consumidor encerrou com erro.", err)
			}
		}(consumer)
	}

	// 6. API de Consulta Read-Only
	totalHandler := stocktotal.NewHandler(totalRepo, appLog)
	requestHandler := stockrequest.NewHandler(stockRepo, appLog)
	r := router.NewRouter(totalHandler, requestHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLog.Info("API de consulta ouvindo na porta", map[string]interface{}{"port": cfg.Port})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("Servidor de consulta falhou.", err)
		}
	}()

	// 7. Execução e Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	appLog.Info("Sinal de encerramento recebido. Desligando worker...", nil)

	// Para os consumidores e espera os handlers em andamento
	cancel()
	wg.Wait()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			appLog.Error("Falha ao fechar consumidor.", err)
		}
	}

	// Timeout para desligamento do servidor HTTP
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Desligamento do servidor forçado.", err)
	}

	appLog.Info("Worker encerrado com sucesso.", nil)
}

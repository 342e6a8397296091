package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"stocksync/config"
	"stocksync/internal/pkg/cache"
	"stocksync/internal/pkg/database"
	"stocksync/internal/pkg/logger"
	"stocksync/internal/repository/totalrepo"
	"stocksync/internal/service/verifyservice"
)

// Jobs batch de verificação de consistência. Apenas reportam divergências;
// a correção é sempre manual.
//
//	verify totals  — linhas do livro-razão vs soma do journal de transações
//	verify cards   — soma do livro-razão por produto vs total cacheado do cartão
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ Aviso: Arquivo .env não encontrado ou erro de leitura. Carregando configs apenas do ambiente do sistema.")
	}

	flag.Parse()
	job := flag.Arg(0)
	if job == "" {
		fmt.Fprintln(os.Stderr, "uso: verify <totals|cards>")
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	appLog := logger.NewLogger(cfg.LogLevel)

	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		appLog.Fatal("Falha ao conectar ao banco de dados.", err)
	}
	defer db.Close()

	cacheClient, err := cache.NewRedisClient(cfg.RedisAddr)
	if err != nil {
		appLog.Fatal("Falha ao conectar ao Redis.", err)
	}

	totalRepo := totalrepo.NewTotalRepository(db, cfg.DBTimeout, appLog)
	verifier := verifyservice.NewService(totalRepo, cacheClient, appLog)

	ctx := context.Background()

	var report verifyservice.Report
	switch job {
	case "totals":
		report, err = verifier.VerifyTotals(ctx)
	case "cards":
		report, err = verifier.VerifyCardTotals(ctx)
	default:
		fmt.Fprintf(os.Stderr, "job desconhecido: %s (esperado totals ou cards)\n", job)
		os.Exit(2)
	}
	if err != nil {
		appLog.Fatal("Job de verificação falhou.", err)
	}

	fmt.Println(report.Summary())
	for _, d := range report.Discrepancies {
		fmt.Println("  ❌ " + d.Message)
	}
	if len(report.Discrepancies) > 0 {
		os.Exit(1)
	}
}

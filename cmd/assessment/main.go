// 評価サービスのエントリポイント。
// 現時点ではヘルスチェックのみを公開する。提出と採点は未実装。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nao1215/learnhub/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf(".envの読み込みに失敗: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3004"
	}

	server, err := service.NewServer("assessment-service", port)
	if err != nil {
		log.Fatalf("評価サーバーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("評価サービスを起動します: :%s", port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("評価サービスの起動に失敗: %v", err)
	}
}

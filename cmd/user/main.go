// ユーザーサービスのエントリポイント。
// 現時点ではヘルスチェックのみを公開する。
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
		port = "3002"
	}

	server, err := service.NewServer("user-service", port)
	if err != nil {
		log.Fatalf("ユーザーサーバーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("ユーザーサービスを起動します: :%s", port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("ユーザーサービスの起動に失敗: %v", err)
	}
}

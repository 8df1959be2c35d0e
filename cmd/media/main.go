// メディアサービスのエントリポイント。
// 現時点ではヘルスチェックのみを公開する。アップロードは未実装。
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
		port = "3005"
	}

	server, err := service.NewServer("media-service", port)
	if err != nil {
		log.Fatalf("メディアサーバーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("メディアサービスを起動します: :%s", port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("メディアサービスの起動に失敗: %v", err)
	}
}

// API Gatewayサービスのエントリポイント。
// パスプレフィックスに従って上流サービス（auth, user, course, assessment, media）へ
// リクエストを転送する。外部からアクセス可能な唯一のサービス。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nao1215/learnhub/internal/gateway"
)

func main() {
	// .env は任意。存在しなくても環境変数だけで起動できる
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf(".envの読み込みに失敗: %v", err)
	}

	cfg, err := gateway.LoadConfig()
	if err != nil {
		log.Fatalf("Gatewayの設定読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}
	defer server.Close()

	log.Printf("Gatewayサービスを起動します: :%s", cfg.Port)
	log.Printf("転送先サービス:")
	for _, ep := range server.Services().Endpoints() {
		log.Printf("  %s: %s", ep.Name, ep.URL)
	}

	if err := server.Run(ctx); err != nil {
		log.Printf("Gatewayサービスの起動に失敗: %v", err)
		server.Close()
		os.Exit(1)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/learnhub/pkg/middleware"
)

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// Server は上流サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// name はヘルスチェックで返すサービス名（例: "auth-service"）。
	name string
	// port はサーバーのリッスンポート。
	port string
}

// NewServer はサービス名とポートを指定してサーバーを生成する。
// CORSの許可オリジンは環境変数 CORS_ALLOWED_ORIGINS（カンマ区切り、既定は "*"）から読み込む。
func NewServer(name, port string) (*Server, error) {
	if name == "" {
		return nil, errors.New("サービス名が空です")
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins()))

	s := &Server{
		router: router,
		name:   name,
		port:   port,
	}
	s.setupRoutes()

	return s, nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": s.name})
	})
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[%s] シャットダウンを開始します", s.name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// allowedOrigins は環境変数からCORSの許可オリジンを読み込む。
func allowedOrigins() []string {
	v := os.Getenv("CORS_ALLOWED_ORIGINS")
	if v == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

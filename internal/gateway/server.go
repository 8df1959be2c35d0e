package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/learnhub/pkg/httpclient"
	"github.com/nao1215/learnhub/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// アクセスログ一覧の取得件数。
const (
	defaultAccessLogLimit = 50
	maxAccessLogLimit     = 500
)

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// routes は起動時に確定したルーティングテーブル。
	routes *RouteTable
	// services は上流サービスのレジストリ。
	services ServiceRegistry
	// client は上流サービスへの転送に使うHTTPクライアント。
	client *http.Client
	// probes は上流サービスのヘルスチェック用クライアント。
	probes []upstreamProbe
	// jwtSecret が空でない場合は保護ルートでJWTを検証する。
	jwtSecret string
	// accessLog はアクセスログの記録先。無効な場合はnil。
	accessLog *AccessLog
}

// NewServer は設定からGatewayサーバーを生成する。
// ルート定義が不正な場合は *ConfigurationError を返し、サーバーは生成しない。
func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	routes, err := NewRouteTable(cfg.Routes...)
	if err != nil {
		return nil, err
	}
	routes.seal()

	var accessLog *AccessLog
	if cfg.DBPath != "" {
		accessLog, err = OpenAccessLog(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("アクセスログの初期化に失敗: %w", err)
		}
	}

	probes := make([]upstreamProbe, 0, len(cfg.Services.Endpoints()))
	for _, ep := range cfg.Services.Endpoints() {
		probes = append(probes, upstreamProbe{
			name:   ep.Name,
			client: httpclient.New(ep.URL, httpclient.WithTimeout(cfg.UpstreamTimeout)),
		})
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// 上流のContent-Encodingをそのまま中継する
	transport.DisableCompression = true

	router := gin.New()
	// 末尾スラッシュの補正でリダイレクトさせず、すべてルーティングテーブルで判定する
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	// プリフライトはルート解決後に handleRequest で応答する
	router.Use(middleware.CORSHeaders(cfg.AllowedOrigins))

	s := &Server{
		router:   router,
		port:     cfg.Port,
		routes:   routes,
		services: cfg.Services,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.UpstreamTimeout,
			// リダイレクトは呼び出し元にそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		probes:    probes,
		jwtSecret: cfg.JWTSecret,
		accessLog: accessLog,
	}
	s.setupRoutes()

	return s, nil
}

// setupRoutes はAPIルーティングを設定する。
// Gateway自身のエンドポイント以外はすべてルーティングテーブルで転送先を決める。
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/health/upstreams", s.handleUpstreamHealth())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.accessLog != nil {
		admin := s.router.Group("/_gateway")
		if s.jwtSecret != "" {
			admin.Use(middleware.JWTAuth(s.jwtSecret))
		}
		admin.GET("/access-log", s.handleAccessLog())
	}

	s.router.NoRoute(s.handleRequest())
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

	log.Printf("[Gateway] シャットダウンを開始します")
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

// Close はサーバーが保持するリソースを解放する。
func (s *Server) Close() error {
	if s.accessLog != nil {
		return s.accessLog.Close()
	}
	return nil
}

// Services は上流サービスのレジストリを返す。
func (s *Server) Services() ServiceRegistry {
	return s.services
}

// finish はリクエスト1件の結果をメトリクスとアクセスログに記録する。
func (s *Server) finish(c *gin.Context, service string, status int, outcome string, start time.Time) {
	recordRequest(service, c.Request.Method, status)
	if s.accessLog == nil {
		return
	}
	s.accessLog.Record(AccessLogEntry{
		RequestID: middleware.GetRequestID(c),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Service:   service,
		Status:    status,
		Outcome:   outcome,
		LatencyMS: time.Since(start).Milliseconds(),
		CreatedAt: start,
	})
}

// handleAccessLog は直近のアクセスログを新しい順に返すハンドラを返す。
func (s *Server) handleAccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultAccessLogLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxAccessLogLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limitは1から%dの整数で指定してください", maxAccessLogLimit)})
				return
			}
			limit = n
		}

		entries, err := s.accessLog.Recent(c.Request.Context(), limit)
		if err != nil {
			log.Printf("[Gateway] アクセスログの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アクセスログの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

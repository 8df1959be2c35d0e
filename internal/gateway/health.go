package gateway

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/learnhub/pkg/httpclient"
	"github.com/nao1215/learnhub/pkg/middleware"
)

// upstreamHealth は上流サービス1件のヘルスチェック結果。
type upstreamHealth struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthBody は各サービスの /health が返すボディ。
type healthBody struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// upstreamProbe は上流サービスの /health を問い合わせるクライアント。
type upstreamProbe struct {
	name   string
	client *httpclient.Client
}

// handleHealth はGateway自身のヘルスチェックハンドラを返す。上流サービスの状態は見ない。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api-gateway"})
	}
}

// handleUpstreamHealth は全上流サービスの /health を並行して問い合わせるハンドラを返す。
// 結果はキャッシュせず、呼び出しごとに問い合わせる。1件でも異常があれば 503 を返す。
func (s *Server) handleUpstreamHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := httpclient.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))

		results := make([]upstreamHealth, len(s.probes))
		var wg sync.WaitGroup
		for i, p := range s.probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result := upstreamHealth{Name: p.name, URL: p.client.BaseURL(), Status: "ok"}

				var body healthBody
				err := p.client.GetJSON(ctx, "/health", &body)
				switch {
				case err != nil:
					result.Status = "unavailable"
					result.Error = err.Error()
					var statusErr *httpclient.StatusError
					if errors.As(err, &statusErr) {
						result.Status = "unhealthy"
					}
				case body.Status != "ok":
					result.Status = "unhealthy"
					result.Error = "status=" + body.Status
				}
				results[i] = result
			}()
		}
		wg.Wait()

		status, code := "ok", http.StatusOK
		for _, r := range results {
			if r.Status != "ok" {
				status, code = "degraded", http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(code, gin.H{"status": status, "services": results})
	}
}

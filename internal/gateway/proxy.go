package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/learnhub/pkg/middleware"
)

// リクエスト1件の処理結果。アクセスログとメトリクスに使う。
const (
	outcomeForwarded    = "forwarded"
	outcomeNoRoute      = "no_route"
	outcomeUnauthorized = "unauthorized"
	outcomeUnavailable  = "unavailable"
	outcomeMalformed    = "malformed"
	outcomeCancelled    = "cancelled"
	outcomePreflight    = "preflight"
)

// statusClientClosedRequest は呼び出し元が応答前に切断したことを表すステータス（nginxの499に倣う）。
const statusClientClosedRequest = 499

// エラーレスポンスのメッセージ。
const (
	errMessageNoRoute     = "no route for path"
	errMessageUnavailable = "upstream unavailable"
	errMessageMalformed   = "upstream returned malformed response"
)

// hopByHopHeaders はプロキシで転送してはならないヘッダー（RFC 9110 7.6.1）。
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// upstreamResponse は上流サービスから読み取ったレスポンス。
type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
}

// handleRequest はルーティングテーブルに従ってリクエストを上流サービスへ転送するハンドラを返す。
// 1リクエストにつき上流への呼び出しは最大1回で、リトライは行わない。
func (s *Server) handleRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		route, err := s.routes.Resolve(c.Request.URL.Path)
		if err != nil {
			// ルート不一致は呼び出し元の誤りであり障害としては記録しない
			c.JSON(http.StatusNotFound, gin.H{"error": errMessageNoRoute})
			s.finish(c, "", http.StatusNotFound, outcomeNoRoute, start)
			return
		}

		// プリフライトは一致するルートがある場合だけ上流へ転送せずに応答する
		if middleware.IsPreflight(c) {
			c.Status(http.StatusNoContent)
			s.finish(c, route.Service, http.StatusNoContent, outcomePreflight, start)
			return
		}

		userID := ""
		if route.Protected && s.jwtSecret != "" {
			claims, err := middleware.VerifyBearer(s.jwtSecret, c.GetHeader("Authorization"))
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				s.finish(c, route.Service, http.StatusUnauthorized, outcomeUnauthorized, start)
				return
			}
			userID = claims.UserID
		}

		callStart := time.Now()
		resp, err := s.forward(c, route, userID)
		if err != nil {
			s.handleForwardError(c, route, err, callStart, start)
			return
		}
		recordUpstream(route.Service, time.Since(callStart), "")

		dst := c.Writer.Header()
		for key, values := range resp.header {
			dst[key] = values
		}
		c.Status(resp.status)
		if _, err := c.Writer.Write(resp.body); err != nil {
			log.Printf("[Gateway] レスポンスの書き込みに失敗: path=%s, error=%v", c.Request.URL.Path, err)
		}
		s.finish(c, route.Service, resp.status, outcomeForwarded, start)
	}
}

// handleForwardError は転送エラーをHTTPレスポンスに変換する。
func (s *Server) handleForwardError(c *gin.Context, route RouteEntry, err error, callStart, start time.Time) {
	var (
		unavailable *UpstreamUnavailableError
		malformed   *UpstreamMalformedResponseError
	)
	switch {
	case c.Request.Context().Err() != nil:
		// 呼び出し元が切断済みのためボディは書き込まず、ステータスだけ揃える
		recordUpstream(route.Service, time.Since(callStart), outcomeCancelled)
		c.Status(statusClientClosedRequest)
		c.Abort()
		s.finish(c, route.Service, statusClientClosedRequest, outcomeCancelled, start)
	case errors.As(err, &unavailable):
		log.Printf("[WARN] 上流サービスに接続できません: service=%s, path=%s, error=%v", route.Service, c.Request.URL.Path, unavailable.Err)
		recordUpstream(route.Service, time.Since(callStart), outcomeUnavailable)
		c.JSON(http.StatusBadGateway, gin.H{"error": errMessageUnavailable, "service": route.Service})
		s.finish(c, route.Service, http.StatusBadGateway, outcomeUnavailable, start)
	case errors.As(err, &malformed):
		log.Printf("[WARN] 上流サービスのレスポンスが不正です: service=%s, path=%s, error=%v", route.Service, c.Request.URL.Path, malformed.Err)
		recordUpstream(route.Service, time.Since(callStart), outcomeMalformed)
		c.JSON(http.StatusBadGateway, gin.H{"error": errMessageMalformed, "service": route.Service})
		s.finish(c, route.Service, http.StatusBadGateway, outcomeMalformed, start)
	default:
		log.Printf("[Gateway] プロキシリクエストの作成に失敗: service=%s, error=%v", route.Service, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		s.finish(c, route.Service, http.StatusInternalServerError, outcomeMalformed, start)
	}
}

// forward はリクエストを上流サービスへ1回だけ転送し、レスポンスを読み取る。
// 呼び出し元のコンテキストを引き継ぐため、呼び出し元が切断すると上流への呼び出しも中断される。
func (s *Server) forward(c *gin.Context, route RouteEntry, userID string) (*upstreamResponse, error) {
	target, err := route.targetURL(c.Request.URL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, c.Request.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = c.Request.ContentLength

	for key, values := range c.Request.Header {
		req.Header[key] = append([]string(nil), values...)
	}
	removeHopByHopHeaders(req.Header)
	if requestID := middleware.GetRequestID(c); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
	if s.jwtSecret != "" {
		// 検証済みのユーザーID以外は上流に渡さない
		req.Header.Del(middleware.HeaderUserID)
		if userID != "" {
			req.Header.Set(middleware.HeaderUserID, userID)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(route.Service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, &UpstreamUnavailableError{Service: route.Service, Err: err}
		}
		return nil, &UpstreamMalformedResponseError{Service: route.Service, Err: err}
	}

	header := resp.Header.Clone()
	removeHopByHopHeaders(header)

	return &upstreamResponse{status: resp.StatusCode, header: header, body: body}, nil
}

// classifyTransportError は送信エラーを接続失敗とレスポンス不正に分類する。
func classifyTransportError(service string, err error) error {
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	switch {
	case isTimeout(err),
		errors.As(err, &opErr),
		errors.As(err, &dnsErr),
		errors.Is(err, io.EOF):
		return &UpstreamUnavailableError{Service: service, Err: err}
	default:
		return &UpstreamMalformedResponseError{Service: service, Err: err}
	}
}

// isTimeout はタイムアウトによるエラーかどうかを返す。
// Client.Timeout はボディの読み取り中にも発火するため、送信時と読み取り時の両方で使う。
func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// removeHopByHopHeaders はhop-by-hopヘッダーとConnectionヘッダーで指定されたヘッダーを削除する。
func removeHopByHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// allowedOrigins に "*" を含めると全オリジンを許可する。プリフライトはここで 204 を返す。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	setHeaders := corsHeaderWriter(allowedOrigins)
	return func(c *gin.Context) {
		setHeaders(c)
		if IsPreflight(c) {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// CORSHeaders はCORSのレスポンスヘッダーだけを付与するGinミドルウェアを返す。
// プリフライトへの応答は後続のハンドラーに任せる。
func CORSHeaders(allowedOrigins []string) gin.HandlerFunc {
	setHeaders := corsHeaderWriter(allowedOrigins)
	return func(c *gin.Context) {
		setHeaders(c)
		c.Next()
	}
}

// IsPreflight はリクエストがCORSのプリフライトかどうかを返す。
func IsPreflight(c *gin.Context) bool {
	return c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
}

func corsHeaderWriter(allowedOrigins []string) func(*gin.Context) {
	allowAll := slices.Contains(allowedOrigins, "*")
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			return
		}
		_, allowed := originsSet[origin]
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		default:
			return
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")
	}
}

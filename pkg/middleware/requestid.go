package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLength は呼び出し元から受け取るリクエストIDの最大長。
const maxRequestIDLength = 128

// RequestID はリクエストごとにIDを割り当てるGinミドルウェアを返す。
// 呼び出し元が X-Request-ID を指定した場合はそれを引き継ぎ、無ければUUIDを生成する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

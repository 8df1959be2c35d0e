package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// HeaderUserID は検証済みのユーザーIDを上流サービスへ伝播するHTTPヘッダーキー。
const HeaderUserID = "X-User-ID"

// tokenIssuer はトークンの発行者。
const tokenIssuer = "learnhub-auth"

// トークン検証の失敗理由。レスポンスのerrorフィールドにそのまま使う。
var (
	ErrMissingAuthorization = errors.New("Authorizationヘッダーが必要です")
	ErrMalformedBearer      = errors.New("Bearer トークン形式が不正です")
	ErrInvalidToken         = errors.New("トークンが無効です")
)

// GenerateJWT はユーザー情報からHS256で署名したJWTトークンを生成する。有効期限は24時間。
func GenerateJWT(secret, userID, email string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Email:  email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// VerifyBearer は "Bearer <token>" 形式のAuthorizationヘッダー値を検証してクレームを返す。
// HS256以外の署名アルゴリズムは受け付けない。
func VerifyBearer(secret, authHeader string) (*JWTClaims, error) {
	if authHeader == "" {
		return nil, ErrMissingAuthorization
	}
	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenString == "" {
		return nil, ErrMalformedBearer
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "email" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := VerifyBearer(secret, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	if id, ok := c.Value("user_id").(string); ok {
		return id
	}
	return ""
}

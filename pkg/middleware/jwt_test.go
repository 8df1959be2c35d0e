package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// signClaims はテスト用に任意のクレームと署名方式でトークンを生成する。
func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims JWTClaims) string {
	t.Helper()

	tokenStr, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return tokenStr
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("クレームと有効期限が設定されたトークンを生成できること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateJWT(testSecret, "user-123", "test@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims, err := VerifyBearer(testSecret, "Bearer "+tokenStr)
		if err != nil {
			t.Fatalf("VerifyBearer()でエラーが発生: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "user-123")
		}
		if claims.Email != "test@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "test@example.com")
		}
		if claims.Issuer != tokenIssuer {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, tokenIssuer)
		}

		expected := before.Add(24 * time.Hour)
		if diff := claims.ExpiresAt.Time.Sub(expected); diff < -2*time.Second || diff > 2*time.Second {
			t.Errorf("ExpiresAt = %v, want about %v", claims.ExpiresAt.Time, expected)
		}
	})
}

// TestVerifyBearer はVerifyBearer関数を検証する。
func TestVerifyBearer(t *testing.T) {
	t.Parallel()

	valid, err := GenerateJWT(testSecret, "user-1", "u1@example.com")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	otherSecret, err := GenerateJWT("another-secret", "user-1", "u1@example.com")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}
	expired := signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-25 * time.Hour)),
		},
		UserID: "user-expired",
	})
	hs512 := signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-hs512",
	})

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{name: "有効なトークンは検証に成功すること", header: "Bearer " + valid},
		{name: "ヘッダーが空の場合はErrMissingAuthorization", header: "", wantErr: ErrMissingAuthorization},
		{name: "Bearer接頭辞が無い場合はErrMalformedBearer", header: valid, wantErr: ErrMalformedBearer},
		{name: "トークンが空の場合はErrMalformedBearer", header: "Bearer ", wantErr: ErrMalformedBearer},
		{name: "不正な文字列はErrInvalidToken", header: "Bearer not.a.token", wantErr: ErrInvalidToken},
		{name: "異なるシークレットの署名はErrInvalidToken", header: "Bearer " + otherSecret, wantErr: ErrInvalidToken},
		{name: "期限切れのトークンはErrInvalidToken", header: "Bearer " + expired, wantErr: ErrInvalidToken},
		{name: "HS256以外の署名方式はErrInvalidToken", header: "Bearer " + hs512, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims, err := VerifyBearer(testSecret, tt.header)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("VerifyBearer()でエラーが発生: %v", err)
				}
				if claims.UserID != "user-1" {
					t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	newRouter := func(gotUserID *string) *gin.Engine {
		router := gin.New()
		router.Use(JWTAuth(testSecret))
		router.GET("/test", func(c *gin.Context) {
			*gotUserID = GetUserID(c)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return router
	}

	t.Run("有効なトークンでハンドラーが実行されユーザーIDが取得できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-e2e", "e2e@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		var gotUserID string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		newRouter(&gotUserID).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if gotUserID != "user-e2e" {
			t.Errorf("GetUserID() = %q, want %q", gotUserID, "user-e2e")
		}
	})

	t.Run("Authorizationヘッダーが無い場合401とエラーメッセージが返ること", func(t *testing.T) {
		t.Parallel()

		var gotUserID string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		newRouter(&gotUserID).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["error"] != ErrMissingAuthorization.Error() {
			t.Errorf("error = %q, want %q", body["error"], ErrMissingAuthorization.Error())
		}
		if gotUserID != "" {
			t.Error("認証失敗時にハンドラーが実行された")
		}
	})
}

// TestGetUserID はGetUserID関数を検証する。
func TestGetUserID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "文字列のuser_idが取得できること", value: "user-get-id", want: "user-get-id"},
		{name: "未設定の場合は空文字列", value: nil, want: ""},
		{name: "文字列以外の型の場合は空文字列", value: 12345, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			if tt.value != nil {
				c.Set("user_id", tt.value)
			}
			if got := GetUserID(c); got != tt.want {
				t.Errorf("GetUserID() = %q, want %q", got, tt.want)
			}
		})
	}
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *JWTService {
	return NewJWTService("test-secret", "exitready", nil)
}

func TestGenerateAndValidateTokenPair(t *testing.T) {
	svc := newTestJWTService()
	ctx := context.Background()

	pair, err := svc.GenerateTokenPair("user-1", "org-1")
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.ValidateToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "org-1", claims.OrganizationID)
	require.Equal(t, "access", claims.TokenType)
	require.Equal(t, "exitready", claims.Issuer)

	refresh, err := svc.ValidateToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "refresh", refresh.TokenType)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	pair, err := newTestJWTService().GenerateTokenPair("user-1", "org-1")
	require.NoError(t, err)

	other := NewJWTService("another-secret", "exitready", nil)
	_, err = other.ValidateToken(context.Background(), pair.AccessToken)
	require.Error(t, err)
}

func TestRefreshAccessToken(t *testing.T) {
	svc := newTestJWTService()
	ctx := context.Background()

	pair, err := svc.GenerateTokenPair("user-1", "org-1")
	require.NoError(t, err)

	renewed, err := svc.RefreshAccessToken(ctx, pair.RefreshToken)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(ctx, renewed.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "org-1", claims.OrganizationID)

	// 访问令牌不能用于刷新
	_, err = svc.RefreshAccessToken(ctx, pair.AccessToken)
	require.Error(t, err)
}

func TestExtractTokenFromBearer(t *testing.T) {
	require.Equal(t, "abc.def.ghi", ExtractTokenFromBearer("Bearer abc.def.ghi"))
	require.Equal(t, "", ExtractTokenFromBearer("abc.def.ghi"))
	require.Equal(t, "", ExtractTokenFromBearer("Basic dXNlcjpwYXNz"))
	require.Equal(t, "", ExtractTokenFromBearer(""))
}

func newTestAuthRouter(svc *JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", Middleware(svc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":         UserID(c),
			"organization_id": OrganizationID(c),
		})
	})
	return router
}

func TestMiddlewareAcceptsAccessToken(t *testing.T) {
	svc := newTestJWTService()
	router := newTestAuthRouter(svc)

	pair, err := svc.GenerateTokenPair("user-1", "org-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "org-1")
}

func TestMiddlewareRejectsBadRequests(t *testing.T) {
	svc := newTestJWTService()
	router := newTestAuthRouter(svc)

	pair, err := svc.GenerateTokenPair("user-1", "org-1")
	require.NoError(t, err)

	cases := map[string]string{
		"无令牌":   "",
		"格式错误":  "Token abc",
		"伪造令牌":  "Bearer not.a.jwt",
		"刷新令牌访问": "Bearer " + pair.RefreshToken,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

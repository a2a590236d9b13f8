package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/apiclient"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newAuthContext(token, tenant string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/agenda", http.NoBody)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if tenant != "" {
		request.Header.Set(apiclient.TenantHeader, tenant)
	}
	ctx.Request = request
	return ctx, recorder
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	ctx, recorder := newAuthContext("expired-token", "acme")

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{validateErr: auth.ErrExpiredSessionToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	ctx, recorder := newAuthContext("invalid-token", "acme")

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{validateErr: errors.New("signature mismatch")},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected a single warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestRejectsForeignTenant(t *testing.T) {
	validator := stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1", TenantID: "acme"}}

	for _, tenant := range []string{"", "globex"} {
		ctx, recorder := newAuthContext("valid-token", tenant)
		handler := &httpHandler{sessions: validator, logger: zap.NewNop()}

		handler.authorizeRequest(ctx)

		if recorder.Code != http.StatusForbidden {
			t.Fatalf("tenant %q: expected forbidden, got %d", tenant, recorder.Code)
		}
		if recorder.Body.String() != `{"error":"invalid_tenant"}` {
			t.Fatalf("tenant %q: unexpected body %s", tenant, recorder.Body.String())
		}
	}
}

func TestAuthorizeRequestStoresIdentity(t *testing.T) {
	ctx, recorder := newAuthContext("valid-token", "acme")
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1", TenantID: "acme"}},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected request to pass, got status %d", recorder.Code)
	}
	if ctx.GetString(userIDContextKey) != "user-1" || ctx.GetString(tenantIDContextKey) != "acme" {
		t.Fatalf("expected identity in context, got %q/%q", ctx.GetString(userIDContextKey), ctx.GetString(tenantIDContextKey))
	}
}

func TestAuthorizeRequestRequiresBearer(t *testing.T) {
	ctx, recorder := newAuthContext("", "acme")
	handler := &httpHandler{sessions: stubSessionValidator{}, logger: zap.NewNop()}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
}

type stubSessionValidator struct {
	claims      auth.SessionClaims
	validateErr error
}

func (s stubSessionValidator) ValidateToken(string) (auth.SessionClaims, error) {
	if s.validateErr != nil {
		return auth.SessionClaims{}, s.validateErr
	}
	return s.claims, nil
}

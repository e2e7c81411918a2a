package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/storetest"
)

func newTestToken(t *testing.T, st *storetest.Fake, engine *secret.Engine) (*model.Token, string) {
	t.Helper()
	gen, err := engine.GenerateToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	tok, err := st.CreateToken(context.Background(), &model.Token{
		TokenPrefix: gen.Prefix, TokenHash: gen.Hash, IsActive: true,
	}, "tester")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	return tok, gen.Plaintext
}

func TestAuthenticateToken_BearerHeaderNoWarning(t *testing.T) {
	st := storetest.New()
	engine := secret.New(4)
	_, plaintext := newTestToken(t, st, engine)
	logger := zap.NewNop().Sugar()

	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if TokenFromContext(r.Context()) == nil {
			t.Error("expected token in context")
		}
	})
	mw := AuthenticateToken(st, engine, logger)(next)

	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	req = req.WithContext(context.WithValue(req.Context(), clientIPKey, "203.0.113.1"))
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if !reached {
		t.Fatal("expected handler to be reached")
	}
	audits, _ := st.ListAuditRecords(context.Background(), store.AuditFilter{})
	if len(audits) != 0 {
		t.Fatalf("expected no warning audit for bearer auth, got %+v", audits)
	}
}

func TestAuthenticateToken_HeaderFallbackWarns(t *testing.T) {
	st := storetest.New()
	engine := secret.New(4)
	_, plaintext := newTestToken(t, st, engine)
	logger := zap.NewNop().Sugar()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mw := AuthenticateToken(st, engine, logger)(next)

	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	req.Header.Set("X-API-Token", plaintext)
	req = req.WithContext(context.WithValue(req.Context(), clientIPKey, "203.0.113.1"))
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	audits, _ := st.ListAuditRecords(context.Background(), store.AuditFilter{})
	if len(audits) != 1 || audits[0].Operation != "token_insecure_transport" {
		t.Fatalf("expected one insecure-transport warning audit, got %+v", audits)
	}
}

func TestAuthenticateToken_QueryParamFallbackWarns(t *testing.T) {
	st := storetest.New()
	engine := secret.New(4)
	_, plaintext := newTestToken(t, st, engine)
	logger := zap.NewNop().Sugar()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mw := AuthenticateToken(st, engine, logger)(next)

	req := httptest.NewRequest(http.MethodPost, "/api?api_token="+plaintext, nil)
	req = req.WithContext(context.WithValue(req.Context(), clientIPKey, "203.0.113.1"))
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	audits, _ := st.ListAuditRecords(context.Background(), store.AuditFilter{})
	if len(audits) != 1 || audits[0].Operation != "token_insecure_transport" {
		t.Fatalf("expected one insecure-transport warning audit, got %+v", audits)
	}
}

func TestAuthenticateToken_InvalidToken(t *testing.T) {
	st := storetest.New()
	engine := secret.New(4)
	logger := zap.NewNop().Sugar()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached for an invalid token")
	})
	mw := AuthenticateToken(st, engine, logger)(next)

	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	req.Header.Set("Authorization", "Bearer bogus:wrong")
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthenticateToken_MissingToken(t *testing.T) {
	st := storetest.New()
	engine := secret.New(4)
	logger := zap.NewNop().Sugar()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached without a token")
	})
	mw := AuthenticateToken(st, engine, logger)(next)

	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

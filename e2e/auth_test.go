package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/airsenalops/api/internal/auth"
	"github.com/airsenalops/api/internal/model"
)

func loginBody(email, password string) string {
	return fmt.Sprintf(`{"email": %q, "password": %q}`, email, password)
}

func TestLogin_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/auth/login", loginBody(testAdminEmail, testAdminPassword), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	token, _ := result["token"].(string)
	if token == "" {
		t.Fatal("expected 'token' in response")
	}
	if result["email"] != testAdminEmail {
		t.Errorf("expected email %q, got %v", testAdminEmail, result["email"])
	}

	// The issued token must work against protected routes.
	resp, err = doRequest(ta.app, http.MethodGet, "/api/jobs", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		t.Fatalf("jobs request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
}

func TestLogin_WrongPassword(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/auth/login", loginBody(testAdminEmail, "wrong-password"), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "UNAUTHORIZED" {
		t.Errorf("expected error code UNAUTHORIZED, got %v", code)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/auth/login", loginBody("intruder@example.com", testAdminPassword), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestLogin_CredentialsNotConfigured(t *testing.T) {
	ta := setupApp(t)

	ctx := context.Background()
	if err := ta.secrets.Delete(ctx, model.SecretKeyAdminEmail); err != nil {
		t.Fatalf("failed to clear admin email: %v", err)
	}
	if err := ta.secrets.Delete(ctx, model.SecretKeyAdminPasswordHash); err != nil {
		t.Fatalf("failed to clear admin password hash: %v", err)
	}

	resp, err := doRequest(ta.app, http.MethodPost, "/api/auth/login", loginBody(testAdminEmail, testAdminPassword), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestLogin_MissingPassword(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/auth/login", `{"email": "admin@example.com"}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "VALIDATION_ERROR" {
		t.Errorf("expected error code VALIDATION_ERROR, got %v", code)
	}
}

func TestAuthCheck_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/auth/check", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["email"] != testAdminEmail {
		t.Errorf("expected email %q, got %v", testAdminEmail, result["email"])
	}
	if result["authenticated"] != true {
		t.Errorf("expected authenticated true, got %v", result["authenticated"])
	}
}

func TestAuthCheck_NoToken(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/auth/check", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuthCheck_BadToken(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/auth/check", "", map[string]string{
		"Authorization": "Bearer not-a-real-token",
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuthCheck_NonAdminToken(t *testing.T) {
	ta := setupApp(t)

	// A validly signed token for someone other than the configured admin
	// passes the middleware but fails the check itself.
	token := generateTokenFor(t, "somebody-else@example.com")
	resp, err := doRequest(ta.app, http.MethodGet, "/api/auth/check", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusForbidden)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "FORBIDDEN" {
		t.Errorf("expected error code FORBIDDEN, got %v", code)
	}
}

func TestHashPassword(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/auth/hash-password", `{"password": "s3cret"}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	hash, _ := result["hash"].(string)
	if hash == "" {
		t.Fatal("expected 'hash' in response")
	}
	if !auth.VerifyPassword("s3cret", hash) {
		t.Error("returned hash does not verify against the original password")
	}
}

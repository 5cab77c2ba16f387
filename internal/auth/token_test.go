package auth

import (
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	resetSecretCache()

	token, err := GenerateToken("actor-42", []Role{RoleOPX, Role("OPX"), RoleFieldStaff}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "actor-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if !slices.Contains(claims.Roles, RoleOPX) || !slices.Contains(claims.Roles, RoleFieldStaff) {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	resetSecretCache()

	if _, err := ParseAndValidate(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
	if _, err := ParseAndValidate("not.a.jwt"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := t.Context()
	actor := Actor{ID: "actor-7", Roles: []Role{RoleAdmin}}
	ctx = ContextWithActor(ctx, actor)
	got, ok := ActorFromContext(ctx)
	if !ok || got.ID != "actor-7" {
		t.Fatalf("unexpected actor from context: %+v ok=%v", got, ok)
	}

	ctx = ContextWithToken(ctx, "tok")
	tok, ok := TokenFromContext(ctx)
	if !ok || tok != "tok" {
		t.Fatalf("unexpected token from context: %q ok=%v", tok, ok)
	}
}

func resetSecretCache() {
	secretMu.Lock()
	secret = cachedSecret{}
	secretMu.Unlock()
}

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

func fixedNow(svc *Service, t time.Time) {
	svc.now = func() time.Time { return t }
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _ := newTestService(t)
	fixedNow(svc, time.Unix(1_700_000_000, 0).UTC())

	reg, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Password: "correct-horse",
		Email:    "alice@example.com",
		APIKey:   "valid-key",
		Database: "testdb",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Username != "alice" {
		t.Fatalf("unexpected username %q", reg.Username)
	}

	res, err := svc.Login(context.Background(), LoginRequest{
		LoginID: "alice", Password: "correct-horse", APIKey: "valid-key",
		Database: "testdb", ClientIP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !strings.HasPrefix(res.Token, "Bearer ") {
		t.Fatalf("expected Bearer-prefixed token, got %q", res.Token)
	}
	if res.Username != "alice" || res.Email != "alice@example.com" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLoginUnknownAccountIsGenericError(t *testing.T) {
	svc, _ := newTestService(t)
	fixedNow(svc, time.Now())

	_, err := svc.Login(context.Background(), LoginRequest{
		LoginID: "nobody", Password: "whatever", APIKey: "valid-key",
		Database: "testdb", ClientIP: "10.0.0.2",
	})
	if herr.KindOf(err) != herr.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid credentials") {
		t.Fatalf("expected generic message, got %q", err.Error())
	}
}

func TestLoginWrongPasswordIsGenericError(t *testing.T) {
	svc, _ := newTestService(t)
	fixedNow(svc, time.Now())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "bob", Password: "right-password", Email: "bob@example.com", APIKey: "valid-key", Database: "testdb"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := svc.Login(ctx, LoginRequest{LoginID: "bob", Password: "wrong-password", APIKey: "valid-key", Database: "testdb", ClientIP: "10.0.0.3"})
	if herr.KindOf(err) != herr.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid credentials") {
		t.Fatalf("expected the same generic message as an unknown account, got %q", err.Error())
	}
}

func TestLoginByEmailContactLookup(t *testing.T) {
	svc, _ := newTestService(t)
	fixedNow(svc, time.Now())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "heidi", Password: "right-password", Email: "Heidi@Example.com", APIKey: "valid-key", Database: "testdb"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := svc.Login(ctx, LoginRequest{LoginID: "heidi@example.com", Password: "right-password", APIKey: "valid-key", Database: "testdb", ClientIP: "10.4.4.4"})
	if err != nil {
		t.Fatalf("Login by contact: %v", err)
	}
	if res.Username != "heidi" {
		t.Fatalf("expected resolving to heidi, got %q", res.Username)
	}
}

func TestLoginBadAPIKeyIsForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	fixedNow(svc, time.Now())

	_, err := svc.Login(context.Background(), LoginRequest{LoginID: "alice", Password: "x", APIKey: "not-a-key", Database: "testdb", ClientIP: "10.0.0.4"})
	if herr.KindOf(err) != herr.Forbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestLoginRateLimitBlocksAfterFiveFailures(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	fixedNow(svc, now)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "carol", Password: "right-password", Email: "carol@example.com", APIKey: "valid-key", Database: "testdb"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := LoginRequest{LoginID: "carol", Password: "wrong", APIKey: "valid-key", Database: "testdb", ClientIP: "10.1.1.1"}
	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, req)
		if herr.KindOf(err) != herr.Unauthorized {
			t.Fatalf("attempt %d: expected Unauthorized, got %v", i+1, err)
		}
	}

	_, err := svc.Login(ctx, req)
	rlErr, ok := err.(*herr.Error)
	if !ok || rlErr.Kind != herr.TooManyRequests {
		t.Fatalf("6th attempt: expected TooManyRequests, got %v", err)
	}
	if rlErr.RetryAfter != 900 {
		t.Fatalf("expected retry_after=900, got %d", rlErr.RetryAfter)
	}

	// Seventh attempt, still within the block window, must not touch the
	// account table again — it fails on the tempblock check alone.
	_, err = svc.Login(ctx, req)
	if herr.KindOf(err) != herr.TooManyRequests {
		t.Fatalf("7th attempt: expected TooManyRequests, got %v", err)
	}
}

func TestRenewRotatesTokenAndRevokesOld(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	fixedNow(svc, now)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "dave", Password: "right-password", Email: "dave@example.com", APIKey: "valid-key", Database: "testdb"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	login, err := svc.Login(ctx, LoginRequest{LoginID: "dave", Password: "right-password", APIKey: "valid-key", Database: "testdb", ClientIP: "10.2.2.2"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	renewed, err := svc.Renew(ctx, login.Token, "")
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.Token == strings.TrimPrefix(login.Token, "Bearer ") {
		t.Fatalf("expected a fresh token")
	}

	// The old token must now be rejected by Renew (its jwt_store row is gone).
	if _, err := svc.Renew(ctx, login.Token, ""); herr.KindOf(err) != herr.Unauthorized {
		t.Fatalf("expected old token to be revoked, got %v", err)
	}
}

func TestLogoutAcceptsExpiredToken(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	fixedNow(svc, now)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{Username: "erin", Password: "right-password", Email: "erin@example.com", APIKey: "valid-key", Database: "testdb"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	login, err := svc.Login(ctx, LoginRequest{LoginID: "erin", Password: "right-password", APIKey: "valid-key", Database: "testdb", ClientIP: "10.3.3.3"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Move the clock well past expiry before logging out.
	fixedNow(svc, now.Add(2*time.Hour))
	if err := svc.Logout(ctx, login.Token); err != nil {
		t.Fatalf("Logout of expired token should succeed, got %v", err)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	fixedNow(svc, time.Now())
	ctx := context.Background()

	req := RegisterRequest{Username: "frank", Password: "right-password", Email: "frank@example.com", APIKey: "valid-key", Database: "testdb"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	req.Email = "frank2@example.com"
	_, err := svc.Register(ctx, req)
	if herr.KindOf(err) != herr.Conflict {
		t.Fatalf("expected Conflict for duplicate username, got %v", err)
	}
}

func TestValidateRegisterInputsRejectsShortPassword(t *testing.T) {
	err := validateRegisterInputs(RegisterRequest{Username: "gina", Password: "short", Email: "gina@example.com", APIKey: "k", Database: "d"})
	if herr.KindOf(err) != herr.InvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestIsValidEmailPermissiveness(t *testing.T) {
	cases := []struct {
		email string
		valid bool
	}{
		{"user@example.com", true},
		{"user@@example.com", true},
		{"user@example.com.", true},
		{"no-at-sign", false},
		{"trailing@", false},
	}
	for _, c := range cases {
		if got := isValidEmail(c.email); got != c.valid {
			t.Errorf("isValidEmail(%q) = %v, want %v", c.email, got, c.valid)
		}
	}
}

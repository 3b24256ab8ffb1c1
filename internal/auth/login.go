package auth

import (
	"context"
	"strings"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/crypto"
	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// LoginRequest is the body of POST /api/auth/login (spec.md §6).
type LoginRequest struct {
	LoginID   string
	Password  string
	APIKey    string
	Timezone  string
	Database  string
	ClientIP  string
	UserAgent string
}

// LoginResult is the 200 response body (spec.md §6: success/token/expires_at/user_id).
type LoginResult struct {
	Success   bool     `json:"success"`
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
}

// Login runs the full login flow (spec.md §4.6): api-key check, IP
// whitelist/blacklist, rate limiting, credential verification, JWT issuance.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := validateLoginInputs(req); err != nil {
		return nil, err
	}

	now := s.now()

	if err := s.verifyAPIKey(ctx, req.APIKey, now); err != nil {
		return nil, err
	}

	blacklisted, whitelisted, blockedUntil, err := s.lookupIP(ctx, req.ClientIP, now)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, herr.New(herr.Forbidden, "ip blacklisted")
	}
	if !whitelisted && blockedUntil > now.Unix() {
		return nil, herr.RateLimited(900)
	}

	if !whitelisted {
		failed, err := s.countFailedAttempts(ctx, req.LoginID, req.ClientIP, now)
		if err != nil {
			return nil, err
		}
		if failed >= s.cfg.MaxAttempts {
			if err := s.blockIP(ctx, req.ClientIP, now); err != nil {
				return nil, err
			}
			if err := s.recordAttempt(ctx, req.LoginID, req.ClientIP, req.UserAgent, now, false); err != nil {
				return nil, err
			}
			return nil, herr.RateLimited(900)
		}
	}

	acct, err := s.lookupAccount(ctx, req.LoginID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		_ = s.recordAttempt(ctx, req.LoginID, req.ClientIP, req.UserAgent, now, false)
		return nil, genericCredentialsError()
	}

	if acct.statusBits&StatusEnabled == 0 || acct.statusBits&StatusAuthorized == 0 {
		_ = s.recordAttempt(ctx, req.LoginID, req.ClientIP, req.UserAgent, now, false)
		return nil, herr.New(herr.Forbidden, "account disabled or unauthorized")
	}

	want := crypto.PasswordHash(itoa(acct.id), req.Password)
	if !crypto.ConstantTimeEqualString(want, acct.passwordHash) {
		_ = s.recordAttempt(ctx, req.LoginID, req.ClientIP, req.UserAgent, now, false)
		return nil, genericCredentialsError()
	}

	if err := s.recordAttempt(ctx, req.LoginID, req.ClientIP, req.UserAgent, now, true); err != nil {
		return nil, err
	}

	email := s.accountEmail(ctx, acct.id)

	tokenID, err := jti()
	if err != nil {
		return nil, err
	}
	claims := crypto.Claims{
		Iss:      "hydrogen",
		Sub:      itoa(acct.id),
		Aud:      "hydrogen",
		Jti:      tokenID,
		UserID:   itoa(acct.id),
		Username: acct.name,
		Email:    email,
		Roles:    nil,
		IP:       req.ClientIP,
		TZ:       req.Timezone,
		Database: req.Database,
	}
	token, err := crypto.GenerateJWT(claims, []byte(s.cfg.HMACSecret), now, s.jwtLifetime())
	if err != nil {
		return nil, herr.Wrap(herr.Internal, "generating token", err)
	}
	expiresAt := now.Add(s.jwtLifetime())

	if err := s.storeToken(ctx, acct.id, token, expiresAt); err != nil {
		return nil, err
	}

	return &LoginResult{
		Success:   true,
		Token:     "Bearer " + token,
		ExpiresAt: expiresAt.Unix(),
		UserID:    itoa(acct.id),
		Username:  acct.name,
		Email:     email,
	}, nil
}

func validateLoginInputs(req LoginRequest) error {
	if strings.TrimSpace(req.LoginID) == "" {
		return herr.New(herr.InvalidInput, "login_id is required")
	}
	if req.Password == "" {
		return herr.New(herr.InvalidInput, "password is required")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return herr.New(herr.InvalidInput, "api_key is required")
	}
	if strings.TrimSpace(req.Database) == "" {
		return herr.New(herr.InvalidInput, "database is required")
	}
	return nil
}

type accountRow struct {
	id           int64
	name         string
	passwordHash string
	statusBits   int64
}

func (s *Service) lookupAccount(ctx context.Context, loginID string) (*accountRow, error) {
	contactHash := crypto.SHA256Base64([]byte(strings.ToLower(loginID)))
	rows, _, err := s.query(ctx, sqlLookupAccount, []engine.Param{
		strParam("login_id", loginID),
		strParam("contact_hash", contactHash),
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &accountRow{
		id:           int64Column(r, "id"),
		name:         stringColumn(r, "name"),
		passwordHash: stringColumn(r, "password_hash"),
		statusBits:   int64Column(r, "status_bits"),
	}, nil
}

func (s *Service) accountEmail(ctx context.Context, accountID int64) string {
	rows, _, err := s.query(ctx, sqlAccountEmail, []engine.Param{intParam("account_id", accountID)})
	if err != nil || len(rows) == 0 {
		return ""
	}
	return stringColumn(rows[0], "contact")
}

func (s *Service) verifyAPIKey(ctx context.Context, apiKey string, now time.Time) error {
	rows, _, err := s.query(ctx, sqlVerifyAPIKey, []engine.Param{
		strParam("api_key", apiKey),
		timeParam("now", now),
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return herr.New(herr.Forbidden, "api key not licensed or expired")
	}
	return nil
}

// lookupIP reports whether the client IP is blacklisted, whitelisted, and
// (if a tempblock row exists) the unix time its block expires at.
func (s *Service) lookupIP(ctx context.Context, ip string, now time.Time) (blacklisted, whitelisted bool, blockedUntil int64, err error) {
	rows, _, err := s.query(ctx, sqlIPEntry, []engine.Param{strParam("ip", ip)})
	if err != nil {
		return false, false, 0, err
	}
	for _, r := range rows {
		kind := stringColumn(r, "kind")
		switch kind {
		case "blacklist":
			blacklisted = true
		case "whitelist":
			whitelisted = true
		case "tempblock":
			if exp, ok := r["expires_at"]; ok && exp != nil {
				if t, ok := parseTimeColumn(exp); ok && t.After(now) {
					blockedUntil = t.Unix()
				}
			}
		}
	}
	return blacklisted, whitelisted, blockedUntil, nil
}

func (s *Service) countFailedAttempts(ctx context.Context, loginID, clientIP string, now time.Time) (int, error) {
	since := now.Add(-s.rateLimitWindow())
	rows, _, err := s.query(ctx, sqlCountFailedAttempts, []engine.Param{
		strParam("login_id", loginID),
		strParam("client_ip", clientIP),
		timeParam("since", since),
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return int(int64Column(rows[0], "n")), nil
}

func (s *Service) blockIP(ctx context.Context, ip string, now time.Time) error {
	_, _, err := s.query(ctx, sqlInsertTempBlock, []engine.Param{
		strParam("ip", ip),
		timeParam("expires_at", now.Add(s.rateLimitWindow())),
	})
	return err
}

func (s *Service) recordAttempt(ctx context.Context, loginID, clientIP, userAgent string, now time.Time, success bool) error {
	n := int64(0)
	if success {
		n = 1
	}
	_, _, err := s.query(ctx, sqlInsertAttempt, []engine.Param{
		strParam("login_id", loginID),
		strParam("client_ip", clientIP),
		strParam("user_agent", userAgent),
		timeParam("ts", now),
		intParam("success", n),
	})
	return err
}

func (s *Service) storeToken(ctx context.Context, accountID int64, token string, expiresAt time.Time) error {
	_, _, err := s.query(ctx, sqlInsertJWT, []engine.Param{
		intParam("account_id", accountID),
		strParam("token_hash", crypto.TokenHash(token)),
		timeParam("expires_at", expiresAt),
		timeParam("created_at", s.now()),
	})
	return err
}

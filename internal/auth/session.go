package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/crypto"
	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// RenewResult is the 200 response body of POST /api/auth/renew (spec.md §6).
type RenewResult struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Renew validates an existing token, issues a fresh one, and swaps the
// jwt_store row for it atomically (spec.md §4.6, §5 "JWT renew's delete old
// hash + store new hash is atomic"). database, if empty, is taken from the
// claims of the token being renewed.
func (s *Service) Renew(ctx context.Context, token, database string) (*RenewResult, error) {
	bare := strings.TrimPrefix(token, "Bearer ")
	now := s.now()

	claims, err := crypto.ValidateJWT(bare, []byte(s.cfg.HMACSecret), now)
	if err != nil {
		return nil, herr.Wrap(herr.Unauthorized, "invalid token", err)
	}

	oldHash := crypto.TokenHash(bare)
	active, err := s.tokenActive(ctx, oldHash)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, herr.New(herr.Unauthorized, "token revoked")
	}

	if database == "" {
		database = claims.Database
	}

	tokenID, err := jti()
	if err != nil {
		return nil, err
	}
	newClaims := claims
	newClaims.Jti = tokenID
	newClaims.Database = database

	newToken, err := crypto.GenerateJWT(newClaims, []byte(s.cfg.HMACSecret), now, s.jwtLifetime())
	if err != nil {
		return nil, herr.Wrap(herr.Internal, "generating token", err)
	}
	expiresAt := now.Add(s.jwtLifetime())

	accountID, err := parseAccountID(claims.Sub)
	if err != nil {
		return nil, herr.Wrap(herr.Unauthorized, "invalid subject claim", err)
	}

	if err := s.rotateToken(ctx, accountID, oldHash, newToken, expiresAt, now); err != nil {
		return nil, err
	}

	return &RenewResult{Success: true, Token: newToken, ExpiresAt: expiresAt.Unix()}, nil
}

func parseAccountID(sub string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(sub, "%d", &id); err != nil {
		return 0, err
	}
	return id, nil
}

// Logout revokes a token. It accepts expired tokens (spec.md §4.6: "logout
// must work after session expiry") but still rejects a bad signature, since
// an attacker presenting a forged token should not be able to force a
// deletion against jwt_store.
func (s *Service) Logout(ctx context.Context, token string) error {
	bare := strings.TrimPrefix(token, "Bearer ")
	now := s.now()

	_, err := crypto.ValidateJWT(bare, []byte(s.cfg.HMACSecret), now)
	if err != nil && err != crypto.ErrJWTExpired && err != crypto.ErrJWTNotYetValid {
		return herr.Wrap(herr.Unauthorized, "invalid token", err)
	}

	hash := crypto.TokenHash(bare)
	_, _, qerr := s.query(ctx, sqlDeleteToken, []engine.Param{strParam("token_hash", hash)})
	return qerr
}

func (s *Service) tokenActive(ctx context.Context, tokenHash string) (bool, error) {
	rows, _, err := s.query(ctx, sqlTokenActive, []engine.Param{strParam("token_hash", tokenHash)})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// rotateToken deletes the old jwt_store row and inserts the new one inside
// a single transaction on a Lead-owned handle, bypassing queue dispatch the
// way the migration engine does for its own DDL — the only way to get the
// atomic "both succeed or both fail" guarantee spec.md requires for renew.
func (s *Service) rotateToken(ctx context.Context, accountID int64, oldHash, newToken string, expiresAt, now time.Time) error {
	pc, err := s.dqm.LeadHandle(ctx)
	if err != nil {
		return err
	}
	defer pc.Return()

	tx, err := pc.Handle().Begin(ctx)
	if err != nil {
		return herr.Wrap(herr.Unavailable, "beginning renew transaction", err)
	}

	deleteSQL, deleteParams, err := s.adapter.Rewrite(sqlDeleteToken, []engine.Param{strParam("token_hash", oldHash)})
	if err != nil {
		tx.Rollback()
		return herr.Wrap(herr.InvalidInput, "rewriting delete", err)
	}
	if _, _, err := tx.Execute(ctx, deleteSQL, deleteParams); err != nil {
		tx.Rollback()
		return err
	}

	insertSQL, insertParams, err := s.adapter.Rewrite(sqlInsertJWT, []engine.Param{
		intParam("account_id", accountID),
		strParam("token_hash", crypto.TokenHash(newToken)),
		timeParam("expires_at", expiresAt),
		timeParam("created_at", now),
	})
	if err != nil {
		tx.Rollback()
		return herr.Wrap(herr.InvalidInput, "rewriting insert", err)
	}
	if _, _, err := tx.Execute(ctx, insertSQL, insertParams); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return herr.Wrap(herr.Internal, "committing renew transaction", err)
	}
	return nil
}

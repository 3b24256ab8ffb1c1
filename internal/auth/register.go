package auth

import (
	"context"
	"strings"

	"github.com/hydrogen-services/hydrogen/internal/crypto"
	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// RegisterRequest is the body of POST /api/auth/register (spec.md §6).
type RegisterRequest struct {
	Username string
	Password string
	Email    string
	FullName string
	APIKey   string
	Database string
}

// RegisterResult is the 201 response body (spec.md §6).
type RegisterResult struct {
	Success  bool   `json:"success"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Register creates a new account (spec.md §4.6). The username/contact
// availability check and the insert are not wrapped in one transaction: a
// UNIQUE constraint on accounts.name and account_contacts(contact_type,
// contact) is the actual race guard, matching spec.md's own observation
// that duplicate-name detection is "distinct name AND distinct contact".
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := validateRegisterInputs(req); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.verifyAPIKey(ctx, req.APIKey, now); err != nil {
		return nil, err
	}

	taken, err := s.nameTaken(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, herr.New(herr.Conflict, "username already taken")
	}
	taken, err = s.contactTaken(ctx, "email", req.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, herr.New(herr.Conflict, "email already registered")
	}

	id, err := s.nextAccountID(ctx)
	if err != nil {
		return nil, err
	}
	passwordHash := crypto.PasswordHash(itoa(id), req.Password)

	if _, _, err := s.query(ctx, sqlInsertAccount, []engine.Param{
		intParam("id", id),
		strParam("name", req.Username),
		strParam("password_hash", passwordHash),
		intParam("status_bits", int64(StatusEnabled|StatusAuthorized)),
		timeParam("created_at", now),
	}); err != nil {
		return nil, err
	}

	emailHash := crypto.SHA256Base64([]byte(strings.ToLower(req.Email)))
	if _, _, err := s.query(ctx, sqlInsertContact, []engine.Param{
		intParam("account_id", id),
		strParam("contact_type", "email"),
		strParam("contact", req.Email),
		strParam("contact_hash", emailHash),
	}); err != nil {
		return nil, err
	}

	return &RegisterResult{Success: true, UserID: itoa(id), Username: req.Username}, nil
}

func validateRegisterInputs(req RegisterRequest) error {
	if len(req.Username) < 3 || len(req.Username) > 50 || !isValidUsername(req.Username) {
		return herr.New(herr.InvalidInput, "username must be 3-50 chars, alphanumeric, '_' or '-'")
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		return herr.New(herr.InvalidInput, "password must be 8-128 characters")
	}
	if !isValidEmail(req.Email) {
		return herr.New(herr.InvalidInput, "email is not valid")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return herr.New(herr.InvalidInput, "api_key is required")
	}
	if strings.TrimSpace(req.Database) == "" {
		return herr.New(herr.InvalidInput, "database is required")
	}
	return nil
}

func isValidUsername(u string) bool {
	for _, r := range u {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// isValidEmail is deliberately permissive: it only checks for an "@" and a
// "." somewhere after it. "user@@example.com" and "user@example.com."
// both pass, matching the documented behavior this is grounded on — do not
// tighten this without an explicit requirement change.
func isValidEmail(e string) bool {
	at := strings.Index(e, "@")
	if at < 0 || at == len(e)-1 {
		return false
	}
	return strings.Contains(e[at+1:], ".")
}

func (s *Service) nameTaken(ctx context.Context, name string) (bool, error) {
	rows, _, err := s.query(ctx, sqlNameTaken, []engine.Param{strParam("name", name)})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Service) contactTaken(ctx context.Context, contactType, contact string) (bool, error) {
	rows, _, err := s.query(ctx, sqlContactTaken, []engine.Param{
		strParam("contact_type", contactType),
		strParam("contact", contact),
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Service) nextAccountID(ctx context.Context) (int64, error) {
	rows, _, err := s.query(ctx, sqlNextAccountID, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 1, nil
	}
	return int64Column(rows[0], "next_id"), nil
}

package auth

// Literal SQL for Auth's own schema (spec.md §6 "Persisted state layout").
// These never go through query_ref/QTC: they are Auth's private tables, not
// conduit-exposed templates, so there is nothing for QTC to cache.
const (
	sqlVerifyAPIKey = `SELECT system_id, app_id FROM api_keys WHERE key_text = :api_key AND (valid_until IS NULL OR valid_until > :now)`

	sqlIPEntry = `SELECT kind, expires_at FROM ip_lists WHERE ip = :ip`

	sqlInsertTempBlock = `INSERT INTO ip_lists (ip, kind, expires_at) VALUES (:ip, 'tempblock', :expires_at)`

	sqlCountFailedAttempts = `SELECT COUNT(*) AS n FROM login_attempts WHERE login_id = :login_id AND client_ip = :client_ip AND ts > :since AND success = 0`

	sqlInsertAttempt = `INSERT INTO login_attempts (login_id, client_ip, user_agent, ts, success) VALUES (:login_id, :client_ip, :user_agent, :ts, :success)`

	sqlLookupAccount = `SELECT a.id, a.name, a.password_hash, a.status_bits FROM accounts a LEFT JOIN account_contacts c ON c.account_id = a.id WHERE a.name = :login_id OR c.contact_hash = :contact_hash LIMIT 1`

	sqlAccountEmail = `SELECT contact FROM account_contacts WHERE account_id = :account_id AND contact_type = 'email' LIMIT 1`

	sqlNextAccountID = `SELECT COALESCE(MAX(id), 0) + 1 AS next_id FROM accounts`

	sqlInsertAccount = `INSERT INTO accounts (id, name, password_hash, status_bits, created_at) VALUES (:id, :name, :password_hash, :status_bits, :created_at)`

	sqlInsertContact = `INSERT INTO account_contacts (account_id, contact_type, contact, contact_hash) VALUES (:account_id, :contact_type, :contact, :contact_hash)`

	sqlNameTaken = `SELECT 1 FROM accounts WHERE name = :name LIMIT 1`

	sqlContactTaken = `SELECT 1 FROM account_contacts WHERE contact_type = :contact_type AND contact = :contact LIMIT 1`

	sqlInsertJWT = `INSERT INTO jwt_store (account_id, token_hash, expires_at, created_at) VALUES (:account_id, :token_hash, :expires_at, :created_at)`

	sqlTokenActive = `SELECT 1 FROM jwt_store WHERE token_hash = :token_hash LIMIT 1`

	sqlDeleteToken = `DELETE FROM jwt_store WHERE token_hash = :token_hash`
)

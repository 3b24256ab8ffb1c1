package crypto

import (
	"encoding/json"
	"fmt"
	"time"
)

// jwtHeader is always {"alg":"HS256","typ":"JWT"}, fields emitted in that
// order (spec.md §6 "JWT bit layout"). encoding/json on a struct with tags
// in this field order already emits them in declaration order, so no custom
// marshaling is needed to pin the order.
type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims mirrors spec.md §3 "JWT claims" exactly.
type Claims struct {
	Iss      string   `json:"iss"`
	Sub      string   `json:"sub"`
	Aud      string   `json:"aud"`
	Jti      string   `json:"jti"`
	Iat      int64    `json:"iat"`
	Nbf      int64    `json:"nbf"`
	Exp      int64    `json:"exp"`
	UserID   string   `json:"user_id"`
	SystemID string   `json:"system_id,omitempty"`
	AppID    string   `json:"app_id,omitempty"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles,omitempty"`
	IP       string   `json:"ip,omitempty"`
	TZ       string   `json:"tz,omitempty"`
	Database string   `json:"database"`
}

// JWTError distinguishes the ways validation can fail so callers (auth
// renew/logout) can branch on the specific reason — e.g. logout must accept
// ErrJWTExpired but reject ErrJWTBadSignature.
type JWTError string

const (
	ErrJWTMalformed     JWTError = "malformed"
	ErrJWTBadSignature  JWTError = "bad_signature"
	ErrJWTExpired       JWTError = "expired"
	ErrJWTNotYetValid   JWTError = "not_yet_valid"
)

func (e JWTError) Error() string { return string(e) }

// GenerateJWT builds header.payload.signature per spec.md §6. iat/nbf/exp
// are computed here from now and lifetime; any values already set on claims
// for those three fields are overwritten.
func GenerateJWT(claims Claims, secret []byte, now time.Time, lifetime time.Duration) (string, error) {
	claims.Iat = now.Unix()
	claims.Nbf = now.Unix()
	claims.Exp = now.Add(lifetime).Unix()

	headerJSON, err := json.Marshal(jwtHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("jwt: marshal header: %w", err)
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("jwt: marshal payload: %w", err)
	}

	headerB64 := Base64URLEncode(headerJSON)
	payloadB64 := Base64URLEncode(payloadJSON)
	signingInput := headerB64 + "." + payloadB64
	sig := HMACSHA256(secret, []byte(signingInput))
	sigB64 := Base64URLEncode(sig)

	return signingInput + "." + sigB64, nil
}

// ParseJWT splits a token into its three segments and decodes the payload,
// WITHOUT verifying the signature or time bounds — callers must call
// ValidateJWT (or perform those checks themselves) before trusting Claims.
func ParseJWT(token string) (header, payloadB64 string, claims Claims, sig []byte, err error) {
	segs := splitJWT(token)
	if len(segs) != 3 {
		return "", "", Claims{}, nil, ErrJWTMalformed
	}

	headerJSON, err := Base64URLDecode(segs[0])
	if err != nil {
		return "", "", Claims{}, nil, ErrJWTMalformed
	}
	payloadJSON, err := Base64URLDecode(segs[1])
	if err != nil {
		return "", "", Claims{}, nil, ErrJWTMalformed
	}
	sig, err = Base64URLDecode(segs[2])
	if err != nil {
		return "", "", Claims{}, nil, ErrJWTMalformed
	}

	var hdr jwtHeader
	if jsonErr := json.Unmarshal(headerJSON, &hdr); jsonErr != nil {
		return "", "", Claims{}, nil, ErrJWTMalformed
	}
	var c Claims
	if jsonErr := json.Unmarshal(payloadJSON, &c); jsonErr != nil {
		return "", "", Claims{}, nil, ErrJWTMalformed
	}

	return segs[0], segs[1], c, sig, nil
}

// ValidateJWT verifies signature and time bounds (spec.md §3: "A JWT is
// valid iff its signature verifies AND nbf <= now < exp" — revocation-store
// lookup is the caller's responsibility, since that requires a DQM round
// trip this package cannot make).
func ValidateJWT(token string, secret []byte, now time.Time) (Claims, error) {
	segs := splitJWT(token)
	if len(segs) != 3 {
		return Claims{}, ErrJWTMalformed
	}

	headerB64, payloadB64, claims, sig, err := ParseJWT(token)
	if err != nil {
		return Claims{}, err
	}

	expected := HMACSHA256(secret, []byte(headerB64+"."+payloadB64))
	if !ConstantTimeEqual(sig, expected) {
		return Claims{}, ErrJWTBadSignature
	}

	nowUnix := now.Unix()
	if nowUnix < claims.Nbf {
		return Claims{}, ErrJWTNotYetValid
	}
	if nowUnix >= claims.Exp {
		return Claims{}, ErrJWTExpired
	}

	return claims, nil
}

func splitJWT(token string) []string {
	segs := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			segs = append(segs, token[start:i])
			start = i + 1
		}
	}
	segs = append(segs, token[start:])
	return segs
}

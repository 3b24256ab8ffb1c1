package auth

import (
	"strconv"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/crypto"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// jti mints a JWT ID from 16 bytes of CSRNG (spec.md §4.7: "128-bit random").
// random_bytes fails closed: a read error is surfaced, never papered over
// with a weaker fallback.
func jti() (string, error) {
	b, err := crypto.RandomBytes(16)
	if err != nil {
		return "", herr.Wrap(herr.Internal, "generating jti", err)
	}
	return crypto.Base64URLEncode(b), nil
}

// parseTimeColumn accepts the handful of shapes a driver might hand back for
// a TIMESTAMP column: a time.Time already, or a string in the layout every
// timeParam write uses.
func parseTimeColumn(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse("2006-01-02 15:04:05", t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidToken reports a token that failed parsing or validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the validated identity extracted from a staff bearer token.
type Claims struct {
	Subject string
	Roles   []string
}

// TokenParser validates HS256 bearer tokens issued by the school's SSO.
type TokenParser struct {
	Secret []byte
	Issuer string
	Skew   time.Duration
}

// Parse validates the serialized token and extracts the claims.
func (p TokenParser) Parse(serialized string) (Claims, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, p.Secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(p.Skew),
	}
	if p.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.Issuer))
	}
	token, err := jwt.ParseString(serialized, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims := Claims{Subject: token.Subject()}
	if raw, ok := token.Get("roles"); ok {
		claims.Roles = toStrings(raw)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func toStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}

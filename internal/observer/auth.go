package observer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// VerifierConfig selects the accepted signing methods: HS256 with Secret,
// RS256 with keys fetched from JWKSURL, or both.
type VerifierConfig struct {
	Secret     string
	JWKSURL    string
	Audience   string
	Issuer     string
	HTTPClient *http.Client
}

// Verifier checks bearer tokens and returns their subject.
type Verifier struct {
	secret   []byte
	keys     *keySet
	audience string
	issuer   string
	methods  []string
}

func NewVerifier(config VerifierConfig) *Verifier {
	verifier := &Verifier{
		secret:   []byte(config.Secret),
		audience: config.Audience,
		issuer:   config.Issuer,
	}
	if len(verifier.secret) > 0 {
		verifier.methods = append(verifier.methods, jwt.SigningMethodHS256.Alg())
	}
	if config.JWKSURL != "" {
		verifier.keys = newKeySet(config.JWKSURL, config.HTTPClient)
		verifier.methods = append(verifier.methods, jwt.SigningMethodRS256.Alg())
	}
	return verifier
}

// Verify returns the token subject. The issuer is only enforced when configured.
func (v *Verifier) Verify(token string) (string, error) {
	if v == nil || len(v.methods) == 0 {
		return "", fmt.Errorf("%w: verification not configured", ErrInvalidToken)
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFor, jwt.WithValidMethods(v.methods))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	if !claims.VerifyAudience(v.audience, true) {
		return "", fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "unknown", nil
	}
	return claims.Subject, nil
}

func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		kid, _ := token.Header["kid"].(string)
		return v.keys.key(kid)
	default:
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
}

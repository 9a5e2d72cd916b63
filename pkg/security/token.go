package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrMissingToken = errors.New("security: missing token")
	ErrInvalidToken = errors.New("security: invalid token")
)

const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleSecretary = "secretary"

	leeway = 30 * time.Second
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   string
	Role     string
	Username string
	Email    string
}

// DisplayName prefers the username, then the email local part.
func (p Principal) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	if i := strings.Index(p.Email, "@"); i > 0 {
		return p.Email[:i]
	}
	return p.Email
}

type userClaims struct {
	Role     string `json:"role,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// TokenVerifier validates HS256 bearer tokens issued by the identity service.
type TokenVerifier struct {
	key    []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{key: []byte(secret), issuer: issuer}
}

func (v *TokenVerifier) Verify(raw string) (*Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}
	if len(v.key) == 0 {
		return nil, fmt.Errorf("%w: verifier has no key", ErrInvalidToken)
	}

	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var std jwt.Claims
	var custom userClaims
	if err := tok.Claims(v.key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Issuer: v.issuer, Time: time.Now()}, leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	role := custom.Role
	if role == "" {
		role = RoleUser
	}
	return &Principal{
		UserID:   std.Subject,
		Role:     role,
		Username: custom.Username,
		Email:    custom.Email,
	}, nil
}

// Sign issues a bearer token for p. The identity service normally does this;
// it is kept here for tooling and tests.
func (v *TokenVerifier) Sign(p Principal, ttl time.Duration) (string, error) {
	sig, err := newSigner(v.key)
	if err != nil {
		return "", err
	}

	now := time.Now()
	std := jwt.Claims{
		Subject:  p.UserID,
		Issuer:   v.issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.Signed(sig).Claims(std).Claims(userClaims{Role: p.Role, Username: p.Username, Email: p.Email}).Serialize()
}

func newSigner(key []byte) (jose.Signer, error) {
	return jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
}

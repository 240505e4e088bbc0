package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vango-go/callcoach/pkg/core"
)

// Verifier turns a bearer token into a principal. Failures are
// *core.AuthenticationError.
type Verifier interface {
	Verify(token string) (*Principal, error)
}

// JWTVerifier accepts HS256 tokens whose subject is the user id.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

func NewJWTVerifier(secret, issuer string, leeway time.Duration) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		leeway: leeway,
		now:    time.Now,
	}
}

func (v *JWTVerifier) Verify(token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, core.NewAuthenticationError(core.AuthMissingToken, "missing token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &core.AuthenticationError{Reason: core.AuthExpiredToken, Message: "token expired", Err: err}
		}
		return nil, &core.AuthenticationError{Reason: core.AuthInvalidToken, Message: "invalid token", Err: err}
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return nil, core.NewAuthenticationError(core.AuthInvalidToken, "token has no subject")
	}
	return &Principal{UserID: sub}, nil
}

// SignToken issues a token that JWTVerifier accepts. It backs the CLI token
// command and tests.
func SignToken(secret, issuer, userID string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be > 0")
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		claims.Issuer = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authenticate resolves the principal for r. A nil verifier means auth is
// disabled and the caller names itself with the userId query parameter or
// the X-User-ID header.
func Authenticate(r *http.Request, v Verifier) (*Principal, error) {
	if v == nil {
		userID := strings.TrimSpace(r.URL.Query().Get("userId"))
		if userID == "" {
			userID = strings.TrimSpace(r.Header.Get("X-User-ID"))
		}
		if userID == "" {
			return nil, core.NewAuthenticationError(core.AuthMissingToken, "missing user id")
		}
		return &Principal{UserID: userID}, nil
	}
	token, ok := TokenFromRequest(r)
	if !ok {
		return nil, core.NewAuthenticationError(core.AuthMissingToken, "missing bearer token")
	}
	return v.Verify(token)
}

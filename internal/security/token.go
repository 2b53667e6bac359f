package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
)

// TokenKind discriminates access from refresh tokens so one can never
// be replayed in place of the other.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrWrongTokenKind = errors.New("wrong token kind")
)

type TokenClaims struct {
	Kind TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject of the claims.
func (c TokenClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrTokenMalformed
	}
	return id, nil
}

// TokenIssuer mints and validates the two token kinds with a single
// process-wide HMAC secret. It holds no mutable state; issued tokens
// are never persisted, so their lifetime is governed purely by the
// embedded expiry claim.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret string, accessTTL time.Duration, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 720 * time.Hour
	}

	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock overrides the issuer's clock. Test hook.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// Now is the issuer's view of the current time, the same clock that
// stamps iat/exp claims.
func (i *TokenIssuer) Now() time.Time { return i.now().UTC() }

func (i *TokenIssuer) MintAccess(userID int64) (string, time.Time, error) {
	return i.mint(userID, TokenKindAccess, i.accessTTL)
}

func (i *TokenIssuer) MintRefresh(userID int64) (string, time.Time, error) {
	return i.mint(userID, TokenKindRefresh, i.refreshTTL)
}

func (i *TokenIssuer) mint(userID int64, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("token secret is empty")
	}
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("invalid token subject %d", userID)
	}

	now := i.now().UTC()
	expiresAt := now.Add(ttl)
	claims := TokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        ksuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

// Parse validates raw as a token of wantKind. Failures classify as
// expired, bad signature, wrong kind, or malformed for everything else.
func (i *TokenIssuer) Parse(raw string, wantKind TokenKind) (TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return TokenClaims{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
			return TokenClaims{}, ErrTokenSignature
		default:
			return TokenClaims{}, ErrTokenMalformed
		}
	}
	if !token.Valid {
		return TokenClaims{}, ErrTokenMalformed
	}
	if claims.Kind != wantKind {
		return TokenClaims{}, ErrWrongTokenKind
	}
	if claims.ExpiresAt == nil {
		return TokenClaims{}, ErrTokenMalformed
	}
	if _, err := claims.UserID(); err != nil {
		return TokenClaims{}, err
	}
	return *claims, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"animevault/api/internal/models"
	"animevault/api/internal/repository"
	"animevault/api/internal/security"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password; the two are deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUsernameTaken = repository.ErrUsernameTaken
	ErrUserNotFound  = repository.ErrUserNotFound
)

// ValidationError reports malformed registration input. The caller can
// re-prompt; nothing was persisted.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

const (
	minUsernameLen = 3
	minPasswordLen = 6
)

// UserStore is the credential store the coordinator runs against.
// *repository.UserRepository implements it; tests substitute a fake.
type UserStore interface {
	Create(ctx context.Context, username string, passwordHash string) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	GetByID(ctx context.Context, id int64) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
}

// TokenPair is one independently valid access+refresh issuance. Pairs
// from repeated calls coexist; none is tracked server-side.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	CreatedAt    time.Time
}

// AccessGrant is the result of a refresh: a new access token only. The
// presented refresh token is not rotated and stays valid until its own
// expiry.
type AccessGrant struct {
	AccessToken string
	ExpiresIn   int64
}

// AuthService orchestrates registration, credential login, token
// issuance and refresh. Session establishment is the transport layer's
// job: Login returns the identity and nothing else.
type AuthService struct {
	users  UserStore
	issuer *security.TokenIssuer
	log    zerolog.Logger
}

func NewAuthService(users UserStore, issuer *security.TokenIssuer, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		issuer: issuer,
		log:    log,
	}
}

// Register validates, hashes and persists a new user. No session or
// token is created as a side effect.
func (s *AuthService) Register(ctx context.Context, username string, password string) (models.Summary, error) {
	username = strings.TrimSpace(username)
	if err := validateNewUser(username, password); err != nil {
		return models.Summary{}, err
	}

	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return models.Summary{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return models.Summary{}, fmt.Errorf("check username: %w", err)
	}

	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return models.Summary{}, err
	}

	user, err := s.users.Create(ctx, username, passwordHash)
	if err != nil {
		return models.Summary{}, err
	}

	s.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user.Summary(), nil
}

// Login verifies credentials and returns the identity. It establishes
// nothing: the web flow builds a session from this result, the API flow
// may ask for a token pair on top of it.
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.User, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return models.User{}, ErrInvalidCredentials
	}

	return user, nil
}

// IssueToken mints a fresh access+refresh pair for userID. Callers must
// already be authenticated; the session guard on the route enforces
// that. Repeated calls always succeed and each pair is valid on its
// own until its embedded expiry.
func (s *AuthService) IssueToken(ctx context.Context, userID int64) (TokenPair, error) {
	access, _, err := s.issuer.MintAccess(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.issuer.MintRefresh(userID)
	if err != nil {
		return TokenPair{}, err
	}

	s.log.Info().Int64("user_id", userID).Msg("token pair issued")
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		CreatedAt:    s.issuer.Now(),
	}, nil
}

// Refresh validates refreshToken and mints a new access token for its
// subject.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AccessGrant, error) {
	claims, err := s.issuer.Parse(refreshToken, security.TokenKindRefresh)
	if err != nil {
		return AccessGrant{}, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return AccessGrant{}, err
	}

	access, _, err := s.issuer.MintAccess(userID)
	if err != nil {
		return AccessGrant{}, err
	}

	s.log.Info().Int64("user_id", userID).Msg("access token refreshed")
	return AccessGrant{
		AccessToken: access,
		ExpiresIn:   int64(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// Profile loads the identity summary for userID.
func (s *AuthService) Profile(ctx context.Context, userID int64) (models.Summary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.Summary{}, err
	}
	return user.Summary(), nil
}

// ListUsers returns every registered identity summary.
func (s *AuthService) ListUsers(ctx context.Context) ([]models.Summary, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.Summary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, user.Summary())
	}
	return summaries, nil
}

func validateNewUser(username string, password string) error {
	if username == "" || password == "" {
		return ValidationError{Reason: "username and password are required"}
	}
	if len(username) < minUsernameLen {
		return ValidationError{Reason: fmt.Sprintf("username must be at least %d characters", minUsernameLen)}
	}
	if len(password) < minPasswordLen {
		return ValidationError{Reason: fmt.Sprintf("password must be at least %d characters", minPasswordLen)}
	}
	return nil
}

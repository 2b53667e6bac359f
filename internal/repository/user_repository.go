package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"animevault/api/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a new user and returns it with the assigned id. A
// unique-violation on the username maps to ErrUsernameTaken so callers
// do not have to rely on a racy pre-check alone.
func (r *UserRepository) Create(ctx context.Context, username string, passwordHash string) (models.User, error) {
	const query = `
		INSERT INTO users (username, password_hash, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, username, password_hash, created_at
	`

	row := r.pool.QueryRow(ctx, query, username, passwordHash)
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = $1
	`

	row := r.pool.QueryRow(ctx, query, username)
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (models.User, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM users WHERE id = $1
	`

	row := r.pool.QueryRow(ctx, query, id)
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	const query = `
		SELECT id, username, password_hash, created_at
		FROM users ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.PasswordHash,
			&user.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

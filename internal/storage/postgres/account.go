package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/plaza/internal/identity"
)

// Account represents a registered user's login record.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

var (
	// ErrAccountNotFound is returned when an account lookup yields no results.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when attempting to register a duplicate email.
	ErrAccountExists = errors.New("account already exists")
	// ErrDisplayNameTaken is returned when another profile uses the display name.
	ErrDisplayNameTaken = errors.New("display name already taken")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AccountRepository provides user and profile persistence operations.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates an AccountRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a user with a bcrypt-hashed password together with its
// profile. A nil avatar stores the default guest appearance.
//
// Precondition: email, password, and displayName must be non-empty.
// Postcondition: Returns the created Account and Profile, or ErrAccountExists /
// ErrDisplayNameTaken on a uniqueness conflict. Nothing is written on error.
func (r *AccountRepository) Create(ctx context.Context, email, password, displayName string, avatar map[string]any) (Account, identity.Profile, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, identity.Profile{}, fmt.Errorf("hashing password: %w", err)
	}
	if avatar == nil {
		avatar = identity.DefaultAvatar()
	}
	avatarJSON, err := json.Marshal(avatar)
	if err != nil {
		return Account{}, identity.Profile{}, fmt.Errorf("encoding avatar: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Account{}, identity.Profile{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acct := Account{ID: uuid.NewString(), Email: email, PasswordHash: hash}
	err = tx.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		acct.ID, email, hash,
	).Scan(&acct.CreatedAt)
	if err != nil {
		return Account{}, identity.Profile{}, conflictErr("inserting user", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (user_id, display_name, avatar_json)
		 VALUES ($1, $2, $3)`,
		acct.ID, displayName, avatarJSON,
	); err != nil {
		return Account{}, identity.Profile{}, conflictErr("inserting profile", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, identity.Profile{}, fmt.Errorf("committing account: %w", err)
	}
	return acct, identity.Profile{UserID: acct.ID, DisplayName: displayName, Avatar: avatar}, nil
}

// Authenticate verifies credentials and returns the matching account.
//
// Precondition: email and password must be non-empty.
// Postcondition: Returns the Account if credentials are valid,
// ErrAccountNotFound if the email doesn't exist,
// or ErrInvalidCredentials if the password is wrong.
func (r *AccountRepository) Authenticate(ctx context.Context, email, password string) (Account, error) {
	acct, err := r.GetByEmail(ctx, email)
	if err != nil {
		return Account{}, err
	}
	if !CheckPassword(password, acct.PasswordHash) {
		return Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

// GetByEmail retrieves an account by email.
//
// Postcondition: Returns the Account or ErrAccountNotFound.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	var acct Account
	err := r.db.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at
		 FROM users WHERE email = $1`,
		email,
	).Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("querying account: %w", err)
	}
	return acct, nil
}

// GetByID retrieves an account by user id.
//
// Postcondition: Returns the Account or ErrAccountNotFound.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (Account, error) {
	var acct Account
	err := r.db.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("querying account: %w", err)
	}
	return acct, nil
}

// ProfileByUserID loads the public profile of a user.
//
// Postcondition: Returns the Profile, or an error wrapping identity.ErrProfileNotFound.
func (r *AccountRepository) ProfileByUserID(ctx context.Context, userID string) (*identity.Profile, error) {
	var (
		p          identity.Profile
		avatarJSON []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT user_id, display_name, avatar_json
		 FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &avatarJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", userID, identity.ErrProfileNotFound)
		}
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	if err := json.Unmarshal(avatarJSON, &p.Avatar); err != nil {
		return nil, fmt.Errorf("decoding avatar for %q: %w", userID, err)
	}
	return &p, nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty and at most 72 bytes.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// conflictErr maps unique violations on users and profiles to sentinel errors.
func conflictErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "users_email_key":
			return ErrAccountExists
		case "profiles_display_name_key":
			return ErrDisplayNameTaken
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

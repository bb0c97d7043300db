package repository

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
	"go-auth-service/pkg/apierror"
)

const userColumns = `id, email, phone_number, username, full_name, password_hash, status,
	date_of_birth, gender, bio, is_deleted, created_at, updated_at, deleted_at`

// UserRepository is the Postgres identity store. Soft-deleted rows are
// invisible to every lookup.
type UserRepository struct {
	pool   *pgxpool.Pool
	hasher security.Hasher

	decoyOnce sync.Once
	decoy     string
}

func NewUserRepository(pool *pgxpool.Pool, hasher security.Hasher) *UserRepository {
	return &UserRepository{pool: pool, hasher: hasher}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.User{}, model.ErrUserNotFound
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND is_deleted = false`, id)
	return scanUser(row, "find user by id")
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE lower(email) = lower($1) AND is_deleted = false`, strings.TrimSpace(email))
	return scanUser(row, "find user by email")
}

func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE phone_number = $1 AND is_deleted = false`, strings.TrimSpace(phone))
	return scanUser(row, "find user by phone")
}

// FindByIdentity matches identity against email or phone number in one query.
func (r *UserRepository) FindByIdentity(ctx context.Context, identity string) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE (lower(email) = lower($1) OR phone_number = $1) AND is_deleted = false
		 ORDER BY created_at
		 LIMIT 1`, strings.TrimSpace(identity))
	return scanUser(row, "find user by identity")
}

// CreateWithPassword validates the registration fields and the password
// policy, then inserts the user. Validation and uniqueness failures come back
// as a BadRequest APIError carrying per-field reasons.
func (r *UserRepository) CreateWithPassword(ctx context.Context, nu model.NewUser, password string) (model.User, error) {
	nu.Email = strings.TrimSpace(nu.Email)
	nu.PhoneNumber = strings.TrimSpace(nu.PhoneNumber)
	nu.Username = strings.TrimSpace(nu.Username)
	nu.FullName = strings.TrimSpace(nu.FullName)

	if fields := validateNewUser(nu, password); len(fields) > 0 {
		return model.User{}, apierror.BadRequest("registration is invalid", fields...)
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return model.User{}, err
	}

	u := model.User{
		ID:           uuid.NewString(),
		Email:        nu.Email,
		PhoneNumber:  nu.PhoneNumber,
		Username:     nu.Username,
		FullName:     nu.FullName,
		PasswordHash: hash,
		Status:       model.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO users (id, email, phone_number, username, full_name, password_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.PhoneNumber, u.Username, u.FullName, u.PasswordHash, u.Status, u.CreatedAt)
	if err != nil {
		if apiErr := uniqueViolation(err); apiErr != nil {
			return model.User{}, apiErr
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	return u, nil
}

// VerifyPassword reports whether password matches u. A user without a hash
// is compared against a decoy so the call costs the same either way.
func (r *UserRepository) VerifyPassword(u model.User, password string) bool {
	if u.PasswordHash == "" {
		r.hasher.Compare(r.decoyHash(), password)
		return false
	}
	return r.hasher.Compare(u.PasswordHash, password)
}

func (r *UserRepository) decoyHash() string {
	r.decoyOnce.Do(func() {
		r.decoy, _ = r.hasher.Hash("decoy-" + uuid.NewString())
	})
	return r.decoy
}

// SetPasswordHash applies the password policy, hashes and stores password.
func (r *UserRepository) SetPasswordHash(ctx context.Context, userID string, password string) error {
	if fields := security.ValidatePassword(password); len(fields) > 0 {
		return apierror.BadRequest("password does not meet policy", fields...)
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3
		 WHERE id = $1 AND is_deleted = false`,
		userID, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) SetStatus(ctx context.Context, userID string, status model.UserStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = $3
		 WHERE id = $1 AND is_deleted = false`,
		userID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) ListRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.name FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1
		 ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan roles: %w", err)
	}
	return roles, nil
}

// AddRoles grants the named roles. Already-held roles are ignored; an unknown
// role name fails the whole call.
func (r *UserRepository) AddRoles(ctx context.Context, userID string, roles ...string) error {
	if len(roles) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add roles: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var known int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM roles WHERE name = ANY($1)`, roles).Scan(&known); err != nil {
		return fmt.Errorf("resolve roles: %w", err)
	}
	if known != len(uniqueStrings(roles)) {
		return model.ErrRoleNotFound
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT $1, id FROM roles WHERE name = ANY($2)
		 ON CONFLICT DO NOTHING`, userID, roles); err != nil {
		return fmt.Errorf("add roles: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add roles: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row, op string) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PhoneNumber, &u.Username, &u.FullName, &u.PasswordHash,
		&u.Status, &u.DateOfBirth, &u.Gender, &u.Bio, &u.IsDeleted, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func validateNewUser(nu model.NewUser, password string) []apierror.FieldError {
	var fields []apierror.FieldError

	if nu.Email == "" {
		fields = append(fields, apierror.FieldError{Field: "email", Reason: "is required"})
	} else if _, err := mail.ParseAddress(nu.Email); err != nil {
		fields = append(fields, apierror.FieldError{Field: "email", Reason: "is not a valid email address"})
	}
	if nu.PhoneNumber == "" {
		fields = append(fields, apierror.FieldError{Field: "phoneNumber", Reason: "is required"})
	}
	if nu.Username == "" {
		fields = append(fields, apierror.FieldError{Field: "userName", Reason: "is required"})
	}

	return append(fields, security.ValidatePassword(password)...)
}

// uniqueViolation maps a 23505 on one of the users unique indexes to the
// field that collided.
func uniqueViolation(err error) *apierror.APIError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}

	switch pgErr.ConstraintName {
	case "ux_users_email":
		return apierror.BadRequest("Email already exists", apierror.FieldError{Field: "email", Reason: "already exists"})
	case "ux_users_phone":
		return apierror.BadRequest("Phone number already exists", apierror.FieldError{Field: "phoneNumber", Reason: "already exists"})
	case "ux_users_username":
		return apierror.BadRequest("Username already exists", apierror.FieldError{Field: "userName", Reason: "already exists"})
	default:
		return apierror.BadRequest("User already exists")
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

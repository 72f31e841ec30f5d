package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clarofin/be-expense-claims/internal/apperrors"
	"github.com/clarofin/be-expense-claims/internal/database"
)

// UserRepository handles users, companies and the reporting hierarchy.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, company_id, name, email, password_hash, role, manager_id, created_at, updated_at`

// FindByEmail returns the user with the given email, or nil when none exists.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := r.scanUser(r.db.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to find user by email")
	}
	return u, nil
}

// GetByID returns a user scoped to a company.
func (r *UserRepository) GetByID(ctx context.Context, userID, companyID int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND company_id = $2`
	u, err := r.scanUser(r.db.QueryRow(ctx, query, userID, companyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", formatID(userID))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetManagerOf returns the direct manager's id for a user, or nil when the
// user has no manager. A missing user also yields nil: from the routing
// engine's point of view both mean the chain ends here.
func (r *UserRepository) GetManagerOf(ctx context.Context, userID int64) (*int64, error) {
	query := `SELECT manager_id FROM users WHERE id = $1`
	var managerID *int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&managerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get manager")
	}
	return managerID, nil
}

// CreateCompanyAndAdmin creates a company and its first admin user in one
// transaction.
func (r *UserRepository) CreateCompanyAndAdmin(
	ctx context.Context,
	companyName, defaultCurrencyCode string,
	admin *User,
) (*Company, error) {
	company := &Company{Name: companyName, DefaultCurrencyCode: defaultCurrencyCode}

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		companyQuery := `
			INSERT INTO companies (name, default_currency_code)
			VALUES ($1, $2)
			RETURNING id, created_at
		`
		err := tx.QueryRow(ctx, companyQuery, company.Name, company.DefaultCurrencyCode).
			Scan(&company.ID, &company.CreatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create company")
		}

		userQuery := `
			INSERT INTO users (company_id, name, email, password_hash, role)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`
		admin.CompanyID = company.ID
		admin.Role = RoleAdmin
		err = tx.QueryRow(ctx, userQuery,
			admin.CompanyID, admin.Name, admin.Email, admin.PasswordHash, string(admin.Role),
		).Scan(&admin.ID, &admin.CreatedAt, &admin.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create admin user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return company, nil
}

// Create inserts a user within an existing company.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (company_id, name, email, password_hash, role, manager_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		u.CompanyID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.ManagerID,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create user")
	}
	return nil
}

// ListByCompany returns all users in a company.
func (r *UserRepository) ListByCompany(ctx context.Context, companyID int64) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE company_id = $1 ORDER BY name ASC`
	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		err := rows.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.PasswordHash,
			&u.Role, &u.ManagerID, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, nil
}

// UpdatePassword stores a new password hash for a user.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`
	var returnedID int64
	err := r.db.QueryRow(ctx, query, userID, passwordHash).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("user", formatID(userID))
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update password")
	}
	return nil
}

// SetManager reassigns a user's direct manager. A nil managerID clears it.
func (r *UserRepository) SetManager(ctx context.Context, userID, companyID int64, managerID *int64) error {
	query := `
		UPDATE users
		SET manager_id = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING id
	`
	var returnedID int64
	err := r.db.QueryRow(ctx, query, userID, companyID, managerID).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("user", formatID(userID))
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to set manager")
	}
	return nil
}

type userScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.CompanyID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.ManagerID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

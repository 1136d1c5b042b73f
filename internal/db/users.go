package db

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/backoffice/internal/accountid"
	"github.com/xtrntr/backoffice/internal/models"
)

// accountIDLock is the advisory lock key serializing account id assignment
const accountIDLock int64 = 0x6163636f756e74

const userColumns = `u.id, u.email, u.password, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
	COALESCE(u.account_id, ''), u.free_margin::text, u.user_funds::text, u.balance::text,
	u.equity::text, u.margin_level::text, u.is_active, u.is_staff, u.is_superuser, u.date_joined`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var freeMargin, userFunds, balance, equity, marginLevel string
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.AccountID, &freeMargin, &userFunds, &balance, &equity, &marginLevel,
		&user.IsActive, &user.IsStaff, &user.IsSuperuser, &user.DateJoined)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{freeMargin, &user.FreeMargin},
		{userFunds, &user.UserFunds},
		{balance, &user.Balance},
		{equity, &user.Equity},
		{marginLevel, &user.MarginLevel},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse monetary field %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return user, nil
}

// RegisterUser inserts a user and, in the same transaction, gets or creates
// its token and assigns a unique account id. It returns the stored user and
// the token key.
func (db *DB) RegisterUser(ctx context.Context, nu models.NewUser, tokenKey string, ids *accountid.Generator) (*models.User, string, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (email, password, first_name, last_name, is_staff, is_superuser)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		nu.Email, nu.PasswordHash, nu.FirstName, nu.LastName, nu.IsStaff, nu.IsSuperuser).Scan(&userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", translate(err))
	}

	key, err := getOrCreateToken(ctx, tx, userID, tokenKey)
	if err != nil {
		return nil, "", err
	}

	if err := assignAccountID(ctx, tx, userID, ids); err != nil {
		return nil, "", err
	}

	user, err := scanUser(tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users u WHERE u.id = $1", userID))
	if err != nil {
		return nil, "", fmt.Errorf("failed to get user: %w", translate(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, key, nil
}

// assignAccountID sets account_id if the row has none. The advisory lock
// is held until the surrounding transaction ends, so no other registration
// can check and claim the same identifier in between.
func assignAccountID(ctx context.Context, tx querier, userID int64, ids *accountid.Generator) error {
	var current string
	err := tx.QueryRow(ctx, "SELECT COALESCE(account_id, '') FROM users WHERE id = $1", userID).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to get account id: %w", translate(err))
	}
	if current != "" {
		return nil
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", accountIDLock); err != nil {
		return fmt.Errorf("failed to lock account ids: %w", err)
	}

	id, err := ids.GenerateUnique(ctx, func(ctx context.Context, candidate string) (bool, error) {
		var exists bool
		err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE account_id = $1)", candidate).Scan(&exists)
		return exists, err
	})
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, "UPDATE users SET account_id = $1 WHERE id = $2 AND account_id IS NULL", id, userID)
	if err != nil {
		return fmt.Errorf("failed to assign account id: %w", translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to assign account id: %w", ErrNotFound)
	}
	return nil
}

func getOrCreateToken(ctx context.Context, q querier, userID int64, key string) (string, error) {
	_, err := q.Exec(ctx,
		"INSERT INTO auth_tokens (key, user_id) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		key, userID)
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", translate(err))
	}

	var stored string
	if err := q.QueryRow(ctx, "SELECT key FROM auth_tokens WHERE user_id = $1", userID).Scan(&stored); err != nil {
		return "", fmt.Errorf("failed to get token: %w", translate(err))
	}
	return stored, nil
}

// GetOrCreateToken returns the user's token, storing key only if the user
// has none yet
func (db *DB) GetOrCreateToken(ctx context.Context, userID int64, key string) (string, error) {
	return getOrCreateToken(ctx, db.Pool, userID, key)
}

// GetUserByEmail retrieves a user by exact (already normalized) email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users u WHERE u.email = $1", email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", translate(err))
	}
	return user, nil
}

// GetUserByID retrieves a user by primary key
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users u WHERE u.id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", translate(err))
	}
	return user, nil
}

// GetUserByToken retrieves the owner of a token key
func (db *DB) GetUserByToken(ctx context.Context, key string) (*models.User, error) {
	user, err := scanUser(db.Pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM auth_tokens t JOIN users u ON u.id = t.user_id WHERE t.key = $1", key))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by token: %w", translate(err))
	}
	return user, nil
}

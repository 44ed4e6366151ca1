package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/joinauth/internal/model"
)

const userColumns = `id, email, username, password_hash, first_name, last_name, date_nais, mobile, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.DateNais, &user.Mobile,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username", username)
}

// findOne はcolumnは固定値のみを受け付ける（外部入力を渡さないこと）。
func (r *PostgresUserRepo) findOne(ctx context.Context, column, value string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`,
		value,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by %s: %w", column, err)
	}
	return user, nil
}

// CreateWithJoinCode は招待コードの削除とユーザーの作成を同一トランザクションで行う。
func (r *PostgresUserRepo) CreateWithJoinCode(ctx context.Context, user *model.User, joinKey string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 招待コードを消費
	result, err := tx.ExecContext(ctx,
		`DELETE FROM join_codes WHERE key = $1`,
		joinKey,
	)
	if err != nil {
		return fmt.Errorf("failed to consume join code: %w", err)
	}
	consumed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if consumed == 0 {
		return ErrJoinCodeNotFound
	}

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.Username, user.PasswordHash,
		user.FirstName, user.LastName, user.DateNais, user.Mobile,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if dupErr := translateUniqueViolation(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Update は指定フィールドのみを更新し、更新後のユーザーを返す。
// 更新対象がない場合は現在のユーザーを返す。
func (r *PostgresUserRepo) Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error) {
	if update.IsEmpty() {
		user, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrNotFound
		}
		return user, nil
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("email", update.Email)
	add("username", update.Username)
	add("password_hash", update.PasswordHash)
	add("first_name", update.FirstName)
	add("last_name", update.LastName)
	add("date_nais", update.DateNais)
	add("mobile", update.Mobile)

	args = append(args, id)
	query := `UPDATE users SET ` + strings.Join(sets, ", ") + `, updated_at = now()` +
		fmt.Sprintf(` WHERE id = $%d`, len(args)) +
		` RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		if dupErr := translateUniqueViolation(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if isInvalidID(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExcludingUsername は指定ユーザー名以外の全ユーザーを作成日時順で返す。
func (r *PostgresUserRepo) ListExcludingUsername(ctx context.Context, username string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username <> $1 ORDER BY created_at`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/joinauth/internal/model"
)

// PostgresJoinCodeRepo はPostgreSQLを使用した招待コードリポジトリ。
type PostgresJoinCodeRepo struct {
	db *sql.DB
}

// NewPostgresJoinCodeRepo はPostgresJoinCodeRepoを生成する。
func NewPostgresJoinCodeRepo(db *sql.DB) *PostgresJoinCodeRepo {
	return &PostgresJoinCodeRepo{db: db}
}

// Create は招待コードを保存する。
func (r *PostgresJoinCodeRepo) Create(ctx context.Context, code *model.JoinCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO join_codes (key, receiver, created_at) VALUES ($1, $2, $3)`,
		code.Key, code.Receiver, code.CreatedAt,
	)
	if err != nil {
		if dupErr := translateUniqueViolation(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to create join code: %w", err)
	}
	return nil
}

// FindByKey はキーが完全一致する招待コードを取得する。見つからない場合はnilを返す。
func (r *PostgresJoinCodeRepo) FindByKey(ctx context.Context, key string) (*model.JoinCode, error) {
	code := &model.JoinCode{}
	err := r.db.QueryRowContext(ctx,
		`SELECT key, receiver, created_at FROM join_codes WHERE key = $1`,
		key,
	).Scan(&code.Key, &code.Receiver, &code.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find join code: %w", err)
	}
	return code, nil
}

// DeleteByKey は招待コードを削除する。
func (r *PostgresJoinCodeRepo) DeleteByKey(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM join_codes WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete join code: %w", err)
	}
	return nil
}

// compile-time interface check
var _ JoinCodeRepository = (*PostgresJoinCodeRepo)(nil)

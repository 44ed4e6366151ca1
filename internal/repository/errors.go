package repository

import (
	"errors"

	"github.com/lib/pq"
)

const (
	// uniqueViolation はPostgreSQLのユニーク制約違反のSQLSTATE。
	uniqueViolation = "23505"
	// invalidTextRepresentation はUUID列に不正な文字列を渡した場合などのSQLSTATE。
	invalidTextRepresentation = "22P02"
)

// translateUniqueViolation はユニーク制約違反を制約名に応じたエラーに変換する。
// 該当しない場合はnilを返す。
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case "users_email_key":
		return ErrDuplicateEmail
	case "users_username_key":
		return ErrDuplicateUsername
	case "join_codes_pkey":
		return ErrDuplicateJoinCode
	}
	return nil
}

// isInvalidID はUUIDとして解釈できないIDによるエラーかどうかを返す。
// そのようなIDのユーザーは存在しないため、呼び出し側はNotFoundとして扱う。
func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation
}

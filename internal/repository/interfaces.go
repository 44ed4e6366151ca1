// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/joinauth/internal/model"
)

var (
	// ErrNotFound は更新・削除対象のレコードが存在しない場合のエラー。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail はメールアドレスのユニーク制約違反。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrDuplicateUsername はユーザー名のユニーク制約違反。
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrDuplicateJoinCode は招待コードのキー衝突。
	ErrDuplicateJoinCode = errors.New("join code already exists")
	// ErrJoinCodeNotFound は消費しようとした招待コードが存在しない場合のエラー。
	// 同時に同じコードで登録された場合もこのエラーになる。
	ErrJoinCodeNotFound = errors.New("join code not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// CreateWithJoinCode は招待コードの削除とユーザーの作成を同一トランザクションで行う。
	// 招待コードが存在しない場合はErrJoinCodeNotFoundを返し、ユーザーは作成されない。
	CreateWithJoinCode(ctx context.Context, user *model.User, joinKey string) error

	// Update は指定フィールドのみを更新し、更新後のユーザーを返す。
	// 存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error

	// ListExcludingUsername は指定ユーザー名以外の全ユーザーを作成日時順で返す。
	ListExcludingUsername(ctx context.Context, username string) ([]*model.User, error)
}

// JoinCodeRepository は招待コードの永続化インターフェース。
type JoinCodeRepository interface {
	// Create は招待コードを保存する。キーが衝突した場合はErrDuplicateJoinCodeを返す。
	Create(ctx context.Context, code *model.JoinCode) error

	// FindByKey はキーが完全一致する招待コードを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.JoinCode, error)

	// DeleteByKey は招待コードを削除する。存在しない場合もエラーにしない。
	DeleteByKey(ctx context.Context, key string) error
}

// Package model はドメインモデルを定義する。
package model

import "time"

// AdminUsername は管理者アカウントのユーザー名。
// 全ユーザー一覧からは除外される。
const AdminUsername = "admin"

// User はサービス利用ユーザーを表す。
// PasswordHashはレスポンスに含めてはならない。
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	DateNais     string // 生年月日
	Mobile       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserUpdate はユーザーの部分更新内容を表す。
// nilのフィールドは変更しない。
type UserUpdate struct {
	Email        *string
	Username     *string
	PasswordHash *string
	FirstName    *string
	LastName     *string
	DateNais     *string
	Mobile       *string
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u UserUpdate) IsEmpty() bool {
	return u.Email == nil && u.Username == nil && u.PasswordHash == nil &&
		u.FirstName == nil && u.LastName == nil && u.DateNais == nil && u.Mobile == nil
}

// Apply は更新内容をユーザーに反映する。
func (u UserUpdate) Apply(user *User) {
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.Username != nil {
		user.Username = *u.Username
	}
	if u.PasswordHash != nil {
		user.PasswordHash = *u.PasswordHash
	}
	if u.FirstName != nil {
		user.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		user.LastName = *u.LastName
	}
	if u.DateNais != nil {
		user.DateNais = *u.DateNais
	}
	if u.Mobile != nil {
		user.Mobile = *u.Mobile
	}
}

// JoinCode はユーザー登録に必要な招待コードを表す。
// ユーザー登録の成功時に同一トランザクションで削除される。
type JoinCode struct {
	Key       string
	Receiver  string
	CreatedAt time.Time
}

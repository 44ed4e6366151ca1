// Package user はユーザー登録・ログイン・プロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"

	"github.com/hitoshi/joinauth/internal/metrics"
	"github.com/hitoshi/joinauth/internal/model"
	"github.com/hitoshi/joinauth/internal/repository"
	"github.com/hitoshi/joinauth/internal/security"
)

// JoinCodeChecker は招待コードの検証インターフェース。
type JoinCodeChecker interface {
	Check(ctx context.Context, code string) error
}

// PasswordHasher はパスワードハッシュのインターフェース。
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) bool
}

// TokenIssuer はIDトークン発行のインターフェース。
type TokenIssuer interface {
	Issue(userID string) (string, error)
	IsAdmin(userID string) bool
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Join      string `json:"join"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	DateNais  string `json:"dateNais"`
	Mobile    string `json:"mobile"`
}

// UpdateInput はユーザー更新の入力。空文字のフィールドは変更しない。
type UpdateInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
	DateNais  string
	Mobile    string
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token   string
	IsAdmin bool
	User    *model.User
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	joinCodes JoinCodeChecker
	hasher    PasswordHasher
	tokens    TokenIssuer
	sanitizer security.ProfileSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	joinCodes JoinCodeChecker,
	hasher PasswordHasher,
	tokens TokenIssuer,
	sanitizer security.ProfileSanitizer,
	m metrics.MetricsCollector,
) *Service {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{
		userRepo:  userRepo,
		joinCodes: joinCodes,
		hasher:    hasher,
		tokens:    tokens,
		sanitizer: sanitizer,
		metrics:   m,
		now:       time.Now,
	}
}

// DeriveUsername は名・姓・生年月日の先頭2文字ずつを連結してユーザー名を導出する。
// 2文字に満たない項目はそのまま使う。
func DeriveUsername(firstName, lastName, dateNais string) string {
	return prefix(firstName, 2) + prefix(lastName, 2) + prefix(dateNais, 2)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) < n {
		return s
	}
	return string(r[:n])
}

// Register は招待コードを消費してユーザーを登録する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Join = strings.TrimSpace(in.Join)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = s.sanitizer.Sanitize(in.FirstName)
	in.LastName = s.sanitizer.Sanitize(in.LastName)
	in.DateNais = s.sanitizer.Sanitize(in.DateNais)
	in.Mobile = s.sanitizer.Sanitize(in.Mobile)

	if err := validateRegisterInput(in); err != nil {
		return nil, err
	}

	if err := s.joinCodes.Check(ctx, in.Join); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("メールアドレスの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	username := DeriveUsername(in.FirstName, in.LastName, in.DateNais)
	taken, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザー名の確認に失敗しました: %w", err)
	}
	if taken != nil {
		return nil, model.NewDuplicateUsernameError(username)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Username:     username,
		PasswordHash: hashed,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		DateNais:     in.DateNais,
		Mobile:       in.Mobile,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.CreateWithJoinCode(ctx, user, in.Join); err != nil {
		return nil, translateRepoError(err, username)
	}

	s.metrics.RecordRegistration()
	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

func validateRegisterInput(in RegisterInput) error {
	// パスワードは空白のみを未入力とみなすが、保存時は入力どおりにハッシュする
	check := in
	check.Password = strings.TrimSpace(in.Password)
	err := validation.ValidateStruct(&check,
		validation.Field(&check.Join, validation.Required),
		validation.Field(&check.Email, validation.Required),
		validation.Field(&check.Password, validation.Required),
		validation.Field(&check.FirstName, validation.Required),
		validation.Field(&check.LastName, validation.Required),
		validation.Field(&check.DateNais, validation.Required),
		validation.Field(&check.Mobile, validation.Required),
	)
	if err != nil {
		var verrs validation.Errors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("入力の検証に失敗しました: %w", err)
		}
		fields := make([]string, 0, len(verrs))
		for name := range verrs {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		return model.NewMissingFieldsError(fields)
	}
	if err := validation.Validate(check.Email, is.Email); err != nil {
		return model.NewInvalidEmailError(check.Email)
	}
	return nil
}

// Login はユーザー名とパスワードで認証し、IDトークンを発行する。
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		var fields []string
		if username == "" {
			fields = append(fields, "username")
		}
		if password == "" {
			fields = append(fields, "password")
		}
		return nil, model.NewMissingFieldsError(fields)
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		s.metrics.RecordLogin(metrics.LoginUnknownUser)
		return nil, model.NewUserNotFoundError()
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.RecordLogin(metrics.LoginInvalidPassword)
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID))

	return &LoginResult{
		Token:   token,
		IsAdmin: s.tokens.IsAdmin(user.ID),
		User:    user,
	}, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Update はユーザーを部分更新する。
// 呼び出し元は対象ユーザー本人または管理者でなければならない。
func (s *Service) Update(ctx context.Context, callerID string, callerIsAdmin bool, id string, in UpdateInput) (*model.User, error) {
	if !callerIsAdmin && callerID != id {
		slog.Warn("update rejected: caller is neither owner nor admin",
			slog.String("caller_id", callerID),
			slog.String("target_id", id),
		)
		return nil, model.NewUnauthorizedError()
	}

	update, err := s.buildUpdate(in)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.Update(ctx, id, update)
	if err != nil {
		username := ""
		if update.Username != nil {
			username = *update.Username
		}
		return nil, translateRepoError(err, username)
	}

	slog.Info("user updated",
		slog.String("user_id", id),
		slog.String("caller_id", callerID),
	)
	return user, nil
}

// buildUpdate は空でない項目のみを更新対象とする。
func (s *Service) buildUpdate(in UpdateInput) (model.UserUpdate, error) {
	var update model.UserUpdate

	if email := strings.TrimSpace(in.Email); email != "" {
		if err := validation.Validate(email, is.Email); err != nil {
			return update, model.NewInvalidEmailError(email)
		}
		update.Email = &email
	}
	if in.Password != "" {
		hashed, err := s.hasher.Hash(in.Password)
		if err != nil {
			return update, err
		}
		update.PasswordHash = &hashed
	}
	update.Username = s.nonEmpty(in.Username)
	update.FirstName = s.nonEmpty(in.FirstName)
	update.LastName = s.nonEmpty(in.LastName)
	update.DateNais = s.nonEmpty(in.DateNais)
	update.Mobile = s.nonEmpty(in.Mobile)

	return update, nil
}

func (s *Service) nonEmpty(v string) *string {
	v = s.sanitizer.Sanitize(v)
	if v == "" {
		return nil
	}
	return &v
}

// Remove は指定IDのユーザーを削除する。
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		return translateRepoError(err, "")
	}
	slog.Info("user deleted", slog.String("user_id", id))
	return nil
}

// ListAll は管理者アカウントを除く全ユーザーを返す。
func (s *Service) ListAll(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.ListExcludingUsername(ctx, model.AdminUsername)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// translateRepoError はリポジトリのエラーをAPIErrorに変換する。
func translateRepoError(err error, username string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, repository.ErrJoinCodeNotFound):
		return model.NewInvalidJoinCodeError()
	case errors.Is(err, repository.ErrDuplicateEmail):
		return model.NewDuplicateEmailError()
	case errors.Is(err, repository.ErrDuplicateUsername):
		return model.NewDuplicateUsernameError(username)
	default:
		return err
	}
}

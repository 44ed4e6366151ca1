package user

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hitoshi/joinauth/internal/model"
	"github.com/hitoshi/joinauth/internal/repository"
	"github.com/hitoshi/joinauth/internal/security"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	findByUsernameFn     func(ctx context.Context, username string) (*model.User, error)
	createWithJoinCodeFn func(ctx context.Context, user *model.User, joinKey string) error
	updateFn             func(ctx context.Context, id string, update model.UserUpdate) (*model.User, error)
	deleteByIDFn         func(ctx context.Context, id string) error
	listFn               func(ctx context.Context, username string) ([]*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithJoinCode(ctx context.Context, user *model.User, joinKey string) error {
	if m.createWithJoinCodeFn != nil {
		return m.createWithJoinCodeFn(ctx, user, joinKey)
	}
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, id string, update model.UserUpdate) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, update)
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) ListExcludingUsername(ctx context.Context, username string) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, username)
	}
	return []*model.User{}, nil
}

type mockJoinCodes struct {
	validCodes map[string]bool
}

func (m *mockJoinCodes) Check(_ context.Context, code string) error {
	if !m.validCodes[code] {
		return model.NewInvalidJoinCodeError()
	}
	return nil
}

// fakeHasher はテスト用の可逆でないダミーハッシュ。
type fakeHasher struct{}

func (fakeHasher) Hash(p string) (string, error) { return "hashed:" + p, nil }
func (fakeHasher) Verify(p, h string) bool       { return h == "hashed:"+p }

type fakeTokens struct {
	adminID string
}

func (f fakeTokens) Issue(userID string) (string, error) { return "token-for-" + userID, nil }
func (f fakeTokens) IsAdmin(userID string) bool          { return userID == f.adminID }

func newTestService(repo *mockUserRepo) *Service {
	return NewService(
		repo,
		&mockJoinCodes{validCodes: map[string]bool{"aB3xY9": true}},
		fakeHasher{},
		fakeTokens{adminID: "admin-id"},
		security.NewProfileSanitizer(),
		nil,
	)
}

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Join:      "aB3xY9",
		Email:     "john@example.com",
		Password:  "S3cret!",
		FirstName: "John",
		LastName:  "Doe",
		DateNais:  "1990-01-01",
		Mobile:    "0600000000",
	}
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("expected code %s, got %s", code, apiErr.Code)
	}
}

// --- DeriveUsername ---

func TestDeriveUsername(t *testing.T) {
	tests := []struct {
		first, last, date string
		want              string
	}{
		{"John", "Doe", "1990-01-01", "JoDo19"},
		{"J", "Doe", "1990-01-01", "JDo19"},
		{"Élodie", "Ørsted", "2001-05-05", "ÉlØr20"},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		if got := DeriveUsername(tt.first, tt.last, tt.date); got != tt.want {
			t.Errorf("DeriveUsername(%q, %q, %q) = %q, want %q", tt.first, tt.last, tt.date, got, tt.want)
		}
	}
}

// --- Register ---

// 正常な登録でユーザーが作成され、招待コードと同時に保存されることを検証
func TestService_Register_Success(t *testing.T) {
	var created *model.User
	var consumed string
	repo := &mockUserRepo{
		createWithJoinCodeFn: func(_ context.Context, u *model.User, key string) error {
			created, consumed = u, key
			return nil
		},
	}
	svc := newTestService(repo)

	user, err := svc.Register(context.Background(), validRegisterInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != created {
		t.Error("expected returned user to be the persisted one")
	}
	if consumed != "aB3xY9" {
		t.Errorf("expected join code aB3xY9 to be consumed, got %q", consumed)
	}
	if user.Username != "JoDo19" {
		t.Errorf("expected username JoDo19, got %s", user.Username)
	}
	if user.PasswordHash != "hashed:S3cret!" {
		t.Errorf("expected hashed password, got %q", user.PasswordHash)
	}
	if user.ID == "" || user.CreatedAt.IsZero() {
		t.Errorf("expected ID and timestamps to be set: %+v", user)
	}
}

// 存在しない招待コードではINVALID_JOIN_CODEになり、ユーザーは作成されないことを検証
func TestService_Register_InvalidJoinCode(t *testing.T) {
	repo := &mockUserRepo{
		createWithJoinCodeFn: func(context.Context, *model.User, string) error {
			t.Fatal("user must not be created")
			return nil
		},
	}
	svc := newTestService(repo)

	in := validRegisterInput()
	in.Join = "ABC123"
	_, err := svc.Register(context.Background(), in)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidJoinCode)
}

// 既存メールアドレスではDUPLICATE_EMAILになることを検証
func TestService_Register_DuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
			return &model.User{ID: "other", Email: email}, nil
		},
	}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), validRegisterInput())
	assertAPIErrorCode(t, err, model.ErrCodeDuplicateEmail)
}

// 導出したユーザー名が既に使われている場合はDUPLICATE_USERNAMEになることを検証
func TestService_Register_DuplicateUsername(t *testing.T) {
	repo := &mockUserRepo{
		findByUsernameFn: func(_ context.Context, username string) (*model.User, error) {
			if username == "JoDo19" {
				return &model.User{ID: "other", Username: username}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), validRegisterInput())
	assertAPIErrorCode(t, err, model.ErrCodeDuplicateUsername)
}

// 未入力項目はMISSING_FIELDSとなり、項目名がメッセージに含まれることを検証
func TestService_Register_MissingFields(t *testing.T) {
	svc := newTestService(&mockUserRepo{})

	in := validRegisterInput()
	in.Mobile = "   "
	in.Password = " "
	_, err := svc.Register(context.Background(), in)
	assertAPIErrorCode(t, err, model.ErrCodeMissingFields)
	if !strings.Contains(err.Error(), "mobile") || !strings.Contains(err.Error(), "password") {
		t.Errorf("expected missing field names in message, got %q", err.Error())
	}
}

// マークアップのみの項目は未入力として扱われることを検証
func TestService_Register_MarkupOnlyFieldIsMissing(t *testing.T) {
	svc := newTestService(&mockUserRepo{})

	in := validRegisterInput()
	in.FirstName = "<b></b>"
	_, err := svc.Register(context.Background(), in)
	assertAPIErrorCode(t, err, model.ErrCodeMissingFields)
}

// 不正なメールアドレスはINVALID_EMAILになることを検証
func TestService_Register_InvalidEmail(t *testing.T) {
	svc := newTestService(&mockUserRepo{})

	in := validRegisterInput()
	in.Email = "john.example.com"
	_, err := svc.Register(context.Background(), in)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidEmail)
}

// 同時登録で招待コードが先に消費された場合はINVALID_JOIN_CODEになることを検証
func TestService_Register_JoinCodeConsumedConcurrently(t *testing.T) {
	repo := &mockUserRepo{
		createWithJoinCodeFn: func(context.Context, *model.User, string) error {
			return repository.ErrJoinCodeNotFound
		},
	}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), validRegisterInput())
	assertAPIErrorCode(t, err, model.ErrCodeInvalidJoinCode)
}

// ユニーク制約違反がConflictに変換されることを検証
func TestService_Register_UniqueViolationOnInsert(t *testing.T) {
	repo := &mockUserRepo{
		createWithJoinCodeFn: func(context.Context, *model.User, string) error {
			return repository.ErrDuplicateEmail
		},
	}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), validRegisterInput())
	assertAPIErrorCode(t, err, model.ErrCodeDuplicateEmail)
}

// プロフィール項目のマークアップが除去されて保存されることを検証
func TestService_Register_SanitizesProfile(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		createWithJoinCodeFn: func(_ context.Context, u *model.User, _ string) error {
			created = u
			return nil
		},
	}
	svc := newTestService(repo)

	in := validRegisterInput()
	in.FirstName = "<script>x</script>John"
	if _, err := svc.Register(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.FirstName != "John" {
		t.Errorf("expected sanitized first name, got %q", created.FirstName)
	}
}

// --- Login ---

func loginRepo() *mockUserRepo {
	return &mockUserRepo{
		findByUsernameFn: func(_ context.Context, username string) (*model.User, error) {
			switch username {
			case "JoDo19":
				return &model.User{ID: "user-1", Username: username, PasswordHash: "hashed:S3cret!"}, nil
			case "admin":
				return &model.User{ID: "admin-id", Username: username, PasswordHash: "hashed:root"}, nil
			}
			return nil, nil
		},
	}
}

// 正しい認証情報でトークンが発行され、isAdminがfalseであることを検証
func TestService_Login_Success(t *testing.T) {
	svc := newTestService(loginRepo())

	res, err := svc.Login(context.Background(), "JoDo19", "S3cret!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Token == "" {
		t.Error("expected non-empty token")
	}
	if res.IsAdmin {
		t.Error("expected isAdmin false")
	}
}

// 管理者IDのユーザーはisAdminがtrueになることを検証
func TestService_Login_Admin(t *testing.T) {
	svc := newTestService(loginRepo())

	res, err := svc.Login(context.Background(), "admin", "root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsAdmin {
		t.Error("expected isAdmin true")
	}
}

// パスワード不一致はINVALID_CREDENTIALSになることを検証
func TestService_Login_WrongPassword(t *testing.T) {
	svc := newTestService(loginRepo())

	_, err := svc.Login(context.Background(), "JoDo19", "wrong")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)
}

// 存在しないユーザーはUSER_NOT_FOUNDになることを検証
func TestService_Login_UnknownUser(t *testing.T) {
	svc := newTestService(loginRepo())

	_, err := svc.Login(context.Background(), "nobody", "x")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

// 空の入力はMISSING_FIELDSになることを検証
func TestService_Login_MissingFields(t *testing.T) {
	svc := newTestService(loginRepo())

	_, err := svc.Login(context.Background(), "", "")
	assertAPIErrorCode(t, err, model.ErrCodeMissingFields)
}

// --- Get ---

func TestService_Get(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return &model.User{ID: id}, nil
			}
			return nil, nil
		},
	}
	svc := newTestService(repo)

	if _, err := svc.Get(context.Background(), "user-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	_, err := svc.Get(context.Background(), "missing")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

// --- Update ---

// updateRepo は保存済みユーザーに更新内容を適用するモックを返す。
func updateRepo(stored *model.User) *mockUserRepo {
	return &mockUserRepo{
		updateFn: func(_ context.Context, id string, update model.UserUpdate) (*model.User, error) {
			if id != stored.ID {
				return nil, repository.ErrNotFound
			}
			update.Apply(stored)
			return stored, nil
		},
	}
}

// firstNameのみの更新で他の項目が変わらないことを検証
func TestService_Update_FirstNameOnly(t *testing.T) {
	stored := &model.User{
		ID: "user-1", Email: "john@example.com", Username: "JoDo19", PasswordHash: "hashed:S3cret!",
		FirstName: "John", LastName: "Doe", DateNais: "1990-01-01", Mobile: "0600000000",
	}
	before := *stored
	svc := newTestService(updateRepo(stored))

	got, err := svc.Update(context.Background(), "user-1", false, "user-1", UpdateInput{FirstName: "Jo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := before
	want.FirstName = "Jo"
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("got %+v, want %+v", *got, want)
	}
}

// 空文字の項目は更新対象にならないことを検証
func TestService_Update_EmptyFieldsIgnored(t *testing.T) {
	var captured model.UserUpdate
	repo := &mockUserRepo{
		updateFn: func(_ context.Context, id string, update model.UserUpdate) (*model.User, error) {
			captured = update
			return &model.User{ID: id}, nil
		},
	}
	svc := newTestService(repo)

	_, err := svc.Update(context.Background(), "user-1", false, "user-1", UpdateInput{Mobile: "", LastName: "  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !captured.IsEmpty() {
		t.Errorf("expected empty update, got %+v", captured)
	}
}

// パスワード更新時はハッシュ化されることを検証
func TestService_Update_PasswordRehashed(t *testing.T) {
	var captured model.UserUpdate
	repo := &mockUserRepo{
		updateFn: func(_ context.Context, id string, update model.UserUpdate) (*model.User, error) {
			captured = update
			return &model.User{ID: id}, nil
		},
	}
	svc := newTestService(repo)

	if _, err := svc.Update(context.Background(), "user-1", false, "user-1", UpdateInput{Password: "n3w"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.PasswordHash == nil || *captured.PasswordHash != "hashed:n3w" {
		t.Errorf("expected hashed password, got %v", captured.PasswordHash)
	}
}

// 本人でも管理者でもない呼び出し元はUNAUTHORIZEDになることを検証
func TestService_Update_OtherUserRejected(t *testing.T) {
	repo := &mockUserRepo{
		updateFn: func(context.Context, string, model.UserUpdate) (*model.User, error) {
			t.Fatal("update must not reach the store")
			return nil, nil
		},
	}
	svc := newTestService(repo)

	_, err := svc.Update(context.Background(), "user-2", false, "user-1", UpdateInput{FirstName: "X"})
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

// 管理者は他のユーザーを更新できることを検証
func TestService_Update_AdminMayUpdateOthers(t *testing.T) {
	stored := &model.User{ID: "user-1", FirstName: "John"}
	svc := newTestService(updateRepo(stored))

	got, err := svc.Update(context.Background(), "admin-id", true, "user-1", UpdateInput{FirstName: "Jon"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FirstName != "Jon" {
		t.Errorf("expected Jon, got %s", got.FirstName)
	}
}

// 存在しないユーザーの更新はUSER_NOT_FOUNDになることを検証
func TestService_Update_NotFound(t *testing.T) {
	svc := newTestService(updateRepo(&model.User{ID: "user-1"}))

	_, err := svc.Update(context.Background(), "admin-id", true, "missing", UpdateInput{FirstName: "X"})
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

// 他ユーザーと重複するメールアドレス・ユーザー名はConflictになることを検証
func TestService_Update_Conflicts(t *testing.T) {
	tests := []struct {
		name    string
		repoErr error
		in      UpdateInput
		want    string
	}{
		{name: "email", repoErr: repository.ErrDuplicateEmail, in: UpdateInput{Email: "taken@example.com"}, want: model.ErrCodeDuplicateEmail},
		{name: "username", repoErr: repository.ErrDuplicateUsername, in: UpdateInput{Username: "taken"}, want: model.ErrCodeDuplicateUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{
				updateFn: func(context.Context, string, model.UserUpdate) (*model.User, error) {
					return nil, tt.repoErr
				},
			}
			svc := newTestService(repo)

			_, err := svc.Update(context.Background(), "user-1", false, "user-1", tt.in)
			assertAPIErrorCode(t, err, tt.want)
		})
	}
}

// 不正なメールアドレスへの更新はINVALID_EMAILになることを検証
func TestService_Update_InvalidEmail(t *testing.T) {
	svc := newTestService(&mockUserRepo{})

	_, err := svc.Update(context.Background(), "user-1", false, "user-1", UpdateInput{Email: "nope"})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidEmail)
}

// --- Remove ---

func TestService_Remove(t *testing.T) {
	repo := &mockUserRepo{
		deleteByIDFn: func(_ context.Context, id string) error {
			if id == "user-1" {
				return nil
			}
			return repository.ErrNotFound
		},
	}
	svc := newTestService(repo)

	if err := svc.Remove(context.Background(), "user-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	assertAPIErrorCode(t, svc.Remove(context.Background(), "missing"), model.ErrCodeUserNotFound)
}

// ストアのエラーはそのまま内部エラーとして返ることを検証
func TestService_Remove_StoreError(t *testing.T) {
	dbErr := errors.New("db down")
	repo := &mockUserRepo{
		deleteByIDFn: func(context.Context, string) error { return dbErr },
	}
	svc := newTestService(repo)

	if err := svc.Remove(context.Background(), "user-1"); !errors.Is(err, dbErr) {
		t.Errorf("expected db error, got %v", err)
	}
}

// UUID形式でないIDはPostgreSQLで拒否されるが、NotFoundとして返ることを検証
func TestService_NonUUIDIDIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	invalidID := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "user-1"`}
	mock.ExpectQuery(`FROM users WHERE id = \$1`).WithArgs("user-1").WillReturnError(invalidID)
	mock.ExpectQuery(`UPDATE users SET first_name = \$1`).WithArgs("Jo", "user-1").WillReturnError(invalidID)
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).WithArgs("user-1").WillReturnError(invalidID)

	svc := NewService(
		repository.NewPostgresUserRepo(db),
		&mockJoinCodes{},
		fakeHasher{},
		fakeTokens{adminID: "admin-id"},
		security.NewProfileSanitizer(),
		nil,
	)
	ctx := context.Background()

	_, err = svc.Get(ctx, "user-1")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)

	_, err = svc.Update(ctx, "admin-id", true, "user-1", UpdateInput{FirstName: "Jo"})
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)

	assertAPIErrorCode(t, svc.Remove(ctx, "user-1"), model.ErrCodeUserNotFound)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// --- ListAll ---

// 管理者ユーザー名を除外して一覧を取得することを検証
func TestService_ListAll_ExcludesAdmin(t *testing.T) {
	var excluded string
	repo := &mockUserRepo{
		listFn: func(_ context.Context, username string) ([]*model.User, error) {
			excluded = username
			return []*model.User{{ID: "user-1"}}, nil
		},
	}
	svc := newTestService(repo)

	users, err := svc.ListAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if excluded != model.AdminUsername {
		t.Errorf("expected %q to be excluded, got %q", model.AdminUsername, excluded)
	}
	if len(users) != 1 {
		t.Errorf("expected 1 user, got %d", len(users))
	}
}

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL はIDトークンの有効期間。
const DefaultTokenTTL = time.Hour

// トークン検証の失敗理由。呼び出し元には区別せず401を返し、理由はログとメトリクスにのみ使う。
var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
	// ErrNotAdmin はトークンは有効だが管理者ではない場合のエラー。
	ErrNotAdmin = errors.New("caller is not admin")
)

var errUnexpectedSigningMethod = errors.New("unexpected signing method")

// Claims はIDトークンのクレーム。userIdに検証済みユーザーIDを持つ。
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// Identity は検証済みトークンから得た呼び出し元の情報。
type Identity struct {
	UserID  string
	IsAdmin bool
}

// TokenService はHS256署名のIDトークンを発行・検証する。
type TokenService struct {
	secret  []byte
	adminID string
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenService はTokenServiceを生成する。ttlが0以下の場合はDefaultTokenTTLを使う。
func NewTokenService(secret, adminID string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret:  []byte(secret),
		adminID: adminID,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue は指定ユーザーIDのトークンを発行する。
// iat/expは秒精度のため、発行時刻を秒に切り捨ててからTTLを加算する。
func (s *TokenService) Issue(userID string) (string, error) {
	issuedAt := s.now().Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
		UserID: userID,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、呼び出し元のIdentityを返す。
// 失敗時はErrToken*のいずれかを返す。
func (s *TokenService) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errUnexpectedSigningMethod
			}
			return s.secret, nil
		},
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}

	return &Identity{
		UserID:  claims.UserID,
		IsAdmin: s.IsAdmin(claims.UserID),
	}, nil
}

// IsAdmin はユーザーIDが設定された管理者IDと一致するかを返す。
func (s *TokenService) IsAdmin(userID string) bool {
	return s.adminID != "" && userID == s.adminID
}

// Authenticate はAuthorizationヘッダーを解析してトークンを検証する。
func (s *TokenService) Authenticate(header string) (*Identity, error) {
	tokenString, err := ParseAuthorizationHeader(header)
	if err != nil {
		return nil, err
	}
	return s.Verify(tokenString)
}

// ParseAuthorizationHeader は"<scheme> <token>"形式のヘッダーからトークンを取り出す。
// スキームは検査しない。
func ParseAuthorizationHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrTokenMissing
	}
	_, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", ErrTokenMalformed
	}
	return token, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

// FailureReason はメトリクスのラベルに使う失敗理由を返す。
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return "missing"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrNotAdmin):
		return "not_admin"
	default:
		return "invalid"
	}
}

// Package mail はSMTP経由のメール送信を提供する。
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strconv"
	"time"

	"github.com/dajohi/goemail"
	"golang.org/x/time/rate"
)

// ErrDisabled はSMTP認証情報が未設定で送信が無効な場合のエラー。
var ErrDisabled = errors.New("mail is disabled")

// Mailer はメール送信のインターフェース。
type Mailer interface {
	// Send は単一の宛先にプレーンテキストのメールを送信する。
	Send(ctx context.Context, to, subject, body string) error
	// IsEnabled は送信が有効かどうかを返す。
	IsEnabled() bool
}

// Config はSMTPクライアントの設定。
type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string        // "Name <addr>" 形式も可
	SkipVerify   bool          // TLS証明書検証をスキップする
	SendInterval time.Duration // 送信間隔の下限。0以下の場合は制限しない
}

// Client はgoemailを使用したSMTPクライアント。
// 送信は rate.Limiter によって一定間隔に抑えられる。
type Client struct {
	send     func(*goemail.Message) error
	fromName string
	fromAddr string
	limiter  *rate.Limiter
	disabled bool
}

// NewClient はClientを生成する。
// ユーザー名・パスワード・ホストのいずれかが空の場合は無効状態のClientを返す。
func NewClient(cfg Config) (*Client, error) {
	if cfg.Username == "" || cfg.Password == "" || cfg.Host == "" {
		slog.Warn("mail disabled: SMTP credentials not configured")
		return &Client{disabled: true}, nil
	}

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid mail from address: %w", err)
	}

	// 465はSMTPS、それ以外はSTARTTLS
	scheme := "smtp"
	if cfg.Port == 465 {
		scheme = "smtps"
	}
	u := &url.URL{
		Scheme: scheme,
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
	}

	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipVerify,
	}
	smtp, err := goemail.NewSMTP(u.String(), tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	slog.Info("mail enabled",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("from", addr.Address),
	)

	return &Client{
		send:     smtp.Send,
		fromName: addr.Name,
		fromAddr: addr.Address,
		limiter:  newLimiter(cfg.SendInterval),
	}, nil
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// IsEnabled は送信が有効かどうかを返す。
func (c *Client) IsEnabled() bool {
	return !c.disabled
}

// Send は単一の宛先にメールを送信する。
// 送信間隔の待機中にctxがキャンセルされた場合はctxのエラーを返す。
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if c.disabled {
		return ErrDisabled
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail send throttled: %w", err)
	}

	msg := goemail.NewMessage(c.fromAddr, subject, body)
	if c.fromName != "" {
		msg.SetName(c.fromName)
	}
	msg.AddTo(to)

	if err := c.send(msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Mailer = (*Client)(nil)

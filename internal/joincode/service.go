package joincode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/hitoshi/joinauth/internal/mail"
	"github.com/hitoshi/joinauth/internal/metrics"
	"github.com/hitoshi/joinauth/internal/model"
	"github.com/hitoshi/joinauth/internal/repository"
)

const (
	mailSubject = "Your Join Code"
	// maxIssueAttempts はキー衝突時の再生成を含む最大試行回数。
	maxIssueAttempts = 3
)

// Service は招待コードの発行と検証を行う。
type Service struct {
	repo    repository.JoinCodeRepository
	mailer  mail.Mailer
	metrics metrics.MetricsCollector
	length  int
	now     func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.JoinCodeRepository, mailer mail.Mailer, m metrics.MetricsCollector) *Service {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{
		repo:    repo,
		mailer:  mailer,
		metrics: m,
		length:  DefaultLength,
		now:     time.Now,
	}
}

// Check は招待コードが存在するかを検証する。
// 空または存在しない場合はINVALID_JOIN_CODEのAPIErrorを返す。
func (s *Service) Check(ctx context.Context, code string) error {
	if code == "" {
		return model.NewInvalidJoinCodeError()
	}
	found, err := s.repo.FindByKey(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to look up join code: %w", err)
	}
	if found == nil {
		return model.NewInvalidJoinCodeError()
	}
	return nil
}

// Issue は招待コードを生成・保存し、receiverにメールで送信する。
// 送信に失敗した場合は保存したコードを削除してエラーを返す。
func (s *Service) Issue(ctx context.Context, receiver string) error {
	receiver = strings.TrimSpace(receiver)
	if err := validation.Validate(receiver, validation.Required, is.Email); err != nil {
		return model.NewInvalidEmailError(receiver)
	}

	code, err := s.store(ctx, receiver)
	if err != nil {
		return err
	}

	body := "Your join code is: " + code.Key
	if err := s.mailer.Send(ctx, receiver, mailSubject, body); err != nil {
		s.metrics.RecordMailFailure()
		slog.Error("failed to send join code mail",
			slog.String("receiver", receiver),
			slog.String("error", err.Error()),
		)
		// 届かないコードは残さない
		if delErr := s.repo.DeleteByKey(context.WithoutCancel(ctx), code.Key); delErr != nil {
			slog.Error("failed to remove undelivered join code",
				slog.String("error", delErr.Error()),
			)
		}
		return fmt.Errorf("failed to deliver join code: %w", err)
	}

	s.metrics.RecordJoinCodeIssued()
	slog.Info("join code issued", slog.String("receiver", receiver))
	return nil
}

// store はキー衝突時に再生成しながら招待コードを保存する。
func (s *Service) store(ctx context.Context, receiver string) (*model.JoinCode, error) {
	var lastErr error
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		code := &model.JoinCode{
			Key:       Generate(s.length),
			Receiver:  receiver,
			CreatedAt: s.now(),
		}
		err := s.repo.Create(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrDuplicateJoinCode) {
			return nil, fmt.Errorf("failed to store join code: %w", err)
		}
		slog.Warn("join code collision, regenerating", slog.Int("attempt", attempt))
		lastErr = err
	}
	return nil, fmt.Errorf("failed to store join code after %d attempts: %w", maxIssueAttempts, lastErr)
}

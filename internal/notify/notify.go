// Package notify は監査ログとメール通知をバックグラウンドキュー経由で送る。
// 送信失敗は呼び出し元に返さずログに残す。監査ログのみ429/5xxを数回再試行し、メールは再試行しない。
package notify

import (
	"context"
	"log/slog"

	"github.com/sunrin-today/cli-domain-backend/internal/mail"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/upstream"
)

// Notifier はサービス層から使う通知のインターフェース。
type Notifier interface {
	Audit(ev model.AuditEvent)
	Mail(msg mail.Message)
}

// Auditor は監査ログの送信先。
type Auditor interface {
	Audit(ctx context.Context, ev model.AuditEvent) error
}

// Mailer はメールの送信先。
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Enqueuer はタスクの投入先。
type Enqueuer interface {
	Enqueue(name string, fn func(ctx context.Context) error) error
}

// Sink はNotifierの実装。送信はすべてキューに投入する。
type Sink struct {
	queue   Enqueuer
	auditor Auditor
	mailer  Mailer
	logger  *slog.Logger
}

// NewSink はSinkを生成する。
func NewSink(queue Enqueuer, auditor Auditor, mailer Mailer, logger *slog.Logger) *Sink {
	return &Sink{
		queue:   queue,
		auditor: auditor,
		mailer:  mailer,
		logger:  logger,
	}
}

// Audit は監査ログの送信を投入する。
func (s *Sink) Audit(ev model.AuditEvent) {
	err := s.queue.Enqueue("audit:"+string(ev.Kind), func(ctx context.Context) error {
		return upstream.Retry(ctx, upstream.DefaultAttempts, func(ctx context.Context) error {
			return s.auditor.Audit(ctx, ev)
		})
	})
	if err != nil {
		s.logger.Warn("監査ログを破棄しました",
			slog.String("kind", string(ev.Kind)),
			slog.String("subject", ev.Subject),
			slog.String("error", err.Error()),
		)
	}
}

// Mail はメール送信を投入する。
func (s *Sink) Mail(msg mail.Message) {
	err := s.queue.Enqueue("mail", func(ctx context.Context) error {
		return s.mailer.Send(ctx, msg)
	})
	if err != nil {
		s.logger.Warn("メール通知を破棄しました",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ Notifier = (*Sink)(nil)

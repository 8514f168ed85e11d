package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sunrin-today/cli-domain-backend/internal/model"
	"github.com/sunrin-today/cli-domain-backend/internal/moderation"
	"github.com/sunrin-today/cli-domain-backend/internal/worker/queue"
)

// maxInteractionBytes はインタラクション本文の上限。
const maxInteractionBytes = 1 << 20

// SignatureVerifier はインタラクションWebhookの署名を検証する。
type SignatureVerifier interface {
	Verify(signature, timestamp string, body []byte) bool
}

// DecisionServiceInterface はモデレーター判断の適用に必要なサービスインターフェース。
type DecisionServiceInterface interface {
	Find(ctx context.Context, ticketID string) (*model.DomainTicket, error)
	Decide(ctx context.Context, ticketID string, action model.DecisionAction, moderator string) (model.DecisionOutcome, error)
}

// TaskEnqueuer は副作用を非同期キューへ投入する。
type TaskEnqueuer interface {
	Enqueue(name string, fn func(ctx context.Context) error) error
}

// DiscordConfig は審査操作を受け付けるチャンネルとロール。
type DiscordConfig struct {
	VerifyChannelID string
	VerifyRoleID    string
}

// DiscordHandler はDiscordのインタラクションWebhookを処理する。
// 判断の適用はキューに任せ、Discordの応答期限内に確認応答を返す。
type DiscordHandler struct {
	verifier SignatureVerifier
	tickets  DecisionServiceInterface
	queue    TaskEnqueuer
	config   DiscordConfig
	logger   *slog.Logger
}

// NewDiscordHandler はDiscordHandlerを生成する。
func NewDiscordHandler(
	verifier SignatureVerifier,
	tickets DecisionServiceInterface,
	q TaskEnqueuer,
	config DiscordConfig,
	logger *slog.Logger,
) *DiscordHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordHandler{
		verifier: verifier,
		tickets:  tickets,
		queue:    q,
		config:   config,
		logger:   logger,
	}
}

// Interaction はインタラクションWebhookを処理する。
// POST /discord/interaction
func (h *DiscordHandler) Interaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInteractionBytes))
	if err != nil {
		handleServiceError(w, r, model.NewInvalidRequestError("リクエストボディの読み込みに失敗しました"))
		return
	}

	if !h.verifier.Verify(r.Header.Get("X-Signature-Ed25519"), r.Header.Get("X-Signature-Timestamp"), body) {
		h.logger.Warn("インタラクションの署名検証に失敗しました")
		handleServiceError(w, r, model.NewInvalidCredentialError())
		return
	}

	var in moderation.Interaction
	if err := json.Unmarshal(body, &in); err != nil {
		handleServiceError(w, r, model.NewInvalidRequestError("インタラクションの解析に失敗しました"))
		return
	}

	switch in.Type {
	case moderation.InteractionPing:
		writeInteraction(w, moderation.Pong())
	case moderation.InteractionMessageComponent:
		writeInteraction(w, h.handleComponent(r.Context(), &in))
	default:
		writeInteraction(w, moderation.Ephemeral("지원하지 않는 요청입니다."))
	}
}

func (h *DiscordHandler) handleComponent(ctx context.Context, in *moderation.Interaction) moderation.Response {
	if in.ChannelID != h.config.VerifyChannelID {
		return moderation.Ephemeral("이 채널에서는 사용할 수 없습니다.")
	}
	if !in.HasRole(h.config.VerifyRoleID) {
		h.logger.Warn("権限のないユーザーが審査操作を行いました",
			slog.String("actor_id", in.ActorID()),
		)
		return moderation.Ephemeral("권한이 없습니다.")
	}

	action, ticketID, err := moderation.ParseCustomID(in.Data.CustomID)
	if err != nil {
		return moderation.Ephemeral("알 수 없는 명령입니다.")
	}

	ticket, err := h.tickets.Find(ctx, ticketID)
	if err != nil {
		h.logger.Error("チケットの取得に失敗しました",
			slog.String("ticket_id", ticketID),
			slog.String("error", err.Error()),
		)
		return moderation.Ephemeral("일시적인 오류가 발생했습니다. 잠시 후 다시 시도해주세요.")
	}
	if ticket == nil {
		return moderation.Ephemeral("존재하지 않는 요청입니다.")
	}
	if ticket.Status.Terminal() {
		return moderation.Ephemeral("이미 처리된 요청입니다.")
	}

	moderator := in.Actor()
	err = h.queue.Enqueue("decide:"+ticketID, func(ctx context.Context) error {
		_, err := h.tickets.Decide(ctx, ticketID, action, moderator)
		return err
	})
	if err != nil {
		if !errors.Is(err, queue.ErrQueueFull) {
			h.logger.Error("判断の投入に失敗しました",
				slog.String("ticket_id", ticketID),
				slog.String("error", err.Error()),
			)
		}
		return moderation.Ephemeral("처리 대기열이 가득 찼습니다. 잠시 후 다시 눌러주세요.")
	}

	return moderation.DecisionAck(in, action)
}

func writeInteraction(w http.ResponseWriter, resp moderation.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

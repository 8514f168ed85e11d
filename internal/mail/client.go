// Package mail はメール送信APIの呼び出しと通知メールの文面を提供する。
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/upstream"
)

const (
	defaultBaseURL = "https://api.forwardemail.net"
	senderName     = "Sunrin Domain"
	// maxErrorBody はエラーログに含めるレスポンスボディの最大バイト数。
	maxErrorBody = 512
)

// Message は送信する1通のメール。
type Message struct {
	To      string
	Subject string
	Text    string
}

// Client はメール送信APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	baseURL    string
	apiKey     string
	sender     string
}

// Config はClientの設定。
type Config struct {
	BaseURL string
	APIKey  string
	Sender  string
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger, m metrics.MetricsCollector) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics.OrNop(m),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		sender:     cfg.Sender,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Send はメールを1通送信する。2xx以外のステータスはエラーとして返す。
func (c *Client) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendRequest{
		From:    fmt.Sprintf("%s <%s>", senderName, c.sender),
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, "")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamLatency("email", time.Since(start))
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("メール送信APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("subject", msg.Subject),
			slog.String("body", string(detail)),
		)
		return &upstream.StatusError{Service: "email", StatusCode: resp.StatusCode}
	}

	c.logger.Debug("メールを送信しました", slog.String("subject", msg.Subject))
	return nil
}

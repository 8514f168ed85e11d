package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
	"github.com/sunrin-today/cli-domain-backend/internal/model"
)

const defaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// ProviderRecord はプロバイダ側に存在するDNSレコードの要約。
type ProviderRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// CloudflareClient はCloudflare DNS APIのクライアント。
type CloudflareClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	baseURL    string
	apiToken   string
}

// NewCloudflareClient はCloudflareClientを生成する。baseURLが空の場合は本番APIを使う。
func NewCloudflareClient(httpClient *http.Client, baseURL, apiToken string, logger *slog.Logger, m metrics.MetricsCollector) *CloudflareClient {
	if baseURL == "" {
		baseURL = defaultCloudflareBaseURL
	}
	return &CloudflareClient{
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics.OrNop(m),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
	}
}

type cfError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfEnvelope struct {
	Success bool            `json:"success"`
	Errors  []cfError       `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type cfRecordPayload struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Priority *int            `json:"priority,omitempty"`
	TTL      int             `json:"ttl"`
	Proxied  bool            `json:"proxied"`
}

// payloadFor はレコードをCloudflareのリクエスト形式に変換する。
// MXとURIの優先度はdataではなくトップレベルのpriorityで渡す。
func payloadFor(rec model.Record) (*cfRecordPayload, error) {
	p := &cfRecordPayload{
		Name:    rec.Name,
		Type:    string(rec.Type()),
		TTL:     rec.TTL,
		Proxied: rec.Proxied,
	}
	switch v := rec.Value.(type) {
	case model.MXRecord:
		p.Content = v.Target
		p.Priority = &v.Priority
		return p, nil
	case model.URIRecord:
		priority := v.Priority
		p.Priority = &priority
		data, err := json.Marshal(struct {
			Weight int    `json:"weight"`
			Target string `json:"target"`
		}{v.Weight, v.Target})
		if err != nil {
			return nil, err
		}
		p.Data = data
		return p, nil
	}

	content, data, err := rec.Parts()
	if err != nil {
		return nil, err
	}
	p.Content = content
	p.Data = data
	return p, nil
}

func (c *CloudflareClient) do(ctx context.Context, method, path string, payload any, out any) error {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamLatency("cloudflare", time.Since(start))
	if err != nil {
		c.logger.Error("Cloudflare APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("cloudflare request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read cloudflare response: %w", err)
	}

	var env cfEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.logger.Error("Cloudflare APIのレスポンスのパースに失敗しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("path", path),
		)
		return fmt.Errorf("failed to parse cloudflare response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := "unknown error"
		if len(env.Errors) > 0 {
			msg = fmt.Sprintf("%d: %s", env.Errors[0].Code, env.Errors[0].Message)
		}
		c.logger.Error("Cloudflare APIがエラーを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("cf_error", msg),
		)
		return fmt.Errorf("cloudflare API error (status %d): %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to decode cloudflare result: %w", err)
		}
	}
	return nil
}

func recordsPath(zoneID string) string {
	return "/zones/" + url.PathEscape(zoneID) + "/dns_records"
}

// ListRecords はゾーン内で指定名に一致するレコードを返す。nameが空の場合は全件。
func (c *CloudflareClient) ListRecords(ctx context.Context, zoneID, name string) ([]ProviderRecord, error) {
	path := recordsPath(zoneID) + "?per_page=5000"
	if name != "" {
		path += "&name=" + url.QueryEscape(name)
	}
	var records []ProviderRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// IsAvailable は指定名のレコードがゾーン内に1件も存在しない場合にtrueを返す。
func (c *CloudflareClient) IsAvailable(ctx context.Context, zoneID, name string) (bool, error) {
	records, err := c.ListRecords(ctx, zoneID, name)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if strings.EqualFold(r.Name, name) {
			return false, nil
		}
	}
	return true, nil
}

// CreateRecord はレコードを作成し、プロバイダ側のレコードIDを返す。
func (c *CloudflareClient) CreateRecord(ctx context.Context, zoneID string, rec model.Record) (string, error) {
	payload, err := payloadFor(rec)
	if err != nil {
		return "", err
	}
	var created ProviderRecord
	if err := c.do(ctx, http.MethodPost, recordsPath(zoneID), payload, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("cloudflare returned empty record id")
	}
	return created.ID, nil
}

// UpdateRecord は既存レコードを上書きする。
func (c *CloudflareClient) UpdateRecord(ctx context.Context, zoneID, recordID string, rec model.Record) error {
	payload, err := payloadFor(rec)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, recordsPath(zoneID)+"/"+url.PathEscape(recordID), payload, nil)
}

// DeleteRecord はレコードを削除する。
func (c *CloudflareClient) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	return c.do(ctx, http.MethodDelete, recordsPath(zoneID)+"/"+url.PathEscape(recordID), nil, nil)
}

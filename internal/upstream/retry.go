// Package upstream は外部API呼び出しの失敗をHTTPステータスで分類し、
// 一時的な失敗だけを指数バックオフで再試行する。
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Result はHTTPステータスコードに基づく呼び出し結果の分類。
type Result int

const (
	// ResultOK は成功（2xx）。
	ResultOK Result = iota
	// ResultStop は再試行しても変わらない失敗（4xx）。
	ResultStop
	// ResultBackoff は時間をおけば回復しうる失敗（429/5xx）。
	ResultBackoff
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 500 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 8 * time.Second
	// DefaultAttempts は通知タスクの既定の試行回数。
	DefaultAttempts = 3
)

// ClassifyHTTPStatus はHTTPステータスコードを呼び出し結果に分類する。
func ClassifyHTTPStatus(statusCode int) Result {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ResultOK
	case statusCode == 429:
		return ResultBackoff
	case statusCode >= 500:
		return ResultBackoff
	default:
		return ResultStop
	}
}

// StatusError は外部APIが2xx以外を返したことを表す。
type StatusError struct {
	Service    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d", e.Service, e.StatusCode)
}

// Retryable は再試行で回復しうるエラーかどうかを返す。
// 429/5xxとネットワークのタイムアウトを対象とする。
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return ClassifyHTTPStatus(se.StatusCode) == ResultBackoff
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大8秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Retry はfnを最大attempts回実行する。
// 再試行できないエラーやctxの終了ではその時点のエラーを返す。
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	return retry(ctx, attempts, fn, sleepCtx)
}

func retry(ctx context.Context, attempts int, fn func(ctx context.Context) error, sleep func(context.Context, time.Duration) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if serr := sleep(ctx, CalculateBackoff(i)); serr != nil {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package queue はモデレーション判断や通知などの副作用を
// 有界キューと固定数のワーカーで非同期に実行する。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunrin-today/cli-domain-backend/internal/metrics"
)

var (
	// ErrQueueFull はキューが満杯で投入できなかったことを表す。
	ErrQueueFull = errors.New("queue: full")
	// ErrQueueClosed はシャットダウン後の投入を表す。
	ErrQueueClosed = errors.New("queue: closed")
)

// Task はキューで実行する1件の処理。
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue は有界チャネルと固定数のワーカーからなるタスクキュー。
// Enqueueは満杯時に待たずにErrQueueFullを返す。
type Queue struct {
	tasks    chan Task
	workers  int
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	inFlight atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New はQueueを生成する。capacityとworkersが0以下の場合は既定値を使う。
func New(logger *slog.Logger, capacity, workers int, m metrics.MetricsCollector) *Queue {
	if capacity <= 0 {
		capacity = 128
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		tasks:   make(chan Task, capacity),
		workers: workers,
		logger:  logger,
		metrics: metrics.OrNop(m),
	}
}

// Start はワーカーを起動する。ctxはタスク実行時の親コンテキストになる。
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.logger.Info("タスクキューを開始しました",
		slog.Int("workers", q.workers),
		slog.Int("capacity", cap(q.tasks)),
	)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for task := range q.tasks {
				q.metrics.SetQueueDepth(len(q.tasks))
				q.run(ctx, task)
			}
		}()
	}
}

// Enqueue はタスクを投入する。
func (q *Queue) Enqueue(name string, fn func(ctx context.Context) error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- Task{Name: name, Run: fn}:
		q.metrics.SetQueueDepth(len(q.tasks))
		return nil
	default:
		q.logger.Warn("タスクキューが満杯のため投入を拒否しました",
			slog.String("task", name),
			slog.Int("capacity", cap(q.tasks)),
		)
		return ErrQueueFull
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	q.metrics.SetTasksInFlight(int(q.inFlight.Add(1)))
	defer func() {
		q.metrics.SetTasksInFlight(int(q.inFlight.Add(-1)))
	}()

	start := time.Now()
	q.logger.Debug("タスクを開始します", slog.String("task", task.Name))

	err := safeRun(ctx, task)
	q.metrics.RecordTaskResult(task.Name, err == nil)
	if err != nil {
		q.logger.Error("タスクが失敗しました",
			slog.String("task", task.Name),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
		return
	}
	q.logger.Info("タスクが完了しました",
		slog.String("task", task.Name),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task.Run(ctx)
}

// Shutdown は投入を停止し、残りのタスクの完了を待つ。
// ctxが先に終了した場合は実行中タスクのコンテキストをキャンセルしてctx.Err()を返す。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("タスクキューを停止しました")
		if q.cancel != nil {
			q.cancel()
		}
		return nil
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		q.logger.Warn("タスクキューの停止がタイムアウトしました",
			slog.Int64("in_flight", q.inFlight.Load()),
			slog.Int("pending", len(q.tasks)),
		)
		return ctx.Err()
	}
}

// Len は待機中のタスク数を返す。
func (q *Queue) Len() int {
	return len(q.tasks)
}

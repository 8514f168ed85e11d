// Package pgtest はテスト用のPostgreSQLコンテナを起動するヘルパーを提供する。
package pgtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sunrin-today/cli-domain-backend/internal/database"
)

// Start はPostgreSQLコンテナを起動し、接続URLを返す。
// Dockerが利用できない環境ではテストをスキップする。
func Start(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("domainbroker_test"),
		postgres.WithUsername("domainbroker"),
		postgres.WithPassword("domainbroker"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("PostgreSQLコンテナの起動に失敗: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("PostgreSQLコンテナの停止に失敗: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("接続文字列の取得に失敗: %v", err)
	}
	return dsn
}

// Migrated はマイグレーション適用済みのDB接続を返す。
func Migrated(t *testing.T) *sql.DB {
	t.Helper()

	dsn := Start(t)
	if _, err := database.RunMigrations(dsn); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	db, err := database.Open(dsn, database.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

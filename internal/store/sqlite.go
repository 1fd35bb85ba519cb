package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trade-router/internal/config"
)

// Store 持有订单仓储、止损阈值与事件日志共用的 SQLite 连接。
type Store struct {
	db *sql.DB
}

const openTimeout = 5 * time.Second

// NewSQLite 打开数据库并确认可用，WAL 与外键通过 DSN 参数在每个连接上生效。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	if !cfg.InMemory {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("store: 打开 SQLite 失败: %w", err)
	}
	applyPool(conn, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("store: SQLite 不可用 (%s): %w", describe(cfg), err)
	}
	return &Store{db: conn}, nil
}

// NewInMemory 创建测试与本地演示用的内存库。
func NewInMemory() (*Store, error) {
	return NewSQLite(config.DatabaseConfig{InMemory: true})
}

// DB 返回底层连接池。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭连接池，可重复调用。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func buildDSN(cfg config.DatabaseConfig) string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	if cfg.InMemory {
		return ":memory:?" + params.Encode()
	}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	return "file:" + cfg.Path + "?" + params.Encode()
}

func applyPool(conn *sql.DB, cfg config.DatabaseConfig) {
	if cfg.InMemory {
		// :memory: 每个连接是独立的库
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		return
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
}

func describe(cfg config.DatabaseConfig) string {
	if cfg.InMemory {
		return ":memory:"
	}
	return cfg.Path
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("store: 创建目录 %q 失败: %w", path, err)
	}
	return nil
}

package relayer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// 中继记录状态
const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
)

var ErrRelayNotFound = errors.New("relay record not found")

// RelayRecord 一次中继尝试
type RelayRecord struct {
	ID        string    `json:"id"`
	TxHash    string    `json:"transactionHash,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Nonce     string    `json:"nonce"`
	Selector  string    `json:"selector,omitempty"`
	Status    string    `json:"status"`
	ErrorCode string    `json:"errorCode,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RelayLog 中继记录仓库
type RelayLog interface {
	Save(ctx context.Context, rec *RelayRecord) error
	FindByTxHash(ctx context.Context, txHash string) (*RelayRecord, error)
}

// PostgresRelayLog 表 relay_transactions
type PostgresRelayLog struct {
	db *sql.DB
}

func NewPostgresRelayLog(db *sql.DB) *PostgresRelayLog {
	return &PostgresRelayLog{db: db}
}

var _ RelayLog = (*PostgresRelayLog)(nil)

// Schema 建表语句（服务启动时执行）
const Schema = `
CREATE TABLE IF NOT EXISTS relay_transactions (
	id          UUID PRIMARY KEY,
	tx_hash     TEXT UNIQUE,
	from_addr   TEXT NOT NULL,
	to_addr     TEXT NOT NULL,
	nonce       NUMERIC NOT NULL,
	selector    TEXT,
	status      TEXT NOT NULL,
	error_code  TEXT,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema 创建表
func (r *PostgresRelayLog) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create relay_transactions: %w", err)
	}
	return nil
}

func (r *PostgresRelayLog) Save(ctx context.Context, rec *RelayRecord) error {
	query := `
		INSERT INTO relay_transactions
			(id, tx_hash, from_addr, to_addr, nonce, selector, status, error_code, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		nullString(strings.ToLower(rec.TxHash)),
		strings.ToLower(rec.From),
		strings.ToLower(rec.To),
		rec.Nonce,
		nullString(rec.Selector),
		rec.Status,
		nullString(rec.ErrorCode),
		nullString(rec.Error),
		rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("relay record already exists: %w", err)
		}
		return fmt.Errorf("failed to save relay record: %w", err)
	}
	return nil
}

func (r *PostgresRelayLog) FindByTxHash(ctx context.Context, txHash string) (*RelayRecord, error) {
	query := `
		SELECT
			id::text,
			tx_hash,
			from_addr,
			to_addr,
			nonce::text,
			selector,
			status,
			error_code,
			error,
			created_at
		FROM relay_transactions
		WHERE tx_hash = $1
	`
	var rec RelayRecord
	var hash, selector, code, msg sql.NullString
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(txHash)).Scan(
		&rec.ID,
		&hash,
		&rec.From,
		&rec.To,
		&rec.Nonce,
		&selector,
		&rec.Status,
		&code,
		&msg,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRelayNotFound
		}
		return nil, fmt.Errorf("failed to get relay record: %w", err)
	}
	rec.TxHash = hash.String
	rec.Selector = selector.String
	rec.ErrorCode = code.String
	rec.Error = msg.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// MemoryRelayLog 无数据库时使用
type MemoryRelayLog struct {
	mu      sync.RWMutex
	records []*RelayRecord
}

func NewMemoryRelayLog() *MemoryRelayLog {
	return &MemoryRelayLog{}
}

var _ RelayLog = (*MemoryRelayLog)(nil)

func (m *MemoryRelayLog) Save(_ context.Context, rec *RelayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemoryRelayLog) FindByTxHash(_ context.Context, txHash string) (*RelayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.TxHash != "" && strings.EqualFold(r.TxHash, txHash) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRelayNotFound
}

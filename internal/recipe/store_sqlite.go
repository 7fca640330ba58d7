package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const recipeColumns = `id, user_id, title, servings, difficulty, time_prep_min, time_cook_min, time_total_min, json, created_at, updated_at`

// scopeClause 用户为空时不过滤；否则只看自己的与无主的
const scopeClause = `(? = '' OR user_id IS NULL OR user_id = ?)`

// SQLiteStore SQLite 持久化 recipe 存储
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore 打开 dsn 指向的 SQLite 数据库并建表
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if err := ensureDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// 配置连接池
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	store, err := NewSQLiteStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// ensureDir 为普通文件路径创建父目录
func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	return nil
}

// NewSQLiteStoreWithDB 使用已打开的连接
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init recipe schema: %w", err)
	}
	return s, nil
}

// initSchema 初始化数据库表
func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			title TEXT NOT NULL,
			servings INTEGER,
			difficulty TEXT,
			time_prep_min INTEGER,
			time_cook_min INTEGER,
			time_total_min INTEGER,
			json TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_recipes_user_title ON recipes (user_id, title);
	`)
	return err
}

// Save 保存并返回新 id
func (s *SQLiteStore) Save(ctx context.Context, rec Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newRecordID()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipes (`+recipeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		nullable(rec.UserID),
		rec.Title,
		rec.Servings,
		rec.Difficulty,
		rec.PrepMin,
		rec.CookMin,
		rec.TotalMin,
		rec.JSON,
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("insert recipe: %w", err)
	}
	return id, nil
}

// Get 获取单条记录
func (s *SQLiteStore) Get(ctx context.Context, id, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes WHERE id = ? AND `+scopeClause,
		id, userID, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	return rec, nil
}

// List 按创建时间倒序
func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]Record, error) {
	return s.query(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE `+scopeClause+`
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		f.UserID, f.UserID, f.limit(), f.offset())
}

// Search 标题大小写不敏感的子串匹配
func (s *SQLiteStore) Search(ctx context.Context, q string, f ListFilter) ([]Record, error) {
	pattern := "%" + strings.ToLower(q) + "%"
	return s.query(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE `+scopeClause+` AND lower(title) LIKE ?
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		f.UserID, f.UserID, pattern, f.limit(), f.offset())
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recipes: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipe: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipes: %w", err)
	}
	return out, nil
}

// Delete 删除记录，返回是否存在
func (s *SQLiteStore) Delete(ctx context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM recipes WHERE id = ? AND `+scopeClause, id, userID, userID)
	if err != nil {
		return false, fmt.Errorf("delete recipe: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete recipe: %w", err)
	}
	return n > 0, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var userID, difficulty sql.NullString
	var servings, prep, cook, total sql.NullInt64
	err := row.Scan(&rec.ID, &userID, &rec.Title, &servings, &difficulty,
		&prep, &cook, &total, &rec.JSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID.String
	rec.Difficulty = difficulty.String
	rec.Servings = int(servings.Int64)
	rec.PrepMin = int(prep.Int64)
	rec.CookMin = int(cook.Int64)
	rec.TotalMin = int(total.Int64)
	return &rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

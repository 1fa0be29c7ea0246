package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cache 把数据集矩阵落在本地 SQLite，避免每次迭代都打数据服务。
type Cache struct {
	db *sql.DB
}

func OpenCache(path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("dataset: 缓存路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS datasets (
		key        TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		fetched_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get 返回未过期的缓存条目；miss 与过期都返回 ok=false。
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration) (*Frame, bool, error) {
	var payload []byte
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx, `SELECT payload, fetched_at FROM datasets WHERE key = ?`, key).
		Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if ttl > 0 && time.Since(time.Unix(fetchedAt, 0)) > ttl {
		return nil, false, nil
	}
	f, err := ParseServiceJSON(payload)
	if err != nil {
		return nil, false, fmt.Errorf("dataset: 缓存 %s 解码失败: %w", key, err)
	}
	return f, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, f *Frame) error {
	if f.Empty() {
		return fmt.Errorf("dataset: 拒绝缓存空矩阵 %s", key)
	}
	payload, err := encodeFrame(f)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO datasets (key, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		key, payload, time.Now().Unix())
	return err
}

// encodeFrame 以数据服务的响应格式序列化，NaN 写为 null。
func encodeFrame(f *Frame) ([]byte, error) {
	index := make([]string, len(f.Dates))
	for i, d := range f.Dates {
		index[i] = d.Format("2006-01-02")
	}
	data := make([][]any, len(f.Values))
	for i, row := range f.Values {
		cells := make([]any, len(row))
		for j, v := range row {
			if math.IsNaN(v) {
				cells[j] = nil
			} else {
				cells[j] = v
			}
		}
		data[i] = cells
	}
	return json.Marshal(map[string]any{
		"index":   index,
		"columns": f.Stocks,
		"data":    data,
	})
}

// Package store 使用 SQLite 持久化评测运行及逐条结果，支持中断后续跑。
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/iabetor/ttseval/internal/logger"

	_ "modernc.org/sqlite"
)

// Run 一次评测运行。
type Run struct {
	ID        string
	Manifest  string
	Config    string // 运行时的关键配置，JSON
	CreatedAt time.Time
	Records   int
}

// Record 一条已输出的结果行。
type Record struct {
	Seq      int
	Key      string
	Line     []byte
	Complete bool // 所有启用的指标都成功
}

// Store 评测结果存储，可被多个 goroutine 共享。
type Store struct {
	db *sql.DB
}

// NewRunID 生成新的运行 ID。
func NewRunID() string {
	return uuid.NewString()
}

// Open 打开（必要时创建）数据库文件。
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite 同一时间只允许一个写连接
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("启用外键约束失败: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("[store] 结果存储已初始化 (db=%s)", path)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			manifest TEXT NOT NULL DEFAULT '',
			config TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS records (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			record_key TEXT NOT NULL,
			line TEXT NOT NULL,
			complete BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, record_key)
		);
		CREATE INDEX IF NOT EXISTS idx_records_seq ON records(run_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("创建数据表失败: %w", err)
	}
	return nil
}

// CreateRun 登记一次运行。ID 已存在时保留原记录。
func (s *Store) CreateRun(id, manifest, config string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO runs (id, manifest, config) VALUES (?, ?, ?)", id, manifest, config)
	if err != nil {
		return fmt.Errorf("登记运行失败: %w", err)
	}
	return nil
}

// GetRun 查询运行信息，不存在时返回 nil。
func (s *Store) GetRun(id string) (*Run, error) {
	var r Run
	var created int64
	err := s.db.QueryRow(`
		SELECT r.id, r.manifest, r.config, CAST(strftime('%s', r.created_at) AS INTEGER), COUNT(c.record_key)
		FROM runs r LEFT JOIN records c ON c.run_id = r.id
		WHERE r.id = ?
		GROUP BY r.id
	`, id).Scan(&r.ID, &r.Manifest, &r.Config, &created, &r.Records)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("查询运行失败: %w", err)
	}
	r.CreatedAt = time.Unix(created, 0)
	return &r, nil
}

// ListRuns 按创建时间倒序列出所有运行。
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.manifest, r.config, CAST(strftime('%s', r.created_at) AS INTEGER), COUNT(c.record_key)
		FROM runs r LEFT JOIN records c ON c.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at DESC, r.rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("列出运行失败: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &r.Manifest, &r.Config, &created, &r.Records); err != nil {
			return nil, fmt.Errorf("读取运行数据失败: %w", err)
		}
		r.CreatedAt = time.Unix(created, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveRecord 保存一条结果，同一运行内相同 key 覆盖旧值。
func (s *Store) SaveRecord(runID string, rec Record) error {
	_, err := s.db.Exec(`
		INSERT INTO records (run_id, seq, record_key, line, complete) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, record_key) DO UPDATE SET
			seq = excluded.seq, line = excluded.line, complete = excluded.complete
	`, runID, rec.Seq, rec.Key, string(rec.Line), rec.Complete)
	if err != nil {
		return fmt.Errorf("保存结果失败 (key=%s): %w", rec.Key, err)
	}
	return nil
}

// Completed 返回该运行中所有指标都成功的记录，按 key 索引。
func (s *Store) Completed(runID string) (map[string]Record, error) {
	recs, err := s.query(runID, "AND complete = 1")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(recs))
	for _, r := range recs {
		out[r.Key] = r
	}
	return out, nil
}

// Records 按输入顺序返回该运行的全部结果。
func (s *Store) Records(runID string) ([]Record, error) {
	return s.query(runID, "")
}

func (s *Store) query(runID, filter string) ([]Record, error) {
	rows, err := s.db.Query(
		"SELECT seq, record_key, line, complete FROM records WHERE run_id = ? "+filter+" ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("查询结果失败: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		var line string
		if err := rows.Scan(&r.Seq, &r.Key, &line, &r.Complete); err != nil {
			return nil, fmt.Errorf("读取结果数据失败: %w", err)
		}
		r.Line = []byte(line)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// DeleteRun 删除运行及其全部结果。
func (s *Store) DeleteRun(id string) error {
	result, err := s.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("删除运行失败: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("运行 %s 不存在", id)
	}
	return nil
}

// Close 关闭数据库连接。
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
		logger.Info("[store] 结果存储已关闭")
	}
}

package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

// Diary is one persisted submission plus its opaque audit bundle.
type Diary struct {
	ID         int64     `json:"id"`
	Contest    string    `json:"contest"`
	Category   string    `json:"category"`
	DiaryURL   string    `json:"diary_url"`
	CallSign   string    `json:"call_sign"`
	QTHName    string    `json:"qth_name"`
	QTHLocator string    `json:"qth_locator"`
	QTHLon     float64   `json:"qth_lon"`
	QTHLat     float64   `json:"qth_lat"`
	QSOCount   int       `json:"qso_count"`
	Email      string    `json:"email"`
	AuditJSON  string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS diaries (
  id           INTEGER PRIMARY KEY,
  contest      TEXT NOT NULL,
  category     TEXT NOT NULL,
  diary_url    TEXT UNIQUE,
  call_sign    TEXT NOT NULL,
  qth_name     TEXT NOT NULL,
  qth_locator  TEXT NOT NULL,
  qth_lon      REAL NOT NULL,
  qth_lat      REAL NOT NULL,
  qso_count    INTEGER NOT NULL CHECK (qso_count > 0),
  email        TEXT NOT NULL,
  audit_json   TEXT,
  created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_diaries_contest ON diaries(contest, category);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

func (d *DB) InsertDiary(ctx context.Context, diary Diary) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `
INSERT INTO diaries (contest, category, diary_url, call_sign, qth_name, qth_locator, qth_lon, qth_lat, qso_count, email, audit_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		diary.Contest, diary.Category, nullable(diary.DiaryURL), diary.CallSign,
		diary.QTHName, diary.QTHLocator, diary.QTHLon, diary.QTHLat,
		diary.QSOCount, diary.Email, nullable(diary.AuditJSON))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DiaryURLExists backs the uniqueness rule on submitted diary links.
func (d *DB) DiaryURLExists(ctx context.Context, diaryURL string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM diaries WHERE diary_url = ?", diaryURL).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) ListDiaries(ctx context.Context) ([]Diary, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT id, contest, category, COALESCE(diary_url, ''), call_sign, qth_name, qth_locator,
       qth_lon, qth_lat, qso_count, email, COALESCE(audit_json, ''), created_at
FROM diaries ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var diaries []Diary
	for rows.Next() {
		var diary Diary
		var createdAtStr string
		if err := rows.Scan(&diary.ID, &diary.Contest, &diary.Category, &diary.DiaryURL,
			&diary.CallSign, &diary.QTHName, &diary.QTHLocator,
			&diary.QTHLon, &diary.QTHLat, &diary.QSOCount,
			&diary.Email, &diary.AuditJSON, &createdAtStr); err != nil {
			return nil, err
		}
		// Parse SQLite CURRENT_TIMESTAMP format
		// Try "2006-01-02 15:04:05" then RFC3339
		if t, perr := time.Parse("2006-01-02 15:04:05", createdAtStr); perr == nil {
			diary.CreatedAt = t
		} else if t2, perr2 := time.Parse(time.RFC3339, createdAtStr); perr2 == nil {
			diary.CreatedAt = t2
		} else {
			diary.CreatedAt = time.Time{}
		}
		diaries = append(diaries, diary)
	}
	return diaries, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

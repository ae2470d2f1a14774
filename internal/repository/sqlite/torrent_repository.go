package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"magnet-stream/internal/domain"
	"magnet-stream/internal/repository"
)

const createTorrentsTable = `
CREATE TABLE IF NOT EXISTS torrents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	magnet TEXT NOT NULL UNIQUE,
	info_hash TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	is_multi_videos INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_torrents_info_hash ON torrents(info_hash);
`

type TorrentRepository struct {
	db *sql.DB
}

func NewTorrentRepository(db *sql.DB) repository.TorrentRepository {
	return &TorrentRepository{db: db}
}

func (r *TorrentRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTorrentsTable); err != nil {
		return fmt.Errorf("create torrents table: %w", err)
	}
	return nil
}

func (r *TorrentRepository) Create(ctx context.Context, t *domain.Torrent) (int64, error) {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO torrents (slug, magnet, info_hash, name, size, is_multi_videos, status, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Slug,
		t.Magnet,
		t.InfoHash,
		t.Name,
		t.Size,
		boolToInt(t.IsMultiVideos),
		string(t.Status),
		t.ErrorMessage,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert torrent: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	t.ID = id
	return id, nil
}

func (r *TorrentRepository) Get(ctx context.Context, id int64) (*domain.Torrent, error) {
	return r.getWhere(ctx, `id=?`, id)
}

func (r *TorrentRepository) GetBySlug(ctx context.Context, slug string) (*domain.Torrent, error) {
	return r.getWhere(ctx, `slug=?`, slug)
}

func (r *TorrentRepository) GetByMagnet(ctx context.Context, magnet string) (*domain.Torrent, error) {
	return r.getWhere(ctx, `magnet=?`, magnet)
}

func (r *TorrentRepository) getWhere(ctx context.Context, cond string, arg any) (*domain.Torrent, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, slug, magnet, info_hash, name, size, is_multi_videos, status, error_message, created_at, updated_at
FROM torrents
WHERE `+cond, arg)

	return scanTorrent(row)
}

func (r *TorrentRepository) List(ctx context.Context) ([]domain.Torrent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, slug, magnet, info_hash, name, size, is_multi_videos, status, error_message, created_at, updated_at
FROM torrents
ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query torrents: %w", err)
	}
	defer rows.Close()

	var torrents []domain.Torrent
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		torrents = append(torrents, *t)
	}

	return torrents, rows.Err()
}

func (r *TorrentRepository) UpdateInfo(ctx context.Context, id int64, info domain.TorrentInfo) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE torrents
SET name=?, info_hash=?, size=?, is_multi_videos=?, status=?, updated_at=?
WHERE id=?`,
		info.Name,
		info.InfoHash,
		info.Size,
		boolToInt(info.IsMultiVideos),
		string(info.Status),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update torrent info: %w", err)
	}
	return nil
}

func (r *TorrentRepository) UpdateStatus(ctx context.Context, id int64, from, to domain.TorrentStatus) error {
	if !domain.CanTransition(from, to) {
		return repository.ErrIllegalTransition
	}

	// The prior-status condition is the concurrency guard: a racing writer
	// that already moved the record leaves zero rows for this update.
	res, err := r.db.ExecContext(ctx, `
UPDATE torrents
SET status=?, updated_at=?
WHERE id=? AND status=?`,
		string(to),
		time.Now().UTC(),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update torrent status: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("status update rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrIllegalTransition
	}
	return nil
}

func (r *TorrentRepository) MarkError(ctx context.Context, id int64, msg string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE torrents
SET status=?, error_message=?, updated_at=?
WHERE id=? AND status NOT IN (?, ?, ?)`,
		string(domain.TorrentStatusError),
		msg,
		time.Now().UTC(),
		id,
		string(domain.TorrentStatusDone),
		string(domain.TorrentStatusNoMedia),
		string(domain.TorrentStatusError),
	)
	if err != nil {
		return fmt.Errorf("mark torrent error: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark error rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrIllegalTransition
	}
	return nil
}

func (r *TorrentRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subtitles WHERE torrent_id=?`, id); err != nil {
		return fmt.Errorf("delete subtitles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE torrent_id=?`, id); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM torrents WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("torrent delete rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit torrent delete: %w", err)
	}
	return nil
}

func (r *TorrentRepository) DeleteAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"subtitles", "files", "torrents"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

func scanTorrent(scanner interface {
	Scan(dest ...any) error
}) (*domain.Torrent, error) {
	var (
		t         domain.Torrent
		status    string
		multi     int
		createdAt time.Time
		updatedAt time.Time
	)

	if err := scanner.Scan(
		&t.ID,
		&t.Slug,
		&t.Magnet,
		&t.InfoHash,
		&t.Name,
		&t.Size,
		&multi,
		&status,
		&t.ErrorMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan torrent: %w", err)
	}

	t.Status = domain.TorrentStatus(status)
	t.IsMultiVideos = multi != 0
	t.CreatedAt = createdAt.Local()
	t.UpdatedAt = updatedAt.Local()

	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"magnet-stream/internal/domain"
	"magnet-stream/internal/repository"
)

const createFilesTable = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	torrent_id INTEGER NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	ext TEXT NOT NULL DEFAULT '',
	is_convertable INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	convert_progress REAL NOT NULL DEFAULT 0,
	convert_state TEXT NOT NULL DEFAULT 'pending',
	FOREIGN KEY(torrent_id) REFERENCES torrents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_files_torrent_id ON files(torrent_id);

CREATE TABLE IF NOT EXISTS subtitles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	torrent_id INTEGER NOT NULL,
	file_slug TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	lang TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	FOREIGN KEY(torrent_id) REFERENCES torrents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_subtitles_file_slug ON subtitles(file_slug);
`

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) repository.FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createFilesTable); err != nil {
		return fmt.Errorf("create files table: %w", err)
	}
	return nil
}

func (r *FileRepository) ReplaceForTorrent(ctx context.Context, torrentID int64, files []domain.File) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE torrent_id=?`, torrentID); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}

	for _, file := range files {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO files (torrent_id, slug, name, path, size, ext, is_convertable, status, convert_progress, convert_state)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			torrentID,
			file.Slug,
			file.Name,
			file.Path,
			file.Size,
			file.Ext,
			boolToInt(file.IsConvertable),
			string(file.Status),
			file.ConvertProgress.Progress,
			string(file.ConvertProgress.State),
		); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *FileRepository) ListByTorrent(ctx context.Context, torrentID int64) ([]domain.File, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, torrent_id, slug, name, path, size, ext, is_convertable, status, convert_progress, convert_state
FROM files
WHERE torrent_id=?
ORDER BY id ASC`, torrentID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range files {
		subs, err := r.listSubtitles(ctx, files[i].Slug)
		if err != nil {
			return nil, err
		}
		files[i].Subtitles = subs
	}

	return files, nil
}

func (r *FileRepository) GetBySlug(ctx context.Context, slug string) (*domain.File, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, torrent_id, slug, name, path, size, ext, is_convertable, status, convert_progress, convert_state
FROM files
WHERE slug=?`, slug)

	file, err := scanFile(row)
	if err != nil {
		return nil, err
	}

	subs, err := r.listSubtitles(ctx, slug)
	if err != nil {
		return nil, err
	}
	file.Subtitles = subs
	return file, nil
}

func (r *FileRepository) UpdateStatus(ctx context.Context, torrentID int64, slug string, from, to domain.FileStatus) error {
	if !domain.CanTransitionFile(from, to) {
		return repository.ErrIllegalTransition
	}

	// Same prior-status condition as the torrent side: a racing convert or
	// move worker that already settled the row leaves zero rows here.
	res, err := r.db.ExecContext(ctx, `
UPDATE files
SET status=?
WHERE torrent_id=? AND slug=? AND status=?`,
		string(to),
		torrentID,
		slug,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("file status rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrIllegalTransition
	}
	return nil
}

func (r *FileRepository) UpdateConvertProgress(ctx context.Context, torrentID int64, slug string, progress float64, state domain.ConvertState) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE files
SET convert_progress=?, convert_state=?
WHERE torrent_id=? AND slug=?`,
		progress,
		string(state),
		torrentID,
		slug,
	)
	if err != nil {
		return fmt.Errorf("update convert progress: %w", err)
	}
	return affectedOrNotFound(res)
}

func (r *FileRepository) UpdateConvertable(ctx context.Context, torrentID int64, slug string, convertable bool) error {
	return r.updateField(ctx, torrentID, slug, `is_convertable=?`, boolToInt(convertable))
}

func (r *FileRepository) UpdatePath(ctx context.Context, torrentID int64, slug string, path string) error {
	return r.updateField(ctx, torrentID, slug, `path=?`, path)
}

func (r *FileRepository) AddSubtitle(ctx context.Context, torrentID int64, slug string, sub domain.Subtitle) error {
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO subtitles (torrent_id, file_slug, slug, lang, path)
VALUES (?, ?, ?, ?, ?)`,
		torrentID,
		slug,
		sub.Slug,
		sub.Lang,
		sub.Path,
	); err != nil {
		return fmt.Errorf("insert subtitle: %w", err)
	}
	return nil
}

func (r *FileRepository) updateField(ctx context.Context, torrentID int64, slug, set string, value any) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET `+set+` WHERE torrent_id=? AND slug=?`, value, torrentID, slug)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return affectedOrNotFound(res)
}

func (r *FileRepository) listSubtitles(ctx context.Context, fileSlug string) ([]domain.Subtitle, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, torrent_id, file_slug, slug, lang, path
FROM subtitles
WHERE file_slug=?
ORDER BY id ASC`, fileSlug)
	if err != nil {
		return nil, fmt.Errorf("query subtitles: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subtitle
	for rows.Next() {
		var sub domain.Subtitle
		if err := rows.Scan(&sub.ID, &sub.TorrentID, &sub.FileSlug, &sub.Slug, &sub.Lang, &sub.Path); err != nil {
			return nil, fmt.Errorf("scan subtitle: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func scanFile(scanner interface {
	Scan(dest ...any) error
}) (*domain.File, error) {
	var (
		file         domain.File
		convertable  int
		status       string
		convertState string
	)

	if err := scanner.Scan(
		&file.ID,
		&file.TorrentID,
		&file.Slug,
		&file.Name,
		&file.Path,
		&file.Size,
		&file.Ext,
		&convertable,
		&status,
		&file.ConvertProgress.Progress,
		&convertState,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}

	file.IsConvertable = convertable != 0
	file.Status = domain.FileStatus(status)
	file.ConvertProgress.State = domain.ConvertState(convertState)

	return &file, nil
}

func affectedOrNotFound(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrNotFound
	}
	return nil
}

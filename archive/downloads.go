package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hazyhaar/dhtrack/observe"
)

// DownloadsRepository owns the download queue: download_metadata rows move
// Enqueued → Downloading → terminal, and download_blobs appear alongside a
// Success row. The claim step is a single UPDATE ... RETURNING so items are
// handed to exactly one worker even with the engine and ingest writing
// concurrently.
type DownloadsRepository struct {
	pool  *Pool
	total *observe.Counter
}

// Enqueue inserts an Enqueued row for every attachment matching the filter
// whose normalized_url is not yet known to the queue, and returns how many
// rows were inserted. Insert-or-ignore semantics tolerate a concurrently
// active downloader.
func (r *DownloadsRepository) Enqueue(ctx context.Context, f AttachmentFilter) (int64, error) {
	var b strings.Builder
	var args []any

	b.WriteString(`INSERT OR IGNORE INTO download_metadata
		(normalized_url, download_url, status, type, size)
		SELECT a.normalized_url, a.download_url, ?, a.type, a.size
		FROM attachments a
		WHERE a.normalized_url NOT IN (SELECT normalized_url FROM download_metadata)`)
	args = append(args, int64(StatusEnqueued))

	if f.MaxBytes > 0 {
		b.WriteString(" AND a.size <= ?")
		args = append(args, f.MaxBytes)
	}
	if len(f.ChannelIDs) > 0 {
		b.WriteString(" AND a.message_id IN (SELECT id FROM messages WHERE channel IN (")
		b.WriteString(placeholders(len(f.ChannelIDs)))
		b.WriteString("))")
		for _, ch := range f.ChannelIDs {
			args = append(args, signed(ch))
		}
	}

	res, err := r.pool.DB().ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("archive: enqueue downloads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive: enqueue rows affected: %w", err)
	}
	if n > 0 {
		r.updateTotalCount(ctx)
	}
	return n, nil
}

// PullNextEnqueued atomically claims up to n Enqueued items, transitioning
// them to Downloading, and returns them.
func (r *DownloadsRepository) PullNextEnqueued(ctx context.Context, n int) ([]DownloadItem, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		`UPDATE download_metadata SET status = ?
		 WHERE normalized_url IN (
		     SELECT normalized_url FROM download_metadata
		     WHERE status = ? LIMIT ?)
		 RETURNING normalized_url, download_url, status, type, size`,
		int64(StatusDownloading), int64(StatusEnqueued), n)
	if err != nil {
		return nil, fmt.Errorf("archive: pull enqueued: %w", err)
	}
	defer rows.Close()

	var items []DownloadItem
	for rows.Next() {
		var it DownloadItem
		var status int64
		if err := rows.Scan(&it.NormalizedURL, &it.DownloadURL, &status, &it.Type, &it.Size); err != nil {
			return nil, fmt.Errorf("archive: scan pulled item: %w", err)
		}
		it.Status = DownloadStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

// WriteOutcome records the terminal result for one URL in a single
// transaction. On success the blob is stored; any other status removes a
// stale blob so the blob↔success invariant holds.
func (r *DownloadsRepository) WriteOutcome(ctx context.Context, url string, out DownloadOutcome) error {
	tx, err := r.pool.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin outcome: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE download_metadata
		 SET status = ?, type = COALESCE(?, type), size = COALESCE(?, size)
		 WHERE normalized_url = ?`,
		int64(out.Status), out.Type, out.Size, url); err != nil {
		return fmt.Errorf("archive: update outcome %s: %w", url, err)
	}

	if out.Status == StatusSuccess {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO download_blobs (normalized_url, blob) VALUES (?, ?)
			 ON CONFLICT(normalized_url) DO UPDATE SET blob = excluded.blob`,
			url, out.Blob); err != nil {
			return fmt.Errorf("archive: store blob %s: %w", url, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM download_blobs WHERE normalized_url = ?`, url); err != nil {
			return fmt.Errorf("archive: drop blob %s: %w", url, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit outcome %s: %w", url, err)
	}
	return nil
}

// classExpr is the SQL predicate matching one status bucket.
func classExpr(c StatusClass) string {
	switch c {
	case ClassEnqueued:
		return "status IN (0, 1)"
	case ClassSuccess:
		return "status = 2"
	case ClassSkipped:
		return "status = 4"
	default:
		return "(status = 3 OR status >= 1000)"
	}
}

// Remove deletes queue rows whose status bucket matches (RemoveMatching) or
// does not match (KeepMatching) the given classes. Blob rows go with them
// via the FK cascade.
func (r *DownloadsRepository) Remove(ctx context.Context, classes []StatusClass, mode RemoveMode) error {
	if len(classes) == 0 {
		return nil
	}
	exprs := make([]string, len(classes))
	for i, c := range classes {
		exprs[i] = classExpr(c)
	}
	cond := "(" + strings.Join(exprs, " OR ") + ")"
	if mode == KeepMatching {
		cond = "NOT " + cond
	}

	if _, err := r.pool.DB().ExecContext(ctx,
		"DELETE FROM download_metadata WHERE "+cond); err != nil {
		return fmt.Errorf("archive: remove download items: %w", err)
	}
	r.updateTotalCount(ctx)
	return nil
}

// Statistics returns the queue composition snapshot.
func (r *DownloadsRepository) Statistics(ctx context.Context) (DownloadStatusStatistics, error) {
	rows, err := r.pool.DB().QueryContext(ctx,
		`SELECT
		     CASE WHEN status IN (0, 1) THEN 0
		          WHEN status = 2 THEN 1
		          WHEN status = 4 THEN 3
		          ELSE 2 END AS bucket,
		     COUNT(*), COALESCE(SUM(size), 0)
		 FROM download_metadata GROUP BY bucket`)
	if err != nil {
		return DownloadStatusStatistics{}, fmt.Errorf("archive: download statistics: %w", err)
	}
	defer rows.Close()

	var stats DownloadStatusStatistics
	for rows.Next() {
		var bucket int
		var tally StatusTally
		if err := rows.Scan(&bucket, &tally.Count, &tally.TotalBytes); err != nil {
			return DownloadStatusStatistics{}, fmt.Errorf("archive: scan statistics: %w", err)
		}
		switch StatusClass(bucket) {
		case ClassEnqueued:
			stats.Enqueued = tally
		case ClassSuccess:
			stats.Successful = tally
		case ClassFailed:
			stats.Failed = tally
		case ClassSkipped:
			stats.Skipped = tally
		}
	}
	return stats, rows.Err()
}

// GetBlob returns the stored bytes and content type for a normalized URL,
// or (nil, nil, nil) when no successful download exists.
func (r *DownloadsRepository) GetBlob(ctx context.Context, url string) ([]byte, *string, error) {
	var blob []byte
	var typ *string
	err := r.pool.DB().QueryRowContext(ctx,
		`SELECT b.blob, m.type
		 FROM download_blobs b
		 JOIN download_metadata m ON m.normalized_url = b.normalized_url
		 WHERE b.normalized_url = ? AND m.status = ?`,
		url, int64(StatusSuccess)).Scan(&blob, &typ)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("archive: get blob %s: %w", url, err)
	}
	return blob, typ, nil
}

// ResetDownloading requeues items stranded in Downloading by a crash or an
// engine stop, returning how many were reset.
func (r *DownloadsRepository) ResetDownloading(ctx context.Context) (int64, error) {
	res, err := r.pool.DB().ExecContext(ctx,
		`UPDATE download_metadata SET status = ? WHERE status = ?`,
		int64(StatusEnqueued), int64(StatusDownloading))
	if err != nil {
		return 0, fmt.Errorf("archive: reset downloading: %w", err)
	}
	return res.RowsAffected()
}

// CountAll returns the number of queue rows.
func (r *DownloadsRepository) CountAll(ctx context.Context) (int64, error) {
	return countTable(ctx, r.pool.DB(), "download_metadata")
}

// TotalCount is the queue row-count observable.
func (r *DownloadsRepository) TotalCount() *observe.Counter {
	return r.total
}

func (r *DownloadsRepository) updateTotalCount(ctx context.Context) {
	if n, err := r.CountAll(ctx); err == nil {
		r.total.Set(n)
	}
}

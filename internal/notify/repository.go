package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quietend-server/internal/shared/database"
)

type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	logger := slog.With("component", "notify_repository", "operation", "init")
	logger.Debug("Initializing notify repository")
	return &Repository{db: db}
}

const newsColumns = `id, origin_location_id, title, body, deliver_at, created_at`

func scanNews(row interface{ Scan(...interface{}) error }) (*NewsItem, error) {
	var n NewsItem
	err := row.Scan(&n.ID, &n.OriginLocationID, &n.Title, &n.Body, &n.DeliverAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *Repository) EnqueueNews(ctx context.Context, item *NewsItem) (*NewsItem, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO news_queue (origin_location_id, title, body, deliver_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+newsColumns,
		item.OriginLocationID, item.Title, item.Body, item.DeliverAt,
	)
	created, err := scanNews(row)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue news item: %w", err)
	}
	return created, nil
}

func (r *Repository) DueNews(ctx context.Context, now time.Time) ([]NewsItem, error) {
	return r.queryNews(ctx,
		`SELECT `+newsColumns+` FROM news_queue WHERE deliver_at <= $1 ORDER BY deliver_at`,
		now,
	)
}

func (r *Repository) PendingNews(ctx context.Context) ([]NewsItem, error) {
	return r.queryNews(ctx,
		`SELECT `+newsColumns+` FROM news_queue ORDER BY deliver_at`,
	)
}

func (r *Repository) queryNews(ctx context.Context, query string, args ...interface{}) ([]NewsItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query news queue: %w", err)
	}
	defer rows.Close()

	var items []NewsItem
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan news item: %w", err)
		}
		items = append(items, *n)
	}
	return items, rows.Err()
}

func (r *Repository) DeleteNews(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM news_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete news item: %w", err)
	}
	return nil
}

func (r *Repository) NewsChannels(ctx context.Context) ([]GuildNewsChannel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT guild_id, news_channel_id FROM server_config WHERE news_channel_id IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query news channels: %w", err)
	}
	defer rows.Close()

	var outlets []GuildNewsChannel
	for rows.Next() {
		var o GuildNewsChannel
		if err := rows.Scan(&o.GuildID, &o.ChannelID); err != nil {
			return nil, fmt.Errorf("failed to scan news channel: %w", err)
		}
		outlets = append(outlets, o)
	}
	return outlets, rows.Err()
}

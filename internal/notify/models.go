package notify

import (
	"context"
	"time"
)

// NewsItem is a queued galactic-news story. It sits in news_queue until its
// propagation delay elapses, then goes out to every guild that configured a
// news channel.
type NewsItem struct {
	ID               int64     `json:"id"`
	OriginLocationID int64     `json:"origin_location_id"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	DeliverAt        time.Time `json:"deliver_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// GuildNewsChannel is a guild's configured news outlet from server_config.
type GuildNewsChannel struct {
	GuildID   string
	ChannelID string
}

// Store is the persistence surface the bus needs.
type Store interface {
	EnqueueNews(ctx context.Context, item *NewsItem) (*NewsItem, error)
	// DueNews returns queued items whose deliver_at has passed.
	DueNews(ctx context.Context, now time.Time) ([]NewsItem, error)
	// PendingNews returns every queued item, due or not, for boot re-arming.
	PendingNews(ctx context.Context) ([]NewsItem, error)
	DeleteNews(ctx context.Context, id int64) error
	// NewsChannels lists guilds that opted into galactic news.
	NewsChannels(ctx context.Context) ([]GuildNewsChannel, error)
}

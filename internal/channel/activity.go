package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quietend-server/internal/shared/redis"
)

// Activity tracks per-channel last-grant and last-message timestamps. The
// in-memory map is authoritative for reclamation decisions within a
// process; when Redis is available the timestamps are mirrored there so a
// restarted process does not treat a busy channel as idle.
type Activity struct {
	mu          sync.Mutex
	lastActive  map[string]time.Time
	lastMessage map[string]time.Time
	rdb         *redis.Client
}

func NewActivity(rdb *redis.Client) *Activity {
	return &Activity{
		lastActive:  make(map[string]time.Time),
		lastMessage: make(map[string]time.Time),
		rdb:         rdb,
	}
}

// BumpActive records a grant or post against a channel.
func (a *Activity) BumpActive(ctx context.Context, channelID string, at time.Time) {
	a.mu.Lock()
	a.lastActive[channelID] = at
	a.mu.Unlock()
	a.mirror(ctx, "chan:active:"+channelID, at)
}

// BumpMessage records a user message in a channel.
func (a *Activity) BumpMessage(ctx context.Context, channelID string, at time.Time) {
	a.mu.Lock()
	a.lastMessage[channelID] = at
	a.mu.Unlock()
	a.mirror(ctx, "chan:msg:"+channelID, at)
}

// LastActive returns the most recent grant/post time known for a channel.
func (a *Activity) LastActive(ctx context.Context, channelID string) (time.Time, bool) {
	a.mu.Lock()
	t, ok := a.lastActive[channelID]
	a.mu.Unlock()
	if ok {
		return t, true
	}
	return a.recall(ctx, "chan:active:"+channelID)
}

// LastMessage returns the most recent user message time known for a channel.
func (a *Activity) LastMessage(ctx context.Context, channelID string) (time.Time, bool) {
	a.mu.Lock()
	t, ok := a.lastMessage[channelID]
	a.mu.Unlock()
	if ok {
		return t, true
	}
	return a.recall(ctx, "chan:msg:"+channelID)
}

// Forget drops a reclaimed channel's timestamps.
func (a *Activity) Forget(ctx context.Context, channelID string) {
	a.mu.Lock()
	delete(a.lastActive, channelID)
	delete(a.lastMessage, channelID)
	a.mu.Unlock()

	if a.rdb != nil {
		if err := a.rdb.Del(ctx, "chan:active:"+channelID, "chan:msg:"+channelID).Err(); err != nil {
			slog.Debug("Failed to drop channel activity from redis", "channel_id", channelID, "error", err)
		}
	}
}

func (a *Activity) mirror(ctx context.Context, key string, at time.Time) {
	if a.rdb == nil {
		return
	}
	// Mirror failures only cost restart fidelity; never block the caller.
	if err := a.rdb.Set(ctx, key, fmt.Sprintf("%d", at.Unix()), 72*time.Hour).Err(); err != nil {
		slog.Debug("Failed to mirror channel activity to redis", "key", key, "error", err)
	}
}

func (a *Activity) recall(ctx context.Context, key string) (time.Time, bool) {
	if a.rdb == nil {
		return time.Time{}, false
	}
	unix, err := a.rdb.Get(ctx, key).Int64()
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	stderrors "errors"

	"quietend-server/internal/shared/clock"
	"quietend-server/internal/shared/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
	hook  func(ctx context.Context)
}

func (f *fakeSweeper) SweepExpired(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return f.err
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGuild struct {
	mu        sync.Mutex
	calls     int
	pressure  bool
	sawFlags  []bool
	reaped    int
	timeoutMe bool
}

func (f *fakeGuild) UnderPressure(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pressure
}

func (f *fakeGuild) SweepIdle(ctx context.Context, underPressure bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sawFlags = append(f.sawFlags, underPressure)
	if f.timeoutMe {
		return 0, ctx.Err()
	}
	return f.reaped, nil
}

func (f *fakeGuild) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecoverer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRecoverer) RecoverOrphans(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1, f.err
}

func (f *fakeRecoverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type reaperFixture struct {
	reaper   *Reaper
	groups   *fakeSweeper
	bounties *fakeSweeper
	guildA   *fakeGuild
	guildB   *fakeGuild
	travel   *fakeRecoverer
	clk      *clock.Mock
}

func newReaperFixture(t *testing.T, cfg config.GameConfig) *reaperFixture {
	t.Helper()
	f := &reaperFixture{
		groups:   &fakeSweeper{},
		bounties: &fakeSweeper{},
		guildA:   &fakeGuild{},
		guildB:   &fakeGuild{},
		travel:   &fakeRecoverer{},
		clk:      clock.NewMock(),
	}
	guilds := map[string]GuildChannels{"guild-a": f.guildA, "guild-b": f.guildB}
	f.reaper = New(f.groups, f.bounties, guilds, f.travel, f.clk, cfg)
	return f
}

func testConfig() config.GameConfig {
	return config.GameConfig{
		ReaperInterval:    time.Minute,
		GuildSweepTimeout: 30 * time.Second,
	}
}

func TestSweepRunsEveryStep(t *testing.T) {
	f := newReaperFixture(t, testConfig())
	f.guildA.pressure = true
	f.guildA.reaped = 2

	f.reaper.Sweep(context.Background())

	assert.Equal(t, 1, f.groups.count())
	assert.Equal(t, 1, f.bounties.count())
	assert.Equal(t, 1, f.guildA.count())
	assert.Equal(t, 1, f.guildB.count())
	assert.Equal(t, 1, f.travel.count())

	require.Len(t, f.guildA.sawFlags, 1)
	assert.True(t, f.guildA.sawFlags[0], "budget pressure must shorten the sweep grace")
	require.Len(t, f.guildB.sawFlags, 1)
	assert.False(t, f.guildB.sawFlags[0])
}

func TestTickerDrivesSweeps(t *testing.T) {
	f := newReaperFixture(t, testConfig())

	f.reaper.Start()
	f.clk.Advance(2 * time.Minute)
	assert.Equal(t, 2, f.groups.count())
	assert.Equal(t, 2, f.travel.count())

	f.reaper.Stop()
	f.clk.Advance(5 * time.Minute)
	assert.Equal(t, 2, f.groups.count(), "stopped reaper must not sweep")
}

func TestSlowGuildIsSkippedNotFatal(t *testing.T) {
	cfg := testConfig()
	// An already-expired per-guild deadline stands in for a guild whose
	// sweep cannot finish inside its slice.
	cfg.GuildSweepTimeout = time.Nanosecond
	f := newReaperFixture(t, cfg)
	f.guildA.timeoutMe = true
	f.guildB.timeoutMe = true

	f.reaper.Sweep(context.Background())

	assert.Equal(t, 1, f.guildA.count())
	assert.Equal(t, 1, f.guildB.count())
	assert.Equal(t, 1, f.travel.count(), "later steps still run after guild timeouts")
}

func TestFailingStepDoesNotBlockOthers(t *testing.T) {
	f := newReaperFixture(t, testConfig())
	f.groups.err = stderrors.New("vote table on fire")
	f.travel.err = stderrors.New("orphan scan failed")

	f.reaper.Sweep(context.Background())

	assert.Equal(t, 1, f.bounties.count())
	assert.Equal(t, 1, f.guildA.count())
	assert.Equal(t, 1, f.travel.count())
}

func TestOverlappingSweepCollapses(t *testing.T) {
	f := newReaperFixture(t, testConfig())
	f.groups.hook = func(ctx context.Context) {
		// Re-entering mid-pass must bail out instead of double-sweeping.
		f.reaper.Sweep(ctx)
	}

	f.reaper.Sweep(context.Background())

	assert.Equal(t, 1, f.groups.count())
	assert.Equal(t, 1, f.bounties.count())
}

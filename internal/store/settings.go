package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/rules"
)

// GetSettings reads the singleton row. nil, nil means never saved.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*rules.Settings, error) {
	var st rules.Settings
	var botEnabled, personal, group int
	var sleepStart, sleepEnd, tz sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT bot_enabled, sleep_start, sleep_end, timezone, reply_personal, reply_group
		FROM settings WHERE id = 1
	`).Scan(&botEnabled, &sleepStart, &sleepEnd, &tz, &personal, &group)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings failed: %w", err)
	}

	st.BotEnabled = botEnabled != 0
	st.SleepStart = sleepStart.String
	st.SleepEnd = sleepEnd.String
	st.Timezone = tz.String
	st.ReplyToPersonalChats = personal != 0
	st.ReplyToGroupChats = group != 0
	return &st, nil
}

// SaveSettings validates and upserts the singleton row.
func (s *SQLiteStore) SaveSettings(ctx context.Context, st rules.Settings) error {
	if err := ValidateSettings(st); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, bot_enabled, sleep_start, sleep_end, timezone, reply_personal, reply_group, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bot_enabled = excluded.bot_enabled,
			sleep_start = excluded.sleep_start,
			sleep_end = excluded.sleep_end,
			timezone = excluded.timezone,
			reply_personal = excluded.reply_personal,
			reply_group = excluded.reply_group,
			updated_at = excluded.updated_at
	`,
		boolInt(st.BotEnabled), nullString(st.SleepStart), nullString(st.SleepEnd), nullString(st.Timezone),
		boolInt(st.ReplyToPersonalChats), boolInt(st.ReplyToGroupChats), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save settings failed: %w", err)
	}
	L_info("sqlite: settings saved", "botEnabled", st.BotEnabled, "sleep", st.SleepStart+"-"+st.SleepEnd, "timezone", st.Timezone)
	return nil
}

// ValidateSettings checks sleep bounds and timezone before they are stored.
func ValidateSettings(st rules.Settings) error {
	for _, v := range []string{st.SleepStart, st.SleepEnd} {
		if v == "" {
			continue
		}
		if _, err := rules.ParseClock(v); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}
	if st.Timezone != "" {
		if _, err := time.LoadLocation(st.Timezone); err != nil {
			return fmt.Errorf("invalid settings: unknown timezone %q", st.Timezone)
		}
	}
	return nil
}

// CachedSettings wraps a Store and memoizes GetSettings for ttl.
// Errors are not cached.
type CachedSettings struct {
	Store
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	value     *rules.Settings
	fetchedAt time.Time
	valid     bool
}

// NewCachedSettings wraps s. ttl <= 0 disables caching.
func NewCachedSettings(s Store, ttl time.Duration) *CachedSettings {
	return &CachedSettings{Store: s, ttl: ttl, now: time.Now}
}

// GetSettings serves from cache while fresh.
func (c *CachedSettings) GetSettings(ctx context.Context) (*rules.Settings, error) {
	if c.ttl <= 0 {
		return c.Store.GetSettings(ctx)
	}

	c.mu.Lock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		v := c.value
		c.mu.Unlock()
		return copySettings(v), nil
	}
	c.mu.Unlock()

	v, err := c.Store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.value = copySettings(v)
	c.fetchedAt = c.now()
	c.valid = true
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops the cached value.
func (c *CachedSettings) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.value = nil
	c.mu.Unlock()
	L_debug("store: settings cache invalidated")
}

func copySettings(v *rules.Settings) *rules.Settings {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

package postgres

// SQL-миграции встроены в код для упрощения деплоя.

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, migration001UsersTiers},
	{2, migration002Ledger},
	{3, migration003KarmaEvents},
	{4, migration004Achievements},
	{5, migration005ActivitySignals},
	{6, migration006NotificationLog},
}

var migration001UsersTiers = `
CREATE TABLE IF NOT EXISTS tiers (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(64) UNIQUE NOT NULL,
    required_score BIGINT NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tiers_required_score ON tiers(required_score);
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username VARCHAR(255) UNIQUE NOT NULL,
    email VARCHAR(255),
    email_verified_at TIMESTAMPTZ,
    telegram_chat_id BIGINT,
    karma_points BIGINT NOT NULL DEFAULT 0,
    tier_id BIGINT REFERENCES tiers(id),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
`

var migration002Ledger = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    amount BIGINT NOT NULL,
    source VARCHAR(50) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_id ON ledger_entries(user_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_created_at ON ledger_entries(created_at DESC);
`

var migration003KarmaEvents = `
CREATE TABLE IF NOT EXISTS karma_events (
    id UUID PRIMARY KEY,
    type VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    multiplier NUMERIC(10,4) NOT NULL CHECK (multiplier > 0),
    start_at TIMESTAMPTZ NOT NULL,
    end_at TIMESTAMPTZ NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    CHECK (end_at > start_at)
);
CREATE INDEX IF NOT EXISTS idx_karma_events_start_at ON karma_events(start_at);
CREATE INDEX IF NOT EXISTS idx_karma_events_end_at ON karma_events(end_at);
`

var migration004Achievements = `
CREATE TABLE IF NOT EXISTS achievements (
    id BIGSERIAL PRIMARY KEY,
    slug VARCHAR(128) UNIQUE NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    type VARCHAR(64) NOT NULL,
    requirement_kind VARCHAR(64) NOT NULL,
    requirement_params JSONB NOT NULL DEFAULT '{}',
    karma_bonus BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS unlock_records (
    user_id BIGINT NOT NULL REFERENCES users(id),
    achievement_id BIGINT NOT NULL REFERENCES achievements(id),
    progress SMALLINT NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    unlocked_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    PRIMARY KEY (user_id, achievement_id)
);
`

var migration005ActivitySignals = `
CREATE TABLE IF NOT EXISTS activity_signals (
    user_id BIGINT PRIMARY KEY REFERENCES users(id),
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_activity_signals_last_activity ON activity_signals(last_activity_date);
`

var migration006NotificationLog = `
CREATE TABLE IF NOT EXISTS notification_log (
    dedupe_key CHAR(32) PRIMARY KEY,
    user_id BIGINT NOT NULL,
    kind VARCHAR(64) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

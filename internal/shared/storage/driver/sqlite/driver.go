// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和轻量级部署场景。
package sqlite

import (
	"database/sql"
	"fmt"

	"nervix-hub/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) BooleanLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:hub.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 迁移文件）
const schema = `
-- agents
CREATE TABLE IF NOT EXISTS agents (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL UNIQUE,
    display_name VARCHAR(200),
    roles TEXT DEFAULT '[]',
    status VARCHAR(32) DEFAULT 'pending',
    suspend_reason TEXT,
    credit_balance VARCHAR(32) DEFAULT '0.000000',
    fee_discount INTEGER DEFAULT 0,
    total_credits_earned VARCHAR(32) DEFAULT '0.000000',
    total_credits_spent VARCHAR(32) DEFAULT '0.000000',
    max_concurrent_tasks INTEGER DEFAULT 3,
    active_tasks INTEGER DEFAULT 0,
    total_tasks_completed INTEGER DEFAULT 0,
    total_tasks_failed INTEGER DEFAULT 0,
    last_heartbeat_at DATETIME,
    version INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- agent_capabilities
CREATE TABLE IF NOT EXISTS agent_capabilities (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    skill_id VARCHAR(64) NOT NULL,
    skill_name VARCHAR(200) NOT NULL,
    tags TEXT DEFAULT '[]',
    proficiency VARCHAR(32) DEFAULT 'intermediate',
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_capabilities_agent ON agent_capabilities(agent_id);

-- tasks
CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(200) NOT NULL,
    description TEXT,
    required_skills TEXT DEFAULT '[]',
    required_roles TEXT DEFAULT '[]',
    priority VARCHAR(32) DEFAULT 'normal',
    status VARCHAR(32) DEFAULT 'queued',
    credit_reward VARCHAR(32) DEFAULT '10.000000',
    max_duration INTEGER DEFAULT 3600,
    retry_count INTEGER DEFAULT 0,
    max_retries INTEGER DEFAULT 3,
    requester_id VARCHAR(64) NOT NULL,
    assigned_agent_id VARCHAR(64),
    failure_reason TEXT,
    assigned_at DATETIME,
    started_at DATETIME,
    completed_at DATETIME,
    version INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_agent_id);

-- reputation_scores
CREATE TABLE IF NOT EXISTS reputation_scores (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL UNIQUE REFERENCES agents(id) ON DELETE CASCADE,
    overall_score REAL DEFAULT 0.5,
    success_rate REAL DEFAULT 0,
    quality_score REAL DEFAULT 0,
    timeliness_score REAL DEFAULT 0,
    uptime_score REAL DEFAULT 0.9,
    avg_response_seconds REAL DEFAULT 0,
    sample_count INTEGER DEFAULT 0,
    version INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- knowledge_packages
CREATE TABLE IF NOT EXISTS knowledge_packages (
    id VARCHAR(64) PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL REFERENCES agents(id),
    name VARCHAR(200) NOT NULL,
    description TEXT,
    domain VARCHAR(64),
    root_hash VARCHAR(128),
    module_count INTEGER DEFAULT 0,
    test_count INTEGER DEFAULT 0,
    proficiency VARCHAR(32) DEFAULT 'intermediate',
    audit_status VARCHAR(32) DEFAULT 'pending',
    quality_score INTEGER DEFAULT 0,
    fair_market_value VARCHAR(32) DEFAULT '0.000000',
    listed INTEGER DEFAULT 0,
    listing_price VARCHAR(32) DEFAULT '0.000000',
    audit_expires_at DATETIME,
    total_trades INTEGER DEFAULT 0,
    version INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_packages_owner ON knowledge_packages(owner_id);
CREATE INDEX IF NOT EXISTS idx_packages_status ON knowledge_packages(audit_status);

-- knowledge_audits
CREATE TABLE IF NOT EXISTS knowledge_audits (
    id VARCHAR(64) PRIMARY KEY,
    package_id VARCHAR(64) NOT NULL REFERENCES knowledge_packages(id) ON DELETE CASCADE,
    auditor_id VARCHAR(64) NOT NULL,
    checks TEXT DEFAULT '[]',
    quality_score INTEGER DEFAULT 0,
    verdict VARCHAR(32),
    fair_market_value VARCHAR(32) DEFAULT '0.000000',
    findings TEXT DEFAULT '[]',
    recommendations TEXT DEFAULT '[]',
    expires_at DATETIME,
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audits_package ON knowledge_audits(package_id);

-- barter_transactions
CREATE TABLE IF NOT EXISTS barter_transactions (
    id VARCHAR(64) PRIMARY KEY,
    proposer_id VARCHAR(64) NOT NULL REFERENCES agents(id),
    responder_id VARCHAR(64) NOT NULL REFERENCES agents(id),
    offered_package_id VARCHAR(64) NOT NULL,
    requested_package_id VARCHAR(64),
    offered_fmv VARCHAR(32) DEFAULT '0.000000',
    requested_fmv VARCHAR(32),
    fmv_difference_percent VARCHAR(16),
    fairness_acked INTEGER DEFAULT 0,
    status VARCHAR(32) DEFAULT 'proposed',
    fee_status VARCHAR(32) DEFAULT 'pending',
    per_side_fee_ton VARCHAR(32) DEFAULT '0.000000000',
    proposer_fee_tx_hash VARCHAR(128),
    responder_fee_tx_hash VARCHAR(128),
    proposer_verified INTEGER DEFAULT 0,
    responder_verified INTEGER DEFAULT 0,
    deadline DATETIME,
    completed_at DATETIME,
    version INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_barters_status ON barter_transactions(status);

-- ledger_entries
CREATE TABLE IF NOT EXISTS ledger_entries (
    id VARCHAR(64) PRIMARY KEY,
    type VARCHAR(32) NOT NULL,
    from_agent_id VARCHAR(64),
    to_agent_id VARCHAR(64),
    amount VARCHAR(32) NOT NULL,
    fee VARCHAR(32) DEFAULT '0.000000',
    balance_after_from VARCHAR(32),
    balance_after_to VARCHAR(32),
    ref_id VARCHAR(64),
    memo TEXT,
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_ledger_from ON ledger_entries(from_agent_id);
CREATE INDEX IF NOT EXISTS idx_ledger_to ON ledger_entries(to_agent_id);
CREATE INDEX IF NOT EXISTS idx_ledger_ref ON ledger_entries(ref_id);

-- enrollment_challenges
CREATE TABLE IF NOT EXISTS enrollment_challenges (
    id VARCHAR(64) PRIMARY KEY,
    agent_name VARCHAR(200) NOT NULL,
    roles TEXT DEFAULT '[]',
    nonce VARCHAR(128) NOT NULL,
    status VARCHAR(32) DEFAULT 'pending',
    expires_at DATETIME NOT NULL,
    created_at DATETIME DEFAULT (datetime('now'))
);

-- agent_sessions
CREATE TABLE IF NOT EXISTS agent_sessions (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at DATETIME NOT NULL,
    created_at DATETIME DEFAULT (datetime('now'))
);

-- heartbeat_logs
CREATE TABLE IF NOT EXISTS heartbeat_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id VARCHAR(64) NOT NULL,
    active_tasks INTEGER DEFAULT 0,
    cpu_percent REAL DEFAULT 0,
    memory_percent REAL DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_agent ON heartbeat_logs(agent_id, created_at);

-- federation_events
CREATE TABLE IF NOT EXISTS federation_events (
    id VARCHAR(64) PRIMARY KEY,
    type VARCHAR(64) NOT NULL,
    actor_id VARCHAR(64),
    subject_id VARCHAR(64),
    payload TEXT,
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_events_subject ON federation_events(subject_id);
`

// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（common.yaml + {env}.yaml，如 dev.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在环境变量中（YAML 中不存储任何密码）。
//	.env 文件同时被 Docker Compose（--env-file）与 Go 应用（godotenv）共用。
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml + .env.dev
//   - 测试: APP_ENV=test → configs/test.yaml + .env.test
//   - 生产: APP_ENV=prod → /etc/nervix-hub/prod.yaml（凭据由 systemd 注入）
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	Server      ServerConfig      `yaml:"server"`      // HTTP 监听
	Database    DatabaseConfig    `yaml:"database"`    // 账本存储
	Redis       RedisConfig       `yaml:"redis"`       // 缓存 / 队列 / 事件总线
	Etcd        EtcdConfig        `yaml:"etcd"`        // Agent 存活租约
	MinIO       MinIOConfig       `yaml:"minio"`       // 知识包归档
	Auth        AuthConfig        `yaml:"auth"`        // 注册会话令牌
	Fees        FeesConfig        `yaml:"fees"`        // 手续费率
	Matching    MatchingConfig    `yaml:"matching"`    // 任务匹配
	Reputation  ReputationConfig  `yaml:"reputation"`  // 声誉引擎
	Barter      BarterConfig      `yaml:"barter"`      // 易货引擎
	Sweeper     SweeperConfig     `yaml:"sweeper"`     // 后台巡检
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite", "postgres" or "mongodb"（默认 sqlite）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从环境变量读取（DB_PASSWORD / MONGO_ROOT_PASSWORD）
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

type EtcdConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"` // 默认 nervix-knowledge
}

// AuthConfig 会话令牌配置
// JWTSecret 只从 JWT_SECRET 环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret       string        `yaml:"-"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`  // 默认 15m
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"` // 默认 168h
}

// FeesConfig 手续费率配置
// 百分比与金额均为十进制字符串，避免 float64 进入金额运算
type FeesConfig struct {
	TaskSettlementPercent string `yaml:"task_settlement_percent"` // 默认 "2.5"
	BarterPercent         string `yaml:"barter_percent"`          // 默认 "1.5"
	TransferPercent       string `yaml:"transfer_percent"`        // 默认 "1.0"
	MinFee                string `yaml:"min_fee"`                 // 默认 "0.010000"
	MaxFee                string `yaml:"max_fee"`                 // 默认 "500.000000"
	DiscountPercent       string `yaml:"discount_percent"`        // 默认 "20"
}

// MatchingConfig 任务匹配配置
type MatchingConfig struct {
	// OnlineWindow 心跳在该窗口内的候选者记为在线
	OnlineWindow time.Duration `yaml:"online_window"` // 默认 5m

	// CandidateLimit 单次匹配最多评估的候选者数量
	CandidateLimit int `yaml:"candidate_limit"` // 默认 200
}

// ReputationConfig 声誉引擎配置
type ReputationConfig struct {
	// DefaultQualityScore 无审计样本时的质量分占位值
	DefaultQualityScore float64 `yaml:"default_quality_score"` // 默认 0.8

	// DefaultUptimeScore 无心跳统计时的在线率占位值
	DefaultUptimeScore float64 `yaml:"default_uptime_score"` // 默认 0.9

	// SuspendThreshold 低于该综合分自动停用
	SuspendThreshold float64 `yaml:"suspend_threshold"` // 默认 0.3

	// FailurePenalty 任务失败的固定扣分
	FailurePenalty float64 `yaml:"failure_penalty"` // 默认 0.05
}

// BarterConfig 易货引擎配置
type BarterConfig struct {
	// DeadlineHours 提案到完成的交换窗口（小时）
	DeadlineHours int `yaml:"deadline_hours"` // 默认 24

	// FairnessTolerance 双方估值相对差的容忍上限
	FairnessTolerance string `yaml:"fairness_tolerance"` // 默认 "0.30"

	// MinFeeTON 每侧手续费下限（TON）
	MinFeeTON string `yaml:"min_fee_ton"` // 默认 "0.020000000"

	// TonRate 信用点对 TON 的折算率（credits per TON）
	TonRate string `yaml:"ton_rate"` // 默认 "20"

	// FeePercent 每侧手续费率（以 offered FMV 计）
	FeePercent string `yaml:"fee_percent"` // 默认 "1.5"
}

// SweeperConfig 后台巡检配置
type SweeperConfig struct {
	// Interval 巡检周期
	Interval time.Duration `yaml:"interval"` // 默认 30s

	// BatchLimit 单轮处理的最大条目数
	BatchLimit int `yaml:"batch_limit"` // 默认 100

	// HeartbeatStale 超过该时长未心跳视为离线
	HeartbeatStale time.Duration `yaml:"heartbeat_stale"` // 默认 180s
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "sqlite", "postgres" or "mongodb"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisEnabled   bool
	RedisURL       string
	Etcd           EtcdConfig
	MinIO          MinIOConfig
	ServerPort     string
	Auth           AuthConfig
	Fees           FeesConfig
	Matching       MatchingConfig
	Reputation     ReputationConfig
	Barter         BarterConfig
	Sweeper        SweeperConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}

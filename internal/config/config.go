package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用，生产环境由 systemd 注入）
var envSearchDirs = []string{
	".",
	"..",
}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
func SetConfigDir(dir string) {
	configDir = dir
}

// configPathsForEnv 根据环境返回配置文件搜索路径
func configPathsForEnv(env Environment) []string {
	if env == EnvProduction {
		return []string{"/etc/nervix-hub"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// Load 加载配置
//  1. 加载 .env.{env}（敏感信息 + APP_ENV）
//  2. 加载 configs/common.yaml 与 configs/{env}.yaml
//  3. 环境变量覆盖，构建最终配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)
	// .env 可能改写 APP_ENV
	env = parseEnv(getEnv("APP_ENV", string(env)))

	yamlCfg := loadYAMLConfig(env)

	// 凭据只从环境变量读取
	yamlCfg.Database.Password = firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	yamlCfg.MinIO.AccessKey = os.Getenv("MINIO_ROOT_USER")
	yamlCfg.MinIO.SecretKey = os.Getenv("MINIO_ROOT_PASSWORD")
	yamlCfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")

	databaseURL := getEnv("DATABASE_URL", "")
	driver := detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL)
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(yamlCfg.Database)
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		DatabaseDBName: yamlCfg.Database.Name,
		RedisEnabled:   yamlCfg.Redis.Enabled,
		RedisURL:       getEnv("REDIS_URL", buildRedisURL(yamlCfg.Redis)),
		Etcd:           yamlCfg.Etcd,
		MinIO:          yamlCfg.MinIO,
		ServerPort:     getEnv("PORT", yamlCfg.Server.Port),
		Auth:           yamlCfg.Auth,
		Fees:           yamlCfg.Fees,
		Matching:       yamlCfg.Matching,
		Reputation:     yamlCfg.Reputation,
		Barter:         yamlCfg.Barter,
		Sweeper:        yamlCfg.Sweeper,
		ConfigFilePath: yamlCfg.loadedFrom,
	}

	cfg.applyDefaults()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	paths := effectiveConfigPaths(env)

	for _, base := range paths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, &cfg.YAMLConfig)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range paths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, &cfg.YAMLConfig)
			cfg.loadedFrom = path
			break
		}
	}

	return cfg
}

// defaultYAMLConfig 硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "nervix-hub.db", Host: "localhost", Port: 5432, User: "nervix", Name: "nervix_hub", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Etcd:     EtcdConfig{Endpoints: []string{"localhost:2379"}, Prefix: "/nervix"},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "nervix-knowledge"},
		Auth: AuthConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 168 * time.Hour,
		},
		Fees: FeesConfig{
			TaskSettlementPercent: "2.5",
			BarterPercent:         "1.5",
			TransferPercent:       "1.0",
			MinFee:                "0.010000",
			MaxFee:                "500.000000",
			DiscountPercent:       "20",
		},
		Matching: MatchingConfig{
			OnlineWindow:   5 * time.Minute,
			CandidateLimit: 200,
		},
		Reputation: ReputationConfig{
			DefaultQualityScore: 0.8,
			DefaultUptimeScore:  0.9,
			SuspendThreshold:    0.3,
			FailurePenalty:      0.05,
		},
		Barter: BarterConfig{
			DeadlineHours:     24,
			FairnessTolerance: "0.30",
			MinFeeTON:         "0.020000000",
			TonRate:           "20",
			FeePercent:        "1.5",
		},
		Sweeper: SweeperConfig{
			Interval:       30 * time.Second,
			BatchLimit:     100,
			HeartbeatStale: 180 * time.Second,
		},
	}
}

// applyDefaults 校验并填充零值字段
func (c *Config) applyDefaults() {
	d := defaultYAMLConfig()
	if c.ServerPort == "" {
		c.ServerPort = d.Server.Port
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = d.Auth.AccessTokenTTL
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = d.Auth.RefreshTokenTTL
	}
	if c.Matching.OnlineWindow == 0 {
		c.Matching.OnlineWindow = d.Matching.OnlineWindow
	}
	if c.Matching.CandidateLimit == 0 {
		c.Matching.CandidateLimit = d.Matching.CandidateLimit
	}
	if c.Reputation.DefaultQualityScore == 0 {
		c.Reputation.DefaultQualityScore = d.Reputation.DefaultQualityScore
	}
	if c.Reputation.DefaultUptimeScore == 0 {
		c.Reputation.DefaultUptimeScore = d.Reputation.DefaultUptimeScore
	}
	if c.Reputation.SuspendThreshold == 0 {
		c.Reputation.SuspendThreshold = d.Reputation.SuspendThreshold
	}
	if c.Reputation.FailurePenalty == 0 {
		c.Reputation.FailurePenalty = d.Reputation.FailurePenalty
	}
	if c.Barter.DeadlineHours == 0 {
		c.Barter.DeadlineHours = d.Barter.DeadlineHours
	}
	if c.Barter.FairnessTolerance == "" {
		c.Barter.FairnessTolerance = d.Barter.FairnessTolerance
	}
	if c.Barter.MinFeeTON == "" {
		c.Barter.MinFeeTON = d.Barter.MinFeeTON
	}
	if c.Barter.TonRate == "" {
		c.Barter.TonRate = d.Barter.TonRate
	}
	if c.Barter.FeePercent == "" {
		c.Barter.FeePercent = d.Barter.FeePercent
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = d.Sweeper.Interval
	}
	if c.Sweeper.BatchLimit == 0 {
		c.Sweeper.BatchLimit = d.Sweeper.BatchLimit
	}
	if c.Sweeper.HeartbeatStale == 0 {
		c.Sweeper.HeartbeatStale = d.Sweeper.HeartbeatStale
	}
	if c.Etcd.Prefix == "" {
		c.Etcd.Prefix = d.Etcd.Prefix
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = d.MinIO.Bucket
	}
	fees := &c.Fees
	dFees := d.Fees
	if fees.TaskSettlementPercent == "" {
		fees.TaskSettlementPercent = dFees.TaskSettlementPercent
	}
	if fees.BarterPercent == "" {
		fees.BarterPercent = dFees.BarterPercent
	}
	if fees.TransferPercent == "" {
		fees.TransferPercent = dFees.TransferPercent
	}
	if fees.MinFee == "" {
		fees.MinFee = dFees.MinFee
	}
	if fees.MaxFee == "" {
		fees.MaxFee = dFees.MaxFee
	}
	if fees.DiscountPercent == "" {
		fees.DiscountPercent = dFees.DiscountPercent
	}
}

// effectiveConfigPaths 返回实际搜索路径
//
// 优先级：
//  1. --config 命令行参数（SetConfigDir）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径
func effectiveConfigPaths(env Environment) []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	return configPathsForEnv(env)
}

// loadEnvFiles 加载 .env 文件
//
// 生产环境不搜索 .env 文件（密码由 systemd EnvironmentFile 或 shell 环境注入）。
// dev/test 环境加载 .env.{env} 文件（凭据单一数据源，与 Docker Compose 共用）。
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}

	// godotenv.Load 不覆盖已有环境变量，优先级低于 shell 环境变量
	envFileName := fmt.Sprintf(".env.%s", string(env))
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, envFileName)); err == nil {
			break
		}
	}
}

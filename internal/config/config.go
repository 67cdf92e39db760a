package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "github.com/anantaryaaa/health-record-dapps-sub001/common/config"

	"github.com/joho/godotenv"
)

// Config medvault 各服务共用配置（relayer / pinstore / cli 各取所需）
type Config struct {
	Chain    ChainConfig
	Relayer  RelayerConfig
	Store    StoreConfig
	Pinstore PinstoreConfig
	Crypto   CryptoConfig

	DBEnabled bool
	Database  commoncfg.DatabaseConfig
	Redis     commoncfg.RedisConfig
	MQTT      MQTTConfig

	Log struct {
		Level  string
		Format string
	}
}

// ChainConfig 链参数与合约地址
type ChainConfig struct {
	RPCURL           string
	ChainID          int64
	ForwarderAddress string
	ForwarderName    string // EIP-712 domain name
	IdentityRegistry string
	AccessControl    string
	HospitalRegistry string
	Timeout          time.Duration
	// 直接写链时使用的已充值钱包（管理员 / relayer），hex 私钥
	WalletKey string
}

// RelayerConfig relayer 服务端和客户端配置
type RelayerConfig struct {
	URL          string // 客户端访问地址
	Addr         string // 服务监听地址
	PrivateKey   string // relayer 支付 gas 的钱包
	MaxGas       uint64 // 单个请求允许的最大 gas 上限
	Timeout      time.Duration
	DeadlineTTL  time.Duration
	NonceStore   string // "redis" | "memory"
	NoncePrefix  string
	MarkerTTL    time.Duration // 已用 nonce 标记的保留时间
	SequenceWait time.Duration // 等待前序 nonce 的最长时间
	EventStream  string
	EventMaxLen  int64
}

// StoreConfig 内容存储客户端配置
type StoreConfig struct {
	URL              string
	GatewayURL       string
	Token            string
	Timeout          time.Duration
	MaxEnvelopeBytes int
}

// PinstoreConfig 内容存储服务端配置
type PinstoreConfig struct {
	Addr        string
	Backend     string // "leveldb" | "s3" | "memory"
	LevelDBPath string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string // minio / localstack
	JWTSecret   string
	MaxBodySize int64
}

// CryptoConfig 应用级 salt / secret
type CryptoConfig struct {
	Salt       string
	Secret     string
	Iterations int
}

// MQTTConfig relay 通知（默认关闭）
type MQTTConfig struct {
	Enabled     bool
	TopicPrefix string
	commoncfg.MQTTConfig
}

// Load 先加载可选的 .env，再从环境变量读取
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Chain.RPCURL = getEnv("CHAIN_RPC_URL", "http://localhost:8545")
	cfg.Chain.ChainID = int64(parseInt(getEnv("CHAIN_ID", "31337"), 31337))
	cfg.Chain.ForwarderAddress = getEnv("FORWARDER_ADDRESS", "")
	cfg.Chain.ForwarderName = getEnv("FORWARDER_NAME", "MedicalForwarder")
	cfg.Chain.IdentityRegistry = getEnv("IDENTITY_REGISTRY_ADDRESS", "")
	cfg.Chain.AccessControl = getEnv("ACCESS_CONTROL_ADDRESS", "")
	cfg.Chain.HospitalRegistry = getEnv("HOSPITAL_REGISTRY_ADDRESS", "")
	cfg.Chain.Timeout = parseDuration(getEnv("CHAIN_TIMEOUT", "15s"), 15*time.Second)
	cfg.Chain.WalletKey = getEnv("CHAIN_WALLET_KEY", "")

	cfg.Relayer.URL = getEnv("RELAYER_URL", "http://localhost:8090")
	cfg.Relayer.Addr = getEnv("RELAYER_ADDR", ":8090")
	cfg.Relayer.PrivateKey = getEnv("RELAYER_PRIVATE_KEY", "")
	cfg.Relayer.MaxGas = uint64(parseInt(getEnv("RELAYER_MAX_GAS", "1000000"), 1_000_000))
	cfg.Relayer.Timeout = parseDuration(getEnv("RELAYER_TIMEOUT", "30s"), 30*time.Second)
	cfg.Relayer.DeadlineTTL = parseDuration(getEnv("RELAYER_DEADLINE_TTL", "1h"), time.Hour)
	cfg.Relayer.NonceStore = getEnv("RELAYER_NONCE_STORE", "redis")
	cfg.Relayer.NoncePrefix = getEnv("RELAYER_NONCE_PREFIX", "relayer")
	cfg.Relayer.MarkerTTL = parseDuration(getEnv("RELAYER_MARKER_TTL", "168h"), 7*24*time.Hour)
	cfg.Relayer.SequenceWait = parseDuration(getEnv("RELAYER_SEQUENCE_WAIT", "10s"), 10*time.Second)
	cfg.Relayer.EventStream = getEnv("RELAYER_EVENT_STREAM", "relay:events")
	cfg.Relayer.EventMaxLen = int64(parseInt(getEnv("RELAYER_EVENT_MAXLEN", "10000"), 10_000))

	cfg.Store.URL = getEnv("STORE_URL", "http://localhost:8091")
	cfg.Store.GatewayURL = getEnv("STORE_GATEWAY_URL", cfg.Store.URL)
	cfg.Store.Token = getEnv("STORE_TOKEN", "")
	cfg.Store.Timeout = parseDuration(getEnv("STORE_TIMEOUT", "30s"), 30*time.Second)
	cfg.Store.MaxEnvelopeBytes = parseInt(getEnv("STORE_MAX_ENVELOPE_BYTES", "1048576"), 1<<20)

	cfg.Pinstore.Addr = getEnv("PINSTORE_ADDR", ":8091")
	cfg.Pinstore.Backend = getEnv("PINSTORE_BACKEND", "leveldb")
	cfg.Pinstore.LevelDBPath = getEnv("PINSTORE_LEVELDB_PATH", "data/pinstore")
	cfg.Pinstore.S3Bucket = getEnv("PINSTORE_S3_BUCKET", "")
	cfg.Pinstore.S3Prefix = getEnv("PINSTORE_S3_PREFIX", "pins/")
	cfg.Pinstore.S3Region = getEnv("PINSTORE_S3_REGION", "us-east-1")
	cfg.Pinstore.S3Endpoint = getEnv("PINSTORE_S3_ENDPOINT", "")
	cfg.Pinstore.JWTSecret = getEnv("PINSTORE_JWT_SECRET", "")
	cfg.Pinstore.MaxBodySize = int64(parseInt(getEnv("PINSTORE_MAX_BODY_SIZE", "2097152"), 2<<20))

	cfg.Crypto.Salt = getEnv("RECORD_KEY_SALT", "")
	cfg.Crypto.Secret = getEnv("RECORD_KEY_SECRET", "")
	cfg.Crypto.Iterations = parseInt(getEnv("RECORD_KEY_ITERATIONS", "100000"), 100_000)

	// relay log 存 PostgreSQL；不可用时回退到内存
	cfg.DBEnabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database = commoncfg.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres", Password: "postgres",
		Database: "medvault", SSLMode: "disable", MaxConns: 10, MaxIdle: 2,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.TopicPrefix = strings.TrimSuffix(getEnv("MQTT_TOPIC_PREFIX", "medvault/relay"), "/")
	cfg.MQTT.MQTTConfig = commoncfg.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "medvault-relayer", QoS: 1}
	cfg.MQTT.MQTTConfig.LoadFromEnv("MQTT")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

// AllowedTargets relayer 只转发到 medvault 合约
func (c *ChainConfig) AllowedTargets() []string {
	var out []string
	for _, a := range []string{c.IdentityRegistry, c.AccessControl, c.HospitalRegistry} {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

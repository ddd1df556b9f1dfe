package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/internal/document"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Download  DownloadConfig  `mapstructure:"download"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	VectorDB  VectorDBConfig  `mapstructure:"vectordb"`
	Document  DocumentConfig  `mapstructure:"document"`
	Converter ConverterConfig `mapstructure:"converter"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`          // 服务器主机
	Port         int           `mapstructure:"port"`          // 服务器端口
	Mode         string        `mapstructure:"mode"`          // gin运行模式 debug/release/test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读取超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写入超时，需要覆盖一次完整摄取
	CORS         bool          `mapstructure:"cors"`          // 是否允许跨域
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`        // 日志级别
	Format     string `mapstructure:"format"`       // json或text
	File       string `mapstructure:"file"`         // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个文件最大体积
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的旧文件数
	MaxAgeDays int    `mapstructure:"max_age_days"` // 旧文件保留天数
}

// DownloadConfig 源文件下载配置
type DownloadConfig struct {
	Type     string        `mapstructure:"type"`     // http：下载服务，minio：对象存储
	Endpoint string        `mapstructure:"endpoint"` // 下载服务地址
	Timeout  time.Duration `mapstructure:"timeout"`  // 下载超时
}

// StorageConfig 存储配置
type StorageConfig struct {
	ScratchDir string      `mapstructure:"scratch_dir"` // 临时文件目录
	Minio      MinioConfig `mapstructure:"minio"`       // 源文件对象存储
}

// MinioConfig MinIO配置
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// EmbedConfig 向量化服务配置
type EmbedConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`    // 向量化接口地址
	APIKey      string        `mapstructure:"api_key"`     // API密钥（如果需要）
	Model       string        `mapstructure:"model"`       // 模型名称，用于缓存键
	Timeout     time.Duration `mapstructure:"timeout"`     // 单次调用超时
	Concurrency int           `mapstructure:"concurrency"` // 单个文件的并发调用数，1为顺序调用
	Cache       bool          `mapstructure:"cache"`       // 是否缓存向量结果
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type             string        `mapstructure:"type"`              // qdrant或memory
	URL              string        `mapstructure:"url"`               // 服务地址
	APIKey           string        `mapstructure:"api_key"`           // 访问密钥
	Collection       string        `mapstructure:"collection"`        // 集合名称
	EnsureCollection bool          `mapstructure:"ensure_collection"` // 集合不存在时创建
	DenseDim         int           `mapstructure:"dense_dim"`         // 稠密向量维度，0表示不校验
	Distance         string        `mapstructure:"distance"`          // cosine, l2, dot
	Timeout          time.Duration `mapstructure:"timeout"`           // 单次调用超时
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	ChunkSize        int      `mapstructure:"chunk_size"`        // 分块大小
	ChunkOverlap     int      `mapstructure:"chunk_overlap"`     // 分块重叠大小
	RemoteExtensions []string `mapstructure:"remote_extensions"` // 交给转换服务处理的扩展名
	PruneStale       bool     `mapstructure:"prune_stale"`       // 重新摄取后删除多余的旧分段
	MaxEntrySizeMB   int      `mapstructure:"max_entry_size_mb"` // DOCX/PPTX单个条目解压后的上限
}

// ConverterConfig 文档转换服务配置
type ConverterConfig struct {
	BaseURL string        `mapstructure:"base_url"` // 转换服务地址，为空时不启用
	Timeout time.Duration `mapstructure:"timeout"`  // 请求超时时间
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type     string        `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string        `mapstructure:"address"`  // Redis地址
	Password string        `mapstructure:"password"` // Redis密码
	DB       int           `mapstructure:"db"`       // Redis数据库
	TTL      time.Duration `mapstructure:"ttl"`      // 缓存TTL
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable      bool          `mapstructure:"enable"`      // 是否启用任务队列
	Address     string        `mapstructure:"address"`     // Redis地址
	Password    string        `mapstructure:"password"`    // Redis密码
	DB          int           `mapstructure:"db"`          // Redis数据库编号
	Queue       string        `mapstructure:"queue"`       // 队列名
	Concurrency int           `mapstructure:"concurrency"` // 任务处理并发数
	RetryLimit  int           `mapstructure:"retry_limit"` // 任务最大重试次数
	RetryDelay  time.Duration `mapstructure:"retry_delay"` // 重试延迟
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enable bool   `mapstructure:"enable"` // 是否记录摄取状态
	Type   string `mapstructure:"type"`   // 数据库类型: sqlite
	DSN    string `mapstructure:"dsn"`    // 数据源名称
}

// envBindings 上游部署使用的环境变量名
var envBindings = map[string]string{
	"vectordb.url":        "QDRANT_URL",
	"vectordb.collection": "QDRANT_COLLECTION_NAME",
	"vectordb.api_key":    "QDRANT_API_KEY",
	"embed.endpoint":      "VECTOR_API_URL",
	"download.endpoint":   "NET_DOWNLOAD_ENDPOINT",
}

// Load 从文件和环境变量加载配置
// configPath为空时在当前目录和./config下查找config.yaml，找不到时使用默认值
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.Warn("Config file not found, using defaults")
	} else {
		logrus.WithField("file", v.ConfigFileUsed()).Info("Using config file")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expandEnvironmentVariables(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvironmentVariables 展开 ${VAR} 形式的配置值
func expandEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embed.APIKey,
		&cfg.Embed.Endpoint,
		&cfg.VectorDB.APIKey,
		&cfg.VectorDB.URL,
		&cfg.Download.Endpoint,
		&cfg.Storage.Minio.AccessKey,
		&cfg.Storage.Minio.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.Password,
	} {
		*field = expandEnv(*field)
	}
}

func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
			return envVal
		}
	}
	return value
}

// Validate 启动时检查配置
func (c *Config) Validate() error {
	split := document.SplitterConfig{ChunkSize: c.Document.ChunkSize, ChunkOverlap: c.Document.ChunkOverlap}
	if err := split.Validate(); err != nil {
		return fmt.Errorf("invalid document config: %w", err)
	}

	switch c.Download.Type {
	case "http":
		if c.Download.Endpoint == "" {
			return errors.New("download.endpoint (NET_DOWNLOAD_ENDPOINT) is required for http downloads")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return errors.New("storage.minio endpoint and bucket are required for minio downloads")
		}
	default:
		return fmt.Errorf("unknown download type: %q", c.Download.Type)
	}

	if c.Embed.Endpoint == "" {
		return errors.New("embed.endpoint (VECTOR_API_URL) is required")
	}
	if c.VectorDB.Type == "qdrant" && c.VectorDB.Collection == "" {
		return errors.New("vectordb.collection (QDRANT_COLLECTION_NAME) is required")
	}
	if c.Embed.Concurrency < 1 {
		return fmt.Errorf("embed.concurrency must be at least 1, got %d", c.Embed.Concurrency)
	}
	return nil
}

// Address 服务监听地址
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.cors", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// 下载默认配置
	v.SetDefault("download.type", "http")
	v.SetDefault("download.endpoint", "http://localhost:8000/download")
	v.SetDefault("download.timeout", "300s")

	// 存储默认配置
	v.SetDefault("storage.scratch_dir", "")
	v.SetDefault("storage.minio.bucket", "documents")
	v.SetDefault("storage.minio.use_ssl", false)

	// 向量化默认配置
	v.SetDefault("embed.endpoint", "http://localhost:8001/embed")
	v.SetDefault("embed.model", "bge-m3")
	v.SetDefault("embed.timeout", "60s")
	v.SetDefault("embed.concurrency", 1)
	v.SetDefault("embed.cache", false)

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "qdrant")
	v.SetDefault("vectordb.url", "http://localhost:6334")
	v.SetDefault("vectordb.collection", "documents")
	v.SetDefault("vectordb.ensure_collection", true)
	v.SetDefault("vectordb.dense_dim", 0)
	v.SetDefault("vectordb.distance", "cosine")
	v.SetDefault("vectordb.timeout", "30s")

	// 文档处理默认配置
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)
	v.SetDefault("document.remote_extensions", []string{".doc", ".ppt"})
	v.SetDefault("document.prune_stale", false)
	v.SetDefault("document.max_entry_size_mb", 100)

	// 转换服务默认配置
	v.SetDefault("converter.base_url", "")
	v.SetDefault("converter.timeout", "120s")

	// 缓存默认配置
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.ttl", "24h")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.address", "localhost:6379")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.queue", "default")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", "1m")

	// 数据库默认配置
	v.SetDefault("database.enable", true)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/ingest.db")
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fyerfyer/doc-ingest-worker/api/middleware"
	appconfig "github.com/fyerfyer/doc-ingest-worker/config"
	"github.com/fyerfyer/doc-ingest-worker/internal/cache"
	"github.com/fyerfyer/doc-ingest-worker/internal/database"
	"github.com/fyerfyer/doc-ingest-worker/internal/document"
	"github.com/fyerfyer/doc-ingest-worker/internal/download"
	"github.com/fyerfyer/doc-ingest-worker/internal/embedding"
	"github.com/fyerfyer/doc-ingest-worker/internal/pyprovider"
	"github.com/fyerfyer/doc-ingest-worker/internal/repository"
	"github.com/fyerfyer/doc-ingest-worker/internal/services"
	"github.com/fyerfyer/doc-ingest-worker/internal/vectordb"
	"github.com/fyerfyer/doc-ingest-worker/pkg/storage"
	"github.com/fyerfyer/doc-ingest-worker/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// app 组装好的运行时依赖
type app struct {
	cfg     *appconfig.Config
	logger  *logrus.Logger
	svc     *services.IngestService
	status  *services.IngestionStatusManager // 未启用数据库时为nil
	vectors vectordb.Repository
	closers []func() error
}

// Close 按创建的逆序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
}

// setupLogger 设置日志系统
func setupLogger(cfg appconfig.LogConfig, levelOverride string) (*logrus.Logger, error) {
	level := cfg.Level
	if levelOverride != "" {
		level = levelOverride
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	if err := middleware.ConfigureLogger(middleware.LogOptions{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	}); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return middleware.GetLogger(), nil
}

// buildApp 按配置创建摄取服务及其依赖
func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	downloader, err := setupDownloader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize downloader: %w", err)
	}

	scratch, err := storage.NewLocalStorage(storage.LocalConfig{Path: cfg.Storage.ScratchDir})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scratch storage: %w", err)
	}

	loader, err := setupLoader(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize converters: %w", err)
	}

	splitter, err := document.NewTextSplitter(document.SplitterConfig{
		ChunkSize:    cfg.Document.ChunkSize,
		ChunkOverlap: cfg.Document.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := setupEmbedding(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	a.vectors, err = setupVectorDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector database: %w", err)
	}
	a.closers = append(a.closers, a.vectors.Close)

	opts := []services.IngestOption{
		services.WithLogger(logger),
		services.WithPruneStale(cfg.Document.PruneStale),
	}

	if cfg.Database.Enable {
		if err := database.Setup(&database.Config{
			Type:         cfg.Database.Type,
			DSN:          cfg.Database.DSN,
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		}, logger); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		a.status = services.NewIngestionStatusManager(repository.NewIngestionRepository(), logger)
		opts = append(opts, services.WithStatusTracker(a.status))
	} else if cfg.Document.PruneStale {
		logger.Warn("document.prune_stale requires database.enable, stale points will not be pruned")
	}

	a.svc = services.NewIngestService(downloader, scratch, loader, splitter, embedder, a.vectors, opts...)

	logger.WithFields(logrus.Fields{
		"download":      cfg.Download.Type,
		"vectordb":      cfg.VectorDB.Type,
		"collection":    cfg.VectorDB.Collection,
		"chunk_size":    cfg.Document.ChunkSize,
		"chunk_overlap": cfg.Document.ChunkOverlap,
		"extensions":    loader.Registry().Extensions(),
		"embed_workers": embedder.Concurrency(),
		"scratch_dir":   scratch.BasePath(),
	}).Info("Ingest service initialized")

	ok = true
	return a, nil
}

// setupDownloader 选择源文件获取方式
func setupDownloader(ctx context.Context, cfg *appconfig.Config) (download.Downloader, error) {
	switch cfg.Download.Type {
	case "minio":
		store, err := storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:  cfg.Storage.Minio.Endpoint,
			AccessKey: cfg.Storage.Minio.AccessKey,
			SecretKey: cfg.Storage.Minio.SecretKey,
			UseSSL:    cfg.Storage.Minio.UseSSL,
			Bucket:    cfg.Storage.Minio.Bucket,
		})
		if err != nil {
			return nil, err
		}
		return download.NewObjectDownloader(store), nil
	default:
		return download.NewHTTPDownloader(cfg.Download.Endpoint, cfg.Download.Timeout)
	}
}

// setupLoader 内置转换器之外，把配置的扩展名交给转换服务
func setupLoader(cfg *appconfig.Config) (*document.Loader, error) {
	registry := document.DefaultRegistry()
	maxEntry := document.WithMaxEntrySize(int64(cfg.Document.MaxEntrySizeMB) << 20)
	registry.Register(".docx", document.NewDocxConverter(maxEntry))
	registry.Register(".pptx", document.NewPptxConverter(maxEntry))

	if cfg.Converter.BaseURL == "" || len(cfg.Document.RemoteExtensions) == 0 {
		return document.NewLoader(registry), nil
	}

	client, err := pyprovider.NewClient(pyprovider.DefaultConfig().
		WithBaseURL(cfg.Converter.BaseURL).
		WithTimeout(cfg.Converter.Timeout))
	if err != nil {
		return nil, err
	}
	remote := document.NewRemoteConverter(pyprovider.NewDocumentClient(client))
	for _, ext := range cfg.Document.RemoteExtensions {
		registry.Register(ext, remote)
	}
	return document.NewLoader(registry), nil
}

// setupEmbedding 创建向量化客户端，按需套一层缓存
func setupEmbedding(cfg *appconfig.Config, logger *logrus.Logger) (*embedding.BatchEmbedder, error) {
	client, err := embedding.NewClient("http",
		embedding.WithBaseURL(cfg.Embed.Endpoint),
		embedding.WithAPIKey(cfg.Embed.APIKey),
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithTimeout(cfg.Embed.Timeout),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Embed.Cache {
		c, err := setupCache(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		client = embedding.NewCachedClient(client, c, cfg.Cache.TTL, logger)
	}

	return embedding.NewBatchEmbedder(client, cfg.Embed.Concurrency), nil
}

// setupCache 设置缓存服务
func setupCache(cfg *appconfig.Config) (cache.Cache, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Cache.Type
	if cfg.Cache.TTL > 0 {
		cacheConfig.DefaultTTL = cfg.Cache.TTL
	}
	if cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Cache.Address
		cacheConfig.RedisPassword = cfg.Cache.Password
		cacheConfig.RedisDB = cfg.Cache.DB
	}
	return cache.NewCache(cacheConfig)
}

// setupVectorDB 设置向量数据库
func setupVectorDB(cfg *appconfig.Config) (vectordb.Repository, error) {
	return vectordb.NewRepository(vectordb.Config{
		Type:             cfg.VectorDB.Type,
		URL:              cfg.VectorDB.URL,
		APIKey:           cfg.VectorDB.APIKey,
		Collection:       cfg.VectorDB.Collection,
		Dimension:        cfg.VectorDB.DenseDim,
		DistanceType:     vectordb.DistanceType(strings.ToLower(cfg.VectorDB.Distance)),
		EnsureCollection: cfg.VectorDB.EnsureCollection,
		Timeout:          cfg.VectorDB.Timeout,
	})
}

// queueConfig 任务队列配置
func queueConfig(cfg appconfig.QueueConfig) *taskqueue.Config {
	qc := taskqueue.DefaultConfig()
	qc.RedisAddr = cfg.Address
	qc.RedisPassword = cfg.Password
	qc.RedisDB = cfg.DB
	qc.Concurrency = cfg.Concurrency
	qc.RetryLimit = cfg.RetryLimit
	qc.RetryDelay = cfg.RetryDelay
	qc.Queue = cfg.Queue
	qc.Queues = map[string]int{cfg.Queue: 1}
	return qc
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg *appconfig.Config, logger *logrus.Logger) (*taskqueue.RedisQueue, error) {
	logger.WithFields(logrus.Fields{
		"redis_addr":  cfg.Queue.Address,
		"queue":       cfg.Queue.Queue,
		"concurrency": cfg.Queue.Concurrency,
		"retry_limit": cfg.Queue.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewRedisQueue(queueConfig(cfg.Queue), logger)
}

// startWorker 启动ingest:file消费者
func startWorker(a *app, queue *taskqueue.RedisQueue) (*taskqueue.RedisWorker, error) {
	worker := taskqueue.NewRedisWorker(queue, nil)
	worker.RegisterHandler(taskqueue.TaskIngestFile, services.NewIngestTaskHandler(a.svc))
	if err := worker.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return worker, nil
}

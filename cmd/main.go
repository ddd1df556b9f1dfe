package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/doc-ingest-worker/api"
	"github.com/fyerfyer/doc-ingest-worker/api/handler"
	appconfig "github.com/fyerfyer/doc-ingest-worker/config"
	"github.com/fyerfyer/doc-ingest-worker/internal/services"
	"github.com/fyerfyer/doc-ingest-worker/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "docingest",
	Short: "Document ingestion worker",
	Long: `Downloads source documents, extracts and splits their text, embeds every
chunk with dense, sparse and multi-vector representations and upserts the
points into the vector store.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingestion server",
	Long: `Starts the HTTP server exposing POST /process. When the task queue is
enabled the server also accepts asynchronous ingestions and, with --worker,
consumes them in-process.`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume ingest:file tasks from the queue",
	RunE:  runWorker,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a single file and print the result",
	RunE:  runIngest,
}

var (
	serveWithWorker bool
	ingestReq       services.IngestRequest
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug/info/warn/error)")

	serveCmd.Flags().BoolVar(&serveWithWorker, "worker", false, "Also consume queued ingestions in this process")

	ingestCmd.Flags().StringVar(&ingestReq.ID, "id", "", "File ID")
	ingestCmd.Flags().StringVar(&ingestReq.Source, "source", "", "Source path or object key")
	ingestCmd.Flags().StringVar(&ingestReq.FileName, "name", "", "File name")
	ingestCmd.Flags().StringVar(&ingestReq.FileType, "type", "", "File extension including the dot, e.g. .pdf")
	for _, name := range []string{"id", "source", "name", "type"} {
		_ = ingestCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(serveCmd, workerCmd, ingestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap 加载配置、日志并组装服务
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := appconfig.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := setupLogger(cfg.Log, logLevel)
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	cfg := a.cfg

	gin.SetMode(cfg.Server.Mode)

	handlers := api.Handlers{
		Process:    handler.NewProcessHandler(a.svc),
		EnableCORS: cfg.Server.CORS,
	}

	if cfg.Queue.Enable {
		queue, err := setupTaskQueue(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize task queue: %w", err)
		}
		defer queue.Close()

		handlers.Tasks = handler.NewTaskHandler(queue)
		if a.status != nil {
			handlers.Ingestions = handler.NewIngestionHandler(services.NewIngestDispatcher(queue, a.status, logger), a.status)
		}

		if serveWithWorker {
			worker, err := startWorker(a, queue)
			if err != nil {
				return err
			}
			defer worker.Stop()
			logger.Info("In-process worker started")
		}
	} else if a.status != nil {
		handlers.Ingestions = handler.NewIngestionHandler(nil, a.status)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      api.SetupRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("Server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := setupTaskQueue(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize task queue: %w", err)
	}
	defer queue.Close()

	worker, err := startWorker(a, queue)
	if err != nil {
		return err
	}
	a.logger.WithField("task_type", taskqueue.TaskIngestFile).Info("Worker started")

	<-ctx.Done()
	a.logger.Info("Stopping worker...")
	worker.Stop()
	a.logger.Info("Worker exited")
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.svc.Process(ctx, ingestReq)
	if err != nil {
		if ierr, ok := services.AsIngestError(err); ok {
			a.logger.WithFields(logrus.Fields{
				"file_id": ierr.FileID,
				"stage":   ierr.Stage,
				"kind":    ierr.Kind,
			}).Error("Ingestion failed")
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

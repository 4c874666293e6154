// Package main is the application entry point.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"learnmate-go/internal/chunker"
	"learnmate-go/internal/condense"
	"learnmate-go/internal/config"
	"learnmate-go/internal/engine"
	"learnmate-go/internal/extract"
	"learnmate-go/internal/handler"
	"learnmate-go/internal/index"
	"learnmate-go/internal/middleware"
	"learnmate-go/internal/normalize"
	"learnmate-go/internal/pipeline"
	"learnmate-go/internal/repository"
	"learnmate-go/internal/split"
	"learnmate-go/pkg/database"
	"learnmate-go/pkg/embedding"
	"learnmate-go/pkg/es"
	"learnmate-go/pkg/kafka"
	"learnmate-go/pkg/llm"
	"learnmate-go/pkg/log"
	"learnmate-go/pkg/storage"
	"learnmate-go/pkg/tika"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	// 1. Configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Main] failed to load config: %v", err)
	}

	// 2. Logger.
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("[Main] logger initialized")

	// 3. Infrastructure clients.
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatalf("[Main] mysql init failed: %v", err)
	}
	rdb, err := database.NewRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatalf("[Main] redis init failed: %v", err)
	}
	vectorStore, err := es.NewStore(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("[Main] elasticsearch init failed: %v", err)
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	staging, err := storage.NewStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatalf("[Main] minio init failed: %v", err)
	}

	// 4. Repositories.
	docRepo := repository.NewDocumentRepository(db)
	sessionRepo := repository.NewSessionRepository(rdb)

	// 5. External model and extraction clients.
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 6. Pipeline stages and the query engine.
	counter := split.ByteRatioCounter(0)
	splitter, err := split.NewSplitter(cfg.Ingest.SplitMaxTokens, cfg.Ingest.SplitOverlapTokens, counter)
	if err != nil {
		log.Fatalf("[Main] splitter init failed: %v", err)
	}
	chk, err := chunker.New(embeddingClient, cfg.Ingest.ChunkMaxTokens, counter)
	if err != nil {
		log.Fatalf("[Main] chunker init failed: %v", err)
	}
	extractor := extract.New(tikaClient)
	condenser := condense.New(llmClient, cfg.Ingest.CondenseRPM)
	indexer := index.New(vectorStore, docRepo, embeddingClient, cfg.Elasticsearch.IndexPrefix, cfg.Embedding.Model)
	orchestrator := pipeline.New(extractor, normalize.Basic, condenser, splitter, chk, indexer, staging, counter, cfg.Ingest)
	eng := engine.New(llmClient, indexer, sessionRepo, cfg.Query)

	// 7. Task queue: producer for async ingestion, consumer in the background.
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	go kafka.StartConsumer(rootCtx, cfg.Kafka, rdb, orchestrator)

	// 8. Router.
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	ragHandler := handler.NewRAGHandler(orchestrator, eng, producer)
	docHandler := handler.NewDocumentHandler(indexer)
	chatHandler := handler.NewChatHandler(eng)

	apiV1 := r.Group("/api/v1")
	{
		rag := apiV1.Group("/rag")
		{
			rag.POST("/ingest", ragHandler.Ingest)
			rag.POST("/query", ragHandler.Query)
			rag.GET("/context", ragHandler.Context)
			rag.GET("/supported-types", ragHandler.SupportedTypes)
			rag.POST("/session/reset", ragHandler.ResetSession)
		}

		documents := apiV1.Group("/documents")
		{
			documents.GET("/:docId", docHandler.Get)
			documents.DELETE("/:docId", docHandler.Delete)
		}
	}
	r.GET("/chat", chatHandler.Handle)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 9. Serve with graceful shutdown.
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		log.Infof("[Main] server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("[Main] shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[Main] forced shutdown: %v", err)
	}
	log.Info("[Main] server exited")
}

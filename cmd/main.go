package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nutrition-rag/internal/chromemdb"
	"nutrition-rag/internal/config"
	"nutrition-rag/internal/db"
	"nutrition-rag/internal/embedding"
	"nutrition-rag/internal/helper"
	"nutrition-rag/internal/llmservice"
	"nutrition-rag/internal/parser"
	"nutrition-rag/internal/rag"
	"nutrition-rag/internal/server"
	"nutrition-rag/internal/tui"
)

const (
	configFilePath = "./configs/config.yaml"
	logDir         = "./logs"
)

func setupLogger(w io.Writer, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func main() {
	setupLogger(os.Stderr, "info")

	configPath := flag.String("config", configFilePath, "Path to the YAML config")
	query := flag.String("query", "", "Answer one question and exit")
	serve := flag.Bool("serve", false, "Serve the HTTP API")
	addr := flag.String("addr", "", "HTTP listen address, overrides server.addr")
	dryRun := flag.Bool("dry-run", false, "Load and chunk the dataset, print the chunks and exit without remote calls")
	flag.Parse()

	if *query != "" && *serve {
		log.Fatal().Msg("Please provide either -query or -serve, but not both")
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Error reading .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(os.Stderr, cfg.Log.Level)
	log.Debug().Interface("dataset", cfg.Dataset).Interface("rag", cfg.RAG).Str("index", cfg.Index.Type).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		if err := printChunks(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Error preparing dataset")
		}
		return
	}

	interactive := *query == "" && !*serve
	if interactive {
		closeLog := logToFile(cfg.Log.Level)
		defer closeLog()
	}

	session, closeIndex := newSession(ctx, cfg)
	defer closeIndex()

	switch {
	case *query != "":
		if code := answerOnce(ctx, session, *query); code != 0 {
			closeIndex()
			stop()
			os.Exit(code)
		}
	case *serve:
		listen := cfg.Server.Addr
		if *addr != "" {
			listen = *addr
		}
		if err := serveHTTP(ctx, session, listen); err != nil {
			log.Fatal().Err(err).Msg("Error serving http")
		}
	default:
		if err := tui.Run(ctx, session); err != nil {
			log.Fatal().Err(err).Msg("Error running terminal ui")
		}
	}
}

// The terminal UI owns stdout, so logs go to a file instead.
func logToFile(level string) func() {
	dir, err := helper.CreateFolder(logDir)
	if err != nil {
		log.Warn().Err(err).Msg("Error creating log folder")
		return func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, "nutrition-rag.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("Error opening log file")
		return func() {}
	}
	setupLogger(f, level)
	return func() { f.Close() }
}

func newSession(ctx context.Context, cfg *config.Config) (*rag.Session, func()) {
	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.Separators)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating chunker")
	}
	index, closeIndex, err := newIndex(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector index")
	}

	deps := rag.Deps{
		Loader:    parser.NewDatasetLoader(cfg.Dataset),
		Chunker:   chunker,
		Index:     index,
		Preflight: cfg.CheckCredentials,
	}

	// Without a key no client is built, so nothing can reach the network.
	if err := cfg.CheckCredentials(); err != nil {
		log.Warn().Err(err).Msg("Hata: API anahtarı bulunamadı. Lütfen '.env' dosyasını oluşturun.")
	} else {
		embedder, err := embedding.NewClient(ctx, cfg.EmbedLLM)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing embedder")
		}
		generator, err := llmservice.NewClient(ctx, cfg.InferLLM)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing LLM")
		}
		deps.Embedder = embedder
		deps.Generator = generator
	}

	pipeline := rag.NewPipeline(rag.Options{
		DatasetPath:    cfg.Dataset.Path,
		TopK:           cfg.RAG.TopK,
		EmbeddingModel: cfg.EmbedLLM.Provider + "/" + cfg.EmbedLLM.Model,
	}, deps)
	return rag.NewSession(pipeline), closeIndex
}

func newIndex(cfg *config.Config) (rag.Index, func(), error) {
	switch cfg.Index.Type {
	case config.IndexPGVector:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		return db.NewStore(bunDB, cfg.Database.Table), func() { bunDB.Close() }, nil
	default:
		if cfg.Index.SnapshotPath != "" {
			if _, err := helper.CreateFolder(filepath.Dir(cfg.Index.SnapshotPath)); err != nil {
				return nil, nil, err
			}
		}
		m, err := chromemdb.NewVectorDBManager(cfg.Index)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	}
}

func printChunks(ctx context.Context, cfg *config.Config) error {
	records, err := parser.NewDatasetLoader(cfg.Dataset).Load(ctx, cfg.Dataset.Path)
	if err != nil {
		return err
	}
	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.Separators)
	if err != nil {
		return err
	}
	chunks, err := chunker.Split(records)
	if err != nil {
		return err
	}
	log.Info().Msgf("Parsed %d records into %d chunks", len(records), len(chunks))
	helper.PrettyPrint(os.Stdout, chunks)
	return nil
}

func answerOnce(ctx context.Context, session *rag.Session, query string) int {
	reply := session.Handle(ctx, query)
	if !reply.OK() {
		fmt.Fprintln(os.Stderr, reply.Message)
		return 1
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", reply.Answer.Question)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, hit := range reply.Answer.Sources {
		fmt.Printf("[%s %.3f] %s\n", hit.Chunk.ID, hit.Score, hit.Chunk.Text)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", reply.Answer.Text)
	return 0
}

func serveHTTP(ctx context.Context, session *rag.Session, addr string) error {
	go func() {
		if _, err := session.GetOrBuild(ctx); err != nil {
			log.Error().Err(err).Msg(session.Status())
		}
	}()

	srv := server.New(session, addr)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

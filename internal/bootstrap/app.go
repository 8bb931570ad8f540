package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"insurance-bot/internal/admin"
	"insurance-bot/internal/audit"
	"insurance-bot/internal/chat"
	"insurance-bot/internal/dedupe"
	"insurance-bot/internal/extract"
	"insurance-bot/internal/flow"
	"insurance-bot/internal/intake"
	"insurance-bot/internal/llm"
	"insurance-bot/internal/llm/openai"
	"insurance-bot/internal/llm/vertex"
	"insurance-bot/internal/notify"
	"insurance-bot/internal/policy"
	"insurance-bot/internal/shared/auth"
	"insurance-bot/internal/shared/config"
	"insurance-bot/internal/shared/server"
	"insurance-bot/internal/shared/storage/db"
	"insurance-bot/internal/shared/storage/object"
	gcsstore "insurance-bot/internal/shared/storage/object/gcs"
	localstore "insurance-bot/internal/shared/storage/object/local"
	memstore "insurance-bot/internal/shared/storage/object/memory"
	s3store "insurance-bot/internal/shared/storage/object/s3"
	"insurance-bot/internal/shared/telemetry"
	"insurance-bot/internal/store"
)

// App holds shared dependencies.
type App struct {
	Config   config.Config
	Router   *gin.Engine
	DB       *sql.DB
	Gateway  store.Gateway
	Store    object.ObjectStore
	Modes    *extract.ModeSwitch
	Flow     *flow.Service
	Signer   *auth.Signer
	Notifier notify.Notifier

	closers []io.Closer
}

// Build wires every dependency named by cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{Config: cfg}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB
	if sqlDB != nil {
		app.closers = append(app.closers, sqlDB)
		app.Gateway = &store.PGGateway{DB: sqlDB}
	} else {
		app.Gateway = store.NewMemoryGateway()
	}

	if app.Store, err = buildStore(ctx, cfg); err != nil {
		return nil, app.fail(err)
	}
	if c, ok := app.Store.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	mode, err := extract.ParseMode(cfg.ExtractionMode)
	if err != nil {
		return nil, app.fail(err)
	}
	app.Modes = extract.NewModeSwitch(mode)

	narrative, err := app.buildNarrative(ctx, cfg)
	if err != nil {
		return nil, app.fail(err)
	}
	var chatNarrative llm.NarrativeGenerator = llm.Static(llm.GenericReply)
	if narrative != nil {
		chatNarrative = narrative
	}

	if app.Notifier, err = buildNotifier(ctx, cfg); err != nil {
		return nil, app.fail(err)
	}

	var publisher audit.Publisher = audit.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		stream := audit.NewKafkaStream(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		app.closers = append(app.closers, stream)
		publisher = stream
	}

	guard, err := app.buildGuard(ctx, cfg)
	if err != nil {
		return nil, app.fail(err)
	}

	if app.Signer, err = auth.NewSigner(cfg.JWTSecret, cfg.Env); err != nil {
		return nil, app.fail(err)
	}

	app.Flow = &flow.Service{
		Gateway: app.Gateway,
		Intake: &intake.Pipeline{
			Store:       app.Store,
			Extractor:   extract.NewRouter(app.Modes, extract.Simulated{}, extract.Text{}),
			MaxAttempts: cfg.MaxUploadAttempts,
		},
		Files:           app.Store,
		Narrative:       chatNarrative,
		PolicyNarrative: &llm.Fallback{Base: narrative, Text: llm.DefaultPolicyNarrative},
		Renderer:        policy.PDFRenderer{},
		Notifier:        app.Notifier,
		Audit:           publisher,
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Chat:     chat.NewHandler(app.Flow, guard),
		Admin:    admin.NewHandler(app.Gateway, app.Modes),
		Verifier: app.Signer,
	})
	return app, nil
}

// Close releases every connection opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) fail(err error) error {
	if cerr := a.Close(); cerr != nil {
		telemetry.Warn("bootstrap.close_failed", map[string]any{"error": cerr})
	}
	return err
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_gateway", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_gateway", map[string]any{"reason": "connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}
	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
			Endpoint: cfg.S3Endpoint,
		})
	case "gcs":
		return gcsstore.New(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	case "memory":
		return memstore.New(), nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildNarrative returns nil when no provider is configured.
func (a *App) buildNarrative(ctx context.Context, cfg config.Config) (llm.NarrativeGenerator, error) {
	switch cfg.LLMProvider {
	case "openai":
		client, err := openai.NewClient(ctx, openai.Options{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.LLMModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return llm.NewRetrying(client), nil
	case "vertex":
		client, err := vertex.NewClient(ctx, vertex.Options{
			ProjectID:   cfg.VertexProjectID,
			Region:      cfg.VertexRegion,
			Model:       cfg.LLMModel,
			AccessToken: cfg.VertexAccessToken,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		return llm.NewRetrying(client), nil
	default:
		return nil, nil
	}
}

func buildNotifier(ctx context.Context, cfg config.Config) (notify.Notifier, error) {
	if cfg.NotifierType != "sqs" {
		return notify.Log{}, nil
	}
	client, err := notify.NewSQS(ctx, cfg.AWSRegion, cfg.NotifyQueueURL)
	if err != nil {
		return nil, err
	}
	return notify.NewRetrying(client), nil
}

func (a *App) buildGuard(ctx context.Context, cfg config.Config) (dedupe.Guard, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return dedupe.NewMemory(dedupe.DefaultTTL), nil
	}
	client, err := dedupe.Connect(ctx, cfg.RedisURL)
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_dedupe", map[string]any{"error": err})
			return dedupe.NewMemory(dedupe.DefaultTTL), nil
		}
		return nil, err
	}
	a.closers = append(a.closers, client)
	return dedupe.NewRedis(client, dedupe.DefaultTTL), nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

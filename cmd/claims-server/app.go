package main

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/ehr/claims/internal/config"
	"github.com/ehr/claims/internal/domain/billing"
	"github.com/ehr/claims/internal/platform/audit"
	"github.com/ehr/claims/internal/platform/blobstore"
	"github.com/ehr/claims/internal/platform/clearinghouse"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/internal/platform/edi"
	"github.com/ehr/claims/internal/platform/idgen"
	"github.com/ehr/claims/internal/platform/kv"
	"github.com/ehr/claims/internal/platform/telemetry"
	"github.com/ehr/claims/pkg/retry"
)

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	pool     *pgxpool.Pool
	kv       kv.Store
	service  *billing.Service
	pipeline *billing.Pipeline
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)

	if cfg.RedisURL != "" {
		client, err := kv.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		a.kv = kv.NewRedisStore(client, "claims:")
	} else {
		logger.Warn().Msg("REDIS_URL not set: encounter locks and rate limits are local to this process")
		a.kv = kv.NewMemoryStore()
	}

	ids, err := idgen.New(cfg.IDGenerator, cfg.IDNode)
	if err != nil {
		return nil, err
	}

	mirror, err := newMirror(ctx, cfg)
	if err != nil {
		return nil, err
	}
	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	sink := a.auditSink(cfg, pool, logger)

	metrics, err := telemetry.NewClaimMetrics(otel.Meter(telemetry.InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("claim metrics: %w", err)
	}

	var encOpts []edi.EncoderOption
	if cfg.EDIDiagnosis {
		encOpts = append(encOpts, edi.WithDiagnosisSegment())
	}
	encoder := edi.NewEncoder(edi.Envelope{
		SenderID:      cfg.EDISenderID,
		ReceiverID:    cfg.EDIReceiverID,
		SubmitterName: cfg.EDISubmitterName,
		ReceiverName:  cfg.EDIReceiverName,
	}, ids, encOpts...)

	claims := billing.NewClaimRepoPG(pool)
	mappings := billing.NewCodeMappingRepoPG(pool)

	a.pipeline = billing.NewPipeline(billing.PipelineDeps{
		Encounters: billing.NewEncounterRepoPG(pool),
		Insurance:  billing.NewInsuranceRepoPG(pool),
		Providers:  billing.NewProviderRepoPG(pool),
		Claims:     claims,
		Resolver:   billing.NewResolver(mappings, billing.WithRequireApproved(cfg.MappingRequireApproved)),
		Assembler:  billing.NewAssembler(ids, nil),
		Encoder:    encoder,
		Artifacts:  blobstore.NewFileStore(cfg.EDIOutputDir, blobstore.WithTimeout(cfg.EDIWriteTimeout)),
		Mirror:     mirror,
		Transport:  transport,
		Locker:     kv.NewLocker(a.kv, "lock:encounter:", cfg.EncounterLockTTL),
		Audit:      sink,
		Metrics:    metrics,
		Logger:     logger.With().Str("component", "claim-pipeline").Logger(),
		WriteRetry: retry.Config{
			MaxAttempts:   cfg.EDIWriteRetries,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2,
		},
	})
	a.service = billing.NewService(claims, mappings, db.NewTxRunner(pool), sink, logger)

	ok = true
	return a, nil
}

// auditSink persists events to Postgres and logs them. The Kafka feed, when
// configured, never fails the audited operation.
func (a *app) auditSink(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) audit.Sink {
	sinks := audit.Multi{audit.NewPGSink(pool), audit.NewLogSink(logger)}
	if len(cfg.AuditKafkaBrokers) > 0 {
		feed := audit.NewKafkaSink(audit.NewKafkaWriter(cfg.AuditKafkaBrokers, cfg.AuditKafkaTopic))
		a.closers = append(a.closers, func() {
			if err := feed.Close(); err != nil {
				logger.Warn().Err(err).Msg("close audit feed")
			}
		})
		sinks = append(sinks, audit.NewBestEffort(feed, logger))
	}
	return sinks
}

// newMirror returns the S3 copy target, or nil when no bucket is configured.
func newMirror(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.ArtifactS3Bucket == "" {
		return nil, nil
	}
	client, err := blobstore.NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3Store(client, cfg.ArtifactS3Bucket, cfg.ArtifactS3Prefix), nil
}

func newTransport(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (clearinghouse.Transport, error) {
	var sqsClient clearinghouse.SQSAPI
	if cfg.ClearinghouseMode == "sqs" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		sqsClient = sqs.NewFromConfig(awsCfg)
	}
	return clearinghouse.New(clearinghouse.Config{
		Mode:     cfg.ClearinghouseMode,
		URL:      cfg.ClearinghouseURL,
		Username: cfg.ClearinghouseUsername,
		Password: cfg.ClearinghousePassword,
		Secret:   cfg.ClearinghouseSecret,
		QueueURL: cfg.ClearinghouseQueue,
	}, sqsClient, logger.With().Str("component", "clearinghouse").Logger())
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/address"
	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/auth"
	"github.com/nhle/tempmail/internal/blob"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/expiry"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/ingest"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/ratelimit"
	"github.com/nhle/tempmail/internal/realtime"
	"github.com/nhle/tempmail/internal/source/email"
	"github.com/nhle/tempmail/internal/source/smtp"
	"github.com/nhle/tempmail/internal/store"
	isync "github.com/nhle/tempmail/internal/sync"
)

const shutdownTimeout = 15 * time.Second

var errJWTSecretMissing = errors.New("auth.jwt_secret is not set; run `tempmail keys init`")

func newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, SMTP receiver, IMAP poller and expiry sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				rt.cfg.Server.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides server.listen)")
	return cmd
}

// backing holds the storage and event plumbing shared by serve and sweep.
type backing struct {
	store  *store.SQLiteStore
	blobs  blob.Store
	hub    *realtime.Hub
	bridge *realtime.Bridge
	redis  *redis.Client
	origin string
}

func (b *backing) Close() error {
	var result *multierror.Error
	if b.bridge != nil {
		if err := b.bridge.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// openBacking opens the database, the blob store and the event bridge
// with whichever external publishers are configured.
func openBacking(ctx context.Context, cfg *model.AppConfig, logger *zap.Logger) (*backing, error) {
	if cfg.Storage.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	b := &backing{origin: uuid.NewString()}
	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	b.store = st

	if b.blobs, err = blob.New(ctx, cfg.Storage); err != nil {
		_ = b.Close()
		return nil, err
	}

	var pubs []realtime.Publisher
	if len(cfg.Realtime.KafkaBrokers) > 0 {
		kp, err := realtime.NewKafkaPublisher(cfg.Realtime.KafkaBrokers, cfg.Realtime.KafkaTopic, logger)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		pubs = append(pubs, kp)
	}
	if cfg.Realtime.RedisURL != "" {
		rdb, err := realtime.NewRedisClient(cfg.Realtime.RedisURL)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.redis = rdb
		pubs = append(pubs, realtime.NewRedisPublisher(rdb, cfg.Realtime.RedisPrefix))
	}

	b.hub = realtime.NewHub(cfg.Realtime.SubscriberBuf)
	b.bridge = realtime.NewBridge(b.hub, b.origin, logger, pubs...)
	return b, nil
}

func (rt *runtimeState) masterKey() ([]byte, error) {
	enc, err := rt.resolveSecret(rt.cfg.Crypto.MasterKey, rt.cfg.Crypto.MasterKeyRef)
	if err != nil {
		return nil, fmt.Errorf("resolving master key: %w", err)
	}
	if enc == "" {
		return nil, nil
	}
	key, err := codec.DecodeBase64(enc)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != codec.MasterKeySize {
		return nil, fmt.Errorf("%w: master key is %d bytes", codec.ErrInvalidKeySize, len(key))
	}
	return key, nil
}

func (rt *runtimeState) serve(ctx context.Context) error {
	cfg := rt.cfg
	logger, err := rt.Logger()
	if err != nil {
		return err
	}

	signer, created, err := codec.LoadOrCreateSigner(cfg.Crypto.SigningKeyFile)
	if err != nil {
		return err
	}
	if created {
		logger.Info("generated server signing key", zap.String("path", cfg.Crypto.SigningKeyFile))
	}

	masterKey, err := rt.masterKey()
	if err != nil {
		return err
	}
	if masterKey == nil {
		logger.Warn("no master key configured; only sealed addresses can be created")
	}

	jwtSecret, err := rt.resolveSecret(cfg.Auth.JWTSecret, cfg.Auth.JWTSecretRef)
	if err != nil {
		return fmt.Errorf("resolving jwt secret: %w", err)
	}
	if jwtSecret == "" {
		return errJWTSecretMissing
	}
	tokens, err := auth.NewIssuer([]byte(jwtSecret))
	if err != nil {
		return err
	}

	b, err := openBacking(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("closing storage", zap.Error(err))
		}
	}()

	domains := address.NewGenerator(cfg.Domains, "")
	pipeline := ingest.New(ingest.Config{
		Store:     b.store,
		Blobs:     b.blobs,
		Signer:    signer,
		Publisher: b.bridge,
		Domains:   domains,
		Policy:    cfg.Policy,
		Logger:    logger,
	})
	svc := inbox.New(inbox.Config{
		Store:     b.store,
		Blobs:     b.blobs,
		Signer:    signer,
		MasterKey: masterKey,
		Domains:   domains,
		Policy:    cfg.Policy,
		Tokens:    tokens,
		Publisher: b.bridge,
		Logger:    logger,
	})

	poller := isync.New(b.store, pipeline, logger)
	if cfg.IMAP.Enabled {
		password, err := rt.resolveSecret(cfg.IMAP.Password, cfg.IMAP.PasswordKey)
		if err != nil {
			return fmt.Errorf("resolving imap password: %w", err)
		}
		src := email.NewSource(email.ConfigFrom(cfg.IMAP, password))
		poller.RegisterSource(src, time.Duration(cfg.IMAP.PollIntervalSec)*time.Second)
	}

	limits := ratelimit.Config{PerMinute: cfg.RateLimit.CreatePerMinute, Burst: cfg.RateLimit.Burst}
	var limiter ratelimit.Limiter
	if b.redis != nil {
		limiter = ratelimit.NewRedis(b.redis, cfg.Realtime.RedisPrefix+":ratelimit", limits)
	} else {
		mem := ratelimit.NewMemory(limits)
		defer mem.Stop()
		limiter = mem
	}

	server := api.NewServer(api.Config{
		Inbox:       svc,
		Tokens:      tokens,
		Hub:         b.hub,
		Sources:     poller,
		Injector:    pipeline,
		Limiter:     limiter,
		AdminToken:  cfg.Server.AdminToken,
		CORSOrigins: cfg.Server.CORSOrigins,
		Heartbeat:   time.Duration(cfg.Realtime.HeartbeatSec) * time.Second,
		Debug:       cfg.Server.Debug,
		Logger:      logger,
	})

	sweeper := expiry.New(b.store, b.blobs, b.bridge, cfg.Expiry.BatchSize, logger)
	if err := sweeper.Start(cfg.Expiry.Schedule); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 3)

	go func() {
		if err := server.ListenAndServe(cfg.Server.Listen); err != nil {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()

	var receiver *smtp.Server
	if cfg.SMTP.Enabled {
		smtpCfg := smtp.Config{
			Addr:            cfg.SMTP.Listen,
			Domain:          cfg.SMTP.Hostname,
			MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
			MaxRecipients:   cfg.SMTP.MaxRecipients,
		}
		receiver = smtp.NewServer(smtpCfg, smtp.NewBackend(smtpCfg, pipeline, pipeline, logger))
		go func() {
			if err := receiver.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("smtp receiver: %w", err)
			}
		}()
	}

	if b.redis != nil {
		relay := realtime.NewRedisRelay(b.redis, cfg.Realtime.RedisPrefix, b.origin, b.hub, logger)
		go func() {
			if err := relay.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("redis relay: %w", err)
			}
		}()
	}

	poller.Start()
	logger.Info("tempmail serving",
		zap.String("http", cfg.Server.Listen),
		zap.Bool("smtp", cfg.SMTP.Enabled),
		zap.Bool("imap", cfg.IMAP.Enabled),
		zap.Strings("domains", domains.Domains()))

	var result *multierror.Error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("component failed, shutting down", zap.Error(err))
		result = multierror.Append(result, err)
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := server.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http api shutdown: %w", err))
	}
	if receiver != nil {
		if err := receiver.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("smtp shutdown: %w", err))
		}
	}
	if err := poller.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	sweeper.Stop()

	return result.ErrorOrNil()
}

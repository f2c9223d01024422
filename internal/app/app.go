// Package app wires configuration into a ready-to-serve handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/eauth/adapters/ens"
	"github.com/layer-3/eauth/adapters/events"
	"github.com/layer-3/eauth/adapters/store"
	"github.com/layer-3/eauth/adapters/tokenizer"
	"github.com/layer-3/eauth/internal/config"
	"github.com/layer-3/eauth/internal/keys"
	"github.com/layer-3/eauth/ports"
	"github.com/layer-3/eauth/service"
	transport "github.com/layer-3/eauth/transport/http"
)

// PruneInterval is how often expired SQLite sessions are deleted
const PruneInterval = 15 * time.Minute

// App holds the initialized components of the service
type App struct {
	Config      *config.Config
	Keys        *keys.Manager
	AuthService *service.AuthService
	Handler     http.Handler

	logger     *slog.Logger
	db         *store.SQLiteStore
	redisOpts  *redis.Options
	redis      *redis.Client
	publisher  message.Publisher
	users      ports.UserStore
	sessions   ports.SessionStore
	challenges ports.ChallengeStore
	resolver   ports.NameResolver
}

// Initialize prepares keys and storage, retrying every cfg.RetryInterval until
// it succeeds or ctx is done, then builds the HTTP handler.
func Initialize(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config: cfg,
		Keys:   keys.NewManager(cfg.KeyDir, logger),
		logger: logger,
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		a.redisOpts = opts
	}

	var lastErr error
	err := retry.Retry(func(attempt uint) error {
		if err := a.initialize(ctx); err != nil {
			lastErr = err
			logger.Error("initialization failed", "error", err, "attempt", attempt+1, "retry_in", cfg.RetryInterval)
			return err
		}
		return nil
	}, waitOrDone(ctx, cfg.RetryInterval))
	if ctxErr := ctx.Err(); ctxErr != nil {
		a.Close()
		return nil, errors.Join(ctxErr, lastErr)
	}
	if err != nil {
		return nil, err
	}

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("initialized", "session_store", cfg.SessionStore, "redis", a.redis != nil, "ens", a.resolver != nil)
	return a, nil
}

// waitOrDone sleeps interval before every attempt but the first and stops
// retrying once ctx is done
func waitOrDone(ctx context.Context, interval time.Duration) strategy.Strategy {
	return func(attempt uint) bool {
		if attempt == 0 {
			return ctx.Err() == nil
		}
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
}

// initialize runs one attempt. Whatever it opened is closed again on failure.
func (a *App) initialize(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if _, _, err := a.Keys.Ensure(); err != nil {
		return fmt.Errorf("keys: %w", err)
	}

	a.db, err = store.NewSQLiteStore(ctx, a.Config.DatabasePath, a.logger)
	if err != nil {
		return err
	}
	if err := a.db.Migrate(ctx); err != nil {
		return err
	}
	a.users = a.db

	if a.redisOpts != nil {
		a.redis = redis.NewClient(a.redisOpts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("pinging redis: %w", err)
		}
	}

	memory := store.NewMemoryStore()
	a.challenges = memory
	if a.redis != nil {
		a.challenges = store.NewRedisStore(a.redis)
	}

	switch a.Config.SessionStore {
	case config.StoreRedis:
		a.sessions = store.NewRedisStore(a.redis)
	case config.StoreMemory:
		a.sessions = memory
	default:
		a.sessions = a.db
	}
	if err := a.sessions.Reset(ctx); err != nil {
		return fmt.Errorf("resetting sessions: %w", err)
	}

	if a.Config.Components.ENS {
		resolver, err := ens.Dial(ctx, a.Config.RPCURL)
		if err != nil {
			return fmt.Errorf("ens: %w", err)
		}
		a.resolver = resolver
	}

	return nil
}

func (a *App) build() error {
	wmLogger := watermill.NewSlogLogger(a.logger.With("component", "events"))
	if a.redis != nil {
		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: a.redis}, wmLogger)
		if err != nil {
			return fmt.Errorf("creating redis publisher: %w", err)
		}
		a.publisher = publisher
	} else {
		a.publisher = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	}

	signKey, err := a.Keys.PrivateKey()
	if err != nil {
		return err
	}

	cfg := a.Config
	var chainID *big.Int
	if cfg.ChainID != 0 {
		chainID = big.NewInt(cfg.ChainID)
	}
	a.AuthService = service.NewAuthService(
		a.users,
		a.challenges,
		tokenizer.NewJWTTokenizer(signKey, cfg.Issuer),
		events.NewWatermillPublisher(a.publisher),
		service.Options{
			Banner:       cfg.Banner,
			Prefix:       cfg.MessagePrefix,
			ChainID:      chainID,
			ChallengeTTL: cfg.ChallengeTTL,
			SessionTTL:   cfg.SessionTTL(),
		},
		a.logger,
	)

	a.Handler = transport.SetupRouter(transport.RouterConfig{
		AuthService: a.AuthService,
		Sessions:    transport.NewSessionManager(a.sessions, cfg.Secret, a.logger),
		Keys:        a.Keys,
		Resolver:    a.resolver,
		UI: transport.UIOptions{
			Prefix:    cfg.MessagePrefix,
			UseSocket: cfg.Components.QRCode,
			Contract:  cfg.Components.Contract,
		},
		EnableUI:      cfg.Components.UI,
		AuthorizePath: cfg.AuthorizePath,
		Development:   cfg.Development(),
		Logger:        a.logger,
	})
	return nil
}

// RunPruner deletes expired SQLite sessions every interval until ctx is done.
// It returns at once for other session stores.
func (a *App) RunPruner(ctx context.Context, interval time.Duration) {
	db, ok := a.sessions.(*store.SQLiteStore)
	if !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PruneExpired(ctx)
			if err != nil {
				a.logger.Warn("failed to prune sessions", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Debug("pruned sessions", "count", n)
			}
		}
	}
}

// Close releases the publisher and storage connections
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
		a.publisher = nil
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	a.users, a.sessions, a.challenges, a.resolver = nil, nil, nil, nil
	return errors.Join(errs...)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/api"
	"github.com/fathima-sithara/connectify/internal/auth"
	"github.com/fathima-sithara/connectify/internal/config"
	"github.com/fathima-sithara/connectify/internal/dispatch"
	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/events"
	"github.com/fathima-sithara/connectify/internal/gateway"
	"github.com/fathima-sithara/connectify/internal/logger"
	"github.com/fathima-sithara/connectify/internal/metrics"
	"github.com/fathima-sithara/connectify/internal/policy"
	"github.com/fathima-sithara/connectify/internal/presence"
	"github.com/fathima-sithara/connectify/internal/repository"
	"github.com/fathima-sithara/connectify/internal/service"
)

// Server holds the process-wide dependencies.
type Server struct {
	Cfg        *config.Config
	App        *fiber.App
	Log        *zap.SugaredLogger
	Mongo      *mongo.Client
	Redis      *redis.Client
	Publisher  events.Publisher
	Consumer   *events.Consumer
	Presence   *events.PresenceStore
	Fanout     *presence.Fanout
	Registry   *presence.Registry
	Dispatcher *dispatch.Dispatcher
	Service    *service.ChatService

	// background workers stop when Ctx is cancelled
	Ctx    context.Context
	Cancel context.CancelFunc
}

func NewServer(cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{Cfg: cfg, Log: log, Ctx: ctx, Cancel: cancel, Publisher: events.Nop{}}

	store, err := s.openStore()
	if err != nil {
		s.close()
		return nil, err
	}

	s.Fanout = presence.NewFanout(cfg.Presence.EventBuffer, log)
	reg := presence.NewRegistry(s.Fanout,
		presence.WithShards(cfg.Presence.Shards),
		presence.WithOrigin(cfg.App.InstanceID),
		presence.WithRetention(cfg.Retention),
	)
	s.Registry = reg
	disp := dispatch.New(reg, log)
	s.Dispatcher = disp
	s.Fanout.Add(disp.PresenceSink())
	s.Fanout.Add(presence.SinkFunc(func(ev domain.PresenceEvent) {
		wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := store.RecordStatus(wctx, ev); err != nil {
			log.Warnw("mirror user status", "identity", ev.Identity, "error", err)
		}
	}))

	var lookup api.PresenceLookup = api.UserPresence(store)
	if cfg.Redis.Addr != "" {
		rctx, rcancel := context.WithTimeout(ctx, 30*time.Second)
		s.Redis, err = events.NewRedisClient(rctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		rcancel()
		if err != nil {
			s.close()
			return nil, err
		}
		s.Presence = events.NewPresenceStore(s.Redis, cfg.Redis.Prefix, cfg.App.InstanceID, log)
		s.Fanout.Add(s.Presence)
		lookup = api.Chain(s.Presence, lookup)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		s.Publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicOut, cfg.App.InstanceID, log)
		s.Consumer = events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicIn, cfg.Kafka.GroupID, cfg.App.InstanceID, log)
	}

	var validator gateway.TokenValidator
	if cfg.JWT.Enabled {
		jv, err := auth.New(cfg.JWT.Alg, cfg.JWT.HSSecret, cfg.JWT.PublicKeyPath)
		if err != nil {
			s.close()
			return nil, err
		}
		validator = jv
	}

	s.Service = service.NewChatService(store, policy.NewGuard(cfg.EditWindow), disp, log,
		service.WithPublisher(s.Publisher))

	gw := gateway.New(reg, disp, store, validator, gateway.Options{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
		SendBuffer:     cfg.WS.SendBuffer,
		RateLimit:      cfg.WS.RateLimitPerSec,
		ClientRelay:    cfg.WS.ClientRelay,
		Origins:        cfg.App.AllowedOrigins,
	}, log)

	var limiter api.Limiter
	switch {
	case cfg.App.RateLimitPerMin == 0:
	case s.Redis != nil:
		limiter = api.NewRedisLimiter(s.Redis, cfg.Redis.Prefix, cfg.App.RateLimitPerMin)
	default:
		limiter = api.NewLocalLimiter(ctx, cfg.App.RateLimitPerMin)
	}

	h := api.NewHandlers(s.Service, reg, lookup, log)
	s.App = api.NewServer(h, gw, api.ServerOptions{
		AllowedOrigins: cfg.App.AllowedOrigins,
		Validator:      validator,
		AccessLogging:  cfg.App.IsDev(),
		Limiter:        limiter,
	})
	return s, nil
}

func (s *Server) openStore() (repository.Store, error) {
	if s.Cfg.Storage.Driver == "memory" {
		s.Log.Warnw("using in-memory storage, messages are lost on restart")
		return repository.NewMemoryStore(), nil
	}
	ctx, cancel := context.WithTimeout(s.Ctx, 30*time.Second)
	defer cancel()
	client, err := repository.NewMongoClient(ctx, s.Cfg.Mongo.URI, s.Log)
	if err != nil {
		return nil, err
	}
	s.Mongo = client
	repo := repository.NewMongoRepository(client.Database(s.Cfg.Mongo.DB))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// Start launches background workers and the HTTP listener.
func (s *Server) Start() <-chan error {
	go s.Fanout.Run(s.Ctx)
	go s.Registry.RunPruner(s.Ctx, 0)
	if s.Presence != nil {
		// transitions seen by other instances go to local sessions only
		go s.Presence.Subscribe(s.Ctx, s.Dispatcher.PresenceSink().PresenceChanged)
	}
	if s.Consumer != nil {
		go s.Consumer.Run(s.Ctx, s.Service.HandleRemote)
	}

	errs := make(chan error, 1)
	go func() {
		addr := s.Cfg.App.PortString()
		s.Log.Infow("starting connectify", "addr", addr, "instance", s.Cfg.App.InstanceID)
		errs <- s.App.Listen(addr)
	}()
	return errs
}

func (s *Server) Shutdown() {
	s.Log.Info("shutting down connectify")
	ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.ShutdownTimeout)
	defer cancel()
	if err := s.App.ShutdownWithContext(ctx); err != nil {
		s.Log.Errorw("fiber shutdown", "error", err)
	}
	s.close()
	s.Log.Info("connectify stopped")
}

func (s *Server) close() {
	s.Cancel()
	if s.Consumer != nil {
		if err := s.Consumer.Close(); err != nil {
			s.Log.Errorw("close kafka consumer", "error", err)
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			s.Log.Errorw("close kafka producer", "error", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Log.Errorw("close redis", "error", err)
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(context.Background()); err != nil {
			s.Log.Errorw("disconnect mongo", "error", err)
		}
	}
}

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}

	zl, err := logger.New(cfg.App.IsDev(), cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	log := zl.Sugar()

	metrics.Init()

	server, err := NewServer(cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize server", "error", err)
	}
	errs := server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		log.Errorw("server exited", "error", err)
	case sig := <-quit:
		log.Infow("received signal, starting graceful shutdown", "signal", sig.String())
	}
	server.Shutdown()
}

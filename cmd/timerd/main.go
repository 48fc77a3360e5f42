// Command timerd runs the timer scheduling service: it consumes
// ScheduleTimer commands from the broker, persists them, and emits
// DueTimeReached events when they become due.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	pulsebus "github.com/serviceweave/timer/features/bus/pulse"
	clientspulse "github.com/serviceweave/timer/features/bus/pulse/clients/pulse"
	mongostore "github.com/serviceweave/timer/features/store/mongo"
	"github.com/serviceweave/timer/runtime/timer/engine"
	"github.com/serviceweave/timer/runtime/timer/telemetry"
)

func main() {
	var (
		configF    = flag.String("config", "", "Path to YAML config file")
		redisAddrF = flag.String("redis-addr", "", "Redis address (overrides config)")
		mongoURIF  = flag.String("mongo-uri", "", "MongoDB URI (overrides config)")
		dbgF       = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := LoadConfig(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load config")
	}
	if *redisAddrF != "" {
		cfg.Redis.Addr = *redisAddrF
	}
	if *mongoURIF != "" {
		cfg.Mongo.URI = *mongoURIF
	}
	interval, err := cfg.pollInterval()
	if err != nil {
		log.Fatalf(ctx, err, "load config")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Errorf(ctx, err, "close redis")
		}
	}()

	mongoClient, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf(ctx, err, "connect mongo")
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Errorf(ctx, err, "disconnect mongo")
		}
	}()

	store, err := mongostore.New(mongostore.Options{
		Client:     mongoClient,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build timer store")
	}
	if err := store.Ping(ctx); err != nil {
		log.Fatalf(ctx, err, "ping timer store")
	}

	pulseClient, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		log.Fatalf(ctx, err, "build pulse client")
	}
	eventBus, err := pulsebus.New(pulsebus.Options{Client: pulseClient, SinkName: cfg.SinkName})
	if err != nil {
		log.Fatalf(ctx, err, "build event bus")
	}

	instruments, err := telemetry.New()
	if err != nil {
		log.Fatalf(ctx, err, "build instruments")
	}

	svc, err := engine.New(engine.Options{
		Store:        store,
		Bus:          eventBus,
		PollInterval: interval,
		Instruments:  instruments,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build timer service")
	}

	log.Print(ctx, log.KV{K: "msg", V: "timerd starting"},
		log.KV{K: "redis", V: cfg.Redis.Addr},
		log.KV{K: "mongo", V: cfg.Mongo.Database})
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Errorf(ctx, err, "timer service stopped")
		os.Exit(1)
	}
	log.Print(ctx, log.KV{K: "msg", V: "timerd stopped"})
}

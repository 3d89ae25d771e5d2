package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tickq/internal/api"
	"tickq/internal/domain"
	"tickq/internal/metrics"
	"tickq/internal/queue"
	"tickq/internal/scheduler"
	"tickq/internal/store"
	"tickq/internal/worker"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "HTTP bind address")
		dbPath        = flag.String("db", "tickq.db", "SQLite DB path (\":memory:\" for in-memory)")
		dispatchEvery = flag.Duration("dispatch-every", time.Second, "how often to fire due schedules")
		dispatchBatch = flag.Int("dispatch-batch", scheduler.DefaultRunDueLimit, "max schedules fired per dispatch pass")
		keepFired     = flag.Bool("keep-fired", false, "mark one-shot schedules fired instead of deleting them")
		consume       = flag.String("consume", "", "comma-separated queues drained by the built-in log consumer")
		workers       = flag.Int("workers", 8, "number of consumer goroutines")
		poll          = flag.Duration("poll", 250*time.Millisecond, "poll interval for consumed queues")
		visibility    = flag.Int64("visibility", 30, "consumer lease seconds")
		enableMetrics = flag.Bool("metrics", true, "expose prometheus metrics on /metrics")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	repo := store.NewSQLiteRepo(db)
	metricsService := metrics.NewMetricsService(*enableMetrics)
	queues := queue.NewService(repo, metricsService)
	schedules := scheduler.NewService(repo, metricsService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The dispatcher is deliberately external to the scheduler core: a
	// cron entry invoking one bounded RunDue pass per tick.
	dispatcher := cron.New()
	_, err = dispatcher.AddFunc(fmt.Sprintf("@every %s", *dispatchEvery), func() {
		if _, err := schedules.RunDue(ctx, *dispatchBatch, !*keepFired); err != nil {
			log.Error().Err(err).Msg("dispatch pass failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("register dispatch job")
	}
	if *enableMetrics {
		_, err = dispatcher.AddFunc("@every 15s", func() { refreshQueueDepth(ctx, queues) })
		if err != nil {
			log.Fatal().Err(err).Msg("register metrics job")
		}
	}
	dispatcher.Start()
	log.Info().Dur("every", *dispatchEvery).Msg("dispatcher started")

	if *consume != "" {
		handlers := map[string]worker.Handler{}
		for _, q := range strings.Split(*consume, ",") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			handlers[q] = worker.HandlerFunc(logMessage)
		}
		pool := worker.NewPool(queues, handlers, *workers, *poll, *visibility)
		go pool.Run(ctx)
		log.Info().Str("queues", *consume).Msg("consumer pool started")
	}

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(schedules, queues)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	<-dispatcher.Stop().Done()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

// refreshQueueDepth re-reads per-queue counts so the depth gauge stays
// accurate for queues that are written but never polled over the API.
func refreshQueueDepth(ctx context.Context, queues *queue.Service) {
	names, err := queues.ListQueues(ctx)
	if err != nil {
		return
	}
	for _, name := range names {
		// Attributes updates the gauge as a side effect.
		if _, err := queues.Attributes(ctx, name); err != nil {
			return
		}
	}
}

// logMessage is the built-in consumer: it logs the body and acks. Real
// embedders register their own worker.Handler instead.
func logMessage(ctx context.Context, msg domain.Message) error {
	log.Info().
		Str("queue", msg.QueueName).
		Str("message_id", msg.ID).
		Int("receive_count", msg.ReceiveCount).
		Str("body", msg.Body).
		Msg("message consumed")
	return nil
}

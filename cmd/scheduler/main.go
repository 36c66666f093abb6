package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mailsched/config"
	"mailsched/internal/cache"
	"mailsched/internal/events"
	"mailsched/internal/mailer"
	"mailsched/internal/repository"
	"mailsched/internal/service"
	"mailsched/pkg/db"
	"mailsched/pkg/logger"
	"mailsched/pkg/mq"
	pkgredis "mailsched/pkg/redis"
	"mailsched/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.New()
	defer log.Sync()

	log.Info("Starting mailing scheduler",
		zap.String("cron_spec", cfg.Mailing.CronSpec),
		zap.Bool("cache_enabled", cfg.Mailing.CacheEnabled),
	)

	dbpool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbpool.Close()

	rdb := pkgredis.NewClient(cfg.Redis)
	defer rdb.Close()

	campaignRepo := repository.NewCampaignRepository(dbpool)
	messageRepo := repository.NewMessageRepository(dbpool)
	clientRepo := repository.NewClientRepository(dbpool)
	logRepo := repository.NewLogRepository(dbpool)

	var source service.CampaignSource = campaignRepo
	if cfg.Mailing.CacheEnabled {
		source = cache.NewCampaignCache(rdb, campaignRepo, parseDuration(cfg.Mailing.CacheTTL, time.Minute, log), log)
	}

	var sink service.EventSink
	if cfg.MQ.Enabled {
		pub, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("MQ initialization failed", zap.Error(err))
		}
		defer pub.Close()
		sink = events.NewPublisher(pub, log)
	}

	dispatcher := service.NewDispatcher(
		source,
		campaignRepo,
		messageRepo,
		clientRepo,
		logRepo,
		mailer.NewSMTPTransport(cfg.SMTP),
		sink,
		service.Config{
			From:        cfg.Mailing.From,
			SendTimeout: parseDuration(cfg.Mailing.SendTimeout, 30*time.Second, log),
		},
		log,
	)

	lock := util.NewRunLock(rdb, parseDuration(cfg.Mailing.LockTTL, 50*time.Second, log), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	_, err = c.AddFunc(cfg.Mailing.CronSpec, func() {
		if !lock.TryAcquire(ctx) {
			return
		}
		defer lock.Release(context.Background())

		if err := dispatcher.RunOnce(ctx, time.Now()); err != nil {
			log.Error("Evaluation pass failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("Invalid cron spec", zap.String("cron_spec", cfg.Mailing.CronSpec), zap.Error(err))
	}
	c.Start()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":"+cfg.Metrics.Port, nil); err != nil {
			log.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()

	log.Info("Scheduler running", zap.String("metrics_port", cfg.Metrics.Port))

	<-ctx.Done()
	log.Info("Shutting down")

	// Let an in-flight pass finish its current send before exiting.
	<-c.Stop().Done()
}

func parseDuration(s string, fallback time.Duration, log *zap.Logger) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warn("Invalid duration in config, using default",
			zap.String("value", s),
			zap.Duration("default", fallback),
		)
		return fallback
	}
	return d
}

// Command sendmail runs a single evaluation pass and exits. It exists for
// deployments that drive the dispatcher from system cron instead of the
// resident scheduler daemon. The -now flag pins the evaluation time of
// day, e.g. to rehearse a campaign window outside its hours.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailsched/config"
	"mailsched/internal/cache"
	"mailsched/internal/mailer"
	"mailsched/internal/model"
	"mailsched/internal/repository"
	"mailsched/internal/service"
	"mailsched/pkg/db"
	"mailsched/pkg/logger"
	pkgredis "mailsched/pkg/redis"
	"mailsched/pkg/util"
)

func main() {
	nowFlag := flag.String("now", "", "evaluate at this time of day (HH:MM or HH:MM:SS) instead of the current time")
	flag.Parse()

	cfg := config.Load()

	log := logger.New()
	defer log.Sync()

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
		ttl, err := time.ParseDuration(cfg.Mailing.CacheTTL)
		if err != nil {
			ttl = time.Minute
		}
		source = cache.NewCampaignCache(rdb, campaignRepo, ttl, log)
	}

	sendTimeout, err := time.ParseDuration(cfg.Mailing.SendTimeout)
	if err != nil {
		sendTimeout = 30 * time.Second
	}

	dispatcher := service.NewDispatcher(
		source,
		campaignRepo,
		messageRepo,
		clientRepo,
		logRepo,
		mailer.NewSMTPTransport(cfg.SMTP),
		nil,
		service.Config{
			From:        cfg.Mailing.From,
			SendTimeout: sendTimeout,
		},
		log,
	)

	lockTTL, err := time.ParseDuration(cfg.Mailing.LockTTL)
	if err != nil {
		lockTTL = 50 * time.Second
	}
	lock := util.NewRunLock(rdb, lockTTL, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	if *nowFlag != "" {
		tod, err := model.ParseTimeOfDay(*nowFlag)
		if err != nil {
			log.Fatal("Invalid -now value", zap.String("value", *nowFlag), zap.Error(err))
		}
		now = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, int(tod), 0, now.Location())
	}

	if !lock.TryAcquire(ctx) {
		return
	}
	defer lock.Release(context.Background())

	if err := dispatcher.RunOnce(ctx, now); err != nil {
		log.Error("Evaluation pass failed", zap.Error(err))
		os.Exit(1)
	}

	// Show the freshest audit outcomes for whoever reads the cron mail.
	entries, err := logRepo.Recent(ctx, 5)
	if err != nil {
		log.Warn("Failed to read recent audit entries", zap.Error(err))
		return
	}
	for _, e := range entries {
		fields := []zap.Field{
			zap.Time("time", e.Time),
			zap.String("kind", e.ErrorType),
		}
		if e.CampaignID != nil {
			fields = append(fields, zap.Int("campaign_id", *e.CampaignID))
		}
		log.Info("Audit entry", fields...)
	}
}

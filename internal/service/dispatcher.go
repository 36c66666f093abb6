package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailsched/internal/mailer"
	"mailsched/internal/model"
	"mailsched/pkg/metrics"
)

// CampaignSource yields the active campaign set for one pass, either
// straight from the store or through the snapshot cache.
type CampaignSource interface {
	ActiveCampaigns(ctx context.Context) ([]model.Campaign, error)
}

// CampaignStore mutates the per-window sent flag. MarkSent is conditional
// on the flag being clear and reports whether this caller set it.
type CampaignStore interface {
	MarkSent(ctx context.Context, id int) (bool, error)
	ResetSent(ctx context.Context, id int) error
}

// MessageStore resolves a campaign's template. A dangling reference yields
// (nil, nil).
type MessageStore interface {
	FindByID(ctx context.Context, id int) (*model.Message, error)
}

// RecipientSource resolves the email addresses joined to a campaign.
type RecipientSource interface {
	Recipients(ctx context.Context, campaignID int) ([]string, error)
}

// AuditLog appends one immutable record per dispatch attempt.
type AuditLog interface {
	Append(ctx context.Context, campaignID *int, kind, message string, at time.Time) error
}

// EventSink receives best-effort dispatch outcome notifications.
type EventSink interface {
	DispatchSucceeded(c model.Campaign, recipients int, at time.Time)
	DispatchFailed(c model.Campaign, kind, message string, at time.Time)
}

// Config carries the dispatcher's own settings.
type Config struct {
	From        string
	SendTimeout time.Duration
}

// Dispatcher runs the per-campaign state machine: a campaign inside its
// window with a clear sent flag is dispatched once; a campaign outside its
// window with the flag set is re-armed.
type Dispatcher struct {
	source     CampaignSource
	campaigns  CampaignStore
	messages   MessageStore
	recipients RecipientSource
	audit      AuditLog
	transport  mailer.Transport
	events     EventSink // optional
	cfg        Config
	logger     *zap.Logger
}

func NewDispatcher(
	source CampaignSource,
	campaigns CampaignStore,
	messages MessageStore,
	recipients RecipientSource,
	audit AuditLog,
	transport mailer.Transport,
	events EventSink,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		source:     source,
		campaigns:  campaigns,
		messages:   messages,
		recipients: recipients,
		audit:      audit,
		transport:  transport,
		events:     events,
		cfg:        cfg,
		logger:     logger,
	}
}

// RunOnce performs one evaluation pass over all active campaigns at the
// given wall-clock time. Campaign failures are isolated; only a failure to
// obtain the campaign set, or cancellation, aborts the pass. Callers must
// not overlap invocations (see pkg/util.RunLock).
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) error {
	start := time.Now()

	campaigns, err := d.source.ActiveCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("load active campaigns: %w", err)
	}

	for _, c := range campaigns {
		// Stop starting new dispatches once cancelled; an in-flight send
		// has already recorded its outcome by this point.
		if err := ctx.Err(); err != nil {
			return err
		}
		d.evaluate(ctx, c, now)
	}

	metrics.ObservePass(time.Since(start))
	metrics.Heartbeat(time.Now())

	d.logger.Info("Evaluation pass completed",
		zap.Int("campaigns", len(campaigns)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (d *Dispatcher) evaluate(ctx context.Context, c model.Campaign, now time.Time) {
	if !IsDue(c, now) {
		if c.Sent {
			// Window has passed since the last successful send; re-arm.
			if err := d.campaigns.ResetSent(ctx, c.ID); err != nil {
				d.logger.Error("Failed to reset sent flag",
					zap.Int("campaign_id", c.ID),
					zap.Error(err),
				)
			}
		}
		return
	}

	if c.Sent {
		// Already dispatched for this window occurrence.
		return
	}

	d.dispatch(ctx, c, now)
}

func (d *Dispatcher) dispatch(ctx context.Context, c model.Campaign, now time.Time) {
	if c.MessageID == nil {
		// No template, nothing to send. The audit trail stays silent
		// (source behavior); the operator channel does not.
		d.logger.Warn("Campaign has no message template, skipping dispatch",
			zap.Int("campaign_id", c.ID),
			zap.String("campaign", c.Name),
		)
		return
	}

	msg, err := d.messages.FindByID(ctx, *c.MessageID)
	if err != nil {
		d.logger.Error("Failed to load message template",
			zap.Int("campaign_id", c.ID),
			zap.Int("message_id", *c.MessageID),
			zap.Error(err),
		)
		return
	}
	if msg == nil {
		d.logger.Warn("Campaign references a deleted message template, skipping dispatch",
			zap.Int("campaign_id", c.ID),
			zap.Int("message_id", *c.MessageID),
		)
		return
	}

	recipients, err := d.recipients.Recipients(ctx, c.ID)
	if err != nil {
		d.logger.Error("Failed to resolve recipients",
			zap.Int("campaign_id", c.ID),
			zap.Error(err),
		)
		return
	}

	if len(recipients) == 0 {
		// Delivery to an empty recipient set is vacuously successful: the
		// relay never sees the transaction, but the window occurrence is
		// complete and must not retry every tick.
		d.logger.Info("Campaign has no recipients",
			zap.Int("campaign_id", c.ID),
			zap.String("campaign", c.Name),
		)
		d.complete(ctx, c, 0, now)
		return
	}

	sendCtx := ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	if err := d.transport.Send(sendCtx, msg.Title, msg.Body, d.cfg.From, recipients); err != nil {
		kind := mailer.ErrorKind(err)
		d.appendLog(ctx, c.ID, kind, err.Error(), now)
		metrics.IncDispatch("failed")
		if d.events != nil {
			d.events.DispatchFailed(c, kind, err.Error(), now)
		}
		// Sent flag stays clear: the next tick inside the window retries.
		d.logger.Error("Dispatch failed",
			zap.Int("campaign_id", c.ID),
			zap.String("campaign", c.Name),
			zap.String("kind", kind),
			zap.Int("recipients", len(recipients)),
			zap.Error(err),
		)
		return
	}

	d.complete(ctx, c, len(recipients), now)
}

// complete records a successful window occurrence: success audit entry,
// then the sent-flag update.
func (d *Dispatcher) complete(ctx context.Context, c model.Campaign, recipients int, now time.Time) {
	d.appendLog(ctx, c.ID, model.LogSuccess, model.LogSuccess, now)

	changed, err := d.campaigns.MarkSent(ctx, c.ID)
	if err != nil {
		// The mail went out but the flag did not stick: the next tick may
		// send again. At-least-once within the window.
		d.logger.Error("Failed to mark campaign sent",
			zap.Int("campaign_id", c.ID),
			zap.Error(err),
		)
	} else if !changed {
		d.logger.Warn("Sent flag was already set by another writer",
			zap.Int("campaign_id", c.ID),
		)
	}

	metrics.IncDispatch("success")
	if d.events != nil {
		d.events.DispatchSucceeded(c, recipients, now)
	}

	d.logger.Info("Campaign dispatched",
		zap.Int("campaign_id", c.ID),
		zap.String("campaign", c.Name),
		zap.String("window", c.TimeFrom.String()+"-"+c.TimeTo.String()),
		zap.Int("recipients", recipients),
	)
}

// appendLog records one audit entry. A failed write is surfaced to the
// operator but never aborts the pass.
func (d *Dispatcher) appendLog(ctx context.Context, campaignID int, kind, message string, at time.Time) {
	if err := d.audit.Append(ctx, &campaignID, kind, message, at); err != nil {
		metrics.IncAuditLogFailure()
		d.logger.Error("Failed to append audit log entry",
			zap.Int("campaign_id", campaignID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

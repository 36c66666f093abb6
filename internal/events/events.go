package events

import (
	"time"

	"go.uber.org/zap"

	"mailsched/internal/model"
	"mailsched/pkg/mq"
)

const (
	RoutingKeyDispatched = "mailing.dispatched"
	RoutingKeyFailed     = "mailing.failed"
)

type DispatchedPayload struct {
	CampaignID int       `json:"campaign_id"`
	Campaign   string    `json:"campaign"`
	Recipients int       `json:"recipients"`
	SentAt     time.Time `json:"sent_at"`
}

type FailedPayload struct {
	CampaignID int       `json:"campaign_id"`
	Campaign   string    `json:"campaign"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

// Publisher pushes dispatch outcomes onto the events exchange for
// downstream consumers. Publishing is best-effort: a broker failure is
// logged and never affects dispatch correctness, which is carried by the
// audit log alone.
type Publisher struct {
	pub    *mq.Publisher
	logger *zap.Logger
}

func NewPublisher(pub *mq.Publisher, logger *zap.Logger) *Publisher {
	return &Publisher{
		pub:    pub,
		logger: logger,
	}
}

func (p *Publisher) DispatchSucceeded(c model.Campaign, recipients int, at time.Time) {
	payload := DispatchedPayload{
		CampaignID: c.ID,
		Campaign:   c.Name,
		Recipients: recipients,
		SentAt:     at,
	}
	if err := p.pub.Publish(RoutingKeyDispatched, payload); err != nil {
		p.logger.Warn("Failed to publish dispatch event",
			zap.Int("campaign_id", c.ID),
			zap.Error(err),
		)
	}
}

func (p *Publisher) DispatchFailed(c model.Campaign, kind, message string, at time.Time) {
	payload := FailedPayload{
		CampaignID: c.ID,
		Campaign:   c.Name,
		Kind:       kind,
		Error:      message,
		FailedAt:   at,
	}
	if err := p.pub.Publish(RoutingKeyFailed, payload); err != nil {
		p.logger.Warn("Failed to publish dispatch failure event",
			zap.Int("campaign_id", c.ID),
			zap.Error(err),
		)
	}
}

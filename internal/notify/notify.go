// Package notify publishes auction events to the message bus.
// Delivery is fire-and-forget: a broker failure is logged and otherwise
// invisible to the request that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/plateauction/apiserver/internal/mq"
	"github.com/plateauction/apiserver/types"
)

const (
	channelBidAccepted    = "bid.accepted"
	channelUserRegistered = "user.registered"

	publishTimeout = 5 * time.Second
)

// Notifier emits auction events over the configured broker.
type Notifier struct {
	bus *mq.MQ
}

func New(bus *mq.MQ) *Notifier {
	return &Notifier{bus: bus}
}

// BidAcceptedEvent is published whenever a bid is accepted, so outbid
// watchers can be notified out of band.
type BidAcceptedEvent struct {
	PlateID     int       `json:"plate_id"`
	PlateNumber string    `json:"plate_number"`
	UserID      int       `json:"user_id"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserRegisteredEvent is published on registration to trigger the
// welcome email.
type UserRegisteredEvent struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// BidAccepted publishes a bid-accepted event.
func (n *Notifier) BidAccepted(ctx context.Context, plate types.Plate, bid types.Bid) {
	n.publish(ctx, channelBidAccepted, BidAcceptedEvent{
		PlateID:     plate.ID,
		PlateNumber: plate.PlateNumber,
		UserID:      bid.UserID,
		Amount:      bid.Amount,
		Timestamp:   bid.UpdatedAt,
	})
}

// UserRegistered publishes a user-registered event.
func (n *Notifier) UserRegistered(ctx context.Context, user types.User) {
	n.publish(ctx, channelUserRegistered, UserRegisteredEvent{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

// publish hands the event to the broker on a separate goroutine so the
// request that produced it never waits on broker I/O. The publish context
// is detached from the request context, which may already be done by the
// time the broker is reached.
func (n *Notifier) publish(_ context.Context, channel string, event any) {
	if n == nil || n.bus == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithField("channel", channel).Error("failed to encode event")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if _, err := n.bus.Publish(ctx, channel, data, nil); err != nil {
			log.WithError(err).WithField("channel", channel).Warn("failed to publish event")
		}
	}()
}

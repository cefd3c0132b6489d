package services

import (
	"context"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go/v7"
)

type LiveFeedConfig struct {
	SubscribeKey string
	UserID       string
	Channel      string
}

// Refresher is what a live-feed message triggers.
type Refresher interface {
	Fetch(ctx context.Context) error
}

// LiveFeed listens on a PubNub channel the backend publishes ticket changes to and
// refetches the ticket list on every message.
type LiveFeed struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	channel  string
	tickets  Refresher
	timeout  time.Duration
	log      *slog.Logger
}

func NewLiveFeed(cfg LiveFeedConfig, tickets Refresher, logger *slog.Logger) *LiveFeed {
	if logger == nil {
		logger = slog.Default()
	}
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.SubscribeKey = cfg.SubscribeKey

	return &LiveFeed{
		pn:       pubnub.NewPubNub(pnCfg),
		listener: pubnub.NewListener(),
		channel:  cfg.Channel,
		tickets:  tickets,
		timeout:  15 * time.Second,
		log:      logger.With("component", "livefeed", "channel", cfg.Channel),
	}
}

// Run subscribes and blocks until ctx is done.
func (f *LiveFeed) Run(ctx context.Context) error {
	f.pn.AddListener(f.listener)
	f.pn.Subscribe().Channels([]string{f.channel}).Execute()
	defer func() {
		f.pn.Unsubscribe().Channels([]string{f.channel}).Execute()
		f.pn.RemoveListener(f.listener)
	}()

	f.process(ctx)
	return nil
}

func (f *LiveFeed) process(ctx context.Context) {
	for {
		select {
		case st := <-f.listener.Status:
			f.logStatus(st)

		case msg := <-f.listener.Message:
			f.log.Debug("ticket change received", "payload", msg.Message)
			fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
			if err := f.tickets.Fetch(fetchCtx); err != nil {
				f.log.Warn("refetch after live update failed", "error", err)
			}
			cancel()

		case <-ctx.Done():
			f.log.Info("live feed stopped")
			return
		}
	}
}

func (f *LiveFeed) logStatus(st *pubnub.PNStatus) {
	if st == nil {
		return
	}
	switch st.Category {
	case pubnub.PNConnectedCategory:
		f.log.Info("connected to pubnub")
	case pubnub.PNReconnectedCategory:
		f.log.Info("reconnected to pubnub")
	case pubnub.PNDisconnectedCategory:
		f.log.Warn("disconnected from pubnub")
	case pubnub.PNAccessDeniedCategory:
		f.log.Error("pubnub access denied")
	case pubnub.PNReconnectionAttemptsExhausted:
		f.log.Error("pubnub reconnection attempts exhausted")
	case pubnub.PNTimeoutCategory, pubnub.PNBadRequestCategory:
		f.log.Warn("pubnub request failed", "category", st.Category)
	default:
		f.log.Debug("pubnub status", "category", st.Category)
	}
}

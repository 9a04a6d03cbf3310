package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/evhome/wallbox-csms/internal/service"
	"github.com/evhome/wallbox-csms/internal/state"
)

const (
	stateSubject   = "wallbox.state"
	commandTimeout = 2 * time.Minute
)

// Bridge mirrors session state onto NATS and serves command requests from
// NATS subjects, so non-HTTP collaborators can drive the wallbox.
type Bridge struct {
	conn    *nats.Conn
	store   *state.Store
	charger *service.Charger
}

// NewBridge connects to the NATS server at url.
func NewBridge(url string, store *state.Store, charger *service.Charger) (*Bridge, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.WithField("url", url).Info("NATS bridge connected")
	return &Bridge{conn: conn, store: store, charger: charger}, nil
}

// Run publishes a snapshot on every state change and serves the command
// subjects until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	subs, err := b.subscribeCommands()
	if err != nil {
		return err
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-b.store.Updates():
			b.publishState(snap)
		}
	}
}

// Close drains and closes the NATS connection.
func (b *Bridge) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}

func (b *Bridge) publishState(snap state.Session) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.WithError(err).Error("Failed to marshal session snapshot")
		return
	}
	if err := b.conn.Publish(stateSubject, payload); err != nil {
		log.WithError(err).Warn("Failed to publish session snapshot")
	}
}

func (b *Bridge) subscribeCommands() ([]*nats.Subscription, error) {
	commands := map[string]func(context.Context) service.Result{
		"wallbox.cmd.start":            b.charger.StartCharging,
		"wallbox.cmd.stop":             b.charger.StopCharging,
		"wallbox.cmd.pause":            b.charger.PauseCharging,
		"wallbox.cmd.reset":            b.charger.ResetWallbox,
		"wallbox.cmd.start_with_reset": b.charger.StartChargingWithReset,
	}

	var subs []*nats.Subscription
	for subject, run := range commands {
		run := run
		sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			go b.reply(msg, run)
		})
		if err != nil {
			return subs, err
		}
		subs = append(subs, sub)
	}

	resumeSub, err := b.conn.Subscribe("wallbox.cmd.resume", func(msg *nats.Msg) {
		var req struct {
			Amps float64 `json:"amps"`
		}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				log.WithError(err).Warn("Invalid resume command payload")
			}
		}
		go b.reply(msg, func(ctx context.Context) service.Result {
			return b.charger.ResumeCharging(ctx, req.Amps)
		})
	})
	if err != nil {
		return subs, err
	}
	subs = append(subs, resumeSub)

	return subs, nil
}

func (b *Bridge) reply(msg *nats.Msg, run func(context.Context) service.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	res := run(ctx)
	if msg.Reply == "" {
		return
	}

	payload, err := json.Marshal(res)
	if err != nil {
		log.WithError(err).Error("Failed to marshal command result")
		return
	}
	if err := msg.Respond(payload); err != nil {
		log.WithError(err).Warn("Failed to respond to command request")
	}
}

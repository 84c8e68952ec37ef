// Package daemon assembles the sync core for one profile and manages its
// lifecycle.
package daemon

import (
	"context"
	"encoding/json"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/beep-chat/beep/internal/api"
	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/channel"
	"github.com/beep-chat/beep/internal/config"
	"github.com/beep-chat/beep/internal/convo"
	"github.com/beep-chat/beep/internal/lock"
	"github.com/beep-chat/beep/internal/logging"
	"github.com/beep-chat/beep/internal/model"
	"github.com/beep-chat/beep/internal/presence"
	"github.com/beep-chat/beep/internal/roster"
	"github.com/beep-chat/beep/internal/session"
	"github.com/beep-chat/beep/internal/status"
	"github.com/beep-chat/beep/internal/tracker"
	"github.com/beep-chat/beep/internal/typing"
)

// Params carries the startup inputs resolved by the command line.
type Params struct {
	Profile string
	Config  *config.Config
}

// Module wires the sync core.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.Supply(p),
		fx.Provide(
			newLogger,
			bus.New,
			status.NewMachine,
			newLock,
			newAPIClient,
			newChannel,
			newTracker,
			newConvo,
			newPresence,
			newTyping,
			newRoster,
		),
		fx.Invoke(registerLifecycle),
	)
}

func newLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func newLock(p Params) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return lock.Acquire(session.Dir(p.Profile))
}

func newAPIClient(p Params, logger *zap.Logger) *api.Client {
	c := api.New(p.Config.APIURL, logger)
	if p.Config.Credentials.Token != "" {
		c.SetCredential(p.Config.Credentials.Token, p.Config.Credentials.UserID)
	}
	return c
}

func newChannel(p Params, m *status.Machine, b *bus.Bus, logger *zap.Logger) *channel.Session {
	return channel.New(p.Config.ChannelURL, p.Config.Credentials.Token, m, b, logger)
}

func newTracker(p Params, c *api.Client, ch *channel.Session, b *bus.Bus, logger *zap.Logger) *tracker.Tracker {
	return tracker.New(c, ch, b, logger,
		p.Config.Credentials.Username, p.Config.Preferences.ReadReceipts)
}

func newConvo(p Params, c *api.Client, ch *channel.Session, tr *tracker.Tracker, b *bus.Bus, logger *zap.Logger) *convo.Sync {
	return convo.New(c, ch, tr, b, logger, p.Config.Preferences.ReadReceipts)
}

func newPresence(c *api.Client, ch *channel.Session, b *bus.Bus, logger *zap.Logger) *presence.Cache {
	return presence.New(c, ch, b, logger)
}

func newTyping(p Params, ch *channel.Session, cv *convo.Sync, b *bus.Bus, logger *zap.Logger) *typing.Signal {
	return typing.New(ch, cv, b, logger, p.Config.Preferences.TypingIndicators)
}

func newRoster(c *api.Client, cv *convo.Sync, pc *presence.Cache, b *bus.Bus, logger *zap.Logger) *roster.Roster {
	return roster.New(c, cv, pc, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	lk *lock.Lock,
	ch *channel.Session,
	tr *tracker.Tracker,
	cv *convo.Sync,
	pc *presence.Cache,
	tp *typing.Signal,
	rs *roster.Roster,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			tr.Bind(cv)
			routeEvents(ch, tr, tp, pc, logger)
			cv.Start()
			pc.Start()
			rs.Start(context.Background())
			go ch.Connect(context.Background())
			logger.Info("sync core started")
			return nil
		},
		OnStop: func(context.Context) error {
			rs.Stop()
			pc.Stop()
			cv.Stop()
			ch.Close()
			logger.Info("sync core stopped")
			_ = logger.Sync()
			return lk.Release()
		},
	})
}

// routeEvents binds the channel's named server events to the engines that
// consume them.
func routeEvents(ch *channel.Session, tr *tracker.Tracker, tp *typing.Signal, pc *presence.Cache, logger *zap.Logger) {
	ch.On("message:new", func(data json.RawMessage) {
		var evt model.NewMessageEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Debug("bad message:new payload", zap.Error(err))
			return
		}
		tr.HandleIncoming(evt)
	})
	ch.On("message:status", func(data json.RawMessage) {
		var evt model.StatusEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Debug("bad message:status payload", zap.Error(err))
			return
		}
		tr.ApplyStatusEvent(evt.MessageID, evt.Status)
	})
	ch.On("message:read", func(data json.RawMessage) {
		var evt model.ReadReceipt
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Debug("bad message:read payload", zap.Error(err))
			return
		}
		if evt.MessageID != "" {
			tr.ApplyStatusEvent(evt.MessageID, model.StatusRead)
		}
		for _, id := range evt.MessageIDs {
			tr.ApplyStatusEvent(id, model.StatusRead)
		}
	})
	ch.On("user:typing", func(data json.RawMessage) {
		var evt model.TypingEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Debug("bad user:typing payload", zap.Error(err))
			return
		}
		tp.HandleRemote(evt)
	})
	ch.On("user:status", func(data json.RawMessage) {
		var rec model.PresenceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Debug("bad user:status payload", zap.Error(err))
			return
		}
		pc.ApplyUpdate(rec)
	})
	ch.On("user:status:batch", func(data json.RawMessage) {
		var recs []model.PresenceRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			logger.Debug("bad user:status:batch payload", zap.Error(err))
			return
		}
		pc.ApplyBatch(recs)
	})
}

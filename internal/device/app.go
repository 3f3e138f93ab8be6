// Package device assembles the daemon: it wires the config, the relay
// transport, the session coordinator, and the local audio and indicator
// hardware stand-ins together and pumps events between them.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/talkiebox/talkie/internal/config"
	"github.com/talkiebox/talkie/internal/session"
	"github.com/talkiebox/talkie/internal/transport"
)

// App is a running device daemon.
type App struct {
	log      *slog.Logger
	cfgPath  string
	audioDir string

	coord     *session.Coordinator
	transport *transport.Client

	mu       sync.Mutex
	friends  []config.Friend
	byRemote map[string]string // remote device id -> local friend id
}

// Run starts the daemon from a config file and blocks until the context is
// cancelled.
func Run(ctx context.Context, cfgPath string) error {
	cfg, err := config.LoadDevice(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	app := &App{
		log:      slog.Default().With("component", "device"),
		cfgPath:  cfgPath,
		audioDir: cfg.AudioDir(),
	}
	app.setFriends(cfg.Friends)

	app.transport = transport.New(transport.Config{
		HubURL:     cfg.HubURL,
		DeviceID:   cfg.DeviceID,
		DeviceName: cfg.DeviceName,
		FriendIDs:  app.remoteIDs,
	})

	app.coord = session.New(session.Options{
		Friends:    sessionFriends(cfg.Friends),
		Audio:      NewFileAudio(app.audioDir),
		Transport:  app.transport,
		Indicators: NewConsoleIndicators(),
		StatePath:  cfg.StatePath(),
	})

	app.log.Info("device starting",
		"device_id", cfg.DeviceID,
		"hub", cfg.HubURL,
		"friends", len(cfg.Friends))

	app.transport.Start(ctx)
	defer app.transport.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.coord.Run(ctx)
		return nil
	})
	g.Go(func() error {
		app.pumpTransport(ctx)
		return nil
	})
	g.Go(func() error {
		return config.Watch(ctx, cfgPath, app.onConfigReload)
	})
	// Not part of the group: a quiet stdin would block shutdown.
	go ReadKeys(ctx, os.Stdin, app.coord)
	return g.Wait()
}

// pumpTransport translates wire-level events into session events, mapping
// remote device ids onto configured friend ids. Events from devices not in
// the friend list are dropped here.
func (a *App) pumpTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.transport.Events():
			a.handleTransportEvent(ev)
		}
	}
}

func (a *App) handleTransportEvent(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.Registered:
		a.log.Info("registered with hub", "server_time", ev.ServerTime)

	case transport.Disconnected:
		a.coord.Dispatch(session.ConnectionLost{})

	case transport.PresenceSnapshot:
		online := make([]string, 0, len(ev.OnlineIDs))
		for _, remoteID := range ev.OnlineIDs {
			if friendID, ok := a.friendFor(remoteID); ok {
				online = append(online, friendID)
			}
		}
		a.coord.Dispatch(session.PresenceSnapshot{OnlineFriendIDs: online})

	case transport.PeerOnline:
		if friendID, ok := a.friendFor(ev.DeviceID); ok {
			a.coord.Dispatch(session.FriendPresenceChanged{FriendID: friendID, Online: true})
		}

	case transport.PeerOffline:
		if friendID, ok := a.friendFor(ev.DeviceID); ok {
			a.coord.Dispatch(session.FriendPresenceChanged{FriendID: friendID, Online: false})
		}

	case transport.VoiceMessageReceived:
		a.onVoiceMessage(ev)

	case transport.MessageHeardAck:
		if friendID, ok := a.friendFor(ev.ListenerID); ok {
			a.coord.Dispatch(session.MessageHeardAck{FriendID: friendID, MessageID: ev.MessageID})
		}

	case transport.RecordingStarted:
		if friendID, ok := a.friendFor(ev.SenderID); ok {
			a.coord.Dispatch(session.PeerRecordingStarted{FriendID: friendID})
		}

	case transport.RecordingStopped:
		if friendID, ok := a.friendFor(ev.SenderID); ok {
			a.coord.Dispatch(session.PeerRecordingStopped{FriendID: friendID})
		}

	case transport.Delivered:
		if friendID, ok := a.friendFor(ev.RecipientID); ok {
			a.coord.Dispatch(session.DeliveryConfirmed{FriendID: friendID, MessageID: ev.MessageID})
		}

	case transport.RecipientOffline:
		if friendID, ok := a.friendFor(ev.RecipientID); ok {
			a.coord.Dispatch(session.DeliveryFailed{FriendID: friendID, MessageID: ev.MessageID})
		}
	}
}

// onVoiceMessage writes the clip to local storage before the coordinator
// ever sees it; the session layer only deals in file references.
func (a *App) onVoiceMessage(ev transport.VoiceMessageReceived) {
	friendID, ok := a.friendFor(ev.SenderID)
	if !ok {
		a.log.Warn("voice message from unknown device", "sender", ev.SenderID)
		return
	}

	path := filepath.Join(a.audioDir, fmt.Sprintf("%s.wav", ev.MessageID))
	if err := os.WriteFile(path, ev.Audio, 0o644); err != nil {
		a.log.Error("failed to store received audio", "error", err)
		return
	}

	a.coord.Dispatch(session.MessageArrived{
		FriendID:  friendID,
		MessageID: ev.MessageID,
		AudioRef:  path,
		Timestamp: ev.Timestamp,
	})
}

// onConfigReload applies a rewritten friend list. The new remote-id set is
// picked up by the hub at the next reconnect; locally it applies at once.
func (a *App) onConfigReload(cfg *config.Device) {
	a.setFriends(cfg.Friends)
	a.coord.Dispatch(session.FriendsReloaded{Friends: sessionFriends(cfg.Friends)})
}

func (a *App) setFriends(friends []config.Friend) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.friends = friends
	a.byRemote = make(map[string]string, len(friends))
	for _, f := range friends {
		a.byRemote[f.DeviceID] = f.ID
	}
}

func (a *App) friendFor(remoteID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byRemote[remoteID]
	return id, ok
}

func (a *App) remoteIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.friends))
	for _, f := range a.friends {
		ids = append(ids, f.DeviceID)
	}
	return ids
}

func sessionFriends(friends []config.Friend) []session.Friend {
	out := make([]session.Friend, 0, len(friends))
	for _, f := range friends {
		out = append(out, session.Friend{ID: f.ID, Name: f.Name, RemoteID: f.DeviceID})
	}
	return out
}

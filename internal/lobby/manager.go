// Package lobby owns the authoritative client and game state. A single
// Manager goroutine applies intents in arrival order and fans the resulting
// events out to subscribers.
package lobby

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/observability"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrStopped       = errors.New("lobby: manager stopped")
	ErrUnknownClient = errors.New("lobby: unknown client")
	ErrEmptyNotice   = errors.New("lobby: notice text is empty")
	ErrNoticeTooLong = errors.New("lobby: notice text too long")
	ErrUnknownOp     = errors.New("lobby: unknown command")
)

const maxNoticeLen = 0xFFFF

// Lobby manager tuning.
type Config struct {
	GraceWindow time.Duration
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		GraceWindow: 60 * time.Second,
		EventBuffer: 64,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.GraceWindow <= 0 {
		c.GraceWindow = d.GraceWindow
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// Manager is the single writer of lobby state. Everything outside Run talks
// to it through Submit, Subscribe, Command and Snapshot.
type Manager struct {
	cfg      Config
	now      func() time.Time
	intake   chan Intent
	done     chan struct{}
	snapshot atomic.Pointer[Snapshot]
	logger   zerolog.Logger

	// owned by Run
	clients *ClientRegistry
	games   *GameRegistry
	grace   *graceTracker
	subs    map[uint64]chan Event
	nextSub uint64
	outbox  []Event
}

func NewManager(cfg Config) *Manager {
	cfg = cfg.WithDefaults()
	m := &Manager{
		cfg:     cfg,
		now:     time.Now,
		intake:  make(chan Intent, 256),
		done:    make(chan struct{}),
		logger:  log.With().Str("component", "lobby").Logger(),
		clients: NewClientRegistry(),
		games:   NewGameRegistry(),
		subs:    make(map[uint64]chan Event),
	}
	m.grace = newGraceTracker(m.intake)
	m.snapshot.Store(&Snapshot{TakenAt: m.now()})
	return m
}

// Run applies intents until ctx is cancelled. Subscriber channels are
// closed on return.
func (m *Manager) Run(ctx context.Context) error {
	graceCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.grace.run(graceCtx)
	}()
	defer func() {
		cancel()
		wg.Wait()
		for id, ch := range m.subs {
			close(ch)
			delete(m.subs, id)
		}
		close(m.done)
	}()

	m.logger.Info().Dur("grace_window", m.cfg.GraceWindow).Msg("lobby.Manager.Run started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("lobby.Manager.Run stopped")
			return nil
		case in := <-m.intake:
			m.apply(in)
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Submit queues an intent. It blocks while the intake is full.
func (m *Manager) Submit(ctx context.Context, in Intent) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.intake <- in:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscription receives every event committed after it was registered.
type Subscription struct {
	id   uint64
	C    <-chan Event
	m    *Manager
	once sync.Once
}

func (m *Manager) Subscribe(ctx context.Context) (*Subscription, error) {
	reply := make(chan *Subscription, 1)
	if err := m.Submit(ctx, subscribe{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case sub := <-reply:
		return sub, nil
	case <-m.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches the subscription; its channel is closed by the manager.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.m.intake <- unsubscribe{id: s.id}:
		case <-s.m.done:
		}
	})
}

// Command runs an operator action and waits for its outcome.
func (m *Manager) Command(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	cmd.Reply = reply
	if err := m.Submit(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the lobby as of the last applied intent.
func (m *Manager) Snapshot() Snapshot {
	return *m.snapshot.Load()
}

func (m *Manager) apply(in Intent) {
	switch in := in.(type) {
	case subscribe:
		m.nextSub++
		ch := make(chan Event, m.cfg.EventBuffer)
		m.subs[m.nextSub] = ch
		in.reply <- &Subscription{id: m.nextSub, C: ch, m: m}
		return
	case unsubscribe:
		if ch, ok := m.subs[in.id]; ok {
			close(ch)
			delete(m.subs, in.id)
		}
		return
	}

	now := m.now()
	switch in := in.(type) {
	case Connected:
		ev := m.connect(in, now)
		defer func() {
			if in.Reply != nil {
				in.Reply <- ev
			}
		}()
	case Disconnected:
		m.disconnect(in)
	case ConnectionInterrupt:
		m.interrupt(in, now)
	case Chat:
		m.chat(in)
	case GameCreation:
		m.createGame(in)
	case GameDeletion:
		m.deleteGame(in)
	case GameEntry:
		m.enterGame(in)
	case GameExit:
		m.exitGame(in)
	case GameWorld:
		m.shareWorld(in)
	case Command:
		err := m.command(in)
		defer func() {
			if in.Reply != nil {
				in.Reply <- err
			}
		}()
	}
	observability.RecordIntent(in.kind())
	m.publishSnapshot(now)
	m.flush()
}

func (m *Manager) connect(in Connected, now time.Time) Event {
	id, res, err := m.clients.Add(in.Name, in.Addr)
	if err != nil {
		m.logger.Warn().Err(err).Str("addr", in.Addr.String()).Msg("lobby.connect registry full")
		ev := Event{Kind: EventDenied, Origin: in.Addr, Token: in.Token, Reason: "lobby is full"}
		m.publish(ev)
		return ev
	}
	var ev Event
	switch res {
	case Added:
		c, _ := m.clients.Client(id, now)
		m.logger.Info().Uint16("client_id", id).Str("name", in.Name).Str("addr", in.Addr.String()).Msg("lobby.connect added")
		ev = Event{
			Kind:       EventConnected,
			Origin:     in.Addr,
			Token:      in.Token,
			ClientID:   id,
			Update:     message.ClientConnected{Client: c},
			SkipOrigin: true,
		}
	case Reconnected:
		m.grace.Disarm(in.Addr)
		m.logger.Info().Uint16("client_id", id).Str("addr", in.Addr.String()).Msg("lobby.connect resumed")
		ev = Event{
			Kind:       EventReconnected,
			Origin:     in.Addr,
			Token:      in.Token,
			ClientID:   id,
			Update:     message.ClientReconnected{ClientID: id},
			SkipOrigin: true,
		}
	default:
		m.logger.Warn().Uint16("client_id", id).Str("addr", in.Addr.String()).Msg("lobby.connect multi-connect denied")
		ev = Event{
			Kind:     EventDenied,
			Origin:   in.Addr,
			Token:    in.Token,
			ClientID: id,
			Reason:   "a client from this address is already connected",
		}
	}
	m.publish(ev)
	return ev
}

func (m *Manager) disconnect(in Disconnected) {
	id, ok := m.clients.Lookup(in.Addr)
	if !ok {
		return
	}
	if in.Expired && m.clients.IsActive(id) {
		return
	}
	if !in.Expired {
		m.grace.Disarm(in.Addr)
	}
	m.logger.Info().Uint16("client_id", id).Bool("expired", in.Expired).Msg("lobby.disconnect")
	m.dropClient(id, in.Addr)
}

func (m *Manager) interrupt(in ConnectionInterrupt, now time.Time) {
	id, ok := m.clients.Inactivate(in.Addr, now)
	if !ok {
		return
	}
	m.grace.Arm(in.Addr, now.Add(m.cfg.GraceWindow))
	m.logger.Info().Uint16("client_id", id).Str("addr", in.Addr.String()).Msg("lobby.interrupt grace window started")
	m.publish(Event{
		Kind:       EventInterrupted,
		Origin:     in.Addr,
		ClientID:   id,
		Update:     message.ClientInterrupted{ClientID: id},
		SkipOrigin: true,
	})
}

func (m *Manager) chat(in Chat) {
	id, ok := m.sender(in.Addr, "chat")
	if !ok {
		return
	}
	var recipients []uint16
	if in.GameOnly {
		gameID, inGame := m.games.GameOf(id)
		if !inGame {
			m.reject(id, in.Addr, ErrNotInGame)
			return
		}
		recipients = m.games.Members(gameID)
	}
	m.publish(Event{
		Kind:       EventChat,
		Origin:     in.Addr,
		ClientID:   id,
		Update:     message.ChatPosted{Sender: id, Content: in.Content, GameOnly: in.GameOnly},
		Recipients: recipients,
	})
}

func (m *Manager) createGame(in GameCreation) {
	id, ok := m.sender(in.Addr, "game_creation")
	if !ok {
		return
	}
	gameID, err := m.games.Add(id, in.Name, in.MaxPlayers, in.Password)
	if err != nil {
		m.reject(id, in.Addr, err)
		return
	}
	m.clients.SetInGame(id, true)
	g, _ := m.games.Game(gameID)
	m.logger.Info().Uint16("game_id", gameID).Uint16("host_id", id).Str("name", in.Name).Msg("lobby.createGame")
	m.publish(Event{
		Kind:     EventGameCreated,
		Origin:   in.Addr,
		ClientID: id,
		GameID:   gameID,
		Update:   message.GameCreated{Game: g},
	})
}

func (m *Manager) deleteGame(in GameDeletion) {
	id, ok := m.sender(in.Addr, "game_deletion")
	if !ok {
		return
	}
	gameID, hosts := m.games.HostedBy(id)
	if !hosts {
		m.reject(id, in.Addr, ErrNotHost)
		return
	}
	m.closeGame(gameID, in.Addr)
}

func (m *Manager) enterGame(in GameEntry) {
	id, ok := m.sender(in.Addr, "game_entry")
	if !ok {
		return
	}
	if err := m.games.Enter(in.GameID, id, in.Password); err != nil {
		m.reject(id, in.Addr, err)
		return
	}
	m.clients.SetInGame(id, true)
	m.publish(Event{
		Kind:     EventGameEntered,
		Origin:   in.Addr,
		ClientID: id,
		GameID:   in.GameID,
		Update:   message.GameEntered{ClientID: id, GameID: in.GameID},
	})
}

func (m *Manager) exitGame(in GameExit) {
	id, ok := m.sender(in.Addr, "game_exit")
	if !ok {
		return
	}
	if gameID, hosts := m.games.HostedBy(id); hosts {
		m.closeGame(gameID, in.Addr)
		return
	}
	gameID, err := m.games.Exit(id)
	if err != nil {
		m.reject(id, in.Addr, err)
		return
	}
	m.clients.SetInGame(id, false)
	m.publish(Event{
		Kind:     EventGameExited,
		Origin:   in.Addr,
		ClientID: id,
		GameID:   gameID,
		Update:   message.GameExited{ClientID: id, GameID: gameID},
	})
}

func (m *Manager) shareWorld(in GameWorld) {
	id, ok := m.sender(in.Addr, "game_world")
	if !ok {
		return
	}
	gameID, hosts := m.games.HostedBy(id)
	if !hosts {
		m.reject(id, in.Addr, ErrNotHost)
		return
	}
	members := m.games.Members(gameID)
	recipients := make([]uint16, 0, len(members))
	for _, member := range members {
		if member != id {
			recipients = append(recipients, member)
		}
	}
	m.publish(Event{
		Kind:       EventWorldShared,
		Origin:     in.Addr,
		ClientID:   id,
		GameID:     gameID,
		Update:     message.WorldShared{HostID: id, Scene: in.Scene},
		Recipients: recipients,
		SkipOrigin: true,
	})
}

func (m *Manager) command(in Command) error {
	switch in.Op {
	case KickClient:
		addr, ok := m.clients.Addr(in.ClientID)
		if !ok {
			return ErrUnknownClient
		}
		m.grace.Disarm(addr)
		m.logger.Warn().Uint16("client_id", in.ClientID).Msg("lobby.command kick")
		m.dropClient(in.ClientID, addr)
		return nil
	case CloseGame:
		if _, ok := m.games.Game(in.GameID); !ok {
			return ErrGameNotFound
		}
		m.logger.Warn().Uint16("game_id", in.GameID).Msg("lobby.command close game")
		m.closeGame(in.GameID, netip.Addr{})
		return nil
	case PostNotice:
		if in.Text == "" {
			return ErrEmptyNotice
		}
		if len(in.Text) > maxNoticeLen {
			return ErrNoticeTooLong
		}
		m.publish(Event{Kind: EventNotice, Update: message.Notice{Text: in.Text}})
		return nil
	default:
		return ErrUnknownOp
	}
}

// sender resolves the live client behind a request. Requests from addresses
// without an active session are dropped.
func (m *Manager) sender(addr netip.Addr, kind string) (uint16, bool) {
	id, ok := m.clients.ActiveID(addr)
	if !ok {
		m.logger.Debug().Str("addr", addr.String()).Str("intent", kind).Msg("lobby.sender no active session")
	}
	return id, ok
}

// dropClient tears down game membership before freeing the id.
func (m *Manager) dropClient(id uint16, addr netip.Addr) {
	if gameID, hosts := m.games.HostedBy(id); hosts {
		m.closeGame(gameID, addr)
	} else if gameID, err := m.games.Exit(id); err == nil {
		m.publish(Event{
			Kind:     EventGameExited,
			Origin:   addr,
			ClientID: id,
			GameID:   gameID,
			Update:   message.GameExited{ClientID: id, GameID: gameID},
		})
	}
	m.clients.Remove(addr)
	m.publish(Event{
		Kind:     EventDisconnected,
		Origin:   addr,
		ClientID: id,
		Update:   message.ClientDisconnected{ClientID: id},
	})
}

func (m *Manager) closeGame(gameID uint16, origin netip.Addr) {
	g, ok := m.games.RemoveByID(gameID)
	if !ok {
		return
	}
	for _, member := range g.Members {
		m.clients.SetInGame(member, false)
	}
	m.logger.Info().Uint16("game_id", gameID).Uint16("host_id", g.HostID).Msg("lobby.closeGame")
	m.publish(Event{
		Kind:     EventGameDeleted,
		Origin:   origin,
		ClientID: g.HostID,
		GameID:   gameID,
		Update:   message.GameDeleted{GameID: gameID},
	})
}

func (m *Manager) reject(id uint16, addr netip.Addr, err error) {
	reason := err.Error()
	if len(reason) > 0xFF {
		reason = reason[:0xFF]
	}
	m.publish(Event{
		Kind:       EventRejected,
		Origin:     addr,
		ClientID:   id,
		Update:     message.Rejected{Reason: reason},
		Recipients: []uint16{id},
	})
}

// publish queues ev until the snapshot for the current intent is stored.
func (m *Manager) publish(ev Event) {
	m.outbox = append(m.outbox, ev)
}

// flush never blocks: a full subscriber queue loses the event.
func (m *Manager) flush() {
	for _, ev := range m.outbox {
		for id, ch := range m.subs {
			select {
			case ch <- ev:
			default:
				observability.RecordEventDropped()
				m.logger.Warn().Uint64("subscriber", id).Str("event", ev.Kind.String()).Msg("lobby.flush subscriber queue full")
			}
		}
	}
	clear(m.outbox)
	m.outbox = m.outbox[:0]
}

func (m *Manager) publishSnapshot(now time.Time) {
	snap := &Snapshot{
		Lobby: message.Lobby{
			Clients: m.clients.Clients(now),
			Games:   m.games.Games(),
		},
		TakenAt: now,
	}
	m.snapshot.Store(snap)
	active, idle := m.clients.Counts()
	observability.SetLobbySize(active, idle, m.games.Len())
}

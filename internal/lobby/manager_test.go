package lobby

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/testutil/testlog"
	"github.com/google/uuid"
)

const waitTimeout = 2 * time.Second

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(waitTimeout):
			t.Errorf("manager did not stop")
		}
	})
	return m
}

func mustSubscribe(t *testing.T, m *Manager) *Subscription {
	t.Helper()
	sub, err := m.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(sub.Close)
	return sub
}

func submit(t *testing.T, m *Manager, in Intent) {
	t.Helper()
	if err := m.Submit(context.Background(), in); err != nil {
		t.Fatalf("submit %T: %v", in, err)
	}
}

// waitFor skips events until one of kind arrives.
func waitFor(t *testing.T, sub *Subscription, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func connect(t *testing.T, m *Manager, sub *Subscription, name string, addr netip.Addr) uint16 {
	t.Helper()
	token := uuid.New()
	submit(t, m, Connected{Addr: addr, Name: name, Token: token})
	ev := waitFor(t, sub, EventConnected)
	if ev.Token != token {
		t.Fatalf("event token mismatch")
	}
	return ev.ClientID
}

func TestFirstClientGetsIDZeroAndEmptyLobby(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)

	id := connect(t, m, sub, "Jon", addrA)
	if id != 0 {
		t.Fatalf("expected id 0, got %d", id)
	}
	snap := m.Snapshot()
	if len(snap.Lobby.Clients) != 1 || snap.Lobby.Clients[0].Name != "Jon" {
		t.Fatalf("snapshot missing client: %+v", snap.Lobby)
	}
	seen := snap.Without(id)
	if len(seen.Clients) != 0 || len(seen.Games) != 0 {
		t.Fatalf("expected empty lobby for the new client, got %+v", seen)
	}
}

func TestGameCreationAndEntryBroadcast(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)
	host := connect(t, m, sub, "a", addrA)
	guest := connect(t, m, sub, "b", addrB)

	submit(t, m, GameCreation{Addr: addrA, Name: "arena", MaxPlayers: 4})
	ev := waitFor(t, sub, EventGameCreated)
	created, ok := ev.Update.(message.GameCreated)
	if !ok || created.Game.Name != "arena" || created.Game.HostID != host {
		t.Fatalf("unexpected creation update %#v", ev.Update)
	}
	if !ev.DeliverTo(guest) || !ev.DeliverTo(host) {
		t.Fatalf("creation should reach every client")
	}

	submit(t, m, GameEntry{Addr: addrB, GameID: created.Game.ID})
	ev = waitFor(t, sub, EventGameEntered)
	entered := ev.Update.(message.GameEntered)
	if entered.ClientID != guest || entered.GameID != created.Game.ID {
		t.Fatalf("unexpected entry update %+v", entered)
	}
	if !ev.DeliverTo(host) {
		t.Fatalf("host must see the entry")
	}

	for _, c := range m.Snapshot().Lobby.Clients {
		if !c.InGame {
			t.Fatalf("client %d should be in game", c.ID)
		}
	}
}

func TestRejectedRequestReachesOnlyRequester(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)
	a := connect(t, m, sub, "a", addrA)
	b := connect(t, m, sub, "b", addrB)

	submit(t, m, GameEntry{Addr: addrA, GameID: 9})
	ev := waitFor(t, sub, EventRejected)
	if !ev.DeliverTo(a) || ev.DeliverTo(b) {
		t.Fatalf("rejection leaked to other clients")
	}
	if ev.Update.(message.Rejected).Reason != ErrGameNotFound.Error() {
		t.Fatalf("unexpected reason %q", ev.Update.(message.Rejected).Reason)
	}
}

func TestGameOnlyChatAndWorldRecipients(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)
	host := connect(t, m, sub, "h", addrA)
	member := connect(t, m, sub, "m", addrB)
	outsider := connect(t, m, sub, "o", addrC)

	submit(t, m, GameCreation{Addr: addrA, Name: "g"})
	gameID := waitFor(t, sub, EventGameCreated).GameID
	submit(t, m, GameEntry{Addr: addrB, GameID: gameID})
	waitFor(t, sub, EventGameEntered)

	submit(t, m, Chat{Addr: addrB, Content: "hi team", GameOnly: true})
	ev := waitFor(t, sub, EventChat)
	if !ev.DeliverTo(host) || !ev.DeliverTo(member) || ev.DeliverTo(outsider) {
		t.Fatalf("game chat recipients wrong: %v", ev.Recipients)
	}

	submit(t, m, GameWorld{Addr: addrA, Scene: "{}"})
	ev = waitFor(t, sub, EventWorldShared)
	if ev.DeliverTo(host) || !ev.DeliverTo(member) || ev.DeliverTo(outsider) {
		t.Fatalf("world recipients wrong: %v", ev.Recipients)
	}

	submit(t, m, GameWorld{Addr: addrB, Scene: "{}"})
	if ev := waitFor(t, sub, EventRejected); ev.ClientID != member {
		t.Fatalf("non-host world share should be rejected for %d", member)
	}
}

func TestHostDisconnectDeletesGame(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)
	host := connect(t, m, sub, "h", addrA)
	member := connect(t, m, sub, "m", addrB)
	submit(t, m, GameCreation{Addr: addrA, Name: "g"})
	gameID := waitFor(t, sub, EventGameCreated).GameID
	submit(t, m, GameEntry{Addr: addrB, GameID: gameID})
	waitFor(t, sub, EventGameEntered)

	submit(t, m, Disconnected{Addr: addrA})
	if ev := waitFor(t, sub, EventGameDeleted); ev.GameID != gameID {
		t.Fatalf("expected game %d deleted, got %d", gameID, ev.GameID)
	}
	if ev := waitFor(t, sub, EventDisconnected); ev.ClientID != host {
		t.Fatalf("expected host %d disconnected, got %d", host, ev.ClientID)
	}
	snap := m.Snapshot()
	if len(snap.Lobby.Games) != 0 || len(snap.Lobby.Clients) != 1 {
		t.Fatalf("unexpected lobby after host left: %+v", snap.Lobby)
	}
	if c := snap.Lobby.Clients[0]; c.ID != member || c.InGame {
		t.Fatalf("member should be back in lobby: %+v", c)
	}
}

func TestMulticonnectFromSameAddrDenied(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)
	connect(t, m, sub, "a", addrA)

	token := uuid.New()
	submit(t, m, Connected{Addr: addrA, Name: "a2", Token: token})
	ev := waitFor(t, sub, EventDenied)
	if ev.Token != token || ev.Reason == "" {
		t.Fatalf("unexpected denial %+v", ev)
	}
	if len(m.Snapshot().Lobby.Clients) != 1 {
		t.Fatalf("denied attempt must not add a client")
	}
}

func TestReconnectInsideGraceKeepsIDAndMembership(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{GraceWindow: time.Minute})
	sub := mustSubscribe(t, m)
	connect(t, m, sub, "h", addrA)
	member := connect(t, m, sub, "m", addrB)
	submit(t, m, GameCreation{Addr: addrA, Name: "g"})
	gameID := waitFor(t, sub, EventGameCreated).GameID
	submit(t, m, GameEntry{Addr: addrB, GameID: gameID})
	waitFor(t, sub, EventGameEntered)

	submit(t, m, ConnectionInterrupt{Addr: addrB})
	if ev := waitFor(t, sub, EventInterrupted); ev.ClientID != member {
		t.Fatalf("interrupted wrong client %d", ev.ClientID)
	}
	var idle bool
	for _, c := range m.Snapshot().Lobby.Clients {
		if c.ID == member {
			idle = c.Status.Idle
		}
	}
	if !idle {
		t.Fatalf("interrupted client should be idle")
	}

	token := uuid.New()
	submit(t, m, Connected{Addr: addrB, Name: "m", Token: token})
	ev := waitFor(t, sub, EventReconnected)
	if ev.ClientID != member || ev.Token != token {
		t.Fatalf("expected resume of %d, got %+v", member, ev)
	}
	g := m.Snapshot().Lobby.Games[0]
	if len(g.Members) != 2 || g.Members[1] != member {
		t.Fatalf("membership lost across reconnect: %+v", g)
	}
}

func TestGraceExpiryRemovesClientAndRecyclesID(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{GraceWindow: 50 * time.Millisecond})
	sub := mustSubscribe(t, m)
	id := connect(t, m, sub, "gone", addrA)
	connect(t, m, sub, "stays", addrB)

	submit(t, m, ConnectionInterrupt{Addr: addrA})
	waitFor(t, sub, EventInterrupted)
	ev := waitFor(t, sub, EventDisconnected)
	if ev.ClientID != id {
		t.Fatalf("expected %d removed, got %d", id, ev.ClientID)
	}
	if next := connect(t, m, sub, "new", addrC); next != id {
		t.Fatalf("expected recycled id %d, got %d", id, next)
	}
}

func TestStaleExpiryIgnoredAfterReconnect(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)
	id := connect(t, m, sub, "a", addrA)
	submit(t, m, ConnectionInterrupt{Addr: addrA})
	waitFor(t, sub, EventInterrupted)
	submit(t, m, Connected{Addr: addrA, Name: "a", Token: uuid.New()})
	waitFor(t, sub, EventReconnected)

	submit(t, m, Disconnected{Addr: addrA, Expired: true})
	submit(t, m, Chat{Addr: addrA, Content: "still here"})
	ev := waitFor(t, sub, EventChat)
	if ev.ClientID != id {
		t.Fatalf("chat from unexpected client %d", ev.ClientID)
	}
	if len(m.Snapshot().Lobby.Clients) != 1 {
		t.Fatalf("stale expiry removed an active client")
	}
}

func TestCommands(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{})
	sub := mustSubscribe(t, m)
	ctx := context.Background()
	id := connect(t, m, sub, "a", addrA)

	if err := m.Command(ctx, Command{Op: PostNotice, Text: "maintenance"}); err != nil {
		t.Fatalf("notice: %v", err)
	}
	if ev := waitFor(t, sub, EventNotice); !ev.DeliverTo(id) {
		t.Fatalf("notice should reach everyone")
	}
	if err := m.Command(ctx, Command{Op: PostNotice}); !errors.Is(err, ErrEmptyNotice) {
		t.Fatalf("expected ErrEmptyNotice, got %v", err)
	}
	if err := m.Command(ctx, Command{Op: CloseGame, GameID: 3}); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
	if err := m.Command(ctx, Command{Op: KickClient, ClientID: id}); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if ev := waitFor(t, sub, EventDisconnected); !ev.DeliverTo(id) {
		t.Fatalf("kicked client should be told")
	}
	if err := m.Command(ctx, Command{Op: KickClient, ClientID: id}); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}
}

func TestSubscriptionClosedOnShutdown(t *testing.T) {
	testlog.Start(t)
	m := NewManager(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()
	sub, err := m.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(waitTimeout):
		t.Fatalf("subscription not closed")
	}
	<-errCh
	if err := m.Submit(context.Background(), Chat{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	sub.Close()
}

func TestConnectedVerdictRepliedAfterSnapshot(t *testing.T) {
	testlog.Start(t)
	m := startManager(t, Config{EventBuffer: 1})
	addr := netip.MustParseAddr("10.0.0.7")

	// Nobody drains this subscription, so broadcast copies are dropped.
	stalled := mustSubscribe(t, m)
	submit(t, m, Command{Op: PostNotice, Text: "fill"})

	verdict := make(chan Event, 1)
	submit(t, m, Connected{Addr: addr, Name: "jon", Token: uuid.New(), Reply: verdict})
	var ev Event
	select {
	case ev = <-verdict:
	case <-time.After(waitTimeout):
		t.Fatalf("no verdict on reply channel")
	}
	if ev.Kind != EventConnected || ev.ClientID != 0 {
		t.Fatalf("verdict = %+v", ev)
	}
	if clients := m.Snapshot().Lobby.Clients; len(clients) != 1 || clients[0].ID != 0 {
		t.Fatalf("snapshot at verdict time = %+v", clients)
	}

	again := make(chan Event, 1)
	submit(t, m, Connected{Addr: addr, Name: "jon", Token: uuid.New(), Reply: again})
	if ev := <-again; ev.Kind != EventDenied || ev.Reason == "" {
		t.Fatalf("second verdict = %+v", ev)
	}
	_ = stalled
}

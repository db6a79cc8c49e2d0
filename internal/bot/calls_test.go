package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hexlantern/sibyl/pkg/call"
	callmock "github.com/hexlantern/sibyl/pkg/call/mock"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

func newTestManager(transport *callmock.Transport) *CallManager {
	return NewCallManager(CallManagerConfig{
		Transport:      transport,
		SelfID:         "bot-user",
		Format:         stt.FormatWAV,
		SilenceTimeout: 100 * time.Millisecond,
		Fallback:       call.Segment{ID: "fallback", URI: "https://cdn.test/sorry.wav"},
	})
}

// ─── Join ───

func TestCallManagerJoin(t *testing.T) {
	t.Parallel()

	conn := &callmock.Conn{}
	transport := &callmock.Transport{JoinResult: conn}
	cm := newTestManager(transport)

	if err := cm.Join(context.Background(), "guild-1", "vc-1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	if len(transport.JoinCalls) != 1 {
		t.Fatalf("expected 1 transport join, got %d", len(transport.JoinCalls))
	}
	if got := transport.JoinCalls[0]; got.GuildID != "guild-1" || got.ChannelID != "vc-1" {
		t.Fatalf("unexpected join args: %+v", got)
	}

	channelID, ok := cm.ChannelID("guild-1")
	if !ok || channelID != "vc-1" {
		t.Fatalf("ChannelID() = %q, %v; want vc-1, true", channelID, ok)
	}

	// The speaking callback must be wired into the tracker.
	conn.EmitSpeaking("user-1", true)
	conn.EmitSpeaking("user-1", false)
}

func TestCallManagerJoinTwiceErrors(t *testing.T) {
	t.Parallel()

	transport := &callmock.Transport{JoinResult: &callmock.Conn{}}
	cm := newTestManager(transport)

	if err := cm.Join(context.Background(), "guild-1", "vc-1"); err != nil {
		t.Fatalf("first Join() error = %v", err)
	}
	if err := cm.Join(context.Background(), "guild-1", "vc-2"); err == nil {
		t.Fatal("second Join() in the same guild should fail")
	}
	if len(transport.JoinCalls) != 1 {
		t.Fatalf("second join should not reach the transport, got %d calls", len(transport.JoinCalls))
	}
}

// gatedTransport blocks every Join until released, so tests can line up
// concurrent join attempts deterministically.
type gatedTransport struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	conns []*callmock.Conn
}

func (g *gatedTransport) Join(_ context.Context, _, _ string) (call.Conn, error) {
	g.entered <- struct{}{}
	<-g.release
	conn := &callmock.Conn{}
	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.mu.Unlock()
	return conn, nil
}

func TestCallManagerConcurrentJoinsSameGuild(t *testing.T) {
	t.Parallel()

	transport := &gatedTransport{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cm := NewCallManager(CallManagerConfig{
		Transport:      transport,
		SelfID:         "bot-user",
		Format:         stt.FormatWAV,
		SilenceTimeout: 100 * time.Millisecond,
	})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cm.Join(context.Background(), "guild-1", "vc-1")
		}()
	}

	// Wait until both attempts are past the duplicate check and inside the
	// transport, then release them together.
	<-transport.entered
	<-transport.entered
	close(transport.release)
	wg.Wait()
	close(errs)

	var failed int
	for err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one losing join, got %d", failed)
	}

	if _, ok := cm.ChannelID("guild-1"); !ok {
		t.Fatal("winning join should be registered")
	}

	// The loser's connection must be torn down, the winner's kept.
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.conns) != 2 {
		t.Fatalf("expected 2 transport joins, got %d", len(transport.conns))
	}
	var closed int
	for _, conn := range transport.conns {
		closed += conn.CallCountClose
	}
	if closed != 1 {
		t.Fatalf("expected exactly one connection closed, got %d", closed)
	}
}

func TestCallManagerJoinTransportError(t *testing.T) {
	t.Parallel()

	transport := &callmock.Transport{JoinError: errors.New("gateway down")}
	cm := newTestManager(transport)

	if err := cm.Join(context.Background(), "guild-1", "vc-1"); err == nil {
		t.Fatal("Join() should propagate transport errors")
	}
	if _, ok := cm.ChannelID("guild-1"); ok {
		t.Fatal("failed join must not register a call")
	}
}

// ─── Leave ───

func TestCallManagerLeave(t *testing.T) {
	t.Parallel()

	conn := &callmock.Conn{}
	cm := newTestManager(&callmock.Transport{JoinResult: conn})

	if err := cm.Join(context.Background(), "guild-1", "vc-1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := cm.Leave(context.Background(), "guild-1"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}

	if conn.CallCountClose != 1 {
		t.Fatalf("expected connection closed once, got %d", conn.CallCountClose)
	}
	if _, ok := cm.ChannelID("guild-1"); ok {
		t.Fatal("call should be gone after Leave")
	}
	if err := cm.Leave(context.Background(), "guild-1"); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("second Leave() error = %v, want ErrNotInCall", err)
	}
}

func TestCallManagerLeaveUnknownGuild(t *testing.T) {
	t.Parallel()

	cm := newTestManager(&callmock.Transport{JoinResult: &callmock.Conn{}})
	if err := cm.Leave(context.Background(), "guild-9"); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("Leave() error = %v, want ErrNotInCall", err)
	}
}

// ─── Connection loss ───

func TestCallManagerDropsLostConnections(t *testing.T) {
	t.Parallel()

	conn := &callmock.Conn{}
	cm := newTestManager(&callmock.Transport{JoinResult: conn})

	if err := cm.Join(context.Background(), "guild-1", "vc-1"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	conn.EmitClosed()

	if _, ok := cm.ChannelID("guild-1"); ok {
		t.Fatal("lost connection should remove the call")
	}
	// The guild can be joined again afterwards.
	if err := cm.Join(context.Background(), "guild-1", "vc-1"); err != nil {
		t.Fatalf("rejoin after drop error = %v", err)
	}
}

// ─── Shutdown ───

func TestCallManagerShutdown(t *testing.T) {
	t.Parallel()

	connA := &callmock.Conn{}
	connB := &callmock.Conn{}
	transport := &callmock.Transport{JoinResult: connA}
	cm := newTestManager(transport)

	if err := cm.Join(context.Background(), "guild-a", "vc-a"); err != nil {
		t.Fatalf("Join(guild-a) error = %v", err)
	}
	transport.JoinResult = connB
	if err := cm.Join(context.Background(), "guild-b", "vc-b"); err != nil {
		t.Fatalf("Join(guild-b) error = %v", err)
	}

	cm.Shutdown(context.Background())

	if connA.CallCountClose != 1 || connB.CallCountClose != 1 {
		t.Fatalf("expected both connections closed once, got %d and %d",
			connA.CallCountClose, connB.CallCountClose)
	}
	if _, ok := cm.ChannelID("guild-a"); ok {
		t.Fatal("guild-a call should be gone after Shutdown")
	}
	if _, ok := cm.ChannelID("guild-b"); ok {
		t.Fatal("guild-b call should be gone after Shutdown")
	}
}

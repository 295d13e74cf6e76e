package botlink

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testSelfID int64 = 7777

// dropResponse is the sentinel a respond func returns to swallow a
// command without answering, for timeout tests.
var dropResponse = &struct{}{}

// gatewayCall is one command frame as the mock gateway observed it.
type gatewayCall struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   json.RawMessage `json:"echo"`
}

// mockGateway speaks both gateway endpoints: /api answers command frames
// and /event lets tests push notification frames.
type mockGateway struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	tokens    map[string]string
	calls     []gatewayCall
	apiConn   *websocket.Conn
	eventConn *websocket.Conn

	// respond overrides the answer for one call; return nil for the
	// default ok envelope, dropResponse for no answer at all.
	respond func(gatewayCall) any
}

func newMockGateway(t *testing.T, respond func(gatewayCall) any) *mockGateway {
	g := &mockGateway{t: t, tokens: make(map[string]string), respond: respond}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		g.mu.Lock()
		g.tokens[r.URL.Path] = r.URL.Query().Get("access_token")
		g.mu.Unlock()

		switch r.URL.Path {
		case "/api":
			g.mu.Lock()
			g.apiConn = conn
			g.mu.Unlock()
			g.serveAPI(conn)
		case "/event":
			g.mu.Lock()
			g.eventConn = conn
			g.mu.Unlock()
			// Sit in a read loop so close handshakes complete.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		default:
			t.Errorf("unexpected endpoint %q", r.URL.Path)
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *mockGateway) serveAPI(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var call gatewayCall
		if err := json.Unmarshal(data, &call); err != nil {
			g.t.Errorf("bad command frame %s: %v", data, err)
			continue
		}
		g.mu.Lock()
		g.calls = append(g.calls, call)
		respond := g.respond
		g.mu.Unlock()

		var body any
		if respond != nil {
			body = respond(call)
		}
		if body == dropResponse {
			continue
		}
		if body == nil && call.Action == "get_login_info" {
			body = map[string]any{"user_id": testSelfID, "nickname": "botlink"}
		}

		resp := map[string]any{"status": "ok", "retcode": 0, "echo": json.RawMessage(call.Echo)}
		if body != nil {
			resp["data"] = body
		}
		out, err := json.Marshal(resp)
		if err != nil {
			g.t.Errorf("marshal response: %v", err)
			continue
		}
		if err := g.write(conn, out); err != nil {
			return
		}
	}
}

func (g *mockGateway) write(conn *websocket.Conn, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// pushEvent writes one notification frame on the event channel, waiting
// for it to come up first.
func (g *mockGateway) pushEvent(payload string) {
	g.t.Helper()
	conn := g.waitConn(&g.eventConn)
	if err := g.write(conn, []byte(payload)); err != nil {
		g.t.Errorf("push event: %v", err)
	}
}

// pushAPI writes one unsolicited frame on the command channel.
func (g *mockGateway) pushAPI(payload string) {
	g.t.Helper()
	conn := g.waitConn(&g.apiConn)
	if err := g.write(conn, []byte(payload)); err != nil {
		g.t.Errorf("push api frame: %v", err)
	}
}

func (g *mockGateway) waitConn(slot **websocket.Conn) *websocket.Conn {
	g.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		conn := *slot
		g.mu.Unlock()
		if conn != nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	g.t.Fatal("gateway channel never connected")
	return nil
}

// dropEvent severs the event connection without a close frame.
func (g *mockGateway) dropEvent() {
	conn := g.waitConn(&g.eventConn)
	g.mu.Lock()
	g.eventConn = nil
	g.mu.Unlock()
	conn.Close()
}

// actionCalls returns the received calls for one action.
func (g *mockGateway) actionCalls(action string) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

func (g *mockGateway) token(path string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens[path]
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBot builds a Bot against the mock gateway. SelfID is pre-set so
// tests opt in to the identity lookup by clearing it.
func testBot(t *testing.T, g *mockGateway, mutate ...func(*Config)) *Bot {
	t.Helper()
	cfg := Config{
		BaseURL:        wsURL(g.server),
		AccessToken:    "sekrit",
		SelfID:         testSelfID,
		RequestTimeout: 2 * time.Second,
		Reconnect:      ReconnectConfig{Enabled: false, MaxAttempts: 1, Delay: 10 * time.Millisecond},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	bot, err := New(cfg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return bot
}

// connectReady connects the bot and blocks until the ready event.
func connectReady(t *testing.T, bot *Bot) {
	t.Helper()
	ready := make(chan struct{}, 1)
	off := bot.Once(EventReady, func(ev *Event) bool {
		select {
		case ready <- struct{}{}:
		default:
		}
		return true
	})
	defer off()

	if err := bot.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ready")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestBotConnectResolvesIdentity(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g, func(c *Config) { c.SelfID = 0 })

	connectReady(t, bot)
	defer bot.Disconnect()

	waitFor(t, "identity resolution", func() bool { return bot.SelfID() == testSelfID })

	if calls := g.actionCalls("get_login_info"); len(calls) != 1 {
		t.Errorf("get_login_info called %d times, want 1", len(calls))
	}
	if got := g.token("/api"); got != "sekrit" {
		t.Errorf("api access_token = %q, want %q", got, "sekrit")
	}
	if got := g.token("/event"); got != "sekrit" {
		t.Errorf("event access_token = %q, want %q", got, "sekrit")
	}
}

func TestBotPresetIdentitySkipsLookup(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	connectReady(t, bot)
	defer bot.Disconnect()

	if bot.SelfID() != testSelfID {
		t.Errorf("SelfID = %d, want %d", bot.SelfID(), testSelfID)
	}
	// Give a stray lookup a moment to show up.
	time.Sleep(50 * time.Millisecond)
	if calls := g.actionCalls("get_login_info"); len(calls) != 0 {
		t.Errorf("get_login_info called %d times, want 0", len(calls))
	}
}

func TestBotStatusLifecycle(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	if got := bot.Status(ChannelCommand); got != StatusInit {
		t.Errorf("initial command status = %q, want %q", got, StatusInit)
	}

	connectReady(t, bot)

	if got := bot.Status(ChannelCommand); got != StatusConnected {
		t.Errorf("command status = %q, want %q", got, StatusConnected)
	}
	if got := bot.Status(ChannelEvent); got != StatusConnected {
		t.Errorf("event status = %q, want %q", got, StatusConnected)
	}
	if !bot.Ready() {
		t.Error("Ready = false after both channels connected")
	}
	if got := bot.Attempts(ChannelCommand); got != 0 {
		t.Errorf("attempts = %d, want 0 while connected", got)
	}
	if got := bot.Status("bogus"); got != "" {
		t.Errorf("unknown channel status = %q, want empty", got)
	}

	if err := bot.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	waitFor(t, "both channels closed", func() bool {
		return bot.Status(ChannelCommand) == StatusClosed && bot.Status(ChannelEvent) == StatusClosed
	})
	if bot.Ready() {
		t.Error("Ready = true after Disconnect")
	}
}

func TestBotDisconnectObservesNormalClose(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)
	connectReady(t, bot)

	closes := make(chan *Event, 4)
	bot.On(EventSocketClose, func(ev *Event) { closes <- ev })

	if err := bot.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case ev := <-closes:
			if ev.Code != websocket.CloseNormalClosure {
				t.Errorf("close code = %d on %s, want %d", ev.Code, ev.Channel, websocket.CloseNormalClosure)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for close event %d", i+1)
		}
	}
}

func TestBotPrivateMessageAutoReply(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	bot.OnMessage("message.private", func(mc *MessageContext, ev *Event) Reply {
		return Text("pong: " + ev.Payload.MessageText())
	})

	connectReady(t, bot)
	defer bot.Disconnect()

	g.pushEvent(`{"post_type":"message","message_type":"private","user_id":42,"message":"hi"}`)

	waitFor(t, "auto reply", func() bool { return len(g.actionCalls("send_msg")) == 1 })

	var params sendMessageParams
	if err := json.Unmarshal(g.actionCalls("send_msg")[0].Params, &params); err != nil {
		t.Fatalf("bad send_msg params: %v", err)
	}
	if params.MessageType != "private" {
		t.Errorf("message_type = %q, want private", params.MessageType)
	}
	if params.UserID != 42 {
		t.Errorf("user_id = %d, want 42", params.UserID)
	}
	if params.Message != "pong: hi" {
		t.Errorf("message = %q, want %q", params.Message, "pong: hi")
	}

	// The chain ended with one pending reply; there must be exactly one
	// send even after things settle.
	time.Sleep(50 * time.Millisecond)
	if n := len(g.actionCalls("send_msg")); n != 1 {
		t.Errorf("send_msg called %d times, want 1", n)
	}
}

func TestBotGroupReplyAddressing(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	bot.OnMessage("message.group", func(mc *MessageContext, ev *Event) Reply {
		return Text("ack")
	})

	connectReady(t, bot)
	defer bot.Disconnect()

	g.pushEvent(`{"post_type":"message","message_type":"group","group_id":99,"user_id":42,"message":"anyone?"}`)

	waitFor(t, "auto reply", func() bool { return len(g.actionCalls("send_msg")) == 1 })

	var params sendMessageParams
	if err := json.Unmarshal(g.actionCalls("send_msg")[0].Params, &params); err != nil {
		t.Fatalf("bad send_msg params: %v", err)
	}
	if params.MessageType != "group" {
		t.Errorf("message_type = %q, want group", params.MessageType)
	}
	if params.GroupID != 99 {
		t.Errorf("group_id = %d, want 99", params.GroupID)
	}
	if params.UserID != 0 {
		t.Errorf("user_id = %d, want unset for group replies", params.UserID)
	}
}

func TestBotMentionDispatchAndCancel(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	fired := make(chan string, 4)
	bot.OnMessage("message.group.@me", func(mc *MessageContext, ev *Event) Reply {
		fired <- "mention"
		mc.Cancel()
		return nil
	})
	bot.OnMessage("message", func(mc *MessageContext, ev *Event) Reply {
		fired <- "family"
		return nil
	})

	connectReady(t, bot)
	defer bot.Disconnect()

	g.pushEvent(fmt.Sprintf(
		`{"post_type":"message","message_type":"group","group_id":99,"user_id":42,"message":"[CQ:at,qq=%d] status"}`,
		testSelfID))

	select {
	case name := <-fired:
		if name != "mention" {
			t.Fatalf("first listener = %q, want mention", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for mention listener")
	}

	select {
	case name := <-fired:
		t.Errorf("listener %q ran after cancellation", name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBotNoticeAncestorWalk(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	fired := make(chan string, 4)
	bot.On("notice.group_decrease.kick_me", func(ev *Event) { fired <- "exact" })
	bot.On("notice.group_decrease", func(ev *Event) { fired <- "mid" })
	bot.On("notice", func(ev *Event) { fired <- "family" })

	connectReady(t, bot)
	defer bot.Disconnect()

	g.pushEvent(`{"post_type":"notice","notice_type":"group_decrease","sub_type":"kick_me","group_id":99,"user_id":7777}`)

	want := []string{"exact", "mid", "family"}
	for _, w := range want {
		select {
		case name := <-fired:
			if name != w {
				t.Errorf("listener order: got %q, want %q", name, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %q listener", w)
		}
	}
}

func TestBotOnceMessageListener(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	fired := make(chan struct{}, 4)
	bot.Once("message.private", func(ev *Event) bool {
		fired <- struct{}{}
		return true
	})

	connectReady(t, bot)
	defer bot.Disconnect()

	g.pushEvent(`{"post_type":"message","message_type":"private","user_id":42,"message":"one"}`)
	g.pushEvent(`{"post_type":"message","message_type":"private","user_id":42,"message":"two"}`)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for one-shot listener")
	}
	select {
	case <-fired:
		t.Error("one-shot listener fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBotBadPayloadEmitsError(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	errs := make(chan error, 4)
	bot.On(EventError, func(ev *Event) { errs <- ev.Err })

	connectReady(t, bot)
	defer bot.Disconnect()

	g.pushEvent(`{not json`)

	select {
	case err := <-errs:
		if !IsKind(err, KindBadPayload) {
			t.Errorf("error kind mismatch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bad-payload error")
	}

	g.pushEvent(`{"post_type":"carrier_pigeon"}`)

	select {
	case err := <-errs:
		if !IsKind(err, KindUnexpectedField) {
			t.Errorf("error kind mismatch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for taxonomy error")
	}
}

func TestBotReconnectsAfterEventDrop(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g, func(c *Config) {
		c.Reconnect = ReconnectConfig{Enabled: true, MaxAttempts: 3, Delay: 20 * time.Millisecond}
	})

	reconnecting := make(chan struct{}, 1)
	bot.On(EventSocketReconnecting, func(ev *Event) {
		select {
		case reconnecting <- struct{}{}:
		default:
		}
	})

	connectReady(t, bot)
	defer bot.Disconnect()

	g.dropEvent()

	select {
	case <-reconnecting:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reconnecting event")
	}

	waitFor(t, "event channel to recover", func() bool {
		return bot.Status(ChannelEvent) == StatusConnected
	})
	if !bot.Ready() {
		t.Error("Ready = false after recovery")
	}
}

func TestBotOffClearsEverything(t *testing.T) {
	g := newMockGateway(t, nil)
	bot := testBot(t, g)

	fired := make(chan struct{}, 4)
	bot.On("message.private", func(ev *Event) { fired <- struct{}{} })
	bot.Off()

	connectReady(t, bot)
	defer bot.Disconnect()

	g.pushEvent(`{"post_type":"message","message_type":"private","user_id":42,"message":"hi"}`)

	select {
	case <-fired:
		t.Error("listener fired after Off()")
	case <-time.After(100 * time.Millisecond):
	}
}

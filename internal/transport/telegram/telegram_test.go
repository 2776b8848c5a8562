package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"tgdispatch/internal/domain"
	"tgdispatch/internal/msgindex"
	"tgdispatch/internal/transport"
	"tgdispatch/pkg/logx"
)

type apiCall struct {
	Token  string
	Method string
	Params map[string]string
}

// fakeAPI answers Bot API calls with canned JSON per method.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	replies map[string]func(p map[string]string) (int, string)
	nextID  int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{replies: map[string]func(map[string]string) (int, string){}, nextID: 100}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/bot"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		params := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&params)

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Token: parts[0], Method: parts[1], Params: params})
		reply := f.replies[parts[1]]
		f.nextID++
		id := f.nextID
		f.mu.Unlock()

		status, body := http.StatusOK, ""
		if reply != nil {
			status, body = reply(params)
		} else {
			body = `{"ok":true,"result":{"message_id":` + itoa(id) + `,"date":0,"chat":{"id":-1001,"type":"channel"}}}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) methodCalls(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAPI) reply(method string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = func(map[string]string) (int, string) { return status, body }
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTransport(t *testing.T, srv *httptest.Server, window WindowSource) *Transport {
	t.Helper()
	tr, err := New(Config{
		Accounts:       map[string]string{"main": "111:AAA", "alt": "222:BBB"},
		APIURL:         srv.URL,
		RequestTimeout: 2 * time.Second,
		RatePerSec:     1000,
	}, window, logx.Nop())
	require.NoError(t, err)
	return tr
}

func TestNewRequiresAccounts(t *testing.T) {
	_, err := New(Config{}, nil, logx.Nop())
	require.Error(t, err)

	_, err = New(Config{Accounts: map[string]string{"main": " "}}, nil, logx.Nop())
	require.Error(t, err)
}

func TestAccountsSorted(t *testing.T) {
	_, srv := newFakeAPI(t)
	tr := newTransport(t, srv, nil)
	assert.Equal(t, []string{"alt", "main"}, tr.Accounts())
}

func TestSendTextUsesAccountTokenAndTopic(t *testing.T) {
	api, srv := newFakeAPI(t)
	tr := newTransport(t, srv, nil)

	d, err := tr.SendText(context.Background(), "alt", domain.Destination{Chat: "@news_room", Topic: 7}, "hello")
	require.NoError(t, err)
	assert.Equal(t, []int{101}, d.IDs)
	assert.Equal(t, "@news_room", d.Chat)
	assert.Equal(t, 7, d.Topic)

	calls := api.methodCalls("sendMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "222:BBB", calls[0].Token)
	assert.Equal(t, "@news_room", calls[0].Params["chat_id"])
	assert.Equal(t, "7", calls[0].Params["message_thread_id"])
	assert.Equal(t, "hello", calls[0].Params["text"])
}

func TestSendTextSplitsLongText(t *testing.T) {
	api, srv := newFakeAPI(t)
	tr := newTransport(t, srv, nil)

	text := strings.Repeat("a", textLimit) + "\n" + strings.Repeat("b", 10)
	d, err := tr.SendText(context.Background(), "main", domain.Destination{Chat: "-1001"}, text)
	require.NoError(t, err)
	assert.Len(t, d.IDs, 2)
	assert.Len(t, api.methodCalls("sendMessage"), 2)
}

func TestUnknownAccountIsPermissionDenied(t *testing.T) {
	_, srv := newFakeAPI(t)
	tr := newTransport(t, srv, nil)

	_, err := tr.SendText(context.Background(), "ghost", domain.Destination{Chat: "-1001"}, "x")
	assert.Equal(t, transport.KindPermissionDenied, transport.Classify(err))
}

func TestForwardNumericSource(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("forwardMessages", http.StatusOK, `{"ok":true,"result":[{"message_id":500},{"message_id":501}]}`)
	tr := newTransport(t, srv, nil)

	d, err := tr.Forward(context.Background(), "main", domain.Destination{Chat: "-1009", Topic: 3}, "-1001234", []int{10, 11})
	require.NoError(t, err)
	assert.Equal(t, []int{500, 501}, d.IDs)

	calls := api.methodCalls("forwardMessages")
	require.Len(t, calls, 1)
	p := calls[0].Params
	assert.Equal(t, "-1009", p["chat_id"])
	assert.Equal(t, "-1001234", p["from_chat_id"])
	assert.Equal(t, "[10,11]", p["message_ids"])
	assert.Equal(t, "3", p["message_thread_id"])
	assert.Empty(t, api.methodCalls("getChat"))
}

func TestForwardResolvesHandleOnce(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("getChat", http.StatusOK, `{"ok":true,"result":{"id":-100777,"type":"channel","username":"src_chan"}}`)
	api.reply("forwardMessages", http.StatusOK, `{"ok":true,"result":[{"message_id":9}]}`)
	tr := newTransport(t, srv, nil)

	for i := 0; i < 2; i++ {
		_, err := tr.Forward(context.Background(), "main", domain.Destination{Chat: "@dest_chan"}, "@Src_Chan", []int{5})
		require.NoError(t, err)
	}
	assert.Len(t, api.methodCalls("getChat"), 1)
	for _, c := range api.methodCalls("forwardMessages") {
		assert.Equal(t, "-100777", c.Params["from_chat_id"])
	}
}

func TestForwardEmptyResultIsNotFound(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("forwardMessages", http.StatusOK, `{"ok":true,"result":[]}`)
	tr := newTransport(t, srv, nil)

	_, err := tr.Forward(context.Background(), "main", domain.Destination{Chat: "-1009"}, "-1001", []int{1})
	assert.Equal(t, transport.KindNotFound, transport.Classify(err))

	_, err = tr.Forward(context.Background(), "main", domain.Destination{Chat: "-1009"}, "-1001", nil)
	assert.Equal(t, transport.KindNotFound, transport.Classify(err))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   transport.Kind
	}{
		{"flood wait", 429, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 30","parameters":{"retry_after":30}}`, transport.KindRateLimited},
		{"chat not found", 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, transport.KindNotFound},
		{"not a member", 403, `{"ok":false,"error_code":403,"description":"Forbidden: bot is not a member of the channel chat"}`, transport.KindPermissionDenied},
		{"no rights", 400, `{"ok":false,"error_code":400,"description":"Bad Request: have no rights to send a message"}`, transport.KindPermissionDenied},
		{"unknown forbidden", 403, `{"ok":false,"error_code":403,"description":"Forbidden: something new"}`, transport.KindPermissionDenied},
		{"server error", 500, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`, transport.KindTransient},
		{"unknown bad request", 400, `{"ok":false,"error_code":400,"description":"Bad Request: something odd"}`, transport.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.reply("sendMessage", tt.status, tt.body)
			tr := newTransport(t, srv, nil)

			_, err := tr.SendText(context.Background(), "main", domain.Destination{Chat: "-1001"}, "x")
			require.Error(t, err)
			assert.Equal(t, tt.want, transport.Classify(err))
		})
	}
}

func TestFloodWaitCarriesInterval(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("sendMessage", 429, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1800","parameters":{"retry_after":1800}}`)
	tr := newTransport(t, srv, nil)

	_, err := tr.SendText(context.Background(), "main", domain.Destination{Chat: "-1001"}, "x")
	var rl *transport.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30*time.Minute, rl.MinInterval)
}

func TestClassifyPlainErrors(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.Equal(t, transport.KindTransient, transport.Classify(classify(errors.New("dial tcp: timeout"))))
	assert.Equal(t, transport.KindNotFound, transport.Classify(classify(tele.ErrChatNotFound)))
	assert.Equal(t, transport.KindPermissionDenied, transport.Classify(classify(tele.ErrKickedFromChannel)))

	err := classify(errors.New("telegram: Too Many Requests: retry after 12 (429)"))
	var rl *transport.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 12*time.Second, rl.MinInterval)
}

func TestJoinChatProbesChat(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("getChat", http.StatusOK, `{"ok":true,"result":{"id":-100555,"type":"supergroup","username":"club"}}`)
	tr := newTransport(t, srv, nil)

	require.NoError(t, tr.JoinChat(context.Background(), "main", "@club"))
	calls := api.methodCalls("getChat")
	require.Len(t, calls, 1)
	assert.Equal(t, "@club", calls[0].Params["chat_id"])

	api.reply("getChat", 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	err := tr.JoinChat(context.Background(), "main", "@other_club")
	assert.Equal(t, transport.KindNotFound, transport.Classify(err))
}

type stubWindow struct {
	refs []domain.MessageRef
	err  error
}

func (s stubWindow) Window(ctx context.Context, chat string, anchorID, size int) ([]domain.MessageRef, error) {
	return s.refs, s.err
}

func TestFetchWindow(t *testing.T) {
	_, srv := newFakeAPI(t)

	tr := newTransport(t, srv, nil)
	_, err := tr.FetchWindow(context.Background(), "@chan", 10, 20)
	assert.Equal(t, transport.KindNotFound, transport.Classify(err))

	refs := []domain.MessageRef{{Chat: "@chan", ID: 10, GroupKey: "a"}}
	tr = newTransport(t, srv, stubWindow{refs: refs})
	got, err := tr.FetchWindow(context.Background(), "@chan", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, refs, got)

	tr = newTransport(t, srv, stubWindow{err: errors.New("disk")})
	_, err = tr.FetchWindow(context.Background(), "@chan", 10, 20)
	assert.Equal(t, transport.KindTransient, transport.Classify(err))
}

func TestCancelledContext(t *testing.T) {
	_, srv := newFakeAPI(t)
	tr := newTransport(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.SendText(ctx, "main", domain.Destination{Chat: "-1001"}, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	parts := splitText("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	parts = splitText(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, parts)

	parts = splitText(strings.Repeat("я", 12), 10)
	require.Len(t, parts, 2)
	assert.Equal(t, 10, len([]rune(parts[0])))
}

type memRecorder struct {
	mu   sync.Mutex
	msgs []msgindex.Message
	err  error
}

func (m *memRecorder) Record(ctx context.Context, msg msgindex.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func TestListenerRecordsChannelPosts(t *testing.T) {
	rec := &memRecorder{}
	l, err := NewListener(ListenerConfig{Token: "111:AAA", APIURL: "http://127.0.0.1:1"}, rec, logx.Nop())
	require.NoError(t, err)

	l.bot.ProcessUpdate(tele.Update{ChannelPost: &tele.Message{
		ID:       42,
		AlbumID:  "album-1",
		Unixtime: 1700000000,
		Chat:     &tele.Chat{ID: -100123, Type: tele.ChatChannel, Username: "src"},
	}})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.msgs, 1)
	got := rec.msgs[0]
	assert.Equal(t, int64(-100123), got.ChatID)
	assert.Equal(t, "src", got.Username)
	assert.Equal(t, 42, got.ID)
	assert.Equal(t, "album-1", got.AlbumID)
	assert.Equal(t, int64(1700000000), got.Date.Unix())

	recorded, failed := l.Stats()
	assert.Equal(t, int64(1), recorded)
	assert.Zero(t, failed)
}

func TestListenerCountsWriteFailures(t *testing.T) {
	rec := &memRecorder{err: errors.New("locked")}
	l, err := NewListener(ListenerConfig{Token: "111:AAA", APIURL: "http://127.0.0.1:1"}, rec, logx.Nop())
	require.NoError(t, err)

	l.bot.ProcessUpdate(tele.Update{Message: &tele.Message{
		ID:   7,
		Text: "hi",
		Chat: &tele.Chat{ID: -100999, Type: tele.ChatSuperGroup},
	}})

	recorded, failed := l.Stats()
	assert.Zero(t, recorded)
	assert.Equal(t, int64(1), failed)
}

func TestListenerRequiresToken(t *testing.T) {
	_, err := NewListener(ListenerConfig{}, &memRecorder{}, logx.Nop())
	require.Error(t, err)
}

package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeBotAPI struct {
	mu       sync.Mutex
	messages []url.Values
	failSend bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Trade","username":"trade_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		body, _ := io.ReadAll(r.Body)
		params, _ := url.ParseQuery(string(body))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failSend {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}
		f.messages = append(f.messages, params)
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"},"text":"ok"}}`,
			len(f.messages), params.Get("chat_id"))
	default:
		http.NotFound(w, r)
	}
}

func newTestNotifier(t *testing.T, fake *fakeBotAPI) *Notifier {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	n, err := NewNotifier(Config{
		Token:    "123:abc",
		Endpoint: srv.URL + "/bot%s/%s",
		Logger:   &mockLogger{},
	})
	require.NoError(t, err)
	return n
}

func TestNewNotifier_RequiresToken(t *testing.T) {
	_, err := NewNotifier(Config{Logger: &mockLogger{}})
	assert.Error(t, err)
	_, err = NewNotifier(Config{Token: "x"})
	assert.Error(t, err)
}

func TestNotifier_Notify(t *testing.T) {
	fake := &fakeBotAPI{}
	n := newTestNotifier(t, fake)

	require.NoError(t, n.Notify(context.Background(), 42, "TP1 filled"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "42", fake.messages[0].Get("chat_id"))
	assert.Equal(t, "TP1 filled", fake.messages[0].Get("text"))
}

func TestNotifier_NotifyFailure(t *testing.T) {
	fake := &fakeBotAPI{failSend: true}
	n := newTestNotifier(t, fake)

	err := n.Notify(context.Background(), 42, "hello")
	assert.Error(t, err)
}

func TestNotifier_CancelledContext(t *testing.T) {
	fake := &fakeBotAPI{}
	n := newTestNotifier(t, fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Notify(ctx, 42, "hello")
	assert.Error(t, err)
}

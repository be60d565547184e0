package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// silentLeg rings forever until hung up.
type silentLeg struct {
	id, remote string
	ringing    chan struct{}
	answered   chan struct{}
	done       chan struct{}
	once       sync.Once
}

func (l *silentLeg) ID() string                                { return l.id }
func (l *silentLeg) Remote() string                            { return l.remote }
func (l *silentLeg) Ringing() <-chan struct{}                  { return l.ringing }
func (l *silentLeg) Answered() <-chan struct{}                 { return l.answered }
func (l *silentLeg) Done() <-chan struct{}                     { return l.done }
func (l *silentLeg) Frames() <-chan []int16                    { return nil }
func (l *silentLeg) Digits() <-chan string                     { return nil }
func (l *silentLeg) WriteFrame(context.Context, []int16) error { return nil }
func (l *silentLeg) HangUp(context.Context) error              { l.once.Do(func() { close(l.done) }); return nil }

type silentTransport struct {
	mu      sync.Mutex
	dialed  []string
	handler call.IncomingHandler
}

func (t *silentTransport) Register(context.Context) error   { return nil }
func (t *silentTransport) Unregister(context.Context) error { return nil }
func (t *silentTransport) SetIncomingHandler(h call.IncomingHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *silentTransport) Dial(ctx context.Context, number string) (call.Leg, error) {
	t.mu.Lock()
	t.dialed = append(t.dialed, number)
	n := len(t.dialed)
	t.mu.Unlock()
	return &silentLeg{
		id:       "leg-" + string(rune('0'+n)),
		remote:   number,
		ringing:  make(chan struct{}),
		answered: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (t *silentTransport) Dialed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dialed...)
}

const testScript = `title: Test survey
paths:
  entry:
    - type: read
      text: Hello
  aborted:
    - type: read
      text: Goodbye
`

type fixture struct {
	router    *gin.Engine
	handlers  *Handlers
	pool      *call.Pool
	transport *silentTransport
	db        *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	transport := &silentTransport{}
	pool, err := call.NewPool(transport, nil, call.PoolConfig{NumLines: 2, RingTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScript), 0644))
	scripts := conversation.NewManager(nil)
	_, err = scripts.LoadFile(path)
	require.NoError(t, err)

	h := NewHandlers(Options{Pool: pool, DB: db, Scripts: scripts})
	router := NewRouter("test")
	h.Register(router, "/api")
	t.Cleanup(h.Close)
	return &fixture{router: router, handlers: h, pool: pool, transport: transport, db: db}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func TestLinesAndListening(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodGet, "/api/lines", nil)
	require.Equal(t, http.StatusOK, code)
	lines, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, lines, 2)

	code, _ = f.do(t, http.MethodPost, "/api/listening", map[string]string{"conversation": "Test survey"})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, f.pool.Listening())

	code, resp = f.do(t, http.MethodGet, "/api/listening", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Test survey", resp.Data.(map[string]interface{})["conversation"])

	code, _ = f.do(t, http.MethodDelete, "/api/listening", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.pool.Listening())

	code, _ = f.do(t, http.MethodPost, "/api/listening", map[string]string{"conversation": "Missing"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlaceCallValidation(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/calls", map[string]string{"number": "0151 1234"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/calls", map[string]string{"number": "+4915112345678"})
	assert.Equal(t, http.StatusBadRequest, code, "no conversation and none listening")

	code, _ = f.do(t, http.MethodPost, "/api/calls", map[string]string{"number": "+4915112345678", "conversation": "Test survey"})
	assert.Equal(t, http.StatusAccepted, code)
	assert.Eventually(t, func() bool { return len(f.transport.Dialed()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestContactsRoutes(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/contacts", map[string]string{"name": "Ada", "phoneNumber": "12345"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := f.do(t, http.MethodPost, "/api/contacts", map[string]string{"name": "Ada", "phoneNumber": "+4915112345678"})
	require.Equal(t, http.StatusOK, code)
	id := uint(resp.Data.(map[string]interface{})["id"].(float64))

	code, _ = f.do(t, http.MethodPost, "/api/contacts", map[string]string{"name": "Ada", "phoneNumber": "+4915112345678"})
	assert.Equal(t, http.StatusConflict, code)

	code, resp = f.do(t, http.MethodGet, "/api/contacts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 1)

	require.NoError(t, models.SaveConversationResults(f.db, id, "Test survey", map[string]string{"name": "Ada"}))
	code, resp = f.do(t, http.MethodGet, "/api/contacts/1/results?conversation=Test+survey", nil)
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"name": "Ada"}, data["results"])

	code, _ = f.do(t, http.MethodGet, "/api/contacts/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, "/api/contacts/1", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/contacts/1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCampaignRoute(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, models.CreateContact(f.db, &models.Contact{Name: "Ada", PhoneNumber: "+4915112345678"}))

	code, _ := f.do(t, http.MethodPost, "/api/campaign", map[string]interface{}{"conversation": "Test survey", "maxAttempts": 1})
	require.Equal(t, http.StatusAccepted, code)

	var report map[string]interface{}
	require.Eventually(t, func() bool {
		_, resp := f.do(t, http.MethodGet, "/api/campaign", nil)
		data := resp.Data.(map[string]interface{})
		if data["running"].(bool) || data["report"] == nil {
			return false
		}
		report = data["report"].(map[string]interface{})
		return true
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, float64(1), report["dialed"])
	assert.Equal(t, float64(1), report["unreached"])
	assert.Equal(t, []string{"+4915112345678"}, f.transport.Dialed())

	st, err := models.GetConversationStatus(f.db, 1, "Test survey")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Attempts)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	for i := 0; i < 2; i++ {
		var ev call.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "idle", ev.State)
	}

	code, _ := f.do(t, http.MethodPost, "/api/calls", map[string]string{"number": "+4915112345678", "conversation": "Test survey"})
	require.Equal(t, http.StatusAccepted, code)

	var ev call.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "dialing", ev.State)
	assert.Equal(t, "+4915112345678", ev.Number)
	assert.Equal(t, call.DirectionOutbound, ev.Direction)
}

package campaign

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/engine"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// scriptedDialer answers numbers with canned results.
type scriptedDialer struct {
	mu      sync.Mutex
	results map[string][]call.Result
	errs    map[string]error
	dialed  []string
}

func (d *scriptedDialer) Dial(ctx context.Context, number string, model *conversation.Model) (call.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, number)
	if err := d.errs[number]; err != nil {
		return call.Result{}, err
	}
	queue := d.results[number]
	if len(queue) == 0 {
		return call.Result{Number: number, CallID: "unanswered-" + number}, nil
	}
	r := queue[0]
	d.results[number] = queue[1:]
	return r, nil
}

func (d *scriptedDialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

type memoryRecorder struct {
	mu      sync.Mutex
	records map[string]*models.CallRecord
}

func (r *memoryRecorder) UpdateCall(callID string, update func(record *models.CallRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	if !ok {
		rec = &models.CallRecord{CallID: callID}
		r.records[callID] = rec
	}
	update(rec)
	return nil
}

func completed(number string, info map[string]string) call.Result {
	return call.Result{
		CallID:      "call-" + number,
		Number:      number,
		Answered:    true,
		Outcome:     engine.Outcome{Status: engine.StatusCompleted},
		Information: info,
		Transcript: []engine.Entry{
			{Role: "assistant", Content: "What is your name?", Timestamp: time.Now()},
			{Role: "user", Content: "Ada", Timestamp: time.Now()},
		},
	}
}

func seedContacts(t *testing.T, db *gorm.DB, numbers ...string) []models.Contact {
	t.Helper()
	var out []models.Contact
	for i, n := range numbers {
		c := models.Contact{Name: "contact-" + string(rune('a'+i)), PhoneNumber: n}
		require.NoError(t, models.CreateContact(db, &c))
		out = append(out, c)
	}
	return out
}

func TestCallContactsRecordsOutcomes(t *testing.T) {
	db := openTestDB(t)
	contacts := seedContacts(t, db, "+4915100000001", "+4915100000002", "+4915100000003")
	dialer := &scriptedDialer{results: map[string][]call.Result{
		"+4915100000001": {completed("+4915100000001", map[string]string{"name": "Ada"})},
		"+4915100000002": {{CallID: "c2", Answered: true, Outcome: engine.Outcome{Status: engine.StatusAborted}}},
	}}
	recorder := &memoryRecorder{records: map[string]*models.CallRecord{}}
	dir := t.TempDir()

	c, err := New(db, dialer, &conversation.Model{Title: "Survey 1"}, Config{TranscriptDir: dir})
	require.NoError(t, err)
	c.SetRecorder(recorder)

	report, err := c.CallContacts(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Dialed)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Aborted)
	assert.Equal(t, 1, report.Unreached)

	st, err := models.GetConversationStatus(db, contacts[0].ID, "Survey 1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationCompleted, st.Status)
	assert.Equal(t, 1, st.Attempts)

	info, err := models.GetConversationResults(db, contacts[0].ID, "Survey 1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Ada"}, info)

	st, err = models.GetConversationStatus(db, contacts[1].ID, "Survey 1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationAborted, st.Status)

	st, err = models.GetConversationStatus(db, contacts[2].ID, "Survey 1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationNotReached, st.Status)
	assert.Equal(t, 1, st.Attempts)

	rec := recorder.records["call-+4915100000001"]
	require.NotNil(t, rec)
	require.NotNil(t, rec.ContactID)
	assert.Equal(t, contacts[0].ID, *rec.ContactID)

	data, err := os.ReadFile(c.TranscriptPath(contacts[0].ID))
	require.NoError(t, err)
	assert.Equal(t, "assistant: What is your name?\nuser: Ada\n", string(data))
	assert.Equal(t, filepath.Join(dir, "1_Survey_1.log"), c.TranscriptPath(1))
}

func TestCallContactsSkipsFinalAndExhausted(t *testing.T) {
	db := openTestDB(t)
	contacts := seedContacts(t, db, "+4915100000001", "+4915100000002")
	dialer := &scriptedDialer{results: map[string][]call.Result{
		"+4915100000001": {completed("+4915100000001", nil)},
	}}
	c, err := New(db, dialer, &conversation.Model{Title: "Survey"}, Config{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.CallContacts(context.Background(), nil, 2)
		require.NoError(t, err)
	}

	// first contact completed on the first round, second gave up after two
	assert.Equal(t, []string{"+4915100000001", "+4915100000002", "+4915100000002"}, dialer.Dialed())

	st, err := models.GetConversationStatus(db, contacts[1].ID, "Survey")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, models.ConversationNotReached, st.Status)

	report, err := c.CallContacts(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dialed, "no bound configured means unlimited")
}

func TestCallContactsUnknownIDsAndBusyLines(t *testing.T) {
	db := openTestDB(t)
	contacts := seedContacts(t, db, "+4915100000001")
	dialer := &scriptedDialer{errs: map[string]error{"+4915100000001": call.ErrNoIdleLine}}
	c, err := New(db, dialer, &conversation.Model{Title: "Survey"}, Config{MaxAttempts: 1})
	require.NoError(t, err)

	report, err := c.CallContacts(context.Background(), []uint{contacts[0].ID, 999}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Dialed)

	st, err := models.GetConversationStatus(db, contacts[0].ID, "Survey")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Attempts, "a busy pool does not use up an attempt")
}

func TestCallContactsStopsOnCancel(t *testing.T) {
	db := openTestDB(t)
	seedContacts(t, db, "+4915100000001", "+4915100000002")
	c, err := New(db, &scriptedDialer{}, &conversation.Model{Title: "Survey"}, Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CallContacts(ctx, nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidates(t *testing.T) {
	db := openTestDB(t)
	_, err := New(nil, &scriptedDialer{}, &conversation.Model{Title: "x"}, Config{})
	assert.Error(t, err)
	_, err = New(db, nil, &conversation.Model{Title: "x"}, Config{})
	assert.Error(t, err)
	_, err = New(db, &scriptedDialer{}, &conversation.Model{}, Config{})
	assert.Error(t, err)
}

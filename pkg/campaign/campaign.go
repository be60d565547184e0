package campaign

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/engine"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Dialer places one outbound conversation; *call.Pool implements it.
type Dialer interface {
	Dial(ctx context.Context, number string, model *conversation.Model) (call.Result, error)
}

// Recorder links signalling call records to contacts; *ua.UAConfig implements it.
type Recorder interface {
	UpdateCall(callID string, update func(record *models.CallRecord)) error
}

// Config 外呼任务配置
type Config struct {
	MaxAttempts    int     // default bound when CallContacts gets 0
	CallsPerSecond float64 // <= 0 means unpaced
	Concurrency    int     // parallel dials, usually the number of lines
	TranscriptDir  string  // empty disables transcript logs
}

// Campaign 按联系人列表外呼，并记录每个联系人在该对话中的状态
type Campaign struct {
	db       *gorm.DB
	dialer   Dialer
	model    *conversation.Model
	recorder Recorder
	cfg      Config
	limiter  *rate.Limiter
}

// Attempt is the result of dialing one contact.
type Attempt struct {
	ContactID uint                           `json:"contactId"`
	Number    string                         `json:"number"`
	Skipped   string                         `json:"skipped,omitempty"`
	CallID    string                         `json:"callId,omitempty"`
	Answered  bool                           `json:"answered"`
	Outcome   string                         `json:"outcome,omitempty"`
	Status    models.ConversationStatusValue `json:"status,omitempty"`
	Attempts  int                            `json:"attempts"`
	Error     string                         `json:"error,omitempty"`
}

// Report 一次外呼任务的汇总
type Report struct {
	Attempts  []Attempt `json:"attempts"`
	Dialed    int       `json:"dialed"`
	Completed int       `json:"completed"`
	Aborted   int       `json:"aborted"`
	Unreached int       `json:"unreached"`
	Skipped   int       `json:"skipped"`
}

func New(db *gorm.DB, dialer Dialer, model *conversation.Model, cfg Config) (*Campaign, error) {
	if db == nil {
		return nil, errors.New("campaign needs a database")
	}
	if dialer == nil {
		return nil, errors.New("campaign needs a dialer")
	}
	if model == nil || model.Title == "" {
		return nil, errors.New("campaign needs a titled conversation")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.CallsPerSecond > 0 {
		limit = rate.Limit(cfg.CallsPerSecond)
	}
	return &Campaign{
		db:      db,
		dialer:  dialer,
		model:   model,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// SetRecorder sets where call records are annotated with the contact.
func (c *Campaign) SetRecorder(r Recorder) { c.recorder = r }

// Model returns the conversation this campaign runs.
func (c *Campaign) Model() *conversation.Model { return c.model }

// CallContacts dials every listed contact whose status is not final and
// whose attempts are below maxAttempts. Nil ids means all contacts; a
// maxAttempts of 0 uses the configured bound, and a bound of 0 is unlimited.
func (c *Campaign) CallContacts(ctx context.Context, ids []uint, maxAttempts int) (Report, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	contacts, err := models.ListContacts(c.db, ids)
	if err != nil {
		return Report{}, fmt.Errorf("list contacts: %w", err)
	}

	known := make(map[uint]bool, len(contacts))
	for _, contact := range contacts {
		known[contact.ID] = true
	}
	var report Report
	for _, id := range ids {
		if !known[id] {
			logger.Warn("Invalid contact id", zap.Uint("contact_id", id))
			report.add(Attempt{ContactID: id, Skipped: "unknown contact"})
			known[id] = true
		}
	}

	logger.Info("Campaign started",
		zap.String("conversation", c.model.Title),
		zap.Int("contacts", len(contacts)),
		zap.Int("max_attempts", maxAttempts))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, contact := range contacts {
		st, err := models.GetConversationStatus(c.db, contact.ID, c.model.Title)
		if err != nil {
			return report, fmt.Errorf("status of contact %d: %w", contact.ID, err)
		}
		if reason := skipReason(st, maxAttempts); reason != "" {
			logger.Info("Skipping contact", zap.Uint("contact_id", contact.ID), zap.String("reason", reason))
			mu.Lock()
			report.add(Attempt{ContactID: contact.ID, Number: contact.PhoneNumber, Skipped: reason, Status: st.Status, Attempts: st.Attempts})
			mu.Unlock()
			continue
		}
		if err := c.limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			attempt, err := c.CallContact(gctx, contact)
			mu.Lock()
			report.add(attempt)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	logger.Info("Campaign finished",
		zap.String("conversation", c.model.Title),
		zap.Int("dialed", report.Dialed),
		zap.Int("completed", report.Completed),
		zap.Int("aborted", report.Aborted),
		zap.Int("unreached", report.Unreached))
	return report, err
}

func skipReason(st *models.ConversationStatus, maxAttempts int) string {
	if st.Status.IsFinal() {
		return "already reached"
	}
	if maxAttempts > 0 && st.Attempts >= maxAttempts {
		return "maximum attempts reached"
	}
	return ""
}

// CallContact dials one contact and records the attempt. The returned error
// is only set for failures that should stop the campaign.
func (c *Campaign) CallContact(ctx context.Context, contact models.Contact) (Attempt, error) {
	attempt := Attempt{ContactID: contact.ID, Number: contact.PhoneNumber}
	logger.Info("Calling contact", zap.Uint("contact_id", contact.ID), zap.String("number", contact.PhoneNumber))

	result, err := c.dialer.Dial(ctx, contact.PhoneNumber, c.model)
	if errors.Is(err, call.ErrNoIdleLine) {
		attempt.Skipped = "no idle line"
		return attempt, nil
	}
	if errors.Is(err, call.ErrInvalidNumber) {
		attempt.Skipped = "invalid number"
		attempt.Error = err.Error()
		return attempt, nil
	}
	if ctx.Err() != nil && !result.Answered {
		return attempt, ctx.Err()
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	attempt.CallID = result.CallID
	attempt.Answered = result.Answered

	status := models.ConversationNotReached
	if result.Answered {
		attempt.Outcome = result.Outcome.String()
		switch result.Outcome.Status {
		case engine.StatusCompleted:
			status = models.ConversationCompleted
		case engine.StatusAborted:
			status = models.ConversationAborted
		}
	}
	if status == models.ConversationCompleted {
		if err := models.SaveConversationResults(c.db, contact.ID, c.model.Title, result.Information); err != nil {
			return attempt, fmt.Errorf("save results of contact %d: %w", contact.ID, err)
		}
	}
	st, err := models.RecordAttempt(c.db, contact.ID, c.model.Title, status)
	if err != nil {
		return attempt, fmt.Errorf("record attempt of contact %d: %w", contact.ID, err)
	}
	attempt.Status = st.Status
	attempt.Attempts = st.Attempts

	if c.recorder != nil && result.CallID != "" {
		if err := c.recorder.UpdateCall(result.CallID, func(record *models.CallRecord) {
			id := contact.ID
			record.ContactID = &id
		}); err != nil {
			logger.Debug("call record not linked", zap.String("call_id", result.CallID), zap.Error(err))
		}
	}
	if result.Answered && c.cfg.TranscriptDir != "" {
		if err := c.writeTranscript(contact, result.Transcript); err != nil {
			logger.Warn("Failed to write transcript", zap.Uint("contact_id", contact.ID), zap.Error(err))
		}
	}
	logger.Info("Contact attempt recorded",
		zap.Uint("contact_id", contact.ID),
		zap.Bool("answered", result.Answered),
		zap.String("status", string(st.Status)),
		zap.Int("attempts", st.Attempts))
	return attempt, nil
}

// TranscriptPath 对话记录文件路径 <dir>/<contact>_<title>.log
func (c *Campaign) TranscriptPath(contactID uint) string {
	return filepath.Join(c.cfg.TranscriptDir, fmt.Sprintf("%d_%s.log", contactID, fileSafe(c.model.Title)))
}

func (c *Campaign) writeTranscript(contact models.Contact, entries []engine.Entry) error {
	if err := os.MkdirAll(c.cfg.TranscriptDir, 0755); err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	return os.WriteFile(c.TranscriptPath(contact.ID), []byte(b.String()), 0644)
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func (r *Report) add(a Attempt) {
	r.Attempts = append(r.Attempts, a)
	if a.Skipped != "" {
		r.Skipped++
		return
	}
	r.Dialed++
	switch a.Status {
	case models.ConversationCompleted:
		r.Completed++
	case models.ConversationAborted:
		r.Aborted++
	default:
		r.Unreached++
	}
}

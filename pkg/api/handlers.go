package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/campaign"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options wires the control surface to the running process.
type Options struct {
	Pool     *call.Pool
	DB       *gorm.DB
	Scripts  *conversation.Manager
	Campaign campaign.Config
	Recorder campaign.Recorder
	// Registration reports the SIP registration state; nil hides the route.
	Registration func() interface{}
}

// Handlers HTTP 控制接口
type Handlers struct {
	opts Options

	// calls started from the API outlive the request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	campaignMu     sync.Mutex
	campaignActive bool
	lastReport     *campaign.Report
	lastError      string
}

func NewHandlers(opts Options) *Handlers {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handlers{opts: opts, ctx: ctx, cancel: cancel}
}

// Register 注册路由
func (h *Handlers) Register(engine *gin.Engine, prefix string) {
	r := engine.Group(prefix)

	r.GET("/lines", h.handleListLines)
	r.GET("/events", h.handleEvents)

	r.POST("/calls", h.handlePlaceCall)
	r.GET("/calls", h.handleListCalls)

	r.GET("/listening", h.handleListeningStatus)
	r.POST("/listening", h.handleStartListening)
	r.DELETE("/listening", h.handleStopListening)

	r.GET("/conversations", h.handleListConversations)

	r.GET("/contacts", h.handleListContacts)
	r.POST("/contacts", h.handleCreateContact)
	r.GET("/contacts/:id", h.handleGetContact)
	r.DELETE("/contacts/:id", h.handleDeleteContact)
	r.GET("/contacts/:id/results", h.handleContactResults)

	r.POST("/campaign", h.handleStartCampaign)
	r.GET("/campaign", h.handleCampaignStatus)

	if h.opts.Registration != nil {
		r.GET("/registration", func(c *gin.Context) {
			success(c, h.opts.Registration())
		})
	}
}

// Close cancels calls and campaigns started through the API and waits for them.
func (h *Handlers) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Handlers) handleListLines(c *gin.Context) {
	success(c, h.opts.Pool.Lines())
}

// model resolves a conversation by title, falling back to the listening one.
func (h *Handlers) model(title string) (*conversation.Model, error) {
	if title != "" {
		if h.opts.Scripts == nil {
			return nil, errors.New("no script manager configured")
		}
		return h.opts.Scripts.Get(title)
	}
	if m := h.opts.Pool.Model(); m != nil {
		return m, nil
	}
	return nil, errors.New("no conversation given and none is listening")
}

type placeCallRequest struct {
	Number       string `json:"number" binding:"required"`
	Conversation string `json:"conversation"`
}

func (h *Handlers) handlePlaceCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if !call.ValidNumber(req.Number) {
		fail(c, http.StatusBadRequest, call.ErrInvalidNumber.Error())
		return
	}
	model, err := h.model(req.Conversation)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if h.opts.Pool.Busy() >= len(h.opts.Pool.Lines()) {
		fail(c, http.StatusServiceUnavailable, call.ErrNoIdleLine.Error())
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		result, err := h.opts.Pool.Dial(h.ctx, req.Number, model)
		if err != nil {
			logger.Warn("API call failed", zap.String("number", req.Number), zap.Error(err))
			return
		}
		logger.Info("API call finished",
			zap.String("number", req.Number),
			zap.String("call_id", result.CallID),
			zap.Bool("answered", result.Answered),
			zap.String("outcome", result.Outcome.String()))
	}()
	accepted(c, gin.H{"number": req.Number, "conversation": model.Title})
}

func (h *Handlers) handleListCalls(c *gin.Context) {
	if h.opts.DB == nil {
		fail(c, http.StatusNotImplemented, "no database configured")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var (
		records []models.CallRecord
		err     error
	)
	if status := c.Query("status"); status != "" {
		records, err = models.GetCallRecordsByStatus(h.opts.DB, models.CallStatus(status), limit)
	} else {
		records, err = models.ListCallRecords(h.opts.DB, limit)
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, records)
}

func (h *Handlers) handleListeningStatus(c *gin.Context) {
	data := gin.H{"listening": h.opts.Pool.Listening()}
	if m := h.opts.Pool.Model(); m != nil {
		data["conversation"] = m.Title
	}
	success(c, data)
}

type listenRequest struct {
	Conversation string `json:"conversation"`
}

func (h *Handlers) handleStartListening(c *gin.Context) {
	var req listenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	model, err := h.model(req.Conversation)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.opts.Pool.StartListening(c.Request.Context(), model); err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	success(c, gin.H{"listening": true, "conversation": model.Title})
}

func (h *Handlers) handleStopListening(c *gin.Context) {
	if err := h.opts.Pool.StopListening(c.Request.Context()); err != nil {
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	success(c, gin.H{"listening": false})
}

func (h *Handlers) handleListConversations(c *gin.Context) {
	if h.opts.Scripts == nil {
		success(c, []string{})
		return
	}
	success(c, h.opts.Scripts.Titles())
}

func (h *Handlers) requireDB(c *gin.Context) bool {
	if h.opts.DB == nil {
		fail(c, http.StatusNotImplemented, "no database configured")
		return false
	}
	return true
}

func contactID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid contact id")
		return 0, false
	}
	return uint(id), true
}

func (h *Handlers) handleListContacts(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	contacts, err := models.ListContacts(h.opts.DB, nil)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, contacts)
}

type contactRequest struct {
	Name        string `json:"name" binding:"required"`
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Address     string `json:"address"`
}

func (h *Handlers) handleCreateContact(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if !call.ValidNumber(req.PhoneNumber) {
		fail(c, http.StatusBadRequest, call.ErrInvalidNumber.Error())
		return
	}
	contact := &models.Contact{Name: req.Name, PhoneNumber: req.PhoneNumber, Address: req.Address}
	if err := models.CreateContact(h.opts.DB, contact); err != nil {
		fail(c, http.StatusConflict, err.Error())
		return
	}
	success(c, contact)
}

func (h *Handlers) handleGetContact(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	id, ok := contactID(c)
	if !ok {
		return
	}
	contact, err := models.GetContact(h.opts.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, http.StatusNotFound, "contact not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, contact)
}

func (h *Handlers) handleDeleteContact(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	id, ok := contactID(c)
	if !ok {
		return
	}
	if err := models.DeleteContact(h.opts.DB, id); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, gin.H{"id": id})
}

func (h *Handlers) handleContactResults(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	id, ok := contactID(c)
	if !ok {
		return
	}
	title := c.Query("conversation")
	if title == "" {
		if m := h.opts.Pool.Model(); m != nil {
			title = m.Title
		}
	}
	if title == "" {
		fail(c, http.StatusBadRequest, "conversation is required")
		return
	}
	status, err := models.GetConversationStatus(h.opts.DB, id, title)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	results, err := models.GetConversationResults(h.opts.DB, id, title)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, gin.H{"status": status, "results": results})
}

type campaignRequest struct {
	Conversation string `json:"conversation"`
	ContactIDs   []uint `json:"contactIds"`
	MaxAttempts  int    `json:"maxAttempts"`
}

func (h *Handlers) handleStartCampaign(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	var req campaignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	model, err := h.model(req.Conversation)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	cfg := h.opts.Campaign
	if cfg.Concurrency < 1 {
		cfg.Concurrency = len(h.opts.Pool.Lines())
	}
	run, err := campaign.New(h.opts.DB, h.opts.Pool, model, cfg)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	run.SetRecorder(h.opts.Recorder)

	h.campaignMu.Lock()
	if h.campaignActive {
		h.campaignMu.Unlock()
		fail(c, http.StatusConflict, "a campaign is already running")
		return
	}
	h.campaignActive = true
	h.campaignMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		report, err := run.CallContacts(h.ctx, req.ContactIDs, req.MaxAttempts)
		h.campaignMu.Lock()
		h.campaignActive = false
		h.lastReport = &report
		h.lastError = ""
		if err != nil {
			h.lastError = err.Error()
			logger.Error("Campaign stopped", zap.String("conversation", model.Title), zap.Error(err))
		}
		h.campaignMu.Unlock()
	}()
	accepted(c, gin.H{"conversation": model.Title})
}

func (h *Handlers) handleCampaignStatus(c *gin.Context) {
	h.campaignMu.Lock()
	defer h.campaignMu.Unlock()
	success(c, gin.H{
		"running": h.campaignActive,
		"report":  h.lastReport,
		"error":   h.lastError,
	})
}

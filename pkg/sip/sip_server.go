package sip1

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/sip/ua"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

// SipServer SIP用户代理，为会话池提供呼入呼出能力 (call.Transport)
type SipServer struct {
	config   *ua.UAConfig
	identity *ua.Identity
	ua       *sipgo.UserAgent
	client   *sipgo.Client
	server   *sipgo.Server

	mutex   sync.RWMutex
	legs    map[string]*rtpLeg
	handler call.IncomingHandler
	running bool
	cancel  context.CancelFunc

	registration registration
}

var _ call.Transport = (*SipServer)(nil)

func NewSipServer(uaConfig *ua.UAConfig, identity *ua.Identity) (*SipServer, error) {
	if uaConfig == nil {
		uaConfig = ua.DefaultUAConfig()
	}
	uaConfig.ApplyDefaults()
	if err := uaConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid UA config: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("telephony identity is required")
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	userAgent, err := sipgo.NewUA(sipgo.WithUserAgent(uaConfig.UserAgentName))
	if err != nil {
		return nil, fmt.Errorf("failed to create UA: %w", err)
	}

	server, err := sipgo.NewServer(userAgent)
	if err != nil {
		userAgent.Close()
		return nil, fmt.Errorf("failed to create SIP server: %w", err)
	}

	client, err := sipgo.NewClient(userAgent)
	if err != nil {
		userAgent.Close()
		return nil, fmt.Errorf("create SIP client failed: %w", err)
	}

	return &SipServer{
		config:   uaConfig,
		identity: identity,
		server:   server,
		client:   client,
		ua:       userAgent,
		legs:     make(map[string]*rtpLeg),
	}, nil
}

// Start 注册处理函数并在后台监听
func (as *SipServer) Start(ctx context.Context) error {
	as.mutex.Lock()
	if as.running {
		as.mutex.Unlock()
		return nil
	}
	ctx, as.cancel = context.WithCancel(ctx)
	as.running = true
	as.mutex.Unlock()

	as.RegisterFunc()

	addr := as.config.GetSIPAddress()
	errCh := make(chan error, 1)
	go func() {
		errCh <- as.server.ListenAndServe(ctx, "udp", addr)
	}()

	select {
	case err := <-errCh:
		as.mutex.Lock()
		as.running = false
		as.mutex.Unlock()
		if err != nil {
			return fmt.Errorf("failed to start server on %s: %w", addr, err)
		}
		return nil
	case <-time.After(200 * time.Millisecond):
	}
	logger.Info("SIP server listening",
		zap.String("addr", addr),
		zap.String("identity", as.identity.IDURI))
	return nil
}

func (as *SipServer) Close() {
	as.mutex.Lock()
	legs := make([]*rtpLeg, 0, len(as.legs))
	for _, leg := range as.legs {
		legs = append(legs, leg)
	}
	cancel := as.cancel
	as.running = false
	as.mutex.Unlock()

	ctx, done := context.WithTimeout(context.Background(), drainTimeout)
	defer done()
	for _, leg := range legs {
		_ = leg.HangUp(ctx)
	}
	as.stopRefresh()
	if cancel != nil {
		cancel()
	}
	as.server.Close()
	as.client.Close()
	as.ua.Close()
	logger.Info("SIP Server Closed")
}

// SetIncomingHandler 设置呼入处理
func (as *SipServer) SetIncomingHandler(h call.IncomingHandler) {
	as.mutex.Lock()
	as.handler = h
	as.mutex.Unlock()
}

func (as *SipServer) incomingHandler() call.IncomingHandler {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	return as.handler
}

// Legs 当前通话数
func (as *SipServer) Legs() int {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	return len(as.legs)
}

func (as *SipServer) track(leg *rtpLeg) {
	as.mutex.Lock()
	as.legs[leg.ID()] = leg
	as.mutex.Unlock()
	leg.setOnClose(func() { as.untrack(leg.ID()) })
}

func (as *SipServer) untrack(callID string) {
	as.mutex.Lock()
	delete(as.legs, callID)
	as.mutex.Unlock()
}

func (as *SipServer) lookup(callID string) (*rtpLeg, bool) {
	as.mutex.RLock()
	defer as.mutex.RUnlock()
	leg, ok := as.legs[callID]
	return leg, ok
}

// openLeg 分配RTP端口并启动接收
func (as *SipServer) openLeg(callID, remote string) (*rtpLeg, error) {
	conn, err := listenRTP(as.config.Host, as.config.LocalRTPPort, as.config.RTPPortCount)
	if err != nil {
		return nil, err
	}
	leg := newRTPLeg(callID, remote, conn)
	go leg.readLoop()
	return leg, nil
}

// contactHeader 本机 Contact
func (as *SipServer) contactHeader(host string) *sip.ContactHeader {
	user := as.identity.Username
	if uri, err := as.identity.URI(); err == nil && uri.User != "" {
		user = uri.User
	}
	return &sip.ContactHeader{
		Address: sip.Uri{User: user, Host: host, Port: as.config.Port},
	}
}

// advertisedIP 对外通告的本机地址
func (as *SipServer) advertisedIP() string {
	if ip := net.ParseIP(as.config.Host); ip != nil && !ip.IsUnspecified() {
		return as.config.Host
	}
	domain, err := as.identity.Domain()
	if err != nil {
		return localIPFor("")
	}
	port := domain.Port
	if port == 0 {
		port = 5060
	}
	return localIPFor(net.JoinHostPort(domain.Host, strconv.Itoa(port)))
}

// recordCall 写入信令层通话记录
func (as *SipServer) recordCall(record *models.CallRecord) {
	if err := as.config.SaveCall(record); err != nil {
		logger.Warn("Failed to save call record", zap.String("call_id", record.CallID), zap.Error(err))
	}
}

// updateCallStatus updates call status based on storage type
func (as *SipServer) updateCallStatus(callID string, status models.CallStatus, reason string) {
	now := time.Now()
	err := as.config.UpdateCall(callID, func(record *models.CallRecord) {
		switch status {
		case models.CallStatusAnswered:
			if record.AnswerTime == nil {
				record.AnswerTime = &now
			}
			record.Status = status
		case models.CallStatusEnded:
			record.MarkEnded(now)
		default:
			record.Status = status
			record.EndTime = &now
		}
		if reason != "" {
			record.ErrorMessage = reason
		}
	})
	if err != nil {
		logger.Debug("Failed to update call status", zap.String("call_id", callID), zap.Error(err))
	}
}

package sip1

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/utils"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"go.uber.org/zap"
)

// registration 注册状态
type registration struct {
	mutex        sync.RWMutex
	cancel       context.CancelFunc
	done         chan struct{}
	IsRegistered bool
	LastRegister time.Time
	LastError    error
}

// RegistrationStatus 注册状态快照
type RegistrationStatus struct {
	Identity     string    `json:"identity"`
	IsRegistered bool      `json:"isRegistered"`
	LastRegister time.Time `json:"lastRegister"`
	LastError    string    `json:"lastError,omitempty"`
}

// Status 返回注册状态
func (as *SipServer) Status() RegistrationStatus {
	r := &as.registration
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	status := RegistrationStatus{
		Identity:     as.identity.IDURI,
		IsRegistered: r.IsRegistered,
		LastRegister: r.LastRegister,
	}
	if r.LastError != nil {
		status.LastError = r.LastError.Error()
	}
	return status
}

// Register 向注册服务器注册身份，并定期刷新
func (as *SipServer) Register(ctx context.Context) error {
	if as.identity.RegistrarURI == "" {
		logger.Info("No registrar configured, skipping registration", zap.String("identity", as.identity.IDURI))
		return nil
	}

	logger.Info("Starting SIP registration",
		zap.String("identity", as.identity.IDURI),
		zap.String("registrar", as.identity.RegistrarURI),
		zap.String("username", as.identity.Username))

	expires, err := as.sendRegister(ctx, as.config.RegisterExpires)
	as.setRegistered(err == nil, err)
	if err != nil {
		return fmt.Errorf("register %s: %w", as.identity.IDURI, err)
	}
	as.startPeriodicRegistration(expires)
	return nil
}

// Unregister 注销 (Expires: 0)
func (as *SipServer) Unregister(ctx context.Context) error {
	as.stopRefresh()
	if as.identity.RegistrarURI == "" {
		return nil
	}
	_, err := as.sendRegister(ctx, 0)
	as.setRegistered(false, err)
	if err != nil {
		return fmt.Errorf("unregister %s: %w", as.identity.IDURI, err)
	}
	logger.Info("SIP identity unregistered", zap.String("identity", as.identity.IDURI))
	return nil
}

func (as *SipServer) setRegistered(ok bool, err error) {
	r := &as.registration
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.IsRegistered = ok
	r.LastError = err
	if ok {
		r.LastRegister = time.Now()
	}
}

// startPeriodicRegistration 启动定期重新注册
func (as *SipServer) startPeriodicRegistration(expires int) {
	as.stopRefresh()
	interval := time.Duration(expires) * time.Second * 3 / 4
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r := &as.registration
	r.mutex.Lock()
	r.cancel = cancel
	r.done = done
	r.mutex.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rctx, rcancel := context.WithTimeout(ctx, as.config.RegisterTimeout)
				_, err := as.sendRegister(rctx, as.config.RegisterExpires)
				rcancel()
				as.setRegistered(err == nil, err)
				if err != nil {
					logger.Error("SIP re-registration failed", zap.String("identity", as.identity.IDURI), zap.Error(err))
				}
			}
		}
	}()
}

func (as *SipServer) stopRefresh() {
	r := &as.registration
	r.mutex.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mutex.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// sendRegister returns the expiry granted by the registrar.
func (as *SipServer) sendRegister(ctx context.Context, expires int) (int, error) {
	registrar, err := as.identity.Registrar()
	if err != nil {
		return 0, err
	}
	aor, err := as.identity.URI()
	if err != nil {
		return 0, err
	}

	req := sip.NewRequest(sip.REGISTER, &registrar)
	from := &sip.FromHeader{Address: aor, Params: sip.NewParams()}
	from.Params.Add("tag", utils.RandText(16))
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})
	req.AppendHeader(as.contactHeader(as.advertisedIP()))
	exp := sip.ExpiresHeader(expires)
	req.AppendHeader(&exp)

	res, err := as.request(ctx, req)
	if err != nil {
		return 0, err
	}
	if res.StatusCode != sip.StatusOK {
		return 0, fmt.Errorf("registrar answered %d %s", res.StatusCode, res.Reason)
	}
	if h := res.GetHeader("Expires"); h != nil {
		var granted int
		if _, err := fmt.Sscanf(h.Value(), "%d", &granted); err == nil && granted > 0 {
			return granted, nil
		}
	}
	return expires, nil
}

// request sends req and returns the final response, answering one digest
// challenge with the identity credentials.
func (as *SipServer) request(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, as.config.TransactionTimeout)
	defer cancel()

	tx, err := as.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := finalResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return nil, err
	}
	if res.StatusCode != sip.StatusUnauthorized && res.StatusCode != sip.StatusProxyAuthRequired {
		return res, nil
	}

	authed, err := as.authorize(req, res)
	if err != nil {
		return nil, err
	}
	tx, err = as.client.TransactionRequest(ctx, authed)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()
	return finalResponse(ctx, tx)
}

// send fires a request and waits for any final answer.
func (as *SipServer) send(ctx context.Context, req *sip.Request) error {
	res, err := as.request(ctx, req)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("%s answered %d %s", req.Method, res.StatusCode, res.Reason)
	}
	return nil
}

func finalResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		select {
		case res := <-tx.Responses():
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("transaction ended without final response")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// authorize clones req with credentials answering the challenge in res.
func (as *SipServer) authorize(req *sip.Request, res *sip.Response) (*sip.Request, error) {
	challengeHeader, authHeader := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		challengeHeader, authHeader = "Proxy-Authenticate", "Proxy-Authorization"
	}
	h := res.GetHeader(challengeHeader)
	if h == nil {
		return nil, fmt.Errorf("%d without %s header", res.StatusCode, challengeHeader)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("parse challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   string(req.Method),
		URI:      req.Recipient.String(),
		Username: as.identity.Username,
		Password: as.identity.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("digest: %w", err)
	}

	next := req.Clone()
	next.RemoveHeader("Via")
	next.RemoveHeader(authHeader)
	next.CSeq().SeqNo++
	next.AppendHeader(sip.NewHeader(authHeader, cred.String()))
	return next, nil
}

package sip1

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/utils"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

// outboundDialog 呼出对话 (UAC)
type outboundDialog struct {
	server *SipServer
	leg    *rtpLeg

	mutex   sync.Mutex
	invite  *sip.Request
	answer  *sip.Response
	stopped bool
}

// Dial 发起呼叫。INVITE 发出即返回，振铃与接通通过 leg 的通道通知
func (as *SipServer) Dial(ctx context.Context, number string) (call.Leg, error) {
	domain, err := as.identity.Domain()
	if err != nil {
		return nil, err
	}
	aor, err := as.identity.URI()
	if err != nil {
		return nil, err
	}

	callID := utils.NewID()
	leg, err := as.openLeg(callID, number)
	if err != nil {
		return nil, err
	}

	localIP := as.advertisedIP()
	target := sip.Uri{User: number, Host: domain.Host, Port: domain.Port}
	invite := sip.NewRequest(sip.INVITE, &target)
	from := &sip.FromHeader{Address: aor, Params: sip.NewParams()}
	from.Params.Add("tag", utils.RandText(16))
	callIDHeader := sip.CallIDHeader(callID)
	maxForwards := sip.MaxForwardsHeader(as.config.MaxForwards)
	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(from)
	invite.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})
	invite.AppendHeader(&callIDHeader)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&maxForwards)
	invite.AppendHeader(as.contactHeader(localIP))
	invite.AppendHeader(&contentType)
	invite.SetBody([]byte(generateSDP(localIP, leg.localPort())))

	d := &outboundDialog{server: as, leg: leg, invite: invite}
	txCtx, cancel := context.WithCancel(context.Background())
	tx, err := as.client.TransactionRequest(txCtx, invite)
	if err != nil {
		cancel()
		leg.finish()
		return nil, fmt.Errorf("send INVITE to %s: %w", target.String(), err)
	}

	as.track(leg)
	leg.setHangup(d.hangUp)
	as.recordCall(&models.CallRecord{
		CallID:    callID,
		Direction: models.CallDirectionOutbound,
		Status:    models.CallStatusDialing,
		Caller:    aor.User,
		Callee:    number,
		StartTime: time.Now(),
	})
	logger.Info("Outbound INVITE sent",
		zap.String("call_id", callID),
		zap.String("to", target.String()))

	go func() {
		defer cancel()
		d.watch(txCtx, tx)
	}()
	return leg, nil
}

// watch 处理INVITE的响应直到最终结果
func (d *outboundDialog) watch(ctx context.Context, tx sip.ClientTransaction) {
	as := d.server
	callID := d.leg.ID()
	authed := false
	defer func() { tx.Terminate() }()

	for {
		select {
		case <-d.leg.Done():
			return
		case <-tx.Done():
			if d.answered() {
				return
			}
			err := tx.Err()
			logger.Info("INVITE transaction ended without answer", zap.String("call_id", callID), zap.Error(err))
			d.leg.finish()
			as.updateCallStatus(callID, models.CallStatusFailed, fmt.Sprint(err))
			return
		case res := <-tx.Responses():
			switch {
			case res.StatusCode == sip.StatusRinging || res.StatusCode == sip.StatusSessionInProgress:
				if len(res.Body()) > 0 {
					if err := d.applyEarlyMedia(res.Body()); err != nil {
						logger.Warn("Failed to apply early media SDP", zap.String("call_id", callID), zap.Error(err))
					}
				}
				d.leg.markRinging()
				as.updateCallStatus(callID, models.CallStatusRinging, "")

			case res.StatusCode < 200:

			case res.StatusCode < 300:
				d.confirm(res)
				return

			case (res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired) && !authed:
				authed = true
				d.mutex.Lock()
				invite, err := as.authorize(d.invite, res)
				if err == nil {
					d.invite = invite
				}
				d.mutex.Unlock()
				var next sip.ClientTransaction
				if err == nil {
					next, err = as.client.TransactionRequest(ctx, invite)
				}
				if err != nil {
					logger.Error("INVITE digest auth failed", zap.String("call_id", callID), zap.Error(err))
					d.leg.finish()
					as.updateCallStatus(callID, models.CallStatusFailed, err.Error())
					return
				}
				tx.Terminate()
				tx = next

			default:
				logger.Info("Outbound call rejected",
					zap.String("call_id", callID),
					zap.Int("status", int(res.StatusCode)),
					zap.String("reason", res.Reason))
				d.leg.finish()
				as.updateCallStatus(callID, models.CallStatusRejected, fmt.Sprintf("%d %s", res.StatusCode, res.Reason))
				return
			}
		}
	}
}

// applyEarlyMedia points the leg at the media address of a provisional
// response.
func (d *outboundDialog) applyEarlyMedia(body []byte) error {
	offer, err := parseMediaOffer(string(body))
	if err != nil {
		return err
	}
	return d.leg.applyOffer(offer)
}

func (d *outboundDialog) answered() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.answer != nil
}

// confirm 收到2xx后发送ACK并标记接通
func (d *outboundDialog) confirm(res *sip.Response) {
	as := d.server
	callID := d.leg.ID()
	if offer, err := parseMediaOffer(string(res.Body())); err == nil {
		if err := d.leg.applyOffer(offer); err != nil {
			logger.Warn("Failed to apply SDP answer", zap.String("call_id", callID), zap.Error(err))
		}
	} else {
		logger.Warn("2xx without usable SDP", zap.String("call_id", callID), zap.Error(err))
	}

	d.mutex.Lock()
	d.answer = res
	stopped := d.stopped
	invite := d.invite
	d.mutex.Unlock()

	ack := sip.NewAckRequest(invite, res, nil)
	if err := as.client.WriteRequest(ack); err != nil {
		logger.Error("Failed to send ACK", zap.String("call_id", callID), zap.Error(err))
	}
	if stopped {
		// answered after we gave up: close the dialog right away
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		_ = d.bye(ctx)
		d.leg.finish()
		return
	}
	d.leg.markAnswered()
	as.updateCallStatus(callID, models.CallStatusAnswered, "")
	logger.Info("Outbound call answered", zap.String("call_id", callID))
}

// hangUp 接通后发送BYE，未接通时发送CANCEL
func (d *outboundDialog) hangUp(ctx context.Context) error {
	d.mutex.Lock()
	answered := d.answer != nil
	d.stopped = true
	d.mutex.Unlock()
	if answered {
		d.server.updateCallStatus(d.leg.ID(), models.CallStatusEnded, "")
		return d.bye(ctx)
	}
	d.server.updateCallStatus(d.leg.ID(), models.CallStatusRejected, "cancelled")
	return d.cancel(ctx)
}

func (d *outboundDialog) bye(ctx context.Context) error {
	d.mutex.Lock()
	invite, res := d.invite, d.answer
	d.mutex.Unlock()

	target := invite.Recipient
	if contact := res.Contact(); contact != nil {
		addr := contact.Address
		target = &addr
	}
	bye := sip.NewRequest(sip.BYE, target)
	from := *invite.From()
	to := *res.To()
	callID := sip.CallIDHeader(invite.CallID().Value())
	maxForwards := sip.MaxForwardsHeader(d.server.config.MaxForwards)
	bye.AppendHeader(&from)
	bye.AppendHeader(&to)
	bye.AppendHeader(&callID)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: invite.CSeq().SeqNo + 1, MethodName: sip.BYE})
	bye.AppendHeader(&maxForwards)
	if src := res.Source(); src != "" {
		bye.SetDestination(src)
	}
	return d.server.send(ctx, bye)
}

func (d *outboundDialog) cancel(ctx context.Context) error {
	d.mutex.Lock()
	invite := d.invite
	d.mutex.Unlock()

	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	if via := invite.Via(); via != nil {
		v := *via
		cancel.AppendHeader(&v)
	}
	from := *invite.From()
	to := *invite.To()
	callID := sip.CallIDHeader(invite.CallID().Value())
	maxForwards := sip.MaxForwardsHeader(d.server.config.MaxForwards)
	cancel.AppendHeader(&from)
	cancel.AppendHeader(&to)
	cancel.AppendHeader(&callID)
	cancel.AppendHeader(&sip.CSeqHeader{SeqNo: invite.CSeq().SeqNo, MethodName: sip.CANCEL})
	cancel.AppendHeader(&maxForwards)
	return d.server.send(ctx, cancel)
}

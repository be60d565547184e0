package sip1

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/call"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/utils"
	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"
)

func (as *SipServer) RegisterFunc() {
	as.server.OnInvite(as.handleInvite)   // inbound call
	as.server.OnOptions(as.handleOptions) // return server methods
	as.server.OnAck(as.handleAck)         // ack (after our 200 OK)
	as.server.OnCancel(as.handleCancel)
	as.server.OnBye(as.handleBye)
	as.server.OnInfo(as.handleInfo)
}

func (as *SipServer) respond(req *sip.Request, tx sip.ServerTransaction, status sip.StatusCode, reason string) {
	res := sip.NewResponseFromRequest(req, status, reason, nil)
	if err := tx.Respond(res); err != nil {
		logger.Error("Failed to send response",
			zap.String("call_id", req.CallID().Value()),
			zap.Int("status", int(status)),
			zap.Error(err))
	}
}

func (as *SipServer) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	logger.Info(fmt.Sprintf("RECEIVED INVITE REQUEST %v", req.StartLine()), zap.String("call_id", callID))

	if _, exists := as.lookup(callID); exists {
		// re-INVITE, media unchanged
		as.respond(req, tx, sip.StatusOK, "OK")
		return
	}

	handler := as.incomingHandler()
	if handler == nil {
		as.respond(req, tx, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable")
		return
	}

	offer, err := parseMediaOffer(string(req.Body()))
	if err != nil || !offer.PCMU {
		logger.Warn("Unusable SDP offer", zap.String("call_id", callID), zap.Error(err))
		as.respond(req, tx, sip.StatusNotAcceptableHere, "Not Acceptable Here")
		return
	}

	as.respond(req, tx, sip.StatusTrying, "Trying")

	var caller, callee string
	if from := req.From(); from != nil {
		caller = from.Address.User
	}
	if to := req.To(); to != nil {
		callee = to.Address.User
	}

	leg, err := as.openLeg(callID, caller)
	if err != nil {
		logger.Error("Failed to open RTP leg", zap.String("call_id", callID), zap.Error(err))
		as.respond(req, tx, sip.StatusInternalServerError, "Internal Server Error")
		return
	}
	if err := leg.applyOffer(offer); err != nil {
		leg.finish()
		as.respond(req, tx, sip.StatusNotAcceptableHere, "Not Acceptable Here")
		return
	}

	as.recordCall(&models.CallRecord{
		CallID:        callID,
		Direction:     models.CallDirectionInbound,
		Status:        models.CallStatusRinging,
		Caller:        caller,
		Callee:        callee,
		RemoteRTPAddr: offer.Addr,
		StartTime:     time.Now(),
	})

	as.track(leg)
	if err := handler(leg); err != nil {
		leg.finish()
		status, reason := sip.StatusTemporarilyUnavailable, "Temporarily Unavailable"
		if errors.Is(err, call.ErrNoIdleLine) {
			status, reason = sip.StatusBusyHere, "Busy Here"
		}
		logger.Info("Rejecting inbound call", zap.String("call_id", callID), zap.Error(err))
		as.respond(req, tx, status, reason)
		as.updateCallStatus(callID, models.CallStatusRejected, err.Error())
		return
	}

	toTag := utils.RandText(16)
	ringing := sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)
	ringing.To().Params.Add("tag", toTag)
	if err := tx.Respond(ringing); err != nil {
		logger.Warn("Failed to send 180 Ringing", zap.String("call_id", callID), zap.Error(err))
	}
	leg.markRinging()

	// Generate SDP response (use request source address to determine server IP)
	serverIP := getServerIPFromRequest(req)
	sdpBytes := []byte(generateSDP(serverIP, leg.localPort()))

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", sdpBytes)
	res.To().Params.Add("tag", toTag)
	contentType := sip.ContentTypeHeader("application/sdp")
	res.AppendHeader(&contentType)
	// some clients need Contact to route ACK and BYE
	res.AppendHeader(as.contactHeader(serverIP))

	leg.setHangup(func(ctx context.Context) error {
		return as.byeInbound(ctx, req, toTag)
	})
	if err := tx.Respond(res); err != nil {
		logger.Error("Failed to send 200 OK", zap.String("call_id", callID), zap.Error(err))
		leg.finish()
		as.updateCallStatus(callID, models.CallStatusFailed, err.Error())
		return
	}
	logger.Info("200 OK response sent, waiting for ACK", zap.String("call_id", callID))
}

// byeInbound 作为被叫方主动挂断
func (as *SipServer) byeInbound(ctx context.Context, invite *sip.Request, toTag string) error {
	target := invite.From().Address
	if contact := invite.Contact(); contact != nil {
		target = contact.Address
	}
	bye := sip.NewRequest(sip.BYE, &target)

	from := &sip.FromHeader{
		DisplayName: invite.To().DisplayName,
		Address:     invite.To().Address,
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", toTag)
	to := &sip.ToHeader{
		DisplayName: invite.From().DisplayName,
		Address:     invite.From().Address,
		Params:      invite.From().Params,
	}
	callID := sip.CallIDHeader(invite.CallID().Value())
	maxForwards := sip.MaxForwardsHeader(as.config.MaxForwards)
	bye.AppendHeader(from)
	bye.AppendHeader(to)
	bye.AppendHeader(&callID)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})
	bye.AppendHeader(&maxForwards)
	if src := invite.Source(); src != "" {
		bye.SetDestination(src)
	}
	as.updateCallStatus(invite.CallID().Value(), models.CallStatusEnded, "")
	return as.send(ctx, bye)
}

func (as *SipServer) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	// Return 200 OK, indicating support for these methods
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO"))
	if err := tx.Respond(res); err != nil {
		logger.Error("Failed to send OPTIONS response", zap.Error(err))
	}
}

func (as *SipServer) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	leg, exists := as.lookup(callID)
	if !exists {
		logger.Warn("Received ACK but could not find corresponding session", zap.String("call_id", callID))
		return
	}
	leg.markAnswered()
	as.updateCallStatus(callID, models.CallStatusAnswered, "")
	logger.Info("Session established", zap.String("call_id", callID))
}

// handleInfo handles SIP INFO request (for receiving DTMF)
func (as *SipServer) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	leg, exists := as.lookup(callID)
	if !exists {
		as.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	if digit := parseInfoDTMF(string(req.Body())); digit != "" {
		leg.pushDigit(digit)
	}
	as.respond(req, tx, sip.StatusOK, "OK")
}

func (as *SipServer) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	logger.Info("Received CANCEL request", zap.String("call_id", callID))
	if leg, exists := as.lookup(callID); exists {
		leg.finish()
		as.updateCallStatus(callID, models.CallStatusRejected, "cancelled")
	}
	as.respond(req, tx, sip.StatusOK, "OK")
}

func (as *SipServer) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	logger.Info("Received BYE request", zap.String("call_id", callID))

	leg, exists := as.lookup(callID)
	if !exists {
		as.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	leg.finish()
	as.updateCallStatus(callID, models.CallStatusEnded, "")
	as.respond(req, tx, sip.StatusOK, "OK")
}

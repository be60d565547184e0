package sip1

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

var errLegClosed = errors.New("rtp leg closed")

// rtpLeg 一路SIP通话的媒体与信令状态，实现 call.Leg
type rtpLeg struct {
	id     string
	remote string
	conn   *net.UDPConn

	mu        sync.Mutex
	peer      *net.UDPAddr
	eventType uint8
	ssrc      uint32
	seq       uint16
	timestamp uint32
	lastEvent uint32
	hasEvent  bool
	hangup    func(ctx context.Context) error
	onClose   func()

	ringing  chan struct{}
	answered chan struct{}
	done     chan struct{}
	frames   chan []int16
	digits   chan string

	ringOnce   sync.Once
	answerOnce sync.Once
	doneOnce   sync.Once
}

func newRTPLeg(id, remote string, conn *net.UDPConn) *rtpLeg {
	return &rtpLeg{
		id:        id,
		remote:    remote,
		conn:      conn,
		eventType: payloadTelephoneEvent,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Intn(65536)),
		timestamp: rand.Uint32(),
		ringing:   make(chan struct{}),
		answered:  make(chan struct{}),
		done:      make(chan struct{}),
		frames:    make(chan []int16, 64),
		digits:    make(chan string, 16),
	}
}

func (l *rtpLeg) ID() string                { return l.id }
func (l *rtpLeg) Remote() string            { return l.remote }
func (l *rtpLeg) Ringing() <-chan struct{}  { return l.ringing }
func (l *rtpLeg) Answered() <-chan struct{} { return l.answered }
func (l *rtpLeg) Done() <-chan struct{}     { return l.done }
func (l *rtpLeg) Frames() <-chan []int16    { return l.frames }
func (l *rtpLeg) Digits() <-chan string     { return l.digits }

func (l *rtpLeg) markRinging() { l.ringOnce.Do(func() { close(l.ringing) }) }

func (l *rtpLeg) markAnswered() {
	l.markRinging()
	l.answerOnce.Do(func() { close(l.answered) })
}

func (l *rtpLeg) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *rtpLeg) localPort() int {
	if l.conn == nil {
		return 0
	}
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// applyOffer points outgoing media at the remote SDP address.
func (l *rtpLeg) applyOffer(offer *MediaOffer) error {
	addr, err := net.ResolveUDPAddr("udp", offer.Addr)
	if err != nil {
		return fmt.Errorf("failed to resolve remote rtp address: %w", err)
	}
	l.mu.Lock()
	l.peer = addr
	if offer.EventType != 0 {
		l.eventType = offer.EventType
	}
	l.mu.Unlock()
	return nil
}

func (l *rtpLeg) setHangup(fn func(ctx context.Context) error) {
	l.mu.Lock()
	l.hangup = fn
	l.mu.Unlock()
}

func (l *rtpLeg) setOnClose(fn func()) {
	l.mu.Lock()
	l.onClose = fn
	l.mu.Unlock()
}

// HangUp ends the call with BYE (or CANCEL before answer) and releases media.
func (l *rtpLeg) HangUp(ctx context.Context) error {
	if l.closed() {
		return nil
	}
	l.mu.Lock()
	hangup := l.hangup
	l.mu.Unlock()
	var err error
	if hangup != nil {
		err = hangup(ctx)
	}
	l.finish()
	return err
}

// finish releases the leg. Safe to call more than once.
func (l *rtpLeg) finish() {
	l.doneOnce.Do(func() {
		close(l.done)
		if l.conn != nil {
			l.conn.Close()
		}
		l.mu.Lock()
		onClose := l.onClose
		l.mu.Unlock()
		if onClose != nil {
			onClose()
		}
	})
}

// WriteFrame 发送一个20ms的PCMU包
func (l *rtpLeg) WriteFrame(ctx context.Context, frame []int16) error {
	if l.closed() {
		return errLegClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	peer := l.peer
	if peer == nil {
		l.mu.Unlock()
		return nil
	}
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadPCMU,
			SequenceNumber: l.seq,
			Timestamp:      l.timestamp,
			SSRC:           l.ssrc,
		},
		Payload: audio.EncodeMulaw(frame),
	}
	l.seq++
	l.timestamp += uint32(len(frame))
	l.mu.Unlock()

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal RTP packet: %w", err)
	}
	if _, err := l.conn.WriteToUDP(data, peer); err != nil {
		if l.closed() {
			return errLegClosed
		}
		return fmt.Errorf("failed to send RTP packet: %w", err)
	}
	return nil
}

// readLoop 接收RTP直到连接关闭
func (l *rtpLeg) readLoop() {
	buffer := make([]byte, 1500)
	for {
		n, from, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			if l.closed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logger.Debug("rtp read stopped", zap.String("call_id", l.id), zap.Error(err))
			return
		}

		l.mu.Lock()
		if l.peer == nil {
			l.peer = from
		}
		accept := l.peer.IP.Equal(from.IP)
		l.mu.Unlock()
		if !accept {
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buffer[:n]); err != nil {
			continue
		}
		l.handlePacket(packet)
	}
}

func (l *rtpLeg) handlePacket(packet *rtp.Packet) {
	l.mu.Lock()
	eventType := l.eventType
	l.mu.Unlock()

	switch packet.PayloadType {
	case payloadPCMU:
		frame := audio.DecodeMulaw(packet.Payload)
		select {
		case l.frames <- frame:
		default:
			// reader behind, drop
		}
	case eventType:
		ev, ok := parseTelephoneEvent(packet.Payload)
		if !ok || !ev.End {
			return
		}
		// end packets are retransmitted with the same timestamp
		l.mu.Lock()
		dup := l.hasEvent && l.lastEvent == packet.Timestamp
		l.lastEvent = packet.Timestamp
		l.hasEvent = true
		l.mu.Unlock()
		if dup {
			return
		}
		if digit, exists := dtmfEvents[ev.Event]; exists {
			l.pushDigit(digit)
		}
	}
}

func (l *rtpLeg) pushDigit(digit string) {
	select {
	case l.digits <- digit:
		logger.Debug("dtmf digit detected", zap.String("call_id", l.id), zap.String("digit", digit))
	default:
		logger.Warn("dtmf channel full, dropping key", zap.String("call_id", l.id), zap.String("digit", digit))
	}
}

// listenRTP 在端口范围内绑定一个RTP端口
func listenRTP(host string, first, count int) (*net.UDPConn, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4zero
	}
	if first <= 0 {
		return net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: 0})
	}
	if count <= 0 {
		count = 1
	}
	// RTP uses even ports, RTCP the odd one above
	start := first + rand.Intn(count)
	var lastErr error
	for i := 0; i < count; i += 2 {
		port := first + (start-first+i)%count
		port -= port % 2
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free rtp port in %d-%d: %w", first, first+count, lastErr)
}

// drainTimeout bounds signalling sent while a call is torn down.
const drainTimeout = 5 * time.Second

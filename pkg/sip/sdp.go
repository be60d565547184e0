package sip1

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
	sdp "github.com/pion/sdp/v3"
)

const (
	payloadPCMU           = 0
	payloadTelephoneEvent = 101
)

// MediaOffer 远端媒体描述
type MediaOffer struct {
	Addr      string // ip:port
	PCMU      bool
	EventType uint8 // telephone-event payload type, 0 when absent
}

// ParseSDPForRTPAddress 从SDP中解析远端RTP地址
func ParseSDPForRTPAddress(body string) (string, error) {
	offer, err := parseMediaOffer(body)
	if err != nil {
		return "", err
	}
	return offer.Addr, nil
}

func parseMediaOffer(body string) (*MediaOffer, error) {
	if body == "" {
		return nil, errors.New("empty sdp body")
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(body)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	host := ""
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		host = sd.ConnectionInformation.Address.Address
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			host = md.ConnectionInformation.Address.Address
		}
		if host == "" {
			return nil, errors.New("sdp has no connection address")
		}
		offer := &MediaOffer{
			Addr: net.JoinHostPort(host, strconv.Itoa(md.MediaName.Port.Value)),
		}
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}
			if pt == payloadPCMU {
				offer.PCMU = true
				continue
			}
			codec, err := sd.GetCodecForPayloadType(uint8(pt))
			if err != nil {
				continue
			}
			switch codec.Name {
			case "PCMU":
				offer.PCMU = true
			case "telephone-event":
				offer.EventType = uint8(pt)
			}
		}
		return offer, nil
	}
	return nil, errors.New("sdp has no audio media")
}

// generateSDP 生成 PCMU + RFC 2833 的媒体描述
func generateSDP(ip string, port int) string {
	sessionID := uint64(time.Now().Unix())
	md := (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{},
		},
	}).
		WithCodec(payloadPCMU, "PCMU", 8000, 0, "").
		WithCodec(payloadTelephoneEvent, "telephone-event", 8000, 0, "0-16").
		WithValueAttribute("ptime", "20").
		WithPropertyAttribute("sendrecv")

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "LingCall",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{md},
	}
	out, err := sd.Marshal()
	if err != nil {
		return ""
	}
	return string(out)
}

// getServerIPFromRequest 根据请求来源选择本机IP
func getServerIPFromRequest(req *sip.Request) string {
	remote := req.Source()
	if remote == "" {
		if via := req.Via(); via != nil {
			remote = net.JoinHostPort(via.Host, strconv.Itoa(via.Port))
		}
	}
	return localIPFor(remote)
}

// localIPFor returns the local address the kernel routes toward remote.
func localIPFor(remote string) string {
	if remote == "" {
		return "127.0.0.1"
	}
	host, port, err := net.SplitHostPort(remote)
	if err != nil {
		host, port = remote, "5060"
	}
	if port == "0" {
		port = "5060"
	}
	conn, err := net.Dial("udp", net.JoinHostPort(host, port))
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

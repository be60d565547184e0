package sip1

import (
	"encoding/binary"
	"strings"
)

// RFC 2833 telephone-event codes
var dtmfEvents = map[byte]string{
	0: "0", 1: "1", 2: "2", 3: "3", 4: "4", 5: "5", 6: "6", 7: "7", 8: "8", 9: "9",
	10: "*", 11: "#", 12: "A", 13: "B", 14: "C", 15: "D",
}

// telephoneEvent RFC 2833 事件负载
type telephoneEvent struct {
	Event    byte
	End      bool
	Volume   byte
	Duration uint16
}

func parseTelephoneEvent(payload []byte) (telephoneEvent, bool) {
	if len(payload) < 4 {
		return telephoneEvent{}, false
	}
	return telephoneEvent{
		Event:    payload[0],
		End:      payload[1]&0x80 != 0,
		Volume:   payload[1] & 0x3F,
		Duration: binary.BigEndian.Uint16(payload[2:4]),
	}, true
}

// parseInfoDTMF 解析 SIP INFO 中的按键
// (application/dtmf-relay "Signal=5" or application/dtmf "key=5")
func parseInfoDTMF(body string) string {
	for _, key := range []string{"Signal=", "key="} {
		idx := strings.Index(body, key)
		if idx < 0 {
			continue
		}
		value := body[idx+len(key):]
		if end := strings.IndexAny(value, "\r\n"); end >= 0 {
			value = value[:end]
		}
		value = strings.Trim(strings.TrimSpace(value), "\"")
		if validDigit(value) {
			return strings.ToUpper(value)
		}
		return ""
	}

	body = strings.TrimSpace(body)
	if validDigit(body) {
		return strings.ToUpper(body)
	}
	return ""
}

func validDigit(s string) bool {
	if len(s) != 1 {
		return false
	}
	return strings.ContainsAny(strings.ToUpper(s), "0123456789*#ABCD")
}

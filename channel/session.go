package channel

import (
	"encoding/binary"
	"time"

	"github.com/LoveWonYoung/udsengine/uds"
)

// SessionInfo 某个对端的诊断会话状态
type SessionInfo struct {
	NAI             uds.NetAddrInfo
	SessionType     byte
	P2ServerMax     uint16 // 毫秒
	P2StarServerMax uint16 // 毫秒
}

// DefaultSession 返回对端在默认会话下的状态
func DefaultSession(nai uds.NetAddrInfo) SessionInfo {
	return SessionInfo{
		NAI:             nai,
		SessionType:     uds.SessionDefault,
		P2ServerMax:     uint16(uds.P2CANDefaultServerMax / time.Millisecond),
		P2StarServerMax: uint16(uds.P2CANEnhancedServerMax / time.Millisecond),
	}
}

// NeedsKeepAlive 非默认会话需要周期发送 TesterPresent
func (s SessionInfo) NeedsKeepAlive() bool {
	return s.SessionType != uds.SessionDefault
}

func (s SessionInfo) P2() time.Duration {
	return time.Duration(s.P2ServerMax) * time.Millisecond
}

func (s SessionInfo) P2Star() time.Duration {
	return time.Duration(s.P2StarServerMax) * time.Millisecond
}

const sessionRecordSize = 10

// MarshalBinary [SA TA TAType RA Protocol SessionType P2(2) P2*(2)]
func (s SessionInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, sessionRecordSize)
	b[0], b[1], b[2], b[3], b[4] = s.NAI.SA, s.NAI.TA, byte(s.NAI.TAType), s.NAI.RA, byte(s.NAI.Protocol)
	b[5] = s.SessionType
	binary.BigEndian.PutUint16(b[6:8], s.P2ServerMax)
	binary.BigEndian.PutUint16(b[8:10], s.P2StarServerMax)
	return b, nil
}

func (s *SessionInfo) UnmarshalBinary(b []byte) error {
	if len(b) != sessionRecordSize {
		return uds.StatusWrongParameter
	}
	s.NAI = uds.NetAddrInfo{
		SA:       b[0],
		TA:       b[1],
		TAType:   uds.AddressingType(b[2]),
		RA:       b[3],
		Protocol: uds.Protocol(b[4]),
	}
	s.SessionType = b[5]
	s.P2ServerMax = binary.BigEndian.Uint16(b[6:8])
	s.P2StarServerMax = binary.BigEndian.Uint16(b[8:10])
	return nil
}

// peerKey 会话表的键：请求方向的 SA/TA
type peerKey struct {
	sa, ta   byte
	protocol uds.Protocol
}

func keyOf(nai uds.NetAddrInfo) peerKey {
	return peerKey{sa: nai.SA, ta: nai.TA, protocol: nai.Protocol}
}

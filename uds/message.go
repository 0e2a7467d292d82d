package uds

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LoveWonYoung/udsengine/tp_layer"
)

// AddressingType 目标地址类型
type AddressingType byte

const (
	Physical   AddressingType = 0x01
	Functional AddressingType = 0x02
)

func (t AddressingType) String() string {
	switch t {
	case Physical:
		return "Physical"
	case Functional:
		return "Functional"
	default:
		return fmt.Sprintf("AddressingType(%d)", byte(t))
	}
}

// Protocol 网络层协议
type Protocol byte

const (
	ProtocolNone Protocol = iota
	ProtocolISO15765_2_11B
	ProtocolISO15765_2_11BRemote
	ProtocolISO15765_2_29B
	ProtocolISO15765_2_29BRemote
	ProtocolISO15765_3_29B
	ProtocolISO15765_2_29BNormal
	ProtocolISO15765_2_11BExtended
	ProtocolISO15765_2_29BExtended
)

// NetAddrInfo 网络地址信息
type NetAddrInfo struct {
	SA       byte
	TA       byte
	TAType   AddressingType
	RA       byte
	Protocol Protocol
}

func (n NetAddrInfo) String() string {
	return fmt.Sprintf("SA=0x%02X TA=0x%02X %s RA=0x%02X proto=%d", n.SA, n.TA, n.TAType, n.RA, n.Protocol)
}

// Peer 返回 SA/TA 互换后的地址信息，用于把响应映射回请求方向。
func (n NetAddrInfo) Peer() NetAddrInfo {
	return NetAddrInfo{SA: n.TA, TA: n.SA, TAType: n.TAType, RA: n.RA, Protocol: n.Protocol}
}

// MessageType 消息的种类
type MessageType byte

const (
	MessageRequest      MessageType = 0
	MessageConfirm      MessageType = 1
	MessageIndication   MessageType = 2
	MessageIndicationTx MessageType = 3
	MessageConfirmUUDT  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageRequest:
		return "Request"
	case MessageConfirm:
		return "Confirm"
	case MessageIndication:
		return "Indication"
	case MessageIndicationTx:
		return "IndicationTx"
	case MessageConfirmUUDT:
		return "ConfirmUUDT"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// MaxDataLength 单条 UDS 消息允许的最大长度 (ISO-TP 12 位长度上限)
const MaxDataLength = 4095

// Message 一条 UDS 消息：请求、确认或响应
type Message struct {
	NAI                NetAddrInfo
	Result             tp_layer.NResult
	NoPositiveResponse bool
	Data               []byte
	Type               MessageType
}

func (m *Message) String() string {
	return fmt.Sprintf("[%s] %s result=%s len=%d % X", m.Type, m.NAI, m.Result, len(m.Data), m.Data)
}

// Clone 深拷贝
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Data = append([]byte(nil), m.Data...)
	return &c
}

// IsValidResponse 首字节带有 0x40 位即视为响应 (正响应或 0x7F 负响应)
func (m *Message) IsValidResponse() bool {
	return m != nil && len(m.Data) > 0 && m.Data[0]&0x40 == 0x40
}

func (m *Message) IsNegativeResponse() bool {
	return m != nil && len(m.Data) > 0 && m.Data[0] == SIDNegativeResponse
}

// ServiceID 负响应返回被拒绝的服务，否则返回首字节；空消息返回 0
func (m *Message) ServiceID() byte {
	if m == nil || len(m.Data) == 0 {
		return 0
	}
	if m.IsNegativeResponse() {
		if len(m.Data) < 2 {
			return 0
		}
		return m.Data[1]
	}
	return m.Data[0]
}

// NRC 负响应码，非负响应返回 0
func (m *Message) NRC() byte {
	if !m.IsNegativeResponse() || len(m.Data) < 3 {
		return 0
	}
	return m.Data[2]
}

// IsResponsePending 是否为 0x7F xx 0x78
func (m *Message) IsResponsePending() bool {
	return m.IsNegativeResponse() && m.NRC() == NRCResponsePending
}

// ResultKind 服务结果分类
type ResultKind int

const (
	ResultConfirmed ResultKind = iota
	ResultNegativeResponseCode
	ResultNetworkError
	ResultServiceMismatch
	ResultGenericError
)

func (k ResultKind) String() string {
	switch k {
	case ResultConfirmed:
		return "Confirmed"
	case ResultNegativeResponseCode:
		return "NegativeResponseCode"
	case ResultNetworkError:
		return "NetworkError"
	case ResultServiceMismatch:
		return "ServiceMismatch"
	default:
		return "GenericError"
	}
}

type ServiceResult struct {
	Kind ResultKind
	NRC  byte
}

func (r ServiceResult) String() string {
	if r.Kind == ResultNegativeResponseCode {
		return fmt.Sprintf("NRC 0x%02X (%s)", r.NRC, NRCDescription(r.NRC))
	}
	return r.Kind.String()
}

// CheckResponse 判断响应相对于期望服务的结果
func CheckResponse(msg *Message, expected byte) ServiceResult {
	if msg.Result != tp_layer.NResultOK {
		return ServiceResult{Kind: ResultNetworkError}
	}
	if msg.IsNegativeResponse() {
		if msg.ServiceID() != expected {
			return ServiceResult{Kind: ResultServiceMismatch}
		}
		return ServiceResult{Kind: ResultNegativeResponseCode, NRC: msg.NRC()}
	}
	if msg.IsValidResponse() {
		if msg.Data[0] == expected|PositiveResponseOffset {
			return ServiceResult{Kind: ResultConfirmed}
		}
		return ServiceResult{Kind: ResultServiceMismatch}
	}
	return ServiceResult{Kind: ResultGenericError}
}

const (
	recordHeaderSize = 10
	flagNoPositive   = 0x01
)

var ErrShortRecord = errors.New("uds: 记录长度不足")

// MarshalBinary [SA TA TAType RA Protocol Result Flags Type LenHi LenLo Data...]
func (m *Message) MarshalBinary() ([]byte, error) {
	if len(m.Data) > MaxDataLength {
		return nil, fmt.Errorf("uds: 数据长度 %d 超过 %d: %w", len(m.Data), MaxDataLength, StatusOverflow)
	}
	buf := make([]byte, recordHeaderSize+len(m.Data))
	buf[0] = m.NAI.SA
	buf[1] = m.NAI.TA
	buf[2] = byte(m.NAI.TAType)
	buf[3] = m.NAI.RA
	buf[4] = byte(m.NAI.Protocol)
	buf[5] = byte(m.Result)
	if m.NoPositiveResponse {
		buf[6] |= flagNoPositive
	}
	buf[7] = byte(m.Type)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(m.Data)))
	copy(buf[recordHeaderSize:], m.Data)
	return buf, nil
}

func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < recordHeaderSize {
		return ErrShortRecord
	}
	n := int(binary.BigEndian.Uint16(b[8:10]))
	if n > MaxDataLength {
		return fmt.Errorf("uds: 记录声明长度 %d 超过 %d: %w", n, MaxDataLength, StatusOverflow)
	}
	if len(b) < recordHeaderSize+n {
		return ErrShortRecord
	}
	m.NAI = NetAddrInfo{
		SA:       b[0],
		TA:       b[1],
		TAType:   AddressingType(b[2]),
		RA:       b[3],
		Protocol: Protocol(b[4]),
	}
	m.Result = tp_layer.NResult(b[5])
	m.NoPositiveResponse = b[6]&flagNoPositive != 0
	m.Type = MessageType(b[7])
	m.Data = append([]byte(nil), b[recordHeaderSize:recordHeaderSize+n]...)
	return nil
}

package tp_layer

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// CanMessage 代表一个 CAN 报文 (ISO-11898)。
type CanMessage struct {
	ArbitrationID uint32
	Data          []byte
	IsExtendedID  bool
	IsFD          bool
	BitrateSwitch bool
}

func (m *CanMessage) String() string {
	var idStr string
	if m.IsExtendedID {
		idStr = fmt.Sprintf("%08x", m.ArbitrationID)
	} else {
		idStr = fmt.Sprintf("%03x", m.ArbitrationID)
	}
	var flags []string
	if m.IsFD {
		flags = append(flags, "fd")
	}
	if m.BitrateSwitch {
		flags = append(flags, "bs")
	}
	var flagStr string
	if len(flags) > 0 {
		flagStr = fmt.Sprintf(" (%s)", strings.Join(flags, ","))
	}
	return fmt.Sprintf("<CanMessage %s [%d]%s \"%s\">", idStr, len(m.Data), flagStr, hex.EncodeToString(m.Data))
}

// State 定义了收发状态机的状态。
type State uint8

const (
	StateIdle State = iota
	StateWaitFC
	StateWaitCF
	StateTransmit
)

// FlowStatus 定义了流控帧的状态。
type FlowStatus uint8

const (
	FlowStatusContinueToSend FlowStatus = 0x00
	FlowStatusWait           FlowStatus = 0x01
	FlowStatusOverflow       FlowStatus = 0x02
)

// EventKind 区分传输层上报给上层的事件。
type EventKind uint8

const (
	// EventTxStarted 多帧发送已开始 (首帧已发出)。
	EventTxStarted EventKind = iota
	// EventTxDone 发送结束，Result 给出成功或失败原因。
	EventTxDone
	// EventRxStarted 收到首帧，报文仍在组装中。
	EventRxStarted
	// EventRxDone 接收结束，Data 为完整负载。
	EventRxDone
)

func (k EventKind) String() string {
	switch k {
	case EventTxStarted:
		return "TxStarted"
	case EventTxDone:
		return "TxDone"
	case EventRxStarted:
		return "RxStarted"
	case EventRxDone:
		return "RxDone"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event 是 Transport 事件循环产生的一条上报。
type Event struct {
	Kind       EventKind
	Data       []byte
	Length     int // 报文总长度 (首帧声明的长度或负载长度)
	Result     NResult
	Functional bool
	TxID       uint64 // 发送事件对应 Submit 返回的编号，接收事件为 0
}

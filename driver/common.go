package driver

import (
	"context"
)

// UnifiedCANMessage 是一个通用的CAN/CAN-FD消息结构体，用于在channel中传递。
type UnifiedCANMessage struct {
	ID         uint32
	DLC        byte
	Data       [64]byte // 使用64字节以兼容CAN-FD
	IsFD       bool     // 标志位，用于区分是CAN还是CAN-FD消息
	IsExtended bool     // 29位扩展帧
}

// CANDriver 定义了CAN/CAN-FD驱动的统一接口
type CANDriver interface {
	Init() error
	Start()
	Stop()
	Write(id int32, data []byte) error
	RxChan() <-chan UnifiedCANMessage
	Context() context.Context
}

// maxStandardID 是11位标准帧的最大ID，更大的ID按扩展帧处理。
const maxStandardID = 0x7FF

// CanType 定义 CAN 类型
type CanType byte

const (
	CAN   CanType = 0
	CANFD CanType = 1
)

func (c CanType) String() string {
	if c == CANFD {
		return "CANFD"
	}
	return "CAN"
}

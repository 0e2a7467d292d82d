package uds

import (
	"errors"
	"fmt"

	"github.com/LoveWonYoung/udsengine/tp_layer"
)

// Status API 状态码，可直接作为 error 返回
type Status uint32

const (
	StatusOK                 Status = 0x00
	StatusNotInitialized     Status = 0x01
	StatusAlreadyInitialized Status = 0x02
	StatusNoMemory           Status = 0x03
	StatusOverflow           Status = 0x04
	StatusTimeout            Status = 0x06
	StatusNoMessage          Status = 0x07
	StatusWrongParameter     Status = 0x08
	StatusBusLight           Status = 0x09
	StatusBusHeavy           Status = 0x0A
	StatusBusOff             Status = 0x0B
	StatusCANError           Status = 0x80000000
)

var statusText = map[Status]string{
	StatusOK:                 "OK",
	StatusNotInitialized:     "通道未初始化",
	StatusAlreadyInitialized: "通道已初始化",
	StatusNoMemory:           "内存不足",
	StatusOverflow:           "缓冲区溢出",
	StatusTimeout:            "超时",
	StatusNoMessage:          "无消息",
	StatusWrongParameter:     "参数错误",
	StatusBusLight:           "总线轻度错误",
	StatusBusHeavy:           "总线重度错误",
	StatusBusOff:             "总线关闭",
}

// CANError 将驱动层错误码包装为 Status
func CANError(code uint32) Status {
	return StatusCANError | Status(code&^uint32(StatusCANError))
}

func (s Status) IsCANError() bool {
	return s&StatusCANError != 0
}

func (s Status) Error() string {
	if s.IsCANError() {
		return fmt.Sprintf("CAN 错误 (0x%X)", uint32(s&^StatusCANError))
	}
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("未知状态 0x%X", uint32(s))
}

// Is 让任意带 CANError 标志的状态匹配 StatusCANError
func (s Status) Is(target error) bool {
	t, ok := target.(Status)
	if !ok {
		return false
	}
	if t == StatusCANError {
		return s.IsCANError()
	}
	return s == t
}

// StatusOf 把错误还原为 Status。ISO-TP 网络层错误与无法识别的错误都归为 CAN 错误。
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var st Status
	if errors.As(err, &st) {
		return st
	}
	var nr tp_layer.NResult
	if errors.As(err, &nr) {
		return CANError(uint32(nr))
	}
	return StatusCANError
}

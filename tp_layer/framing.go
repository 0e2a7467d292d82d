package tp_layer

import (
	"encoding/binary"
	"time"
)

type ISOTPFrame interface{}
type SingleFrame struct{ Data []byte }
type FirstFrame struct {
	TotalSize int
	Data      []byte
}
type ConsecutiveFrame struct {
	SequenceNumber int
	Data           []byte
}
type FlowControlFrame struct {
	FlowStatus FlowStatus
	BlockSize  int
	STmin      time.Duration
}

func decodeSTmin(stMinByte byte) time.Duration {
	if stMinByte <= 0x7F {
		return time.Duration(stMinByte) * time.Millisecond
	}
	if stMinByte >= 0xF1 && stMinByte <= 0xF9 {
		return time.Duration(stMinByte-0xF0) * 100 * time.Microsecond
	}
	// 保留值按最大 127ms 处理
	return 127 * time.Millisecond
}

// ParseFrame 解析 CAN 报文中去掉地址前缀后的 N_PCI。
func ParseFrame(msg *CanMessage, rxPrefixSize int) (ISOTPFrame, error) {
	if len(msg.Data) <= rxPrefixSize {
		return nil, newIsoTpError(NResultError, "CAN数据长度 (%d) 小于等于前缀长度 (%d)", len(msg.Data), rxPrefixSize)
	}

	payload := msg.Data[rxPrefixSize:]
	pciType := payload[0] & 0xF0

	switch pciType {
	case pciTypeSingleFrame:
		length := int(payload[0] & 0x0F)
		if length == 0 { // CAN FD 转义长度
			if len(payload) < 2 {
				return nil, newIsoTpError(NResultError, "SF(FD)长度不足2字节")
			}
			length = int(payload[1])
			if length == 0 || len(payload)-2 < length {
				return nil, newIsoTpError(NResultError, "SF(FD)数据不完整")
			}
			return &SingleFrame{Data: payload[2 : 2+length]}, nil
		}
		if len(payload)-1 < length {
			return nil, newIsoTpError(NResultError, "SF数据不完整")
		}
		return &SingleFrame{Data: payload[1 : 1+length]}, nil
	case pciTypeFirstFrame:
		if len(payload) < 2 {
			return nil, newIsoTpError(NResultError, "FF长度不足2字节")
		}
		totalSize := (int(payload[0]&0x0F) << 8) | int(payload[1])
		dataStart := 2
		if totalSize == 0 { // 32 位长度
			if len(payload) < 6 {
				return nil, newIsoTpError(NResultError, "FF(long)长度不足6字节")
			}
			totalSize = int(binary.BigEndian.Uint32(payload[2:6]))
			dataStart = 6
		}
		return &FirstFrame{TotalSize: totalSize, Data: payload[dataStart:]}, nil
	case pciTypeConsecutiveFrame:
		return &ConsecutiveFrame{SequenceNumber: int(payload[0] & 0x0F), Data: payload[1:]}, nil
	case pciTypeFlowControl:
		if len(payload) < 3 {
			return nil, newIsoTpError(NResultError, "FC长度不足3字节")
		}
		return &FlowControlFrame{
			FlowStatus: FlowStatus(payload[0] & 0x0F),
			BlockSize:  int(payload[1]),
			STmin:      decodeSTmin(payload[2]),
		}, nil
	}
	return nil, newIsoTpError(NResultUnexpectedPDU, "未知PCI类型: 0x%02X", pciType)
}

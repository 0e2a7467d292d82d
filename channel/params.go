package channel

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/LoveWonYoung/udsengine/uds"
)

func wrongValue(p Parameter, format string, args ...any) error {
	return fmt.Errorf("参数 0x%02X: %s: %w", byte(p), fmt.Sprintf(format, args...), uds.StatusWrongParameter)
}

func expectLen(p Parameter, value []byte, n int) error {
	if len(value) != n {
		return wrongValue(p, "值长度应为 %d，实际 %d", n, len(value))
	}
	return nil
}

func boolByte(p Parameter, value []byte) (bool, error) {
	if err := expectLen(p, value, 1); err != nil {
		return false, err
	}
	switch value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, wrongValue(p, "无效取值 0x%02X", value[0])
}

// SetValue 修改通道参数，值按大端序编码
func (c *Channel) SetValue(p Parameter, value []byte) error {
	if c.closed.Load() {
		return uds.StatusNotInitialized
	}
	switch p {
	case ParamMappingAdd, ParamMappingRemove:
		var m Mapping
		if err := m.UnmarshalBinary(value); err != nil {
			return wrongValue(p, "映射记录长度应为 %d", mappingRecordSize)
		}
		if p == ParamMappingAdd {
			return c.AddMapping(m)
		}
		return c.RemoveMapping(m.CanID)
	case ParamSessionInfo:
		var s SessionInfo
		if err := s.UnmarshalBinary(value); err != nil {
			return wrongValue(p, "会话记录长度应为 %d", sessionRecordSize)
		}
		c.UpdateSession(s)
		return nil
	case ParamAPIVersion, ParamChannelCondition:
		return wrongValue(p, "只读参数")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch p {
	case ParamServerAddress:
		if err := expectLen(p, value, 2); err != nil {
			return err
		}
		addr := binary.BigEndian.Uint16(value)
		if addr > 0xFF {
			return wrongValue(p, "地址 0x%X 超过 1 字节", addr)
		}
		c.cfg.ServerAddress = byte(addr)
	case ParamServerFilter:
		if err := expectLen(p, value, 2); err != nil {
			return err
		}
		v := binary.BigEndian.Uint16(value)
		if v&0x7F00 != 0 {
			return wrongValue(p, "无效过滤值 0x%04X", v)
		}
		addr := byte(v)
		filters := c.cfg.ServerFilters[:0:0]
		for _, a := range c.cfg.ServerFilters {
			if a != addr {
				filters = append(filters, a)
			}
		}
		if v&ServerFilterListen != 0 {
			filters = append(filters, addr)
		}
		c.cfg.ServerFilters = filters
	case ParamTimeoutRequest, ParamTimeoutResponse:
		if err := expectLen(p, value, 4); err != nil {
			return err
		}
		d := time.Duration(binary.BigEndian.Uint32(value)) * time.Millisecond
		if p == ParamTimeoutRequest {
			c.cfg.TimeoutRequest = d
		} else {
			c.cfg.TimeoutResponse = d
		}
	case ParamReceiveEvent:
		on, err := boolByte(p, value)
		if err != nil {
			return err
		}
		c.cfg.ReceiveEvent = on
	case ParamBlockSize:
		if err := expectLen(p, value, 1); err != nil {
			return err
		}
		c.cfg.BlockSize = value[0]
		c.pushTPConfig()
	case ParamSeparationTime:
		if err := expectLen(p, value, 1); err != nil {
			return err
		}
		st := value[0]
		if (st > 0x7F && st < 0xF1) || st > 0xF9 {
			return wrongValue(p, "无效 STmin 0x%02X", st)
		}
		c.cfg.SeparationTime = st
		c.pushTPConfig()
	case ParamDebug:
		if err := expectLen(p, value, 1); err != nil {
			return err
		}
		if value[0] != DebugNone && value[0] != DebugCAN {
			return wrongValue(p, "无效取值 0x%02X", value[0])
		}
		c.cfg.Debug = value[0] == DebugCAN
	case ParamWFTMax:
		if err := expectLen(p, value, 4); err != nil {
			return err
		}
		c.cfg.WFTMax = binary.BigEndian.Uint32(value)
		c.pushTPConfig()
	case ParamCANDataPadding:
		on, err := boolByte(p, value)
		if err != nil {
			return err
		}
		c.cfg.CANDataPadding = on
		c.pushTPConfig()
	case ParamPaddingValue:
		if err := expectLen(p, value, 1); err != nil {
			return err
		}
		c.cfg.PaddingValue = value[0]
		c.pushTPConfig()
	default:
		return wrongValue(p, "未知参数")
	}
	return nil
}

// GetValue 读取通道参数，编码与 SetValue 相同。
// ParamSessionInfo 返回全部会话记录，ParamServerFilter 返回全部监听地址。
func (c *Channel) GetValue(p Parameter) ([]byte, error) {
	if c.closed.Load() {
		return nil, uds.StatusNotInitialized
	}
	switch p {
	case ParamSessionInfo:
		var out []byte
		for _, s := range c.Sessions() {
			b, _ := s.MarshalBinary()
			out = append(out, b...)
		}
		return out, nil
	case ParamMappingAdd, ParamMappingRemove:
		var out []byte
		for _, m := range c.Mappings() {
			b, _ := m.MarshalBinary()
			out = append(out, b...)
		}
		return out, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	switch p {
	case ParamServerAddress:
		return binary.BigEndian.AppendUint16(nil, uint16(c.cfg.ServerAddress)), nil
	case ParamServerFilter:
		var out []byte
		for _, a := range c.cfg.ServerFilters {
			out = binary.BigEndian.AppendUint16(out, ServerFilterListen|uint16(a))
		}
		return out, nil
	case ParamTimeoutRequest:
		return binary.BigEndian.AppendUint32(nil, uint32(c.cfg.TimeoutRequest/time.Millisecond)), nil
	case ParamTimeoutResponse:
		return binary.BigEndian.AppendUint32(nil, uint32(c.cfg.TimeoutResponse/time.Millisecond)), nil
	case ParamAPIVersion:
		return []byte(APIVersion), nil
	case ParamReceiveEvent:
		return []byte{b2u(c.cfg.ReceiveEvent)}, nil
	case ParamBlockSize:
		return []byte{c.cfg.BlockSize}, nil
	case ParamSeparationTime:
		return []byte{c.cfg.SeparationTime}, nil
	case ParamDebug:
		return []byte{b2u(c.cfg.Debug)}, nil
	case ParamChannelCondition:
		return []byte{ConditionAvailable}, nil
	case ParamWFTMax:
		return binary.BigEndian.AppendUint32(nil, c.cfg.WFTMax), nil
	case ParamCANDataPadding:
		return []byte{b2u(c.cfg.CANDataPadding)}, nil
	case ParamPaddingValue:
		return []byte{c.cfg.PaddingValue}, nil
	}
	return nil, wrongValue(p, "未知参数")
}

func b2u(b bool) byte {
	if b {
		return 1
	}
	return 0
}

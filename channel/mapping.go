package channel

import (
	"encoding/binary"
	"fmt"

	"github.com/LoveWonYoung/udsengine/uds"
)

// Mapping 把 CAN ID 对绑定到网络地址信息。
// 以 NAI 发出的报文使用 CanID，流控帧在 CanIDFlowCtrl 上接收。
type Mapping struct {
	CanID         uint32
	CanIDFlowCtrl uint32
	NAI           uds.NetAddrInfo
}

func (m Mapping) String() string {
	return fmt.Sprintf("0x%X/0x%X %s", m.CanID, m.CanIDFlowCtrl, m.NAI)
}

// DefaultMappings 测试设备与 ECU1..8 的物理映射以及 OBD 功能请求映射
func DefaultMappings() []Mapping {
	var ms []Mapping
	for ecu := uds.AddrECU1; ecu <= uds.AddrECU8; ecu++ {
		req, resp := uds.RequestCanID(ecu), uds.ResponseCanID(ecu)
		ms = append(ms,
			Mapping{CanID: req, CanIDFlowCtrl: resp, NAI: uds.NetAddrInfo{
				SA: uds.AddrTestEquipment, TA: ecu, TAType: uds.Physical, Protocol: uds.ProtocolISO15765_2_11B,
			}},
			Mapping{CanID: resp, CanIDFlowCtrl: req, NAI: uds.NetAddrInfo{
				SA: ecu, TA: uds.AddrTestEquipment, TAType: uds.Physical, Protocol: uds.ProtocolISO15765_2_11B,
			}},
		)
	}
	ms = append(ms, Mapping{
		CanID:         uds.CanIDFunctionalRequest,
		CanIDFlowCtrl: uds.CanIDResponseECU1,
		NAI: uds.NetAddrInfo{
			SA: uds.AddrTestEquipment, TA: uds.AddrOBDFunctional, TAType: uds.Functional, Protocol: uds.ProtocolISO15765_2_11B,
		},
	})
	return ms
}

func (m Mapping) matches(nai uds.NetAddrInfo) bool {
	return m.NAI.SA == nai.SA && m.NAI.TA == nai.TA && m.NAI.TAType == nai.TAType && m.NAI.RA == nai.RA
}

const mappingRecordSize = 13

// MarshalBinary [CanID(4) CanIDFlowCtrl(4) SA TA TAType RA Protocol]
func (m Mapping) MarshalBinary() ([]byte, error) {
	b := make([]byte, mappingRecordSize)
	binary.BigEndian.PutUint32(b[0:4], m.CanID)
	binary.BigEndian.PutUint32(b[4:8], m.CanIDFlowCtrl)
	b[8], b[9], b[10], b[11], b[12] = m.NAI.SA, m.NAI.TA, byte(m.NAI.TAType), m.NAI.RA, byte(m.NAI.Protocol)
	return b, nil
}

func (m *Mapping) UnmarshalBinary(b []byte) error {
	if len(b) != mappingRecordSize {
		return uds.StatusWrongParameter
	}
	m.CanID = binary.BigEndian.Uint32(b[0:4])
	m.CanIDFlowCtrl = binary.BigEndian.Uint32(b[4:8])
	m.NAI = uds.NetAddrInfo{
		SA:       b[8],
		TA:       b[9],
		TAType:   uds.AddressingType(b[10]),
		RA:       b[11],
		Protocol: uds.Protocol(b[12]),
	}
	return nil
}

func (m Mapping) validate() error {
	if m.CanID == m.CanIDFlowCtrl {
		return fmt.Errorf("映射 %s 的发送 ID 与流控 ID 相同: %w", m, uds.StatusWrongParameter)
	}
	if m.CanID > 0x1FFFFFFF || m.CanIDFlowCtrl > 0x1FFFFFFF {
		return fmt.Errorf("映射 %s 的 CAN ID 超出 29 位: %w", m, uds.StatusWrongParameter)
	}
	if m.NAI.TAType != uds.Physical && m.NAI.TAType != uds.Functional {
		return fmt.Errorf("映射 %s 的地址类型无效: %w", m, uds.StatusWrongParameter)
	}
	return nil
}

package channel

import (
	"time"

	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/uds"
)

// APIVersion 通过 ParamAPIVersion 读取
const APIVersion = "2.1.0"

// Parameter 通道参数
type Parameter byte

const (
	ParamServerAddress    Parameter = 0xC1
	ParamServerFilter     Parameter = 0xC2
	ParamTimeoutRequest   Parameter = 0xC3
	ParamTimeoutResponse  Parameter = 0xC4
	ParamSessionInfo      Parameter = 0xC5
	ParamAPIVersion       Parameter = 0xC6
	ParamReceiveEvent     Parameter = 0xC7
	ParamMappingAdd       Parameter = 0xC8
	ParamMappingRemove    Parameter = 0xC9
	ParamBlockSize        Parameter = 0xE1
	ParamSeparationTime   Parameter = 0xE2
	ParamDebug            Parameter = 0xE3
	ParamChannelCondition Parameter = 0xE4
	ParamWFTMax           Parameter = 0xE5
	ParamCANDataPadding   Parameter = 0xE8
	ParamPaddingValue     Parameter = 0xED
)

// 参数取值
const (
	ServerFilterIgnore uint16 = 0x0000
	ServerFilterListen uint16 = 0x8000

	DebugNone byte = 0x00
	DebugCAN  byte = 0x01

	ConditionUnavailable byte = 0x00
	ConditionAvailable   byte = 0x01
	ConditionOccupied    byte = 0x02

	PaddingOff byte = 0x00
	PaddingOn  byte = 0x01

	DefaultPaddingValue byte = 0x55
)

// Config 通道配置
type Config struct {
	ServerAddress   byte
	ServerFilters   []byte // 监听的功能地址
	TimeoutRequest  time.Duration
	TimeoutResponse time.Duration
	BlockSize       byte
	SeparationTime  byte // ISO-TP STmin 原始编码
	Debug           bool
	WFTMax          uint32
	CANDataPadding  bool
	PaddingValue    byte
	ReceiveEvent    bool
	KeepAlivePeriod time.Duration // S3 客户端周期
	CanFD           bool
	Protocol        uds.Protocol
	InboundQueue    int
}

// DefaultConfig 测试设备地址、监听 OBD 功能地址
func DefaultConfig() Config {
	return Config{
		ServerAddress:   uds.AddrTestEquipment,
		ServerFilters:   []byte{uds.AddrOBDFunctional},
		TimeoutRequest:  uds.DefaultTimeoutRequest,
		TimeoutResponse: uds.DefaultTimeoutResponse,
		BlockSize:       10,
		SeparationTime:  10,
		WFTMax:          10,
		CANDataPadding:  true,
		PaddingValue:    DefaultPaddingValue,
		KeepAlivePeriod: uds.DefaultS3ClientPeriod,
		Protocol:        uds.ProtocolISO15765_2_11B,
		InboundQueue:    256,
	}
}

func (c Config) listening(addr byte) bool {
	for _, a := range c.ServerFilters {
		if a == addr {
			return true
		}
	}
	return false
}

// tpConfig 把通道配置转为 ISO-TP 层配置
func (c Config) tpConfig() tp_layer.Config {
	cfg := tp_layer.DefaultConfig()
	cfg.BlockSize = int(c.BlockSize)
	cfg.StMin = c.SeparationTime
	cfg.WftMax = int(c.WFTMax)
	cfg.CanFD = c.CanFD
	if c.CANDataPadding {
		pad := c.PaddingValue
		cfg.PaddingByte = &pad
	}
	return cfg
}

func (c Config) clone() Config {
	c.ServerFilters = append([]byte(nil), c.ServerFilters...)
	return c
}

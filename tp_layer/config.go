package tp_layer

import "time"

// Config defines the configuration for the ISO-TP Transport.
type Config struct {
	// PaddingByte, if not nil, is used to pad frames to declared length (8 or next FD DLC).
	PaddingByte *byte

	// CanFD 为 true 时单帧最大 64 字节。
	CanFD bool

	// Transmitter Side Timeouts
	TimeoutN_As time.Duration // Time for transmission of N_PDU on sender side
	TimeoutN_Bs time.Duration // Time until reception of FlowControl
	TimeoutN_Cs time.Duration // Time until transmission of next CF

	// Receiver Side Timeouts
	TimeoutN_Ar time.Duration // Time for transmission of N_PDU on receiver side
	TimeoutN_Br time.Duration // Time until transmission of FlowControl
	TimeoutN_Cr time.Duration // Time until reception of next CF

	// Parameters
	BlockSize int
	StMin     byte // 原始 STmin 编码: 0x00-0x7F 毫秒, 0xF1-0xF9 为 100-900 微秒
	WftMax    int  // 发送方允许连续收到的 FC.WAIT 次数

	// MaxFrameSize 是允许接收的最大报文长度，超过时回复 FC.OVFLW。
	MaxFrameSize int
}

// DefaultConfig returns the standard ISO-15765-2 default values.
func DefaultConfig() Config {
	return Config{
		PaddingByte: nil, // No padding by default

		TimeoutN_As: 1000 * time.Millisecond,
		TimeoutN_Bs: 1000 * time.Millisecond,
		TimeoutN_Cs: 1000 * time.Millisecond,

		TimeoutN_Ar: 1000 * time.Millisecond,
		TimeoutN_Br: 1000 * time.Millisecond,
		TimeoutN_Cr: 1000 * time.Millisecond,

		BlockSize:    0,  // BlockSize 0 means unlimited
		StMin:        20, // 20ms separation time
		WftMax:       10,
		MaxFrameSize: 4095,
	}
}

// maxDataLength 返回单个 CAN 帧可携带的数据字节数。
func (c Config) maxDataLength() int {
	if c.CanFD {
		return 64
	}
	return 8
}

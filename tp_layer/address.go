package tp_layer

import "fmt"

// AddressingMode 定义了ISOTP支持的寻址模式
type AddressingMode int

const (
	Normal11Bit      AddressingMode = iota // 11位ID，无地址扩展
	Normal29Bit                            // 29位ID，无地址扩展
	NormalFixed29Bit                       // 29位ID，目标/源地址在ID中
	Extended11Bit                          // 11位ID，目标地址在数据负载第一字节
	Extended29Bit                          // 29位ID，目标地址在数据负载第一字节
	Mixed11Bit                             // 11位ID，地址扩展在数据负载第一字节
	Mixed29Bit                             // 29位ID，目标/源地址在ID中，地址扩展在数据负载第一字节
)

// AddressType 定义了寻址类型：物理或功能
type AddressType int

const (
	Physical AddressType = iota
	Functional
)

// Address 存储了所有与寻址相关的信息
type Address struct {
	AddressingMode AddressingMode

	// 用于 Normal, Extended, Mixed 模式
	TxID uint32
	RxID uint32

	// 用于 NormalFixed, Mixed 模式
	TargetAddress byte // 目标ECU地址 (TA)
	SourceAddress byte // 源ECU地址 (SA)

	// 用于 Extended, Mixed 模式
	AddressExtension byte // 地址扩展字节

	// ListenOnly 的链路只接收单帧 (例如功能寻址的监听)，从不发送流控帧。
	ListenOnly bool

	// 自动计算的字段
	TxPayloadPrefix []byte // 发送时附加到数据负载的前缀
	RxPrefixSize    int    // 接收时需跳过的负载前缀大小
	is29Bit         bool   // 缓存当前模式是否为29位
}

// NewAddress 是一个灵活的构造函数，用于创建地址对象
func NewAddress(mode AddressingMode, opts ...func(*Address)) (*Address, error) {
	addr := &Address{AddressingMode: mode}

	for _, opt := range opts {
		opt(addr)
	}

	switch mode {
	case Normal11Bit:
		addr.is29Bit = false
	case Normal29Bit, NormalFixed29Bit:
		addr.is29Bit = true
	case Extended11Bit, Extended29Bit:
		addr.is29Bit = mode == Extended29Bit
		addr.TxPayloadPrefix = []byte{addr.TargetAddress}
		addr.RxPrefixSize = 1
	case Mixed11Bit, Mixed29Bit:
		addr.is29Bit = mode == Mixed29Bit
		addr.TxPayloadPrefix = []byte{addr.AddressExtension}
		addr.RxPrefixSize = 1
	default:
		return nil, fmt.Errorf("不支持的寻址模式: %d", mode)
	}

	if !addr.is29Bit && (addr.TxID > 0x7FF || addr.RxID > 0x7FF) {
		return nil, fmt.Errorf("11位模式下CAN ID超出范围: Tx=0x%X Rx=0x%X", addr.TxID, addr.RxID)
	}
	return addr, nil
}

// 可选配置函数，用于 NewAddress

func WithTxID(id uint32) func(*Address)        { return func(a *Address) { a.TxID = id } }
func WithRxID(id uint32) func(*Address)        { return func(a *Address) { a.RxID = id } }
func WithTargetAddress(ta byte) func(*Address) { return func(a *Address) { a.TargetAddress = ta } }
func WithSourceAddress(sa byte) func(*Address) { return func(a *Address) { a.SourceAddress = sa } }
func WithAddressExtension(ae byte) func(*Address) {
	return func(a *Address) { a.AddressExtension = ae }
}
func WithListenOnly() func(*Address) { return func(a *Address) { a.ListenOnly = true } }

// GetTxArbitrationID 根据寻址模式和类型（物理/功能）动态计算发送ID
func (a *Address) GetTxArbitrationID(addrType AddressType) uint32 {
	switch a.AddressingMode {
	case NormalFixed29Bit:
		// 18DA[TA][SA] 物理, 18DB[TA][SA] 功能
		prefix := uint32(0x18DA0000)
		if addrType == Functional {
			prefix = 0x18DB0000
		}
		return prefix | (uint32(a.TargetAddress) << 8) | uint32(a.SourceAddress)
	case Mixed29Bit:
		// 18CE[TA][SA] 物理, 18CD[TA][SA] 功能
		prefix := uint32(0x18CE0000)
		if addrType == Functional {
			prefix = 0x18CD0000
		}
		return prefix | (uint32(a.TargetAddress) << 8) | uint32(a.SourceAddress)
	}
	return a.TxID
}

// IsForMe 检查收到的CAN报文是否是发给本链路的
func (a *Address) IsForMe(msg *CanMessage) bool {
	if msg.IsExtendedID != a.is29Bit {
		return false
	}

	switch a.AddressingMode {
	case Normal11Bit, Normal29Bit, Mixed11Bit:
		if msg.ArbitrationID != a.RxID {
			return false
		}
		if a.AddressingMode == Mixed11Bit {
			return len(msg.Data) > 0 && msg.Data[0] == a.AddressExtension
		}
		return true
	case NormalFixed29Bit:
		// 对方发来的 ID 中 TA 是我们的 SA
		base := msg.ArbitrationID & 0xFFFF0000
		if base != 0x18DA0000 && base != 0x18DB0000 {
			return false
		}
		ta := byte(msg.ArbitrationID >> 8)
		sa := byte(msg.ArbitrationID)
		return ta == a.SourceAddress && sa == a.TargetAddress
	case Extended11Bit, Extended29Bit:
		if msg.ArbitrationID != a.RxID || len(msg.Data) < 1 {
			return false
		}
		// 扩展寻址中第一个数据字节是目标地址 (即我们的 SA)
		return msg.Data[0] == a.SourceAddress
	case Mixed29Bit:
		base := msg.ArbitrationID & 0xFFFF0000
		if base != 0x18CE0000 && base != 0x18CD0000 {
			return false
		}
		if byte(msg.ArbitrationID>>8) != a.SourceAddress || byte(msg.ArbitrationID) != a.TargetAddress {
			return false
		}
		return len(msg.Data) > 0 && msg.Data[0] == a.AddressExtension
	}
	return false
}

// Is29Bit 返回当前模式是否为29位
func (a *Address) Is29Bit() bool {
	return a.is29Bit
}

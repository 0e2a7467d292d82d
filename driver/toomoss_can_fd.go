//go:build windows && (amd64 || 386)

package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	log "github.com/sirupsen/logrus"
)

const (
	toomossMsgBuffer = 1024
	toomossPoll      = time.Millisecond
	toomossInitDelay = 20 * time.Millisecond

	toomossChannel = 0
	speedBpsNBT    = 500_000
	speedBpsDBT    = 2_000_000
)

const (
	canfdFlagBRS = 0x01 // 加速帧
	canfdFlagESI = 0x02 // 错误状态指示
	canfdFlagFDF = 0x04 // CANFD 帧
)

// 扩展帧在 ID 的最高位标记
const toomossExtendedFlag = 0x80000000

type canfdInitConfig struct {
	Mode         byte
	ISOCRCEnable byte
	RetrySend    byte
	ResEnable    byte
	NBT_BRP      byte
	NBT_SEG1     byte
	NBT_SEG2     byte
	NBT_SJW      byte
	DBT_BRP      byte
	DBT_SEG1     byte
	DBT_SEG2     byte
	DBT_SJW      byte
	_            [8]byte
}

type canfdMsg struct {
	ID        uint32
	DLC       byte
	Flags     byte
	_         [2]byte
	TimeStamp uint32
	Data      [64]byte
}

// CanMix 是 Toomoss USB2XXX 适配器的 CAN/CAN-FD 驱动
type CanMix struct {
	dev     usbDevice
	canType CanType
	rxChan  chan UnifiedCANMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewCanMix(canType CanType) *CanMix {
	ctx, cancel := context.WithCancel(context.Background())
	return &CanMix{
		canType: canType,
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *CanMix) Init() error {
	if err := loadToomoss(); err != nil {
		return err
	}
	if err := c.dev.scan(); err != nil {
		return err
	}
	if err := c.dev.open(); err != nil {
		return err
	}
	cfg := canfdInitConfig{
		RetrySend:    1,
		ISOCRCEnable: 1,
		ResEnable:    1,
		NBT_BRP:      1,
		NBT_SEG1:     59,
		NBT_SEG2:     20,
		NBT_SJW:      2,
		DBT_BRP:      1,
		DBT_SEG1:     14,
		DBT_SEG2:     5,
		DBT_SJW:      2,
	}
	speed, _, _ := procCANFDSpeedArg.Call(c.dev.handle(), uintptr(unsafe.Pointer(&cfg)), speedBpsNBT, speedBpsDBT)
	initRet, _, _ := procCANFDInit.Call(c.dev.handle(), toomossChannel, uintptr(unsafe.Pointer(&cfg)))
	startRet, _, _ := procCANFDStartGetMsg.Call(c.dev.handle(), toomossChannel)
	time.Sleep(toomossInitDelay)
	if speed != 0 || initRet != 0 || startRet != 0 {
		c.dev.close()
		return fmt.Errorf("CAN 硬件初始化失败 (speed=%d init=%d start=%d)", int32(speed), int32(initRet), int32(startRet))
	}
	log.Infof("Toomoss %s 初始化成功", c.canType)
	return nil
}

func (c *CanMix) Start() {
	log.Debug("Toomoss 读取服务已启动")
	c.wg.Add(1)
	go c.readLoop()
}

func (c *CanMix) Stop() {
	c.cancel()
	c.wg.Wait()
	c.dev.close()
	log.Debug("Toomoss 驱动已停止")
}

func (c *CanMix) readLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(toomossPoll)
	defer ticker.Stop()
	var buf [toomossMsgBuffer]canfdMsg
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		n, _, _ := procCANFDGetMsg.Call(c.dev.handle(), toomossChannel, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
		count := int(int32(n))
		for i := 0; i < count; i++ {
			m := buf[i]
			if m.DLC == 0 || m.DLC > 64 {
				continue
			}
			unified := UnifiedCANMessage{
				ID:         m.ID &^ toomossExtendedFlag,
				DLC:        m.DLC,
				Data:       m.Data,
				IsFD:       m.Flags&canfdFlagFDF != 0,
				IsExtended: m.ID&toomossExtendedFlag != 0,
			}
			select {
			case c.rxChan <- unified:
			default:
				log.Warn("Toomoss 接收通道已满，丢弃报文")
			}
		}
	}
}

func (c *CanMix) Write(id int32, data []byte) error {
	switch {
	case len(data) == 0:
		return errors.New("数据为空")
	case c.canType == CANFD && len(data) > 64:
		return fmt.Errorf("数据长度 %d 超过 CAN-FD 最大长度 64", len(data))
	case c.canType == CAN && len(data) > 8:
		return fmt.Errorf("数据长度 %d 超过 CAN 最大长度 8", len(data))
	}

	var msg [1]canfdMsg
	msg[0].ID = uint32(id)
	if uint32(id) > maxStandardID {
		msg[0].ID |= toomossExtendedFlag
	}
	if c.canType == CANFD {
		msg[0].Flags = canfdFlagFDF | canfdFlagBRS
	}
	msg[0].DLC = byte(len(data))
	copy(msg[0].Data[:], data)

	ret, _, _ := procCANFDSendMsg.Call(c.dev.handle(), toomossChannel, uintptr(unsafe.Pointer(&msg[0])), uintptr(len(msg)))
	if int(int32(ret)) != len(msg) {
		return fmt.Errorf("%s 报文 0x%03X 发送失败", c.canType, id)
	}
	return nil
}

func (c *CanMix) RxChan() <-chan UnifiedCANMessage { return c.rxChan }

func (c *CanMix) Context() context.Context { return c.ctx }

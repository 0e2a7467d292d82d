package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// TxFunc 把一帧交给宿主程序发送
type TxFunc func(id uint32, data []byte, isFD bool) error

// ExternalCan 由宿主程序收发帧的驱动：发送走 TxFunc 回调，接收由宿主调用 Input 注入
type ExternalCan struct {
	canType CanType
	tx      TxFunc

	mu      sync.Mutex
	started bool
	rxChan  chan UnifiedCANMessage
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewExternalCan(canType CanType, tx TxFunc) *ExternalCan {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExternalCan{
		canType: canType,
		tx:      tx,
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (e *ExternalCan) Init() error {
	if e.tx == nil {
		return errors.New("external CAN driver needs a tx callback")
	}
	return nil
}

func (e *ExternalCan) Start() {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
}

func (e *ExternalCan) Stop() {
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	e.cancel()
}

func (e *ExternalCan) Write(id int32, data []byte) error {
	maxLen := 8
	if e.canType == CANFD {
		maxLen = 64
	}
	if len(data) == 0 || len(data) > maxLen {
		return fmt.Errorf("数据长度 %d 超出 %s 范围", len(data), e.canType)
	}
	return e.tx(uint32(id), data, e.canType == CANFD)
}

// Input 注入一帧宿主收到的报文，驱动未启动或缓冲区满时返回 false
func (e *ExternalCan) Input(id uint32, data []byte, extended bool) bool {
	if len(data) == 0 || len(data) > 64 {
		return false
	}
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return false
	}
	msg := UnifiedCANMessage{
		ID:         id,
		DLC:        byte(len(data)),
		IsFD:       len(data) > 8,
		IsExtended: extended,
	}
	copy(msg.Data[:], data)
	select {
	case e.rxChan <- msg:
		return true
	default:
		log.Warnf("外部驱动接收通道已满，丢弃 0x%X", id)
		return false
	}
}

func (e *ExternalCan) RxChan() <-chan UnifiedCANMessage { return e.rxChan }

func (e *ExternalCan) Context() context.Context { return e.ctx }

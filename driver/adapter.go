package driver

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/tp_layer"
)

// Adapter 连接 CANDriver 与 tp_layer 协议栈
type Adapter struct {
	driver CANDriver
	rxChan <-chan UnifiedCANMessage
	trace  func() bool
}

// NewAdapter 初始化并启动驱动
func NewAdapter(dev CANDriver) (*Adapter, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize CAN device: %w", err)
	}
	dev.Start()

	log.Debug("CAN adapter created and device started.")
	return &Adapter{
		driver: dev,
		rxChan: dev.RxChan(),
	}, nil
}

// SetTrace 设置帧级调试开关，回调返回 true 时逐帧打印日志
func (a *Adapter) SetTrace(enabled func() bool) {
	a.trace = enabled
}

func (a *Adapter) tracing() bool {
	return a.trace != nil && a.trace()
}

// Close 用于停止驱动并释放资源
func (a *Adapter) Close() {
	log.Debug("Closing CAN adapter...")
	a.driver.Stop()
}

// TxFunc 把协议栈输出的帧写入驱动
func (a *Adapter) TxFunc(msg tp_layer.CanMessage) {
	if a.tracing() {
		log.Infof("[CAN] TX %s", msg.String())
	}
	if err := a.driver.Write(int32(msg.ArbitrationID), msg.Data); err != nil {
		log.Errorf("CAN adapter failed to send message: %v", err)
	}
}

// RxFunc 非阻塞地取出一帧，没有数据或通道关闭时返回 false
func (a *Adapter) RxFunc() (tp_layer.CanMessage, bool) {
	select {
	case received, ok := <-a.rxChan:
		if !ok {
			return tp_layer.CanMessage{}, false
		}
		msg := toCanMessage(received)
		if a.tracing() {
			log.Infof("[CAN] RX %s", msg.String())
		}
		return msg, true
	default:
		return tp_layer.CanMessage{}, false
	}
}

func toCanMessage(received UnifiedCANMessage) tp_layer.CanMessage {
	payloadLength := int(received.DLC)
	if payloadLength > len(received.Data) {
		log.Warnf("收到的报文DLC (%d) 大于数据数组长度 (%d)。ID: 0x%X", received.DLC, len(received.Data), received.ID)
		payloadLength = len(received.Data)
	}
	data := make([]byte, payloadLength)
	copy(data, received.Data[:payloadLength])
	return tp_layer.CanMessage{
		ArbitrationID: received.ID,
		Data:          data,
		IsExtendedID:  received.IsExtended || received.ID > maxStandardID,
		IsFD:          received.IsFD,
	}
}

// Pump 在 ctx 结束前把驱动收到的帧送入 rx，把 tx 中的帧写入驱动
func (a *Adapter) Pump(ctx context.Context, rx chan<- tp_layer.CanMessage, tx <-chan tp_layer.CanMessage) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-tx:
				a.TxFunc(msg)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case received, ok := <-a.rxChan:
			if !ok {
				return
			}
			msg := toCanMessage(received)
			if a.tracing() {
				log.Infof("[CAN] RX %s", msg.String())
			}
			select {
			case rx <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

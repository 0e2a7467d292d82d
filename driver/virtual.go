package driver

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// 缓冲区配置常量
const (
	RxChannelBufferSize = 1024
)

// VirtualBus 是一条内存中的CAN总线，节点写入的帧会广播给其它所有节点。
type VirtualBus struct {
	mu    sync.RWMutex
	nodes []*VirtualCan
}

func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

// NewNode 创建一个挂在总线上的虚拟CAN节点
func (b *VirtualBus) NewNode(canType CanType) *VirtualCan {
	node := NewVirtualCan(canType)
	node.bus = b
	b.mu.Lock()
	b.nodes = append(b.nodes, node)
	b.mu.Unlock()
	return node
}

func (b *VirtualBus) broadcast(from *VirtualCan, id uint32, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, node := range b.nodes {
		if node == from {
			continue
		}
		if err := node.InjectMessage(id, data); err != nil {
			log.Debugf("[Virtual] 节点丢弃帧 ID=0x%03X: %v", id, err)
		}
	}
}

// VirtualCan 是不依赖硬件的 CAN 驱动实现，用于开发、演示和测试
type VirtualCan struct {
	mu        sync.Mutex
	rxChan    chan UnifiedCANMessage
	ctx       context.Context
	cancel    context.CancelFunc
	canType   CanType
	running   bool
	bus       *VirtualBus
	writeLog  []WriteRecord     // 记录写入的数据
	responses []MockCANResponse // 预设的自动响应
}

// WriteRecord 记录一次写入操作
type WriteRecord struct {
	ID        int32
	Data      []byte
	Timestamp time.Time
}

// MockCANResponse 定义预设的自动响应
type MockCANResponse struct {
	TriggerID   uint32        // 触发响应的请求 ID
	ResponseID  uint32        // 响应的 ID
	TriggerData []byte        // 触发响应的数据前缀 (可选)
	Response    []byte        // 响应数据
	Delay       time.Duration // 响应延迟
}

// NewVirtualCan 创建一个独立的虚拟 CAN 设备实例
func NewVirtualCan(canType CanType) *VirtualCan {
	ctx, cancel := context.WithCancel(context.Background())
	return &VirtualCan{
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		canType: canType,
	}
}

// Init 初始化虚拟设备 (总是成功)
func (c *VirtualCan) Init() error {
	log.Debug("[Virtual] CAN 设备初始化成功")
	return nil
}

// Start 启动虚拟设备
func (c *VirtualCan) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.ctx.Err() != nil {
		return
	}
	c.running = true
	log.Debugf("[Virtual] %s 设备已启动", c.canType)
}

// Stop 停止虚拟设备，之后不能再次启动
func (c *VirtualCan) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	close(c.rxChan)
	log.Debug("[Virtual] CAN 设备已停止")
}

// Write 写入一帧，挂在总线上时广播给其它节点
func (c *VirtualCan) Write(id int32, data []byte) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("设备未启动")
	}
	frame := append([]byte{}, data...)
	c.writeLog = append(c.writeLog, WriteRecord{ID: id, Data: frame, Timestamp: time.Now()})
	var triggered []MockCANResponse
	for _, resp := range c.responses {
		if resp.TriggerID == uint32(id) && bytes.HasPrefix(data, resp.TriggerData) {
			triggered = append(triggered, resp)
		}
	}
	bus := c.bus
	c.mu.Unlock()

	if bus != nil {
		bus.broadcast(c, uint32(id), frame)
	}
	for _, resp := range triggered {
		go func(r MockCANResponse) {
			time.Sleep(r.Delay)
			_ = c.InjectMessage(r.ResponseID, r.Response)
		}(resp)
	}
	return nil
}

// RxChan 返回接收通道
func (c *VirtualCan) RxChan() <-chan UnifiedCANMessage {
	return c.rxChan
}

// Context 返回设备上下文
func (c *VirtualCan) Context() context.Context {
	return c.ctx
}

// InjectMessage 向接收通道注入一条消息 (模拟接收)
func (c *VirtualCan) InjectMessage(id uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return fmt.Errorf("设备未启动")
	}

	msg := UnifiedCANMessage{
		ID:         id,
		DLC:        byte(len(data)),
		IsFD:       c.canType == CANFD,
		IsExtended: id > maxStandardID,
	}
	copy(msg.Data[:], data)

	select {
	case c.rxChan <- msg:
		return nil
	default:
		return fmt.Errorf("接收通道已满")
	}
}

// AddResponse 添加一个预设响应
func (c *VirtualCan) AddResponse(triggerID, responseID uint32, triggerData, response []byte, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, MockCANResponse{
		TriggerID:   triggerID,
		ResponseID:  responseID,
		TriggerData: triggerData,
		Response:    response,
		Delay:       delay,
	})
}

// ClearResponses 清除所有预设响应
func (c *VirtualCan) ClearResponses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = nil
}

// GetWriteLog 获取写入日志
func (c *VirtualCan) GetWriteLog() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WriteRecord{}, c.writeLog...)
}

// ClearWriteLog 清除写入日志
func (c *VirtualCan) ClearWriteLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeLog = nil
}

// IsRunning 检查设备是否正在运行
func (c *VirtualCan) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

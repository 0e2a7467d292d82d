package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/driver"
	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/uds"
)

const (
	frameBufferSize = 256
)

// Handle 标识一个 CAN 通道
type Handle uint16

// Channel 一个已打开的 UDS 通道：配置、会话表、映射表、ISO-TP 链路与接收队列
type Channel struct {
	handle  Handle
	adapter *driver.Adapter

	mu       sync.RWMutex
	cfg      Config
	sessions map[peerKey]SessionInfo
	mappings []Mapping
	links    map[linkKey]*link

	inbound  chan *uds.Message
	notify   chan struct{}
	rxFrames chan tp_layer.CanMessage
	txFrames chan tp_layer.CanMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func open(h Handle, dev driver.CANDriver, cfg Config) (*Channel, error) {
	adapter, err := driver.NewAdapter(dev)
	if err != nil {
		return nil, fmt.Errorf("通道 %d: %w: %w", h, uds.StatusCANError, err)
	}
	if cfg.InboundQueue <= 0 {
		cfg.InboundQueue = DefaultConfig().InboundQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		handle:   h,
		adapter:  adapter,
		cfg:      cfg.clone(),
		sessions: make(map[peerKey]SessionInfo),
		links:    make(map[linkKey]*link),
		inbound:  make(chan *uds.Message, cfg.InboundQueue),
		notify:   make(chan struct{}, 1),
		rxFrames: make(chan tp_layer.CanMessage, frameBufferSize),
		txFrames: make(chan tp_layer.CanMessage, frameBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	adapter.SetTrace(c.debugEnabled)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		adapter.Pump(ctx, c.rxFrames, c.txFrames)
	}()
	go c.route(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range DefaultMappings() {
		if err := c.addMappingLocked(m); err != nil {
			cancel()
			adapter.Close()
			return nil, err
		}
	}
	log.Infof("通道 %d 已初始化，服务器地址 0x%02X", h, cfg.ServerAddress)
	return c, nil
}

func (c *Channel) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.adapter.Close()
	c.wg.Wait()
	log.Infof("通道 %d 已关闭", c.handle)
}

func (c *Channel) Handle() Handle { return c.handle }

func (c *Channel) debugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Debug
}

// Config 返回当前配置的副本
func (c *Channel) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.clone()
}

// Timeouts 请求 (发送确认) 超时与响应超时
func (c *Channel) Timeouts() (request, response time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.TimeoutRequest, c.cfg.TimeoutResponse
}

func (c *Channel) KeepAlivePeriod() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.KeepAlivePeriod
}

func (c *Channel) ServerAddress() byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.ServerAddress
}

// Session 返回请求方向 nai 的会话，没有记录时为默认会话
func (c *Channel) Session(nai uds.NetAddrInfo) SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.sessions[keyOf(nai)]; ok {
		return s
	}
	return DefaultSession(nai)
}

func (c *Channel) UpdateSession(info SessionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[keyOf(info.NAI)] = info
}

// Sessions 按地址排序返回全部会话
func (c *Channel) Sessions() []SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NAI.SA != out[j].NAI.SA {
			return out[i].NAI.SA < out[j].NAI.SA
		}
		return out[i].NAI.TA < out[j].NAI.TA
	})
	return out
}

func (c *Channel) addMappingLocked(m Mapping) error {
	if err := m.validate(); err != nil {
		return err
	}
	for _, old := range c.mappings {
		if old.CanID == m.CanID && old.matches(m.NAI) {
			return fmt.Errorf("映射 %s 已存在: %w", m, uds.StatusWrongParameter)
		}
	}
	if err := c.ensureLinks(m); err != nil {
		return fmt.Errorf("映射 %s: %v: %w", m, err, uds.StatusWrongParameter)
	}
	c.mappings = append(c.mappings, m)
	return nil
}

// AddMapping 增加一条 CAN ID 映射
func (c *Channel) AddMapping(m Mapping) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addMappingLocked(m)
}

// RemoveMapping 删除 CAN ID 为 canID 的映射，已建立的链路保留
func (c *Channel) RemoveMapping(canID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.mappings[:0]
	removed := false
	for _, m := range c.mappings {
		if m.CanID == canID {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	c.mappings = kept
	if !removed {
		return fmt.Errorf("没有 CAN ID 0x%X 的映射: %w", canID, uds.StatusWrongParameter)
	}
	return nil
}

func (c *Channel) Mappings() []Mapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Mapping(nil), c.mappings...)
}

func (c *Channel) linkFor(nai uds.NetAddrInfo) (*link, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.mappings {
		if m.matches(nai) {
			if l, ok := c.links[linkKey{tx: m.CanID, rx: m.CanIDFlowCtrl}]; ok {
				return l, nil
			}
		}
	}
	return nil, fmt.Errorf("没有 %s 的映射: %w", nai, uds.StatusWrongParameter)
}

// Write 发送一条请求或响应，发送结果以 Confirm 消息进入接收队列
func (c *Channel) Write(msg *uds.Message) error {
	if c.closed.Load() {
		return uds.StatusNotInitialized
	}
	if msg == nil || len(msg.Data) == 0 {
		return fmt.Errorf("消息为空: %w", uds.StatusWrongParameter)
	}
	if len(msg.Data) > uds.MaxDataLength {
		return fmt.Errorf("消息长度 %d 超过 %d: %w", len(msg.Data), uds.MaxDataLength, uds.StatusWrongParameter)
	}
	l, err := c.linkFor(msg.NAI)
	if err != nil {
		return err
	}
	if c.debugEnabled() {
		log.Infof("[UDS] TX %s", msg)
	}
	if err := l.send(msg); err != nil {
		return fmt.Errorf("通道 %d 发送失败: %w", c.handle, err)
	}
	return nil
}

// Read 非阻塞读取一条消息，队列为空时返回 StatusNoMessage
func (c *Channel) Read() (*uds.Message, error) {
	if c.closed.Load() {
		return nil, uds.StatusNotInitialized
	}
	select {
	case m := <-c.inbound:
		return m, nil
	default:
		return nil, uds.StatusNoMessage
	}
}

// Notify 开启接收事件时返回到达信号，否则返回 nil
func (c *Channel) Notify() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.cfg.ReceiveEvent {
		return nil
	}
	return c.notify
}

func (c *Channel) push(msg *uds.Message) {
	if c.debugEnabled() {
		log.Infof("[UDS] RX %s", msg)
	}
	select {
	case c.inbound <- msg:
	default:
		// 队列满时丢弃最旧的一条
		select {
		case old := <-c.inbound:
			log.Warnf("通道 %d 接收队列已满，丢弃 %s", c.handle, old)
		default:
		}
		select {
		case c.inbound <- msg:
		default:
		}
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// pushTPConfig 把 ISO-TP 参数下发到所有链路，调用方持有写锁
func (c *Channel) pushTPConfig() {
	cfg := c.cfg.tpConfig()
	for _, l := range c.links {
		l.tp.SetConfig(cfg)
	}
}

package channel

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/uds"
)

const linkRxBufferSize = 64

type linkKey struct {
	tx, rx uint32
}

// link 是一对 CAN ID 上的 ISO-TP 连接
type link struct {
	key     linkKey
	tp      *tp_layer.Transport
	rx      chan tp_layer.CanMessage
	receive bool // 是否参与接收分发

	mu      sync.Mutex
	pending []pendingTx // 已提交、等待发送结果的请求，按编号递增
}

type pendingTx struct {
	id  uint64
	msg *uds.Message
}

func newLink(key linkKey, cfg tp_layer.Config, receive, listenOnly bool) (*link, error) {
	mode := tp_layer.Normal11Bit
	if key.tx > 0x7FF || key.rx > 0x7FF {
		mode = tp_layer.Normal29Bit
	}
	opts := []func(*tp_layer.Address){tp_layer.WithTxID(key.tx), tp_layer.WithRxID(key.rx)}
	if listenOnly {
		opts = append(opts, tp_layer.WithListenOnly())
	}
	addr, err := tp_layer.NewAddress(mode, opts...)
	if err != nil {
		return nil, err
	}
	return &link{
		key:     key,
		tp:      tp_layer.NewTransport(addr, cfg),
		rx:      make(chan tp_layer.CanMessage, linkRxBufferSize),
		receive: receive,
	}, nil
}

func (l *link) start(ctx context.Context, wg *sync.WaitGroup, txFrames chan<- tp_layer.CanMessage, onEvent func(*link, tp_layer.Event)) {
	wg.Add(3)
	go func() {
		defer wg.Done()
		l.tp.Run(ctx, l.rx, txFrames)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-l.tp.Events():
				onEvent(l, ev)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-l.tp.ErrorChan:
				log.Debugf("ISO-TP 链路 0x%X/0x%X: %v", l.key.tx, l.key.rx, err)
			}
		}
	}()
}

func (l *link) send(msg *uds.Message) error {
	addrType := tp_layer.Physical
	if msg.NAI.TAType == uds.Functional {
		addrType = tp_layer.Functional
	}
	// 持锁提交，保证 pending 与发送队列顺序一致
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := l.tp.Submit(msg.Data, addrType)
	if err != nil {
		return err
	}
	l.pending = append(l.pending, pendingTx{id: id, msg: msg.Clone()})
	return nil
}

func (l *link) peekPending(id uint64) *uds.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.pending {
		if p.id == id {
			return p.msg
		}
	}
	return nil
}

// popPending 取出编号为 id 的请求。编号更小的请求已丢失发送结果，一并移除。
func (l *link) popPending(id uint64) *uds.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, p := range l.pending {
		if p.id != id {
			continue
		}
		for _, lost := range l.pending[:i] {
			log.Warnf("链路 0x%X/0x%X 丢失发送结果: %s", l.key.tx, l.key.rx, lost.msg)
		}
		l.pending = l.pending[i+1:]
		return p.msg
	}
	return nil
}

// ensureLinks 为映射建立发送与接收两个方向的链路，调用方持有写锁
func (c *Channel) ensureLinks(m Mapping) error {
	type plan struct {
		key               linkKey
		receive, listenOn bool
	}
	var plans []plan
	if m.NAI.TAType == uds.Functional {
		// 功能请求只发单帧；接收侧只监听单帧
		plans = []plan{
			{linkKey{tx: m.CanID, rx: m.CanIDFlowCtrl}, false, false},
			{linkKey{tx: m.CanIDFlowCtrl, rx: m.CanID}, true, true},
		}
	} else {
		plans = []plan{
			{linkKey{tx: m.CanID, rx: m.CanIDFlowCtrl}, true, false},
			{linkKey{tx: m.CanIDFlowCtrl, rx: m.CanID}, true, false},
		}
	}
	for _, s := range plans {
		if _, ok := c.links[s.key]; ok {
			continue
		}
		l, err := newLink(s.key, c.cfg.tpConfig(), s.receive, s.listenOn)
		if err != nil {
			return err
		}
		c.links[s.key] = l
		l.start(c.ctx, &c.wg, c.txFrames, c.handleEvent)
	}
	return nil
}

// inboundNAI 根据接收 ID 反查发送方的网络地址信息
func (c *Channel) inboundNAI(l *link) (uds.NetAddrInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.mappings {
		if m.CanID == l.key.rx && (m.CanIDFlowCtrl == l.key.tx || m.NAI.TAType == uds.Functional) {
			return m.NAI, true
		}
	}
	for _, m := range c.mappings {
		if m.CanID == l.key.tx && m.CanIDFlowCtrl == l.key.rx && m.NAI.TAType == uds.Physical {
			return m.NAI.Peer(), true
		}
	}
	return uds.NetAddrInfo{}, false
}

// handleEvent 把链路事件转成 UDS 消息放入接收队列
func (c *Channel) handleEvent(l *link, ev tp_layer.Event) {
	switch ev.Kind {
	case tp_layer.EventTxStarted:
		req := l.peekPending(ev.TxID)
		if req == nil {
			return
		}
		msg := req.Clone()
		msg.Type = uds.MessageIndicationTx
		c.push(msg)

	case tp_layer.EventTxDone:
		req := l.popPending(ev.TxID)
		if req == nil {
			log.Warnf("链路 0x%X/0x%X 收到无对应请求的发送结果 %s", l.key.tx, l.key.rx, ev.Result)
			return
		}
		msg := req.Clone()
		msg.Type = uds.MessageConfirm
		msg.Result = ev.Result
		c.push(msg)

	case tp_layer.EventRxStarted, tp_layer.EventRxDone:
		nai, ok := c.inboundNAI(l)
		if !ok {
			log.Debugf("链路 0x%X/0x%X 没有对应映射，丢弃报文", l.key.tx, l.key.rx)
			return
		}
		if !c.accepts(nai) {
			return
		}
		msg := &uds.Message{NAI: nai, Result: ev.Result, Type: uds.MessageIndication}
		if ev.Kind == tp_layer.EventRxDone {
			msg.Type = uds.MessageConfirm
			msg.Data = ev.Data
			msg.NoPositiveResponse = uds.IsSuppressed(ev.Data)
		}
		c.push(msg)
	}
}

// accepts 只接收发给本地址或监听的功能地址的报文
func (c *Channel) accepts(nai uds.NetAddrInfo) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if nai.TAType == uds.Functional {
		return c.cfg.listening(nai.TA)
	}
	return nai.TA == c.cfg.ServerAddress
}

// route 把总线上的帧分发给各接收链路
func (c *Channel) route(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.rxFrames:
			c.mu.RLock()
			for _, l := range c.links {
				if !l.receive || !l.tp.Address().IsForMe(&frame) {
					continue
				}
				select {
				case l.rx <- frame:
				default:
					log.Warnf("链路 0x%X/0x%X 接收缓冲区已满，丢弃帧", l.key.tx, l.key.rx)
				}
			}
			c.mu.RUnlock()
		}
	}
}

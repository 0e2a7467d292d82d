package udsclient

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/channel"
	"github.com/LoveWonYoung/udsengine/uds"
)

// syncKeepAlive 非默认会话启动保活，回到默认会话停止
func (c *Client) syncKeepAlive(info channel.SessionInfo) {
	key := peer{sa: info.NAI.SA, ta: info.NAI.TA}

	c.kaMu.Lock()
	defer c.kaMu.Unlock()
	cancel, running := c.keepAlives[key]
	switch {
	case info.NeedsKeepAlive() && !running && !c.closed && c.keepAlivePeriod > 0:
		ctx, cancel := context.WithCancel(context.Background())
		c.keepAlives[key] = cancel
		c.kaWG.Add(1)
		go c.keepAlive(ctx, info.NAI)
		log.Debugf("ECU 0x%02X 启动 TesterPresent 保活，周期 %v", info.NAI.TA, c.keepAlivePeriod)
	case !info.NeedsKeepAlive() && running:
		cancel()
		delete(c.keepAlives, key)
		log.Debugf("ECU 0x%02X 停止 TesterPresent 保活", info.NAI.TA)
	}
}

// KeepAliveActive 报告是否正在向 nai.TA 发送保活
func (c *Client) KeepAliveActive(nai uds.NetAddrInfo) bool {
	c.kaMu.Lock()
	defer c.kaMu.Unlock()
	_, ok := c.keepAlives[peer{sa: nai.SA, ta: nai.TA}]
	return ok
}

func (c *Client) keepAlive(ctx context.Context, nai uds.NetAddrInfo) {
	defer c.kaWG.Done()
	ticker := time.NewTicker(c.keepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendTesterPresent(nai)
		}
	}
}

// sendTesterPresent 事务进行中时跳过本次保活
func (c *Client) sendTesterPresent(nai uds.NetAddrInfo) {
	if !c.mu.TryLock() {
		log.Debugf("事务进行中，跳过 ECU 0x%02X 的保活", nai.TA)
		return
	}
	defer c.mu.Unlock()

	req, err := uds.NewTesterPresent(nai, uds.SuppressPositiveResponse())
	if err != nil {
		log.Errorf("构造 TesterPresent 失败: %v", err)
		return
	}
	if err := c.Send(req); err != nil {
		log.Warnf("发送 TesterPresent 到 ECU 0x%02X 失败: %v", nai.TA, err)
		return
	}
	// 其他消息留给调用方
	reqTimeout, _ := c.ch.Timeouts()
	if _, err := c.await(time.Now().Add(reqTimeout), c.pollInterval, true, isConfirmationOf(req)); err != nil {
		log.Warnf("TesterPresent 到 ECU 0x%02X 未确认: %v", nai.TA, err)
	}
}

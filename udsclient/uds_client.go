package udsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/channel"
	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/txlog"
	"github.com/LoveWonYoung/udsengine/uds"
)

const (
	defaultPollInterval   = 2 * time.Millisecond // 接收轮询间隔
	defaultPendingCeiling = 60 * time.Second     // 连续 Response Pending 的总等待上限
	defaultMaxRetries     = 3                    // 默认最大重试次数
)

// Channel 是客户端所需的通道能力，*channel.Channel 满足该接口
type Channel interface {
	Write(msg *uds.Message) error
	Read() (*uds.Message, error)
	Timeouts() (request, response time.Duration)
	Session(nai uds.NetAddrInfo) channel.SessionInfo
	UpdateSession(info channel.SessionInfo)
}

// Notifier 可选：通道在消息到达时发出信号，等待时不必只靠轮询
type Notifier interface {
	Notify() <-chan struct{}
}

// Recorder 持久化一次完整的事务
type Recorder interface {
	Record(rec *txlog.Record) error
}

// Client UDS 客户端事务引擎
type Client struct {
	ch Channel

	// mu 保证同一时刻只有一个事务在等待响应
	mu sync.Mutex

	// held 保活等待期间读到的其他消息，下次读取时优先返回
	heldMu sync.Mutex
	held   []*uds.Message

	pollInterval    time.Duration
	keepAlivePeriod time.Duration
	pendingCeiling  time.Duration
	recorder        Recorder

	kaMu       sync.Mutex
	keepAlives map[peer]context.CancelFunc
	kaWG       sync.WaitGroup
	closed     bool
}

type peer struct {
	sa, ta byte
}

type Option func(*Client)

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithKeepAlivePeriod 非默认会话下 TesterPresent 的发送周期
func WithKeepAlivePeriod(d time.Duration) Option {
	return func(c *Client) { c.keepAlivePeriod = d }
}

// WithPendingCeiling 连续 0x78 时最长的总等待时间
func WithPendingCeiling(d time.Duration) Option {
	return func(c *Client) { c.pendingCeiling = d }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New 在通道上创建客户端
func New(ch Channel, opts ...Option) *Client {
	c := &Client{
		ch:              ch,
		pollInterval:    defaultPollInterval,
		keepAlivePeriod: uds.DefaultS3ClientPeriod,
		pendingCeiling:  defaultPendingCeiling,
		keepAlives:      make(map[peer]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close 停止所有保活协程
func (c *Client) Close() {
	c.kaMu.Lock()
	c.closed = true
	for k, cancel := range c.keepAlives {
		cancel()
		delete(c.keepAlives, k)
	}
	c.kaMu.Unlock()
	c.kaWG.Wait()
}

// Send 发送请求，不等待任何结果
func (c *Client) Send(req *uds.Message) error {
	if req == nil || len(req.Data) == 0 {
		return fmt.Errorf("请求为空: %w", uds.StatusWrongParameter)
	}
	if req.Type != uds.MessageRequest {
		return fmt.Errorf("消息类型 %s 不是请求: %w", req.Type, uds.StatusWrongParameter)
	}
	return c.ch.Write(req)
}

func isConfirmationOf(req *uds.Message) func(*uds.Message) bool {
	return func(m *uds.Message) bool {
		return m.Type == uds.MessageConfirm &&
			m.NAI.SA == req.NAI.SA && m.NAI.TA == req.NAI.TA &&
			len(m.Data) > 0 && m.Data[0] == req.Data[0]
	}
}

func isResponseTo(req *uds.Message) func(*uds.Message) bool {
	return func(m *uds.Message) bool {
		if m.Type != uds.MessageConfirm || m.NAI.TA != req.NAI.SA {
			return false
		}
		return req.NAI.TAType == uds.Functional || m.NAI.SA == req.NAI.TA
	}
}

func (c *Client) read() (*uds.Message, error) {
	c.heldMu.Lock()
	if len(c.held) > 0 {
		m := c.held[0]
		c.held = c.held[1:]
		c.heldMu.Unlock()
		return m, nil
	}
	c.heldMu.Unlock()
	return c.ch.Read()
}

// hold 把消息按原顺序放回接收队列前端
func (c *Client) hold(msgs []*uds.Message) {
	if len(msgs) == 0 {
		return
	}
	c.heldMu.Lock()
	c.held = append(msgs, c.held...)
	c.heldMu.Unlock()
}

// await 轮询 (或等待到达信号) 直到匹配的消息到达或 deadline 过期。
// keep 为 false 时不匹配的消息被丢弃，否则返回前放回队列。
func (c *Client) await(deadline time.Time, poll time.Duration, keep bool, match func(*uds.Message) bool) (*uds.Message, error) {
	var skipped []*uds.Message
	defer func() { c.hold(skipped) }()

	var notify <-chan struct{}
	if n, ok := c.ch.(Notifier); ok {
		notify = n.Notify()
	}
	if poll <= 0 {
		poll = c.pollInterval
	}
	for {
		msg, err := c.read()
		if err == nil {
			if match(msg) {
				return msg, nil
			}
			if keep {
				skipped = append(skipped, msg)
			} else {
				log.Debugf("忽略不相关的消息 %s", msg)
			}
			continue
		}
		if !errors.Is(err, uds.StatusNoMessage) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, uds.StatusTimeout
		}
		wait := poll
		if remaining < wait {
			wait = remaining
		}
		if notify == nil {
			time.Sleep(wait) // 短暂等待，避免抢占CPU
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// WaitForSingle 等待请求的发送确认 (waitConfirmation) 或第一条响应。
// 等待期间持有事务锁，保活不会插入。
func (c *Client) WaitForSingle(req *uds.Message, waitConfirmation bool, poll, timeout time.Duration) (*uds.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitForSingle(req, waitConfirmation, poll, timeout)
}

func (c *Client) waitForSingle(req *uds.Message, waitConfirmation bool, poll, timeout time.Duration) (*uds.Message, error) {
	match := isResponseTo(req)
	if waitConfirmation {
		match = isConfirmationOf(req)
	}
	return c.await(time.Now().Add(timeout), poll, false, match)
}

func (c *Client) waitConfirmation(req *uds.Message) (*uds.Message, error) {
	reqTimeout, _ := c.ch.Timeouts()
	conf, err := c.waitForSingle(req, true, c.pollInterval, reqTimeout)
	if err != nil {
		return nil, fmt.Errorf("等待发送确认: %w", err)
	}
	if conf.Result != tp_layer.NResultOK {
		return conf, conf.Result
	}
	return conf, nil
}

// pendingWindow 收到 0x78 后的新截止时间：对端 P2*，不超过 ceiling
func (c *Client) pendingWindow(req *uds.Message, ceiling time.Time) (time.Time, bool) {
	now := time.Now()
	if !now.Before(ceiling) {
		return ceiling, false
	}
	p2star := c.ch.Session(req.NAI).P2Star()
	if p2star <= 0 {
		p2star = uds.P2CANEnhancedServerMax
	}
	deadline := now.Add(p2star)
	if deadline.After(ceiling) {
		deadline = ceiling
	}
	return deadline, true
}

// WaitForService 等待发送确认，再等待正响应或负响应。
// 0x78 按对端 P2* 重新计时；抑制正响应的请求超时时返回 (nil, conf, nil)。
// 负响应不是错误，由调用方用 uds.CheckResponse 判断。
func (c *Client) WaitForService(req *uds.Message) (*uds.Message, *uds.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitForService(req)
}

func (c *Client) waitForService(req *uds.Message) (*uds.Message, *uds.Message, error) {
	conf, err := c.waitConfirmation(req)
	if err != nil {
		return nil, conf, err
	}

	_, respTimeout := c.ch.Timeouts()
	start := time.Now()
	deadline := start.Add(respTimeout)
	ceiling := start.Add(c.pendingCeiling)
	match := isResponseTo(req)
	for {
		resp, err := c.await(deadline, c.pollInterval, false, match)
		if err != nil {
			if errors.Is(err, uds.StatusTimeout) && req.NoPositiveResponse {
				return nil, conf, nil
			}
			return nil, conf, err
		}
		if resp.Result != tp_layer.NResultOK {
			return resp, conf, resp.Result
		}
		if resp.IsResponsePending() && resp.ServiceID() == req.Data[0] {
			var ok bool
			if deadline, ok = c.pendingWindow(req, ceiling); !ok {
				return nil, conf, uds.StatusTimeout
			}
			log.Infof("收到 Response Pending (SID=0x%02X)，继续等待...", resp.ServiceID())
			continue
		}
		c.ProcessResponse(resp)
		return resp, conf, nil
	}
}

// WaitForServiceFunctional 收集功能寻址请求的多个响应。
// 不等到超时时缓冲区装满即返回 StatusOverflow；等到超时时只有响应被丢弃才返回 StatusOverflow。
// 一个响应都没有时返回 StatusTimeout。
func (c *Client) WaitForServiceFunctional(req *uds.Message, maxCount int, waitUntilTimeout bool) ([]*uds.Message, *uds.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitForServiceFunctional(req, maxCount, waitUntilTimeout)
}

func (c *Client) waitForServiceFunctional(req *uds.Message, maxCount int, waitUntilTimeout bool) ([]*uds.Message, *uds.Message, error) {
	if maxCount <= 0 {
		return nil, nil, fmt.Errorf("响应缓冲区大小 %d 无效: %w", maxCount, uds.StatusWrongParameter)
	}
	conf, err := c.waitConfirmation(req)
	if err != nil {
		return nil, conf, err
	}

	_, respTimeout := c.ch.Timeouts()
	start := time.Now()
	deadline := start.Add(respTimeout)
	ceiling := start.Add(c.pendingCeiling)
	match := isResponseTo(req)
	responses := make([]*uds.Message, 0, maxCount)
	dropped := 0
	for {
		resp, err := c.await(deadline, c.pollInterval, false, match)
		if err != nil {
			if !errors.Is(err, uds.StatusTimeout) {
				return responses, conf, err
			}
			break
		}
		if resp.Result == tp_layer.NResultOK && resp.IsResponsePending() {
			if next, ok := c.pendingWindow(req, ceiling); ok && next.After(deadline) {
				deadline = next
			}
			continue
		}
		if len(responses) == maxCount {
			dropped++
			continue
		}
		c.ProcessResponse(resp)
		responses = append(responses, resp)
		if len(responses) == maxCount && !waitUntilTimeout {
			return responses, conf, uds.StatusOverflow
		}
	}

	switch {
	case dropped > 0:
		log.Warnf("功能寻址响应缓冲区已满，丢弃 %d 条响应", dropped)
		return responses, conf, uds.StatusOverflow
	case len(responses) == 0 && !req.NoPositiveResponse:
		return responses, conf, uds.StatusTimeout
	}
	return responses, conf, nil
}

// ProcessResponse 根据 DiagnosticSessionControl 正响应更新对端会话与保活状态。
// P2 单位 1ms，P2* 单位 10ms。
func (c *Client) ProcessResponse(resp *uds.Message) {
	if resp == nil || resp.Result != tp_layer.NResultOK || len(resp.Data) < 2 ||
		resp.Data[0] != uds.SIDDiagnosticSessionControl|uds.PositiveResponseOffset {
		return
	}
	nai := resp.NAI.Peer()
	nai.TAType = uds.Physical
	info := channel.DefaultSession(nai)
	info.SessionType = resp.Data[1] & 0x7F
	if len(resp.Data) >= 6 {
		info.P2ServerMax = uint16(resp.Data[2])<<8 | uint16(resp.Data[3])
		p2star := (uint32(resp.Data[4])<<8 | uint32(resp.Data[5])) * 10
		if p2star > 0xFFFF {
			p2star = 0xFFFF
		}
		info.P2StarServerMax = uint16(p2star)
	}
	c.ch.UpdateSession(info)
	log.Infof("ECU 0x%02X 进入会话 0x%02X (P2=%dms, P2*=%dms)", resp.NAI.SA, info.SessionType, info.P2ServerMax, info.P2StarServerMax)
	c.syncKeepAlive(info)
}

func (c *Client) record(req, conf *uds.Message, responses []*uds.Message, err error, start time.Time) {
	if c.recorder == nil {
		return
	}
	rec := &txlog.Record{
		Time:      start,
		Duration:  time.Since(start),
		Request:   req,
		Confirm:   conf,
		Responses: responses,
		Status:    uds.StatusOf(err),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if rerr := c.recorder.Record(rec); rerr != nil {
		log.Warnf("记录事务失败: %v", rerr)
	}
}

// Exchange 发送请求并等待响应，持有事务锁，结果写入事务日志
func (c *Client) Exchange(req *uds.Message) (*uds.Message, *uds.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	if err := c.Send(req); err != nil {
		c.record(req, nil, nil, err, start)
		return nil, nil, err
	}
	resp, conf, err := c.waitForService(req)
	var responses []*uds.Message
	if resp != nil {
		responses = []*uds.Message{resp}
	}
	c.record(req, conf, responses, err, start)
	return resp, conf, err
}

// ExchangeFunctional 发送功能寻址请求并收集响应
func (c *Client) ExchangeFunctional(req *uds.Message, maxCount int, waitUntilTimeout bool) ([]*uds.Message, *uds.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	if err := c.Send(req); err != nil {
		c.record(req, nil, nil, err, start)
		return nil, nil, err
	}
	responses, conf, err := c.waitForServiceFunctional(req, maxCount, waitUntilTimeout)
	c.record(req, conf, responses, err, start)
	return responses, conf, err
}

// RequestOptions 请求重试选项
type RequestOptions struct {
	MaxRetries int           // 最大重试次数 (仅对可重试错误生效)
	RetryDelay time.Duration // 重试间隔
}

// DefaultRequestOptions 返回默认请求选项
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		MaxRetries: defaultMaxRetries,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Request 使用默认选项发送请求
func (c *Client) Request(req *uds.Message) (*uds.Message, error) {
	return c.RequestWithContext(context.Background(), req, DefaultRequestOptions())
}

// RequestWithContext 发送请求并校验响应：
// 负响应返回 *uds.UDSError，0x21 按 opts 重试；SID 不匹配返回错误；
// 抑制正响应且没有响应时返回 (nil, nil)。
func (c *Client) RequestWithContext(ctx context.Context, req *uds.Message, opts RequestOptions) (*uds.Message, error) {
	if req == nil || len(req.Data) == 0 {
		return nil, fmt.Errorf("请求为空: %w", uds.StatusWrongParameter)
	}
	sid := req.Data[0]

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Infof("UDS 请求重试 (%d/%d), SID=0x%02X", attempt, opts.MaxRetries, sid)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, _, err := c.Exchange(req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		result := uds.CheckResponse(resp, sid)
		switch result.Kind {
		case uds.ResultConfirmed:
			return resp, nil
		case uds.ResultNegativeResponseCode:
			udsErr := uds.NewUDSError(resp)
			if udsErr.IsRetryable() && attempt < opts.MaxRetries {
				lastErr = udsErr
				continue
			}
			return resp, udsErr
		default:
			return resp, fmt.Errorf("响应 SID 不匹配: 期望 0x%02X, 收到 0x%02X", sid|uds.PositiveResponseOffset, resp.Data[0])
		}
	}
	return nil, fmt.Errorf("达到最大重试次数 (%d): %w", opts.MaxRetries, lastErr)
}

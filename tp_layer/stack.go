package tp_layer

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	txQueueSize    = 16
	eventQueueSize = 64
	errorQueueSize = 10

	// 发送事件在队列满时最多等待的时间
	txEventTimeout = time.Second
)

type txRequest struct {
	id       uint64
	data     []byte
	addrType AddressType
}

// Transport 是ISOTP协议栈的核心结构，所有状态只在 Run 的事件循环中修改。
type Transport struct {
	address *Address
	config  Config

	rxState    State
	txState    State
	rxBuffer   []byte
	txBuffer   []byte
	txPayload  []byte
	txAddrType AddressType
	txID       uint64
	nextTxID   atomic.Uint64

	txDataChan chan txRequest
	cfgChan    chan Config
	events     chan Event

	rxFrameLen      int
	rxSeqNum        int
	rxBlockCounter  int
	txSeqNum        int
	txBlockCounter  int
	remoteBlocksize int
	remoteStmin     time.Duration
	wftCounter      int

	timerRxCF    *time.Timer
	timerRxFC    *time.Timer
	timerTxSTmin *time.Timer

	// ErrorChan 上报不属于某个报文结果的协议错误 (解析失败、队列满等)
	ErrorChan chan error
}

func NewTransport(address *Address, cfg Config) *Transport {
	t := &Transport{
		address:      address,
		config:       cfg,
		txDataChan:   make(chan txRequest, txQueueSize),
		cfgChan:      make(chan Config, 1),
		events:       make(chan Event, eventQueueSize),
		timerRxCF:    time.NewTimer(time.Hour),
		timerRxFC:    time.NewTimer(time.Hour),
		timerTxSTmin: time.NewTimer(time.Hour),
		ErrorChan:    make(chan error, errorQueueSize),
	}
	stopTimer(t.timerRxCF)
	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)

	t.stopReceiving()
	t.stopSending()
	return t
}

// Address 返回链路地址。
func (t *Transport) Address() *Address {
	return t.address
}

// Send 将一个完整的报文放入发送队列，队列满时立即返回错误。
func (t *Transport) Send(data []byte, addrType AddressType) error {
	_, err := t.Submit(data, addrType)
	return err
}

// Submit 与 Send 相同，另外返回报文编号，该报文的 TxStarted/TxDone 事件带同一编号。
func (t *Transport) Submit(data []byte, addrType AddressType) (uint64, error) {
	if len(data) == 0 {
		return 0, newIsoTpError(NResultError, "发送数据不能为空")
	}
	req := txRequest{id: t.nextTxID.Add(1), data: append([]byte(nil), data...), addrType: addrType}
	select {
	case t.txDataChan <- req:
		return req.id, nil
	default:
		return 0, newIsoTpError(NResultError, "发送队列已满")
	}
}

// Recv 非阻塞地取出一个事件。
func (t *Transport) Recv() (Event, bool) {
	select {
	case ev := <-t.events:
		return ev, true
	default:
		return Event{}, false
	}
}

// Events 返回事件通道，供需要阻塞等待的调用方使用。
func (t *Transport) Events() <-chan Event {
	return t.events
}

// SetConfig 在事件循环中替换配置，新配置对下一帧生效。
func (t *Transport) SetConfig(cfg Config) {
	select {
	case <-t.cfgChan:
	default:
	}
	t.cfgChan <- cfg
}

// Run starts the protocol stack event loop.
func (t *Transport) Run(ctx context.Context, rxChan <-chan CanMessage, txChan chan<- CanMessage) {
	defer t.cleanup()

	for {
		// 只有空闲时才从发送队列取数据
		var txDataEnable <-chan txRequest
		if t.txState == StateIdle {
			txDataEnable = t.txDataChan
		}

		select {
		case <-ctx.Done():
			return

		case cfg := <-t.cfgChan:
			t.config = cfg

		case msg, ok := <-rxChan:
			if !ok {
				return
			}
			t.ProcessRx(msg, txChan)

		case req := <-txDataEnable:
			t.initiateTx(req, txChan)

		case <-t.timerRxCF.C:
			log.Debugf("接收连续帧超时 (N_Cr)，重置接收状态。RxID=0x%X", t.address.RxID)
			t.emit(Event{Kind: EventRxDone, Length: t.rxFrameLen, Result: NResultTimeoutCr})
			t.stopReceiving()

		case <-t.timerRxFC.C:
			log.Debugf("等待流控帧超时 (N_Bs)，停止发送。TxID=0x%X", t.address.TxID)
			t.finishTx(NResultTimeoutBs)

		case <-t.timerTxSTmin.C:
			if t.txState == StateTransmit {
				t.handleTxTransmit(txChan)
			}
		}
	}
}

func (t *Transport) cleanup() {
	t.timerRxCF.Stop()
	t.timerRxFC.Stop()
	t.timerTxSTmin.Stop()
}

func stopTimer(tm *time.Timer) {
	if !tm.Stop() {
		select {
		case <-tm.C:
		default:
		}
	}
}

func resetTimer(tm *time.Timer, d time.Duration) {
	stopTimer(tm)
	tm.Reset(d)
}

func (t *Transport) stopReceiving() {
	t.rxState = StateIdle
	t.rxBuffer = nil
	t.rxFrameLen = 0
	t.rxSeqNum = 0
	t.rxBlockCounter = 0
	stopTimer(t.timerRxCF)
}

func (t *Transport) stopSending() {
	t.txState = StateIdle
	t.txBuffer = nil
	t.txPayload = nil
	t.txSeqNum = 0
	t.txBlockCounter = 0
	t.wftCounter = 0
	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)
}

// finishTx 上报发送结果并回到空闲状态。
func (t *Transport) finishTx(result NResult) {
	t.emit(Event{
		Kind:       EventTxDone,
		Data:       t.txPayload,
		Length:     len(t.txPayload),
		Result:     result,
		Functional: t.txAddrType == Functional,
		TxID:       t.txID,
	})
	t.stopSending()
}

func (t *Transport) makeTxMsg(data []byte, addrType AddressType) CanMessage {
	fullPayload := make([]byte, 0, len(t.address.TxPayloadPrefix)+len(data))
	fullPayload = append(fullPayload, t.address.TxPayloadPrefix...)
	fullPayload = append(fullPayload, data...)

	if t.config.PaddingByte != nil {
		targetLen := paddedLength(len(fullPayload), t.config.CanFD)
		for len(fullPayload) < targetLen {
			fullPayload = append(fullPayload, *t.config.PaddingByte)
		}
	}

	return CanMessage{
		ArbitrationID: t.address.GetTxArbitrationID(addrType),
		Data:          fullPayload,
		IsExtendedID:  t.address.Is29Bit(),
		IsFD:          t.config.CanFD,
	}
}

// transmit 把帧交给驱动，超过 timeout 仍无法写入时返回 false。
func (t *Transport) transmit(msg CanMessage, txChan chan<- CanMessage, timeout time.Duration) bool {
	select {
	case txChan <- msg:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case txChan <- msg:
		return true
	case <-timer.C:
		return false
	}
}

// emit 上报事件。接收事件在队列满时直接丢弃；发送事件最多等待 txEventTimeout。
func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
		return
	default:
	}
	if ev.Kind == EventTxStarted || ev.Kind == EventTxDone {
		timer := time.NewTimer(txEventTimeout)
		defer timer.Stop()
		select {
		case t.events <- ev:
			return
		case <-timer.C:
		}
	}
	t.fireError(newIsoTpError(NResultError, "事件队列已满，丢弃 %s 事件", ev.Kind))
}

// fireError sends an error to the ErrorChan. Non-blocking.
func (t *Transport) fireError(err error) {
	select {
	case t.ErrorChan <- err:
	default:
		log.Warnf("ISOTP Error (Chan Full): %v", err)
	}
}

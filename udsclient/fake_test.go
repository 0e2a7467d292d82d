package udsclient

import (
	"sort"
	"sync"
	"time"

	"github.com/LoveWonYoung/udsengine/channel"
	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/uds"
)

// step 是脚本化 ECU 的一条响应：请求发送 after 之后到达
type step struct {
	after time.Duration
	from  byte // 0 表示请求的目标地址
	data  []byte
}

type timedMessage struct {
	at  time.Time
	msg *uds.Message
}

// scriptedChannel 按脚本回复请求的假通道
type scriptedChannel struct {
	mu          sync.Mutex
	reqTimeout  time.Duration
	respTimeout time.Duration
	confirm     tp_layer.NResult
	respond     func(req *uds.Message) []step
	queue       []timedMessage
	sessions    map[[2]byte]channel.SessionInfo
	writes      []*uds.Message
}

func newScripted(respond func(req *uds.Message) []step) *scriptedChannel {
	return &scriptedChannel{
		reqTimeout:  time.Second,
		respTimeout: 200 * time.Millisecond,
		respond:     respond,
		sessions:    make(map[[2]byte]channel.SessionInfo),
	}
}

func (f *scriptedChannel) enqueue(at time.Time, msg *uds.Message) {
	f.queue = append(f.queue, timedMessage{at: at, msg: msg})
	sort.SliceStable(f.queue, func(i, j int) bool { return f.queue[i].at.Before(f.queue[j].at) })
}

func (f *scriptedChannel) Write(req *uds.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.writes = append(f.writes, req.Clone())

	conf := req.Clone()
	conf.Type = uds.MessageConfirm
	conf.Result = f.confirm
	f.enqueue(now, conf)
	if f.confirm != tp_layer.NResultOK || f.respond == nil {
		return nil
	}
	for _, s := range f.respond(req) {
		nai := req.NAI.Peer()
		nai.TAType = uds.Physical
		if s.from != 0 {
			nai.SA = s.from
		}
		f.enqueue(now.Add(s.after), &uds.Message{NAI: nai, Type: uds.MessageConfirm, Data: s.data})
	}
	return nil
}

func (f *scriptedChannel) Read() (*uds.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 || time.Now().Before(f.queue[0].at) {
		return nil, uds.StatusNoMessage
	}
	m := f.queue[0].msg
	f.queue = f.queue[1:]
	return m, nil
}

func (f *scriptedChannel) Timeouts() (time.Duration, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqTimeout, f.respTimeout
}

func (f *scriptedChannel) Session(nai uds.NetAddrInfo) channel.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[[2]byte{nai.SA, nai.TA}]; ok {
		return s
	}
	return channel.DefaultSession(nai)
}

func (f *scriptedChannel) UpdateSession(info channel.SessionInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[[2]byte{info.NAI.SA, info.NAI.TA}] = info
}

func (f *scriptedChannel) written() []*uds.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*uds.Message(nil), f.writes...)
}

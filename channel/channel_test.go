package channel

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsengine/driver"
	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/uds"
)

var (
	testerToECU1 = uds.NetAddrInfo{SA: uds.AddrTestEquipment, TA: uds.AddrECU1, TAType: uds.Physical, Protocol: uds.ProtocolISO15765_2_11B}
	functional   = uds.NetAddrInfo{SA: uds.AddrTestEquipment, TA: uds.AddrOBDFunctional, TAType: uds.Functional, Protocol: uds.ProtocolISO15765_2_11B}
)

func testConfig(server byte) Config {
	cfg := DefaultConfig()
	cfg.ServerAddress = server
	cfg.SeparationTime = 0
	return cfg
}

// openPair 在同一条虚拟总线上打开测试设备与 ECU1 两个通道
func openPair(t *testing.T, base Handle) (tester, ecu *Channel) {
	t.Helper()
	bus := driver.NewVirtualBus()
	tester, err := Initialize(base, bus.NewNode(driver.CAN), testConfig(uds.AddrTestEquipment))
	require.NoError(t, err)
	ecu, err = Initialize(base+1, bus.NewNode(driver.CAN), testConfig(uds.AddrECU1))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = Uninitialize(base)
		_ = Uninitialize(base + 1)
	})
	return tester, ecu
}

func waitMessage(t *testing.T, c *Channel, match func(*uds.Message) bool, timeout time.Duration) *uds.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m, err := c.Read()
		if err == nil {
			if match(m) {
				return m
			}
			continue
		}
		require.ErrorIs(t, err, uds.StatusNoMessage)
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("等待消息超时 (%v)", timeout)
	return nil
}

func isConfirm(sa byte) func(*uds.Message) bool {
	return func(m *uds.Message) bool { return m.Type == uds.MessageConfirm && m.NAI.SA == sa }
}

func TestRegistry(t *testing.T) {
	bus := driver.NewVirtualBus()
	_, err := Initialize(100, bus.NewNode(driver.CAN), DefaultConfig())
	require.NoError(t, err)

	_, err = Initialize(100, bus.NewNode(driver.CAN), DefaultConfig())
	assert.ErrorIs(t, err, uds.StatusAlreadyInitialized)

	c, err := Lookup(100)
	require.NoError(t, err)
	assert.Equal(t, Handle(100), c.Handle())

	require.NoError(t, Uninitialize(100))
	assert.ErrorIs(t, Uninitialize(100), uds.StatusNotInitialized)
	assert.ErrorIs(t, SetValue(100, ParamBlockSize, []byte{8}), uds.StatusNotInitialized)
	_, err = Read(100)
	assert.ErrorIs(t, err, uds.StatusNotInitialized)

	_, err = c.Read()
	assert.ErrorIs(t, err, uds.StatusNotInitialized)
}

func TestSetGetValue(t *testing.T) {
	bus := driver.NewVirtualBus()
	_, err := Initialize(110, bus.NewNode(driver.CAN), DefaultConfig())
	require.NoError(t, err)
	defer Uninitialize(110)

	tests := []struct {
		name  string
		param Parameter
		value []byte
	}{
		{"服务器地址", ParamServerAddress, []byte{0x00, 0x01}},
		{"请求超时", ParamTimeoutRequest, []byte{0x00, 0x00, 0x03, 0xE8}},
		{"响应超时", ParamTimeoutResponse, []byte{0x00, 0x00, 0x07, 0xD0}},
		{"块大小", ParamBlockSize, []byte{0x08}},
		{"STmin", ParamSeparationTime, []byte{0xF5}},
		{"WFT 最大值", ParamWFTMax, []byte{0x00, 0x00, 0x00, 0x05}},
		{"填充", ParamCANDataPadding, []byte{PaddingOff}},
		{"填充值", ParamPaddingValue, []byte{0xAA}},
		{"接收事件", ParamReceiveEvent, []byte{0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, SetValue(110, tt.param, tt.value))
			got, err := GetValue(110, tt.param)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}

	c, _ := Lookup(110)
	req, resp := c.Timeouts()
	assert.Equal(t, time.Second, req)
	assert.Equal(t, 2*time.Second, resp)
	assert.NotNil(t, c.Notify())

	v, err := GetValue(110, ParamAPIVersion)
	require.NoError(t, err)
	assert.Equal(t, APIVersion, string(v))

	v, err = GetValue(110, ParamChannelCondition)
	require.NoError(t, err)
	assert.Equal(t, []byte{ConditionAvailable}, v)
}

func TestSetValue_WrongParameter(t *testing.T) {
	bus := driver.NewVirtualBus()
	_, err := Initialize(120, bus.NewNode(driver.CAN), DefaultConfig())
	require.NoError(t, err)
	defer Uninitialize(120)

	tests := []struct {
		name  string
		param Parameter
		value []byte
	}{
		{"只读 API 版本", ParamAPIVersion, []byte{1}},
		{"只读通道状态", ParamChannelCondition, []byte{1}},
		{"未知参数", Parameter(0x01), []byte{1}},
		{"长度错误", ParamTimeoutRequest, []byte{0x01}},
		{"无效 STmin", ParamSeparationTime, []byte{0x80}},
		{"无效调试值", ParamDebug, []byte{0x05}},
		{"无效过滤值", ParamServerFilter, []byte{0x01, 0x33}},
		{"会话记录长度错误", ParamSessionInfo, []byte{0x01}},
		{"映射记录长度错误", ParamMappingAdd, []byte{0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, SetValue(120, tt.param, tt.value), uds.StatusWrongParameter)
		})
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// 调试开关只影响本通道的帧日志，不改全局日志级别
func TestDebugTrace_PerChannel(t *testing.T) {
	out := &lockedBuffer{}
	oldLevel, oldOut := log.GetLevel(), log.StandardLogger().Out
	log.SetOutput(out)
	log.SetLevel(log.InfoLevel)
	t.Cleanup(func() {
		log.SetOutput(oldOut)
		log.SetLevel(oldLevel)
	})

	tester, ecu := openPair(t, 250)
	require.NoError(t, tester.SetValue(ParamDebug, []byte{DebugCAN}))
	assert.Equal(t, log.InfoLevel, log.GetLevel())

	req := &uds.Message{NAI: testerToECU1, Type: uds.MessageRequest, Data: []byte{0x3E, 0x00}}
	require.NoError(t, tester.Write(req))
	waitMessage(t, ecu, func(m *uds.Message) bool { return m.Type == uds.MessageConfirm }, time.Second)
	assert.Contains(t, out.String(), "[UDS] TX")
	assert.Contains(t, out.String(), "[CAN] TX")

	require.NoError(t, tester.SetValue(ParamDebug, []byte{DebugNone}))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	out.Reset()
	require.NoError(t, tester.Write(req))
	waitMessage(t, ecu, func(m *uds.Message) bool { return m.Type == uds.MessageConfirm }, time.Second)
	assert.False(t, strings.Contains(out.String(), "[UDS] TX"), out.String())
}

func TestServerFilter(t *testing.T) {
	bus := driver.NewVirtualBus()
	c, err := Initialize(130, bus.NewNode(driver.CAN), DefaultConfig())
	require.NoError(t, err)
	defer Uninitialize(130)

	require.NoError(t, c.SetValue(ParamServerFilter, []byte{0x80, 0x44}))
	v, err := c.GetValue(ParamServerFilter)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x33, 0x80, 0x44}, v)

	require.NoError(t, c.SetValue(ParamServerFilter, []byte{0x00, 0x33}))
	assert.Equal(t, []byte{0x44}, c.Config().ServerFilters)
}

func TestSession(t *testing.T) {
	bus := driver.NewVirtualBus()
	c, err := Initialize(140, bus.NewNode(driver.CAN), DefaultConfig())
	require.NoError(t, err)
	defer Uninitialize(140)

	s := c.Session(testerToECU1)
	assert.False(t, s.NeedsKeepAlive())
	assert.Equal(t, 50*time.Millisecond, s.P2())
	assert.Equal(t, 5*time.Second, s.P2Star())

	c.UpdateSession(SessionInfo{NAI: testerToECU1, SessionType: uds.SessionProgramming, P2ServerMax: 16, P2StarServerMax: 10000})
	assert.True(t, c.Session(testerToECU1).NeedsKeepAlive())

	rec, _ := SessionInfo{NAI: testerToECU1, SessionType: uds.SessionDefault, P2ServerMax: 50, P2StarServerMax: 5000}.MarshalBinary()
	require.NoError(t, c.SetValue(ParamSessionInfo, rec))
	assert.False(t, c.Session(testerToECU1).NeedsKeepAlive())

	v, err := c.GetValue(ParamSessionInfo)
	require.NoError(t, err)
	assert.Equal(t, rec, v)
}

func TestMappings(t *testing.T) {
	bus := driver.NewVirtualBus()
	c, err := Initialize(150, bus.NewNode(driver.CAN), DefaultConfig())
	require.NoError(t, err)
	defer Uninitialize(150)

	assert.Len(t, c.Mappings(), 17)

	m := Mapping{CanID: 0x18DA20F1, CanIDFlowCtrl: 0x18DAF120, NAI: uds.NetAddrInfo{
		SA: uds.AddrTestEquipment, TA: 0x20, TAType: uds.Physical, Protocol: uds.ProtocolISO15765_2_29B,
	}}
	rec, _ := m.MarshalBinary()
	require.NoError(t, c.SetValue(ParamMappingAdd, rec))
	assert.ErrorIs(t, c.AddMapping(m), uds.StatusWrongParameter)
	assert.Len(t, c.Mappings(), 18)

	require.NoError(t, c.SetValue(ParamMappingRemove, rec))
	assert.Len(t, c.Mappings(), 17)
	assert.ErrorIs(t, c.RemoveMapping(0x123), uds.StatusWrongParameter)
	assert.ErrorIs(t, c.AddMapping(Mapping{CanID: 0x700, CanIDFlowCtrl: 0x700, NAI: m.NAI}), uds.StatusWrongParameter)
}

func TestWrite_Validation(t *testing.T) {
	tester, _ := openPair(t, 200)

	assert.ErrorIs(t, tester.Write(nil), uds.StatusWrongParameter)
	assert.ErrorIs(t, tester.Write(&uds.Message{NAI: testerToECU1}), uds.StatusWrongParameter)
	assert.ErrorIs(t, tester.Write(&uds.Message{NAI: testerToECU1, Data: make([]byte, uds.MaxDataLength+1)}), uds.StatusWrongParameter)

	unknown := testerToECU1
	unknown.TA = 0x20
	assert.ErrorIs(t, tester.Write(&uds.Message{NAI: unknown, Data: []byte{0x3E, 0x00}}), uds.StatusWrongParameter)
}

func TestLoopback_SingleFrame(t *testing.T) {
	tester, ecu := openPair(t, 210)

	req, err := uds.NewDiagnosticSessionControl(testerToECU1, uds.SessionExtended)
	require.NoError(t, err)
	require.NoError(t, tester.Write(req))

	conf := waitMessage(t, tester, isConfirm(uds.AddrTestEquipment), time.Second)
	assert.Equal(t, tp_layer.NResultOK, conf.Result)
	assert.Equal(t, req.Data, conf.Data)

	ind := waitMessage(t, ecu, isConfirm(uds.AddrTestEquipment), time.Second)
	assert.Equal(t, testerToECU1, ind.NAI)
	assert.Equal(t, []byte{0x10, 0x03}, ind.Data)
	assert.False(t, ind.NoPositiveResponse)

	// ECU 回复，测试设备以 SA=ECU1 收到
	resp := &uds.Message{NAI: testerToECU1.Peer(), Data: []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}, Type: uds.MessageRequest}
	require.NoError(t, ecu.Write(resp))
	got := waitMessage(t, tester, isConfirm(uds.AddrECU1), time.Second)
	assert.Equal(t, resp.Data, got.Data)
	assert.Equal(t, uds.AddrTestEquipment, got.NAI.TA)
}

func TestLoopback_MultiFrame(t *testing.T) {
	tester, ecu := openPair(t, 220)

	record := bytes.Repeat([]byte{0x5A}, 200)
	req, err := uds.NewWriteDataByIdentifier(testerToECU1, 0xF199, record)
	require.NoError(t, err)
	require.NoError(t, tester.Write(req))

	ind := waitMessage(t, ecu, func(m *uds.Message) bool { return m.Type == uds.MessageIndication }, time.Second)
	assert.Equal(t, testerToECU1, ind.NAI)

	full := waitMessage(t, ecu, isConfirm(uds.AddrTestEquipment), 2*time.Second)
	assert.Equal(t, req.Data, full.Data)

	waitMessage(t, tester, func(m *uds.Message) bool { return m.Type == uds.MessageIndicationTx }, time.Second)
	conf := waitMessage(t, tester, isConfirm(uds.AddrTestEquipment), 2*time.Second)
	assert.Equal(t, tp_layer.NResultOK, conf.Result)
}

func TestLoopback_FunctionalSuppressed(t *testing.T) {
	tester, ecu := openPair(t, 230)

	req, err := uds.NewTesterPresent(functional, uds.SuppressPositiveResponse())
	require.NoError(t, err)
	require.NoError(t, tester.Write(req))

	ind := waitMessage(t, ecu, isConfirm(uds.AddrTestEquipment), time.Second)
	assert.Equal(t, uds.Functional, ind.NAI.TAType)
	assert.Equal(t, uds.AddrOBDFunctional, ind.NAI.TA)
	assert.True(t, ind.NoPositiveResponse)

	conf := waitMessage(t, tester, isConfirm(uds.AddrTestEquipment), time.Second)
	assert.True(t, conf.NoPositiveResponse)
}

func TestNotify(t *testing.T) {
	tester, ecu := openPair(t, 240)
	require.NoError(t, ecu.SetValue(ParamReceiveEvent, []byte{1}))
	sig := ecu.Notify()
	require.NotNil(t, sig)
	assert.Nil(t, tester.Notify())

	req, _ := uds.NewTesterPresent(testerToECU1)
	require.NoError(t, tester.Write(req))

	select {
	case <-sig:
	case <-time.After(time.Second):
		t.Fatal("未收到接收事件通知")
	}
	m, err := ecu.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x3E, 0x00}, m.Data)
}

// 某个发送结果丢失后，后续确认仍对应各自的请求
func TestLink_LostTxDoneKeepsAlignment(t *testing.T) {
	tester, _ := openPair(t, 260)
	l := &link{key: linkKey{tx: 0x7E0, rx: 0x7E8}}
	for id := uint64(1); id <= 3; id++ {
		l.pending = append(l.pending, pendingTx{id: id, msg: &uds.Message{
			NAI: testerToECU1, Type: uds.MessageRequest, Data: []byte{0x22, 0xF1, byte(id)},
		}})
	}

	// 1 号的 TxDone 丢失
	tester.handleEvent(l, tp_layer.Event{Kind: tp_layer.EventTxStarted, TxID: 2})
	tester.handleEvent(l, tp_layer.Event{Kind: tp_layer.EventTxDone, TxID: 2, Result: tp_layer.NResultOK})

	started := waitMessage(t, tester, func(m *uds.Message) bool { return m.Type == uds.MessageIndicationTx }, time.Second)
	assert.Equal(t, []byte{0x22, 0xF1, 0x02}, started.Data)
	conf := waitMessage(t, tester, func(m *uds.Message) bool { return m.Type == uds.MessageConfirm }, time.Second)
	assert.Equal(t, []byte{0x22, 0xF1, 0x02}, conf.Data)
	require.Len(t, l.pending, 1)
	assert.Equal(t, uint64(3), l.pending[0].id)

	tester.handleEvent(l, tp_layer.Event{Kind: tp_layer.EventTxDone, TxID: 3, Result: tp_layer.NResultTimeoutA})
	conf = waitMessage(t, tester, func(m *uds.Message) bool { return m.Type == uds.MessageConfirm }, time.Second)
	assert.Equal(t, []byte{0x22, 0xF1, 0x03}, conf.Data)
	assert.Equal(t, tp_layer.NResultTimeoutA, conf.Result)
	assert.Empty(t, l.pending)
}

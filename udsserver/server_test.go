package udsserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsengine/secaccess"
	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/uds"
)

type fakeChannel struct {
	mu      sync.Mutex
	inbound []*uds.Message
	written []*uds.Message
}

func (f *fakeChannel) Write(msg *uds.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, msg.Clone())
	return nil
}

func (f *fakeChannel) Read() (*uds.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return nil, uds.StatusNoMessage
	}
	m := f.inbound[0]
	f.inbound = f.inbound[1:]
	return m, nil
}

func (f *fakeChannel) push(msg *uds.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, msg)
}

func (f *fakeChannel) sent() []*uds.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*uds.Message(nil), f.written...)
}

var (
	physical   = uds.NetAddrInfo{SA: uds.AddrTestEquipment, TA: uds.AddrECU1, TAType: uds.Physical, Protocol: uds.ProtocolISO15765_2_11B}
	functional = uds.NetAddrInfo{SA: uds.AddrTestEquipment, TA: uds.AddrOBDFunctional, TAType: uds.Functional, Protocol: uds.ProtocolISO15765_2_11B}
)

func request(nai uds.NetAddrInfo, data ...byte) *uds.Message {
	return &uds.Message{NAI: nai, Type: uds.MessageConfirm, Data: data}
}

func TestHandle_Responses(t *testing.T) {
	tests := []struct {
		name string
		req  []byte
		want []byte
	}{
		{"会话控制", []byte{0x10, 0x03}, []byte{0x50, 0x03, 0x00, 0x10, 0x03, 0xE8}},
		{"ECU复位", []byte{0x11, 0x01}, []byte{0x51, 0x01}},
		{"ECU复位_快速下电", []byte{0x11, 0x04}, []byte{0x51, 0x04, 0x66}},
		{"发送密钥回显", []byte{0x27, 0x02, 0x11, 0x22}, []byte{0x67, 0x02}},
		{"通信控制", []byte{0x28, 0x01, 0x01}, []byte{0x68, 0x01}},
		{"TesterPresent", []byte{0x3E, 0x00}, []byte{0x7E, 0x00}},
		{"DTC设置", []byte{0x85, 0x02}, []byte{0xC5, 0x02}},
		{"ROE_报告已激活事件", []byte{0x86, 0x04}, []byte{0xC6, 0x04, 0x00}},
		{"ROE_启动", []byte{0x86, 0x05, 0x02}, []byte{0xC6, 0x05, 0x00, 0x02}},
		{"链路控制", []byte{0x87, 0x01, 0x12}, []byte{0xC7, 0x01}},
		{"读DID", []byte{0x22, 0xF1, 0x90, 0xF1, 0x8C},
			[]byte{0x62, 0xF1, 0x90, 'A', 'B', 'C', 'D', 'E', 0xF1, 0x8C, 'A', 'B', 'C', 'D', 'E'}},
		{"读内存", []byte{0x23, 0x14, 0x00, 0x00, 0x10, 0x00, 0x04}, []byte{0x63, 1, 2, 3, 4}},
		{"读缩放数据", []byte{0x24, 0xF1, 0x90},
			[]byte{0x64, 0xF1, 0x90, 0x01, 0x90, 0x00, 0xE0, 0x4B, 0x00, 0x1E, 0xA0, 0x30}},
		{"周期读", []byte{0x2A, 0x01, 0xE3}, []byte{0x6A}},
		{"动态定义", []byte{0x2C, 0x01, 0xF3, 0x00, 0xF1, 0x90, 0x01, 0x02}, []byte{0x6C, 0x01, 0xF3, 0x00}},
		{"动态定义_清除全部", []byte{0x2C, 0x03}, []byte{0x6C, 0x03}},
		{"写DID", []byte{0x2E, 0xF1, 0x90, 'V', 'I', 'N'}, []byte{0x6E, 0xF1, 0x90}},
		{"写内存", []byte{0x3D, 0x12, 0x20, 0x48, 0x02, 0xAA, 0xBB}, []byte{0x7D, 0x12, 0x20, 0x48, 0x02}},
		{"清除DTC", []byte{0x14, 0xFF, 0xFF, 0xFF}, []byte{0x54}},
		{"DTC数量", []byte{0x19, 0x01, 0xFF}, []byte{0x59, 0x01, 0xFF, 0x01, 0x00, 0x00}},
		{"DTC列表", []byte{0x19, 0x02, 0x08}, []byte{0x59, 0x02, 0xFF}},
		{"IO控制", []byte{0x2F, 0xF1, 0x90, 0x03}, []byte{0x6F, 0xF1, 0x90}},
		{"例程控制", []byte{0x31, 0x01, 0xFF, 0x00}, []byte{0x71, 0x01, 0xFF, 0x00}},
		{"请求下载", []byte{0x34, 0x00, 0x44, 0, 0, 0, 0, 0, 0, 1, 0}, []byte{0x74, 0x20, 0x00, 0x22}},
		{"请求上传", []byte{0x35, 0x00, 0x44, 0, 0, 0, 0, 0, 0, 1, 0}, []byte{0x75, 0x20, 0x00, 0x22}},
		{"传输数据校验和", []byte{0x36, 0x01, 0xAA, 0xBB}, []byte{0x76, 0x01, 0x65}},
		{"退出传输", []byte{0x37, 0x12, 0x34}, []byte{0x77, 0x12, 0x34}},
		{"长度不足", []byte{0x31, 0x01}, []byte{0x7F, 0x31, 0x13}},
		{"内存格式错误", []byte{0x23, 0x00}, []byte{0x7F, 0x23, 0x13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			s := New(ch, uds.AddrECU1)
			require.NoError(t, s.Handle(request(physical, tt.req...)))
			sent := ch.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.want, sent[0].Data)
			assert.Equal(t, uds.AddrECU1, sent[0].NAI.SA)
			assert.Equal(t, uds.AddrTestEquipment, sent[0].NAI.TA)
			assert.Equal(t, uds.Physical, sent[0].NAI.TAType)
		})
	}
}

func TestHandle_SeedFiller(t *testing.T) {
	ch := &fakeChannel{}
	s := New(ch, uds.AddrECU1)
	require.NoError(t, s.Handle(request(physical, 0x27, 0x01)))
	sent := ch.sent()
	require.Len(t, sent, 1)
	data := sent[0].Data
	require.Len(t, data, 1+0x27)
	assert.Equal(t, []byte{0x67, 0x01, 0x02, 0x03}, data[:4])
	assert.Equal(t, byte(0x27), data[len(data)-1])
}

func TestHandle_SecuredDataTransmissionLength(t *testing.T) {
	ch := &fakeChannel{}
	s := New(ch, uds.AddrECU1)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Handle(request(physical, 0x84, 0x00)))
	}
	for _, m := range ch.sent() {
		assert.Equal(t, byte(0xC4), m.Data[0])
		assert.LessOrEqual(t, len(m.Data), 50)
		for i := 1; i < len(m.Data); i++ {
			assert.Equal(t, byte(i), m.Data[i])
		}
	}
}

func TestHandle_UnknownService(t *testing.T) {
	tests := []struct {
		name   string
		policy UnknownPolicy
		check  func(t *testing.T, data []byte)
	}{
		{"回显", UnknownEcho, func(t *testing.T, data []byte) {
			require.Len(t, data, 1+0x0A)
			assert.Equal(t, []byte{0x4A, 0x0A, 0x02, 0x03}, data[:4])
			assert.Equal(t, byte(0x0A), data[len(data)-1])
		}},
		{"拒绝", UnknownReject, func(t *testing.T, data []byte) {
			assert.Equal(t, []byte{0x7F, 0x0A, 0x11}, data)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			s := New(ch, uds.AddrECU1, WithUnknownPolicy(tt.policy))
			require.NoError(t, s.Handle(request(physical, 0x0A)))
			sent := ch.sent()
			require.Len(t, sent, 1)
			tt.check(t, sent[0].Data)
		})
	}
}

func TestHandle_Skipped(t *testing.T) {
	own := request(uds.NetAddrInfo{SA: uds.AddrECU1, TA: uds.AddrTestEquipment, TAType: uds.Physical}, 0x50, 0x01)
	indication := request(physical)
	indication.Type = uds.MessageIndication
	failed := request(physical, 0x10, 0x01)
	failed.Result = tp_layer.NResultTimeoutCr
	suppressed := request(physical, 0x3E, 0x80)
	suppressed.NoPositiveResponse = true

	tests := []struct {
		name string
		msg  *uds.Message
	}{
		{"自身发送确认", own},
		{"首帧指示", indication},
		{"网络层错误", failed},
		{"抑制正响应", suppressed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			s := New(ch, uds.AddrECU1)
			require.NoError(t, s.Handle(tt.msg))
			assert.Empty(t, ch.sent())
		})
	}
}

func TestHandle_FunctionalTransferDataPending(t *testing.T) {
	ch := &fakeChannel{}
	delay := 50 * time.Millisecond
	s := New(ch, uds.AddrECU1, WithPendingDelay(delay))

	start := time.Now()
	require.NoError(t, s.Handle(request(functional, 0x36, 0x01, 0xAA, 0xBB)))
	assert.GreaterOrEqual(t, time.Since(start), delay)

	sent := ch.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{0x7F, 0x36, 0x78}, sent[0].Data)
	assert.Equal(t, []byte{0x76, 0x01, 0x65}, sent[1].Data)
	for _, m := range sent {
		assert.Equal(t, uds.AddrECU1, m.NAI.SA)
		assert.Equal(t, uds.AddrTestEquipment, m.NAI.TA)
		assert.Equal(t, uds.Physical, m.NAI.TAType)
	}
}

func TestHandle_SecurityKey(t *testing.T) {
	aesKey := []byte("0123456789abcdef")
	ch := &fakeChannel{}
	s := New(ch, uds.AddrECU1, WithSecurityKey(aesKey))

	// 未请求种子直接发送密钥
	require.NoError(t, s.Handle(request(physical, 0x27, 0x02, 0x00)))
	assert.Equal(t, []byte{0x7F, 0x27, 0x24}, ch.sent()[0].Data)

	require.NoError(t, s.Handle(request(physical, 0x27, 0x01)))
	require.Len(t, ch.sent()[1].Data, 2+secaccess.SeedLength)

	// 错误密钥，种子随即失效
	require.NoError(t, s.Handle(request(physical, append([]byte{0x27, 0x02}, make([]byte, 16)...)...)))
	assert.Equal(t, []byte{0x7F, 0x27, 0x35}, ch.sent()[2].Data)

	require.NoError(t, s.Handle(request(physical, 0x27, 0x01)))
	seed := ch.sent()[3].Data[2:]
	key, err := secaccess.ComputeKey(aesKey, seed)
	require.NoError(t, err)
	require.NoError(t, s.Handle(request(physical, append([]byte{0x27, 0x02}, key...)...)))
	assert.Equal(t, []byte{0x67, 0x02}, ch.sent()[4].Data)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ch := &fakeChannel{}
	ch.push(request(physical, 0x3E, 0x00))
	s := New(ch, uds.AddrECU1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return len(ch.sent()) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve 未退出")
	}
}

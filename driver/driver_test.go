package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsengine/tp_layer"
)

type mockDriver struct {
	mock.Mock
	rx chan UnifiedCANMessage
}

func newMockDriver() *mockDriver {
	return &mockDriver{rx: make(chan UnifiedCANMessage, 10)}
}

func (m *mockDriver) Init() error                       { return m.Called().Error(0) }
func (m *mockDriver) Start()                            { m.Called() }
func (m *mockDriver) Stop()                             { m.Called() }
func (m *mockDriver) Write(id int32, data []byte) error { return m.Called(id, data).Error(0) }
func (m *mockDriver) RxChan() <-chan UnifiedCANMessage  { return m.rx }
func (m *mockDriver) Context() context.Context          { return context.Background() }

func TestNewAdapter_InitError(t *testing.T) {
	dev := newMockDriver()
	dev.On("Init").Return(errors.New("no device"))

	_, err := NewAdapter(dev)
	require.Error(t, err)
	dev.AssertNotCalled(t, "Start")
}

func TestAdapter_TxRx(t *testing.T) {
	dev := newMockDriver()
	dev.On("Init").Return(nil)
	dev.On("Start").Return()
	dev.On("Write", int32(0x7E0), []byte{0x02, 0x10, 0x03}).Return(nil).Once()

	adapter, err := NewAdapter(dev)
	require.NoError(t, err)

	adapter.TxFunc(tp_layer.CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x02, 0x10, 0x03}})
	dev.AssertExpectations(t)

	_, ok := adapter.RxFunc()
	assert.False(t, ok, "空通道不应返回数据")

	var data [64]byte
	copy(data[:], []byte{0x03, 0x50, 0x03, 0x00})
	dev.rx <- UnifiedCANMessage{ID: 0x18DAF101, DLC: 3, Data: data}
	msg, ok := adapter.RxFunc()
	require.True(t, ok)
	assert.True(t, msg.IsExtendedID)
	assert.Equal(t, []byte{0x03, 0x50, 0x03}, msg.Data)
}

func TestVirtualBus_Broadcast(t *testing.T) {
	bus := NewVirtualBus()
	a := bus.NewNode(CAN)
	b := bus.NewNode(CAN)
	for _, n := range []*VirtualCan{a, b} {
		require.NoError(t, n.Init())
		n.Start()
		defer n.Stop()
	}

	require.NoError(t, a.Write(0x7E0, []byte{0x02, 0x3E, 0x00}))

	select {
	case msg := <-b.RxChan():
		assert.Equal(t, uint32(0x7E0), msg.ID)
		assert.Equal(t, byte(3), msg.DLC)
	case <-time.After(time.Second):
		t.Fatal("节点B未收到广播帧")
	}
	assert.Len(t, a.RxChan(), 0, "发送节点不应收到自己的帧")
	assert.Len(t, a.GetWriteLog(), 1)
}

func TestVirtualCan_PresetResponse(t *testing.T) {
	dev := NewVirtualCan(CAN)
	dev.Start()
	defer dev.Stop()
	dev.AddResponse(0x7E0, 0x7E8, []byte{0x02, 0x10}, []byte{0x06, 0x50, 0x01, 0x00, 0x32, 0x01, 0xF4}, 0)

	require.NoError(t, dev.Write(0x7E0, []byte{0x02, 0x10, 0x01}))
	select {
	case msg := <-dev.RxChan():
		assert.Equal(t, uint32(0x7E8), msg.ID)
		assert.Equal(t, byte(0x50), msg.Data[1])
	case <-time.After(time.Second):
		t.Fatal("未收到预设响应")
	}

	require.Error(t, NewVirtualCan(CAN).Write(0x7E0, nil), "未启动的设备写入应失败")
}

func TestSplitBlock(t *testing.T) {
	blocks := SplitBlock(make([]byte, 128), 32)
	require.Len(t, blocks, 4)
	assert.Len(t, SplitBlock(make([]byte, 70), 32)[2], 6)
	assert.Nil(t, SplitBlock([]byte{1}, 0))
}

func TestBigToInt(t *testing.T) {
	assert.Equal(t, uint32(34), BigToInt([]byte{0x00, 0x22}))
	assert.Equal(t, uint32(0x00010020), BigToInt([]byte{0x00, 0x01, 0x00, 0x20}))
	assert.Equal(t, uint32(0x01020304), BigToInt([]byte{0xFF, 0x01, 0x02, 0x03, 0x04}))
}

func TestHexStringToByteSlice(t *testing.T) {
	key, err := HexStringToByteSlice("2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}, key)

	_, err = HexStringToByteSlice("2b7e")
	assert.Error(t, err, "长度不足应失败")
	_, err = HexStringToByteSlice("zz7e151628aed2a6abf7158809cf4f3c")
	assert.Error(t, err, "非十六进制字符应失败")
}

func TestExternalCan(t *testing.T) {
	var sent [][]byte
	ext := NewExternalCan(CAN, func(id uint32, data []byte, isFD bool) error {
		assert.Equal(t, uint32(0x7E0), id)
		assert.False(t, isFD)
		sent = append(sent, append([]byte(nil), data...))
		return nil
	})
	adapter, err := NewAdapter(ext)
	require.NoError(t, err)
	defer adapter.Close()

	adapter.TxFunc(tp_layer.CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x02, 0x10, 0x03}})
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0x02, 0x10, 0x03}, sent[0])
	assert.Error(t, ext.Write(0x7E0, make([]byte, 9)), "CAN 帧超过 8 字节应失败")

	require.True(t, ext.Input(0x18DAF110, []byte{0x02, 0x50, 0x03}, true))
	msg, ok := adapter.RxFunc()
	require.True(t, ok)
	assert.Equal(t, uint32(0x18DAF110), msg.ArbitrationID)
	assert.True(t, msg.IsExtendedID)
	assert.Equal(t, []byte{0x02, 0x50, 0x03}, msg.Data)

	assert.False(t, ext.Input(0x7E8, nil, false), "空帧不注入")
}

func TestExternalCan_NotStarted(t *testing.T) {
	ext := NewExternalCan(CANFD, nil)
	assert.Error(t, ext.Init(), "没有发送回调时 Init 应失败")
	assert.False(t, ext.Input(0x7E8, []byte{0x01}, false), "未启动时不接收")
}

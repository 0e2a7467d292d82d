package tp_layer

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StMin = 0
	cfg.TimeoutN_Bs = 200 * time.Millisecond
	cfg.TimeoutN_Cr = 200 * time.Millisecond
	return cfg
}

// waitEvent 等待指定类型的事件，忽略其他事件
func waitEvent(t *testing.T, tr *Transport, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-tr.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("等待 %s 事件超时", kind)
			return Event{}
		}
	}
}

// recvFrame 从发送通道取出一帧
func recvFrame(t *testing.T, ch <-chan CanMessage) CanMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("未收到CAN帧")
		return CanMessage{}
	}
}

// TestTransport_Loopback_MultiFrame 两个协议栈通过虚拟总线互发多帧报文
func TestTransport_Loopback_MultiFrame(t *testing.T) {
	t1 := NewTransport(&Address{TxID: 0x7E0, RxID: 0x7E8}, testConfig())
	t2 := NewTransport(&Address{TxID: 0x7E8, RxID: 0x7E0}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus1to2 := make(chan CanMessage, 100)
	bus2to1 := make(chan CanMessage, 100)
	go t1.Run(ctx, bus2to1, bus1to2)
	go t2.Run(ctx, bus1to2, bus2to1)

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := t1.Send(payload, Physical); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	started := waitEvent(t, t2, EventRxStarted, time.Second)
	if started.Length != 100 {
		t.Errorf("首帧长度错误: %d", started.Length)
	}
	done := waitEvent(t, t2, EventRxDone, time.Second)
	if done.Result != NResultOK {
		t.Fatalf("接收结果错误: %s", done.Result)
	}
	if !bytes.Equal(done.Data, payload) {
		t.Errorf("接收数据不匹配\n期望: % 02X\n实际: % 02X", payload, done.Data)
	}

	txDone := waitEvent(t, t1, EventTxDone, time.Second)
	if txDone.Result != NResultOK || !bytes.Equal(txDone.Data, payload) {
		t.Errorf("发送确认错误: %s % 02X", txDone.Result, txDone.Data)
	}
}

// TestTransport_FunctionalMultiFrameRejected 功能寻址不允许多帧
func TestTransport_FunctionalMultiFrameRejected(t *testing.T) {
	tr := NewTransport(&Address{TxID: 0x7DF}, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tx := make(chan CanMessage, 10)
	go tr.Run(ctx, make(chan CanMessage), tx)

	if err := tr.Send(make([]byte, 20), Functional); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	ev := waitEvent(t, tr, EventTxDone, time.Second)
	if ev.Result != NResultError || !ev.Functional {
		t.Errorf("期望 N_ERROR 功能寻址确认, 实际 %s functional=%v", ev.Result, ev.Functional)
	}
	if len(tx) != 0 {
		t.Errorf("不应发出任何帧, 实际 %d", len(tx))
	}
}

// TestTransport_Padding 单帧按配置填充到8字节
func TestTransport_Padding(t *testing.T) {
	cfg := testConfig()
	pad := byte(0x55)
	cfg.PaddingByte = &pad
	tr := NewTransport(&Address{TxID: 0x7E0, RxID: 0x7E8}, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tx := make(chan CanMessage, 10)
	go tr.Run(ctx, make(chan CanMessage), tx)

	_ = tr.Send([]byte{0x3E, 0x00}, Physical)
	frame := recvFrame(t, tx)
	expected := []byte{0x02, 0x3E, 0x00, 0x55, 0x55, 0x55, 0x55, 0x55}
	if !bytes.Equal(frame.Data, expected) {
		t.Errorf("填充不正确\n期望: % 02X\n实际: % 02X", expected, frame.Data)
	}
	if frame.ArbitrationID != 0x7E0 {
		t.Errorf("CAN ID错误: 0x%X", frame.ArbitrationID)
	}
}

// TestTransport_WaitFrameOverrun 连续收到超过 WftMax 个等待帧
func TestTransport_WaitFrameOverrun(t *testing.T) {
	cfg := testConfig()
	cfg.WftMax = 2
	tr := NewTransport(&Address{TxID: 0x7E0, RxID: 0x7E8}, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := make(chan CanMessage, 10)
	tx := make(chan CanMessage, 10)
	go tr.Run(ctx, rx, tx)

	_ = tr.Send(make([]byte, 20), Physical)
	ff := recvFrame(t, tx)
	if ff.Data[0]&0xF0 != 0x10 {
		t.Fatalf("第一帧应为首帧: % 02X", ff.Data)
	}
	for i := 0; i < 3; i++ {
		rx <- CanMessage{ArbitrationID: 0x7E8, Data: []byte{0x31, 0x00, 0x00}}
	}
	ev := waitEvent(t, tr, EventTxDone, time.Second)
	if ev.Result != NResultWFTOverrun {
		t.Errorf("期望 N_WFT_OVRN, 实际 %s", ev.Result)
	}
}

// TestTransport_FlowControlTimeout 未收到流控帧时上报 N_TIMEOUT_Bs
func TestTransport_FlowControlTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutN_Bs = 50 * time.Millisecond
	tr := NewTransport(&Address{TxID: 0x7E0, RxID: 0x7E8}, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tx := make(chan CanMessage, 10)
	go tr.Run(ctx, make(chan CanMessage), tx)

	_ = tr.Send(make([]byte, 30), Physical)
	ev := waitEvent(t, tr, EventTxDone, time.Second)
	if ev.Result != NResultTimeoutBs {
		t.Errorf("期望 N_TIMEOUT_Bs, 实际 %s", ev.Result)
	}
}

// TestTransport_WrongSequenceNumber 连续帧序号错误
func TestTransport_WrongSequenceNumber(t *testing.T) {
	tr := NewTransport(&Address{TxID: 0x7E8, RxID: 0x7E0}, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := make(chan CanMessage, 10)
	tx := make(chan CanMessage, 10)
	go tr.Run(ctx, rx, tx)

	rx <- CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x10, 0x14, 1, 2, 3, 4, 5, 6}}
	fc := recvFrame(t, tx)
	if fc.Data[0] != 0x30 {
		t.Fatalf("应回复CTS流控帧: % 02X", fc.Data)
	}
	rx <- CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x22, 7, 8, 9, 10, 11, 12, 13}}

	ev := waitEvent(t, tr, EventRxDone, time.Second)
	if ev.Result != NResultWrongSN {
		t.Errorf("期望 N_WRONG_SN, 实际 %s", ev.Result)
	}
}

// TestTransport_FirstFrameTooLong 首帧长度超过 MaxFrameSize 时回复溢出
func TestTransport_FirstFrameTooLong(t *testing.T) {
	tr := NewTransport(&Address{TxID: 0x7E8, RxID: 0x7E0}, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := make(chan CanMessage, 10)
	tx := make(chan CanMessage, 10)
	go tr.Run(ctx, rx, tx)

	rx <- CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x10, 0x00, 0x00, 0x00, 0x13, 0x88, 0xAA, 0xBB}}
	fc := recvFrame(t, tx)
	if fc.Data[0] != 0x32 {
		t.Errorf("应回复溢出流控帧: % 02X", fc.Data)
	}
	ev := waitEvent(t, tr, EventRxDone, time.Second)
	if ev.Result != NResultBufferOverflow || ev.Length != 5000 {
		t.Errorf("期望 N_BUFFER_OVFLW/5000, 实际 %s/%d", ev.Result, ev.Length)
	}
}

func BenchmarkTransport_Loopback(b *testing.B) {
	cfg := DefaultConfig()
	cfg.StMin = 0
	t1 := NewTransport(&Address{TxID: 0x1, RxID: 0x2}, cfg)
	t2 := NewTransport(&Address{TxID: 0x2, RxID: 0x1}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus1to2 := make(chan CanMessage, 100)
	bus2to1 := make(chan CanMessage, 100)
	go t1.Run(ctx, bus2to1, bus1to2)
	go t2.Run(ctx, bus1to2, bus2to1)

	payload := make([]byte, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = t1.Send(payload, Physical)
		for ev := range t2.Events() {
			if ev.Kind == EventRxDone {
				break
			}
		}
	}
}

// TestTransport_TxEventsNotDropped 事件队列满时发送确认不丢失，编号与 Submit 一致
func TestTransport_TxEventsNotDropped(t *testing.T) {
	tr := NewTransport(&Address{TxID: 0x7E0, RxID: 0x7E8}, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tx := make(chan CanMessage, 200)
	go tr.Run(ctx, make(chan CanMessage), tx)

	const total = eventQueueSize + 16
	var ids []uint64
	deadline := time.Now().Add(500 * time.Millisecond)
	for len(ids) < total {
		id, err := tr.Submit([]byte{0x3E, byte(len(ids))}, Physical)
		if err != nil {
			if time.Now().After(deadline) {
				t.Fatalf("提交第 %d 个报文超时: %v", len(ids)+1, err)
			}
			time.Sleep(time.Millisecond)
			continue
		}
		ids = append(ids, id)
	}

	for i, want := range ids {
		ev := waitEvent(t, tr, EventTxDone, time.Second)
		if ev.TxID != want || ev.Result != NResultOK {
			t.Fatalf("第 %d 个确认: 编号 %d 结果 %s, 期望编号 %d", i, ev.TxID, ev.Result, want)
		}
		if i > 0 && ids[i] <= ids[i-1] {
			t.Errorf("编号未递增: %d <= %d", ids[i], ids[i-1])
		}
	}
	select {
	case err := <-tr.ErrorChan:
		t.Errorf("不应上报错误: %v", err)
	default:
	}
}

// 以 c-shared 方式导出的 UDS 通道接口:
//
//	go build -buildmode=c-shared -o udsengine.dll ./uds_dll
//
// 宿主程序负责 CAN 收发：发送帧通过回调交给宿主，收到的帧用 UDS_InputCanFrame 注入。
// 消息在接口上按 uds.Message 的二进制记录格式传递。
package main

/*
#include <stdint.h>
#include <stdbool.h>

typedef void (*TxCallback)(uint32_t id, uint8_t* data, int len, bool fd);

static void call_tx_callback(TxCallback cb, uint32_t id, uint8_t* data, int len, bool fd) {
    if (cb != NULL) {
        cb(id, data, len, fd);
    }
}
*/
import "C"
import (
	"sync"
	"unsafe"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/channel"
	"github.com/LoveWonYoung/udsengine/driver"
	"github.com/LoveWonYoung/udsengine/uds"
	"github.com/LoveWonYoung/udsengine/udsclient"
)

type session struct {
	ext    *driver.ExternalCan
	ch     *channel.Channel
	client *udsclient.Client
}

var (
	mu       sync.Mutex
	sessions = make(map[channel.Handle]*session)
)

func lookup(h C.uint16_t) (*session, bool) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := sessions[channel.Handle(h)]
	return s, ok
}

func status(err error) C.uint32_t {
	return C.uint32_t(uds.StatusOf(err))
}

func goBytes(data *C.uint8_t, length C.int) []byte {
	if data == nil || length <= 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(data), length)
}

// putBytes 把 b 拷入宿主缓冲区，容量不足时返回 StatusOverflow
func putBytes(b []byte, buf *C.uint8_t, capacity C.int, outLen *C.int) C.uint32_t {
	if outLen != nil {
		*outLen = C.int(len(b))
	}
	if len(b) > int(capacity) || (len(b) > 0 && buf == nil) {
		return C.uint32_t(uds.StatusOverflow)
	}
	if len(b) > 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(capacity)), b)
	}
	return C.uint32_t(uds.StatusOK)
}

func putMessage(m *uds.Message, buf *C.uint8_t, capacity C.int, outLen *C.int) C.uint32_t {
	b, err := m.MarshalBinary()
	if err != nil {
		return status(err)
	}
	return putBytes(b, buf, capacity, outLen)
}

// UDS_Initialize 打开通道。serverAddr 为本端地址，cb 发送 CAN 帧。
//
//export UDS_Initialize
func UDS_Initialize(handle C.uint16_t, canfd C.bool, serverAddr C.uint8_t, cb C.TxCallback) C.uint32_t {
	if cb == nil {
		return C.uint32_t(uds.StatusWrongParameter)
	}
	canType := driver.CAN
	if bool(canfd) {
		canType = driver.CANFD
	}
	ext := driver.NewExternalCan(canType, func(id uint32, data []byte, isFD bool) error {
		C.call_tx_callback(cb, C.uint32_t(id), (*C.uint8_t)(unsafe.Pointer(&data[0])), C.int(len(data)), C.bool(isFD))
		return nil
	})
	cfg := channel.DefaultConfig()
	cfg.ServerAddress = byte(serverAddr)
	cfg.CanFD = bool(canfd)
	ch, err := channel.Initialize(channel.Handle(handle), ext, cfg)
	if err != nil {
		log.Errorf("UDS_Initialize(%d): %v", handle, err)
		return status(err)
	}
	mu.Lock()
	sessions[channel.Handle(handle)] = &session{ext: ext, ch: ch, client: udsclient.New(ch)}
	mu.Unlock()
	return C.uint32_t(uds.StatusOK)
}

//export UDS_Uninitialize
func UDS_Uninitialize(handle C.uint16_t) C.uint32_t {
	mu.Lock()
	s, ok := sessions[channel.Handle(handle)]
	delete(sessions, channel.Handle(handle))
	mu.Unlock()
	if ok {
		s.client.Close()
	}
	return status(channel.Uninitialize(channel.Handle(handle)))
}

// UDS_InputCanFrame 注入宿主收到的一帧
//
//export UDS_InputCanFrame
func UDS_InputCanFrame(handle C.uint16_t, id C.uint32_t, data *C.uint8_t, length C.int, extended C.bool) C.uint32_t {
	s, ok := lookup(handle)
	if !ok {
		return C.uint32_t(uds.StatusNotInitialized)
	}
	if !s.ext.Input(uint32(id), goBytes(data, length), bool(extended)) {
		return C.uint32_t(uds.StatusOverflow)
	}
	return C.uint32_t(uds.StatusOK)
}

//export UDS_Write
func UDS_Write(handle C.uint16_t, record *C.uint8_t, length C.int) C.uint32_t {
	var msg uds.Message
	if err := msg.UnmarshalBinary(goBytes(record, length)); err != nil {
		return C.uint32_t(uds.StatusWrongParameter)
	}
	return status(channel.Write(channel.Handle(handle), &msg))
}

// UDS_Read 非阻塞读取一条消息记录
//
//export UDS_Read
func UDS_Read(handle C.uint16_t, buf *C.uint8_t, capacity C.int, outLen *C.int) C.uint32_t {
	msg, err := channel.Read(channel.Handle(handle))
	if err != nil {
		return status(err)
	}
	return putMessage(msg, buf, capacity, outLen)
}

//export UDS_SetValue
func UDS_SetValue(handle C.uint16_t, param C.uint8_t, value *C.uint8_t, length C.int) C.uint32_t {
	return status(channel.SetValue(channel.Handle(handle), channel.Parameter(param), goBytes(value, length)))
}

//export UDS_GetValue
func UDS_GetValue(handle C.uint16_t, param C.uint8_t, buf *C.uint8_t, capacity C.int, outLen *C.int) C.uint32_t {
	v, err := channel.GetValue(channel.Handle(handle), channel.Parameter(param))
	if err != nil {
		return status(err)
	}
	return putBytes(v, buf, capacity, outLen)
}

// UDS_WaitForService 发送请求并等待响应，响应记录写入 buf。
// 抑制正响应且无响应时返回 OK，*outLen 为 0。
//
//export UDS_WaitForService
func UDS_WaitForService(handle C.uint16_t, record *C.uint8_t, length C.int, buf *C.uint8_t, capacity C.int, outLen *C.int) C.uint32_t {
	s, ok := lookup(handle)
	if !ok {
		return C.uint32_t(uds.StatusNotInitialized)
	}
	var req uds.Message
	if err := req.UnmarshalBinary(goBytes(record, length)); err != nil {
		return C.uint32_t(uds.StatusWrongParameter)
	}
	req.Type = uds.MessageRequest
	resp, _, err := s.client.Exchange(&req)
	if err != nil {
		return status(err)
	}
	if resp == nil {
		if outLen != nil {
			*outLen = 0
		}
		return C.uint32_t(uds.StatusOK)
	}
	return putMessage(resp, buf, capacity, outLen)
}

// UDS_StatusText 返回状态码的说明，宿主负责提供缓冲区
//
//export UDS_StatusText
func UDS_StatusText(code C.uint32_t, buf *C.char, capacity C.int) C.uint32_t {
	text := []byte(uds.Status(code).Error())
	if int(capacity) < len(text)+1 || buf == nil {
		return C.uint32_t(uds.StatusOverflow)
	}
	out := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(capacity))
	copy(out, text)
	out[len(text)] = 0
	return C.uint32_t(uds.StatusOK)
}

// c-shared 需要 main 包，但不会执行 main
func main() {}

//go:build linux

package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	canFrameSize   = 16
	canFDFrameSize = 72
	rxPollTimeout  = 100000 // 读超时 (微秒)，用于检查退出信号
)

// SocketCan 是基于 Linux SocketCAN 原始套接字的驱动
type SocketCan struct {
	ifname  string
	canType CanType
	socket  int
	rxChan  chan UnifiedCANMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// NewSocketCan 为指定接口 (如 can0、vcan0) 创建驱动实例
func NewSocketCan(ifname string, canType CanType) *SocketCan {
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketCan{
		ifname:  ifname,
		canType: canType,
		socket:  -1,
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Init 创建并绑定 CAN 套接字
func (s *SocketCan) Init() error {
	socket, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("failed to create CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(s.ifname)
	if err != nil {
		unix.Close(socket)
		return fmt.Errorf("failed to create ifreq: %w", err)
	}
	if err := unix.IoctlIfreq(socket, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(socket)
		return fmt.Errorf("failed to get interface index of %s: %w", s.ifname, err)
	}

	if s.canType == CANFD {
		if err := unix.SetsockoptInt(socket, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			unix.Close(socket)
			return fmt.Errorf("failed to enable CAN FD frames: %w", err)
		}
	}
	tv := unix.Timeval{Usec: rxPollTimeout}
	if err := unix.SetsockoptTimeval(socket, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(socket)
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	if err := unix.Bind(socket, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		unix.Close(socket)
		return fmt.Errorf("failed to bind socket: %w", err)
	}
	s.socket = socket
	log.Infof("SocketCAN %s 初始化成功 (%s)", s.ifname, s.canType)
	return nil
}

// Start 启动接收协程
func (s *SocketCan) Start() {
	s.wg.Add(1)
	go s.readLoop()
}

// Stop 停止接收并关闭套接字
func (s *SocketCan) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.rxChan)
		if s.socket >= 0 {
			unix.Close(s.socket)
		}
	})
}

func (s *SocketCan) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, canFDFrameSize)
	for {
		if s.ctx.Err() != nil {
			return
		}
		n, err := unix.Read(s.socket, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			log.Errorf("SocketCAN read error: %v", err)
			return
		}
		if n != canFrameSize && n != canFDFrameSize {
			log.Warnf("incomplete CAN frame received: %d bytes", n)
			continue
		}

		rawID := binary.LittleEndian.Uint32(buf[0:4])
		msg := UnifiedCANMessage{
			DLC:        buf[4],
			IsFD:       n == canFDFrameSize,
			IsExtended: rawID&unix.CAN_EFF_FLAG != 0,
		}
		if msg.IsExtended {
			msg.ID = rawID & unix.CAN_EFF_MASK
		} else {
			msg.ID = rawID & unix.CAN_SFF_MASK
		}
		copy(msg.Data[:], buf[8:n])

		select {
		case s.rxChan <- msg:
		default:
			log.Warn("SocketCAN message channel full, dropping frame")
		}
	}
}

// Write 发送一帧，ID 大于 0x7FF 时按扩展帧发送
func (s *SocketCan) Write(id int32, data []byte) error {
	if s.socket < 0 {
		return errors.New("SocketCAN 未初始化")
	}
	frameSize := canFrameSize
	maxLen := 8
	if s.canType == CANFD {
		frameSize = canFDFrameSize
		maxLen = 64
	}
	if len(data) > maxLen {
		return fmt.Errorf("数据长度 %d 超过 %d", len(data), maxLen)
	}

	rawID := uint32(id)
	if rawID > maxStandardID {
		rawID |= unix.CAN_EFF_FLAG
	}
	frame := make([]byte, frameSize)
	binary.LittleEndian.PutUint32(frame[0:4], rawID)
	frame[4] = byte(len(data))
	copy(frame[8:], data)

	if _, err := unix.Write(s.socket, frame); err != nil {
		return fmt.Errorf("SocketCAN write error: %w", err)
	}
	return nil
}

// RxChan 返回接收通道
func (s *SocketCan) RxChan() <-chan UnifiedCANMessage {
	return s.rxChan
}

// Context 返回设备上下文
func (s *SocketCan) Context() context.Context {
	return s.ctx
}

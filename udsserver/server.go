// Package udsserver 是 UDS 服务器端的请求分发器：轮询通道，按服务 ID 生成响应并发送。
package udsserver

import (
	"context"
	"errors"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/tp_layer"
	"github.com/LoveWonYoung/udsengine/uds"
)

const defaultPollInterval = time.Millisecond

// UnknownPolicy 未知服务 ID 的处理方式
type UnknownPolicy int

const (
	// UnknownEcho 回一条填充数据的正响应 (演示用)
	UnknownEcho UnknownPolicy = iota
	// UnknownReject 回 NRC 0x11 serviceNotSupported
	UnknownReject
)

// Channel 服务器所需的通道能力
type Channel interface {
	Write(msg *uds.Message) error
	Read() (*uds.Message, error)
}

// Server 单线程的轮询/分发循环
type Server struct {
	ch           Channel
	addr         byte
	unknown      UnknownPolicy
	pendingDelay time.Duration
	pollInterval time.Duration
	securityKey  []byte

	// 只在 Serve 协程中访问
	seeds    map[byte][]byte
	rnd      *rand.Rand
	handlers map[byte]handler
}

type Option func(*Server)

func WithUnknownPolicy(p UnknownPolicy) Option {
	return func(s *Server) { s.unknown = p }
}

// WithPendingDelay 功能寻址 TransferData 在 0x78 之后的模拟处理时间
func WithPendingDelay(d time.Duration) Option {
	return func(s *Server) { s.pendingDelay = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Server) { s.pollInterval = d }
}

// WithSecurityKey 开启 SecurityAccess 校验，密钥算法为 AES-CMAC
func WithSecurityKey(aesKey []byte) Option {
	return func(s *Server) { s.securityKey = append([]byte(nil), aesKey...) }
}

// New 创建服务器，addr 为本机的物理地址
func New(ch Channel, addr byte, opts ...Option) *Server {
	s := &Server{
		ch:           ch,
		addr:         addr,
		unknown:      UnknownEcho,
		pendingDelay: uds.P2CANEnhancedServerMax - 100*time.Millisecond,
		pollInterval: defaultPollInterval,
		seeds:        make(map[byte][]byte),
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = s.serviceTable()
	return s
}

// Serve 运行直到 ctx 取消。处理慢的请求 (如 TransferData 的 0x78 流程) 会阻塞后续请求。
func (s *Server) Serve(ctx context.Context) error {
	log.Infof("UDS 服务器已启动，地址 0x%02X", s.addr)
	for {
		select {
		case <-ctx.Done():
			log.Infof("UDS 服务器 0x%02X 已停止", s.addr)
			return nil
		default:
		}

		msg, err := s.ch.Read()
		switch {
		case err == nil:
			if err := s.Handle(msg); err != nil {
				log.Errorf("发送响应失败: %v", err)
			}
		case errors.Is(err, uds.StatusNoMessage):
		default:
			return err
		}
		time.Sleep(s.pollInterval)
	}
}

// Handle 处理一条收到的消息：自身的发送确认、网络层错误、首帧指示与抑制正响应的请求都不回复
func (s *Server) Handle(msg *uds.Message) error {
	if msg.NAI.SA == s.addr {
		return nil
	}
	if msg.Type == uds.MessageIndication || msg.Type == uds.MessageIndicationTx {
		log.Debugf("正在接收来自 0x%02X 的多帧请求...", msg.NAI.SA)
		return nil
	}
	if msg.Result != tp_layer.NResultOK || len(msg.Data) == 0 {
		log.Warnf("忽略出错的请求 %s", msg)
		return nil
	}
	log.Infof("UDS REQUEST   %s", msg)
	if msg.NoPositiveResponse {
		log.Debug("   ...抑制正响应，跳过")
		return nil
	}

	data := s.dispatch(msg)
	if data == nil {
		return nil
	}
	return s.reply(msg, data)
}

// responseNAI 功能寻址的请求回复给测试设备，物理寻址回复给请求方
func (s *Server) responseNAI(req *uds.Message) uds.NetAddrInfo {
	nai := req.NAI
	if req.NAI.TAType == uds.Functional {
		nai.TA = uds.AddrTestEquipment
	} else {
		nai.TA = req.NAI.SA
	}
	nai.SA = s.addr
	nai.TAType = uds.Physical
	return nai
}

func (s *Server) reply(req *uds.Message, data []byte) error {
	resp := &uds.Message{NAI: s.responseNAI(req), Type: uds.MessageRequest, Data: data}
	log.Infof("UDS RESPONSE  %s", resp)
	return s.ch.Write(resp)
}

func (s *Server) dispatch(req *uds.Message) []byte {
	sid := req.Data[0]
	h, ok := s.handlers[sid]
	if !ok {
		return s.unknownService(req)
	}
	if len(req.Data) < h.minLen {
		return negative(sid, uds.NRCIncorrectMessageLength)
	}
	return h.fn(req)
}

func negative(sid, nrc byte) []byte {
	return []byte{uds.SIDNegativeResponse, sid, nrc}
}

func positive(sid byte, data ...byte) []byte {
	return append([]byte{sid + uds.PositiveResponseOffset}, data...)
}

// filler 返回 n 字节 first, first+1, ... 的填充数据
func filler(first, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(first + i)
	}
	return b
}

func (s *Server) unknownService(req *uds.Message) []byte {
	sid := req.Data[0]
	if s.unknown == UnknownReject {
		return negative(sid, uds.NRCServiceNotSupported)
	}
	n := 1 + int(sid)
	if n < 2 {
		n = 2
	}
	resp := positive(sid, sid)
	return append(resp, filler(2, n-2)...)
}

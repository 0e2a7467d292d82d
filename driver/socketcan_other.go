//go:build !linux

package driver

import (
	"context"
	"errors"
)

// SocketCan 仅在 Linux 上可用，其它平台 Init 总是失败
type SocketCan struct {
	rxChan chan UnifiedCANMessage
	ctx    context.Context
}

func NewSocketCan(ifname string, canType CanType) *SocketCan {
	return &SocketCan{rxChan: make(chan UnifiedCANMessage), ctx: context.Background()}
}

func (s *SocketCan) Init() error                       { return errors.New("SocketCAN 仅支持 Linux") }
func (s *SocketCan) Start()                            {}
func (s *SocketCan) Stop()                             {}
func (s *SocketCan) Write(id int32, data []byte) error { return errors.New("SocketCAN 仅支持 Linux") }
func (s *SocketCan) RxChan() <-chan UnifiedCANMessage  { return s.rxChan }
func (s *SocketCan) Context() context.Context          { return s.ctx }

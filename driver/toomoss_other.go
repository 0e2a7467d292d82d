//go:build !windows || !(amd64 || 386)

package driver

import (
	"context"
	"errors"
)

var errNoToomoss = errors.New("Toomoss 适配器仅支持 Windows")

// CanMix 仅在 Windows 上可用，其它平台 Init 总是失败
type CanMix struct {
	rxChan chan UnifiedCANMessage
	ctx    context.Context
}

func NewCanMix(canType CanType) *CanMix {
	return &CanMix{rxChan: make(chan UnifiedCANMessage), ctx: context.Background()}
}

func (c *CanMix) Init() error                       { return errNoToomoss }
func (c *CanMix) Start()                            {}
func (c *CanMix) Stop()                             {}
func (c *CanMix) Write(id int32, data []byte) error { return errNoToomoss }
func (c *CanMix) RxChan() <-chan UnifiedCANMessage  { return c.rxChan }
func (c *CanMix) Context() context.Context          { return c.ctx }

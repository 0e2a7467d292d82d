package commands

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/channel"
	"github.com/LoveWonYoung/udsengine/driver"
	"github.com/LoveWonYoung/udsengine/txlog"
	"github.com/LoveWonYoung/udsengine/uds"
	"github.com/LoveWonYoung/udsengine/udsclient"
	"github.com/LoveWonYoung/udsengine/udsserver"
)

func canType() driver.CanType {
	if canFD {
		return driver.CANFD
	}
	return driver.CAN
}

// newDriver 按 --driver 创建驱动，virtual 驱动挂在 bus 上
func newDriver(bus *driver.VirtualBus) (driver.CANDriver, error) {
	switch driverName {
	case "virtual":
		return bus.NewNode(canType()), nil
	case "socketcan":
		return driver.NewSocketCan(ifname, canType()), nil
	case "toomoss":
		return driver.NewCanMix(canType()), nil
	}
	return nil, fmt.Errorf("未知驱动 %q", driverName)
}

func channelConfig(serverAddr byte) channel.Config {
	cfg := channel.DefaultConfig()
	cfg.ServerAddress = serverAddr
	cfg.TimeoutRequest = reqTimeout
	cfg.TimeoutResponse = respTimeout
	cfg.CanFD = canFD
	cfg.Debug = logLevel == "debug" || logLevel == "trace"
	return cfg
}

// parseAddr 解析十六进制或十进制的单字节地址
func parseAddr(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("无效地址 %q: %w", s, err)
	}
	return byte(v), nil
}

// env 测试设备通道，使用虚拟驱动时同一总线上附带模拟 ECU
type env struct {
	bus     *driver.VirtualBus
	tester  *channel.Channel
	store   *txlog.Store
	handles []channel.Handle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// openEnv 打开测试设备通道；ecus 只在虚拟驱动下生效
func openEnv(ctx context.Context, ecus int, serverOpts ...udsserver.Option) (*env, error) {
	e := &env{bus: driver.NewVirtualBus()}
	ctx, e.cancel = context.WithCancel(ctx)

	dev, err := newDriver(e.bus)
	if err != nil {
		e.cancel()
		return nil, err
	}
	h := channel.Handle(handle)
	e.tester, err = channel.Initialize(h, dev, channelConfig(uds.AddrTestEquipment))
	if err != nil {
		e.cancel()
		return nil, err
	}
	e.handles = append(e.handles, h)

	if driverName == "virtual" {
		for i := 1; i <= ecus; i++ {
			if err := e.startECU(ctx, h+channel.Handle(i), byte(i), serverOpts); err != nil {
				e.Close()
				return nil, err
			}
		}
	}
	if dbPath != "" {
		if e.store, err = txlog.Open(dbPath); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

func (e *env) startECU(ctx context.Context, h channel.Handle, addr byte, opts []udsserver.Option) error {
	ch, err := channel.Initialize(h, e.bus.NewNode(canType()), channelConfig(addr))
	if err != nil {
		return err
	}
	e.handles = append(e.handles, h)
	srv := udsserver.New(ch, addr, opts...)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := srv.Serve(ctx); err != nil {
			log.Errorf("模拟 ECU 0x%02X 退出: %v", addr, err)
		}
	}()
	log.Debugf("模拟 ECU 0x%02X 已启动 (通道 %d)", addr, h)
	return nil
}

func (e *env) client(opts ...udsclient.Option) *udsclient.Client {
	if e.store != nil {
		opts = append(opts, udsclient.WithRecorder(e.store))
	}
	return udsclient.New(e.tester, opts...)
}

func (e *env) Close() {
	e.cancel()
	e.wg.Wait()
	for _, h := range e.handles {
		if err := channel.Uninitialize(h); err != nil {
			log.Warnf("关闭通道 %d: %v", h, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Warnf("关闭事务日志: %v", err)
		}
	}
}

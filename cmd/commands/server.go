package commands

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsengine/channel"
	"github.com/LoveWonYoung/udsengine/driver"
	"github.com/LoveWonYoung/udsengine/uds"
	"github.com/LoveWonYoung/udsengine/udsserver"
)

var (
	serverAddr    string
	rejectUnknown bool
	securityKey   string
	pendingDelay  time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "运行 UDS 服务器，按服务回复请求直到退出",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, err := parseAddr(serverAddr)
		if err != nil {
			return err
		}
		opts, err := serverOptions()
		if err != nil {
			return err
		}
		dev, err := newDriver(driver.NewVirtualBus())
		if err != nil {
			return err
		}
		h := channel.Handle(handle)
		ch, err := channel.Initialize(h, dev, channelConfig(addr))
		if err != nil {
			return err
		}
		defer channel.Uninitialize(h)

		log.Infof("UDS 服务器 0x%02X 已启动 (%s)，Ctrl+C 退出", addr, driverName)
		return udsserver.New(ch, addr, opts...).Serve(cmd.Context())
	},
}

// serverOptions 由服务器相关标志生成选项，demo 与 client 的模拟 ECU 共用
func serverOptions() ([]udsserver.Option, error) {
	var opts []udsserver.Option
	if rejectUnknown {
		opts = append(opts, udsserver.WithUnknownPolicy(udsserver.UnknownReject))
	}
	if pendingDelay > 0 {
		opts = append(opts, udsserver.WithPendingDelay(pendingDelay))
	}
	key, err := parseKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		opts = append(opts, udsserver.WithSecurityKey(key))
	}
	return opts, nil
}

func parseKey() ([]byte, error) {
	if securityKey == "" {
		return nil, nil
	}
	key, err := driver.HexStringToByteSlice(securityKey)
	if err != nil {
		return nil, fmt.Errorf("--security-key: %w", err)
	}
	return key, nil
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&rejectUnknown, "reject-unknown", false, "未知服务回复 NRC 0x11，默认回显")
	cmd.Flags().StringVar(&securityKey, "security-key", "", "SecurityAccess AES-128 密钥 (32 个十六进制字符)")
	cmd.Flags().DurationVar(&pendingDelay, "pending-delay", uds.P2CANEnhancedServerMax-100*time.Millisecond, "功能 TransferData 回复 0x78 后的延迟")
}

func init() {
	serverCmd.Flags().StringVar(&serverAddr, "addr", "0x01", "服务器地址")
	addServerFlags(serverCmd)
}

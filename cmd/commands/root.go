package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsengine/logrecorder"
	"github.com/LoveWonYoung/udsengine/uds"
)

var (
	logLevel    string
	logDir      string
	logConsole  bool
	driverName  string
	ifname      string
	canFD       bool
	handle      uint16
	dbPath      string
	reqTimeout  time.Duration
	respTimeout time.Duration

	stopLog func()
)

var rootCmd = &cobra.Command{
	Use:           "udsengine",
	Short:         "UDS (ISO 14229-1) client and server over ISO-TP/CAN",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logrecorder.Setup(logLevel); err != nil {
			return err
		}
		if err := expandPaths(); err != nil {
			return err
		}
		if logDir == "" {
			return nil
		}
		stop, err := logrecorder.InitAndRotate(context.Background(), logDir, cmd.Name()+"_", logConsole)
		if err != nil {
			return err
		}
		stopLog = stop
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if stopLog != nil {
			stopLog()
			stopLog = nil
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "日志级别 (trace, debug, info, warn, error)")
	pf.StringVar(&logDir, "log-dir", "", "日志目录，为空时只输出到终端")
	pf.BoolVar(&logConsole, "log-console", true, "写日志文件时同时输出到终端")
	pf.StringVarP(&driverName, "driver", "d", "virtual", "CAN 驱动: virtual, socketcan, toomoss")
	pf.StringVarP(&ifname, "iface", "i", "can0", "SocketCAN 接口名")
	pf.BoolVar(&canFD, "canfd", false, "使用 CAN FD")
	pf.Uint16Var(&handle, "handle", 1, "通道 handle")
	pf.StringVar(&dbPath, "db", "", "事务日志数据库路径 (如 ~/.udsengine/tx.db)，为空时不记录")
	pf.DurationVar(&reqTimeout, "timeout-request", uds.DefaultTimeoutRequest, "发送确认超时")
	pf.DurationVar(&respTimeout, "timeout-response", uds.DefaultTimeoutResponse, "响应超时")

	rootCmd.AddCommand(serverCmd, clientCmd, demoCmd, flashCmd, historyCmd)
}

// expandPaths 展开 --db 与 --log-dir 中的 ~
func expandPaths() error {
	var err error
	if dbPath, err = homedir.Expand(dbPath); err != nil {
		return fmt.Errorf("--db: %w", err)
	}
	if logDir, err = homedir.Expand(logDir); err != nil {
		return fmt.Errorf("--log-dir: %w", err)
	}
	return nil
}

// Execute executes root CLI command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err)
		stop()
		os.Exit(1)
	}
}

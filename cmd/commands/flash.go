package commands

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsengine/flash"
	"github.com/LoveWonYoung/udsengine/uds"
)

var (
	flashECU     string
	flashSession bool
	dumpHex      string
)

var flashCmd = &cobra.Command{
	Use:   "flash <image.hex>",
	Short: "把 Intel HEX 镜像下载到 ECU",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ecu, err := parseAddr(flashECU)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		segments, err := flash.LoadHex(f)
		f.Close()
		if err != nil {
			return err
		}
		if dumpHex != "" {
			if err := dumpSegments(dumpHex, segments); err != nil {
				return err
			}
		}

		opts, err := serverOptions()
		if err != nil {
			return err
		}
		e, err := openEnv(cmd.Context(), 1, opts...)
		if err != nil {
			return err
		}
		defer e.Close()
		c := e.client()
		defer c.Close()

		nai := newTarget(ecu, nil, 1).phys
		if flashSession {
			req, err := uds.NewDiagnosticSessionControl(nai, uds.SessionProgramming)
			if err != nil {
				return err
			}
			if _, err := c.Request(req); err != nil {
				return fmt.Errorf("进入编程会话: %w", err)
			}
		}
		report, err := flash.NewDownloader(c, nai).DownloadAll(cmd.Context(), segments)
		fmt.Fprintln(cmd.OutOrStdout(), report)
		if err != nil {
			return err
		}
		if report.Failures() > 0 {
			log.Warnf("下载完成，但有 %d 个块校验失败", report.Failures())
		}
		return nil
	},
}

// dumpSegments 把解析结果按 16 字节一行重新写出，用于核对镜像
func dumpSegments(path string, segments []flash.Segment) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := flash.WriteHex(out, segments); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func init() {
	flashCmd.Flags().StringVar(&flashECU, "ecu", "0x01", "目标 ECU 地址")
	flashCmd.Flags().BoolVar(&flashSession, "programming-session", true, "下载前切换到编程会话")
	flashCmd.Flags().StringVar(&dumpHex, "dump", "", "把解析出的数据段重新写成 HEX 文件")
	addServerFlags(flashCmd)
}

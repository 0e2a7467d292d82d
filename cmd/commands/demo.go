package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/udsengine/flash"
	"github.com/LoveWonYoung/udsengine/uds"
	"github.com/LoveWonYoung/udsengine/udsserver"
)

var demoECUs int

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "在虚拟总线上运行服务器与客户端：测试序列、功能寻址与下载",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if demoECUs < 1 || demoECUs > maxFunctional {
			return fmt.Errorf("--ecus %d 不在 1..%d", demoECUs, maxFunctional)
		}
		driverName = "virtual"
		if !cmd.Flags().Changed("pending-delay") {
			pendingDelay = 200 * time.Millisecond
		}
		opts, err := serverOptions()
		if err != nil {
			return err
		}
		key, err := parseKey()
		if err != nil {
			return err
		}
		tally, err := runDemo(cmd.Context(), cmd.OutOrStdout(), demoECUs, key, opts)
		if err != nil {
			return err
		}
		if tally.Failed() > 0 {
			return fmt.Errorf("%d 个步骤失败", tally.Failed())
		}
		return nil
	},
}

// runDemo 对 ECU1 执行测试序列，再用功能寻址询问全部 ECU，最后下载一段 128 字节的镜像
func runDemo(ctx context.Context, out io.Writer, ecus int, key []byte, opts []udsserver.Option) (Tally, error) {
	e, err := openEnv(ctx, ecus, opts...)
	if err != nil {
		return Tally{}, err
	}
	defer e.Close()
	c := e.client()
	defer c.Close()

	t := newTarget(uds.AddrECU1, key, ecus)
	tally := runSequence(ctx, c, t, referenceSequence())

	req, err := uds.NewTesterPresent(t.fn)
	if err != nil {
		return tally, err
	}
	resps, _, err := c.ExchangeFunctional(req, ecus, true)
	switch {
	case err != nil && len(resps) < ecus:
		tally.Failures = append(tally.Failures, fmt.Sprintf("功能 TesterPresent: %v", err))
	case len(resps) != ecus:
		tally.Failures = append(tally.Failures, fmt.Sprintf("功能 TesterPresent: 收到 %d 个响应，期望 %d", len(resps), ecus))
	default:
		tally.Passed++
	}
	fmt.Fprintf(out, "功能 TesterPresent: %d 个 ECU 响应\n", len(resps))

	image := make([]byte, 128)
	for i := range image {
		image[i] = byte(i)
	}
	report, err := flash.NewDownloader(c, t.phys).Download(ctx, flash.Segment{Address: 0x00010020, Data: image})
	if err != nil || report.Failures() > 0 {
		tally.Failures = append(tally.Failures, fmt.Sprintf("下载: %v (%s)", err, report))
	} else {
		tally.Passed++
	}
	fmt.Fprintln(out, report)
	fmt.Fprintln(out, tally)
	return tally, nil
}

func init() {
	demoCmd.Flags().IntVar(&demoECUs, "ecus", 3, "模拟的 ECU 数量 (1..8)")
	addServerFlags(demoCmd)
}

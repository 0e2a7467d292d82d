package commands

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// 功能请求最多收集的响应数 (ECU1..ECU8)
const maxFunctional = 8

var (
	ecuAddr   string
	simulated int
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "对一个 ECU 执行全部服务的测试序列并统计结果",
	Long: `对一个 ECU 执行全部服务的测试序列并统计结果。
使用 virtual 驱动时在同一条虚拟总线上启动 --ecus 个模拟 ECU。`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ecu, err := parseAddr(ecuAddr)
		if err != nil {
			return err
		}
		if driverName == "virtual" && (simulated < 1 || simulated > maxFunctional) {
			return fmt.Errorf("--ecus %d 不在 1..%d", simulated, maxFunctional)
		}
		opts, err := serverOptions()
		if err != nil {
			return err
		}
		key, err := parseKey()
		if err != nil {
			return err
		}
		e, err := openEnv(cmd.Context(), simulated, opts...)
		if err != nil {
			return err
		}
		defer e.Close()
		c := e.client()
		defer c.Close()

		expect := maxFunctional
		if driverName == "virtual" {
			expect = simulated
		}
		tally := runSequence(cmd.Context(), c, newTarget(ecu, key, expect), referenceSequence())
		fmt.Fprintln(cmd.OutOrStdout(), tally)
		if tally.Failed() > 0 {
			return fmt.Errorf("%d 个服务失败", tally.Failed())
		}
		log.Info("测试序列完成")
		return nil
	},
}

func init() {
	clientCmd.Flags().StringVar(&ecuAddr, "ecu", "0x01", "目标 ECU 地址")
	clientCmd.Flags().IntVar(&simulated, "ecus", 1, "virtual 驱动下模拟的 ECU 数量")
	addServerFlags(clientCmd)
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/secaccess"
	"github.com/LoveWonYoung/udsengine/uds"
	"github.com/LoveWonYoung/udsengine/udsclient"
)

// target 一次测试的寻址与安全访问密钥；expect 为功能请求期望的响应数
type target struct {
	phys, fn    uds.NetAddrInfo
	securityKey []byte
	expect      int
}

func newTarget(ecu byte, key []byte, expect int) target {
	return target{
		phys: uds.NetAddrInfo{
			SA: uds.AddrTestEquipment, TA: ecu, TAType: uds.Physical, Protocol: uds.ProtocolISO15765_2_11B,
		},
		fn: uds.NetAddrInfo{
			SA: uds.AddrTestEquipment, TA: uds.AddrOBDFunctional, TAType: uds.Functional, Protocol: uds.ProtocolISO15765_2_11B,
		},
		securityKey: key,
		expect:      expect,
	}
}

type step struct {
	name string
	run  func(ctx context.Context, c *udsclient.Client, t target) error
}

// Tally 测试序列结果
type Tally struct {
	Passed   int
	Failures []string
}

func (t Tally) Failed() int { return len(t.Failures) }

func (t Tally) String() string {
	if t.Failed() == 0 {
		return fmt.Sprintf("ALL Transmissions succeeded ! (%d)", t.Passed)
	}
	return fmt.Sprintf("ERROR : %d errors occured. (%d passed)\n  %s", t.Failed(), t.Passed, strings.Join(t.Failures, "\n  "))
}

// physical 发送一条物理请求并要求正响应，抑制正响应时允许无响应
func physical(build func(uds.NetAddrInfo) (*uds.Message, error)) func(context.Context, *udsclient.Client, target) error {
	return func(ctx context.Context, c *udsclient.Client, t target) error {
		req, err := build(t.phys)
		if err != nil {
			return err
		}
		resp, err := c.RequestWithContext(ctx, req, udsclient.DefaultRequestOptions())
		if err != nil {
			return err
		}
		if resp == nil && !req.NoPositiveResponse {
			return fmt.Errorf("没有响应")
		}
		if resp != nil {
			log.Infof("  %s", resp)
		}
		return nil
	}
}

// functional 发送一条功能请求，收齐 t.expect 个响应即返回，每个响应都必须是正响应
func functional(build func(uds.NetAddrInfo) (*uds.Message, error)) func(context.Context, *udsclient.Client, target) error {
	return func(ctx context.Context, c *udsclient.Client, t target) error {
		req, err := build(t.fn)
		if err != nil {
			return err
		}
		resps, _, err := c.ExchangeFunctional(req, t.expect, false)
		if err != nil && !errors.Is(err, uds.StatusOverflow) {
			return err
		}
		for _, r := range resps {
			log.Infof("  %s", r)
			if res := uds.CheckResponse(r, req.Data[0]); res.Kind != uds.ResultConfirmed {
				return fmt.Errorf("ECU 0x%02X: %s", r.NAI.SA, res)
			}
		}
		return nil
	}
}

func securityAccess(ctx context.Context, c *udsclient.Client, t target) error {
	req, err := uds.NewSecurityAccess(t.phys, uds.SecurityRequestSeed1, nil)
	if err != nil {
		return err
	}
	resp, err := c.RequestWithContext(ctx, req, udsclient.DefaultRequestOptions())
	if err != nil {
		return err
	}
	if resp == nil || len(resp.Data) < 3 {
		return fmt.Errorf("没有收到种子")
	}
	seed := resp.Data[2:]
	key := seed
	if t.securityKey != nil {
		if key, err = secaccess.ComputeKey(t.securityKey, seed); err != nil {
			return err
		}
	}
	req, err = uds.NewSecurityAccess(t.phys, uds.SecuritySendKey2, key)
	if err != nil {
		return err
	}
	_, err = c.RequestWithContext(ctx, req, udsclient.DefaultRequestOptions())
	return err
}

// referenceSequence 覆盖全部 24 个服务的客户端测试序列
func referenceSequence() []step {
	addr := uds.Uint32Bytes(0x00010020, 4)
	return []step{
		{"DiagnosticSessionControl extended", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewDiagnosticSessionControl(n, uds.SessionExtended)
		})},
		{"ECUReset soft", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewECUReset(n, uds.ResetSoft)
		})},
		{"SecurityAccess seed/key", securityAccess},
		{"CommunicationControl", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewCommunicationControl(n, uds.CommEnableRxTx, uds.CommTypeApplication)
		})},
		{"TesterPresent", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewTesterPresent(n)
		})},
		{"TesterPresent suppressed", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewTesterPresent(n, uds.SuppressPositiveResponse())
		})},
		{"TesterPresent functional", functional(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewTesterPresent(n)
		})},
		{"SecuredDataTransmission", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewSecuredDataTransmission(n, []byte{0xF1, 0x90, 0x12, 0x34})
		})},
		{"ControlDTCSetting off", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewControlDTCSetting(n, uds.DTCSettingOff, []byte{0xFF, 0xFF, 0xFF})
		})},
		{"ResponseOnEvent", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewResponseOnEvent(n, uds.ROEOnDTCStatusChange, false, 0x08, []byte{0x01}, []byte{0x19, 0x0E})
		})},
		{"LinkControl", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewLinkControl(n, uds.LinkVerifyFixedBaudrate, uds.BaudrateCAN500K, 0)
		})},
		{"ReadDataByIdentifier", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewReadDataByIdentifier(n, []uint16{uds.DIDVIN, uds.DIDECUSerialNumber})
		})},
		{"ReadMemoryByAddress", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewReadMemoryByAddress(n, addr, []byte{0x00, 0x20})
		})},
		{"ReadScalingDataByIdentifier", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewReadScalingDataByIdentifier(n, uds.DIDECUManufacturingDate)
		})},
		{"ReadDataByPeriodicIdentifier", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewReadDataByPeriodicIdentifier(n, uds.PeriodicSlowRate, []byte{0x12, 0x34})
		})},
		{"DynamicallyDefineDataIdentifier", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewDDDIByIdentifier(n, 0xF301, []uds.DDDISource{{SourceDID: uds.DIDVIN, Position: 1, Size: 4}})
		})},
		{"WriteDataByIdentifier", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewWriteDataByIdentifier(n, uds.DIDRepairShopCodeOrTesterSerialNumber, []byte("0123456789"))
		})},
		{"WriteMemoryByAddress", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewWriteMemoryByAddress(n, addr, []byte{0x04}, []byte{0x01, 0x02, 0x03, 0x04})
		})},
		{"ClearDiagnosticInformation", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewClearDiagnosticInformation(n, uds.DTCGroupAll)
		})},
		{"ReadDTCInformation", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewReadDTCByStatusMask(n, uds.RDTCIDTCByStatusMask, uds.DTCStatusConfirmedDTC)
		})},
		{"InputOutputControlByIdentifier", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewInputOutputControlByIdentifier(n, 0xF1A0, []byte{uds.IOShortTermAdjustment, 0x10}, []byte{0xFF})
		})},
		{"RoutineControl", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewRoutineControl(n, uds.RoutineStart, uds.RIDEraseMemory, []byte{0x00, 0x01, 0x00, 0x20})
		})},
		{"RequestDownload", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewRequestDownload(n, 0, 0, addr, uds.Uint32Bytes(128, 4))
		})},
		{"RequestUpload", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewRequestUpload(n, 0, 0, addr, uds.Uint32Bytes(128, 4))
		})},
		{"TransferData", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewTransferData(n, 0x01, []byte{0x00, 0x01, 0x02, 0x03})
		})},
		{"TransferData big message", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			record := make([]byte, 1024)
			for i := range record {
				record[i] = byte(i)
			}
			return uds.NewTransferData(n, 0x02, record)
		})},
		{"TransferData functional", functional(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewTransferData(n, 0x03, []byte{0xAA, 0xBB})
		})},
		{"RequestTransferExit", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewRequestTransferExit(n, nil)
		})},
		{"DiagnosticSessionControl default", physical(func(n uds.NetAddrInfo) (*uds.Message, error) {
			return uds.NewDiagnosticSessionControl(n, uds.SessionDefault)
		})},
	}
}

// runSequence 依次执行各步骤，失败不中断
func runSequence(ctx context.Context, c *udsclient.Client, t target, steps []step) Tally {
	var tally Tally
	for _, s := range steps {
		if ctx.Err() != nil {
			tally.Failures = append(tally.Failures, fmt.Sprintf("%s: %v", s.name, ctx.Err()))
			break
		}
		log.Infof("*** UDS Service: %s ***", s.name)
		if err := s.run(ctx, c, t); err != nil {
			log.Errorf("%s 失败: %v", s.name, err)
			tally.Failures = append(tally.Failures, fmt.Sprintf("%s: %v", s.name, err))
			continue
		}
		tally.Passed++
	}
	return tally
}

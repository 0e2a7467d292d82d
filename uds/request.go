package uds

import (
	"encoding/binary"
	"fmt"
)

type requestOptions struct {
	suppress bool
}

// RequestOption 请求构造选项
type RequestOption func(*requestOptions)

// SuppressPositiveResponse 在子功能字节置位 0x80，服务器不回正响应
func SuppressPositiveResponse() RequestOption {
	return func(o *requestOptions) { o.suppress = true }
}

func wrongParameter(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), StatusWrongParameter)
}

// newRequest 组装请求；hasSub 表示 data[1] 为子功能字节
func newRequest(nai NetAddrInfo, hasSub bool, data []byte, opts []RequestOption) (*Message, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	if nai.TAType != Physical && nai.TAType != Functional {
		return nil, wrongParameter("无效的目标地址类型 %d", nai.TAType)
	}
	if len(data) > MaxDataLength {
		return nil, wrongParameter("请求长度 %d 超过 %d", len(data), MaxDataLength)
	}
	if hasSub {
		if data[1]&SuppressPositiveResponseBit != 0 {
			return nil, wrongParameter("子功能 0x%02X 超出 7 位范围", data[1])
		}
		if o.suppress {
			data[1] |= SuppressPositiveResponseBit
		}
	} else if o.suppress {
		return nil, wrongParameter("服务 0x%02X 没有子功能，不能抑制正响应", data[0])
	}
	return &Message{
		NAI:                nai,
		NoPositiveResponse: o.suppress,
		Data:               data,
		Type:               MessageRequest,
	}, nil
}

func u16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func u24(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// alfid 校验地址/长度字段并返回 addressAndLengthFormatIdentifier
func alfid(addr, size []byte) (byte, error) {
	if len(addr) == 0 || len(addr) > 0xF {
		return 0, wrongParameter("内存地址长度 %d 不在 1..15", len(addr))
	}
	if len(size) == 0 || len(size) > 0xF {
		return 0, wrongParameter("内存大小长度 %d 不在 1..15", len(size))
	}
	return byte(len(size))<<4 | byte(len(addr)), nil
}

func NewDiagnosticSessionControl(nai NetAddrInfo, session byte, opts ...RequestOption) (*Message, error) {
	if session == 0 {
		return nil, wrongParameter("会话类型不能为 0")
	}
	return newRequest(nai, true, []byte{SIDDiagnosticSessionControl, session}, opts)
}

func NewECUReset(nai NetAddrInfo, resetType byte, opts ...RequestOption) (*Message, error) {
	if resetType == 0 {
		return nil, wrongParameter("复位类型不能为 0")
	}
	return newRequest(nai, true, []byte{SIDECUReset, resetType}, opts)
}

// NewSecurityAccess 奇数类型请求种子 (record 为可选的 securityAccessDataRecord)，偶数类型发送密钥
func NewSecurityAccess(nai NetAddrInfo, accessType byte, record []byte, opts ...RequestOption) (*Message, error) {
	if !IsRequestSeed(accessType) && !IsSendKey(accessType) {
		return nil, wrongParameter("安全访问类型 0x%02X 无效", accessType)
	}
	if IsSendKey(accessType) && len(record) == 0 {
		return nil, wrongParameter("发送密钥需要密钥数据")
	}
	data := append([]byte{SIDSecurityAccess, accessType}, record...)
	return newRequest(nai, true, data, opts)
}

func NewCommunicationControl(nai NetAddrInfo, controlType, communicationType byte, opts ...RequestOption) (*Message, error) {
	if communicationType&0x03 == 0 {
		return nil, wrongParameter("通信类型 0x%02X 未选择应用或网络管理报文", communicationType)
	}
	return newRequest(nai, true, []byte{SIDCommunicationControl, controlType, communicationType}, opts)
}

func NewTesterPresent(nai NetAddrInfo, opts ...RequestOption) (*Message, error) {
	return newRequest(nai, true, []byte{SIDTesterPresent, TesterPresentZeroSubFunction}, opts)
}

func NewSecuredDataTransmission(nai NetAddrInfo, record []byte, opts ...RequestOption) (*Message, error) {
	if len(record) == 0 {
		return nil, wrongParameter("安全数据为空")
	}
	return newRequest(nai, false, append([]byte{SIDSecuredDataTransmission}, record...), opts)
}

func NewControlDTCSetting(nai NetAddrInfo, settingType byte, record []byte, opts ...RequestOption) (*Message, error) {
	if settingType == 0 {
		return nil, wrongParameter("DTC 设置类型不能为 0")
	}
	data := append([]byte{SIDControlDTCSetting, settingType}, record...)
	return newRequest(nai, true, data, opts)
}

// NewResponseOnEvent eventTypeRecord 的长度必须与事件类型匹配
func NewResponseOnEvent(nai NetAddrInfo, eventType byte, storeEvent bool, windowTime byte,
	eventRecord, serviceToRespondTo []byte, opts ...RequestOption) (*Message, error) {
	want, ok := ROEEventRecordLength[eventType]
	if !ok {
		return nil, wrongParameter("事件类型 0x%02X 无效", eventType)
	}
	if len(eventRecord) != want {
		return nil, wrongParameter("事件类型 0x%02X 记录长度应为 %d，实际 %d", eventType, want, len(eventRecord))
	}
	sub := eventType
	if storeEvent {
		sub |= 0x40
	}
	data := []byte{SIDResponseOnEvent, sub, windowTime}
	data = append(data, eventRecord...)
	data = append(data, serviceToRespondTo...)
	return newRequest(nai, true, data, opts)
}

// NewLinkControl linkBaudrate 仅在 LinkVerifySpecificBaudrate 时使用 (3 字节)
func NewLinkControl(nai NetAddrInfo, controlType, baudrateID byte, linkBaudrate uint32, opts ...RequestOption) (*Message, error) {
	var data []byte
	switch controlType {
	case LinkVerifyFixedBaudrate:
		data = []byte{SIDLinkControl, controlType, baudrateID}
	case LinkVerifySpecificBaudrate:
		if linkBaudrate > 0xFFFFFF {
			return nil, wrongParameter("波特率 %d 超过 3 字节", linkBaudrate)
		}
		data = append([]byte{SIDLinkControl, controlType}, u24(linkBaudrate)...)
	case LinkTransitionBaudrate:
		data = []byte{SIDLinkControl, controlType}
	default:
		return nil, wrongParameter("链路控制类型 0x%02X 无效", controlType)
	}
	return newRequest(nai, true, data, opts)
}

func NewReadDataByIdentifier(nai NetAddrInfo, dids []uint16, opts ...RequestOption) (*Message, error) {
	if len(dids) == 0 {
		return nil, wrongParameter("至少需要一个 DID")
	}
	data := make([]byte, 0, 1+2*len(dids))
	data = append(data, SIDReadDataByIdentifier)
	for _, did := range dids {
		data = append(data, u16(did)...)
	}
	return newRequest(nai, false, data, opts)
}

func NewReadMemoryByAddress(nai NetAddrInfo, addr, size []byte, opts ...RequestOption) (*Message, error) {
	f, err := alfid(addr, size)
	if err != nil {
		return nil, err
	}
	data := append([]byte{SIDReadMemoryByAddress, f}, addr...)
	data = append(data, size...)
	return newRequest(nai, false, data, opts)
}

func NewReadScalingDataByIdentifier(nai NetAddrInfo, did uint16, opts ...RequestOption) (*Message, error) {
	return newRequest(nai, false, append([]byte{SIDReadScalingDataByIdentifier}, u16(did)...), opts)
}

func NewReadDataByPeriodicIdentifier(nai NetAddrInfo, mode byte, periodicIDs []byte, opts ...RequestOption) (*Message, error) {
	if mode < PeriodicSlowRate || mode > PeriodicStop {
		return nil, wrongParameter("传输模式 0x%02X 无效", mode)
	}
	if mode != PeriodicStop && len(periodicIDs) == 0 {
		return nil, wrongParameter("至少需要一个周期标识符")
	}
	return newRequest(nai, false, append([]byte{SIDReadDataByPeriodicIdentifier, mode}, periodicIDs...), opts)
}

// DDDISource 由已有 DID 定义动态 DID 的一个数据源
type DDDISource struct {
	SourceDID uint16
	Position  byte // 从 1 开始
	Size      byte
}

func NewDDDIByIdentifier(nai NetAddrInfo, did uint16, sources []DDDISource, opts ...RequestOption) (*Message, error) {
	if len(sources) == 0 {
		return nil, wrongParameter("至少需要一个数据源")
	}
	data := append([]byte{SIDDynamicallyDefineDataIdentifier, DDDIDefineByIdentifier}, u16(did)...)
	for _, s := range sources {
		if s.Position == 0 || s.Size == 0 {
			return nil, wrongParameter("数据源 0x%04X 的位置与长度必须大于 0", s.SourceDID)
		}
		data = append(data, u16(s.SourceDID)...)
		data = append(data, s.Position, s.Size)
	}
	return newRequest(nai, true, data, opts)
}

// NewDDDIByMemoryAddress addrs/sizes 为按 addrLen/sizeLen 切分的连续缓冲区
func NewDDDIByMemoryAddress(nai NetAddrInfo, did uint16, addrLen, sizeLen int, addrs, sizes []byte, opts ...RequestOption) (*Message, error) {
	if addrLen <= 0 || addrLen > 0xF || sizeLen <= 0 || sizeLen > 0xF {
		return nil, wrongParameter("地址/长度字段宽度无效 (%d/%d)", addrLen, sizeLen)
	}
	if len(addrs) == 0 || len(addrs)%addrLen != 0 || len(sizes)%sizeLen != 0 || len(addrs)/addrLen != len(sizes)/sizeLen {
		return nil, wrongParameter("内存地址与大小数量不匹配")
	}
	data := append([]byte{SIDDynamicallyDefineDataIdentifier, DDDIDefineByMemoryAddress}, u16(did)...)
	data = append(data, byte(sizeLen)<<4|byte(addrLen))
	for i := 0; i < len(addrs)/addrLen; i++ {
		data = append(data, addrs[i*addrLen:(i+1)*addrLen]...)
		data = append(data, sizes[i*sizeLen:(i+1)*sizeLen]...)
	}
	return newRequest(nai, true, data, opts)
}

func NewDDDIClear(nai NetAddrInfo, did uint16, opts ...RequestOption) (*Message, error) {
	data := append([]byte{SIDDynamicallyDefineDataIdentifier, DDDIClear}, u16(did)...)
	return newRequest(nai, true, data, opts)
}

func NewWriteDataByIdentifier(nai NetAddrInfo, did uint16, record []byte, opts ...RequestOption) (*Message, error) {
	if len(record) == 0 {
		return nil, wrongParameter("写入数据为空")
	}
	data := append([]byte{SIDWriteDataByIdentifier}, u16(did)...)
	return newRequest(nai, false, append(data, record...), opts)
}

func NewWriteMemoryByAddress(nai NetAddrInfo, addr, size, record []byte, opts ...RequestOption) (*Message, error) {
	f, err := alfid(addr, size)
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, wrongParameter("写入数据为空")
	}
	data := append([]byte{SIDWriteMemoryByAddress, f}, addr...)
	data = append(data, size...)
	return newRequest(nai, false, append(data, record...), opts)
}

func NewClearDiagnosticInformation(nai NetAddrInfo, groupOfDTC uint32, opts ...RequestOption) (*Message, error) {
	if groupOfDTC > 0xFFFFFF {
		return nil, wrongParameter("DTC 组 0x%X 超过 3 字节", groupOfDTC)
	}
	return newRequest(nai, false, append([]byte{SIDClearDiagnosticInformation}, u24(groupOfDTC)...), opts)
}

func rdtci(nai NetAddrInfo, reportType byte, allowed []byte, params []byte, opts []RequestOption) (*Message, error) {
	ok := false
	for _, a := range allowed {
		if a == reportType {
			ok = true
			break
		}
	}
	if !ok {
		return nil, wrongParameter("报告类型 0x%02X 不适用于该请求格式", reportType)
	}
	return newRequest(nai, true, append([]byte{SIDReadDTCInformation, reportType}, params...), opts)
}

func NewReadDTCByStatusMask(nai NetAddrInfo, reportType, statusMask byte, opts ...RequestOption) (*Message, error) {
	return rdtci(nai, reportType, []byte{
		RDTCINumberOfDTCByStatusMask, RDTCIDTCByStatusMask, RDTCIMirrorMemoryDTCByStatusMask,
		RDTCINumberOfMirrorMemoryDTCByStatusMask, RDTCINumberOfEmissionsOBDDTCByStatusMask,
		RDTCIEmissionsOBDDTCByStatusMask,
	}, []byte{statusMask}, opts)
}

func NewReadDTCSnapshotByDTC(nai NetAddrInfo, dtcMask uint32, recordNumber byte, opts ...RequestOption) (*Message, error) {
	if dtcMask > 0xFFFFFF {
		return nil, wrongParameter("DTC 0x%X 超过 3 字节", dtcMask)
	}
	return rdtci(nai, RDTCIDTCSnapshotRecordByDTCNumber, []byte{RDTCIDTCSnapshotRecordByDTCNumber},
		append(u24(dtcMask), recordNumber), opts)
}

func NewReadDTCSnapshotByRecord(nai NetAddrInfo, recordNumber byte, opts ...RequestOption) (*Message, error) {
	return rdtci(nai, RDTCIDTCSnapshotRecordByRecordNumber, []byte{RDTCIDTCSnapshotRecordByRecordNumber},
		[]byte{recordNumber}, opts)
}

func NewReadDTCExtended(nai NetAddrInfo, reportType byte, dtcMask uint32, extRecordNumber byte, opts ...RequestOption) (*Message, error) {
	if dtcMask > 0xFFFFFF {
		return nil, wrongParameter("DTC 0x%X 超过 3 字节", dtcMask)
	}
	return rdtci(nai, reportType, []byte{RDTCIDTCExtendedDataRecordByDTCNumber, RDTCIMirrorMemoryDTCExtendedDataRecordByDTC},
		append(u24(dtcMask), extRecordNumber), opts)
}

func NewReadDTCBySeverity(nai NetAddrInfo, reportType, severityMask, statusMask byte, opts ...RequestOption) (*Message, error) {
	return rdtci(nai, reportType, []byte{RDTCINumberOfDTCBySeverityMaskRecord, RDTCIDTCBySeverityMaskRecord},
		[]byte{severityMask, statusMask}, opts)
}

func NewReadDTCSeverityOfDTC(nai NetAddrInfo, dtcMask uint32, opts ...RequestOption) (*Message, error) {
	if dtcMask > 0xFFFFFF {
		return nil, wrongParameter("DTC 0x%X 超过 3 字节", dtcMask)
	}
	return rdtci(nai, RDTCISeverityInformationOfDTC, []byte{RDTCISeverityInformationOfDTC}, u24(dtcMask), opts)
}

func NewReadDTCNoParam(nai NetAddrInfo, reportType byte, opts ...RequestOption) (*Message, error) {
	return rdtci(nai, reportType, []byte{
		RDTCIDTCSnapshotIdentification, RDTCISupportedDTC, RDTCIFirstTestFailedDTC, RDTCIFirstConfirmedDTC,
		RDTCIMostRecentTestFailedDTC, RDTCIMostRecentConfirmedDTC, RDTCIDTCFaultDetectionCounter,
		RDTCIDTCWithPermanentStatus,
	}, nil, opts)
}

func NewInputOutputControlByIdentifier(nai NetAddrInfo, did uint16, controlOption, enableMask []byte, opts ...RequestOption) (*Message, error) {
	if len(controlOption) == 0 {
		return nil, wrongParameter("控制选项为空")
	}
	data := append([]byte{SIDInputOutputControlByIdentifier}, u16(did)...)
	data = append(data, controlOption...)
	data = append(data, enableMask...)
	return newRequest(nai, false, data, opts)
}

func NewRoutineControl(nai NetAddrInfo, controlType byte, rid uint16, record []byte, opts ...RequestOption) (*Message, error) {
	if controlType < RoutineStart || controlType > RoutineRequestResults {
		return nil, wrongParameter("例程控制类型 0x%02X 无效", controlType)
	}
	data := append([]byte{SIDRoutineControl, controlType}, u16(rid)...)
	return newRequest(nai, true, append(data, record...), opts)
}

func transferRequest(nai NetAddrInfo, sid, compression, encrypting byte, addr, size []byte, opts []RequestOption) (*Message, error) {
	if compression > 0xF || encrypting > 0xF {
		return nil, wrongParameter("压缩/加密方法 (%d/%d) 超过 4 位", compression, encrypting)
	}
	f, err := alfid(addr, size)
	if err != nil {
		return nil, err
	}
	data := append([]byte{sid, compression<<4 | encrypting, f}, addr...)
	return newRequest(nai, false, append(data, size...), opts)
}

func NewRequestDownload(nai NetAddrInfo, compression, encrypting byte, addr, size []byte, opts ...RequestOption) (*Message, error) {
	return transferRequest(nai, SIDRequestDownload, compression, encrypting, addr, size, opts)
}

func NewRequestUpload(nai NetAddrInfo, compression, encrypting byte, addr, size []byte, opts ...RequestOption) (*Message, error) {
	return transferRequest(nai, SIDRequestUpload, compression, encrypting, addr, size, opts)
}

func NewTransferData(nai NetAddrInfo, blockSequence byte, record []byte, opts ...RequestOption) (*Message, error) {
	return newRequest(nai, false, append([]byte{SIDTransferData, blockSequence}, record...), opts)
}

func NewRequestTransferExit(nai NetAddrInfo, record []byte, opts ...RequestOption) (*Message, error) {
	return newRequest(nai, false, append([]byte{SIDRequestTransferExit}, record...), opts)
}

// Uint32Bytes 把值编码为 n 字节大端序，供内存地址/大小参数使用
func Uint32Bytes(v uint32, n int) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	if n > 4 {
		n = 4
	}
	return append([]byte(nil), buf[4-n:]...)
}

package uds

import "fmt"

// UDS 负响应码 (Negative Response Code)
const (
	NRCPositiveResponse                        = 0x00
	NRCGeneralReject                           = 0x10 // 一般拒绝
	NRCServiceNotSupported                     = 0x11 // 服务不支持
	NRCSubFunctionNotSupported                 = 0x12 // 子功能不支持
	NRCIncorrectMessageLength                  = 0x13 // 消息长度错误
	NRCResponseTooLong                         = 0x14 // 响应过长
	NRCBusyRepeatRequest                       = 0x21 // 忙，请重复请求
	NRCConditionsNotCorrect                    = 0x22 // 条件不满足
	NRCRequestSequenceError                    = 0x24 // 请求顺序错误
	NRCNoResponseFromSubnetComponent           = 0x25 // 子网组件无响应
	NRCFailurePreventsExecution                = 0x26 // 故障阻止执行
	NRCRequestOutOfRange                       = 0x31 // 请求超出范围
	NRCSecurityAccessDenied                    = 0x33 // 安全访问被拒绝
	NRCInvalidKey                              = 0x35 // 无效密钥
	NRCExceedNumberOfAttempts                  = 0x36 // 超过尝试次数
	NRCRequiredTimeDelayNotExpired             = 0x37 // 所需时间延迟未过期
	NRCUploadDownloadNotAccepted               = 0x70 // 上传/下载不接受
	NRCTransferDataSuspended                   = 0x71 // 传输数据暂停
	NRCGeneralProgrammingFailure               = 0x72 // 一般编程失败
	NRCWrongBlockSequenceCounter               = 0x73 // 块序号计数器错误
	NRCResponsePending                         = 0x78 // 响应挂起
	NRCSubFunctionNotSupportedInActiveSession  = 0x7E // 子功能在当前会话不支持
	NRCServiceNotSupportedInActiveSession      = 0x7F // 服务在当前会话不支持
	NRCRpmTooHigh                              = 0x81
	NRCRpmTooLow                               = 0x82
	NRCEngineIsRunning                         = 0x83
	NRCEngineIsNotRunning                      = 0x84
	NRCEngineRunTimeTooLow                     = 0x85
	NRCTemperatureTooHigh                      = 0x86
	NRCTemperatureTooLow                       = 0x87
	NRCVehicleSpeedTooHigh                     = 0x88
	NRCVehicleSpeedTooLow                      = 0x89
	NRCThrottlePedalTooHigh                    = 0x8A
	NRCThrottlePedalTooLow                     = 0x8B
	NRCTransmissionRangeNotInNeutral           = 0x8C
	NRCTransmissionRangeNotInGear              = 0x8D
	NRCBrakeSwitchNotClosed                    = 0x8F
	NRCShifterLeverNotInPark                   = 0x90
	NRCTorqueConverterClutchLocked             = 0x91
	NRCVoltageTooHigh                          = 0x92
	NRCVoltageTooLow                           = 0x93
	NRCExtendedTiming                          = NRCResponsePending
)

var nrcDescriptions = map[byte]string{
	NRCPositiveResponse:                       "正响应",
	NRCGeneralReject:                          "一般拒绝",
	NRCServiceNotSupported:                    "服务不支持",
	NRCSubFunctionNotSupported:                "子功能不支持",
	NRCIncorrectMessageLength:                 "消息长度错误",
	NRCResponseTooLong:                        "响应过长",
	NRCBusyRepeatRequest:                      "忙，请重复请求",
	NRCConditionsNotCorrect:                   "条件不满足",
	NRCRequestSequenceError:                   "请求顺序错误",
	NRCNoResponseFromSubnetComponent:          "子网组件无响应",
	NRCFailurePreventsExecution:               "故障阻止执行",
	NRCRequestOutOfRange:                      "请求超出范围",
	NRCSecurityAccessDenied:                   "安全访问被拒绝",
	NRCInvalidKey:                             "无效密钥",
	NRCExceedNumberOfAttempts:                 "超过尝试次数",
	NRCRequiredTimeDelayNotExpired:            "所需时间延迟未过期",
	NRCUploadDownloadNotAccepted:              "上传/下载不接受",
	NRCTransferDataSuspended:                  "传输数据暂停",
	NRCGeneralProgrammingFailure:              "一般编程失败",
	NRCWrongBlockSequenceCounter:              "块序号计数器错误",
	NRCResponsePending:                        "响应挂起",
	NRCSubFunctionNotSupportedInActiveSession: "子功能在当前会话不支持",
	NRCServiceNotSupportedInActiveSession:     "服务在当前会话不支持",
	NRCRpmTooHigh:                             "转速过高",
	NRCRpmTooLow:                              "转速过低",
	NRCEngineIsRunning:                        "发动机运行中",
	NRCEngineIsNotRunning:                     "发动机未运行",
	NRCEngineRunTimeTooLow:                    "发动机运行时间过短",
	NRCTemperatureTooHigh:                     "温度过高",
	NRCTemperatureTooLow:                      "温度过低",
	NRCVehicleSpeedTooHigh:                    "车速过高",
	NRCVehicleSpeedTooLow:                     "车速过低",
	NRCThrottlePedalTooHigh:                   "油门踏板过高",
	NRCThrottlePedalTooLow:                    "油门踏板过低",
	NRCTransmissionRangeNotInNeutral:          "变速器不在空挡",
	NRCTransmissionRangeNotInGear:             "变速器不在挡位",
	NRCBrakeSwitchNotClosed:                   "制动开关未闭合",
	NRCShifterLeverNotInPark:                  "换挡杆不在 P 挡",
	NRCTorqueConverterClutchLocked:            "液力变矩器离合器锁止",
	NRCVoltageTooHigh:                         "电压过高",
	NRCVoltageTooLow:                          "电压过低",
}

// NRCDescription 获取 NRC 错误描述
func NRCDescription(nrc byte) string {
	if desc, ok := nrcDescriptions[nrc]; ok {
		return desc
	}
	return "未知错误"
}

// UDSError 表示 UDS 负响应错误
type UDSError struct {
	ServiceID byte   // 原始服务 ID
	NRC       byte   // 负响应码
	Message   string // 错误描述
}

// NewUDSError 从负响应消息构造错误
func NewUDSError(resp *Message) *UDSError {
	nrc := resp.NRC()
	return &UDSError{ServiceID: resp.ServiceID(), NRC: nrc, Message: NRCDescription(nrc)}
}

func (e *UDSError) Error() string {
	return fmt.Sprintf("UDS 负响应: SID=0x%02X, NRC=0x%02X (%s)", e.ServiceID, e.NRC, e.Message)
}

// IsRetryable 判断该错误是否可以重试
func (e *UDSError) IsRetryable() bool {
	switch e.NRC {
	case NRCBusyRepeatRequest, NRCResponsePending:
		return true
	default:
		return false
	}
}

package uds

import "time"

// 服务标识符 (ISO 14229-1)
const (
	SIDDiagnosticSessionControl         byte = 0x10
	SIDECUReset                         byte = 0x11
	SIDClearDiagnosticInformation       byte = 0x14
	SIDReadDTCInformation               byte = 0x19
	SIDReadDataByIdentifier             byte = 0x22
	SIDReadMemoryByAddress              byte = 0x23
	SIDReadScalingDataByIdentifier      byte = 0x24
	SIDSecurityAccess                   byte = 0x27
	SIDCommunicationControl             byte = 0x28
	SIDReadDataByPeriodicIdentifier     byte = 0x2A
	SIDDynamicallyDefineDataIdentifier  byte = 0x2C
	SIDWriteDataByIdentifier            byte = 0x2E
	SIDInputOutputControlByIdentifier   byte = 0x2F
	SIDRoutineControl                   byte = 0x31
	SIDRequestDownload                  byte = 0x34
	SIDRequestUpload                    byte = 0x35
	SIDTransferData                     byte = 0x36
	SIDRequestTransferExit              byte = 0x37
	SIDWriteMemoryByAddress             byte = 0x3D
	SIDTesterPresent                    byte = 0x3E
	SIDNegativeResponse                 byte = 0x7F
	SIDSecuredDataTransmission          byte = 0x84
	SIDControlDTCSetting                byte = 0x85
	SIDResponseOnEvent                  byte = 0x86
	SIDLinkControl                      byte = 0x87
	PositiveResponseOffset              byte = 0x40
	SuppressPositiveResponseBit         byte = 0x80
	subFunctionMask                     byte = 0x7F
)

var serviceNames = map[byte]string{
	SIDDiagnosticSessionControl:        "DiagnosticSessionControl",
	SIDECUReset:                        "ECUReset",
	SIDClearDiagnosticInformation:      "ClearDiagnosticInformation",
	SIDReadDTCInformation:              "ReadDTCInformation",
	SIDReadDataByIdentifier:            "ReadDataByIdentifier",
	SIDReadMemoryByAddress:             "ReadMemoryByAddress",
	SIDReadScalingDataByIdentifier:     "ReadScalingDataByIdentifier",
	SIDSecurityAccess:                  "SecurityAccess",
	SIDCommunicationControl:            "CommunicationControl",
	SIDReadDataByPeriodicIdentifier:    "ReadDataByPeriodicIdentifier",
	SIDDynamicallyDefineDataIdentifier: "DynamicallyDefineDataIdentifier",
	SIDWriteDataByIdentifier:           "WriteDataByIdentifier",
	SIDInputOutputControlByIdentifier:  "InputOutputControlByIdentifier",
	SIDRoutineControl:                  "RoutineControl",
	SIDRequestDownload:                 "RequestDownload",
	SIDRequestUpload:                   "RequestUpload",
	SIDTransferData:                    "TransferData",
	SIDRequestTransferExit:             "RequestTransferExit",
	SIDWriteMemoryByAddress:            "WriteMemoryByAddress",
	SIDTesterPresent:                   "TesterPresent",
	SIDNegativeResponse:                "NegativeResponse",
	SIDSecuredDataTransmission:         "SecuredDataTransmission",
	SIDControlDTCSetting:               "ControlDTCSetting",
	SIDResponseOnEvent:                 "ResponseOnEvent",
	SIDLinkControl:                     "LinkControl",
}

// ServiceName 返回服务名，未知服务返回空串
func ServiceName(sid byte) string {
	return serviceNames[sid]
}

// 地址
const (
	AddrTestEquipment  byte = 0xF1
	AddrOBDFunctional  byte = 0x33
	AddrECU1           byte = 0x01
	AddrECU2           byte = 0x02
	AddrECU3           byte = 0x03
	AddrECU4           byte = 0x04
	AddrECU5           byte = 0x05
	AddrECU6           byte = 0x06
	AddrECU7           byte = 0x07
	AddrECU8           byte = 0x08
)

// 传统 11 位 CAN ID
const (
	CanIDFunctionalRequest uint32 = 0x7DF
	CanIDRequestECU1       uint32 = 0x7E0
	CanIDResponseECU1      uint32 = 0x7E8
	CanIDECUCount                 = 8
)

// RequestCanID ECU n (1..8) 的物理请求 ID
func RequestCanID(ecu byte) uint32 { return CanIDRequestECU1 + uint32(ecu) - 1 }

// ResponseCanID ECU n (1..8) 的响应 ID
func ResponseCanID(ecu byte) uint32 { return CanIDResponseECU1 + uint32(ecu) - 1 }

// 定时参数
const (
	P2CANDefaultServerMax  = 50 * time.Millisecond
	P2CANEnhancedServerMax = 5000 * time.Millisecond
	DefaultTimeoutRequest  = 10000 * time.Millisecond
	DefaultTimeoutResponse = 10000 * time.Millisecond
	DefaultS3ClientPeriod  = 2000 * time.Millisecond
)

var subFunctionServices = map[byte]bool{
	SIDDiagnosticSessionControl:        true,
	SIDECUReset:                        true,
	SIDSecurityAccess:                  true,
	SIDCommunicationControl:            true,
	SIDTesterPresent:                   true,
	SIDControlDTCSetting:               true,
	SIDResponseOnEvent:                 true,
	SIDLinkControl:                     true,
	SIDReadDTCInformation:              true,
	SIDDynamicallyDefineDataIdentifier: true,
	SIDRoutineControl:                  true,
}

// HasSubFunction 服务请求的第二个字节是否为子功能
func HasSubFunction(sid byte) bool {
	return subFunctionServices[sid]
}

// IsSuppressed 请求是否置位了抑制正响应位
func IsSuppressed(data []byte) bool {
	return len(data) >= 2 && HasSubFunction(data[0]) && data[1]&SuppressPositiveResponseBit != 0
}

package uds

// DiagnosticSessionControl
const (
	SessionDefault      byte = 0x01
	SessionProgramming  byte = 0x02
	SessionExtended     byte = 0x03
	SessionSafetySystem byte = 0x04
)

// ECUReset
const (
	ResetHard                      byte = 0x01
	ResetKeyOffOn                  byte = 0x02
	ResetSoft                      byte = 0x03
	ResetEnableRapidPowerShutDown  byte = 0x04
	ResetDisableRapidPowerShutDown byte = 0x05
)

// SecurityAccess: 奇数为请求种子，偶数为发送密钥
const (
	SecurityRequestSeed1   byte = 0x01
	SecurityRequestSeed3   byte = 0x03
	SecurityRequestSeed5   byte = 0x05
	SecurityRequestSeedMin byte = 0x07
	SecurityRequestSeedMax byte = 0x5F
	SecuritySendKey2       byte = 0x02
	SecuritySendKey4       byte = 0x04
	SecuritySendKey6       byte = 0x06
	SecuritySendKeyMin     byte = 0x08
	SecuritySendKeyMax     byte = 0x60
)

// IsRequestSeed 是否为请求种子子功能
func IsRequestSeed(t byte) bool {
	t &= subFunctionMask
	return t >= SecurityRequestSeed1 && t <= SecurityRequestSeedMax && t%2 == 1
}

// IsSendKey 是否为发送密钥子功能
func IsSendKey(t byte) bool {
	t &= subFunctionMask
	return t >= SecuritySendKey2 && t <= SecuritySendKeyMax && t%2 == 0
}

// CommunicationControl
const (
	CommEnableRxTx        byte = 0x00
	CommEnableRxDisableTx byte = 0x01
	CommDisableRxEnableTx byte = 0x02
	CommDisableRxTx       byte = 0x03

	CommTypeApplication        byte = 0x01
	CommTypeNetworkManagement  byte = 0x02
	CommSubnetDisableSpecified byte = 0x00
	CommSubnetReceivedNode     byte = 0xF0
	CommSubnetNumberMin        byte = 0x10
	CommSubnetNumberMax        byte = 0xE0
	CommSubnetNumberMask       byte = 0xF0
)

// TesterPresent
const TesterPresentZeroSubFunction byte = 0x00

// ControlDTCSetting
const (
	DTCSettingOn  byte = 0x01
	DTCSettingOff byte = 0x02
)

// ResponseOnEvent
const (
	ROEStopResponseOnEvent      byte = 0x00
	ROEOnDTCStatusChange        byte = 0x01
	ROEOnTimerInterrupt         byte = 0x02
	ROEOnChangeOfDataIdentifier byte = 0x03
	ROEReportActivatedEvents    byte = 0x04
	ROEStartResponseOnEvent     byte = 0x05
	ROEClearResponseOnEvent     byte = 0x06
	ROEOnComparisonOfValues     byte = 0x07

	// ROEEventWindowInfinite 无限事件窗口
	ROEEventWindowInfinite byte = 0x02
)

// ROEEventRecordLength 各事件类型的 eventTypeRecord 长度
var ROEEventRecordLength = map[byte]int{
	ROEStopResponseOnEvent:      0,
	ROEOnDTCStatusChange:        1,
	ROEOnTimerInterrupt:         1,
	ROEOnChangeOfDataIdentifier: 2,
	ROEReportActivatedEvents:    0,
	ROEStartResponseOnEvent:     0,
	ROEClearResponseOnEvent:     0,
	ROEOnComparisonOfValues:     10,
}

// LinkControl
const (
	LinkVerifyFixedBaudrate    byte = 0x01
	LinkVerifySpecificBaudrate byte = 0x02
	LinkTransitionBaudrate     byte = 0x03

	BaudratePC9600   byte = 0x01
	BaudratePC19200  byte = 0x02
	BaudratePC38400  byte = 0x03
	BaudratePC57600  byte = 0x04
	BaudratePC115200 byte = 0x05
	BaudrateCAN125K  byte = 0x10
	BaudrateCAN250K  byte = 0x11
	BaudrateCAN500K  byte = 0x12
	BaudrateCAN1M    byte = 0x13
)

// 数据标识符 F180..F19F
const (
	DIDBootSoftwareIdentification               uint16 = 0xF180
	DIDApplicationSoftwareIdentification        uint16 = 0xF181
	DIDApplicationDataIdentification            uint16 = 0xF182
	DIDBootSoftwareFingerprint                  uint16 = 0xF183
	DIDApplicationSoftwareFingerprint           uint16 = 0xF184
	DIDApplicationDataFingerprint               uint16 = 0xF185
	DIDActiveDiagnosticSession                  uint16 = 0xF186
	DIDVehicleManufacturerSparePartNumber       uint16 = 0xF187
	DIDVehicleManufacturerECUSoftwareNumber     uint16 = 0xF188
	DIDVehicleManufacturerECUSoftwareVersion    uint16 = 0xF189
	DIDSystemSupplierIdentifier                 uint16 = 0xF18A
	DIDECUManufacturingDate                     uint16 = 0xF18B
	DIDECUSerialNumber                          uint16 = 0xF18C
	DIDSupportedFunctionalUnits                 uint16 = 0xF18D
	DIDVehicleManufacturerKitAssemblyPartNumber uint16 = 0xF18E
	DIDVIN                                      uint16 = 0xF190
	DIDVehicleManufacturerECUHardwareNumber     uint16 = 0xF191
	DIDSystemSupplierECUHardwareNumber          uint16 = 0xF192
	DIDSystemSupplierECUHardwareVersion         uint16 = 0xF193
	DIDSystemSupplierECUSoftwareNumber          uint16 = 0xF194
	DIDSystemSupplierECUSoftwareVersion         uint16 = 0xF195
	DIDExhaustRegulationTypeApprovalNumber      uint16 = 0xF196
	DIDSystemNameOrEngineType                   uint16 = 0xF197
	DIDRepairShopCodeOrTesterSerialNumber       uint16 = 0xF198
	DIDProgrammingDate                          uint16 = 0xF199
	DIDCalibrationRepairShopCode                uint16 = 0xF19A
	DIDCalibrationDate                          uint16 = 0xF19B
	DIDCalibrationEquipmentSoftwareNumber       uint16 = 0xF19C
	DIDECUInstallationDate                      uint16 = 0xF19D
	DIDODXFile                                  uint16 = 0xF19E
	DIDEntity                                   uint16 = 0xF19F
)

// ReadDataByPeriodicIdentifier 传输模式
const (
	PeriodicSlowRate   byte = 0x01
	PeriodicMediumRate byte = 0x02
	PeriodicFastRate   byte = 0x03
	PeriodicStop       byte = 0x04
)

// DynamicallyDefineDataIdentifier
const (
	DDDIDefineByIdentifier    byte = 0x01
	DDDIDefineByMemoryAddress byte = 0x02
	DDDIClear                 byte = 0x03
)

// ClearDiagnosticInformation 的 DTC 组
const (
	DTCGroupEmissions uint32 = 0x000000
	DTCGroupAll       uint32 = 0xFFFFFF
)

// ReadDTCInformation 报告类型
const (
	RDTCINumberOfDTCByStatusMask                  byte = 0x01
	RDTCIDTCByStatusMask                          byte = 0x02
	RDTCIDTCSnapshotIdentification                byte = 0x03
	RDTCIDTCSnapshotRecordByDTCNumber             byte = 0x04
	RDTCIDTCSnapshotRecordByRecordNumber          byte = 0x05
	RDTCIDTCExtendedDataRecordByDTCNumber         byte = 0x06
	RDTCINumberOfDTCBySeverityMaskRecord          byte = 0x07
	RDTCIDTCBySeverityMaskRecord                  byte = 0x08
	RDTCISeverityInformationOfDTC                 byte = 0x09
	RDTCISupportedDTC                             byte = 0x0A
	RDTCIFirstTestFailedDTC                       byte = 0x0B
	RDTCIFirstConfirmedDTC                        byte = 0x0C
	RDTCIMostRecentTestFailedDTC                  byte = 0x0D
	RDTCIMostRecentConfirmedDTC                   byte = 0x0E
	RDTCIMirrorMemoryDTCByStatusMask              byte = 0x0F
	RDTCIMirrorMemoryDTCExtendedDataRecordByDTC   byte = 0x10
	RDTCINumberOfMirrorMemoryDTCByStatusMask      byte = 0x11
	RDTCINumberOfEmissionsOBDDTCByStatusMask      byte = 0x12
	RDTCIEmissionsOBDDTCByStatusMask              byte = 0x13
	RDTCIDTCFaultDetectionCounter                 byte = 0x14
	RDTCIDTCWithPermanentStatus                   byte = 0x15
)

// DTC 状态位
const (
	DTCStatusTestFailed                         byte = 0x01
	DTCStatusTestFailedThisOperationCycle       byte = 0x02
	DTCStatusPendingDTC                         byte = 0x04
	DTCStatusConfirmedDTC                       byte = 0x08
	DTCStatusTestNotCompletedSinceLastClear     byte = 0x10
	DTCStatusTestFailedSinceLastClear           byte = 0x20
	DTCStatusTestNotCompletedThisOperationCycle byte = 0x40
	DTCStatusWarningIndicatorRequested          byte = 0x80
)

// DTC 严重度位
const (
	DTCSeverityNoSeverityAvailable byte = 0x00
	DTCSeverityMaintenanceOnly     byte = 0x20
	DTCSeverityCheckAtNextHalt     byte = 0x40
	DTCSeverityCheckImmediately    byte = 0x80
)

// InputOutputControlByIdentifier 控制参数
const (
	IOReturnControlToECU   byte = 0x00
	IOResetToDefault       byte = 0x01
	IOFreezeCurrentState   byte = 0x02
	IOShortTermAdjustment  byte = 0x03
)

// RoutineControl
const (
	RoutineStart          byte = 0x01
	RoutineStop           byte = 0x02
	RoutineRequestResults byte = 0x03

	RIDDeployLoopRoutine            uint16 = 0xE200
	RIDEraseMemory                  uint16 = 0xFF00
	RIDCheckProgrammingDependencies uint16 = 0xFF01
	RIDEraseMirrorMemoryDTCs        uint16 = 0xFF02
)

package udsserver

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/secaccess"
	"github.com/LoveWonYoung/udsengine/uds"
)

type handler struct {
	minLen int // 请求的最小长度 (含 SID)
	fn     func(req *uds.Message) []byte
}

func (s *Server) serviceTable() map[byte]handler {
	echoSub := handler{2, func(req *uds.Message) []byte {
		return positive(req.Data[0], req.Data[1])
	}}
	sidOnly := handler{1, func(req *uds.Message) []byte {
		return positive(req.Data[0])
	}}
	echoDID := handler{3, func(req *uds.Message) []byte {
		return positive(req.Data[0], req.Data[1], req.Data[2])
	}}
	return map[byte]handler{
		uds.SIDDiagnosticSessionControl:        {2, s.diagnosticSessionControl},
		uds.SIDECUReset:                        {2, s.ecuReset},
		uds.SIDSecurityAccess:                  {2, s.securityAccess},
		uds.SIDCommunicationControl:            echoSub,
		uds.SIDTesterPresent:                   echoSub,
		uds.SIDSecuredDataTransmission:         {1, s.securedDataTransmission},
		uds.SIDControlDTCSetting:               echoSub,
		uds.SIDResponseOnEvent:                 {2, s.responseOnEvent},
		uds.SIDLinkControl:                     echoSub,
		uds.SIDReadDataByIdentifier:            {3, s.readDataByIdentifier},
		uds.SIDReadMemoryByAddress:             {3, s.readMemoryByAddress},
		uds.SIDReadScalingDataByIdentifier:     {3, s.readScalingDataByIdentifier},
		uds.SIDReadDataByPeriodicIdentifier:    sidOnly,
		uds.SIDDynamicallyDefineDataIdentifier: {2, s.dynamicallyDefineDataIdentifier},
		uds.SIDWriteDataByIdentifier:           echoDID,
		uds.SIDWriteMemoryByAddress:            {2, s.writeMemoryByAddress},
		uds.SIDClearDiagnosticInformation:      sidOnly,
		uds.SIDReadDTCInformation:              {2, s.readDTCInformation},
		uds.SIDInputOutputControlByIdentifier:  echoDID,
		uds.SIDRoutineControl:                  {4, s.routineControl},
		uds.SIDRequestDownload:                 {1, s.requestTransfer},
		uds.SIDRequestUpload:                   {1, s.requestTransfer},
		uds.SIDTransferData:                    {2, s.transferData},
		uds.SIDRequestTransferExit:             {1, s.requestTransferExit},
	}
}

// P2=0x0010 (16ms), P2*=0x03E8 (x10ms)
func (s *Server) diagnosticSessionControl(req *uds.Message) []byte {
	return positive(req.Data[0], req.Data[1], 0x00, 0x10, 0x03, 0xE8)
}

func (s *Server) ecuReset(req *uds.Message) []byte {
	resp := positive(req.Data[0], req.Data[1])
	if req.Data[1] == uds.ResetEnableRapidPowerShutDown {
		resp = append(resp, 0x66) // powerDownTime
	}
	return resp
}

func (s *Server) securityAccess(req *uds.Message) []byte {
	sid, sub := req.Data[0], req.Data[1]
	if s.securityKey == nil {
		resp := positive(sid, sub)
		if uds.IsRequestSeed(sub) {
			resp = append(resp, filler(2, int(sid)-1)...)
		}
		return resp
	}

	switch {
	case uds.IsRequestSeed(sub):
		seed, err := secaccess.NewSeed()
		if err != nil {
			log.Errorf("生成种子失败: %v", err)
			return negative(sid, uds.NRCConditionsNotCorrect)
		}
		s.seeds[sub] = seed
		return positive(sid, append([]byte{sub}, seed...)...)
	case uds.IsSendKey(sub):
		seed, ok := s.seeds[sub-1]
		if !ok {
			return negative(sid, uds.NRCRequestSequenceError)
		}
		delete(s.seeds, sub-1)
		ok, err := secaccess.VerifyKey(s.securityKey, seed, req.Data[2:])
		if err != nil || !ok {
			log.Warnf("安全等级 0x%02X 密钥校验失败", sub)
			return negative(sid, uds.NRCInvalidKey)
		}
		log.Infof("安全等级 0x%02X 已解锁", sub-1)
		return positive(sid, sub)
	}
	return negative(sid, uds.NRCSubFunctionNotSupported)
}

// 长度随机的填充数据，代替 ISO 15764 安全子层记录
func (s *Server) securedDataTransmission(req *uds.Message) []byte {
	n := 1 + s.rnd.Intn(32767)%50
	return positive(req.Data[0], filler(1, n-1)...)
}

func (s *Server) responseOnEvent(req *uds.Message) []byte {
	sid, sub := req.Data[0], req.Data[1]
	if sub&0x3F == uds.ROEReportActivatedEvents {
		return positive(sid, sub, 0) // numberOfActivatedEvents
	}
	if len(req.Data) < 3 {
		return negative(sid, uds.NRCIncorrectMessageLength)
	}
	return positive(sid, sub, 0, req.Data[2]) // numberOfIdentifiedEvents, eventWindowTime
}

// 每个 DID 回复 'A'..'E'
func (s *Server) readDataByIdentifier(req *uds.Message) []byte {
	sid := req.Data[0]
	resp := positive(sid)
	for i := 1; i+1 < len(req.Data); i += 2 {
		resp = append(resp, req.Data[i], req.Data[i+1], 'A', 'B', 'C', 'D', 'E')
		if len(resp) > uds.MaxDataLength {
			return negative(sid, uds.NRCResponseTooLong)
		}
	}
	return resp
}

// memoryAddressAndLength 按 addressAndLengthFormatIdentifier 解析地址与长度
func memoryAddressAndLength(data []byte) (addr, size []byte, ok bool) {
	if len(data) < 2 {
		return nil, nil, false
	}
	sizeLen := int(data[1] >> 4)
	addrLen := int(data[1] & 0x0F)
	if sizeLen == 0 || addrLen == 0 || len(data) < 2+addrLen+sizeLen {
		return nil, nil, false
	}
	return data[2 : 2+addrLen], data[2+addrLen : 2+addrLen+sizeLen], true
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func (s *Server) readMemoryByAddress(req *uds.Message) []byte {
	sid := req.Data[0]
	_, size, ok := memoryAddressAndLength(req.Data)
	if !ok {
		return negative(sid, uds.NRCIncorrectMessageLength)
	}
	n := beUint(size)
	if n+1 > uds.MaxDataLength {
		return negative(sid, uds.NRCRequestOutOfRange)
	}
	return positive(sid, filler(1, int(n))...)
}

// 车速 = 0.75*x + 30 km/h
func (s *Server) readScalingDataByIdentifier(req *uds.Message) []byte {
	return positive(req.Data[0], req.Data[1], req.Data[2],
		0x01,       // unSignedNumeric, 1 字节
		0x90,       // formula
		0x00,       // formulaIdentifier = C0 * x + C1
		0xE0, 0x4B, // C0
		0x00, 0x1E, // C1
		0xA0,       // unit/format
		0x30,       // km/h
	)
}

func (s *Server) dynamicallyDefineDataIdentifier(req *uds.Message) []byte {
	if len(req.Data) >= 4 {
		return positive(req.Data[0], req.Data[1], req.Data[2], req.Data[3])
	}
	return positive(req.Data[0], req.Data[1])
}

func (s *Server) writeMemoryByAddress(req *uds.Message) []byte {
	sid := req.Data[0]
	addr, size, ok := memoryAddressAndLength(req.Data)
	if !ok {
		return negative(sid, uds.NRCIncorrectMessageLength)
	}
	resp := positive(sid, req.Data[1])
	resp = append(resp, addr...)
	return append(resp, size...)
}

// 本机不保存 DTC：报告状态可用性掩码和空列表
func (s *Server) readDTCInformation(req *uds.Message) []byte {
	sid, sub := req.Data[0], req.Data[1]
	const availabilityMask = 0xFF
	switch sub {
	case uds.RDTCINumberOfDTCByStatusMask, uds.RDTCINumberOfDTCBySeverityMaskRecord,
		uds.RDTCINumberOfMirrorMemoryDTCByStatusMask, uds.RDTCINumberOfEmissionsOBDDTCByStatusMask:
		return positive(sid, sub, availabilityMask, 0x01, 0x00, 0x00) // ISO14229-1 DTC 格式，数量 0
	case uds.RDTCIDTCByStatusMask, uds.RDTCISupportedDTC, uds.RDTCIMirrorMemoryDTCByStatusMask,
		uds.RDTCIEmissionsOBDDTCByStatusMask, uds.RDTCIDTCWithPermanentStatus,
		uds.RDTCIFirstTestFailedDTC, uds.RDTCIFirstConfirmedDTC,
		uds.RDTCIMostRecentTestFailedDTC, uds.RDTCIMostRecentConfirmedDTC:
		return positive(sid, sub, availabilityMask)
	}
	return positive(sid, sub)
}

func (s *Server) routineControl(req *uds.Message) []byte {
	return positive(req.Data[0], req.Data[1], req.Data[2], req.Data[3])
}

// maxNumberOfBlockLength = 0x0022：32 字节数据加 SID 和块序号
func (s *Server) requestTransfer(req *uds.Message) []byte {
	return positive(req.Data[0], 0x20, 0x00, 32+2)
}

// transferData 回复块序号与数据校验和。功能寻址时先回 0x78 并模拟耗时处理。
func (s *Server) transferData(req *uds.Message) []byte {
	sid := req.Data[0]
	if req.NAI.TAType == uds.Functional {
		err := s.reply(req, negative(sid, uds.NRCResponsePending))
		log.Debugf("   ...发送 NRC Response Pending: %v", uds.StatusOf(err))
		log.Debugf("   ...模拟处理中 (等待 ~%v)", s.pendingDelay)
		time.Sleep(s.pendingDelay)
	}
	var checksum byte
	for _, b := range req.Data[2:] {
		checksum += b
	}
	log.Debugf("Checksum = 0x%02X", checksum)
	return positive(sid, req.Data[1], checksum)
}

func (s *Server) requestTransferExit(req *uds.Message) []byte {
	return positive(req.Data[0], req.Data[1:]...)
}

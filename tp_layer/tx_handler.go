package tp_layer

import "time"

// initiateTx starts the transmission of a new message.
// It is called when data arrives on txDataChan and state is Idle.
func (t *Transport) initiateTx(req txRequest, txChan chan<- CanMessage) {
	t.txPayload = req.data
	t.txAddrType = req.addrType
	t.txID = req.id
	t.txBuffer = req.data

	maxLen := t.config.maxDataLength() - len(t.address.TxPayloadPrefix)
	sfPciSize := 1
	if len(req.data) > 7 {
		sfPciSize = 2
	}
	// 经典CAN不允许单帧长度转义
	singleFrame := len(req.data)+sfPciSize <= maxLen && (t.config.CanFD || sfPciSize == 1)

	if singleFrame {
		data, err := createSingleFramePayload(req.data, maxLen)
		if err != nil {
			t.fireError(newIsoTpError(NResultError, "Error creating SF: %v", err))
			t.finishTx(NResultError)
			return
		}
		if !t.transmit(t.makeTxMsg(data, req.addrType), txChan, t.config.TimeoutN_As) {
			t.finishTx(NResultTimeoutA)
			return
		}
		t.finishTx(NResultOK)
		return
	}

	if req.addrType == Functional || t.address.ListenOnly {
		t.fireError(newIsoTpError(NResultError, "功能寻址报文 (%d 字节) 无法放入单帧", len(req.data)))
		t.finishTx(NResultError)
		return
	}

	ffPciSize := 2
	if len(req.data) > 4095 {
		ffPciSize = 6
	}
	chunkSize := maxLen - ffPciSize
	firstChunk := t.txBuffer[:chunkSize]
	t.txBuffer = t.txBuffer[chunkSize:]

	data, err := createFirstFramePayload(firstChunk, len(req.data), maxLen)
	if err != nil {
		t.fireError(newIsoTpError(NResultError, "Error creating FF: %v", err))
		t.finishTx(NResultError)
		return
	}

	if !t.transmit(t.makeTxMsg(data, Physical), txChan, t.config.TimeoutN_As) {
		t.finishTx(NResultTimeoutA)
		return
	}
	t.txSeqNum = 1
	t.txState = StateWaitFC
	t.emit(Event{Kind: EventTxStarted, Length: len(req.data), Result: NResultOK, TxID: req.id})
	t.resetTxFCTimer()
}

func (t *Transport) handleTxFlowControl(fc *FlowControlFrame, txChan chan<- CanMessage) {
	if t.txState != StateWaitFC {
		// 非预期的流控帧 (迟到或主动发送)，忽略
		return
	}

	switch fc.FlowStatus {
	case FlowStatusContinueToSend:
		stopTimer(t.timerRxFC)
		t.wftCounter = 0
		t.remoteBlocksize = fc.BlockSize
		t.remoteStmin = fc.STmin
		t.txState = StateTransmit
		t.txBlockCounter = 0
		// 流控之后第一帧连续帧立即发送
		t.resetTxSTminTimer(0)

	case FlowStatusWait:
		t.wftCounter++
		if t.wftCounter > t.config.WftMax {
			t.fireError(newIsoTpError(NResultWFTOverrun, "错误：等待帧(Wait Frame)数量超出最大限制 %d", t.config.WftMax))
			t.finishTx(NResultWFTOverrun)
			return
		}
		t.resetTxFCTimer()

	case FlowStatusOverflow:
		t.fireError(newIsoTpError(NResultBufferOverflow, "错误：对方缓冲区溢出，停止发送"))
		t.finishTx(NResultBufferOverflow)

	default:
		t.fireError(newIsoTpError(NResultInvalidFS, "错误：无效的流控状态 0x%X", byte(fc.FlowStatus)))
		t.finishTx(NResultInvalidFS)
	}
}

// handleTxTransmit sends the next Consecutive Frame.
// It is called when STmin timer expires.
func (t *Transport) handleTxTransmit(txChan chan<- CanMessage) {
	if len(t.txBuffer) == 0 {
		t.finishTx(NResultOK)
		return
	}

	chunkSize := t.config.maxDataLength() - len(t.address.TxPayloadPrefix) - 1 // CF PCI=1
	var chunk []byte
	if len(t.txBuffer) > chunkSize {
		chunk = t.txBuffer[:chunkSize]
		t.txBuffer = t.txBuffer[chunkSize:]
	} else {
		chunk = t.txBuffer
		t.txBuffer = nil
	}

	data, err := createConsecutiveFramePayload(chunk, t.txSeqNum)
	if err != nil {
		t.fireError(newIsoTpError(NResultError, "Error creating CF: %v", err))
		t.finishTx(NResultError)
		return
	}

	t.txSeqNum = (t.txSeqNum + 1) % 16
	t.txBlockCounter++

	if !t.transmit(t.makeTxMsg(data, Physical), txChan, t.config.TimeoutN_As) {
		t.finishTx(NResultTimeoutA)
		return
	}

	if len(t.txBuffer) == 0 {
		t.finishTx(NResultOK)
		return
	}

	if t.remoteBlocksize > 0 && t.txBlockCounter >= t.remoteBlocksize {
		// 块发送完毕，等待下一个流控帧
		t.txState = StateWaitFC
		t.resetTxFCTimer()
		return
	}
	t.resetTxSTminTimer(t.remoteStmin)
}

func (t *Transport) resetTxFCTimer() {
	resetTimer(t.timerRxFC, t.config.TimeoutN_Bs)
}

func (t *Transport) resetTxSTminTimer(d time.Duration) {
	resetTimer(t.timerTxSTmin, d)
}

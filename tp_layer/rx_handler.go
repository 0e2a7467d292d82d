package tp_layer

// ProcessRx 处理接收到的单个CAN报文
func (t *Transport) ProcessRx(msg CanMessage, txChan chan<- CanMessage) {
	if !t.address.IsForMe(&msg) {
		return
	}

	frame, err := ParseFrame(&msg, t.address.RxPrefixSize)
	if err != nil {
		t.fireError(err)
		return
	}

	switch f := frame.(type) {
	case *FlowControlFrame:
		// 收到流控帧说明我们是发送方
		t.handleTxFlowControl(f, txChan)

	case *SingleFrame:
		t.handleRxSingleFrame(f)

	case *FirstFrame:
		t.handleRxFirstFrame(f, txChan)

	case *ConsecutiveFrame:
		t.handleRxConsecutiveFrame(f, txChan)
	}
}

// abortReception 上报被新帧打断的接收。
func (t *Transport) abortReception() {
	if t.rxState == StateIdle {
		return
	}
	t.fireError(newIsoTpError(NResultUnexpectedPDU, "警告：在多帧接收过程中被新的单帧/首帧打断"))
	t.emit(Event{Kind: EventRxDone, Data: t.rxBuffer, Length: t.rxFrameLen, Result: NResultUnexpectedPDU})
	t.stopReceiving()
}

func (t *Transport) handleRxSingleFrame(f *SingleFrame) {
	t.abortReception()

	data := append([]byte(nil), f.Data...)
	t.emit(Event{Kind: EventRxDone, Data: data, Length: len(data), Result: NResultOK})
}

func (t *Transport) handleRxFirstFrame(f *FirstFrame, txChan chan<- CanMessage) {
	if t.address.ListenOnly {
		t.fireError(newIsoTpError(NResultUnexpectedPDU, "监听链路 (RxID=0x%X) 不接受多帧报文", t.address.RxID))
		return
	}
	t.abortReception()

	if t.config.MaxFrameSize > 0 && f.TotalSize > t.config.MaxFrameSize {
		t.sendFlowControl(FlowStatusOverflow, txChan)
		t.emit(Event{Kind: EventRxDone, Length: f.TotalSize, Result: NResultBufferOverflow})
		return
	}

	t.rxFrameLen = f.TotalSize
	t.rxBuffer = make([]byte, 0, f.TotalSize)
	t.rxBuffer = append(t.rxBuffer, f.Data...)
	t.emit(Event{Kind: EventRxStarted, Length: f.TotalSize, Result: NResultOK})

	if len(t.rxBuffer) >= t.rxFrameLen {
		t.completeReception()
		return
	}
	t.rxState = StateWaitCF
	t.rxSeqNum = 1
	t.sendFlowControl(FlowStatusContinueToSend, txChan)
	t.resetRxTimer()
}

func (t *Transport) handleRxConsecutiveFrame(f *ConsecutiveFrame, txChan chan<- CanMessage) {
	if t.rxState != StateWaitCF {
		// 忽略意外的连续帧
		return
	}

	if f.SequenceNumber != t.rxSeqNum {
		t.fireError(newIsoTpError(NResultWrongSN, "错误：序列号不匹配。期望: %d,收到: %d", t.rxSeqNum, f.SequenceNumber))
		t.emit(Event{Kind: EventRxDone, Data: t.rxBuffer, Length: t.rxFrameLen, Result: NResultWrongSN})
		t.stopReceiving()
		return
	}

	t.resetRxTimer()
	t.rxSeqNum = (t.rxSeqNum + 1) % 16

	bytesToReceive := t.rxFrameLen - len(t.rxBuffer)
	if len(f.Data) > bytesToReceive {
		t.rxBuffer = append(t.rxBuffer, f.Data[:bytesToReceive]...)
	} else {
		t.rxBuffer = append(t.rxBuffer, f.Data...)
	}

	if len(t.rxBuffer) >= t.rxFrameLen {
		t.completeReception()
		return
	}

	t.rxBlockCounter++
	if t.config.BlockSize > 0 && t.rxBlockCounter >= t.config.BlockSize {
		t.rxBlockCounter = 0
		t.sendFlowControl(FlowStatusContinueToSend, txChan)
		t.resetRxTimer()
	}
}

func (t *Transport) completeReception() {
	completed := make([]byte, len(t.rxBuffer))
	copy(completed, t.rxBuffer)
	t.emit(Event{Kind: EventRxDone, Data: completed, Length: len(completed), Result: NResultOK})
	t.stopReceiving()
}

func (t *Transport) resetRxTimer() {
	resetTimer(t.timerRxCF, t.config.TimeoutN_Cr)
}

func (t *Transport) sendFlowControl(status FlowStatus, txChan chan<- CanMessage) {
	payload := createFlowControlPayload(status, t.config.BlockSize, t.config.StMin)
	if !t.transmit(t.makeTxMsg(payload, Physical), txChan, t.config.TimeoutN_Ar) {
		t.fireError(newIsoTpError(NResultTimeoutA, "流控帧发送超时 (N_Ar)"))
	}
}

package uds

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsengine/tp_layer"
)

func TestMessage_Predicates(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		valid    bool
		negative bool
		sid      byte
	}{
		{"正响应", []byte{0x50, 0x03}, true, false, 0x50},
		{"负响应", []byte{0x7F, 0x22, 0x31}, true, true, 0x22},
		{"请求", []byte{0x10, 0x03}, false, false, 0x10},
		{"空消息", nil, false, false, 0x00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Data: tt.data}
			assert.Equal(t, tt.valid, m.IsValidResponse())
			assert.Equal(t, tt.negative, m.IsNegativeResponse())
			assert.Equal(t, tt.sid, m.ServiceID())
		})
	}
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name     string
		msg      *Message
		expected byte
		want     ServiceResult
	}{
		{"确认", &Message{Data: []byte{0x50, 0x01}}, SIDDiagnosticSessionControl, ServiceResult{Kind: ResultConfirmed}},
		{"负响应", &Message{Data: []byte{0x7F, 0x10, 0x12}}, SIDDiagnosticSessionControl,
			ServiceResult{Kind: ResultNegativeResponseCode, NRC: 0x12}},
		{"网络错误", &Message{Result: tp_layer.NResultTimeoutCr, Data: []byte{0x50}}, SIDDiagnosticSessionControl,
			ServiceResult{Kind: ResultNetworkError}},
		{"负响应服务不匹配", &Message{Data: []byte{0x7F, 0x22, 0x31}}, SIDDiagnosticSessionControl,
			ServiceResult{Kind: ResultServiceMismatch}},
		{"服务不匹配", &Message{Data: []byte{0x62, 0xF1}}, SIDDiagnosticSessionControl, ServiceResult{Kind: ResultServiceMismatch}},
		{"非响应", &Message{Data: []byte{0x10, 0x01}}, SIDDiagnosticSessionControl, ServiceResult{Kind: ResultGenericError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckResponse(tt.msg, tt.expected))
		})
	}
}

func TestMessage_BinaryRoundTrip(t *testing.T) {
	in := &Message{
		NAI:                NetAddrInfo{SA: AddrTestEquipment, TA: AddrECU1, TAType: Physical, Protocol: ProtocolISO15765_2_11B},
		Result:             tp_layer.NResultWrongSN,
		NoPositiveResponse: true,
		Data:               []byte{0x3E, 0x80},
		Type:               MessageConfirm,
	}
	b, err := in.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, b, recordHeaderSize+2)

	var out Message
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, in, &out)

	assert.ErrorIs(t, out.UnmarshalBinary(b[:5]), ErrShortRecord)
	assert.ErrorIs(t, out.UnmarshalBinary(b[:recordHeaderSize+1]), ErrShortRecord)
}

func TestStatus(t *testing.T) {
	err := fmt.Errorf("写入失败: %w", StatusWrongParameter)
	assert.ErrorIs(t, err, StatusWrongParameter)
	assert.Equal(t, StatusWrongParameter, StatusOf(err))
	assert.Equal(t, StatusOK, StatusOf(nil))

	can := CANError(0x20)
	assert.True(t, can.IsCANError())
	assert.True(t, errors.Is(can, StatusCANError))
	assert.False(t, errors.Is(can, StatusTimeout))
	assert.Equal(t, CANError(uint32(tp_layer.NResultTimeoutA)), StatusOf(tp_layer.NResultTimeoutA))
}

func TestUDSError(t *testing.T) {
	e := NewUDSError(&Message{Data: []byte{0x7F, 0x27, 0x35}})
	assert.Equal(t, byte(0x27), e.ServiceID)
	assert.Equal(t, byte(NRCInvalidKey), e.NRC)
	assert.Equal(t, "无效密钥", e.Message)
	assert.False(t, e.IsRetryable())
	assert.True(t, (&UDSError{NRC: NRCBusyRepeatRequest}).IsRetryable())
	assert.Equal(t, "未知错误", NRCDescription(0x01))
}

package tp_layer

import "fmt"

// NResult 是 ISO 15765-2 网络层的结果码 (N_Result)。
type NResult uint8

const (
	NResultOK NResult = iota
	NResultTimeoutA
	NResultTimeoutBs
	NResultTimeoutCr
	NResultWrongSN
	NResultInvalidFS
	NResultUnexpectedPDU
	NResultWFTOverrun
	NResultBufferOverflow
	NResultError
)

var nResultNames = [...]string{
	NResultOK:             "N_OK",
	NResultTimeoutA:       "N_TIMEOUT_A",
	NResultTimeoutBs:      "N_TIMEOUT_Bs",
	NResultTimeoutCr:      "N_TIMEOUT_Cr",
	NResultWrongSN:        "N_WRONG_SN",
	NResultInvalidFS:      "N_INVALID_FS",
	NResultUnexpectedPDU:  "N_UNEXP_PDU",
	NResultWFTOverrun:     "N_WFT_OVRN",
	NResultBufferOverflow: "N_BUFFER_OVFLW",
	NResultError:          "N_ERROR",
}

func (r NResult) String() string {
	if int(r) < len(nResultNames) {
		return nResultNames[r]
	}
	return fmt.Sprintf("N_Result(%d)", uint8(r))
}

// Error 使 NResult 可以直接作为 error 返回，NResultOK 不应被当作错误使用。
func (r NResult) Error() string {
	return "ISO-TP " + r.String()
}

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// IsoTpError 携带导致错误的 N_Result 以及可选的描述。
type IsoTpError struct {
	Result NResult
	msg    string
}

func newIsoTpError(result NResult, format string, args ...any) *IsoTpError {
	return &IsoTpError{Result: result, msg: fmt.Sprintf(format, args...)}
}

func (e *IsoTpError) Error() string {
	return messageOrDefault(e.msg, e.Result.Error())
}

func (e *IsoTpError) Unwrap() error {
	return e.Result
}

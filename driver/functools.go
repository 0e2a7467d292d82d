package driver

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// SplitBlock 按 blockSize 把数据切成若干块，最后一块可能不足 blockSize
func SplitBlock(data []byte, blockSize int) [][]byte {
	if blockSize <= 0 {
		return nil
	}
	var blocks [][]byte
	for i := 0; i < len(data); i += blockSize {
		end := i + blockSize
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, data[i:end])
	}
	return blocks
}

// BigToInt 把最多4字节的大端数据转换为整数，不足4字节时高位补零
func BigToInt(buf []uint8) uint32 {
	if len(buf) < 4 {
		padded := make([]byte, 4)
		copy(padded[4-len(buf):], buf)
		buf = padded
	}
	return binary.BigEndian.Uint32(buf[len(buf)-4:])
}

// HexStringToByteSlice 解析32个十六进制字符为16字节 (AES-128 密钥)
func HexStringToByteSlice(hexStr string) ([]byte, error) {
	if len(hexStr) != 32 {
		return nil, fmt.Errorf("input string must be 32 characters long")
	}

	result := make([]byte, 16)
	for i := 0; i < 16; i++ {
		byteStr := hexStr[i*2 : i*2+2]
		val, err := strconv.ParseUint(byteStr, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex string at position %d: %v", i, err)
		}
		result[i] = byte(val)
	}
	return result, nil
}

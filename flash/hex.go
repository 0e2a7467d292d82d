package flash

import (
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"
)

// Segment 一段连续的待下载数据
type Segment struct {
	Address uint32
	Data    []byte
}

func (s Segment) String() string {
	return fmt.Sprintf("0x%08X+%d", s.Address, len(s.Data))
}

// LoadHex 解析 Intel HEX 文件，返回按地址排列的数据段
func LoadHex(r io.Reader) ([]Segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("解析 HEX 文件: %w", err)
	}
	var out []Segment
	for _, seg := range mem.GetDataSegments() {
		out = append(out, Segment{Address: seg.Address, Data: seg.Data})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("HEX 文件不包含数据")
	}
	return out, nil
}

// WriteHex 把数据段写成 Intel HEX，每行 16 字节
func WriteHex(w io.Writer, segments []Segment) error {
	mem := gohex.NewMemory()
	for _, s := range segments {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return fmt.Errorf("数据段 %s: %w", s, err)
		}
	}
	return mem.DumpIntelHex(w, 16)
}

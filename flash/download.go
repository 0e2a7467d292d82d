// Package flash 通过 RequestDownload / TransferData / RequestTransferExit 把镜像写入 ECU。
package flash

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/udsengine/driver"
	"github.com/LoveWonYoung/udsengine/uds"
)

var ErrBlockSize = errors.New("flash: 无效的 maxNumberOfBlockLength")

// Requester 发送请求并返回校验过的正响应，*udsclient.Client 满足该接口
type Requester interface {
	Request(req *uds.Message) (*uds.Message, error)
}

// Report 一次下载的统计
type Report struct {
	Segments           int
	Blocks             int
	Bytes              int
	ChecksumMismatches int
	SequenceMismatches int
	Duration           time.Duration
}

func (r Report) Failures() int {
	return r.ChecksumMismatches + r.SequenceMismatches
}

func (r Report) String() string {
	return fmt.Sprintf("段=%d 块=%d 字节=%d 校验和错误=%d 块序号错误=%d 耗时=%v",
		r.Segments, r.Blocks, r.Bytes, r.ChecksumMismatches, r.SequenceMismatches, r.Duration)
}

// ParseMaxBlockSize 从 RequestDownload 正响应取 maxNumberOfBlockLength
func ParseMaxBlockSize(resp *uds.Message) (int, error) {
	if resp == nil || len(resp.Data) < 2 {
		return 0, ErrBlockSize
	}
	n := int(resp.Data[1] >> 4)
	if n == 0 || n > 4 || len(resp.Data) < 2+n {
		return 0, fmt.Errorf("%w: 长度字段 %d", ErrBlockSize, n)
	}
	return int(driver.BigToInt(resp.Data[2 : 2+n])), nil
}

// Checksum 按字节求和 (模 256)
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Downloader 对一个 ECU 执行下载流程
type Downloader struct {
	req Requester
	nai uds.NetAddrInfo

	Compression byte
	Encrypting  byte
	AddressLen  int
	SizeLen     int
}

func NewDownloader(req Requester, nai uds.NetAddrInfo) *Downloader {
	return &Downloader{req: req, nai: nai, AddressLen: 4, SizeLen: 4}
}

// Download 下载一段数据。校验和或块序号不一致只记入报告，不中断下载。
func (d *Downloader) Download(ctx context.Context, seg Segment) (report Report, err error) {
	start := time.Now()
	report.Segments = 1
	defer func() { report.Duration = time.Since(start) }()

	log.Infof("*** RequestDownload %s ***", seg)
	req, err := uds.NewRequestDownload(d.nai, d.Compression, d.Encrypting,
		uds.Uint32Bytes(seg.Address, d.AddressLen), uds.Uint32Bytes(uint32(len(seg.Data)), d.SizeLen))
	if err != nil {
		return report, err
	}
	resp, err := d.req.Request(req)
	if err != nil {
		return report, fmt.Errorf("RequestDownload: %w", err)
	}
	maxBlock, err := ParseMaxBlockSize(resp)
	if err != nil {
		return report, err
	}
	// 块长度包含 SID 和块序号
	chunk := maxBlock - 2
	if chunk <= 0 {
		return report, fmt.Errorf("%w: %d", ErrBlockSize, maxBlock)
	}
	log.Infof("Max Block Size: %d", maxBlock)

	for i, block := range driver.SplitBlock(seg.Data, chunk) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		seq := byte((i + 1) & 0xFF)
		if err := d.transfer(seq, block, &report); err != nil {
			return report, err
		}
	}

	exit, err := uds.NewRequestTransferExit(d.nai, nil)
	if err != nil {
		return report, err
	}
	if _, err := d.req.Request(exit); err != nil {
		return report, fmt.Errorf("RequestTransferExit: %w", err)
	}
	return report, nil
}

func (d *Downloader) transfer(seq byte, block []byte, report *Report) error {
	req, err := uds.NewTransferData(d.nai, seq, block)
	if err != nil {
		return err
	}
	resp, err := d.req.Request(req)
	if err != nil {
		return fmt.Errorf("TransferData 块 0x%02X: %w", seq, err)
	}
	report.Blocks++
	report.Bytes += len(block)

	if len(resp.Data) < 2 || resp.Data[1] != seq {
		report.SequenceMismatches++
		log.Warnf("blockIndex does not match 0x%02X", seq)
	}
	if len(resp.Data) >= 3 {
		if sum := Checksum(block); sum != resp.Data[2] {
			report.ChecksumMismatches++
			log.Warnf("Checksum does not match 0x%02X!=0x%02X", sum, resp.Data[2])
		} else {
			log.Debugf("Checksum matches 0x%02X", sum)
		}
	}
	return nil
}

// DownloadAll 依次下载全部数据段
func (d *Downloader) DownloadAll(ctx context.Context, segments []Segment) (Report, error) {
	var total Report
	start := time.Now()
	for _, seg := range segments {
		r, err := d.Download(ctx, seg)
		total.Segments += r.Segments
		total.Blocks += r.Blocks
		total.Bytes += r.Bytes
		total.ChecksumMismatches += r.ChecksumMismatches
		total.SequenceMismatches += r.SequenceMismatches
		if err != nil {
			total.Duration = time.Since(start)
			return total, fmt.Errorf("数据段 %s: %w", seg, err)
		}
	}
	total.Duration = time.Since(start)
	return total, nil
}

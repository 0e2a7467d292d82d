//go:build windows && (amd64 || 386)

package driver

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

var (
	libusbDLL = windows.NewLazyDLL(toomossDLLDir + "libusb-1.0.dll")
	usbDLL    = windows.NewLazyDLL(toomossDLLDir + "USB2XXX.dll")

	procScanDevice  = usbDLL.NewProc("USB_ScanDevice")
	procOpenDevice  = usbDLL.NewProc("USB_OpenDevice")
	procCloseDevice = usbDLL.NewProc("USB_CloseDevice")

	procCANFDInit        = usbDLL.NewProc("CANFD_Init")
	procCANFDStartGetMsg = usbDLL.NewProc("CANFD_StartGetMsg")
	procCANFDGetMsg      = usbDLL.NewProc("CANFD_GetMsg")
	procCANFDSendMsg     = usbDLL.NewProc("CANFD_SendMsg")
	procCANFDSpeedArg    = usbDLL.NewProc("CANFD_GetCANSpeedArg")

	loadOnce sync.Once
	loadErr  error
)

// loadToomoss 加载 USB2XXX 动态库，libusb 必须先于 USB2XXX 加载
func loadToomoss() error {
	loadOnce.Do(func() {
		if err := libusbDLL.Load(); err != nil {
			loadErr = fmt.Errorf("加载 libusb 失败: %w", err)
			return
		}
		if err := usbDLL.Load(); err != nil {
			loadErr = fmt.Errorf("加载 USB2XXX 失败: %w", err)
			return
		}
		log.Debugf("已加载 %s 下的 Toomoss 动态库", toomossDLLDir)
	})
	return loadErr
}

// usbDevice 是一个已扫描到的 Toomoss USB 适配器
type usbDevice struct {
	handles [10]int32
	index   int
}

func (d *usbDevice) handle() uintptr { return uintptr(d.handles[d.index]) }

func (d *usbDevice) scan() error {
	n, _, _ := procScanDevice.Call(uintptr(unsafe.Pointer(&d.handles[0])))
	if int32(n) <= d.index {
		return errors.New("未找到 Toomoss 设备")
	}
	return nil
}

func (d *usbDevice) open() error {
	ret, _, _ := procOpenDevice.Call(d.handle())
	if int32(ret) < 1 {
		return fmt.Errorf("打开设备 0x%08X 失败", d.handles[d.index])
	}
	return nil
}

func (d *usbDevice) close() {
	if ret, _, _ := procCloseDevice.Call(d.handle()); int32(ret) < 1 {
		log.Warnf("关闭设备 0x%08X 失败", d.handles[d.index])
	}
}

package channel

import (
	"fmt"
	"sync"

	"github.com/LoveWonYoung/udsengine/driver"
	"github.com/LoveWonYoung/udsengine/uds"
)

var (
	registryMu sync.Mutex
	registry   = make(map[Handle]*Channel)
)

// Initialize 打开通道，同一 handle 只能打开一次
func Initialize(h Handle, dev driver.CANDriver, cfg Config) (*Channel, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[h]; ok {
		return nil, fmt.Errorf("通道 %d: %w", h, uds.StatusAlreadyInitialized)
	}
	c, err := open(h, dev, cfg)
	if err != nil {
		return nil, err
	}
	registry[h] = c
	return c, nil
}

// Uninitialize 关闭通道并释放驱动
func Uninitialize(h Handle) error {
	registryMu.Lock()
	c, ok := registry[h]
	delete(registry, h)
	registryMu.Unlock()
	if !ok {
		return fmt.Errorf("通道 %d: %w", h, uds.StatusNotInitialized)
	}
	c.close()
	return nil
}

// Lookup 返回已打开的通道
func Lookup(h Handle) (*Channel, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	c, ok := registry[h]
	if !ok {
		return nil, fmt.Errorf("通道 %d: %w", h, uds.StatusNotInitialized)
	}
	return c, nil
}

func SetValue(h Handle, p Parameter, value []byte) error {
	c, err := Lookup(h)
	if err != nil {
		return err
	}
	return c.SetValue(p, value)
}

func GetValue(h Handle, p Parameter) ([]byte, error) {
	c, err := Lookup(h)
	if err != nil {
		return nil, err
	}
	return c.GetValue(p)
}

func Read(h Handle) (*uds.Message, error) {
	c, err := Lookup(h)
	if err != nil {
		return nil, err
	}
	return c.Read()
}

func Write(h Handle, msg *uds.Message) error {
	c, err := Lookup(h)
	if err != nil {
		return err
	}
	return c.Write(msg)
}

// Package secaccess 实现 SecurityAccess (0x27) 的种子/密钥算法：key = AES-CMAC(aesKey, seed)。
package secaccess

import (
	"crypto/aes"
	"crypto/rand"
	"errors"
	"fmt"

	cmac "github.com/chmike/cmac-go"
)

// SeedLength 服务器生成的种子长度，与 AES 分组长度一致
const SeedLength = aes.BlockSize

var ErrEmptySeed = errors.New("secaccess: 种子为空")

// ComputeKey 由种子计算密钥
func ComputeKey(aesKey, seed []byte) ([]byte, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	cm, err := cmac.New(aes.NewCipher, aesKey)
	if err != nil {
		return nil, fmt.Errorf("secaccess: AES 密钥无效: %w", err)
	}
	cm.Write(seed)
	return cm.Sum(nil), nil
}

// VerifyKey 常数时间比较客户端送来的密钥
func VerifyKey(aesKey, seed, key []byte) (bool, error) {
	want, err := ComputeKey(aesKey, seed)
	if err != nil {
		return false, err
	}
	return cmac.Equal(want, key), nil
}

// NewSeed 生成随机种子，全零种子在 ISO 14229 中表示"已解锁"，因此避开
func NewSeed() ([]byte, error) {
	seed := make([]byte, SeedLength)
	for {
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
		for _, b := range seed {
			if b != 0 {
				return seed, nil
			}
		}
	}
}

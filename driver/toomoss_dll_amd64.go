//go:build windows && amd64

package driver

const toomossDLLDir = `.\DLLs\windows_x64\`

//go:build !linux

package protocols

import (
	"os"
	"time"
)

func changeTime(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}

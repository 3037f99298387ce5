//go:build linux

package protocols

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// changeTime reads st_ctime from the stat data info already carries, and only
// stats fullPath again when info came from somewhere without it.
func changeTime(fullPath string, info os.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Ctim.Unix())
	}
	var st unix.Stat_t
	if err := unix.Lstat(fullPath, &st); err != nil {
		return info.ModTime()
	}
	return time.Unix(st.Ctim.Unix())
}

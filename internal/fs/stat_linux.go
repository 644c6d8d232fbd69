//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"
)

// changeTime extracts the inode change time. Birth time is not available on
// most Linux filesystems, so ctime stands in for the creation time.
func changeTime(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(int64(stat.Ctim.Sec), int64(stat.Ctim.Nsec))
}

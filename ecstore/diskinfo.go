package ecstore

import "golang.org/x/sys/unix"

// freeSpace reports the free bytes available on the filesystem holding
// path, the same Statfs-based approach as storage/filestore/dir.go's
// DiskInfo.
func freeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, Error.Wrap(err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

//go:build !unix

package storage

// lockFile is in-process only here; the fileStore mutex already covers that.
// TODO: LockFileEx via golang.org/x/sys/windows for cross-process writers.
func lockFile(string) (func(), error) {
	return func() {}, nil
}

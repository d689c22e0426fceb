//go:build unix

package sys

func isSyncDirUnsupported(err error) bool {
	return false
}

//go:build !unix

package sys

// Directory handles cannot be fsynced on these platforms.
func isSyncDirUnsupported(err error) bool {
	return err != nil
}

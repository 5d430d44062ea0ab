package checkpoint

import "os"

// removeFile deletes path, ignoring any error; retention cleanup
// is best-effort and must never fail the checkpoint that triggered it.
func removeFile(path string) {
	_ = os.Remove(path)
}

package integration

import (
	"os"
	"path/filepath"
	"strconv"
)

// containersAvailable reports whether a Docker or Podman socket is present,
// so container-backed integration tests can skip cleanly in environments
// without a container runtime.
func containersAvailable() bool {
	if _, err := os.Stat("/var/run/docker.sock"); err == nil {
		return true
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		if uid := os.Getuid(); uid > 0 {
			candidate := "/run/user/" + strconv.Itoa(uid) + "/podman/podman.sock"
			if _, err := os.Stat(candidate); err == nil {
				return true
			}
		}
	} else {
		candidate := filepath.Join(runtimeDir, "podman", "podman.sock")
		if _, err := os.Stat(candidate); err == nil {
			return true
		}
	}
	return false
}

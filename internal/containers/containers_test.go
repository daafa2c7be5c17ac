package containers

import "testing"

func TestSkipUnlessDocker_UnreachableDaemon(t *testing.T) {
	t.Setenv("DOCKER_HOST", "unix:///nonexistent/docker.sock")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SKIP_INTEGRATION", "")

	reached := false
	t.Run("docker check", func(t *testing.T) {
		skipUnlessDocker(t)
		reached = true
	})
	if !reached {
		t.Log("docker unavailable: integration tests skip instead of panicking")
	}
}

func TestSkipUnlessDocker_Disabled(t *testing.T) {
	t.Setenv("SKIP_INTEGRATION", "1")

	reached := false
	t.Run("docker check", func(t *testing.T) {
		skipUnlessDocker(t)
		reached = true
	})
	if reached {
		t.Error("SKIP_INTEGRATION should skip before touching docker")
	}
}

package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oi-sh/oi/internal/config"
)

func TestParseRepo(t *testing.T) {
	repo, err := parseRepo("acme/api")
	require.NoError(t, err)
	assert.Equal(t, "acme", repo.Owner)
	assert.Equal(t, "api", repo.Name)

	for _, bad := range []string{"", "acme", "acme/", "/api"} {
		_, err := parseRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-10", truncate("exactly-10", 10))
	assert.Equal(t, "longer th…", truncate("longer than ten", 10))
	assert.Equal(t, "héllo wo…", truncate("héllo world über", 9))
}

func TestOrchestratorConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Model = "sonnet"
	cfg.PlannerModel = "opus"
	cfg.MaxParallel = 6
	cfg.PollInterval = 2 * time.Second

	oc := orchestratorConfig(cfg, "", 0)
	assert.Equal(t, "sonnet", oc.Model)
	assert.Equal(t, "opus", oc.PlannerModel)
	assert.Equal(t, 6, oc.MaxParallel)
	assert.Equal(t, 2*time.Second, oc.PollInterval)

	// Flag overrides win, and a model override covers the planner too.
	oc = orchestratorConfig(cfg, "haiku", 2)
	assert.Equal(t, "haiku", oc.Model)
	assert.Equal(t, "haiku", oc.PlannerModel)
	assert.Equal(t, 2, oc.MaxParallel)
}

package group

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupStatusDefaultIsModeled(t *testing.T) {
	ddl, err := os.ReadFile("../../migrations/002_characters.sql")
	require.NoError(t, err)

	start := strings.Index(string(ddl), "CREATE TABLE IF NOT EXISTS groups (")
	require.GreaterOrEqual(t, start, 0)
	block := string(ddl)[start:]
	block = block[:strings.Index(block, ");")]

	m := regexp.MustCompile(`(?m)^\s+status\s+VARCHAR\(\d+\) NOT NULL DEFAULT '([a-z_]+)'`).
		FindStringSubmatch(block)
	require.NotNil(t, m, "groups.status default not found")
	assert.Contains(t, []string{string(StatusActive), string(StatusDissolved)}, m[1],
		"groups.status defaults to unmodeled status %q", m[1])
}

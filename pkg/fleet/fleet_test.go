package fleet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memberScript = `
!: BOLT 3.0
C: RESET
S: SUCCESS {}
`

func writeScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(memberScript), 0o644))
	return path
}

func TestLoadFleetConfig(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "core1.script")
	writeScript(t, dir, "core2.script")

	yamlDoc := `
members:
  - name: core1
    script: core1.script
    port: 17601
  - name: core2
    script: core2.script
    port: 17602
`
	scripts, err := LoadRelativeTo(strings.NewReader(yamlDoc), dir)
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, 17601, scripts[0].Port)
	assert.Equal(t, 17602, scripts[1].Port)
}

func TestLoadFleetConfigMissingScriptPath(t *testing.T) {
	_, err := Load(strings.NewReader(`
members:
  - name: bad
    port: 1
`))
	require.Error(t, err)
}

func TestLoadFleetConfigEmpty(t *testing.T) {
	_, err := Load(strings.NewReader(`members: []`))
	require.Error(t, err)
}

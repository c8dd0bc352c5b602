package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnv(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	assert.NoError(loadEnv(filepath.Join(dir, "missing.env")))

	name := filepath.Join(dir, ".env")
	err := os.WriteFile(name, []byte("RAGBLADE_LOADENV_TOKEN=secret\n"), 0o600)
	if !assert.NoError(err) {
		return
	}
	t.Cleanup(func() { os.Unsetenv("RAGBLADE_LOADENV_TOKEN") })

	assert.NoError(loadEnv(name))
	assert.Equal("secret", os.Getenv("RAGBLADE_LOADENV_TOKEN"))

	assert.Error(loadEnv(dir))
}

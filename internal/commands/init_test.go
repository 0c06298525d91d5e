package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/farmtax/internal/commands"
	"github.com/cleared-dev/farmtax/internal/config"
	"github.com/cleared-dev/farmtax/internal/snapshot"
)

func runFarmtax(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := commands.NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := t.TempDir()
	out, err := runFarmtax(t, "init", dir, "--name", "Parker Family", "--tax-year", "2024")
	require.NoError(t, err)
	assert.Contains(t, out, "tax year 2024")

	for _, f := range []string{
		config.FileName,
		".gitignore",
		".env.example",
		filepath.Join("data", snapshot.EntitiesFile),
		filepath.Join("data", snapshot.AssetsFile),
		filepath.Join("data", snapshot.TransactionsFile),
	} {
		_, err := os.Stat(filepath.Join(dir, f))
		require.NoError(t, err, "%s should exist", f)
	}
	info, err := os.Stat(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInit_Config(t *testing.T) {
	dir := t.TempDir()
	_, err := runFarmtax(t, "init", dir, "--name", "Parker Family", "--tax-year", "2024")
	require.NoError(t, err)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, "Parker Family", cfg.Taxpayer.Name)
	assert.Equal(t, 2024, cfg.TaxYear)
	require.NoError(t, cfg.Validate())
}

func TestInit_EmptyRecords(t *testing.T) {
	dir := t.TempDir()
	_, err := runFarmtax(t, "init", dir, "--name", "Parker Family")
	require.NoError(t, err)

	snap, err := snapshot.Load(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
	assert.Empty(t, snap.Assets)
	assert.Empty(t, snap.Transactions)
}

func TestInit_RequiresName(t *testing.T) {
	_, err := runFarmtax(t, "init", t.TempDir())
	require.Error(t, err, "init without --name should fail")
}

func TestInit_RefusesExistingProject(t *testing.T) {
	dir := t.TempDir()
	_, err := runFarmtax(t, "init", dir, "--name", "Parker Family")
	require.NoError(t, err)

	_, err = runFarmtax(t, "init", dir, "--name", "Someone Else")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInit_Gitignore(t *testing.T) {
	dir := t.TempDir()
	_, err := runFarmtax(t, "init", dir, "--name", "Parker Family")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	for _, pattern := range []string{".env", "logs/"} {
		assert.Contains(t, string(data), pattern)
	}
}

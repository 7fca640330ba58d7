package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipegen/internal/recipe"
)

func writeConfig(t *testing.T, fault string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  dsn: " + filepath.Join(dir, "data", "recipes.db") + "\n" +
		"llm:\n  provider: mock\n  mock:\n    fault: \"" + fault + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestGenerateSaveListShowDelete(t *testing.T) {
	cfg := writeConfig(t, "fence")

	out, errOut, err := run(t, "", "--config", cfg, "generate", "-p", "mushroom risotto", "--save", "--user", "u1")
	require.NoError(t, err, errOut)

	var resp recipe.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Repaired)
	assert.Equal(t, 1, resp.Attempts)
	title := resp.Parsed.(map[string]any)["title"].(string)

	require.True(t, strings.HasPrefix(errOut, "saved "), errOut)
	id := strings.TrimSpace(strings.TrimPrefix(errOut, "saved "))
	require.Len(t, id, 32)

	out, _, err = run(t, "", "--config", cfg, "list", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, title)

	out, _, err = run(t, "", "--config", cfg, "search", strings.ToLower(title))
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, _, err = run(t, "", "--config", cfg, "show", id)
	require.NoError(t, err)
	var shown recipe.Recipe
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, title, shown.Title)

	_, _, err = run(t, "", "--config", cfg, "show", id, "--user", "u2")
	assert.ErrorIs(t, err, recipe.ErrNotFound)

	out, _, err = run(t, "", "--config", cfg, "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, _, err = run(t, "", "--config", cfg, "delete", id)
	assert.ErrorIs(t, err, recipe.ErrNotFound)
}

func TestGenerate_Failure(t *testing.T) {
	cfg := writeConfig(t, "truncate")

	_, errOut, err := run(t, "", "--config", cfg, "generate", "-p", "soup")
	require.Error(t, err)
	assert.ErrorIs(t, err, recipe.ErrSchema)
	assert.Contains(t, errOut, "violation: steps: missing")
}

func TestGenerate_RequiresPrompt(t *testing.T) {
	cfg := writeConfig(t, "")
	_, _, err := run(t, "", "--config", cfg, "generate")
	assert.Error(t, err)
}

func TestRepair(t *testing.T) {
	out, _, err := run(t, "```json\n{\"a\":[1,2,],}\n```", "repair")
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":[1,2]}\n", out)
}

func TestValidate(t *testing.T) {
	valid := `{"title":"T","servings":2,"difficulty":"easy","time":{"prep_min":1,"cook_min":2,"total_min":3},` +
		`"ingredients":[{"name":"salt","quantity":1,"unit":"g"}],"steps":[{"number":1,"instruction":"mix"}]}`
	out, _, err := run(t, valid, "validate")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, _, err = run(t, `{"title":"T"}`, "validate")
	assert.ErrorIs(t, err, recipe.ErrSchema)
	assert.Contains(t, out, "servings: missing")

	_, _, err = run(t, `not json`, "validate")
	assert.ErrorIs(t, err, recipe.ErrParse)
}

func TestModels(t *testing.T) {
	cfg := writeConfig(t, "")
	out, _, err := run(t, "", "--config", cfg, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "mock*")
	assert.Contains(t, out, "openai")
	assert.Contains(t, out, "ollama")
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: kimi\n"), 0o644))
	_, _, err := run(t, "", "--config", path, "models")
	assert.Error(t, err)
}

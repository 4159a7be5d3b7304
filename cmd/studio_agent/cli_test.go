package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/video-studio/internal/config"
	"github.com/jonathan/video-studio/internal/pipeline"
	"github.com/jonathan/video-studio/internal/server"
	"github.com/jonathan/video-studio/internal/types"
)

// isolateEnv clears the variables that override config files.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "QUEUE_DRIVER", "AMQP_URL", "TITLE_PROVIDER", "DESCRIPTION_PROVIDER",
		"GEMINI_API_KEY", "POLLINATIONS_TOKEN", "STORAGE_PROVIDER", "UPLOADTHING_TOKEN",
		"STORAGE_BUCKET", "LOG_LEVEL", "PORT", "WORKERS", "STUDIO_ENV", "STUDIO_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

// writeConfig writes a config that needs no credentials: local assets, in-memory queue,
// pollinations descriptions and a single attempt per step.
func writeConfig(t *testing.T, titleProvider string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "studio.toml")
	content := fmt.Sprintf(`
[llm]
title_provider = %q
description_provider = "pollinations"

[storage]
provider = "fs"
dir = %q

[retry]
max_attempts = 1
initial_backoff_millis = 1
max_backoff_millis = 1

[logging]
level = "error"
`, titleProvider, filepath.Join(dir, "assets"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-that-is-long-enough")
	t.Setenv("JWT_ISSUER", "")
	t.Setenv("JWT_EXPIRATION_HOURS", "")
	userID := uuid.New()

	out, err := execute(t, "token", "--user", userID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "user:  "+userID.String())

	var token string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "token: ") {
			token = strings.TrimPrefix(line, "token: ")
		}
	}
	require.NotEmpty(t, token)

	jwtConfig, err := config.NewJWTConfig()
	require.NoError(t, err)
	claims, err := server.NewJWTService(jwtConfig).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)

	_, err = execute(t, "token", "--user", "nope")
	assert.Error(t, err)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := execute(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestMigrateCommand_RequiresPostgres(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "migrate", "--store", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--store postgres")
}

func TestNewApp_MemoryStore(t *testing.T) {
	isolateEnv(t)
	opts := &globalOptions{configPath: writeConfig(t, "gemini"), store: "memory"}

	a, err := newApp(context.Background(), opts, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{types.WorkflowDescription, types.WorkflowThumbnail, types.WorkflowTitle}, a.registry.Names())

	// Gemini without a key disables titles only.
	err = a.deps.Ready(types.WorkflowTitle)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNotConfigured)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	assert.NoError(t, a.deps.Ready(types.WorkflowDescription))
	assert.NoError(t, a.deps.Ready(types.WorkflowThumbnail))

	user := uuid.New()
	_, err = a.createRun(context.Background(), types.WorkflowTitle, types.WorkflowInput{UserID: user, VideoID: uuid.New()}, true)
	assert.ErrorIs(t, err, pipeline.ErrNotConfigured)

	run, err := a.createRun(context.Background(), types.WorkflowDescription, types.WorkflowInput{UserID: user, VideoID: uuid.New()}, true)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusPending, run.Status)

	_, err = a.createRun(context.Background(), "tags", types.WorkflowInput{UserID: user, VideoID: uuid.New()}, true)
	assert.True(t, errors.Is(err, server.ErrUnknownWorkflow))
}

func TestNewApp_UnknownStore(t *testing.T) {
	isolateEnv(t)
	_, err := newApp(context.Background(), &globalOptions{configPath: writeConfig(t, "pollinations"), store: "sqlite"}, io.Discard)
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "--store", cfgErr.Field)
}

func TestTriggerCommand_Validation(t *testing.T) {
	isolateEnv(t)
	configPath := writeConfig(t, "pollinations")
	user, video := uuid.NewString(), uuid.NewString()

	_, err := execute(t, "trigger", "thumbnail", "--store", "memory", "--config", configPath, "--user", user, "--video", video)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt")

	_, err = execute(t, "trigger", "tags", "--store", "memory", "--config", configPath, "--user", user, "--video", video)
	assert.ErrorIs(t, err, server.ErrUnknownWorkflow)

	_, err = execute(t, "trigger", "title", "--store", "memory", "--config", configPath, "--user", "bad", "--video", video)
	assert.Error(t, err)

	out, err := execute(t, "trigger", "title", "--store", "memory", "--config", configPath, "--user", user, "--video", video)
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued title run")
}

func TestTriggerCommand_InlineMissingVideo(t *testing.T) {
	isolateEnv(t)
	configPath := writeConfig(t, "pollinations")

	// A fresh memory store has no videos, so the run stops at get-video.
	out, err := execute(t, "trigger", "description", "--inline", "--store", "memory", "--config", configPath,
		"--user", uuid.NewString(), "--video", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "get-video")
	assert.Contains(t, out, "video not found")
}

func TestRunsCommand_Empty(t *testing.T) {
	isolateEnv(t)
	configPath := writeConfig(t, "pollinations")

	out, err := execute(t, "runs", "--store", "memory", "--config", configPath, "--user", uuid.NewString(), "--video", uuid.NewString())
	require.NoError(t, err)
	assert.Contains(t, out, "no runs")

	_, err = execute(t, "runs", uuid.NewString(), "--store", "memory", "--config", configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestVideoCommands(t *testing.T) {
	isolateEnv(t)
	configPath := writeConfig(t, "pollinations")
	user := uuid.NewString()

	out, err := execute(t, "video", "create", "--store", "memory", "--config", configPath, "--user", user, "--title", "Draft")
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "Draft"`)

	// Each invocation opens its own memory store.
	_, err = execute(t, "video", "track", uuid.NewString(), "--store", "memory", "--config", configPath,
		"--user", user, "--playback", "p", "--track", "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

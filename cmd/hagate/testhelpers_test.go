// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
version: "2.0"
show_notifications: false
send_event: true
roles:
  admin:
    admin: true
  guest:
    permissions:
      domains:
        light:
          block_all: true
      entities:
        light.kitchen:
          allow: true
  family:
    template: "{{ person_home }}"
    fallbackRole: guest
users:
  user-alice:
    role: admin
  user-gus:
    role: guest
  user-kim:
    role: family
`

// isolate points XDG lookups at an empty directory and restores the
// default logger the command under test replaces.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return dir
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs a fresh root command with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return executeCmd(t, NewRootCmd(), stdin, args...)
}

func executeCmd(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0o700)
}

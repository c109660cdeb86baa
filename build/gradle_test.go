package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestInjectVersion(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		wantFile string
		want     string
	}{
		{
			name:     "replaces existing property",
			files:    map[string]string{"gradle.properties": "group=org.example\nversion=1.0.0\nkotlin.code.style=official\n"},
			wantFile: "gradle.properties",
			want:     "group=org.example\nversion=abcde\nkotlin.code.style=official\n",
		},
		{
			name:     "appends property",
			files:    map[string]string{"gradle.properties": "group=org.example"},
			wantFile: "gradle.properties",
			want:     "group=org.example\nversion=abcde\n",
		},
		{
			name:     "keeps similar keys",
			files:    map[string]string{"gradle.properties": "versionCode=3\n"},
			wantFile: "gradle.properties",
			want:     "versionCode=3\nversion=abcde\n",
		},
		{
			name:     "falls back to kotlin script",
			files:    map[string]string{"build.gradle.kts": "plugins {}\n"},
			wantFile: "build.gradle.kts",
			want:     "plugins {}\n\nversion = \"abcde\"\n",
		},
		{
			name:  "no descriptor",
			files: map[string]string{"build.gradle": "apply plugin: 'java'\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, dir, name, content)
			}

			changed, err := InjectVersion(dir, "abcde")
			require.NoError(t, err)

			if tt.wantFile == "" {
				assert.Empty(t, changed)
				return
			}
			assert.Equal(t, filepath.Join(dir, tt.wantFile), changed)
			assert.Equal(t, tt.want, readFile(t, changed))
		})
	}
}

func TestDiscoverImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "build.gradle.kts", `jib { to { image = "ghcr.io/org/api" } }`)
	writeFile(t, dir, "worker/build.gradle", "jib {\n  to {\n    image = 'ghcr.io/org/worker'\n  }\n}\n")
	writeFile(t, dir, "dup/build.gradle.kts", `jib { to { image="ghcr.io/org/api" } }`)
	writeFile(t, dir, "notes/README.md", `image = "ignored/readme"`)
	writeFile(t, dir, "build/generated/build.gradle", `image = "ignored/output"`)

	images, err := DiscoverImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghcr.io/org/api", "ghcr.io/org/worker"}, images)
}

func TestToolchainCommand(t *testing.T) {
	dir := t.TempDir()

	program, args := ToolchainCommand(dir, "jib")
	assert.Equal(t, "gradle", program)
	assert.Equal(t, []string{"jib"}, args)

	writeFile(t, dir, "gradlew", "#!/bin/sh\n")
	program, args = ToolchainCommand(dir, "jib")
	assert.Equal(t, "./gradlew", program)
	assert.Equal(t, []string{"jib"}, args)
}

func TestArtifactRef(t *testing.T) {
	assert.Equal(t, "ghcr.io/org/app:abcde", ArtifactRef("ghcr.io/org/app", "abcde"))
	assert.Equal(t, "ghcr.io/org/app:abcde", ArtifactRef("ghcr.io/org/app:latest", "abcde"))
	assert.Equal(t, "localhost:5000/app:abcde", ArtifactRef("localhost:5000/app", "abcde"))
	assert.Equal(t, "app:abcde", ArtifactRef("app", "abcde"))
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "0123a", Version("0123abcdef"))
	assert.Equal(t, "abc", Version("abc"))
}

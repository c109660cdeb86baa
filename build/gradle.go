package build

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	gradleProperties = "gradle.properties"
	gradleKotlin     = "build.gradle.kts"
	gradleGroovy     = "build.gradle"
	gradleWrapper    = "gradlew"
)

var (
	versionLine   = regexp.MustCompile(`(?m)^[ \t]*version[ \t]*=[^\n]*`)
	imageDeclared = regexp.MustCompile(`image\s*=\s*['"]([^'"]*)['"]`)
)

// InjectVersion writes version into the project's build descriptor. An
// existing version line in gradle.properties is replaced, otherwise one is
// appended. Without gradle.properties the version is appended to
// build.gradle.kts. It returns the file it changed, or "" when the project
// has neither descriptor.
func InjectVersion(dir, version string) (string, error) {
	props := filepath.Join(dir, gradleProperties)
	content, err := os.ReadFile(props)
	switch {
	case err == nil:
		line := "version=" + version
		var updated string
		if versionLine.Match(content) {
			updated = versionLine.ReplaceAllLiteralString(string(content), line)
		} else {
			updated = string(content)
			if updated != "" && !strings.HasSuffix(updated, "\n") {
				updated += "\n"
			}
			updated += line + "\n"
		}
		return props, os.WriteFile(props, []byte(updated), 0o644)
	case !os.IsNotExist(err):
		return "", err
	}

	kts := filepath.Join(dir, gradleKotlin)
	f, err := os.OpenFile(kts, os.O_APPEND|os.O_WRONLY, 0)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString("\nversion = \"" + version + "\"\n"); err != nil {
		return "", err
	}
	return kts, nil
}

// DiscoverImages scans every Gradle build script under dir for image
// declarations and returns the distinct image names, sorted.
func DiscoverImages(dir string) ([]string, error) {
	seen := map[string]struct{}{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".gradle" || d.Name() == "build" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != gradleGroovy && d.Name() != gradleKotlin {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range imageDeclared.FindAllSubmatch(content, -1) {
			if name := strings.TrimSpace(string(m[1])); name != "" {
				seen[name] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	images := make([]string, 0, len(seen))
	for name := range seen {
		images = append(images, name)
	}
	sort.Strings(images)
	return images, nil
}

// ToolchainCommand returns the command that builds and publishes dir:
// the Gradle wrapper when the project ships one, the global gradle
// otherwise.
func ToolchainCommand(dir, task string) (string, []string) {
	if info, err := os.Stat(filepath.Join(dir, gradleWrapper)); err == nil && !info.IsDir() {
		return "./" + gradleWrapper, []string{task}
	}
	return "gradle", []string{task}
}

// splitImage splits an image reference into repository and tag. The tag
// is looked for after the last slash so registry ports are kept.
//
//	localhost:5000/app:1.0 -> ("localhost:5000/app", "1.0")
//	ghcr.io/org/app        -> ("ghcr.io/org/app", "")
func splitImage(image string) (repo, tag string) {
	if at := strings.Index(image, "@"); at != -1 {
		image = image[:at]
	}
	lastSlash := strings.LastIndex(image, "/")
	tail := image[lastSlash+1:]
	if colon := strings.LastIndex(tail, ":"); colon != -1 {
		return image[:lastSlash+1] + tail[:colon], tail[colon+1:]
	}
	return image, ""
}

// ArtifactRef returns the image reference for version, replacing any tag
// the build script hard-coded.
func ArtifactRef(image, version string) string {
	repo, _ := splitImage(image)
	return repo + ":" + version
}

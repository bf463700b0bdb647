// Package version tracks the client build and self-updates it from
// GitHub releases. Admins run the client directly from a download, so the
// update path has to work without a package manager.
package version

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// Current is the running client version, bumped with each release.
const Current = "0.4.0"

const (
	githubOwner = "coachkit"
	githubRepo  = "coachchat"
)

type release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// Latest fetches the newest released version from GitHub.
func Latest() (string, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", githubOwner, githubRepo)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", err
	}
	return strings.TrimPrefix(rel.TagName, "v"), nil
}

// Compare returns 1 if a > b, -1 if a < b, 0 if equal. Plain string
// comparison is enough for our tag scheme.
func Compare(a, b string) int {
	a = strings.TrimPrefix(a, "v")
	b = strings.TrimPrefix(b, "v")
	if a == b {
		return 0
	}
	if a > b {
		return 1
	}
	return -1
}

// DownloadURL returns the release asset URL for the current platform.
func DownloadURL(version string) string {
	base := fmt.Sprintf("https://github.com/%s/%s/releases/download/v%s", githubOwner, githubRepo, version)
	return fmt.Sprintf("%s/%s", base, assetName())
}

func assetName() string {
	arch := runtime.GOARCH
	switch runtime.GOOS {
	case "darwin":
		if arch == "arm64" {
			return "coachchat-macos-arm64"
		}
		return "coachchat-macos-amd64"
	case "linux":
		if arch == "arm64" {
			return "coachchat-linux-arm64"
		}
		return "coachchat-linux-amd64"
	case "windows":
		return "coachchat-windows-amd64.exe"
	default:
		return "coachchat-unknown"
	}
}

package transport

import (
	"context"
	"os"
	"strings"
)

// FileTokenResolver reads the bearer token from a file the platform's
// login flow keeps refreshed. The file may not exist yet at mount time;
// Connect retries inside its window.
func FileTokenResolver(path string) TokenResolver {
	return func(ctx context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
}

// StaticTokenResolver returns a fixed token, used when the token arrives
// via environment or flag.
func StaticTokenResolver(token string) TokenResolver {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

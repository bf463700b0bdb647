package version

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CheckForUpdate reports whether a newer release exists.
func CheckForUpdate() (bool, string, error) {
	latest, err := Latest()
	if err != nil {
		return false, "", err
	}
	return Compare(latest, Current) > 0, latest, nil
}

// UpdateToLatest downloads the newest release and swaps the running
// binary in place.
func UpdateToLatest() error {
	fmt.Println("Checking for updates...")

	latest, err := Latest()
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if Compare(latest, Current) <= 0 {
		fmt.Printf("Already on the latest version (v%s)\n", Current)
		return nil
	}

	fmt.Printf("Updating from v%s to v%s...\n", Current, latest)

	fmt.Println("Downloading...")
	tmpFile, err := downloadBinary(DownloadURL(latest))
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer os.Remove(tmpFile)

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	if err := os.Chmod(tmpFile, 0755); err != nil {
		return fmt.Errorf("failed to make binary executable: %w", err)
	}

	fmt.Println("Installing...")
	if err := replaceBinary(tmpFile, execPath); err != nil {
		return fmt.Errorf("failed to replace binary: %w", err)
	}

	fmt.Printf("✓ Updated to v%s. Restart coachchat to use it.\n", latest)
	return nil
}

func downloadBinary(url string) (string, error) {
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp("", "coachchat-update-*")
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	return tmpFile.Name(), nil
}

// replaceBinary swaps the running executable. Windows cannot replace a
// running binary, so the old one is parked under a .old suffix first.
func replaceBinary(newPath, oldPath string) error {
	if runtime.GOOS == "windows" {
		oldBackup := oldPath + ".old"
		if err := os.Rename(oldPath, oldBackup); err != nil {
			return fmt.Errorf("failed to back up old binary: %w", err)
		}
		if err := copyFile(newPath, oldPath); err != nil {
			os.Rename(oldBackup, oldPath)
			return err
		}
		os.Remove(oldBackup)
		return nil
	}

	if err := os.Rename(newPath, oldPath); err != nil {
		// Rename fails across devices; fall back to a copy.
		return copyFile(newPath, oldPath)
	}
	return nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, srcInfo.Mode())
}

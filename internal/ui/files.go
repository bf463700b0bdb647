package ui

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"

	tea "github.com/charmbracelet/bubbletea"

	"coachchat/internal/upload"
)

// fileItem is one row of the attachment picker.
type fileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

func (m *Model) enterFilePicker() {
	if m.browsePath == "" {
		m.browsePath = defaultBrowsePath()
	}
	items, err := browseDirectory(m.browsePath)
	if err != nil {
		m.notice = fmt.Sprintf("Cannot open %s: %v", m.browsePath, err)
		return
	}
	m.browseItems = items
	m.browseIndex = 0
	m.mode = modeFilePick
}

func (m *Model) updateFilePickKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "esc", "q":
		m.mode = modeChat
		return m, nil
	case "up", "k":
		if m.browseIndex > 0 {
			m.browseIndex--
		}
	case "down", "j":
		if m.browseIndex < len(m.browseItems)-1 {
			m.browseIndex++
		}
	case "enter":
		if m.browseIndex >= len(m.browseItems) {
			return m, nil
		}
		item := m.browseItems[m.browseIndex]
		if item.IsDir {
			items, err := browseDirectory(item.Path)
			if err != nil {
				m.notice = fmt.Sprintf("Cannot open %s: %v", item.Path, err)
				return m, nil
			}
			m.browsePath = item.Path
			m.browseItems = items
			m.browseIndex = 0
			return m, nil
		}
		if item.Size > upload.MaxFileSize {
			m.notice = upload.OversizeMessage([]string{item.Name})
			return m, nil
		}
		m.pendingFiles = append(m.pendingFiles, localFileFor(item))
		m.mode = modeChat
	}
	return m, nil
}

func localFileFor(item fileItem) upload.LocalFile {
	return upload.LocalFile{
		Path:      item.Path,
		Name:      item.Name,
		SizeBytes: item.Size,
		MimeType:  mime.TypeByExtension(filepath.Ext(item.Name)),
	}
}

// browseDirectory reads directory contents for the attachment picker.
func browseDirectory(path string) ([]fileItem, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	items := make([]fileItem, 0, len(entries)+1)
	if path != "/" && path != "." {
		items = append(items, fileItem{Name: "..", Path: filepath.Dir(path), IsDir: true})
	}

	for _, entry := range entries {
		// Skip hidden files
		if len(entry.Name()) > 0 && entry.Name()[0] == '.' {
			continue
		}
		item := fileItem{
			Name:  entry.Name(),
			Path:  filepath.Join(path, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}
		items = append(items, item)
	}

	// Directories first, then files, both alphabetically
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// defaultBrowsePath returns a sensible starting directory.
func defaultBrowsePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		docsPath := filepath.Join(home, "Documents")
		if _, err := os.Stat(docsPath); err == nil {
			return docsPath
		}
		downloadsPath := filepath.Join(home, "Downloads")
		if _, err := os.Stat(downloadsPath); err == nil {
			return downloadsPath
		}
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// formatFileSize returns a human-readable file size.
func formatFileSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

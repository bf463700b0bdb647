// Package upload sends file attachments to the backend's HTTP multipart
// endpoint. The response is not what inserts the message: the optimistic
// attachment stands in until realtime or poll reconciliation confirms it.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"coachchat/internal/attach"
	"coachchat/internal/metrics"
)

// MaxFileSize is the per-file ceiling, enforced before any network call.
const MaxFileSize = 50 << 20

// ErrFileTooLarge marks a file rejected by the size ceiling.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// LocalFile is a file the user selected for sending.
type LocalFile struct {
	Path      string
	Name      string
	MimeType  string
	SizeBytes int64
}

// Result is the per-file outcome of an upload batch.
type Result struct {
	File       LocalFile
	Attachment attach.Attachment
	Err        error
}

// Stat inspects the selected paths, resolving size and mime type, and
// splits out files over the ceiling. Size and mime must reflect the file
// as selected; the server may rename it but not reshape it.
func Stat(paths []string, maxSize int64) (ok []LocalFile, rejected []string) {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			rejected = append(rejected, filepath.Base(path))
			continue
		}
		if info.Size() > maxSize {
			rejected = append(rejected, filepath.Base(path))
			continue
		}
		name := filepath.Base(path)
		ok = append(ok, LocalFile{
			Path:      path,
			Name:      name,
			MimeType:  mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
			SizeBytes: info.Size(),
		})
	}
	return ok, rejected
}

// OversizeMessage builds the user-facing message naming rejected files,
// truncated past three names.
func OversizeMessage(rejected []string) string {
	if len(rejected) == 0 {
		return ""
	}
	names := rejected
	extra := ""
	if len(names) > 3 {
		extra = fmt.Sprintf(" and %d more", len(names)-3)
		names = names[:3]
	}
	return fmt.Sprintf("Too large to send (limit %d MB): %s%s",
		MaxFileSize>>20, strings.Join(names, ", "), extra)
}

// Uploader posts files to the upload endpoint, trying the primary host
// first and the fallback on any failure.
type Uploader struct {
	Primary  string
	Fallback string
	Client   *http.Client
}

func NewUploader(primary, fallback string) *Uploader {
	return &Uploader{
		Primary:  primary,
		Fallback: fallback,
		Client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// UploadAll uploads a batch with per-file isolation: one file failing does
// not stop the rest.
func (u *Uploader) UploadAll(ctx context.Context, chatID string, files []LocalFile) []Result {
	results := make([]Result, 0, len(files))
	for _, file := range files {
		attachment, err := u.uploadOne(ctx, chatID, file)
		if err != nil {
			glog.Errorf("upload: %s: %v", file.Name, err)
			metrics.Uploads.WithLabelValues("error").Inc()
		} else {
			metrics.Uploads.WithLabelValues("ok").Inc()
		}
		results = append(results, Result{File: file, Attachment: attachment, Err: err})
	}
	return results
}

func (u *Uploader) uploadOne(ctx context.Context, chatID string, file LocalFile) (attach.Attachment, error) {
	if file.SizeBytes > MaxFileSize {
		return attach.Attachment{}, ErrFileTooLarge
	}

	attachment, err := u.post(ctx, u.Primary, chatID, file)
	if err == nil {
		return attachment, nil
	}
	if u.Fallback == "" {
		return attach.Attachment{}, err
	}
	glog.Warningf("upload: primary host failed for %s (%v), trying fallback", file.Name, err)
	return u.post(ctx, u.Fallback, chatID, file)
}

func (u *Uploader) post(ctx context.Context, host, chatID string, file LocalFile) (attach.Attachment, error) {
	source, err := os.Open(file.Path)
	if err != nil {
		return attach.Attachment{}, err
	}
	defer source.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("archivo", file.Name)
	if err != nil {
		return attach.Attachment{}, err
	}
	if _, err := io.Copy(part, source); err != nil {
		return attach.Attachment{}, err
	}
	if err := writer.WriteField("id_chat", chatID); err != nil {
		return attach.Attachment{}, err
	}
	if err := writer.Close(); err != nil {
		return attach.Attachment{}, err
	}

	endpoint := fmt.Sprintf("%s/api/chats/%s/files", strings.TrimRight(host, "/"), chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return attach.Attachment{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.Client.Do(req)
	if err != nil {
		return attach.Attachment{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return attach.Attachment{}, fmt.Errorf("upload endpoint returned %d", resp.StatusCode)
	}

	// The response body is not awaited for message insertion; the local
	// record is enough for the optimistic attachment.
	return attach.Attachment{
		ID:        uuid.NewString(),
		Name:      file.Name,
		MimeType:  file.MimeType,
		SizeBytes: file.SizeBytes,
		CreatedAt: time.Now(),
		URL:       endpoint,
	}, nil
}

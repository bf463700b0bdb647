package attach

import (
	"sort"
	"time"
)

// Shape summarizes a set of attachments for matching a server echo against
// a local upload. Count, total size, and mime categories identify a batch;
// filenames are excluded because the server renames stored files.
type Shape struct {
	Count      int
	SizeBytes  int64
	Categories []string
}

// ShapeOf builds the shape of an attachment list.
func ShapeOf(attachments []Attachment) Shape {
	shape := Shape{Count: len(attachments)}
	for _, a := range attachments {
		shape.SizeBytes += a.SizeBytes
		shape.Categories = append(shape.Categories, Category(a.MimeType))
	}
	sort.Strings(shape.Categories)
	return shape
}

// Matches reports whether two shapes describe the same batch. A zero size
// on either side is treated as unknown and not compared, since some event
// shapes omit sizes.
func (s Shape) Matches(other Shape) bool {
	if s.Count == 0 || s.Count != other.Count {
		return false
	}
	if s.SizeBytes > 0 && other.SizeBytes > 0 && s.SizeBytes != other.SizeBytes {
		return false
	}
	if len(s.Categories) != len(other.Categories) {
		return false
	}
	for i := range s.Categories {
		a, b := s.Categories[i], other.Categories[i]
		if a != "unknown" && b != "unknown" && a != b {
			return false
		}
	}
	return true
}

// recentUploadWindow bounds how long a local upload stays eligible for
// echo matching.
const recentUploadWindow = 60 * time.Second

type uploadRecord struct {
	shape Shape
	at    time.Time
}

// RecentUploads tracks files the local side uploaded recently so the
// attribution engine can claim their server echoes. Mutated only from the
// UI event loop.
type RecentUploads struct {
	records []uploadRecord
}

// Add records an upload batch at the given time.
func (r *RecentUploads) Add(shape Shape, at time.Time) {
	r.prune(at)
	r.records = append(r.records, uploadRecord{shape: shape, at: at})
}

// Match reports whether an incoming attachment shape matches any upload
// still inside the window. A hit is consumed so a second echo of a
// different upload with the same shape matches the next record, not the
// same one twice.
func (r *RecentUploads) Match(shape Shape, now time.Time) bool {
	r.prune(now)
	for i, rec := range r.records {
		if rec.shape.Matches(shape) {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of tracked uploads.
func (r *RecentUploads) Len() int {
	return len(r.records)
}

func (r *RecentUploads) prune(now time.Time) {
	cutoff := now.Add(-recentUploadWindow)
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.at.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	r.records = kept
}

// Package attachments tracks booking files that are either staged locally or stored by the backend.
package attachments

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"tileworks/internal/model"

	"github.com/gabriel-vasile/mimetype"
)

// Attachment is either *Staged or *Persisted.
type Attachment interface {
	Name() string
	Size() int64
	attachment()
}

// Staged is a file selected by the user and not yet sent. It has no server identity.
type Staged struct {
	ID       string
	Filename string
	MimeType string
	Data     []byte
	preview  *Preview
}

func (s *Staged) Name() string { return s.Filename }
func (s *Staged) Size() int64  { return int64(len(s.Data)) }
func (*Staged) attachment()    {}

// PreviewPath is the local path of the image preview, or "" for documents.
func (s *Staged) PreviewPath() string {
	if s.preview == nil {
		return ""
	}
	return s.preview.Path()
}

// Persisted is a file stored by the backend, removable only by its storage key.
type Persisted struct {
	model.File
	Deleting bool
}

func (p *Persisted) Name() string {
	if p.OriginalFilename != "" {
		return p.OriginalFilename
	}
	return p.Filename
}
func (p *Persisted) Size() int64 { return p.FileSize }
func (*Persisted) attachment()   {}

// Preview is a temp-file copy of a staged image. It must be released exactly once;
// Release is idempotent.
type Preview struct {
	path string
	once sync.Once
}

func newPreview(dir, mime string, data []byte) (*Preview, error) {
	ext := ""
	if m := mimetype.Lookup(mime); m != nil {
		ext = m.Extension()
	}
	f, err := os.CreateTemp(dir, "preview-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write preview: %w", err)
	}
	return &Preview{path: f.Name()}, nil
}

func (p *Preview) Path() string { return p.path }

func (p *Preview) Release() {
	p.once.Do(func() { _ = os.Remove(p.path) })
}

// sniff returns the detected content type and whether it is accepted.
func sniff(data []byte) (string, bool) {
	m := mimetype.Detect(data)
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") || m.Is("application/pdf") {
			return m.String(), true
		}
	}
	return mimetype.Detect(data).String(), false
}

func isImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

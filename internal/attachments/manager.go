package attachments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tileworks/internal/api"
	"tileworks/internal/inflight"
	"tileworks/internal/metrics"
	"tileworks/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTooLarge        = errors.New("file is larger than the per-file limit")
	ErrTotalTooLarge   = errors.New("staged files exceed the total size limit")
	ErrTooMany         = errors.New("too many files staged")
	ErrUnsupportedType = errors.New("only images and PDF files are accepted")
	ErrNoFilename      = errors.New("attachment has no storage key")
	ErrNotFound        = errors.New("attachment not found")
	ErrClosed          = errors.New("attachment manager closed")
)

const actionDelete = "delete"

// Limits bounds the staged set.
type Limits struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
	MaxFiles      int
}

func DefaultLimits() Limits {
	return Limits{MaxFileBytes: 10 << 20, MaxTotalBytes: 50 << 20, MaxFiles: 5}
}

// Selected is one file picked by the user.
type Selected struct {
	Filename string
	Data     []byte
}

// Deleter removes stored files. Deletions are always their own request.
type Deleter interface {
	DeleteFile(ctx context.Context, filename string) error
	DeleteFiles(ctx context.Context, filenames []string) error
}

// Manager holds the attachments of one booking dialog.
type Manager struct {
	deleter    Deleter
	limits     Limits
	previewDir string
	logger     zerolog.Logger
	guard      inflight.Guard

	mu        sync.Mutex
	persisted []*Persisted
	staged    []*Staged
	deleted   map[string]struct{}
	closed    bool
}

type Option func(*Manager)

func WithLimits(l Limits) Option {
	return func(m *Manager) { m.limits = l }
}

// WithPreviewDir sets where image previews are written; "" uses the OS temp dir.
func WithPreviewDir(dir string) Option {
	return func(m *Manager) { m.previewDir = dir }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger.With().Str("component", "attachments").Logger() }
}

func NewManager(deleter Deleter, opts ...Option) *Manager {
	m := &Manager{
		deleter: deleter,
		limits:  DefaultLimits(),
		logger:  zerolog.Nop(),
		deleted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stage adds files to the staged set. A file over the per-file limit, an unsupported
// type or an aggregate over the total limit rejects the whole batch. When the count
// limit is exceeded the set is cut to the first MaxFiles entries and ErrTooMany is
// returned; files staged before the call are always kept.
func (m *Manager) Stage(files []Selected) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	incoming := make([]*Staged, 0, len(files))
	for _, f := range files {
		if int64(len(f.Data)) > m.limits.MaxFileBytes {
			return fmt.Errorf("%w: %s is %s, limit %s", ErrTooLarge, f.Filename, humanSize(int64(len(f.Data))), humanSize(m.limits.MaxFileBytes))
		}
		mime, ok := sniff(f.Data)
		if !ok {
			return fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, f.Filename, mime)
		}
		incoming = append(incoming, &Staged{ID: uuid.NewString(), Filename: f.Filename, MimeType: mime, Data: f.Data})
	}

	total := m.stagedBytes()
	for _, s := range incoming {
		total += s.Size()
	}
	if total > m.limits.MaxTotalBytes {
		return fmt.Errorf("%w: %s of %s", ErrTotalTooLarge, humanSize(total), humanSize(m.limits.MaxTotalBytes))
	}

	var overflow error
	if room := m.limits.MaxFiles - len(m.staged); len(incoming) > room {
		if room < 0 {
			room = 0
		}
		overflow = fmt.Errorf("%w: at most %d files", ErrTooMany, m.limits.MaxFiles)
		incoming = incoming[:room]
	}

	for i, s := range incoming {
		if !isImage(s.MimeType) {
			continue
		}
		p, err := newPreview(m.previewDir, s.MimeType, s.Data)
		if err != nil {
			for _, prev := range incoming[:i] {
				if prev.preview != nil {
					prev.preview.Release()
				}
			}
			return err
		}
		s.preview = p
	}
	m.staged = append(m.staged, incoming...)
	return overflow
}

// Unstage drops the staged file at index. No network call is made.
func (m *Manager) Unstage(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.staged) {
		return fmt.Errorf("%w: staged index %d", ErrNotFound, index)
	}
	releaseStaged(m.staged[index])
	m.staged = append(m.staged[:index], m.staged[index+1:]...)
	return nil
}

// ClearStaged releases every staged file, typically after they were uploaded.
func (m *Manager) ClearStaged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.staged {
		releaseStaged(s)
	}
	m.staged = nil
}

// Refresh replaces the persisted list with the server's, minus files deleted locally.
func (m *Manager) Refresh(files []model.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	out := make([]*Persisted, 0, len(files))
	for _, f := range files {
		if m.isDeleted(f) {
			continue
		}
		out = append(out, &Persisted{File: f, Deleting: m.guard.Busy(f.ID, actionDelete)})
	}
	m.persisted = out
}

// DeleteOne removes one stored file. On failure the file stays listed.
func (m *Manager) DeleteOne(ctx context.Context, id string) error {
	m.mu.Lock()
	p := m.findPersisted(id)
	if p == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Filename == "" {
		m.mu.Unlock()
		return ErrNoFilename
	}
	release, err := m.guard.Acquire(id, actionDelete)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	defer release()
	p.Deleting = true
	filename := p.Filename
	m.mu.Unlock()

	err = m.deleter.DeleteFile(ctx, filename)
	m.settle([]string{id}, []string{filename}, err)
	return err
}

// DeleteMany removes several stored files in one request. A failure of that
// request counts as a failure for every file in it.
func (m *Manager) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	filenames := make([]string, 0, len(ids))
	targets := make([]*Persisted, 0, len(ids))
	for _, id := range ids {
		p := m.findPersisted(id)
		if p == nil {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if p.Filename == "" {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNoFilename, id)
		}
		targets = append(targets, p)
		filenames = append(filenames, p.Filename)
	}

	releases := make([]func(), 0, len(ids))
	releaseAll := func() {
		for _, r := range releases {
			r()
		}
	}
	for _, id := range ids {
		r, err := m.guard.Acquire(id, actionDelete)
		if err != nil {
			releaseAll()
			m.mu.Unlock()
			return err
		}
		releases = append(releases, r)
	}
	defer releaseAll()
	for _, p := range targets {
		p.Deleting = true
	}
	m.mu.Unlock()

	err := m.deleter.DeleteFiles(ctx, filenames)
	m.settle(ids, filenames, err)
	return err
}

// settle resolves a delete. On success every id and filename is tombstoned, even when a
// refetch already dropped the record while the call was in flight.
func (m *Manager) settle(ids, filenames []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		metrics.IncAttachmentDelete("failed", len(ids))
		m.logger.Warn().Err(err).Strs("ids", ids).Msg("attachment delete failed")
		if m.closed {
			return
		}
		for _, id := range ids {
			if p := m.findPersisted(id); p != nil {
				p.Deleting = false
			}
		}
		return
	}

	metrics.IncAttachmentDelete("ok", len(ids))
	if m.closed {
		return
	}
	for _, id := range ids {
		m.deleted[id] = struct{}{}
	}
	for _, f := range filenames {
		m.deleted[f] = struct{}{}
	}
	kept := m.persisted[:0]
	for _, p := range m.persisted {
		if m.isDeleted(p.File) {
			continue
		}
		kept = append(kept, p)
	}
	m.persisted = kept
}

// Deleting reports whether a delete is outstanding for id.
func (m *Manager) Deleting(id string) bool {
	return m.guard.Busy(id, actionDelete)
}

// List returns persisted files followed by staged files.
func (m *Manager) List() []Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Attachment, 0, len(m.persisted)+len(m.staged))
	for _, p := range m.persisted {
		cp := *p
		out = append(out, &cp)
	}
	for _, s := range m.staged {
		out = append(out, s)
	}
	return out
}

// Persisted returns a copy of the stored files currently shown.
func (m *Manager) Persisted() []model.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.File, 0, len(m.persisted))
	for _, p := range m.persisted {
		out = append(out, p.File)
	}
	return out
}

// StagedCount returns the number of staged files.
func (m *Manager) StagedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staged)
}

// Uploads converts the staged set into multipart file parts.
func (m *Manager) Uploads() ([]api.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]api.Upload, 0, len(m.staged))
	for _, s := range m.staged {
		out = append(out, api.Upload{Filename: s.Filename, ContentType: s.MimeType, Data: s.Data})
	}
	return out, nil
}

// Close releases every preview. Results of deletes still in flight are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, s := range m.staged {
		releaseStaged(s)
	}
	m.staged = nil
	m.closed = true
}

func (m *Manager) findPersisted(id string) *Persisted {
	for _, p := range m.persisted {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (m *Manager) isDeleted(f model.File) bool {
	if _, ok := m.deleted[f.ID]; ok && f.ID != "" {
		return true
	}
	_, ok := m.deleted[f.Filename]
	return ok && f.Filename != ""
}

func (m *Manager) stagedBytes() int64 {
	var n int64
	for _, s := range m.staged {
		n += s.Size()
	}
	return n
}

func releaseStaged(s *Staged) {
	if s.preview != nil {
		s.preview.Release()
		s.preview = nil
	}
}

func humanSize(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d KB", n>>10)
}

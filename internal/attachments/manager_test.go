package attachments

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"tileworks/internal/inflight"
	"tileworks/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const mb = 1 << 20

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func png(name string, size int) Selected {
	data := make([]byte, size)
	copy(data, pngHeader)
	return Selected{Filename: name, Data: data}
}

func pdf(name string, size int) Selected {
	data := bytes.Repeat([]byte{' '}, size)
	copy(data, "%PDF-1.4\n")
	return Selected{Filename: name, Data: data}
}

type mockDeleter struct {
	mock.Mock
}

func (m *mockDeleter) DeleteFile(ctx context.Context, filename string) error {
	return m.Called(ctx, filename).Error(0)
}

func (m *mockDeleter) DeleteFiles(ctx context.Context, filenames []string) error {
	return m.Called(ctx, filenames).Error(0)
}

func stagedNames(m *Manager) []string {
	var out []string
	for _, a := range m.List() {
		if s, ok := a.(*Staged); ok {
			out = append(out, s.Filename)
		}
	}
	return out
}

func TestStageRejectsOversizedBatch(t *testing.T) {
	m := NewManager(&mockDeleter{}, WithPreviewDir(t.TempDir()))
	require.NoError(t, m.Stage([]Selected{png("a.png", 4*mb), png("b.png", 4*mb), pdf("c.pdf", 4*mb)}))

	err := m.Stage([]Selected{png("d.png", 1*mb), pdf("huge.pdf", 45*mb)})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, []string{"a.png", "b.png", "c.pdf"}, stagedNames(m))
}

func TestStageAggregateCap(t *testing.T) {
	limits := Limits{MaxFileBytes: 60 * mb, MaxTotalBytes: 50 * mb, MaxFiles: 5}
	m := NewManager(&mockDeleter{}, WithLimits(limits), WithPreviewDir(t.TempDir()))
	require.NoError(t, m.Stage([]Selected{png("a.png", 4*mb), png("b.png", 4*mb), png("c.png", 4*mb)}))

	err := m.Stage([]Selected{pdf("plans.pdf", 45*mb)})
	assert.ErrorIs(t, err, ErrTotalTooLarge)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, stagedNames(m))

	err = m.Stage([]Selected{pdf("plans.pdf", 45*mb)})
	assert.ErrorIs(t, err, ErrTotalTooLarge)
	assert.Equal(t, 3, m.StagedCount())
}

func TestStageCountCap(t *testing.T) {
	m := NewManager(&mockDeleter{}, WithPreviewDir(t.TempDir()))
	first := []Selected{png("1.png", 1024), png("2.png", 1024), pdf("3.pdf", 1024), png("4.png", 1024), png("5.png", 1024)}
	require.NoError(t, m.Stage(first))

	err := m.Stage([]Selected{png("6.png", 1024)})
	assert.ErrorIs(t, err, ErrTooMany)
	assert.Equal(t, []string{"1.png", "2.png", "3.pdf", "4.png", "5.png"}, stagedNames(m))

	m2 := NewManager(&mockDeleter{}, WithPreviewDir(t.TempDir()))
	require.NoError(t, m2.Stage(first[:3]))
	err = m2.Stage([]Selected{png("x.png", 1024), png("y.png", 1024), png("z.png", 1024)})
	assert.ErrorIs(t, err, ErrTooMany)
	assert.Equal(t, []string{"1.png", "2.png", "3.pdf", "x.png", "y.png"}, stagedNames(m2))
}

func TestStageRejectsUnsupportedType(t *testing.T) {
	m := NewManager(&mockDeleter{}, WithPreviewDir(t.TempDir()))
	err := m.Stage([]Selected{png("a.png", 100), {Filename: "notes.txt", Data: []byte("just some text")}})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Zero(t, m.StagedCount())
}

func TestPreviewLifecycle(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(&mockDeleter{}, WithPreviewDir(dir))
	require.NoError(t, m.Stage([]Selected{png("a.png", 512), pdf("b.pdf", 512), png("c.png", 512)}))

	list := m.List()
	require.Len(t, list, 3)
	a := list[0].(*Staged)
	b := list[1].(*Staged)
	c := list[2].(*Staged)
	assert.Empty(t, b.PreviewPath())
	pathA, pathC := a.PreviewPath(), c.PreviewPath()
	require.FileExists(t, pathA)
	require.FileExists(t, pathC)

	require.NoError(t, m.Unstage(0))
	assert.NoFileExists(t, pathA)
	assert.FileExists(t, pathC)

	m.Close()
	assert.NoFileExists(t, pathC)
	assert.ErrorIs(t, m.Stage([]Selected{png("d.png", 10)}), ErrClosed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteOneSurvivesRefetch(t *testing.T) {
	d := &mockDeleter{}
	d.On("DeleteFile", mock.Anything, "f1-key.jpg").Return(nil).Once()
	m := NewManager(d)

	server := []model.File{
		{ID: "f1", Filename: "f1-key.jpg", OriginalFilename: "kitchen.jpg"},
		{ID: "f2", Filename: "f2-key.pdf", OriginalFilename: "quote.pdf"},
	}
	m.Refresh(server)

	require.NoError(t, m.DeleteOne(context.Background(), "f1"))
	m.Refresh(server)

	ids := []string{}
	for _, f := range m.Persisted() {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"f2"}, ids)
	d.AssertExpectations(t)
}

func TestDeleteOneFailureKeepsFile(t *testing.T) {
	d := &mockDeleter{}
	d.On("DeleteFile", mock.Anything, "f1-key.jpg").Return(errors.New("storage unavailable"))
	m := NewManager(d)
	m.Refresh([]model.File{{ID: "f1", Filename: "f1-key.jpg"}})

	require.Error(t, m.DeleteOne(context.Background(), "f1"))
	list := m.List()
	require.Len(t, list, 1)
	assert.False(t, list[0].(*Persisted).Deleting)
	assert.False(t, m.Deleting("f1"))
}

func TestDeleteRequiresFilename(t *testing.T) {
	m := NewManager(&mockDeleter{})
	m.Refresh([]model.File{{ID: "f1"}})
	assert.ErrorIs(t, m.DeleteOne(context.Background(), "f1"), ErrNoFilename)
	assert.ErrorIs(t, m.DeleteOne(context.Background(), "nope"), ErrNotFound)
}

type blockingDeleter struct {
	started chan struct{}
	finish  chan error
}

func (b *blockingDeleter) DeleteFile(ctx context.Context, _ string) error {
	b.started <- struct{}{}
	return <-b.finish
}

func (b *blockingDeleter) DeleteFiles(ctx context.Context, _ []string) error {
	b.started <- struct{}{}
	return <-b.finish
}

func TestDeleteOneMarksDeleting(t *testing.T) {
	d := &blockingDeleter{started: make(chan struct{}), finish: make(chan error)}
	m := NewManager(d)
	m.Refresh([]model.File{{ID: "f1", Filename: "f1.jpg"}, {ID: "f2", Filename: "f2.jpg"}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.DeleteOne(context.Background(), "f1"))
	}()
	<-d.started

	assert.True(t, m.Deleting("f1"))
	assert.False(t, m.Deleting("f2"))
	assert.ErrorIs(t, m.DeleteOne(context.Background(), "f1"), inflight.ErrBusy)
	assert.ErrorIs(t, m.DeleteMany(context.Background(), []string{"f2", "f1"}), inflight.ErrBusy)
	assert.False(t, m.Deleting("f2"))

	d.finish <- nil
	wg.Wait()
	assert.False(t, m.Deleting("f1"))
	assert.Len(t, m.Persisted(), 1)
}

func TestDeleteTombstoneSurvivesRefetchDuringCall(t *testing.T) {
	d := &blockingDeleter{started: make(chan struct{}), finish: make(chan error)}
	m := NewManager(d)
	f1 := model.File{ID: "f1", Filename: "f1.jpg"}
	m.Refresh([]model.File{f1})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.DeleteOne(context.Background(), "f1"))
	}()
	<-d.started

	// A refetch that already lacks the file lands before the delete returns.
	m.Refresh(nil)
	d.finish <- nil
	wg.Wait()

	// A later, stale read still carries it.
	m.Refresh([]model.File{f1})
	assert.Empty(t, m.Persisted())

	m.Refresh([]model.File{{ID: "f1-copy", Filename: "f1.jpg"}})
	assert.Empty(t, m.Persisted())
}

func TestDeleteManyAllOrNothing(t *testing.T) {
	d := &mockDeleter{}
	d.On("DeleteFiles", mock.Anything, []string{"a.jpg", "b.pdf"}).Return(errors.New("partial failure")).Once()
	d.On("DeleteFiles", mock.Anything, []string{"a.jpg", "b.pdf"}).Return(nil).Once()
	m := NewManager(d)
	server := []model.File{{ID: "a", Filename: "a.jpg"}, {ID: "b", Filename: "b.pdf"}, {ID: "c", Filename: "c.png"}}
	m.Refresh(server)

	require.Error(t, m.DeleteMany(context.Background(), []string{"a", "b"}))
	assert.Len(t, m.Persisted(), 3)

	require.NoError(t, m.DeleteMany(context.Background(), []string{"a", "b"}))
	m.Refresh(server)
	require.Len(t, m.Persisted(), 1)
	assert.Equal(t, "c", m.Persisted()[0].ID)
	d.AssertExpectations(t)
}

func TestUploadsAndClearStaged(t *testing.T) {
	m := NewManager(&mockDeleter{}, WithPreviewDir(t.TempDir()))
	require.NoError(t, m.Stage([]Selected{png("a.png", 64), pdf("b.pdf", 64)}))

	ups, err := m.Uploads()
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, "image/png", ups[0].ContentType)
	assert.Equal(t, "application/pdf", ups[1].ContentType)

	m.ClearStaged()
	assert.Zero(t, m.StagedCount())
}

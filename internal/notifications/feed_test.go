package notifications

import (
	"context"
	"errors"
	"testing"

	"tileworks/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Notifications(ctx context.Context, page, size int) (*model.Page[model.Notification], error) {
	args := m.Called(ctx, page, size)
	p, _ := args.Get(0).(*model.Page[model.Notification])
	return p, args.Error(1)
}

func (m *mockSource) MarkNotificationRead(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func loadedFeed(t *testing.T, src *mockSource) *Feed {
	t.Helper()
	src.On("Notifications", mock.Anything, 0, 20).Return(&model.Page[model.Notification]{
		Content: []model.Notification{
			{ID: "n1", Message: "New booking TW-1"},
			{ID: "n2", Message: "New booking TW-2", IsRead: true},
			{ID: "n3", Message: "Booking TW-3 updated"},
		},
		TotalPages: 2,
	}, nil).Once()
	f := NewFeed(src, 20, nil)
	require.NoError(t, f.Fetch(context.Background()))
	return f
}

func TestMarkReadOptimistic(t *testing.T) {
	src := &mockSource{}
	f := loadedFeed(t, src)
	assert.Equal(t, 2, f.Unread())

	src.On("MarkNotificationRead", mock.Anything, "n1").Return(nil).Once()
	require.NoError(t, f.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 1, f.Unread())
	assert.True(t, f.Items()[0].IsRead)

	require.NoError(t, f.MarkRead(context.Background(), "n2"))
	src.AssertNumberOfCalls(t, "MarkNotificationRead", 1)
}

func TestMarkReadRollsBack(t *testing.T) {
	src := &mockSource{}
	f := loadedFeed(t, src)

	src.On("MarkNotificationRead", mock.Anything, "n3").
		Run(func(mock.Arguments) {
			assert.True(t, f.Items()[2].IsRead, "flag is set before the call resolves")
		}).
		Return(errors.New("server error")).Once()

	require.Error(t, f.MarkRead(context.Background(), "n3"))
	assert.False(t, f.Items()[2].IsRead)
	assert.Equal(t, 2, f.Unread())

	assert.ErrorIs(t, f.MarkRead(context.Background(), "zzz"), ErrNotFound)
}

func TestFeedPaging(t *testing.T) {
	src := &mockSource{}
	f := loadedFeed(t, src)
	p, total := f.Page()
	assert.Equal(t, 0, p)
	assert.Equal(t, 2, total)

	src.On("Notifications", mock.Anything, 1, 20).Return(&model.Page[model.Notification]{
		Content: []model.Notification{{ID: "n4"}}, Page: 1, TotalPages: 2,
	}, nil).Once()
	require.NoError(t, f.FetchPage(context.Background(), 1))
	require.Len(t, f.Items(), 1)
	assert.Equal(t, "n4", f.Items()[0].ID)
}

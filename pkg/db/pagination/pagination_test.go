package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	token, err := EncodeCursor(Cursor{ID: 99, CreatedAt: at})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, int64(99), cursor.ID)
	require.True(t, at.Equal(cursor.CreatedAt))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("!!!")
	require.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestTrim(t *testing.T) {
	rows := []int{5, 4, 3}
	kept, info, err := Trim(rows, 2, func(v int) Cursor { return Cursor{ID: int64(v)} })
	require.NoError(t, err)
	require.Equal(t, []int{5, 4}, kept)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	require.Equal(t, int64(4), cursor.ID)

	kept, info, err = Trim(rows, 10, func(v int) Cursor { return Cursor{ID: int64(v)} })
	require.NoError(t, err)
	require.Len(t, kept, 3)
	require.False(t, info.HasMore)
}

func TestLimit(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	require.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}

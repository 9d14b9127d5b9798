package pagination_test

import (
	"testing"

	"github.com/coursekitlabs/coursekit/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := pagination.Cursor{ID: "1829408714923", CreatedAt: "2024-02-01T12:00:00Z"}

	token, err := pagination.EncodeCursor(in)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	out, err := pagination.DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cases := []string{
		"not base64 !!",
		"aGVsbG8",                  // valid base64, not json
		"e30",                      // empty object, no id
		"eyJjcmVhdGVkX2F0IjoieCJ9", // json without id
	}
	for _, token := range cases {
		_, err := pagination.DecodeCursor(token)
		assert.ErrorIs(t, err, pagination.ErrInvalidCursor, "token %q", token)
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	token := func(v int) string { return "t" }

	// pageSize+1 rows fetched means another page exists.
	info := pagination.BuildCursorPageInfo([]int{1, 2, 3}, 2, token)
	require.NotNil(t, info)
	assert.True(t, info.HasMore)
	assert.Equal(t, "t", info.NextPageToken)

	// Exactly pageSize rows is the last page.
	info = pagination.BuildCursorPageInfo([]int{1, 2}, 2, token)
	require.NotNil(t, info)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)

	assert.Nil(t, pagination.BuildCursorPageInfo([]int{1}, 0, token))
}

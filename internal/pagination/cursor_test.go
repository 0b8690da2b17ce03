package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	id := "dft_abc123"

	encoded := Encode(ts, id)
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.CreatedAt)
	assert.Equal(t, id, cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cursor")
}

func TestDecode_MalformedPayload(t *testing.T) {
	// Valid base64 but no | separator
	_, err := Decode("bm9waXBl") // "nopipe"
	assert.Error(t, err)
}

func TestDecode_EmptyID(t *testing.T) {
	_, err := Decode(Encode(time.Now(), ""))
	assert.Error(t, err)
}

func TestComputePage_NoMore(t *testing.T) {
	items := []string{"dft_a", "dft_b", "dft_c"}
	result, cursor, hasMore := ComputePage(items, 5, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Equal(t, 3, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	items := []string{"dft_a", "dft_b", "dft_c", "dft_d"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	})
	assert.Equal(t, 3, len(result))
	assert.NotEmpty(t, cursor)
	assert.True(t, hasMore)

	// Verify cursor decodes to the last item
	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "dft_c", c.ID)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []string{"dft_a", "dft_b", "dft_c"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Equal(t, 3, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestEncodeDecodeScore_RoundTrip(t *testing.T) {
	encoded := EncodeScore(87.25, "dft_abc123")
	assert.NotEmpty(t, encoded)

	cursor, err := DecodeScore(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, 87.25, cursor.Score)
	assert.Equal(t, "dft_abc123", cursor.ID)
}

func TestDecodeScore_Empty(t *testing.T) {
	cursor, err := DecodeScore("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeScore_Invalid(t *testing.T) {
	_, err := DecodeScore("not-base64!!!")
	assert.Error(t, err)

	// Valid base64 but a non-numeric score: "oops|dft_abc123"
	_, err = DecodeScore("b29wc3xkZnRfYWJjMTIz")
	assert.Error(t, err)

	_, err = DecodeScore(EncodeScore(50, ""))
	assert.Error(t, err)
}

func TestComputeScorePage_HasMore(t *testing.T) {
	type row struct {
		id    string
		score float64
	}
	items := []row{{"dft_a", 95}, {"dft_b", 80}, {"dft_c", 80}, {"dft_d", 60}}
	result, cursor, hasMore := ComputeScorePage(items, 3, func(r row) (float64, string) {
		return r.score, r.id
	})
	assert.Equal(t, 3, len(result))
	assert.True(t, hasMore)

	c, err := DecodeScore(cursor)
	require.NoError(t, err)
	assert.Equal(t, 80.0, c.Score)
	assert.Equal(t, "dft_c", c.ID)
}

func TestComputeScorePage_NoMore(t *testing.T) {
	items := []float64{90, 70}
	result, cursor, hasMore := ComputeScorePage(items, 5, func(f float64) (float64, string) {
		return f, "dft_x"
	})
	assert.Equal(t, 2, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

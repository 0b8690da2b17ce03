package pairkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_OrderIndependent(t *testing.T) {
	ab, err := Normalize("usr_alice", "usr_bob")
	require.NoError(t, err)
	ba, err := Normalize("usr_bob", "usr_alice")
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.True(t, ab.User1 < ab.User2)
}

func TestNormalize_SameUser(t *testing.T) {
	_, err := Normalize("usr_alice", "usr_alice")
	assert.ErrorIs(t, err, ErrSameUser)
}

func TestNormalize_EmptyID(t *testing.T) {
	_, err := Normalize("", "usr_bob")
	assert.ErrorIs(t, err, ErrEmptyID)
	_, err = Normalize("usr_alice", "   ")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestParse_RoundTrip(t *testing.T) {
	k, err := Normalize("usr_9", "usr_2")
	require.NoError(t, err)

	parsed, err := Parse(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParse_RejectsUnnormalized(t *testing.T) {
	_, err := Parse("usr_b:usr_a")
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("no-separator")
	assert.Error(t, err)
	_, err = Parse(":usr_a")
	assert.Error(t, err)
}

func TestContainsAndOther(t *testing.T) {
	k, err := Normalize("usr_a", "usr_b")
	require.NoError(t, err)

	assert.True(t, k.Contains("usr_a"))
	assert.True(t, k.Contains("usr_b"))
	assert.False(t, k.Contains("usr_c"))

	assert.Equal(t, "usr_b", k.Other("usr_a"))
	assert.Equal(t, "usr_a", k.Other("usr_b"))
	assert.Equal(t, "", k.Other("usr_c"))
}

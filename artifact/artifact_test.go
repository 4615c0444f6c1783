package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convflow/core"
)

func TestSaveGetIsolation(t *testing.T) {
	store := NewInMemoryStore()
	data := []byte("hello")
	id, err := store.Save("s1", core.FilePart{Name: "report.pdf", MimeType: "application/pdf", Data: data})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Mutating the input slice must not affect the stored bytes.
	data[0] = 'H'
	art, err := store.Get("s1", id)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(art.Data))
	assert.Equal(t, "report.pdf", art.Name)
	assert.Equal(t, "application/pdf", art.MimeType)

	// Mutating the returned slice must not affect the stored bytes either.
	art.Data[0] = 'x'
	again, err := store.Get("s1", id)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(again.Data))
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Get("s1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveKeepsProvidedID(t *testing.T) {
	store := NewInMemoryStore()
	id, err := store.Save("s1", core.FilePart{ArtifactID: "fixed-id", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
}

func TestListAndDelete(t *testing.T) {
	store := NewInMemoryStore()
	id1, _ := store.Save("s1", core.FilePart{Data: []byte("a")})
	id2, _ := store.Save("s1", core.FilePart{Data: []byte("b")})

	ids, err := store.List("s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{id1, id2}, ids)

	require.NoError(t, store.Delete("s1", id1))
	assert.ErrorIs(t, store.Delete("s1", id1), ErrNotFound)

	ids, _ = store.List("s1")
	assert.Equal(t, []string{id2}, ids)
}

func TestSessionIsolation(t *testing.T) {
	store := NewInMemoryStore()
	id, _ := store.Save("s1", core.FilePart{Data: []byte("a")})

	_, err := store.Get("s2", id)
	assert.ErrorIs(t, err, ErrNotFound)

	store.DeleteSession("s1")
	_, err = store.Get("s1", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

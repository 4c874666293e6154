package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, GlobalScope, s)
	assert.True(t, s.IsGlobal())

	s, err = ParseScope("global")
	require.NoError(t, err)
	assert.Equal(t, GlobalScope, s)

	s, err = ParseScope("user:alice")
	require.NoError(t, err)
	assert.False(t, s.IsGlobal())
	assert.Equal(t, "alice", s.UserID())

	_, err = ParseScope("user:")
	assert.Error(t, err)

	_, err = ParseScope("tenant:7")
	assert.Error(t, err)
}

func TestScopeCollectionName(t *testing.T) {
	assert.Equal(t, "knowledge_global", GlobalScope.CollectionName("knowledge"))
	assert.Equal(t, "knowledge_user_3aalice", UserScope("alice").CollectionName("knowledge"))
	// The colon is hex-escaped; uppercase bytes are too, so ids differing
	// only in case map to distinct collections.
	assert.Equal(t, "knowledge_user_3a_41lice", UserScope("Alice").CollectionName("knowledge"))
	assert.NotEqual(t,
		UserScope("alice").CollectionName("knowledge"),
		UserScope("Alice").CollectionName("knowledge"))
}

func TestScopeCollectionName_Injective(t *testing.T) {
	// Ids that would collide under naive folding stay distinct.
	pairs := [][2]Scope{
		{UserScope("alice"), UserScope("Alice")},
		{UserScope("a:b"), UserScope("a_b")},
		{UserScope("a_3ab"), UserScope("a:b")},
		{UserScope("x"), Scope("user_x")},
	}
	seen := map[string]Scope{}
	for _, p := range pairs {
		for _, s := range p {
			name := s.CollectionName("knowledge")
			if prev, ok := seen[name]; ok && prev != s {
				t.Fatalf("scopes %q and %q share collection %q", prev, s, name)
			}
			seen[name] = s
		}
		assert.NotEqual(t, p[0].CollectionName("knowledge"), p[1].CollectionName("knowledge"))
	}
}

func TestScopeCollectionName_ElasticsearchSafe(t *testing.T) {
	for _, s := range []Scope{GlobalScope, UserScope("Alice"), UserScope("a:b c/d")} {
		name := s.CollectionName("knowledge")
		for i := 0; i < len(name); i++ {
			c := name[i]
			ok := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_'
			assert.True(t, ok, "byte %q in collection name %q", c, name)
		}
	}
}

func TestNewSourceDocument(t *testing.T) {
	a := NewSourceDocument([]byte("same bytes"), "a.txt", FormatPlainText, GlobalScope)
	b := NewSourceDocument([]byte("same bytes"), "b.txt", FormatPlainText, UserScope("u1"))
	c := NewSourceDocument([]byte("other bytes"), "a.txt", FormatPlainText, GlobalScope)

	// Identity is content only: names and scopes do not change the hash.
	assert.Equal(t, a.DocHash, b.DocHash)
	assert.NotEqual(t, a.DocHash, c.DocHash)
	assert.Len(t, a.DocHash, 64)
	assert.Equal(t, int64(10), a.RawBytes)
}

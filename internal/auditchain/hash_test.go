package auditchain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sha256Genesis = "901131d838b17aac0f7885b81e03cbdc9f5157a00343d30ab22083685ed1416a"

func TestHasher_sentinels(t *testing.T) {
	tests := []struct {
		algorithm string
		name      string
		sentinel  string
	}{
		{"", AlgorithmSHA256, sha256Genesis},
		{"sha-256", AlgorithmSHA256, sha256Genesis},
		{"SHA3-256", AlgorithmSHA3, "77513ac3927e95a1eb6bfb95794454821cf8a6714edafd7984edb11b7c3f93b5"},
		{"blake2b-256", AlgorithmBLAKE2b, "ec2c3c96ae227fbea824de07f78a8fb7ec8f3ee48f53c701e5e28e7c0cd5073c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHasher(tt.algorithm)
			require.NoError(t, err)
			assert.Equal(t, tt.name, h.Algorithm())
			assert.Equal(t, tt.sentinel, h.Sentinel())
			assert.True(t, IsDigest(h.Sentinel()))
		})
	}
}

func TestNewHasher_unsupported(t *testing.T) {
	_, err := NewHasher("MD5")
	assert.Error(t, err)
}

func TestEntryHash_knownVector(t *testing.T) {
	h, err := NewHasher(AlgorithmSHA256)
	require.NoError(t, err)

	e := &Entry{
		Timestamp:     time.UnixMilli(1700000000123),
		UserPrincipal: "alice",
		Action:        ActionCreateFolder,
		ResourceType:  ResourceFolder,
		ResourceID:    "folder-1",
		Metadata:      map[string]any{"z": 1.5, "b": "x", "a": []any{1, 2}},
	}
	got, err := h.EntryHash(e, h.Sentinel())
	require.NoError(t, err)
	assert.Equal(t, "4bcb263ebcc9c3706ada9103d8da0c1a2df26b55c29f34495f8c36eec4c2a413", got)
}

func TestEntryHash_coversEveryField(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)

	base := Entry{
		Timestamp:     time.UnixMilli(1700000000000),
		UserPrincipal: "alice",
		Action:        ActionUploadDocument,
		ResourceType:  ResourceFile,
		ResourceID:    "doc-1",
		Metadata:      map[string]any{"size": 10},
	}
	ref, err := h.EntryHash(&base, h.Sentinel())
	require.NoError(t, err)

	mutations := map[string]func(e *Entry){
		"timestamp":    func(e *Entry) { e.Timestamp = e.Timestamp.Add(time.Millisecond) },
		"principal":    func(e *Entry) { e.UserPrincipal = "bob" },
		"action":       func(e *Entry) { e.Action = ActionDeleteFile },
		"resourceType": func(e *Entry) { e.ResourceType = ResourceFolder },
		"resourceId":   func(e *Entry) { e.ResourceID = "doc-2" },
		"metadata":     func(e *Entry) { e.Metadata = map[string]any{"size": 11} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := base
			mutate(&e)
			got, err := h.EntryHash(&e, h.Sentinel())
			require.NoError(t, err)
			assert.NotEqual(t, ref, got)
		})
	}

	t.Run("previousHash", func(t *testing.T) {
		got, err := h.EntryHash(&base, ref)
		require.NoError(t, err)
		assert.NotEqual(t, ref, got)
	})
}

func TestCanonicalMetadata(t *testing.T) {
	s, err := CanonicalMetadata(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = CanonicalMetadata(map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = CanonicalMetadata(map[string]any{"b": 1, "a": map[string]any{"y": true, "x": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":null,"y":true},"b":1}`, s)

	_, err = CanonicalMetadata(map[string]any{"f": func() {}})
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestCanonicalMetadata_structsMatchStoredForm(t *testing.T) {
	type pair struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	s, err := CanonicalMetadata(map[string]any{"m": pair{B: 1, A: 2}, "l": []pair{{B: 3, A: 4}}})
	require.NoError(t, err)
	assert.Equal(t, `{"l":[{"a":4,"b":3}],"m":{"a":2,"b":1}}`, s)

	stored, err := decodeMetadata(s)
	require.NoError(t, err)
	again, err := CanonicalMetadata(stored)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestDecodeMetadata_roundTripsNumbers(t *testing.T) {
	const raw = `{"big":12345678901234567890,"f":0.1}`
	m, err := decodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), m["big"])

	again, err := CanonicalMetadata(m)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())
	assert.NotEqual(t, id, NewULID())
}

func TestNewULID_MonotonicWithinMillisecond(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	prev := NewULIDAt(at)
	for i := 0; i < 100; i++ {
		next := NewULIDAt(at)
		assert.Less(t, prev.String(), next.String())
		prev = next
	}
	assert.True(t, at.Equal(prev.Time()))
}

func TestParseULID(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		original := NewULID()
		s := original.String()
		assert.Len(t, s, 26)

		parsed, err := ParseULID(s)
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseULID("not-a-valid-ulid")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid ULID")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseULID("")
		assert.Error(t, err)
	})
}

func TestULID_Value(t *testing.T) {
	var zero ULID
	val, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	id := NewULID()
	val, err = id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), val)
}

func TestULID_Scan(t *testing.T) {
	validID := NewULID()
	validStr := validID.String()

	tests := []struct {
		name      string
		input     any
		expected  ULID
		expectErr bool
	}{
		{"nil sets zero", nil, ULID{}, false},
		{"valid string", validStr, validID, false},
		{"empty string sets zero", "", ULID{}, false},
		{"valid []byte", []byte(validStr), validID, false},
		{"invalid string", "bad-ulid", ULID{}, true},
		{"unsupported type int", 12345, ULID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u)
		})
	}
}

func TestULID_JSON(t *testing.T) {
	type wrapper struct {
		ID ULID `json:"id"`
	}

	id := NewULID()
	data, err := json.Marshal(wrapper{ID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal(data, &w))
	assert.Equal(t, id, w.ID)

	data, err = json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":""}`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"id":"nope"}`), &w))
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	var b BaseModel
	require.NoError(t, b.BeforeCreate(nil))
	assert.False(t, b.ID.IsZero())

	id := b.ID
	require.NoError(t, b.BeforeCreate(nil))
	assert.Equal(t, id, b.ID)
}

package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomID_Valid(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"abc", true},
		{"ABC-123_xyz", true},
		{"_private", true},
		{"a", true},
		{"12345678901234567890", true},  // exactly 20
		{"123456789012345678901", false}, // 21
		{"", false},
		{"has space", false},
		{"emoji🎵", false},
		{"slash/", false},
		{"dot.", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, RoomID(tc.id).Valid(), "id %q", tc.id)
	}
}

func TestRoomID_Private(t *testing.T) {
	assert.True(t, RoomID("_hidden").Private())
	assert.False(t, RoomID("visible").Private())
	assert.False(t, RoomID("").Private())
}

func TestCode_Error(t *testing.T) {
	err := error(CodeRoomNotFound)
	assert.Equal(t, "room-not-found", err.Error())

	// Codes survive wrapping.
	wrapped := fmt.Errorf("handling join: %w", CodeJoinRoomFull)
	var code Code
	assert.True(t, errors.As(wrapped, &code))
	assert.Equal(t, CodeJoinRoomFull, code)
}

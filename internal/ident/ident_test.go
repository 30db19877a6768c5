package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoomCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"aaaa-bbbb", "aaaa-bbbb"},
		{"AAAA-BBBB", "aaaa-bbbb"},
		{"  Fun Room 42  ", "funroom42"},
		{"ab", ""},
		{"a!b@c#d$", "abcd"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeRoomCode(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeRoomCode_CapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "x"
	}
	got := NormalizeRoomCode(long)
	assert.Len(t, got, MaxRoomCodeLen)
}

func TestNormalizePlayerName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", NormalizePlayerName("  Ada \t Lovelace \n"))
	assert.Equal(t, "", NormalizePlayerName("   "))

	long := "abcdefghijklmnopqrstuvwxyz"
	assert.Equal(t, "abcdefghijklmnopqrstuv", NormalizePlayerName(long))
}

func TestNormalizeClientID(t *testing.T) {
	assert.Equal(t, "client_1-a", NormalizeClientID(" Client_1-A "))
	assert.Equal(t, "", NormalizeClientID("!!!"))
}

func TestNameKey_FoldsCase(t *testing.T) {
	assert.Equal(t, NameKey("ADA"), NameKey("ada"))
	assert.Equal(t, NameKey("  ada  "), NameKey("Ada"))
	assert.NotEqual(t, NameKey("ada"), NameKey("adam"))
	assert.Equal(t, "", NameKey("  "))
}

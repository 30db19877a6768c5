package game

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFixture(t *testing.T, mutate func(m map[string]any)) json.RawMessage {
	t.Helper()
	board := make([]any, BoardPoints)
	for i := range board {
		board[i] = 0
	}
	m := map[string]any{
		"board":              board,
		"bar":                map[string]any{"player": 0, "ai": 0},
		"off":                map[string]any{"player": 0, "ai": 0},
		"turn":               "player",
		"dice":               []any{3, 5},
		"diceOwners":         []any{},
		"remainingDice":      []any{3, 5},
		"awaitingRoll":       false,
		"openingRollPending": false,
		"showNoMoveDice":     false,
		"gameOver":           false,
		"winnerSide":         "",
		"resignedBySide":     "",
		"syncSeq":            1,
		"senderSide":         "player",
		"senderName":         "Ada",
		"message":            "",
	}
	if mutate != nil {
		mutate(m)
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestDecode_AcceptsWellFormedPayload(t *testing.T) {
	s, err := Decode(rawFixture(t, nil))
	require.NoError(t, err)
	assert.Len(t, s.Board, BoardPoints)
	assert.Equal(t, []int{3, 5}, s.Dice)
	assert.Equal(t, 1, s.SyncSeq)
	assert.Equal(t, "Ada", s.SenderName)
}

func TestDecode_RejectsWrongShape(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m map[string]any)
		raw    json.RawMessage
	}{
		{name: "not an object", raw: json.RawMessage(`[1,2,3]`)},
		{name: "not json", raw: json.RawMessage(`syncSeq=1`)},
		{name: "board is object", mutate: func(m map[string]any) { m["board"] = map[string]any{} }},
		{name: "board missing", mutate: func(m map[string]any) { delete(m, "board") }},
		{name: "board wrong length", mutate: func(m map[string]any) { m["board"] = []any{0, 0, 0} }},
		{name: "bar is array", mutate: func(m map[string]any) { m["bar"] = []any{} }},
		{name: "off missing", mutate: func(m map[string]any) { delete(m, "off") }},
		{name: "dice is string", mutate: func(m map[string]any) { m["dice"] = "3,5" }},
		{name: "diceOwners missing", mutate: func(m map[string]any) { delete(m, "diceOwners") }},
		{name: "remainingDice is number", mutate: func(m map[string]any) { m["remainingDice"] = 2 }},
		{name: "board holds strings", mutate: func(m map[string]any) {
			board := make([]any, BoardPoints)
			for i := range board {
				board[i] = "x"
			}
			m["board"] = board
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := tc.raw
			if raw == nil {
				raw = rawFixture(t, tc.mutate)
			}
			_, err := Decode(raw)
			assert.ErrorIs(t, err, ErrBadShape)
		})
	}
}

func TestDecode_ClampsEnumsAndText(t *testing.T) {
	s, err := Decode(rawFixture(t, func(m map[string]any) {
		m["turn"] = "referee"
		m["winnerSide"] = "nobody"
		m["resignedBySide"] = "ai"
		m["senderSide"] = "spectator"
		m["syncSeq"] = -4
		m["senderName"] = "  Ada   Lovelace  "
		m["message"] = strings.Repeat("x", 500)
	}))
	require.NoError(t, err)
	assert.Equal(t, SidePlayer, s.Turn)
	assert.Equal(t, "", s.WinnerSide)
	assert.Equal(t, SideAI, s.ResignedBySide)
	assert.Equal(t, SidePlayer, s.SenderSide)
	assert.Equal(t, 0, s.SyncSeq)
	assert.Equal(t, "Ada Lovelace", s.SenderName)
	assert.Len(t, s.Message, 220)
}

func TestDecode_TruncatesMessageByRunes(t *testing.T) {
	s, err := Decode(rawFixture(t, func(m map[string]any) {
		m["message"] = strings.Repeat("é", 300)
	}))
	require.NoError(t, err)
	assert.Equal(t, 220, utf8.RuneCountInString(s.Message))
	assert.True(t, utf8.ValidString(s.Message))
}

func TestFingerprint_IgnoresEnvelope(t *testing.T) {
	a, err := Decode(rawFixture(t, nil))
	require.NoError(t, err)
	b, err := Decode(rawFixture(t, func(m map[string]any) {
		m["syncSeq"] = 9
		m["senderSide"] = "ai"
		m["senderName"] = "Someone Else"
		m["message"] = "hello"
	}))
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c, err := Decode(rawFixture(t, func(m map[string]any) {
		m["dice"] = []any{6, 6}
	}))
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestForceEnded(t *testing.T) {
	s, err := Decode(rawFixture(t, func(m map[string]any) {
		m["awaitingRoll"] = true
		m["remainingDice"] = []any{3}
		m["diceOwners"] = []any{"player"}
	}))
	require.NoError(t, err)

	ended := s.ForceEnded()
	require.NotNil(t, ended)
	assert.True(t, ended.GameOver)
	assert.False(t, ended.AwaitingRoll)
	assert.Empty(t, ended.RemainingDice)
	assert.Empty(t, ended.DiceOwners)
	assert.Equal(t, "", ended.WinnerSide)
	assert.Equal(t, EndedMessage, ended.Message)

	// original untouched
	assert.False(t, s.GameOver)
	assert.True(t, s.AwaitingRoll)

	assert.Nil(t, ended.ForceEnded())
	var nilSnap *Snapshot
	assert.Nil(t, nilSnap.ForceEnded())
}

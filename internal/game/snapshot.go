// Package game defines the shared snapshot payload at this service's
// boundary: structural validation, the content fingerprint, and the
// sequence-number discipline that keeps dual-delivery ordering sane.
// Game rules themselves live in the peers; this layer only checks shape.
package game

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/jhilbert/bg/internal/ident"
)

const (
	SidePlayer = "player"
	SideAI     = "ai"

	BoardPoints   = 24
	maxMessageLen = 220

	// EndedMessage is stamped on a snapshot force-ended because the room
	// emptied out.
	EndedMessage = "Game ended because all players left the room."
)

var ErrBadShape = errors.New("game: snapshot has wrong shape")

// Checkers counts checkers per side on the bar or borne off.
type Checkers struct {
	Player int `json:"player"`
	AI     int `json:"ai"`
}

// Snapshot is the full shared game state carried by every state-sync
// message. Opaque to the coordinator beyond the shape checks in Decode.
type Snapshot struct {
	Board              []int    `json:"board"`
	Bar                Checkers `json:"bar"`
	Off                Checkers `json:"off"`
	Turn               string   `json:"turn"`
	Dice               []int    `json:"dice"`
	DiceOwners         []string `json:"diceOwners"`
	RemainingDice      []int    `json:"remainingDice"`
	AwaitingRoll       bool     `json:"awaitingRoll"`
	OpeningRollPending bool     `json:"openingRollPending"`
	ShowNoMoveDice     bool     `json:"showNoMoveDice"`
	GameOver           bool     `json:"gameOver"`
	WinnerSide         string   `json:"winnerSide"`
	ResignedBySide     string   `json:"resignedBySide"`
	SyncSeq            int      `json:"syncSeq"`
	SenderSide         string   `json:"senderSide"`
	SenderName         string   `json:"senderName"`
	Message            string   `json:"message"`
}

// rawSnapshot keeps the container fields raw so Decode can tell a
// missing or mistyped field from an empty one.
type rawSnapshot struct {
	Board         json.RawMessage `json:"board"`
	Bar           json.RawMessage `json:"bar"`
	Off           json.RawMessage `json:"off"`
	Dice          json.RawMessage `json:"dice"`
	DiceOwners    json.RawMessage `json:"diceOwners"`
	RemainingDice json.RawMessage `json:"remainingDice"`

	Turn               string `json:"turn"`
	AwaitingRoll       bool   `json:"awaitingRoll"`
	OpeningRollPending bool   `json:"openingRollPending"`
	ShowNoMoveDice     bool   `json:"showNoMoveDice"`
	GameOver           bool   `json:"gameOver"`
	WinnerSide         string `json:"winnerSide"`
	ResignedBySide     string `json:"resignedBySide"`
	SyncSeq            int    `json:"syncSeq"`
	SenderSide         string `json:"senderSide"`
	SenderName         string `json:"senderName"`
	Message            string `json:"message"`
}

func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '['
		}
	}
	return false
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '{'
		}
	}
	return false
}

// Decode validates the structure of a state-sync payload and returns the
// normalized snapshot. Enum-ish strings are clamped rather than rejected;
// only shape problems return ErrBadShape.
func Decode(raw json.RawMessage) (*Snapshot, error) {
	if !isJSONObject(raw) {
		return nil, ErrBadShape
	}
	var rs rawSnapshot
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, ErrBadShape
	}
	if !isJSONArray(rs.Board) || !isJSONObject(rs.Bar) || !isJSONObject(rs.Off) {
		return nil, ErrBadShape
	}
	if !isJSONArray(rs.Dice) || !isJSONArray(rs.DiceOwners) || !isJSONArray(rs.RemainingDice) {
		return nil, ErrBadShape
	}

	s := &Snapshot{
		Turn:               SidePlayer,
		AwaitingRoll:       rs.AwaitingRoll,
		OpeningRollPending: rs.OpeningRollPending,
		ShowNoMoveDice:     rs.ShowNoMoveDice,
		GameOver:           rs.GameOver,
	}
	if err := json.Unmarshal(rs.Board, &s.Board); err != nil || len(s.Board) != BoardPoints {
		return nil, ErrBadShape
	}
	if err := json.Unmarshal(rs.Bar, &s.Bar); err != nil {
		return nil, ErrBadShape
	}
	if err := json.Unmarshal(rs.Off, &s.Off); err != nil {
		return nil, ErrBadShape
	}
	if err := json.Unmarshal(rs.Dice, &s.Dice); err != nil {
		return nil, ErrBadShape
	}
	if err := json.Unmarshal(rs.DiceOwners, &s.DiceOwners); err != nil {
		return nil, ErrBadShape
	}
	if err := json.Unmarshal(rs.RemainingDice, &s.RemainingDice); err != nil {
		return nil, ErrBadShape
	}

	if rs.Turn == SideAI {
		s.Turn = SideAI
	}
	s.WinnerSide = clampSide(rs.WinnerSide)
	s.ResignedBySide = clampSide(rs.ResignedBySide)
	if rs.SyncSeq > 0 {
		s.SyncSeq = rs.SyncSeq
	}
	s.SenderSide = SidePlayer
	if rs.SenderSide == SideAI {
		s.SenderSide = SideAI
	}
	s.SenderName = ident.NormalizePlayerName(rs.SenderName)
	s.Message = rs.Message
	if runes := []rune(s.Message); len(runes) > maxMessageLen {
		s.Message = string(runes[:maxMessageLen])
	}
	return s, nil
}

func clampSide(v string) string {
	switch v {
	case SidePlayer, SideAI:
		return v
	default:
		return ""
	}
}

// Fingerprint hashes the semantically meaningful fields, skipping the
// envelope (seq, sender identity) and free text. Two snapshots with the
// same fingerprint describe the same game position.
func (s *Snapshot) Fingerprint() string {
	c := *s
	c.SyncSeq = 0
	c.SenderSide = ""
	c.SenderName = ""
	c.Message = ""
	b, err := json.Marshal(&c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// ForceEnded returns a copy marked as over with play state cleared, used
// when the last session leaves so a later joiner never sees a stale
// in-progress game. Returns nil if the game is already over.
func (s *Snapshot) ForceEnded() *Snapshot {
	if s == nil || s.GameOver {
		return nil
	}
	c := *s
	c.GameOver = true
	c.WinnerSide = ""
	c.ResignedBySide = ""
	c.AwaitingRoll = false
	c.RemainingDice = []int{}
	c.DiceOwners = []string{}
	c.Message = EndedMessage
	return &c
}

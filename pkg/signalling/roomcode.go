package signalling

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultNickname is used when a client joins without one.
	DefaultNickname = "Anonymous"

	// MaxNicknameLength bounds nicknames, in runes.
	MaxNicknameLength = 20
)

// Room codes are two letters followed by five digits, e.g. ME12345.
var roomCodePattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{5}$`)

// NormalizeRoomCode trims and uppercases a user-supplied room code.
// Input is case-insensitive; the canonical form is uppercase.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether code is a well-formed (normalized) room code.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// NormalizeNickname trims a nickname and substitutes the default for an
// empty one. It does not enforce the length bound; see ValidNickname.
func NormalizeNickname(nickname string) string {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return DefaultNickname
	}
	return nickname
}

// ValidNickname reports whether nickname fits the length bound.
func ValidNickname(nickname string) bool {
	return utf8.RuneCountInString(nickname) <= MaxNicknameLength
}

package steam

import (
	"net/url"
	"strings"
)

// steamID64Prefix is shared by every individual account's 64-bit ID.
const steamID64Prefix = "7656119"

// IsSteamID64 reports whether s is a 17-digit individual-account SteamID64.
func IsSteamID64(s string) bool {
	if len(s) != 17 || !strings.HasPrefix(s, steamID64Prefix) {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// IsValidVanityName reports whether s can be a custom profile URL name.
// This is exported for use by the server to reject path traversal and
// query injection before anything reaches the upstream API.
func IsValidVanityName(s string) bool {
	if len(s) < 2 || len(s) > 32 {
		return false
	}
	for _, ch := range s {
		if (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') &&
			(ch < '0' || ch > '9') && ch != '_' && ch != '-' {
			return false
		}
	}
	return true
}

// Identifier is a parsed account identifier.
type Identifier struct {
	// Value is either a SteamID64 or a vanity name.
	Value  string
	Vanity bool
}

// ParseIdentifier accepts a SteamID64, a vanity name, or a community profile
// URL (https://steamcommunity.com/profiles/<id> or /id/<name>).
func ParseIdentifier(input string) (Identifier, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Identifier{}, ErrInvalidID
	}

	if strings.Contains(s, "steamcommunity.com/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return Identifier{}, ErrInvalidID
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 {
			return Identifier{}, ErrInvalidID
		}
		switch parts[0] {
		case "profiles":
			if !IsSteamID64(parts[1]) {
				return Identifier{}, ErrInvalidID
			}
			return Identifier{Value: parts[1]}, nil
		case "id":
			if !IsValidVanityName(parts[1]) {
				return Identifier{}, ErrInvalidID
			}
			return Identifier{Value: parts[1], Vanity: true}, nil
		default:
			return Identifier{}, ErrInvalidID
		}
	}

	if IsSteamID64(s) {
		return Identifier{Value: s}, nil
	}
	// A bare number that is not a SteamID64 is almost certainly a typo, not a vanity name.
	if isDigits(s) {
		return Identifier{}, ErrInvalidID
	}
	if IsValidVanityName(s) {
		return Identifier{Value: s, Vanity: true}, nil
	}
	return Identifier{}, ErrInvalidID
}

// IsValidIdentifier reports whether ParseIdentifier would accept input.
func IsValidIdentifier(input string) bool {
	_, err := ParseIdentifier(input)
	return err == nil
}

func isDigits(s string) bool {
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return s != ""
}

package recommend

import (
	"fmt"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/gameshelf/pkg/library"
)

// maxLibraryTitles caps how much of the owner's library goes into a prompt.
const maxLibraryTitles = 15

const promptTemplate = `You recommend PC games available on Steam.

The player enjoys this game:
%s

Their most played games are:
%s

Suggest up to %d other Steam games this player would likely enjoy because they resemble the game above in genre, mechanics or mood.
Prefer well reviewed games. Do not suggest the game itself. Games from the player's library are allowed only if they are a very close match.
For each suggestion give the exact Steam store title and one short sentence explaining the similarity.`

// BuildPrompt describes game and the owner's taste for the model.
func BuildPrompt(game *library.Game, lib *library.Library) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Title: %s\n", game.Name)
	if names := genreNames(game); len(names) > 0 {
		fmt.Fprintf(&b, "- Genres: %s\n", strings.Join(names, ", "))
	}
	if len(game.Developers) > 0 {
		fmt.Fprintf(&b, "- Developer: %s\n", strings.Join(game.Developers, ", "))
	}
	if game.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", game.Description)
	}
	fmt.Fprintf(&b, "- Hours played: %.1f", game.Hours())

	return fmt.Sprintf(promptTemplate, b.String(), topTitles(lib, game.AppID), maxSuggestions)
}

func genreNames(game *library.Game) []string {
	names := make([]string, 0, len(game.Genres))
	for _, g := range game.Genres {
		names = append(names, g.Description)
	}
	return names
}

// topTitles lists the most played games other than exclude, one per line.
func topTitles(lib *library.Library, exclude int) string {
	if lib == nil {
		return "(unknown)"
	}
	games := slices.Clone(lib.Games)
	slices.SortStableFunc(games, func(a, b library.Game) int {
		return b.PlaytimeForever - a.PlaytimeForever
	})

	var lines []string
	for i := range games {
		if len(lines) == maxLibraryTitles {
			break
		}
		if games[i].AppID == exclude || games[i].PlaytimeForever == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%.0f hours)", games[i].Name, games[i].Hours()))
	}
	if len(lines) == 0 {
		return "(none yet)"
	}
	return strings.Join(lines, "\n")
}

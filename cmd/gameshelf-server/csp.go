package main

import (
	"fmt"
	"os"
	"strings"
)

// cspPolicy returns the Content Security Policy for every page.
func cspPolicy() string {
	directives := []string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
	}

	// Game art and avatars come from Steam's CDNs.
	imgSrcs := []string{
		"'self'",
		"data:",
		"https://cdn.akamai.steamstatic.com",
		"https://shared.akamai.steamstatic.com",
		"https://shared.fastly.steamstatic.com",
		"https://cdn.cloudflare.steamstatic.com",
		"https://steamcdn-a.akamaihd.net",
		"https://avatars.steamstatic.com",
		"https://avatars.akamai.steamstatic.com",
		"https://avatars.fastly.steamstatic.com",
		"https://media.steampowered.com",
	}
	directives = append(directives,
		fmt.Sprintf("img-src %s", strings.Join(imgSrcs, " ")),
		"font-src 'self'",
		"connect-src 'self'",
		"frame-src 'none'",
		"object-src 'none'",
		"base-uri 'self'",
		"form-action 'self'",
		"media-src 'none'",
	)

	if os.Getenv("PRODUCTION") == "true" {
		directives = append(directives, "upgrade-insecure-requests")
	}
	return strings.Join(directives, "; ")
}

package version

import (
	"fmt"
	"github.com/thushan/codex-helper-proxy/theme"
	"log"
	"runtime"
	"strings"
)

var (
	Name        = "codex-helper-proxy"
	ShortName   = "codex-helper"
	Authors     = "Thushan Fernando"
	Description = "Local reverse proxy for coding-assistant CLIs"
	Version     = "v0.0.1"
	Edition     = "community"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
	Runtime     = runtime.Version()

	// Capabilities lists the routing features this build exposes via
	// GET /internal/version, not anything negotiated over the wire.
	Capabilities = []string{
		"priority-fallback",
		"model-routing",
		"retry-with-backoff",
		"usage-tracking",
		"request-logging",
		"session-override",
	}

	// SupportedBackends lists the upstream providers this proxy has been
	// exercised against; it is informational, not an allowlist.
	SupportedBackends = []string{
		"openai",
		"anthropic",
		"azure-openai",
	}
)

const (
	GithubHomeText  = "github.com/thushan/codex-helper-proxy"
	GithubHomeUri   = "https://github.com/thushan/codex-helper-proxy"
	GithubLatestUri = "https://github.com/thushan/codex-helper-proxy/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)
	padLatest := fmt.Sprintf("%*s", 1-len(Version), "")
	padBuffer := fmt.Sprintf("%*s", 2, "")

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔────────────────────────────────────────────────────────╗
│                                      ⠀⠀⣀⣀⠀⠀⠀⠀⠀⣀⣀⠀⠀     │
│                                      ⠀⢰⡏⢹⡆⠀⠀⠀⢰⡏⢹⡆⡀     │ 
│   ██████╗ ██╗     ██╗      █████╗    ⠀⢸⡇⣸⡷⠟⠛⠻⢾⣇⣸⡇      │
│  ██╔═══██╗██║     ██║     ██╔══██╗   ⢠⡾⠛⠉⠁⠀⠀⠀⠈⠉⠛⢷⡄     │
│  ██║   ██║██║     ██║     ███████║   ⣿⠀⢀⣄⢀⣠⣤⣄⡀⣠⡀⠀⣿     │
│  ██║   ██║██║     ██║     ██╔══██║   ⢻⣄⠘⠋⡞⠉⢤⠉⢳⠙⠃⢠⡿⡀    │
│  ╚██████╔╝███████╗███████╗██║  ██║   ⣼⠃⠀⠀⠳⠤⠬⠤⠞⠀⠀⠘⣷     │
│                                      ⢸⡟⠀⠀⠀⠀⠀⠀⠀⠀⠀⢸⡇     │` + "\n"))

	b.WriteString(theme.ColourSplash("│ "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(padLatest)
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(padBuffer)
	b.WriteString(theme.ColourSplash(" ⢸⡅⠀⠀⠀⠀⠀⠀⠀⠀⠀⢀⡿     │\n"))
	b.WriteString(theme.ColourSplash("╚────────────────────────────────────────────────────────╝"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}

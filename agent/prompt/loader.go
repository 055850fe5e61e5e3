package prompt

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed template/system.txt
var systemRaw string

// System returns the agent's system prompt. When path names a readable
// file its contents override the embedded default, so operators can tune
// the persona without rebuilding.
func System(path string) string {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil && strings.TrimSpace(string(raw)) != "" {
			return strings.TrimSpace(string(raw))
		}
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("system prompt override unreadable, using embedded default")
		}
	}
	return strings.TrimSpace(systemRaw)
}

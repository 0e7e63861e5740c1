package commands

import (
	"hash/fnv"
	"log/slog"
	"os"

	"github.com/clusterfs/fleetmgmtd/internal/logger"
	"github.com/clusterfs/fleetmgmtd/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) {
	logger.Init(parseLevel(cfg.Logging.Level), parseFormat(cfg.Logging.Format))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseFormat(format string) logger.Format {
	if format == "json" {
		return logger.FormatJSON
	}
	return logger.FormatText
}

// deriveChannelSecret reads the shared secret file and folds it down to
// the 64-bit value ChannelAuth compares against. A missing or empty
// AuthFile means the wire channel runs unauthenticated, per spec.md
// §4.B.
func deriveChannelSecret(authFile string) (secret uint64, hasAuth bool, err error) {
	if authFile == "" {
		return 0, false, nil
	}
	data, err := os.ReadFile(authFile)
	if err != nil {
		return 0, false, err
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64(), true, nil
}

package corpus

import (
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/config"
)

// Documents resolves the full, ordered document list of a run. A decade
// selects its list file from IndexDir; otherwise IndexFile is read; with
// neither, the ids are taken from the length-n directory under Root.
func Documents(cfg config.CorpusConfig, n int) ([]string, error) {
	log := slog.Default().With("component", "corpus")
	path := cfg.IndexFile
	if cfg.Decade != "" && cfg.IndexDir != "" {
		selected, err := SelectDecade(cfg.IndexDir, cfg.Decade)
		if err != nil {
			return nil, err
		}
		path = selected
	}
	if path == "" {
		ids, err := ListDirectory(cfg.Root, n)
		if err != nil {
			return nil, err
		}
		log.Info("document list derived from corpus directory", "length", n, "documents", len(ids))
		return ids, nil
	}
	ids, err := LoadIndex(path, cfg.IndexColumn, cfg.IndexHeader)
	if err != nil {
		return nil, err
	}
	log.Info("document list loaded", "path", path, "documents", len(ids))
	return ids, nil
}

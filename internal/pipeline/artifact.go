package pipeline

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// LatestArtifact returns the name of the newest file in dir with the
// given extension. Equal modification times tie-break on the greater
// name, keeping the choice deterministic within a run.
func LatestArtifact(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read artifacts dir: %w", err)
	}

	var bestName string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if bestName == "" || mod.After(bestMod) || (mod.Equal(bestMod) && e.Name() > bestName) {
			bestName = e.Name()
			bestMod = mod
		}
	}
	if bestName == "" {
		return "", ErrNoArtifact
	}
	return bestName, nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/matelearn/pkg/engine"
	"github.com/chazu/matelearn/pkg/feature"
)

// loadCatalog reads one assembly sample. Script catalogs (.lisp, .zy) run
// through the catalog engine; everything else is decoded as JSON.
func loadCatalog(path string) ([]feature.Part, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lisp", ".zy":
		return engine.NewEngine().EvaluateFile(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		parts, err := feature.DecodeCatalog(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return parts, nil
	}
}

package store

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/orneryd/graphstore/pkg/rdf"
)

type action string

const (
	actionAdd    action = "ADD"
	actionUpdate action = "UPDATE"
	actionDelete action = "DELETE"
)

// actionLog writes one N-Quads file per completed write:
//
//	<dir>/<escaped graph name>/on-<unix millis>-<ACTION>.nq
//
// A delete writes an empty file. Failures are logged and never returned.
type actionLog struct {
	dir string
	log *slog.Logger
	now func() time.Time
}

func (a *actionLog) record(act action, name string, g *rdf.Graph) {
	if a == nil {
		return
	}
	if err := a.write(act, name, g); err != nil {
		a.log.Warn("action log write failed", "graph", name, "action", act, "error", err)
	}
}

func (a *actionLog) write(act action, name string, g *rdf.Graph) error {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	dir := filepath.Join(a.dir, url.PathEscape(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("on-%d-%s.nq", now().UnixMilli(), act))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if g != nil {
		if err := rdf.WriteNQuads(f, name, g); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// Package assets embeds the Lua migration payloads Hydrogen ships with, so
// a database config can reference "PAYLOAD:core" instead of a filesystem
// path (spec.md §4.5 "Discovery"). Anything under PATH:<dir> instead goes
// straight to the OS filesystem and never touches this package.
package assets

import (
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

//go:embed payloads
var payloadFS embed.FS

// File is one embedded migration script.
type File struct {
	Name string
	Data []byte
}

// List returns every ".lua" file embedded under payloads/<name>, sorted by
// filename. The migration engine re-sorts these by trailing numeric
// component; this sort only makes List's own output deterministic.
func List(name string) ([]File, error) {
	dir := "payloads/" + name
	entries, err := fs.ReadDir(payloadFS, dir)
	if err != nil {
		return nil, herr.Wrap(herr.NotFound, "resolving payload set "+name, err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		data, err := payloadFS.ReadFile(dir + "/" + e.Name())
		if err != nil {
			return nil, herr.Wrap(herr.Internal, "reading payload "+e.Name(), err)
		}
		files = append(files, File{Name: e.Name(), Data: data})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Package migration implements the two-phase LOAD/APPLY migration engine
// (spec.md §4.5): Lua scripts compile to cross-dialect SQL batches in LOAD,
// then APPLY executes each batch transactionally against a Lead-owned
// connection and records it in the migration log.
package migration

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/assets"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// Direction is forward (apply) or reverse (undo), per spec.md §3 "Migration".
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// QueryDelimiter separates independent statements within one migration's
// compiled SQL batch.
const QueryDelimiter = "-- QUERY DELIMITER"

// Migration is one discovered, loaded migration file. ID is assigned by
// discovery order, not parsed from the filename directly: the filename's
// trailing numeric component only decides sort order (spec.md §4.5
// "Discovery").
type Migration struct {
	ID        int
	FileName  string
	Source    string
	Direction Direction
	SQL       string // compiled by LOAD; still carries unsubstituted hash macros
}

// LogEntry mirrors one row of migrations_log.
type LogEntry struct {
	ID        int
	File      string
	AppliedAt time.Time
	Direction Direction
}

// discoveredFile is a migration file before LOAD has compiled it.
type discoveredFile struct {
	Name string
	Data []byte
}

// reverseMarker flags a file as the reverse companion of the forward
// migration sharing its trailing numeric id (e.g.
// "create_accounts_table_reverse_0003.lua" undoes id 3). The spec leaves the
// reverse-file naming convention unspecified; this is a Hydrogen decision
// documented in the design notes, not a spec requirement.
const reverseMarker = "_reverse_"

// Discover resolves source ("PAYLOAD:<name>" or "PATH:<dir>") to its
// forward migration files, sorted by the trailing numeric component of the
// basename, ties broken lexicographically (spec.md §4.5 "Discovery").
// Reverse companions are excluded; use DiscoverReverse for those.
func Discover(source string) ([]discoveredFile, error) {
	all, err := rawDiscover(source)
	if err != nil {
		return nil, err
	}

	var files []discoveredFile
	for _, f := range all {
		if !strings.Contains(f.Name, reverseMarker) {
			files = append(files, f)
		}
	}
	sortDiscovered(files)
	return files, nil
}

// DiscoverReverse resolves source to its reverse migration files (see
// reverseMarker), sorted the same way as Discover.
func DiscoverReverse(source string) ([]discoveredFile, error) {
	all, err := rawDiscover(source)
	if err != nil {
		return nil, err
	}

	var files []discoveredFile
	for _, f := range all {
		if strings.Contains(f.Name, reverseMarker) {
			files = append(files, f)
		}
	}
	sortDiscovered(files)
	return files, nil
}

func rawDiscover(source string) ([]discoveredFile, error) {
	switch {
	case strings.HasPrefix(source, "PAYLOAD:"):
		return discoverPayload(strings.TrimPrefix(source, "PAYLOAD:"))
	case strings.HasPrefix(source, "PATH:"):
		return discoverPath(strings.TrimPrefix(source, "PATH:"))
	default:
		return nil, herr.Newf(herr.InvalidInput, "unrecognized migration source %q", source)
	}
}

func discoverPayload(name string) ([]discoveredFile, error) {
	assetFiles, err := assets.List(name)
	if err != nil {
		return nil, err
	}
	files := make([]discoveredFile, len(assetFiles))
	for i, a := range assetFiles {
		files[i] = discoveredFile{Name: a.Name, Data: a.Data}
	}
	return files, nil
}

func discoverPath(dir string) ([]discoveredFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, herr.Wrap(herr.NotFound, "reading migration directory "+dir, err)
	}
	var files []discoveredFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, herr.Wrap(herr.Internal, "reading migration file "+e.Name(), err)
		}
		files = append(files, discoveredFile{Name: e.Name(), Data: data})
	}
	return files, nil
}

// trailingNumeric parses the basename's trailing numeric component, which
// sits after the final "_" and before the extension (e.g.
// "create_accounts_table_0003.lua" -> 3). ok is false when the name carries
// no such component, in which case the file sorts by name alone.
func trailingNumeric(name string) (n uint32, ok bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(base[idx+1:], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// sortDiscovered is the stable ordinal sort on u32 with a lexicographic
// tiebreak (spec.md §4.5 "Discovery").
func sortDiscovered(files []discoveredFile) {
	sort.SliceStable(files, func(i, j int) bool {
		ni, oki := trailingNumeric(files[i].Name)
		nj, okj := trailingNumeric(files[j].Name)
		switch {
		case oki && okj && ni != nj:
			return ni < nj
		case oki != okj:
			return oki
		case oki && okj:
			return files[i].Name < files[j].Name
		default:
			return files[i].Name < files[j].Name
		}
	})
}

// splitBatch breaks a compiled SQL batch into its independent statements.
func splitBatch(sql string) []string {
	parts := strings.Split(sql, QueryDelimiter)
	statements := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		statements = append(statements, p)
	}
	return statements
}

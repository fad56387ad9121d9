// Package nssecurity implements credential-to-context translation
// (spec.md §4.4): DN/FQAN -> SecurityContext via an Authn plugin, the
// hot-reloaded DN->VO mapfile, and the POSIX+ACL permission model shared
// with the catalog layer.
package nssecurity

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nslog"
)

var logger = nslog.Get("nssecurity")

// mapFileEntry is the per-path cache described in spec.md §3: last-observed
// mtime plus the DN->VO map parsed from that mtime's contents.
type mapFileEntry struct {
	mu           sync.Mutex // single-flight guard for refresh, per dmlite's try-lock-then-wait
	lastModified time.Time
	voForDN      map[string]string
}

// MapFileResolver is the process-wide, thread-safe cache of mapfile
// contents keyed by path. Constructed once at process init and injected
// wherever DN->VO resolution is needed (DESIGN NOTES "Global mutable
// state").
type MapFileResolver struct {
	mu      sync.Mutex
	entries map[string]*mapFileEntry
}

func NewMapFileResolver() *MapFileResolver {
	return &MapFileResolver{entries: make(map[string]*mapFileEntry)}
}

func (r *MapFileResolver) entryFor(path string) *mapFileEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[path]
	if !ok {
		e = &mapFileEntry{}
		r.entries[path] = e
	}
	return e
}

// VOFromDN maps a DN to a VO name, reloading the mapfile if its mtime has
// advanced past what was last observed. At most one goroutine reparses at a
// time; contenders block on the entry's mutex and then read the refreshed
// map, matching the try-lock-then-wait idiom in dmlite's voFromDn, but
// implemented as an ordinary mutex (single-flight) since Go has no
// pthread_mutex_trylock equivalent worth reaching for here.
func (r *MapFileResolver) VOFromDN(path, dn string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nserr.Wrap(nserr.NotFound, path, err)
	}

	e := r.entryFor(path)
	e.mu.Lock()
	if info.ModTime().After(e.lastModified) {
		voForDN, parseErr := parseMapFile(path)
		if parseErr != nil {
			// Parse failure never clears the previous map (DESIGN NOTES).
			e.mu.Unlock()
			return "", nserr.Wrap(nserr.InvalidArgument, path, parseErr)
		}
		e.voForDN = voForDN
		e.lastModified = info.ModTime()
		logger.Debugf("reloaded mapfile %s: %d entries", path, len(voForDN))
	}
	voForDN := e.voForDN
	e.mu.Unlock()

	vo, ok := voForDN[dn]
	if !ok {
		return "", nserr.New(nserr.NotFound, "no VO mapping for "+dn)
	}
	return vo, nil
}

// parseMapFile implements the line format from spec.md §4.4:
//
//	"DN with spaces" VO[,attrs]
//	DN_without_spaces VO
//
// Lines starting with # or blank lines are ignored.
func parseMapFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var dn, rest string
		if strings.HasPrefix(line, `"`) {
			end := strings.LastIndex(line, `"`)
			if end <= 0 {
				continue
			}
			dn = line[1:end]
			rest = strings.TrimSpace(line[end+1:])
		} else {
			sp := strings.IndexAny(line, " \t")
			if sp < 0 {
				continue
			}
			dn = line[:sp]
			rest = strings.TrimSpace(line[sp+1:])
		}
		if rest == "" {
			continue
		}
		vo := rest
		if c := strings.IndexByte(rest, ','); c >= 0 {
			vo = rest[:c]
		}
		out[dn] = vo
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// VOFromRole extracts the VO name from a VOMS FQAN, supplemented from
// dmlite's common/Security.cpp voFromRole: strip a leading '/', truncate at
// "/Role=NULL" or "/Capability=NULL".
func VOFromRole(role string) string {
	vo := strings.TrimPrefix(role, "/")
	if i := strings.Index(vo, "/Role=NULL"); i >= 0 {
		return vo[:i]
	}
	if i := strings.Index(vo, "/Capability=NULL"); i >= 0 {
		return vo[:i]
	}
	return vo
}

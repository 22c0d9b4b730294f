// Package store turns a logical request URI into a filesystem path, writes
// response bodies to it, and repairs the file<->directory collisions that
// arise when a path once stored as a file must later hold children
// (spec.md §4.2). The repair logic generalizes the teacher repo's
// (worldiety-vfs) FilesystemDataProvider.Write/Rename retry idiom — "try
// the operation, and if an existing path segment is in the way, promote it
// and retry" — into the ancestor-chain walk spec.md §4.2 specifies exactly.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/contenttype"
	"github.com/emilycares/moxy-go/internal/logging"
)

// DefaultRoot is the filesystem root all save paths are derived under (spec.md §4.2 step 2).
const DefaultRoot = "./db"

var unportable = []byte(`*?"<>:|`)

// Rewrite records a file-to-directory promotion: the route whose resource
// was oldPath must be updated to newPath (spec.md §4.2's "rewrite record").
type Rewrite struct {
	Old string
	New string
}

// CollisionRepairError is returned when promoting a file ancestor into a
// directory fails partway through (spec.md §4.2), in the teacher's
// error-struct style (_examples/worldiety-vfs/errors.go's *FooError/Unwrap
// pattern).
type CollisionRepairError struct {
	Path  string
	Cause error
}

func (e *CollisionRepairError) Error() string {
	return "store: collision repair failed for " + e.Path
}

// Unwrap returns nil or the cause.
func (e *CollisionRepairError) Unwrap() error {
	return e.Cause
}

// Store writes response bodies and WebSocket payloads under Root, repairing
// directory collisions as they arise.
type Store struct {
	Root string
	log  *zerolog.Logger
}

// New builds a Store rooted at root. Pass store.DefaultRoot for production use.
func New(root string) *Store {
	return &Store{Root: root, log: logging.New("store")}
}

// SavePath derives the on-disk path for uri per spec.md §4.2's
// get_save_path algorithm.
func (s *Store) SavePath(uri string, contentType string) string {
	sanitized := sanitize(uri)
	p := filepath.ToSlash(filepath.Join(s.Root, sanitized))
	if strings.HasSuffix(sanitized, "/") || sanitized == "" {
		p = filepath.ToSlash(filepath.Join(p, "index"))
	}
	if strings.HasSuffix(p, ".txt") || strings.HasSuffix(p, ".json") {
		return p
	}
	return p + "." + contentype(contentType)
}

func contentype(ct string) string {
	return contenttype.ExtensionFor(ct)
}

func sanitize(uri string) string {
	b := []byte(uri)
	out := make([]byte, len(b))
	for i, c := range b {
		replaced := false
		for _, bad := range unportable {
			if c == bad {
				out[i] = '_'
				replaced = true
				break
			}
		}
		if !replaced {
			out[i] = c
		}
	}
	return string(out)
}

// Save writes body to the path derived for uri, repairing any file<->
// directory collision along the way, and returns the resolved resource
// path plus any rewrites the caller (Builder) must apply to the Catalog
// via Catalog.RewriteResource (spec.md §4.2, §4.6).
//
// Any I/O error aborts the save; no partial state is left for the caller to
// reconcile beyond what's already on disk (spec.md §4.2 "Failure semantics").
func (s *Store) Save(uri string, contentType string, body []byte) (resource string, rewrites []Rewrite, err error) {
	p := s.SavePath(uri, contentType)

	rewrites, err = s.repairAncestors(p)
	if err != nil {
		return "", rewrites, err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", rewrites, fmt.Errorf("store: mkdir %s: %w", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", rewrites, fmt.Errorf("store: write %s: %w", p, err)
	}
	return p, rewrites, nil
}

// repairAncestors walks the ancestor chain of p root-first (spec.md §4.2)
// and promotes any ancestor currently stored as a regular file into a
// directory containing an "index" file with the original bytes.
func (s *Store) repairAncestors(p string) ([]Rewrite, error) {
	chain := ancestorChain(filepath.Dir(p))

	var rewrites []Rewrite
	for _, a := range chain {
		info, err := os.Stat(a)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return rewrites, &CollisionRepairError{Path: a, Cause: err}
		}
		if info.IsDir() {
			continue
		}

		data, err := os.ReadFile(a)
		if err != nil {
			return rewrites, &CollisionRepairError{Path: a, Cause: err}
		}
		if err := os.Remove(a); err != nil {
			return rewrites, &CollisionRepairError{Path: a, Cause: err}
		}
		if err := os.MkdirAll(a, 0o755); err != nil {
			return rewrites, &CollisionRepairError{Path: a, Cause: err}
		}
		newPath := filepath.ToSlash(filepath.Join(a, "index"))
		if err := os.WriteFile(newPath, data, 0o644); err != nil {
			return rewrites, &CollisionRepairError{Path: newPath, Cause: err}
		}

		s.log.Trace().Str("old", a).Str("new", newPath).Msg("file promoted to directory")
		rewrites = append(rewrites, Rewrite{Old: a, New: newPath})
	}
	return rewrites, nil
}

// ancestorChain returns every ancestor directory of dir, root-first,
// stopping before the filesystem root itself.
func ancestorChain(dir string) []string {
	clean := filepath.Clean(dir)
	var chain []string
	for {
		parent := filepath.Dir(clean)
		if parent == clean || clean == "." || clean == string(filepath.Separator) {
			break
		}
		chain = append(chain, clean)
		clean = parent
	}
	// reverse to root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// startupWindow is the offset cutoff below which a recorded message is
// classified Startup rather than After (spec.md §4.2).
const startupWindow = 5 * time.Second

// RecordedMessage is one WebSocket message captured by the WsEngine
// recorder, prior to being written to disk (spec.md §4.7 step 3/5).
type RecordedMessage struct {
	Offset      time.Duration
	Payload     []byte
	MessageType catalogpkg.WsFrameType
}

// SaveWsMessages writes every recorded message for a session at logical
// path uri to disk and returns the WsMessage list to attach to the new
// route (spec.md §4.2 "WS payload storage").
func (s *Store) SaveWsMessages(uri string, messages []RecordedMessage) ([]catalogpkg.WsMessage, []Rewrite, error) {
	out := make([]catalogpkg.WsMessage, 0, len(messages))
	var allRewrites []Rewrite

	for i, m := range messages {
		suffix := strconv.Itoa(i)
		if looksLikeJSON(m.Payload) {
			suffix += ".json"
		}
		logical := uri + "_ws/" + suffix
		location, rewrites, err := s.Save(logical, "", m.Payload)
		if err != nil {
			return out, allRewrites, fmt.Errorf("store: saving ws message %d: %w", i, err)
		}
		allRewrites = append(allRewrites, rewrites...)

		wm := catalogpkg.WsMessage{MessageType: m.MessageType, Location: location}
		if m.Offset <= startupWindow {
			wm.Kind = catalogpkg.Startup
		} else {
			wm.Kind = catalogpkg.After
			t := formatSeconds(m.Offset)
			wm.Time = &t
		}
		out = append(out, wm)
	}
	return out, allRewrites, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

func looksLikeJSON(b []byte) bool {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '{', '[', '"':
		return true
	}
	switch trimmed {
	case "true", "false", "null":
		return true
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return true
	}
	return false
}

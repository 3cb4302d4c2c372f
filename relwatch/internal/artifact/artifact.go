// Package artifact stores the files relwatch produces: raw release blobs
// and cleaned tables.
//
// Names derive from the release's modification date, so a re-run for the
// same release lands on the same file. Raw blobs are immutable: identical
// bytes reuse the existing file, different bytes for the same month get a
// content-hash suffix instead of overwriting. Every write is
// write-then-rename.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/hazyhaar/relwatch/horosafe"
	"github.com/hazyhaar/relwatch/relwatch/internal/state"
)

// Config locates and names artifacts.
type Config struct {
	RawDir      string // e.g. data/Raw_Files
	CleanDir    string // e.g. data/Clean_Files
	RawPrefix   string // e.g. Crude_Oil_Supply_Use_ET3.1
	CleanPrefix string // e.g. Clean_Crude_Oil_Supply_Use_ET3.1
	// DefaultExt is used when the content locator has no extension.
	DefaultExt string
}

func (c *Config) defaults() {
	if c.RawDir == "" {
		c.RawDir = "Raw_Files"
	}
	if c.CleanDir == "" {
		c.CleanDir = "Clean_Files"
	}
	if c.RawPrefix == "" {
		c.RawPrefix = "release"
	}
	if c.CleanPrefix == "" {
		c.CleanPrefix = "Clean_" + c.RawPrefix
	}
	if c.DefaultExt == "" {
		c.DefaultExt = ".xlsx"
	}
}

// Blob describes a stored raw artifact.
type Blob struct {
	Path   string
	SHA256 string
	// Reused is true when an identical blob was already on disk.
	Reused bool
}

// Store writes artifacts under the configured directories.
type Store struct {
	cfg Config
}

// New creates a Store. Directories are created on first write.
func New(cfg Config) *Store {
	cfg.defaults()
	return &Store{cfg: cfg}
}

// RawName is the file name of the raw blob for v, e.g.
// "Crude_Oil_Supply_Use_ET3.1_October_2024.xlsx".
func (s *Store) RawName(v state.Version) string {
	return s.cfg.RawPrefix + "_" + v.ModifiedAt.Format("January_2006") + s.ext(v.ContentLocator)
}

// CleanName is the file name of the cleaned table for v, e.g.
// "Clean_Crude_Oil_Supply_Use_ET3.1_2024-10.csv".
func (s *Store) CleanName(v state.Version) string {
	return s.cfg.CleanPrefix + "_" + v.ModifiedAt.Format("2006-01") + ".csv"
}

// PutRaw persists body as the raw blob for v.
func (s *Store) PutRaw(v state.Version, body []byte) (Blob, error) {
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	name := s.RawName(v)
	target, err := horosafe.SafePath(s.cfg.RawDir, name)
	if err != nil {
		return Blob{}, fmt.Errorf("artifact: raw name %q: %w", name, err)
	}

	same, err := sameContent(target, hash)
	if err != nil {
		return Blob{}, err
	}
	if same {
		return Blob{Path: target, SHA256: hash, Reused: true}, nil
	}
	if exists(target) {
		// Same month, different bytes: keep the existing blob untouched.
		ext := path.Ext(name)
		target, err = horosafe.SafePath(s.cfg.RawDir, strings.TrimSuffix(name, ext)+"_"+hash[:8]+ext)
		if err != nil {
			return Blob{}, err
		}
		if same, err := sameContent(target, hash); err != nil {
			return Blob{}, err
		} else if same {
			return Blob{Path: target, SHA256: hash, Reused: true}, nil
		}
	}

	err = horosafe.WriteFileAtomic(target, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(body))
		return err
	})
	if err != nil {
		return Blob{}, fmt.Errorf("artifact: write raw: %w", err)
	}
	return Blob{Path: target, SHA256: hash}, nil
}

// PutClean publishes the cleaned table for v. encode writes the file body.
// An existing file for the same release is atomically replaced.
func (s *Store) PutClean(v state.Version, encode func(io.Writer) error) (string, error) {
	name := s.CleanName(v)
	target, err := horosafe.SafePath(s.cfg.CleanDir, name)
	if err != nil {
		return "", fmt.Errorf("artifact: clean name %q: %w", name, err)
	}
	if err := horosafe.WriteFileAtomic(target, 0o644, encode); err != nil {
		return "", fmt.Errorf("artifact: write clean: %w", err)
	}
	return target, nil
}

func (s *Store) ext(locator string) string {
	p := locator
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 {
		return s.cfg.DefaultExt
	}
	return ext
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// sameContent reports whether p exists with the given SHA-256.
func sameContent(p, hash string) (bool, error) {
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifact: open %s: %w", p, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("artifact: hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)) == hash, nil
}

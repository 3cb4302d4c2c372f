// Package resolve finds the currently published release of a dataset from
// the JSON-LD descriptors embedded in its publication page.
//
// The page carries one or more <script type="application/ld+json"> blocks.
// Every block whose @type is Dataset contributes one release per
// distribution matching the configured encoding format and display name.
// Finding nothing is not an error: it means no action this cycle.
package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/relwatch/relwatch/internal/fetch"
	"github.com/hazyhaar/relwatch/relwatch/internal/state"
)

// ErrUnparsable is returned when the page has JSON-LD blocks but none of
// them decodes.
var ErrUnparsable = errors.New("resolve: no parsable JSON-LD block")

// Config selects the distribution to watch.
type Config struct {
	PageURL        string
	EncodingFormat string
	Name           string
}

// Getter retrieves a page. Implemented by *fetch.Fetcher.
type Getter interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Resolver resolves releases from a publication page.
type Resolver struct {
	cfg    Config
	get    Getter
	logger *slog.Logger
}

// New creates a Resolver.
func New(cfg Config, get Getter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, get: get, logger: logger}
}

// Resolve fetches the page and returns every matching release.
func (r *Resolver) Resolve(ctx context.Context) ([]state.Version, error) {
	resp, err := r.get.Get(ctx, r.cfg.PageURL)
	if err != nil {
		return nil, fmt.Errorf("resolve: fetch page: %w", err)
	}
	base, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		base, _ = url.Parse(r.cfg.PageURL)
	}
	return Parse(resp.Body, base, r.cfg, r.logger)
}

// Parse extracts matching releases from page. Relative content URLs are
// resolved against base (may be nil).
func Parse(page []byte, base *url.URL, cfg Config, logger *slog.Logger) ([]state.Version, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("resolve: parse html: %w", err)
	}

	blocks := ldJSONBlocks(doc)
	var (
		out    []state.Version
		parsed int
	)
	for i, raw := range blocks {
		nodes, err := decodeBlock(raw)
		if err != nil {
			logger.Warn("resolve: skip unparsable JSON-LD block", "index", i, "error", err)
			continue
		}
		parsed++
		for _, n := range nodes {
			if !n.isDataset() {
				continue
			}
			out = append(out, n.releases(i, base, cfg, logger)...)
		}
	}
	if len(blocks) > 0 && parsed == 0 {
		return nil, fmt.Errorf("%w (%d block(s))", ErrUnparsable, len(blocks))
	}
	return out, nil
}

// ldJSONBlocks returns the text of every application/ld+json script.
func ldJSONBlocks(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && isLDJSON(n) {
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					b.WriteString(c.Data)
				}
			}
			out = append(out, b.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func isLDJSON(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "type" {
			mime, _, _ := strings.Cut(a.Val, ";")
			return strings.EqualFold(strings.TrimSpace(mime), "application/ld+json")
		}
	}
	return false
}

// node is the subset of a schema.org Dataset we read.
type node struct {
	Type         oneOrMany[string]       `json:"@type"`
	DateModified string                  `json:"dateModified"`
	Distribution oneOrMany[distribution] `json:"distribution"`
	Graph        []node                  `json:"@graph"`
}

type distribution struct {
	EncodingFormat string `json:"encodingFormat"`
	Name           string `json:"name"`
	ContentURL     string `json:"contentUrl"`
}

// decodeBlock accepts a single object, an array of objects or an @graph
// container, and flattens them.
func decodeBlock(raw string) ([]node, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty block")
	}
	var list []node
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, err
		}
	} else {
		var n node
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return nil, err
		}
		list = []node{n}
	}
	var out []node
	for _, n := range list {
		out = append(out, n)
		out = append(out, n.Graph...)
	}
	return out, nil
}

func (n node) isDataset() bool {
	for _, t := range n.Type {
		if t == "Dataset" || t == "schema:Dataset" || t == "https://schema.org/Dataset" || t == "http://schema.org/Dataset" {
			return true
		}
	}
	return false
}

func (n node) releases(block int, base *url.URL, cfg Config, logger *slog.Logger) []state.Version {
	var matches []distribution
	for _, d := range n.Distribution {
		if strings.TrimSpace(d.EncodingFormat) == cfg.EncodingFormat &&
			strings.TrimSpace(d.Name) == cfg.Name {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	modified, err := state.ParseTimestamp(n.DateModified)
	if err != nil {
		logger.Warn("resolve: skip dataset with bad dateModified",
			"index", block, "date_modified", n.DateModified, "error", err)
		return nil
	}

	var out []state.Version
	for _, d := range matches {
		loc, err := absolute(base, strings.TrimSpace(d.ContentURL))
		if err != nil {
			logger.Warn("resolve: skip distribution with bad contentUrl",
				"index", block, "content_url", d.ContentURL, "error", err)
			continue
		}
		out = append(out, state.Version{ModifiedAt: modified, ContentLocator: loc})
	}
	return out
}

func absolute(base *url.URL, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty contentUrl")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String(), nil
}

// oneOrMany decodes a JSON value that is either a T or a []T.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*o = list
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = oneOrMany[T]{v}
	return nil
}

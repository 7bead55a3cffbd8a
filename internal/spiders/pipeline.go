package spiders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/spider-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

// Drop reasons returned by Pipeline.Process.
var (
	ErrMissingURL    = errors.New("record has no url")
	ErrInvalidScheme = errors.New("record url is not http or https")
	ErrDuplicate     = errors.New("duplicate record")
)

// DropReason maps a Process error to a short label for logs and metrics.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingURL):
		return "missing_url"
	case errors.Is(err, ErrInvalidScheme):
		return "invalid_scheme"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	default:
		return "other"
	}
}

// Pipeline validates and deduplicates harvested records for a single job.
// Records are fingerprinted by url and title, so revisiting a page with an
// unchanged title drops the repeat. Not safe for concurrent use; the owning
// job serializes calls.
type Pipeline struct {
	hasher *sha256.Hasher
	seen   map[string]struct{}
}

// NewPipeline returns a fresh pipeline with an empty dedup set.
func NewPipeline() *Pipeline {
	return &Pipeline{
		hasher: sha256.New(),
		seen:   make(map[string]struct{}),
	}
}

// Process accepts or rejects one record. A nil return means keep; otherwise
// the error names the drop reason.
func (p *Pipeline) Process(record tasks.Record) error {
	rawURL, _ := record["url"].(string)
	if rawURL == "" {
		return ErrMissingURL
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return fmt.Errorf("%w: %s", ErrInvalidScheme, rawURL)
	}

	title, _ := record["title"].(string)
	fingerprint, err := p.hasher.Hash([]byte(rawURL + ":" + title))
	if err != nil {
		return fmt.Errorf("fingerprint record: %w", err)
	}
	if _, dup := p.seen[fingerprint]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, rawURL)
	}
	p.seen[fingerprint] = struct{}{}
	return nil
}

package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
	"golift.io/xtractr"
	"resty.dev/v3"

	"github.com/personahub/personahub/pkg/config"
	"github.com/personahub/personahub/pkg/frontmatter"
	"github.com/personahub/personahub/pkg/guard"
	"github.com/personahub/personahub/pkg/persona"
	"github.com/personahub/personahub/pkg/ratelimit"
)

const (
	maxDownloadSize = 10 << 20
	importRateKey   = "share:import"
)

var ErrNotABundle = errors.New("downloaded content is neither a persona nor a bundle")

// Importer downloads and installs shared personas.
type Importer struct {
	store   *persona.Store
	parser  *frontmatter.Parser
	limiter *ratelimit.Limiter
	client  *resty.Client
}

func NewImporter(store *persona.Store, parser *frontmatter.Parser, limiter *ratelimit.Limiter) *Importer {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	return &Importer{store: store, parser: parser, limiter: limiter, client: client}
}

// ImportURL downloads a share URL and installs what it finds: a single
// persona document or a zip bundle. Returns the installed slugs.
func (i *Importer) ImportURL(ctx context.Context, rawURL string) ([]string, error) {
	if err := config.ValidateURL(rawURL, "share url"); err != nil {
		return nil, err
	}
	if i.limiter != nil {
		if decision := i.limiter.Check(importRateKey); !decision.Allowed {
			return nil, fmt.Errorf("share import rate limited, retry after %s", decision.RetryAfter.Round(time.Second))
		}
	}

	resp, err := i.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed downloading %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("share download returned status %d", resp.StatusCode())
	}

	data := resp.Bytes()
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("share download exceeds %d bytes", maxDownloadSize)
	}

	switch {
	case filetype.IsArchive(data):
		return i.ImportBundle(data)
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("---")):
		slug, err := i.importDocument(slugFromURL(rawURL), data)
		if err != nil {
			return nil, err
		}
		return []string{slug}, nil
	default:
		// An HTML landing page instead of raw content: surface its
		// title so the user can tell what they actually hit.
		if title := pageTitle(data); title != "" {
			return nil, fmt.Errorf("%w: got page %q", ErrNotABundle, title)
		}
		return nil, ErrNotABundle
	}
}

// ImportBundle extracts a zip bundle into a confined staging directory
// and installs every persona document inside.
func (i *Importer) ImportBundle(data []byte) ([]string, error) {
	kind, err := filetype.Get(data)
	if err != nil {
		return nil, fmt.Errorf("cannot determine bundle type: %w", err)
	}

	tmpArchive, err := os.CreateTemp("", "personahub-bundle-*."+kind.Extension)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(tmpArchive.Name()) }()
	if err := os.WriteFile(tmpArchive.Name(), data, 0o600); err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp("", "personahub-bundle-out-")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	x := &xtractr.XFile{
		FilePath:  tmpArchive.Name(),
		OutputDir: staging,
		FileMode:  0o600,
		DirMode:   0o700,
	}
	_, files, _, err := xtractr.ExtractFile(x)
	if err != nil {
		return nil, fmt.Errorf("failed extracting bundle: %w", err)
	}

	pathGuard := guard.NewPathGuard(nil)
	imported := []string{}
	for _, extracted := range files {
		if filepath.Ext(extracted) != ".md" {
			continue
		}
		// Extraction is trusted to stay inside staging, this is a
		// second check against zip-slip entries.
		confined, err := pathGuard.Resolve(extracted, staging)
		if err != nil {
			log.Warn().Str("file", extracted).Msg("Bundle entry escapes staging directory, skipped")
			continue
		}

		content, err := os.ReadFile(confined)
		if err != nil {
			log.Debug().Err(err).Str("file", confined).Msg("Cannot read bundle entry")
			continue
		}

		slug, err := i.importDocument(strings.TrimSuffix(filepath.Base(confined), ".md"), content)
		if err != nil {
			log.Warn().Err(err).Str("file", filepath.Base(confined)).Msg("Bundle entry failed validation, skipped")
			continue
		}
		imported = append(imported, slug)
	}

	if len(imported) == 0 {
		return nil, fmt.Errorf("%w: no valid persona documents in bundle", ErrNotABundle)
	}
	return imported, nil
}

// importDocument validates and stores one persona document.
func (i *Importer) importDocument(slug string, content []byte) (string, error) {
	meta, body, err := i.parser.Parse(content)
	if err != nil {
		return "", err
	}
	if err := i.store.Save(slug, *meta, body); err != nil {
		return "", err
	}
	log.Info().Str("slug", slug).Msg("Persona imported")
	return slug, nil
}

func slugFromURL(rawURL string) string {
	base := rawURL
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.IndexAny(base, "?#"); idx >= 0 {
		base = base[:idx]
	}
	return strings.TrimSuffix(base, ".md")
}

// pageTitle extracts the <title> of an HTML page, empty when the data
// is not HTML.
func pageTitle(data []byte) string {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(document.Find("title").First().Text())
}

// Package github lists personas from a GitHub-hosted marketplace
// repository carrying an index.json plus persona documents.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit/github_primary_ratelimit"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit/github_secondary_ratelimit"
	"github.com/google/go-github/v69/github"
	"github.com/rs/zerolog/log"

	"github.com/personahub/personahub/pkg/ratelimit"
	"github.com/personahub/personahub/pkg/registry"
	"github.com/personahub/personahub/pkg/validate"
)

const indexPath = "index.json"

// Source lists personas from one GitHub repository.
type Source struct {
	client    *github.Client
	owner     string
	repo      string
	validator *validate.Validator
	limiter   *ratelimit.Limiter
}

// New wires a GitHub marketplace source. The client sleeps through
// GitHub's primary and secondary rate limits automatically; the
// platform limiter on top bounds how often we ask at all.
func New(accessToken string, owner string, repo string, validator *validate.Validator, limiter *ratelimit.Limiter) *Source {
	rateLimiter := github_ratelimit.New(nil,
		github_primary_ratelimit.WithLimitDetectedCallback(func(ctx *github_primary_ratelimit.CallbackContext) {
			resetTime := ctx.ResetTime.Add(30 * time.Second)
			log.Info().Str("category", string(ctx.Category)).Time("reset", resetTime).Msg("GitHub primary rate limit detected, will resume automatically")
			time.Sleep(time.Until(resetTime))
		}),
		github_secondary_ratelimit.WithLimitDetectedCallback(func(ctx *github_secondary_ratelimit.CallbackContext) {
			log.Info().Time("reset", *ctx.ResetTime).Msg("GitHub secondary rate limit detected, will resume automatically")
			time.Sleep(time.Until(*ctx.ResetTime))
		}),
	)

	client := github.NewClient(&http.Client{Transport: rateLimiter})
	if accessToken != "" {
		client = client.WithAuthToken(accessToken)
	}

	return &Source{client: client, owner: owner, repo: repo, validator: validator, limiter: limiter}
}

func (s *Source) Name() string { return "github" }

// List downloads and validates the marketplace index. query filters on
// slug and name, case-insensitive.
func (s *Source) List(ctx context.Context, query string) ([]registry.Entry, error) {
	if err := registry.CheckRate(s.limiter, s.Name(), "list"); err != nil {
		return nil, err
	}

	reader, _, err := s.client.Repositories.DownloadContents(ctx, s.owner, s.repo, indexPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed downloading index from %s/%s: %w", s.owner, s.repo, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, 10<<20))
	if err != nil {
		return nil, err
	}

	entries, err := registry.DecodeEntries(data)
	if err != nil {
		return nil, err
	}
	entries = registry.SanitizeEntries(s.validator, s.Name(), entries)
	return registry.FilterEntries(entries, query), nil
}

// Fetch downloads one persona document from the repository.
func (s *Source) Fetch(ctx context.Context, entry registry.Entry) ([]byte, error) {
	if err := registry.CheckRate(s.limiter, s.Name(), "fetch"); err != nil {
		return nil, err
	}

	reader, _, err := s.client.Repositories.DownloadContents(ctx, s.owner, s.repo, entry.Slug+".md", nil)
	if err != nil {
		return nil, fmt.Errorf("failed downloading persona %s: %w", entry.Slug, err)
	}
	defer reader.Close()

	return io.ReadAll(io.LimitReader(reader, 10<<20))
}

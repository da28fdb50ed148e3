// Package gitea lists personas from a Gitea-hosted marketplace
// repository carrying an index.json plus persona documents.
package gitea

import (
	"context"
	"fmt"

	"code.gitea.io/sdk/gitea"

	"github.com/personahub/personahub/pkg/ratelimit"
	"github.com/personahub/personahub/pkg/registry"
	"github.com/personahub/personahub/pkg/validate"
)

const indexPath = "index.json"

// Source lists personas from one Gitea repository.
type Source struct {
	client    *gitea.Client
	owner     string
	repo      string
	ref       string
	validator *validate.Validator
	limiter   *ratelimit.Limiter
}

// New wires a Gitea marketplace source against baseURL.
func New(baseURL string, token string, owner string, repo string, ref string, validator *validate.Validator, limiter *ratelimit.Limiter) (*Source, error) {
	if ref == "" {
		ref = "main"
	}
	options := []gitea.ClientOption{}
	if token != "" {
		options = append(options, gitea.SetToken(token))
	}
	client, err := gitea.NewClient(baseURL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed creating gitea client: %w", err)
	}
	return &Source{client: client, owner: owner, repo: repo, ref: ref, validator: validator, limiter: limiter}, nil
}

func (s *Source) Name() string { return "gitea" }

// List downloads and validates the marketplace index.
func (s *Source) List(ctx context.Context, query string) ([]registry.Entry, error) {
	if err := registry.CheckRate(s.limiter, s.Name(), "list"); err != nil {
		return nil, err
	}

	data, _, err := s.client.GetFile(s.owner, s.repo, s.ref, indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed downloading index from %s/%s: %w", s.owner, s.repo, err)
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

	data, _, err := s.client.GetFile(s.owner, s.repo, s.ref, entry.Slug+".md")
	if err != nil {
		return nil, fmt.Errorf("failed downloading persona %s: %w", entry.Slug, err)
	}
	return data, nil
}

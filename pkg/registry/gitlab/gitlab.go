// Package gitlab lists personas from a GitLab-hosted marketplace
// project carrying an index.json plus persona documents.
package gitlab

import (
	"context"
	"fmt"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/personahub/personahub/pkg/httpclient"
	"github.com/personahub/personahub/pkg/ratelimit"
	"github.com/personahub/personahub/pkg/registry"
	"github.com/personahub/personahub/pkg/validate"
)

const indexPath = "index.json"

// Source lists personas from one GitLab project.
type Source struct {
	client    *gitlab.Client
	project   string
	ref       string
	validator *validate.Validator
	limiter   *ratelimit.Limiter
}

// New wires a GitLab marketplace source against baseURL. project is
// the "group/name" path, ref the branch to read from.
func New(baseURL string, token string, project string, ref string, validator *validate.Validator, limiter *ratelimit.Limiter) (*Source, error) {
	if ref == "" {
		ref = "main"
	}
	client, err := gitlab.NewClient(token,
		gitlab.WithBaseURL(baseURL),
		gitlab.WithHTTPClient(httpclient.New(nil, 30*time.Second).StandardClient()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating gitlab client: %w", err)
	}
	return &Source{client: client, project: project, ref: ref, validator: validator, limiter: limiter}, nil
}

func (s *Source) Name() string { return "gitlab" }

// List downloads and validates the marketplace index.
func (s *Source) List(ctx context.Context, query string) ([]registry.Entry, error) {
	if err := registry.CheckRate(s.limiter, s.Name(), "list"); err != nil {
		return nil, err
	}

	data, _, err := s.client.RepositoryFiles.GetRawFile(s.project, indexPath,
		&gitlab.GetRawFileOptions{Ref: gitlab.Ptr(s.ref)}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed downloading index from %s: %w", s.project, err)
	}

	entries, err := registry.DecodeEntries(data)
	if err != nil {
		return nil, err
	}
	entries = registry.SanitizeEntries(s.validator, s.Name(), entries)
	return registry.FilterEntries(entries, query), nil
}

// Fetch downloads one persona document from the project.
func (s *Source) Fetch(ctx context.Context, entry registry.Entry) ([]byte, error) {
	if err := registry.CheckRate(s.limiter, s.Name(), "fetch"); err != nil {
		return nil, err
	}

	data, _, err := s.client.RepositoryFiles.GetRawFile(s.project, entry.Slug+".md",
		&gitlab.GetRawFileOptions{Ref: gitlab.Ptr(s.ref)}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed downloading persona %s: %w", entry.Slug, err)
	}
	return data, nil
}

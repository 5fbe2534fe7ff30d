package vcs

import (
	"context"
	"fmt"

	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"
)

// PRCreator opens a pull request and returns its URL. Faked in tests so the
// pipeline suite never talks to a real forge.
type PRCreator interface {
	Create(ctx context.Context, owner, repo, head, title, body string) (string, error)
}

// GitHubPRCreator creates pull requests through the GitHub REST API.
type GitHubPRCreator struct {
	client *github.Client
}

// NewGitHubPRCreator builds a PR creator authenticated with token.
func NewGitHubPRCreator(token string) *GitHubPRCreator {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubPRCreator{
		client: github.NewClient(oauth2.NewClient(context.Background(), ts)),
	}
}

// Create opens a PR from head against the repository's default branch.
func (c *GitHubPRCreator) Create(ctx context.Context, owner, repo, head, title, body string) (string, error) {
	repository, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("looking up repository %s/%s: %w", owner, repo, err)
	}
	base := repository.GetDefaultBranch()
	if base == "" {
		base = "main"
	}

	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request: %w", err)
	}
	return pr.GetHTMLURL(), nil
}

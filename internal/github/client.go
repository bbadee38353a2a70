// Package github lists and fetches documents from GitHub repositories so
// they can be ingested like local files.
package github

import (
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// Client wraps the GitHub API client with rate limiting support
type Client struct {
	*github.Client
}

// NewClient creates a new GitHub client with optional authentication and rate limiting.
// An empty token gives an unauthenticated client (60 requests per hour).
func NewClient(token string) (*Client, error) {
	// Primary and secondary rate limits are waited out rather than failed.
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(rateLimiter)
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &Client{Client: ghClient}, nil
}

package github

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/bull/docindex/internal/indexer"
)

// DefaultExtensions are the file types the extractor understands.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".html", ".htm", ".docx"}

// Repo identifies a directory in a GitHub repository.
type Repo struct {
	Owner    string
	Name     string
	BasePath string
	// Ref is a branch, tag or commit. Empty means the default branch.
	Ref string
}

// ParseRepo parses "owner/name" or "owner/name/sub/dir".
func ParseRepo(s string) (Repo, error) {
	parts := strings.SplitN(strings.Trim(s, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repository %q, expected owner/name[/path]", s)
	}
	repo := Repo{Owner: parts[0], Name: parts[1]}
	if len(parts) == 3 {
		repo.BasePath = parts[2]
	}
	return repo, nil
}

// String returns "owner/name".
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// FetchedDoc represents a document fetched from GitHub
type FetchedDoc struct {
	Path    string // Relative path within BasePath
	Content []byte
	SHA     string // File's Git blob SHA
	URL     string // GitHub HTML URL
}

// Fetcher handles fetching documents from a GitHub repository directory.
type Fetcher struct {
	client     *Client
	repo       Repo
	extensions []string
}

// NewFetcher creates a new document fetcher. Nil extensions selects DefaultExtensions.
func NewFetcher(client *Client, repo Repo, extensions []string) *Fetcher {
	if extensions == nil {
		extensions = DefaultExtensions
	}
	return &Fetcher{
		client:     client,
		repo:       repo,
		extensions: extensions,
	}
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.repo.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.repo.Ref}
}

func (f *Fetcher) wanted(name string) bool {
	return slices.Contains(f.extensions, strings.ToLower(path.Ext(name)))
}

// ListDocs recursively lists supported files below the base path, relative to it.
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listDocsRecursive(ctx, f.repo.BasePath, "")
}

func (f *Fetcher) listDocsRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(
		ctx, f.repo.Owner, f.repo.Name, fullPath, f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		itemRelPath := path.Join(relativePath, item.GetName())

		switch item.GetType() {
		case "file":
			if f.wanted(item.GetName()) {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listDocsRecursive(ctx, path.Join(fullPath, item.GetName()), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

// FetchDoc fetches the bytes of one file, relative to the base path.
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.repo.BasePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx, f.repo.Owner, f.repo.Name, fullPath, f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("%s is a directory", fullPath)
	}

	// GetContent decodes according to the reported encoding.
	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	return &FetchedDoc{
		Path:    relativePath,
		Content: []byte(content),
		SHA:     fileContent.GetSHA(),
		URL:     fileContent.GetHTMLURL(),
	}, nil
}

// GetLatestCommitSHA retrieves the SHA of the most recent commit affecting the base path.
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(
		ctx, f.repo.Owner, f.repo.Name,
		&github.CommitsListOptions{
			SHA:  f.repo.Ref,
			Path: f.repo.BasePath,
			ListOptions: github.ListOptions{
				PerPage: 1,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %q", f.repo.BasePath)
	}
	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}
	return *commits[0].SHA, nil
}

// Sources lists and fetches every supported file as an ingestion source.
// Files that fail to fetch are returned in failed rather than aborting.
func (f *Fetcher) Sources(ctx context.Context) (sources []indexer.Source, failed map[string]error, err error) {
	commit, err := f.GetLatestCommitSHA(ctx)
	if err != nil {
		return nil, nil, err
	}
	paths, err := f.ListDocs(ctx)
	if err != nil {
		return nil, nil, err
	}

	failed = make(map[string]error)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		doc, err := f.FetchDoc(ctx, p)
		if err != nil {
			failed[p] = err
			continue
		}
		sources = append(sources, indexer.Source{
			Filename: path.Base(p),
			Data:     doc.Content,
			Metadata: map[string]any{
				"source":     "github",
				"repository": f.repo.String(),
				"path":       path.Join(f.repo.BasePath, p),
				"commit":     commit,
				"blob_sha":   doc.SHA,
				"url":        doc.URL,
			},
		})
	}
	return sources, failed, nil
}

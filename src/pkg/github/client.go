package github

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gh-nvat/allure-pr-report/src/pkg/models"
	"github.com/google/go-github/v66/github"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

var logger = log.WithField("package", "github")

// DefaultAPIBaseURL is the public GitHub REST API
const DefaultAPIBaseURL = "https://api.github.com/"

// GitHubClient defines the interface for GitHub API operations
type GitHubClient interface {
	// GetComments retrieves all comments for a pull request
	GetComments(ctx context.Context, repo string, number int) ([]*models.Comment, error)
	// CreateComment creates a new comment on a pull request
	CreateComment(ctx context.Context, repo string, number int, body string) (*models.Comment, error)
	// UpdateComment updates an existing comment
	UpdateComment(ctx context.Context, repo string, commentID int64, body string) (*models.Comment, error)
	// FindComments returns the ids of comments whose body starts with a match of pattern
	FindComments(ctx context.Context, repo string, number int, pattern string) ([]int64, error)
	// PostReportComment creates or edits the report comment depending on the matches found
	PostReportComment(ctx context.Context, repo string, number int, commentIDs []int64, body string) (*models.CommentResult, error)
}

// Client handles GitHub API interactions using go-github
type Client struct {
	client *github.Client
}

// Ensure Client implements GitHubClient
var _ GitHubClient = (*Client)(nil)

// NewClient creates a GitHub client authenticating with "Authorization: token <token>".
// Requests go through httpClient, which should be the retrying client.
// An empty apiURL selects DefaultAPIBaseURL.
func NewClient(token, apiURL string, httpClient *http.Client) (*Client, error) {
	if token == "" {
		return nil, errors.New("GitHub token not supplied")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "token"})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		base, err := url.Parse(apiURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid GitHub API URL %s", apiURL)
		}
		client.BaseURL = base
	}

	return &Client{
		client: client,
	}, nil
}

// GetComments retrieves all comments for a pull request, following pagination
func (c *Client) GetComments(ctx context.Context, repo string, number int) ([]*models.Comment, error) {
	owner, name, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse repository")
	}
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var allComments []*models.Comment
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get comments")
		}
		logger.WithField("status", resp.StatusCode).WithField("page", opts.Page).Debug("Listed comments")

		for _, comment := range comments {
			allComments = append(allComments, toModel(comment))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allComments, nil
}

// CreateComment creates a new comment on a pull request
func (c *Client) CreateComment(ctx context.Context, repo string, number int, body string) (*models.Comment, error) {
	owner, name, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse repository")
	}
	comment := &github.IssueComment{
		Body: github.String(body),
	}

	created, resp, err := c.client.Issues.CreateComment(ctx, owner, name, number, comment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create comment")
	}
	logger.WithField("status", resp.StatusCode).WithField("commentId", created.GetID()).Info("Created comment")

	return toModel(created), nil
}

// UpdateComment updates an existing comment
func (c *Client) UpdateComment(ctx context.Context, repo string, commentID int64, body string) (*models.Comment, error) {
	owner, name, err := ParseOwnerRepo(repo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse repository")
	}
	comment := &github.IssueComment{
		Body: github.String(body),
	}

	updated, resp, err := c.client.Issues.EditComment(ctx, owner, name, commentID, comment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update comment")
	}
	logger.WithField("status", resp.StatusCode).WithField("commentId", commentID).Info("Updated comment")

	return toModel(updated), nil
}

// FindComments returns the ids of comments whose body matches pattern at
// its start. This is a prefix match: text after the match is allowed.
func (c *Client) FindComments(ctx context.Context, repo string, number int, pattern string) ([]int64, error) {
	logger.Info("Getting allure comments in PR")

	re, err := CompilePrefixPattern(pattern)
	if err != nil {
		return nil, err
	}
	comments, err := c.GetComments(ctx, repo, number)
	if err != nil {
		return nil, err
	}

	ids := []int64{}
	for _, comment := range comments {
		if re.MatchString(comment.Body) {
			ids = append(ids, comment.ID)
		}
	}
	logger.WithField("comments", len(comments)).WithField("matches", ids).Info("Found allure comments")
	return ids, nil
}

// PostReportComment creates a comment when commentIDs is empty and edits
// the first id otherwise. GitHub lists comments oldest first, so with
// several matches the oldest one is kept up to date and the rest are left alone.
func (c *Client) PostReportComment(ctx context.Context, repo string, number int, commentIDs []int64, body string) (*models.CommentResult, error) {
	result := &models.CommentResult{Action: models.CommentNone, Matches: commentIDs}

	if len(commentIDs) == 0 {
		logger.Info("Posting PR comment with Allure report link")
		created, err := c.CreateComment(ctx, repo, number, body)
		if err != nil {
			return result, err
		}
		result.Action = models.CommentCreated
		result.CommentID = created.ID
		return result, nil
	}

	if len(commentIDs) > 1 {
		logger.WithField("editing", commentIDs[0]).WithField("ignored", commentIDs[1:]).Warn("Several allure comments match, editing the first one")
	}
	logger.Info("Editing PR comment with latest Allure report link")
	if _, err := c.UpdateComment(ctx, repo, commentIDs[0], body); err != nil {
		return result, err
	}
	result.Action = models.CommentUpdated
	result.CommentID = commentIDs[0]
	return result, nil
}

// CompilePrefixPattern compiles pattern so that it only matches at the
// start of the text.
func CompilePrefixPattern(pattern string) (*regexp.Regexp, error) {
	// validate alone first so that a stray ")" cannot escape the group
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, errors.Wrapf(err, "invalid comment pattern %q", pattern)
	}
	return regexp.MustCompile(`^(?:` + pattern + `)`), nil
}

func toModel(c *github.IssueComment) *models.Comment {
	return &models.Comment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		User:      c.GetUser().GetLogin(),
		CreatedAt: c.GetCreatedAt().Time,
		UpdatedAt: c.GetUpdatedAt().Time,
	}
}

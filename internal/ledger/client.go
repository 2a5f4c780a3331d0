// ABOUTME: GitHub contents-API client for the code ledger file.
// ABOUTME: Conditional writes keyed on the blob SHA, with conflict retry and create-on-missing.

package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned when the ledger has no record for the user (or the
// ledger file itself does not exist yet).
var ErrNotFound = errors.New("ledger: record not found")

// ErrUnavailable is returned when the ledger cannot be reached or its
// response cannot be decoded. Callers decide whether to surface it or to
// collapse it into not-found.
var ErrUnavailable = errors.New("ledger: store unreachable")

// ErrConflict is returned when every write attempt lost the race against a
// concurrent writer. The update was NOT applied; retrying blindly without a
// fresh read would overwrite the other writer's change.
var ErrConflict = errors.New("ledger: concurrent modification")

// errStale signals a single rejected conditional write; the upsert loop
// refetches and retries before giving up with ErrConflict.
var errStale = errors.New("ledger: stale version token")

// defaultMaxAttempts bounds the fetch-merge-write loop in UpsertCode.
const defaultMaxAttempts = 3

// defaultTimeout caps a single ledger API round-trip so a user action can
// never stall indefinitely on the remote store.
const defaultTimeout = 15 * time.Second

// Config holds the ledger location and credentials.
type Config struct {
	// APIURL is the contents-API base, e.g. "https://api.github.com".
	APIURL string
	// Token is the access token used for both reads and writes.
	Token string
	// Repo is the "owner/name" of the repository holding the ledger file.
	Repo string
	// Path is the file path within the repository, e.g. "codes.txt".
	Path string

	// Timeout overrides the per-request timeout. Zero means default.
	Timeout time.Duration
	// MaxAttempts overrides the conditional-write retry budget. Zero means default.
	MaxAttempts int
}

// Client talks to the remote ledger. All methods are safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a ledger client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "ledger"),
	}
}

// FetchCode returns the code recorded for the user, ErrNotFound when no
// record (or no file) exists, or ErrUnavailable on transport failure.
func (c *Client) FetchCode(ctx context.Context, userID int64) (string, error) {
	content, _, err := c.getFile(ctx)
	if err != nil {
		return "", err
	}
	code, ok := findCode(content, userID)
	if !ok {
		return "", ErrNotFound
	}
	return code, nil
}

// UpsertCode records the user's code in the ledger: the user's existing line
// is replaced in place, other lines pass through unmodified, and a missing
// file is created fresh with only this record. Writes are conditional on the
// blob SHA read in the same attempt; a rejected write triggers a fresh
// read-merge-write, up to the configured attempt budget, after which
// ErrConflict is returned.
func (c *Client) UpsertCode(ctx context.Context, userID int64, code string) error {
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		content, sha, err := c.getFile(ctx)
		if errors.Is(err, ErrNotFound) {
			// No file yet: create it holding only this record.
			err = c.putFile(ctx, fmt.Sprintf("Create codes file for user %d", userID),
				FormatLine(userID, code), "")
			if errors.Is(err, errStale) {
				// Someone created the file first; merge into their version.
				c.logger.Debug("create raced with another writer, retrying", "attempt", attempt)
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		updated := upsertLines(content, userID, code)
		err = c.putFile(ctx, fmt.Sprintf("Update code for user %d", userID), updated, sha)
		if errors.Is(err, errStale) {
			c.logger.Debug("conditional write rejected, retrying with fresh read",
				"attempt", attempt, "user_id", userID)
			continue
		}
		return err
	}
	return ErrConflict
}

// fileResponse is the subset of the contents-API GET payload we read.
type fileResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

// putRequest is the contents-API PUT payload. SHA is omitted on create.
type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

// contentsURL returns the API endpoint for the ledger file.
func (c *Client) contentsURL() string {
	return fmt.Sprintf("%s/repos/%s/contents/%s", c.cfg.APIURL, c.cfg.Repo, c.cfg.Path)
}

// getFile fetches the ledger file body and its version token (blob SHA).
func (c *Client) getFile(ctx context.Context) (content, sha string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(), nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: creating request: %w", ErrUnavailable, err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", "", ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", "", fmt.Errorf("%w: fetch returned status %d: %s",
			ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var file fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", "", fmt.Errorf("%w: decoding response: %w", ErrUnavailable, err)
	}

	// The API base64-encodes the body with embedded newlines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("%w: decoding content: %w", ErrUnavailable, err)
	}
	return string(raw), file.SHA, nil
}

// putFile writes the full ledger body. A non-empty sha makes the write
// conditional; rejection for a stale token comes back as errStale.
func (c *Client) putFile(ctx context.Context, message, content, sha string) error {
	body, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		SHA:     sha,
	})
	if err != nil {
		return fmt.Errorf("%w: marshaling request: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", ErrUnavailable, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// The file changed (or appeared) since our read.
		return errStale
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: write returned status %d: %s",
			ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

// setHeaders applies the auth and accept headers every contents-API call needs.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

package patrol

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	patrolListPath    = "/portal/ums/patrol/home/list_new"
	activityListPath  = "/portal/ums/active/home/list"
	activityInfoPath  = "/portal/ums/active/info/"
	maxErrorBodyBytes = 512
)

// ClientConfig configures a portal Client.
type ClientConfig struct {
	BaseURL   string
	OrgID     string
	Token     string
	Timeout   time.Duration
	VerifyTLS bool
}

// Client wraps the river patrol portal API. Every call is a single request;
// retry and stopping policy belong to the caller.
type Client struct {
	baseURL    string
	orgID      string
	token      string
	httpClient *http.Client
	cache      *DetailCache
}

// NewClient creates a new portal API client
func NewClient(cfg ClientConfig, cache *DetailCache) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // portal serves a broken chain
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		orgID:   cfg.OrgID,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		cache: cache,
	}
}

// HasToken reports whether an authorization token is configured.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// doRequest issues a GET, adding the authorization header when auth is set
func (c *Client) doRequest(ctx context.Context, rawURL string, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if auth {
		req.Header.Set("Authorization", c.authorization())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "patrolstats")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) authorization() string {
	if strings.HasPrefix(c.token, "Bearer ") {
		return c.token
	}
	return "Bearer " + c.token
}

// readAndClose decodes the body and closes it.
func readAndClose(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// readErrorAndClose reads a truncated error body and closes it.
func readErrorAndClose(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return strings.TrimSpace(string(body))
}

// get performs one request and classifies transport and HTTP failures.
// On success the caller owns resp.Body.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, auth bool) (*http.Response, error) {
	rawURL := c.baseURL + path
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	resp, err := c.doRequest(ctx, rawURL, auth)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{Op: op, StatusCode: resp.StatusCode, Msg: readErrorAndClose(resp)}
	case resp.StatusCode != http.StatusOK:
		return nil, &TransientError{Op: op, StatusCode: resp.StatusCode, Msg: readErrorAndClose(resp)}
	}
	return resp, nil
}

// fetchList fetches one page of a list endpoint.
func (c *Client) fetchList(ctx context.Context, op, path string, params url.Values) ([]Row, error) {
	resp, err := c.get(ctx, op, path, params, false)
	if err != nil {
		return nil, err
	}

	var env listEnvelope
	if err := readAndClose(resp, &env); err != nil {
		return nil, &ShapeError{Op: op, Err: err}
	}
	if err := checkCode(op, env.Code, env.Msg); err != nil {
		return nil, err
	}
	if env.Rows == nil {
		return nil, &ShapeError{Op: op, Err: errors.New("envelope has no rows")}
	}

	slog.Debug("Portal page fetched", "op", op, "rows", len(env.Rows), "total", env.Total)
	return env.Rows, nil
}

func checkCode(op string, code int, msg string) error {
	switch code {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return &AuthError{Op: op, StatusCode: code, Msg: msg}
	default:
		return &TransientError{Op: op, StatusCode: http.StatusOK, Code: code, Msg: msg}
	}
}

// FetchPatrolPage fetches one page of patrol or evaluation records
func (c *Client) FetchPatrolPage(ctx context.Context, pageNum, pageSize int, useType UseType) ([]Row, error) {
	params := url.Values{}
	params.Set("pageNum", strconv.Itoa(pageNum))
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("useType", strconv.Itoa(int(useType)))
	params.Set("orgId", c.orgID)

	return c.fetchList(ctx, useType.String()+" list", patrolListPath, params)
}

// FetchActivityPage fetches one page of the activity list
func (c *Client) FetchActivityPage(ctx context.Context, pageNum, pageSize int) ([]Row, error) {
	params := url.Values{}
	params.Set("pageNum", strconv.Itoa(pageNum))
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("orgId", c.orgID)

	return c.fetchList(ctx, "activity list", activityListPath, params)
}

// FetchActivityDetail fetches an activity and one page of its participants.
// Requires a token.
func (c *Client) FetchActivityDetail(ctx context.Context, id ID, pageNum, pageSize int) (*ActivityDetail, error) {
	op := "activity detail " + string(id)
	if c.token == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingToken)
	}

	params := url.Values{}
	params.Set("pageNum", strconv.Itoa(pageNum))
	params.Set("pageSize", strconv.Itoa(pageSize))

	resp, err := c.get(ctx, op, activityInfoPath+url.PathEscape(string(id)), params, true)
	if err != nil {
		return nil, err
	}

	var env detailEnvelope
	if err := readAndClose(resp, &env); err != nil {
		return nil, &ShapeError{Op: op, Err: err}
	}
	if err := checkCode(op, env.Code, env.Msg); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, &ShapeError{Op: op, Err: errors.New("envelope has no data")}
	}
	return env.Data, nil
}

// ActivityParticipants fetches an activity with its complete participant
// list, paging through the sub-list until a short page, the reported total
// or maxPages is reached. Results are cached by activity id.
func (c *Client) ActivityParticipants(ctx context.Context, id ID, pageSize, maxPages int) (*ActivityDetail, error) {
	if c.cache != nil {
		if detail, found := c.cache.Get(id); found {
			return detail, nil
		}
	}

	if maxPages < 1 {
		maxPages = 1
	}

	var detail *ActivityDetail
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		page, err := c.FetchActivityDetail(ctx, id, pageNum, pageSize)
		if err != nil {
			return nil, err
		}

		if detail == nil {
			detail = page
		} else {
			detail.Members.Rows = append(detail.Members.Rows, page.Members.Rows...)
		}

		if len(page.Members.Rows) < pageSize || len(detail.Members.Rows) >= page.Members.Total {
			break
		}
	}

	if detail.ID == "" {
		detail.ID = id
	}
	if c.cache != nil {
		c.cache.Put(detail)
	}
	return detail, nil
}

package couch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	"github.com/go-kivik/kivik/v4/couchdb"

	"github.com/dd0wney/cluso-syncstore/pkg/logging"
)

// DefaultTimeout bounds every request so one dead peer cannot stall a caller
const DefaultTimeout = 3 * time.Second

// ErrInvalidURL is returned for a base URL that cannot be parsed
var ErrInvalidURL = errors.New("couch: invalid store url")

// Client talks to one CouchDB-compatible instance through the kivik driver.
// Credentials embedded in the base URL become basic auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger

	kivik *kivik.Client
	err   error
}

// Option customizes a Client
type Option func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client rooted at baseURL. A malformed URL is reported
// by Err and by every call.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.kivik, c.err = connect(c.baseURL, c.httpClient)
	return c
}

func connect(baseURL string, hc *http.Client) (*kivik.Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidURL
	}

	// The driver installs its auth wrapper on the client it is given
	own := *hc
	options := []kivik.Option{couchdb.OptionHTTPClient(&own)}
	if u.User != nil {
		pass, _ := u.User.Password()
		options = append(options, couchdb.BasicAuth(u.User.Username(), pass))
		u.User = nil
	}

	client, err := kivik.New("couch", u.String(), options...)
	if err != nil {
		return nil, fmt.Errorf("couch: connect %s: %w", Redact(baseURL), err)
	}
	return client, nil
}

// Err reports a construction failure
func (c *Client) Err() error {
	return c.err
}

// Close releases the driver
func (c *Client) Close() error {
	if c.kivik == nil {
		return nil
	}
	return c.kivik.Close()
}

// URL returns the base URL of the instance
func (c *Client) URL() string {
	return c.baseURL
}

// JoinURL addresses database name on the instance at base
func JoinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(name)
}

// Info fetches the server welcome document; callers use it as a reachability probe
func (c *Client) Info(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	err := c.call(http.MethodGet, "/", func() error {
		v, err := c.kivik.Version(ctx)
		if err != nil {
			return err
		}
		info = ServerInfo{Version: v.Version, Vendor: v.Vendor}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// DBInfo fetches metadata of a database
func (c *Client) DBInfo(ctx context.Context, name string) (*DBInfo, error) {
	var info DBInfo
	err := c.call(http.MethodGet, "/"+url.PathEscape(name), func() error {
		stats, err := c.kivik.DB(name).Stats(ctx)
		if err != nil {
			return err
		}
		info = DBInfo{DBName: stats.Name, DocCount: stats.DocCount, DocDelCnt: stats.DeletedCount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateDB creates a database. An existing database yields ErrExists.
func (c *Client) CreateDB(ctx context.Context, name string) error {
	return c.call(http.MethodPut, "/"+url.PathEscape(name), func() error {
		return c.kivik.CreateDB(ctx, name)
	})
}

// DestroyDB deletes a database. A missing database yields ErrNotFound.
func (c *Client) DestroyDB(ctx context.Context, name string) error {
	return c.call(http.MethodDelete, "/"+url.PathEscape(name), func() error {
		return c.kivik.DestroyDB(ctx, name)
	})
}

// EnsureDB creates a database, treating "already exists" as success
func (c *Client) EnsureDB(ctx context.Context, name string) error {
	if err := c.CreateDB(ctx, name); err != nil && !IsExists(err) {
		return err
	}
	return nil
}

// DropDB deletes a database, treating "does not exist" as success
func (c *Client) DropDB(ctx context.Context, name string) error {
	if err := c.DestroyDB(ctx, name); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// SchedulerDoc reads the run state of a replication document. kivik only
// lists the default replicator database, so this one endpoint is requested
// directly.
func (c *Client) SchedulerDoc(ctx context.Context, replicatorDB, docID string) (*SchedulerDoc, error) {
	if c.err != nil {
		return nil, c.err
	}
	path := "/_scheduler/docs/" + url.PathEscape(replicatorDB) + "/" + url.PathEscape(docID)
	timer := c.trace(http.MethodGet, path)
	defer timer.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("couch: GET %s: %w", redact(req.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e := &Error{Method: http.MethodGet, URL: redact(req.URL), StatusCode: resp.StatusCode}
		var body struct {
			Kind   string `json:"error"`
			Reason string `json:"reason"`
		}
		// Proxies may answer without a JSON body
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			e.Kind, e.Reason = body.Kind, body.Reason
		}
		return nil, e
	}

	var doc SchedulerDoc
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("couch: decode scheduler doc: %w", err)
	}
	return &doc, nil
}

// DB returns a handle on a database of this instance
func (c *Client) DB(name string) *Database {
	d := &Database{client: c, name: name}
	if c.err == nil {
		d.db = c.kivik.DB(name)
	}
	return d
}

// call runs one driver request with tracing and error classification
func (c *Client) call(method, path string, fn func() error) error {
	if c.err != nil {
		return c.err
	}
	timer := c.trace(method, path)
	err := fn()
	timer.End()
	if err != nil {
		return fromDriver(method, Redact(c.baseURL)+path, err)
	}
	return nil
}

func (c *Client) trace(method, path string) *logging.TimedOperation {
	return logging.StartTimer(c.logger, "store request",
		logging.String("method", method),
		logging.String("path", path))
}

// redact strips credentials from a URL before it reaches logs or errors
func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	clone := *u
	clone.User = url.User(u.User.Username())
	return clone.String()
}

// Redact strips the password from an address so it can be logged
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return redact(u)
}

// Package hmc is a small client for the IBM Z HMC Web Services API. It covers
// the session, lookup and element operations needed to manage virtual
// functions and to list partitions.
package hmc

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultPort is the port of the HMC Web Services API.
const DefaultPort = 6794

// Options configures a Client.
type Options struct {
	// Host is the HMC hostname or IP address, optionally with a port.
	Host string
	Port int

	Userid   string
	Password string
	// SessionID reuses an existing session. It is mutually exclusive with
	// Userid/Password, and such a session is not logged off on Close.
	SessionID string

	// CACerts is a PEM file or a directory of PEM files used to verify the
	// HMC certificate. Empty means the system pool.
	CACerts string
	Verify  bool

	Timeout      time.Duration
	RateLimitRPS float64

	// StatusTimeout bounds WaitForTransitionCompletion.
	StatusTimeout      time.Duration
	StatusPollInterval time.Duration
}

// Client is an HMC session. It is not safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	sessionID   string
	ownsSession bool
	statusWait  time.Duration
	statusPoll  time.Duration
}

// Open creates a client and logs on, unless opts.SessionID is set.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("HMC host is required")
	}
	hasCreds := opts.Userid != "" || opts.Password != ""
	if hasCreds == (opts.SessionID != "") {
		return nil, fmt.Errorf("exactly one of userid/password or session id must be provided")
	}

	tlsConfig, err := tlsConfig(opts)
	if err != nil {
		return nil, err
	}

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimitRPS == 0 {
		opts.RateLimitRPS = 10.0
	}
	if opts.StatusTimeout == 0 {
		opts.StatusTimeout = 60 * time.Second
	}
	if opts.StatusPollInterval == 0 {
		opts.StatusPollInterval = 2 * time.Second
	}

	c := &Client{
		baseURL: "https://" + hostPort(opts.Host, opts.Port),
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimitRPS), int(opts.RateLimitRPS)+1),
		log:        logger.With().Str("hmc", opts.Host).Logger(),
		statusWait: opts.StatusTimeout,
		statusPoll: opts.StatusPollInterval,
	}

	if opts.SessionID != "" {
		c.sessionID = opts.SessionID
		c.log.Debug().Msg("Using existing HMC session")
		return c, nil
	}

	var logon struct {
		APISession string `json:"api-session"`
	}
	body := map[string]string{"userid": opts.Userid, "password": opts.Password}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", body, &logon); err != nil {
		c.httpClient.CloseIdleConnections()
		return nil, fmt.Errorf("logon to HMC %s: %w", opts.Host, err)
	}
	c.sessionID = logon.APISession
	c.ownsSession = true
	c.log.Debug().Str("userid", opts.Userid).Msg("Logged on to HMC")

	return c, nil
}

// Close logs off the session if Open created it.
func (c *Client) Close(ctx context.Context) error {
	defer c.httpClient.CloseIdleConnections()

	if !c.ownsSession || c.sessionID == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodDelete, "/api/sessions/this-session", nil, nil); err != nil {
		return fmt.Errorf("logoff from HMC: %w", err)
	}
	c.sessionID = ""
	c.log.Debug().Msg("Logged off from HMC")
	return nil
}

// SessionID returns the API session token.
func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) do(ctx context.Context, method, uri string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + uri
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionID != "" {
		req.Header.Set("X-API-Session", c.sessionID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectionError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("uri", uri).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("HMC request")

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method, uri, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response of %s %s: %w", method, uri, err)
	}
	return nil
}

func decodeError(method, uri string, resp *http.Response) error {
	herr := &HTTPError{Method: method, URI: uri, Status: resp.StatusCode}

	data, _ := io.ReadAll(resp.Body)
	var body struct {
		Reason  int    `json:"reason"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		herr.Reason = body.Reason
		herr.Message = body.Message
	} else {
		herr.Message = http.StatusText(resp.StatusCode)
	}
	return herr
}

func hostPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func tlsConfig(opts Options) (*tls.Config, error) {
	if !opts.Verify {
		// HMCs commonly run with self-signed certificates.
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if opts.CACerts == "" {
		return &tls.Config{}, nil
	}

	pool := x509.NewCertPool()
	info, err := os.Stat(opts.CACerts)
	if err != nil {
		return nil, fmt.Errorf("CA certificates: %w", err)
	}

	files := []string{opts.CACerts}
	if info.IsDir() {
		entries, err := os.ReadDir(opts.CACerts)
		if err != nil {
			return nil, fmt.Errorf("CA certificates: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(opts.CACerts, e.Name()))
			}
		}
	}

	loaded := 0
	for _, f := range files {
		pem, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("CA certificates: %w", err)
		}
		if pool.AppendCertsFromPEM(pem) {
			loaded++
		}
	}
	if loaded == 0 {
		return nil, fmt.Errorf("CA certificates: no PEM certificates found in %s", opts.CACerts)
	}

	return &tls.Config{RootCAs: pool}, nil
}

package climate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/etdemand/internal/httputil"
)

// Fetcher retrieves a raw climate record from a local path, an http(s) URL
// or an anonymous ftp URL.
type Fetcher struct {
	client     *http.Client
	timeout    time.Duration
	maxElapsed time.Duration
}

func NewFetcher(timeout, maxElapsed time.Duration) *Fetcher {
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &Fetcher{
		client:     httputil.NewClient(timeout),
		timeout:    timeout,
		maxElapsed: maxElapsed,
	}
}

// Fetch returns the raw bytes of source and the scheme it was read with.
func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, "file", fmt.Errorf("read climate record: %w", err)
		}
		return b, "file", nil
	}

	switch u.Scheme {
	case "file":
		b, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, "file", fmt.Errorf("read climate record: %w", err)
		}
		return b, "file", nil
	case "http", "https":
		b, err := f.fetchHTTP(ctx, u.String())
		return b, u.Scheme, err
	case "ftp":
		b, err := f.fetchFTP(ctx, u)
		return b, "ftp", err
	}
	return nil, u.Scheme, fmt.Errorf("unsupported climate source scheme %q", u.Scheme)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch climate record: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch climate record: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch climate record: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// fetchFTP reads u over ftp. Cancelling ctx closes the control and data
// connections, which unblocks any pending read.
func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL) ([]byte, error) {
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	timeout := f.timeout
	if timeout <= 0 {
		timeout = httputil.DefaultTimeout
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	dialer := &net.Dialer{Timeout: timeout}
	dial := func(network, address string) (net.Conn, error) {
		c, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			c.Close()
			return nil, ctx.Err()
		}
		conns = append(conns, c)
		return c, nil
	}
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	defer stop()

	body, err := f.retrieve(host, u, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout), ftp.DialWithDialFunc(dial))
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ftp: %w", ctx.Err())
	}
	return body, err
}

func (f *Fetcher) retrieve(host string, u *url.URL, opts ...ftp.DialOption) ([]byte, error) {
	conn, err := ftp.Dial(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("ftp retr: empty file")
	}
	return body, nil
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/verbatim/internal/model"
)

// fetchSleepFunc waits between download attempts (replaceable in tests)
var fetchSleepFunc = func(d time.Duration) { time.Sleep(d) }

// IsRemote reports whether src is an http or https URL
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetcher downloads remote documents so they can be read like local files
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	attempts   int
	robots     *RobotsChecker // nil when robots.txt is not consulted
}

// NewFetcher creates a fetcher from config
func NewFetcher(cfg model.FetchConfig) *Fetcher {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after 3 redirects")
			}
			return nil
		},
	}

	f := &Fetcher{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBytes,
		attempts:   max(1, cfg.MaxRetries),
	}
	if f.maxBytes <= 0 {
		f.maxBytes = 50 << 20
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(client, cfg.UserAgent)
	}
	return f
}

// Download fetches rawURL into dir and returns the local path. The file
// extension comes from the content type, falling back to the URL path.
// Every failure is an input error.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &model.InputError{Source: rawURL, Err: err}
	}

	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			return fail(err)
		}
		if !allowed {
			return fail(errors.New("disallowed by robots.txt"))
		}
	}

	var (
		body        []byte
		contentType string
		finalURL    string
		err         error
	)
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			fetchSleepFunc(time.Duration(1<<(attempt-1)) * time.Second)
		}
		body, contentType, finalURL, err = f.fetch(ctx, rawURL)
		if err == nil || !isRetryableFetchError(err) || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return fail(err)
	}

	ext, ok := extensionFor(contentType, finalURL)
	if !ok {
		return fail(fmt.Errorf("unsupported content type %q", contentType))
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create sources dir: %w", err)
	}
	dest := filepath.Join(dir, localName(finalURL)+ext)
	if err := os.WriteFile(dest, body, 0644); err != nil {
		return "", fmt.Errorf("save %s: %w", rawURL, err)
	}
	return dest, nil
}

// statusError is a non-2xx response
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.code, http.StatusText(e.code))
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", "", &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, "", "", fmt.Errorf("document larger than %d bytes", f.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), resp.Request.URL.String(), nil
}

// isRetryableFetchError reports whether another attempt could succeed:
// transport failures, 429 and 5xx responses
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !strings.Contains(err.Error(), "larger than")
}

func extensionFor(contentType, rawURL string) (string, bool) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return ".html", true
	case "application/pdf":
		return ".pdf", true
	case "text/plain":
		return ".txt", true
	case "text/markdown":
		return ".md", true
	case "application/json":
		return ".json", true
	}

	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if _, ok := kindOf(ext); ok {
			return ext, true
		}
	}
	return "", false
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// localName derives a file name stem from the host and last path segment
func localName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := u.Host
	if last := path.Base(strings.Trim(u.Path, "/")); last != "." && last != "" {
		name += "_" + strings.TrimSuffix(last, path.Ext(last))
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		return "download"
	}
	return name
}

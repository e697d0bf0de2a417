package hosts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

// ErrProtocolResolution is matched by every *ProtocolError
var ErrProtocolResolution = errors.New("protocol resolution failed")

// ProtocolError reports which step of a host protocol failed
type ProtocolError struct {
	Kind Kind
	Step string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Kind, e.Step)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Step, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocolResolution }

func stepErr(kind Kind, step string, err error) error {
	return &ProtocolError{Kind: kind, Step: step, Err: err}
}

// Resolution is the uniform result every adapter hands to the downloader
type Resolution struct {
	Kind     Kind
	URL      string
	Header   http.Header
	Client   *http.Client // session that obtained the URL; nil means any client
	Filename string       // name announced by the host, if any
	SHA256   string       // integrity hash announced by the host, if any
}

// HLS reports whether the resolved URL is a playlist rather than a file
func (r *Resolution) HLS() bool {
	return strings.HasSuffix(strings.ToLower(path.Ext(strings.SplitN(r.URL, "?", 2)[0])), ".m3u8")
}

// Adapter resolves a link of one host family. Adapters never perform an
// irreversible action, so calling Resolve again is always safe.
type Adapter interface {
	Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error)
}

// AdapterFunc lets a function serve as an Adapter
type AdapterFunc func(ctx context.Context, link models.DownloadLink) (*Resolution, error)

func (f AdapterFunc) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	return f(ctx, link)
}

// Options tunes the default adapters
type Options struct {
	HTTPTimeout  time.Duration
	CountdownMax time.Duration
	// Launch starts the private session of player-source hosts; nil limits
	// them to what plain HTTP can read
	Launch Launcher
	Open   browser.OpenOptions
}

// Registry maps each host family to its adapter
type Registry struct {
	adapters map[Kind]Adapter
}

// NewRegistry returns a registry with the HTTP-only adapters installed. The
// script-tab adapter needs a live browser and is added with Register.
func NewRegistry(opts Options) *Registry {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	r := &Registry{adapters: make(map[Kind]Adapter)}
	for _, k := range Kinds() {
		switch k {
		case Direct:
			r.adapters[k] = DirectAdapter{}
		case Dropbox:
			r.adapters[k] = DropboxAdapter{}
		case GoogleDrive:
			r.adapters[k] = NewGoogleDriveAdapter(opts.HTTPTimeout)
		case MediaFire:
			r.adapters[k] = NewMediaFireAdapter(opts.HTTPTimeout)
		case SolidFiles:
			r.adapters[k] = NewSolidFilesAdapter(opts.HTTPTimeout)
		case FourShared:
			r.adapters[k] = NewFourSharedAdapter(opts.HTTPTimeout, opts.CountdownMax)
		case Mp4Upload:
			r.adapters[k] = NewMp4UploadAdapter(opts.HTTPTimeout, opts.Launch, opts.Open)
		case ScriptTab:
			// bound to a browser session later
		default:
			panic(fmt.Sprintf("hosts: no default adapter for %s", k))
		}
	}
	return r
}

// Register installs or replaces the adapter of kind
func (r *Registry) Register(kind Kind, a Adapter) {
	r.adapters[kind] = a
}

// Unregister removes the adapter of kind
func (r *Registry) Unregister(kind Kind) {
	delete(r.adapters, kind)
}

// Resolve identifies link and runs the matching adapter. A deferred link is
// first turned into a real one through the script-tab adapter.
func (r *Registry) Resolve(ctx context.Context, link models.DownloadLink) (*Resolution, error) {
	kind, err := Identify(link)
	if err != nil {
		return nil, err
	}
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %s", ErrHostUnidentified, kind)
	}
	res, err := a.Resolve(ctx, link)
	if err != nil {
		return nil, err
	}
	if kind == ScriptTab {
		next := models.DownloadLink{Host: link.Host, URL: res.URL}
		if next.IsDeferred() {
			return nil, stepErr(ScriptTab, "resolve", errors.New("script produced another placeholder"))
		}
		return r.Resolve(ctx, next)
	}
	res.Kind = kind
	return res, nil
}

// maxPageSize bounds how much of an HTML page is read while resolving
const maxPageSize = 4 << 20

func get(ctx context.Context, client *http.Client, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	util.DecorateRequest(req)
	return client.Do(req)
}

// fetchPage GETs rawURL and returns the body of a 2xx response
func fetchPage(ctx context.Context, client *http.Client, rawURL string, header http.Header) (*http.Response, string, error) {
	resp, err := get(ctx, client, rawURL, header)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			util.Debug("close body", "err", err)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return resp, "", fmt.Errorf("read page: %w", err)
	}
	return resp, string(body), nil
}

func isHTML(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html")
}

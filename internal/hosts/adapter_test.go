package hosts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvarorichard/anidl/internal/browser"
	"github.com/alvarorichard/anidl/internal/browser/browsertest"
	"github.com/alvarorichard/anidl/internal/models"
	"github.com/alvarorichard/anidl/internal/util"
)

func TestGoogleDriveConfirmCookie(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uc", r.URL.Path)
		assert.Equal(t, "abc123", r.URL.Query().Get("id"))
		http.SetCookie(w, &http.Cookie{Name: "download_warning_123", Value: "TOKEN"})
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>virus scan warning</html>"))
	}))
	defer srv.Close()

	a := NewGoogleDriveAdapter(5 * time.Second)
	a.baseURL = srv.URL

	res, err := a.Resolve(context.Background(), models.DownloadLink{
		Host: "Google Drive",
		URL:  "https://drive.google.com/file/d/abc123/view?usp=sharing",
	})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/uc?id=abc123&export=download&confirm=TOKEN", res.URL)
	assert.NotNil(t, res.Client)
}

func TestGoogleDriveDownloadForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, `<form id="download-form" action="/download">
			<input type="hidden" name="id" value="abc123">
			<input type="hidden" name="confirm" value="t">
			<input type="hidden" name="uuid" value="u-1">
		</form>`)
	}))
	defer srv.Close()

	a := NewGoogleDriveAdapter(5 * time.Second)
	a.baseURL = srv.URL

	res, err := a.Resolve(context.Background(), models.DownloadLink{URL: "https://drive.google.com/open?id=abc123"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/download?confirm=t&id=abc123&uuid=u-1", res.URL)
}

func TestGoogleDriveQuota(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<p>Too many users have viewed or downloaded this file recently.</p>`)
	}))
	defer srv.Close()

	a := NewGoogleDriveAdapter(5 * time.Second)
	a.baseURL = srv.URL

	_, err := a.Resolve(context.Background(), models.DownloadLink{URL: "https://drive.google.com/uc?id=abc123"})
	require.ErrorIs(t, err, ErrProtocolResolution)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "quota", perr.Step)
	assert.Equal(t, GoogleDrive, perr.Kind)
}

func TestGoogleDriveMissingID(t *testing.T) {
	t.Parallel()

	_, err := NewGoogleDriveAdapter(time.Second).Resolve(context.Background(), models.DownloadLink{URL: "https://drive.google.com/drive/folders"})
	assert.ErrorIs(t, err, ErrProtocolResolution)
}

func TestMediaFireMetadataThenLink(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/file/get_info.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k3y", r.URL.Query().Get("quick_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"response":{"result":"Success","file_info":{"filename":"ep1.mp4","hash":"ABCDEF","links":{"normal_download":"%s/landing/k3y"}}}}`, srv.URL)
	})
	mux.HandleFunc("/landing/k3y", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<a class="input popsok" id="downloadButton" href="%s/dl/ep1.mp4">Download</a>`, srv.URL)
	})

	a := NewMediaFireAdapter(5 * time.Second)
	a.apiBase = srv.URL

	res, err := a.Resolve(context.Background(), models.DownloadLink{URL: "https://www.mediafire.com/file/k3y/ep1.mp4/file"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/dl/ep1.mp4", res.URL)
	assert.Equal(t, "ep1.mp4", res.Filename)
	assert.Equal(t, "abcdef", res.SHA256)
}

func TestMediaFireRegexFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<div><a aria-label="Download file" href="https://download1.mediafire.com/x/k3y/ep1.mp4">go</a></div>`)
	}))
	defer srv.Close()

	a := NewMediaFireAdapter(5 * time.Second)
	a.apiBase = srv.URL

	direct, err := a.directAnchor(context.Background(), srv.URL+"/file/k3y")
	require.NoError(t, err)
	assert.Equal(t, "https://download1.mediafire.com/x/k3y/ep1.mp4", direct)
}

func TestMediaFireKey(t *testing.T) {
	t.Parallel()

	key, ok := MediaFireKey("https://www.mediafire.com/?abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", key)

	_, ok = MediaFireKey("https://www.mediafire.com/folder/")
	assert.False(t, ok)
}

func TestFourSharedCountdown(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/video/xyz/ep1.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<a class="freeDownloadButton btn" href="/web/download/free/xyz">Free</a>`)
	})
	mux.HandleFunc("/web/download/free/xyz", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Referer"), "/video/xyz/ep1.html")
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<script>var c = 20; var dlLink = "/get/xyz/ep1.mp4";</script>`)
	})

	var waited time.Duration
	a := NewFourSharedAdapter(5*time.Second, time.Minute)
	a.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	res, err := a.Resolve(context.Background(), models.DownloadLink{URL: srv.URL + "/video/xyz/ep1.html"})
	require.NoError(t, err)
	assert.Equal(t, 21*time.Second, waited)
	assert.Equal(t, srv.URL+"/get/xyz/ep1.mp4", res.URL)
	assert.NotNil(t, res.Client)
}

func TestFourSharedButtonBeatsScriptVariable(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/f/2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<a href="/download/free/2">free</a>`)
	})
	mux.HandleFunc("/download/free/2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<script>var c = 1; var url = "/analytics/ping";</script>
			<a id="baseDownloadButton" href="/get/1/ep.mp4">Download</a>`)
	})

	a := NewFourSharedAdapter(5*time.Second, time.Minute)
	a.sleep = func(context.Context, time.Duration) error { return nil }

	res, err := a.Resolve(context.Background(), models.DownloadLink{URL: srv.URL + "/f/2"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/get/1/ep.mp4", res.URL)
}

func TestFourSharedCountdownCapped(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/f/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<a href="/download/free/1">free</a>`)
	})
	mux.HandleFunc("/download/free/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `var c = 600;`)
	})

	var waited time.Duration
	a := NewFourSharedAdapter(5*time.Second, 10*time.Second)
	a.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	_, err := a.Resolve(context.Background(), models.DownloadLink{URL: srv.URL + "/f/1"})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "final link", perr.Step)
	assert.Equal(t, 10*time.Second, waited)
}

func TestFourSharedDirectOnLanding(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<div id="baseDownloadButton"><a href="https://dc1.4shared.com/download/xyz/ep1.mp4">Download</a></div>`)
	}))
	defer srv.Close()

	a := NewFourSharedAdapter(5*time.Second, time.Minute)
	a.sleep = func(context.Context, time.Duration) error {
		t.Fatal("no countdown expected")
		return nil
	}
	res, err := a.Resolve(context.Background(), models.DownloadLink{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "https://dc1.4shared.com/download/xyz/ep1.mp4", res.URL)
}

func TestMp4UploadPlayerSetup(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/embed-abc123.html", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, mp4UploadReferer, r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<script>player.src({type: "video/mp4", src: "https://a4.mp4upload.com:183/d/xyz/video.mp4"});</script>`)
	})

	a := NewMp4UploadAdapter(5*time.Second, nil, fastOpen())
	res, err := a.Resolve(context.Background(), models.DownloadLink{URL: srv.URL + "/abc123"})
	require.NoError(t, err)
	assert.Equal(t, "https://a4.mp4upload.com:183/d/xyz/video.mp4", res.URL)
	assert.Equal(t, mp4UploadReferer, res.Header.Get("Referer"))
	assert.Equal(t, Mp4Upload, res.Kind)
}

func TestMp4UploadRunsPlayer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<script>eval(function(p,a,c,k,e,d){})</script>`)
	}))
	defer srv.Close()

	page := srv.URL + "/embed-abc123.html"
	f := browsertest.New(map[string]string{page: `<div id="player"><video></video></div>`})
	f.Evaluated[page] = "https://a4.mp4upload.com:183/d/xyz/video.mp4"
	launched := 0
	launch := func(context.Context) (browser.Surface, error) {
		launched++
		return f, nil
	}

	a := NewMp4UploadAdapter(5*time.Second, launch, fastOpen())
	res, err := a.Resolve(context.Background(), models.DownloadLink{URL: page})
	require.NoError(t, err)
	assert.Equal(t, "https://a4.mp4upload.com:183/d/xyz/video.mp4", res.URL)
	assert.Equal(t, 1, launched)
	assert.True(t, f.Closed)
}

func TestMp4UploadWithoutBrowser(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<div id="player"></div>`)
	}))
	defer srv.Close()

	a := NewMp4UploadAdapter(5*time.Second, nil, fastOpen())
	_, err := a.Resolve(context.Background(), models.DownloadLink{URL: srv.URL + "/embed-abc123.html"})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Mp4Upload, perr.Kind)
	assert.Equal(t, "embed page", perr.Step)
}

func TestSolidFiles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<script>viewerOptions = {"downloadUrl":"https:\/\/s1.solidfilesusercontent.com\/ep1.mp4"};</script>`)
	}))
	defer srv.Close()

	res, err := NewSolidFilesAdapter(5*time.Second).Resolve(context.Background(), models.DownloadLink{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "https://s1.solidfilesusercontent.com/ep1.mp4", res.URL)
}

func TestDropboxRewrite(t *testing.T) {
	t.Parallel()

	res, err := DropboxAdapter{}.Resolve(context.Background(), models.DownloadLink{URL: "https://www.dropbox.com/s/abc/ep1.mp4?dl=0"})
	require.NoError(t, err)
	assert.Equal(t, "https://dl.dropboxusercontent.com/s/abc/ep1.mp4?dl=1", res.URL)
}

func TestResolutionHLS(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Resolution{URL: "https://cdn.example/master.m3u8?token=1"}).HLS())
	assert.False(t, (&Resolution{URL: "https://cdn.example/ep1.mp4"}).HLS())
}

const episodePage = "https://anime.example/episode/title-a-1/"

func scriptTabFake() *browsertest.Fake {
	f := browsertest.New(map[string]string{
		episodePage: `<ul id="episode-servers">
			<li><a data-index="0"><span class="notice">mediafire</span></a></li>
			<li><a data-index="1"><span class="notice">broken</span></a></li>
		</ul>`,
	})
	f.OnClick[ScriptIndexSelector(0)] = browsertest.ClickEffect{NewTab: "https://www.mediafire.com/file/k3y/ep1.mp4/file"}
	return f
}

func fastOpen() browser.OpenOptions {
	return browser.OpenOptions{Settle: util.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Limit: 20 * time.Millisecond}}
}

func TestScriptTabResolvesNewTab(t *testing.T) {
	t.Parallel()

	f := scriptTabFake()
	a := NewScriptTabAdapter(f, 200*time.Millisecond, fastOpen())

	res, err := a.Resolve(context.Background(), models.DeferredLink("mediafire", 0, episodePage))
	require.NoError(t, err)
	assert.Equal(t, "https://www.mediafire.com/file/k3y/ep1.mp4/file", res.URL)
	assert.Equal(t, 1, f.ClosedTabs)
	assert.Equal(t, []string{episodePage}, f.Navigations)
}

func TestScriptTabNothingOpened(t *testing.T) {
	t.Parallel()

	f := scriptTabFake()
	a := NewScriptTabAdapter(f, 50*time.Millisecond, fastOpen())

	_, err := a.Resolve(context.Background(), models.DeferredLink("broken", 1, episodePage))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "navigation", perr.Step)
}

func TestScriptTabMissingElement(t *testing.T) {
	t.Parallel()

	f := scriptTabFake()
	a := NewScriptTabAdapter(f, 50*time.Millisecond, fastOpen())

	_, err := a.Resolve(context.Background(), models.DeferredLink("gone", 7, episodePage))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "click", perr.Step)
}

// tablessSurface reports no tabs at all, not even the primary page
type tablessSurface struct {
	*browsertest.Fake
}

func (tablessSurface) Tabs(context.Context) ([]string, error) { return nil, nil }

func TestScriptTabWithoutTabList(t *testing.T) {
	t.Parallel()

	f := scriptTabFake()
	f.OnClick[ScriptIndexSelector(1)] = browsertest.ClickEffect{Navigate: "https://www.mediafire.com/file/k3y/ep2.mp4/file"}
	a := NewScriptTabAdapter(tablessSurface{f}, 200*time.Millisecond, fastOpen())

	var res *Resolution
	var err error
	require.NotPanics(t, func() {
		res, err = a.Resolve(context.Background(), models.DeferredLink("broken", 1, episodePage))
	})
	require.NoError(t, err)
	assert.Equal(t, "https://www.mediafire.com/file/k3y/ep2.mp4/file", res.URL)
}

func TestRegistryResolvesDeferredThroughScriptTab(t *testing.T) {
	t.Parallel()

	f := scriptTabFake()
	r := NewRegistry(Options{HTTPTimeout: time.Second})
	r.Register(ScriptTab, NewScriptTabAdapter(f, 200*time.Millisecond, fastOpen()))

	var seen models.DownloadLink
	r.Register(MediaFire, AdapterFunc(func(_ context.Context, link models.DownloadLink) (*Resolution, error) {
		seen = link
		return &Resolution{URL: "https://download9.mediafire.com/ep1.mp4"}, nil
	}))

	res, err := r.Resolve(context.Background(), models.DeferredLink("mediafire", 0, episodePage))
	require.NoError(t, err)
	assert.Equal(t, MediaFire, res.Kind)
	assert.Equal(t, "https://www.mediafire.com/file/k3y/ep1.mp4/file", seen.URL)
	assert.Equal(t, "https://download9.mediafire.com/ep1.mp4", res.URL)
}

func TestRegistryWithoutScriptTab(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Options{})
	_, err := r.Resolve(context.Background(), models.DeferredLink("x", 0, episodePage))
	assert.ErrorIs(t, err, ErrHostUnidentified)

	_, err = r.Resolve(context.Background(), models.DownloadLink{URL: "https://mega.nz/file/abc"})
	assert.ErrorIs(t, err, ErrHostUnidentified)
}

func TestProtocolErrorWraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := fmt.Errorf("attempt: %w", stepErr(MediaFire, "direct anchor", cause))
	assert.ErrorIs(t, err, ErrProtocolResolution)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "mediafire: direct anchor: boom")
}

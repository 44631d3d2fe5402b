package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
)

func feed(versions ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom">` + "\n")
	for _, v := range versions {
		fmt.Fprintf(&b, "  <entry><link rel=\"alternate\" href=\"https://github.com/o/r/releases/tag/v%s\"/></entry>\n", v)
	}
	b.WriteString("</feed>\n")
	return b.String()
}

func TestLatestFromFeed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{
			name: "newest first",
			body: feed("0.3.0", "0.2.0", "0.1.1"),
			want: "0.3.0",
		},
		{
			name: "out of order",
			body: feed("0.1.1", "0.3.0", "0.2.0"),
			want: "0.3.0",
		},
		{
			name: "numeric not lexical",
			body: feed("1.9.0", "1.10.0", "1.2.0"),
			want: "1.10.0",
		},
		{
			name: "four components",
			body: feed("2.0.0.1", "2.0.0.10", "2.0.0.9"),
			want: "2.0.0.10",
		},
		{
			name: "mixed case links",
			body: strings.Replace(feed("0.2.0", "0.4.0"), "/releases/tag/v0.4.0", "/Releases/Tag/V0.4.0", 1),
			want: "0.4.0",
		},
		{
			name:    "no entries",
			body:    feed(),
			wantErr: ErrNoVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatestFromFeed([]byte(tt.body), manifest.DefaultLivecheckRegex)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("LatestFromFeed() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LatestFromFeed() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("LatestFromFeed() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLatestFromFeed_BadPattern(t *testing.T) {
	if _, err := LatestFromFeed([]byte("x"), `v\d+`); err == nil {
		t.Error("expected error for pattern without capture group")
	}
	if _, err := LatestFromFeed([]byte("x"), `(`); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"0.10.0", "0.9.0", 1},
		{"v1.2.0", "1.1.9", 1},
		{"1.2", "1.2.0", 0},
		{"1.0.0-rc1", "1.0.0", -1},
		{"2.0.0.1", "2.0.0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			if got := CompareVersions(tt.a, tt.b); got != tt.want {
				t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLatest_FeedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := adkManifest()
	m.Version = manifest.VersionLatest
	m.Livecheck = manifest.Livecheck{URL: srv.URL}

	_, err := NewResolver(WithHTTPClient(srv.Client())).Latest(context.Background(), m)
	if !errors.Is(err, ErrFeed) {
		t.Errorf("Latest() error = %v, want ErrFeed", err)
	}
}

func TestLatest_FeedWithoutMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed())
	}))
	defer srv.Close()

	m := adkManifest()
	m.Livecheck = manifest.Livecheck{URL: srv.URL}

	_, err := NewResolver(WithHTTPClient(srv.Client())).Latest(context.Background(), m)
	if !errors.Is(err, ErrNoVersion) {
		t.Errorf("Latest() error = %v, want ErrNoVersion", err)
	}
}

func TestLatest_CustomRegex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "tool-1.4.2.tar.gz tool-1.12.0.tar.gz tool-1.5.0.tar.gz")
	}))
	defer srv.Close()

	m := adkManifest()
	m.Livecheck = manifest.Livecheck{URL: srv.URL, Regex: `tool-(\d+\.\d+\.\d+)\.tar\.gz`}

	got, err := NewResolver(WithHTTPClient(srv.Client())).Latest(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.12.0" {
		t.Errorf("Latest() = %q, want 1.12.0", got)
	}
}

func TestLatest_GitHubLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/raphaelmansuy/adk-code/releases/latest" {
			http.NotFound(w, r)
			return
		}
		if ua := r.Header.Get("User-Agent"); ua != "caskr-test" {
			t.Errorf("User-Agent = %q", ua)
		}
		fmt.Fprint(w, `{"tag_name": "v0.5.1", "name": "Release 0.5.1"}`)
	}))
	defer srv.Close()

	m := adkManifest()
	m.Livecheck = manifest.Livecheck{Strategy: manifest.StrategyGitHubLatest}

	r := NewResolver(WithHTTPClient(srv.Client()), WithAPIBase(srv.URL+"/"), WithUserAgent("caskr-test"))
	got, err := r.Latest(context.Background(), m)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got != "0.5.1" {
		t.Errorf("Latest() = %q, want 0.5.1", got)
	}
}

func TestCheckVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/raphaelmansuy/adk-code/releases/tags/v0.3.0":
			fmt.Fprint(w, `{"tag_name": "v0.3.0"}`)
		case "/repos/raphaelmansuy/adk-code/releases/tags/v0.9.0":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewResolver(WithHTTPClient(srv.Client()), WithAPIBase(srv.URL))

	tests := []struct {
		name    string
		version string
		wantErr error
	}{
		{name: "existing release", version: "0.3.0"},
		{name: "existing release with prefix", version: "v0.3.0"},
		{name: "missing release", version: "0.4.0", wantErr: ErrUnknownVersion},
		{name: "server error", version: "0.9.0", wantErr: ErrFeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.CheckVersion(context.Background(), adkManifest(), tt.version)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckVersion() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckVersion() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckVersion_NotOnGitHub(t *testing.T) {
	m := adkManifest()
	m.Homepage = "https://example.com/tool"
	m.URL = "https://example.com/tool-{version}.tar.gz"
	m.Livecheck = manifest.Livecheck{}

	// No request is made, so the unreachable API base is never dialed.
	r := NewResolver(WithAPIBase("http://127.0.0.1:1"))
	if err := r.CheckVersion(context.Background(), m, "1.0.0"); err != nil {
		t.Errorf("CheckVersion() error = %v, want nil", err)
	}
}

func TestLatest_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed("1.0.0"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := adkManifest()
	m.Livecheck = manifest.Livecheck{URL: srv.URL}

	_, err := NewResolver(WithHTTPClient(srv.Client())).Latest(ctx, m)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Latest() error = %v, want context.Canceled", err)
	}
}

func TestFeedURL_DefaultsToHomepage(t *testing.T) {
	m := adkManifest()
	got, err := feedURL(m)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://github.com/raphaelmansuy/adk-code/releases.atom" {
		t.Errorf("feedURL() = %q", got)
	}

	m.Homepage = "https://example.com"
	m.URL = "https://example.com/dl/{version}"
	if _, err := feedURL(m); !errors.Is(err, ErrFeed) {
		t.Errorf("feedURL() error = %v, want ErrFeed", err)
	}
}

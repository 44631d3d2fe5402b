package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZebulonRouseFrantzich/caskr/internal/manifest"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// maxFeedSize bounds how much of a feed or API response is read.
const maxFeedSize = 8 << 20

// Latest queries the manifest's livecheck source for the newest version.
func (r *Resolver) Latest(ctx context.Context, m *manifest.Manifest) (string, error) {
	switch m.Livecheck.Strategy {
	case manifest.StrategyGitHubLatest:
		owner, repo, err := githubRepo(m)
		if err != nil {
			return "", err
		}
		return r.latestFromGitHub(ctx, owner, repo)
	case manifest.StrategyFeed, "":
		feedURL, err := feedURL(m)
		if err != nil {
			return "", err
		}
		pattern := m.Livecheck.Regex
		if pattern == "" {
			pattern = manifest.DefaultLivecheckRegex
		}
		return r.latestFromFeed(ctx, feedURL, pattern)
	default:
		return "", fmt.Errorf("unknown livecheck strategy: %s", m.Livecheck.Strategy)
	}
}

func (r *Resolver) latestFromFeed(ctx context.Context, feedURL, pattern string) (string, error) {
	r.logger.Debug("checking release feed", zap.String("url", feedURL))

	body, err := r.get(ctx, feedURL, "application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return "", err
	}

	version, err := LatestFromFeed(body, pattern)
	if err != nil {
		return "", fmt.Errorf("%s: %w", feedURL, err)
	}

	r.logger.Debug("latest version from feed", zap.String("version", version))
	return version, nil
}

type githubRelease struct {
	TagName string `json:"tag_name"`
}

func (r *Resolver) latestFromGitHub(ctx context.Context, owner, repo string) (string, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", r.apiBase, url.PathEscape(owner), url.PathEscape(repo))
	r.logger.Debug("checking latest GitHub release", zap.String("url", apiURL))

	body, err := r.get(ctx, apiURL, "application/vnd.github+json")
	if err != nil {
		return "", err
	}

	var rel githubRelease
	if err := json.Unmarshal(body, &rel); err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrFeed, apiURL, err)
	}

	version := strings.TrimPrefix(strings.TrimSpace(rel.TagName), "v")
	if version == "" {
		return "", fmt.Errorf("%w: %s has no tag_name", ErrNoVersion, apiURL)
	}
	return version, nil
}

// CheckVersion confirms that the release tagged v<version> exists on GitHub.
// Manifests that are not hosted on GitHub are not checked.
func (r *Resolver) CheckVersion(ctx context.Context, m *manifest.Manifest, version string) error {
	owner, repo, err := githubRepo(m)
	if err != nil {
		r.logger.Debug("skipping release check", zap.String("name", m.Name), zap.Error(err))
		return nil
	}

	tag := "v" + strings.TrimPrefix(version, "v")
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		r.apiBase, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(tag))
	r.logger.Debug("checking release tag", zap.String("url", apiURL))

	resp, err := r.do(ctx, apiURL, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s/%s has no release %s", ErrUnknownVersion, owner, repo, tag)
	default:
		return fmt.Errorf("%w: %s returned status %d", ErrFeed, apiURL, resp.StatusCode)
	}
}

// get performs a single GET. Livecheck requests are not retried.
func (r *Resolver) get(ctx context.Context, target, accept string) ([]byte, error) {
	resp, err := r.do(ctx, target, accept)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFeed, target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrFeed, target, err)
	}
	return body, nil
}

func (r *Resolver) do(ctx context.Context, target, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrFeed, err)
	}
	return resp, nil
}

// LatestFromFeed extracts every version captured by pattern's first group
// and returns the highest one. Document order is irrelevant.
func LatestFromFeed(body []byte, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("compile livecheck regex: %w", err)
	}
	if re.NumSubexp() < 1 {
		return "", fmt.Errorf("livecheck regex %q has no capture group", pattern)
	}

	var latest string
	for _, match := range re.FindAllSubmatch(body, -1) {
		candidate := strings.TrimPrefix(string(match[1]), "v")
		if candidate == "" {
			continue
		}
		if latest == "" || CompareVersions(candidate, latest) > 0 {
			latest = candidate
		}
	}

	if latest == "" {
		return "", ErrNoVersion
	}
	return latest, nil
}

// CompareVersions orders two version strings. Semantic versions are compared
// with golang.org/x/mod/semver; anything else falls back to comparing dotted
// numeric components left to right.
func CompareVersions(a, b string) int {
	va := "v" + strings.TrimPrefix(a, "v")
	vb := "v" + strings.TrimPrefix(b, "v")
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	return compareNumeric(strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v"))
}

func compareNumeric(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		if i < len(pa) {
			na, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			nb, _ = strconv.Atoi(pb[i])
		}
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
	}
	return strings.Compare(a, b)
}

// feedURL returns the livecheck URL, defaulting to the GitHub releases feed
// of the homepage.
func feedURL(m *manifest.Manifest) (string, error) {
	if m.Livecheck.URL != "" {
		return m.Livecheck.URL, nil
	}
	owner, repo, err := githubRepo(m)
	if err != nil {
		return "", fmt.Errorf("%w: no livecheck url and %v", ErrFeed, err)
	}
	return fmt.Sprintf("https://github.com/%s/%s/releases.atom", owner, repo), nil
}

// githubRepo finds owner/repo in the livecheck URL, the homepage or the
// download URL, in that order.
func githubRepo(m *manifest.Manifest) (string, string, error) {
	for _, raw := range []string{m.Livecheck.URL, m.Homepage, m.URL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host != "github.com" {
			continue
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
		}
	}
	return "", "", fmt.Errorf("cannot determine GitHub repository for %s", m.Name)
}

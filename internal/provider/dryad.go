package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/ladrex/geoextent-harvest/internal/httpclient"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/openaire"
)

const dryadBaseURL = "https://datadryad.org"

var dryadIDRegexp = regexp.MustCompile(`(10\.5061/dryad\.[A-Za-z0-9]+)(?:/\d+)?`)

type dryadAdapter struct {
	http    *httpclient.Client
	baseURL string
}

func newDryadAdapter(c *httpclient.Client) *dryadAdapter {
	return &dryadAdapter{http: c, baseURL: dryadBaseURL}
}

func (a *dryadAdapter) Kind() normalize.Kind { return normalize.Dryad }

func (a *dryadAdapter) FetchMetadata(ctx context.Context, id string, accessToken string) (normalize.RawMetadata, *int, error) {
	stripped := strings.TrimPrefix(id, "doi:")
	endpoint := a.baseURL + "/api/v2/datasets/" + url.PathEscape(stripped)
	return a.fetch(ctx, endpoint)
}

func (a *dryadAdapter) fetch(ctx context.Context, endpoint string) (normalize.RawMetadata, *int, error) {
	resp, err := a.http.Get(ctx, endpoint, httpclient.GetOptions{})
	if err != nil {
		return nil, nil, err
	}
	if resp.Body == nil {
		status := resp.StatusCode
		return nil, &status, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		status := resp.StatusCode
		return nil, &status, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("dryad: reading dataset body: %w", err)
	}

	var meta normalize.RawMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, nil, fmt.Errorf("dryad: decoding dataset body: %w", err)
	}

	if _, notFound := meta["message"]; notFound {
		return nil, nil, nil
	}

	versionHref, ok := versionHref(meta)
	if !ok {
		return meta, nil, nil
	}

	filesResp, err := a.http.Get(ctx, a.baseURL+versionHref+"/files", httpclient.GetOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if filesResp.Body != nil {
			filesResp.Body.Close()
		}
	}()
	if filesResp.StatusCode >= 400 || filesResp.Body == nil {
		// the dataset record itself is valid even if its files page is not;
		// surface the metadata with no files rather than discarding it.
		return meta, nil, nil
	}

	filesBody, err := io.ReadAll(filesResp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("dryad: reading files body: %w", err)
	}
	var filesDoc normalize.RawMetadata
	if err := json.Unmarshal(filesBody, &filesDoc); err != nil {
		return nil, nil, fmt.Errorf("dryad: decoding files body: %w", err)
	}

	meta["files_count"] = filesDoc["count"]
	meta["files_total"] = filesDoc["total"]
	meta["files_embedded"] = filesDoc["_embedded"]

	return meta, nil, nil
}

func versionHref(meta normalize.RawMetadata) (string, bool) {
	links, ok := meta["_links"].(map[string]any)
	if !ok {
		return "", false
	}
	version, ok := links["stash:version"].(map[string]any)
	if !ok {
		return "", false
	}
	href, ok := version["href"].(string)
	return href, ok && href != ""
}

func (a *dryadAdapter) EnumerateFiles(meta normalize.RawMetadata) []normalize.FileEntry {
	return normalize.EnumerateFiles(normalize.Dryad, meta)
}

// ExtractIdentifier implements the Dryad regex of the core specification:
// candidate doi values come from instances[*].pids / alternateIdentifiers
// with scheme "doi"; each is matched against the Dryad DOI shape; ties are
// broken by ascending sort, taking the first.
func (a *dryadAdapter) ExtractIdentifier(record openaire.Record) (string, bool) {
	candidates := record.PIDsWithScheme("doi")
	var matched []string
	for _, c := range candidates {
		sub := dryadIDRegexp.FindStringSubmatch(c)
		if sub == nil {
			continue
		}
		matched = append(matched, sub[1])
	}
	if len(matched) == 0 {
		return "", false
	}
	sort.Strings(matched)
	return "doi:" + matched[0], true
}

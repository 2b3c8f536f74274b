package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/ladrex/geoextent-harvest/internal/httpclient"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/openaire"
)

var figshareIDRegexp = regexp.MustCompile(`\.(\d+)(?:_d\d+)?(?:\.v\d+)?$`)

type figshareAdapter struct {
	http *httpclient.Client
}

func newFigshareAdapter(c *httpclient.Client) *figshareAdapter {
	return &figshareAdapter{http: c}
}

func (a *figshareAdapter) Kind() normalize.Kind { return normalize.Figshare }

func (a *figshareAdapter) FetchMetadata(ctx context.Context, id string, accessToken string) (normalize.RawMetadata, *int, error) {
	endpoint := fmt.Sprintf("https://api.figshare.com/v2/articles/%s", id)

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
		return nil, nil, fmt.Errorf("figshare: reading article body: %w", err)
	}
	var meta normalize.RawMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, nil, fmt.Errorf("figshare: decoding article body: %w", err)
	}
	return meta, nil, nil
}

func (a *figshareAdapter) EnumerateFiles(meta normalize.RawMetadata) []normalize.FileEntry {
	return normalize.EnumerateFiles(normalize.Figshare, meta)
}

// ExtractIdentifier implements the Figshare regex: the numeric article id
// trailing the pid value, optionally followed by a "_dNNN" disambiguator
// or a ".vN" version suffix. Candidates come from doi-scheme pids/
// alternateIdentifiers only.
func (a *figshareAdapter) ExtractIdentifier(record openaire.Record) (string, bool) {
	candidates := record.PIDsWithScheme("doi")
	var matched []string
	for _, c := range candidates {
		sub := figshareIDRegexp.FindStringSubmatch(c)
		if sub == nil {
			continue
		}
		matched = append(matched, sub[1])
	}
	if len(matched) == 0 {
		return "", false
	}
	sort.Strings(matched)
	return matched[0], true
}

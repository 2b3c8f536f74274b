// Package provider implements the per-content-provider capability set
// (metadata fetch, identifier extraction, file listing) behind one
// Adapter interface, the tagged-variant shape DESIGN NOTES calls for in
// place of conditional chains scattered through the pipeline.
package provider

import (
	"context"

	"github.com/ladrex/geoextent-harvest/internal/httpclient"
	"github.com/ladrex/geoextent-harvest/internal/normalize"
	"github.com/ladrex/geoextent-harvest/internal/openaire"
)

// Adapter is implemented once per content provider.
type Adapter interface {
	Kind() normalize.Kind

	// FetchMetadata returns the provider's raw metadata document for id.
	// A nil httpStatus with a nil RawMetadata and nil error means the
	// provider answered but reported the dataset as not found via a
	// structured body rather than a 404 (Dryad's "message" field); the
	// harvester records this under http_error["undefined"]. A non-nil
	// httpStatus carries a final HTTP error status.
	FetchMetadata(ctx context.Context, id string, accessToken string) (meta normalize.RawMetadata, httpStatus *int, err error)

	// EnumerateFiles lists this provider's files out of an already-fetched
	// metadata document.
	EnumerateFiles(meta normalize.RawMetadata) []normalize.FileEntry

	// ExtractIdentifier recovers this provider's canonical identifier from
	// one OpenAIRE graph-dump record, or reports ok=false when no
	// candidate survives the provider's regex.
	ExtractIdentifier(record openaire.Record) (id string, ok bool)
}

// Registry maps each provider Kind to its Adapter.
type Registry map[normalize.Kind]Adapter

// NewRegistry builds the registry used by the harvester.
// httpFor is invoked once per provider to build its throttled client,
// keeping the retry/throttle wiring decision with the caller (who knows
// about configured access tokens and timeouts) while the adapters stay
// free of client construction concerns.
func NewRegistry(httpFor func(kind normalize.Kind) *httpclient.Client) Registry {
	return Registry{
		normalize.Dryad:    newDryadAdapter(httpFor(normalize.Dryad)),
		normalize.Figshare: newFigshareAdapter(httpFor(normalize.Figshare)),
		normalize.Zenodo:   newZenodoAdapter(httpFor(normalize.Zenodo)),
	}
}

// Package inspector runs the streamability check for one NZB candidate: it
// picks the archive member to read, fetches and decodes its first segment,
// dispatches the matching format inspector and refines the verdict.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/javi11/nzbinspect/internal/archive"
	"github.com/javi11/nzbinspect/internal/archive/rar"
	"github.com/javi11/nzbinspect/internal/archive/sevenzip"
	"github.com/javi11/nzbinspect/internal/archive/zip"
	"github.com/javi11/nzbinspect/internal/config"
	sharedErrors "github.com/javi11/nzbinspect/internal/errors"
	"github.com/javi11/nzbinspect/internal/nzb"
	"github.com/javi11/nzbinspect/internal/slogutil"
)

// Options tunes an Inspector.
type Options struct {
	// MaxDecodedBytes caps each decoded segment; zero means no cap.
	MaxDecodedBytes int
	// CacheSize is the number of decoded segments kept; zero disables caching.
	CacheSize int
	// Workers bounds InspectBatch concurrency.
	Workers int
	// ShallowSevenZip skips the extra fetch of the last 7z segment.
	ShallowSevenZip bool
	// VerifyAvailability STATs the first and last segment of a playable part.
	VerifyAvailability bool
	// Activity is touched on every inspection when set.
	Activity *Activity
}

// OptionsFromConfig maps the inspection section onto Options.
func OptionsFromConfig(cfg *config.Config, activity *Activity) Options {
	return Options{
		MaxDecodedBytes: cfg.GetMaxDecodedBytes(),
		CacheSize:       cfg.Inspection.SegmentCacheSize,
		Workers:         cfg.GetBatchWorkers(),
		Activity:        activity,
	}
}

// Inspector classifies NZB candidates. It is safe for concurrent use.
type Inspector struct {
	opts     Options
	fetcher  *SegmentFetcher
	rar      *rar.Inspector
	sevenZip *sevenzip.Inspector
	zip      *zip.Inspector
	log      *slog.Logger
}

// New creates an Inspector reading articles from source.
func New(source Source, opts Options) (*Inspector, error) {
	fetcher, err := NewSegmentFetcher(source, opts.MaxDecodedBytes, opts.CacheSize)
	if err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &Inspector{
		opts:     opts,
		fetcher:  fetcher,
		rar:      rar.NewInspector(),
		sevenZip: sevenzip.NewInspector(),
		zip:      zip.NewInspector(),
		log:      slog.Default().With("component", "inspector"),
	}, nil
}

// InspectManifest inspects every file of a parsed NZB as one candidate.
// The password argument takes precedence over the one in the NZB meta.
func (i *Inspector) InspectManifest(ctx context.Context, m *nzb.Manifest, password string) (archive.Verdict, error) {
	if m == nil || len(m.Files) == 0 {
		return archive.Verdict{}, sharedErrors.ErrNoArchiveEntry
	}
	if password == "" {
		password = m.Password
	}
	return i.Inspect(ctx, m.Files, password)
}

// Inspect classifies one candidate. Format, crypto and missing-article
// problems are reported in the verdict; the error is only set when the pool
// is unavailable or ctx ends.
func (i *Inspector) Inspect(ctx context.Context, files []nzb.FileEntry, password string) (archive.Verdict, error) {
	if _, ok := slogutil.Value(ctx, "inspection_id"); !ok {
		ctx = slogutil.With(ctx, "inspection_id", uuid.NewString())
	}
	if i.opts.Activity != nil {
		i.opts.Activity.Touch()
	}
	start := time.Now()

	part, ok := archive.SelectPart(files)
	if !ok {
		i.log.DebugContext(ctx, "No inspectable archive member", "files", len(files))
		return archive.WithReason(archive.StatusRarHeaderNotFound, archive.ReasonUnknownFormat), nil
	}
	ctx = slogutil.With(ctx, "file", part.Filename)

	v, data, err := i.inspectPart(ctx, files, part, password)
	if err != nil {
		return archive.Verdict{}, err
	}

	v = archive.RefineVerdict(v, data)

	if v.Playable() && i.opts.VerifyAvailability {
		missing, err := i.CheckAvailability(ctx, part)
		if err != nil {
			return archive.Verdict{}, err
		}
		if len(missing) > 0 {
			v = withDetails(v, func(d *archive.Details) { d.MissingSegments = missing })
		}
	}

	if signals := archive.CheckPartConsistency(files); len(signals) > 0 {
		i.log.WarnContext(ctx, "Multi-part segment counts disagree",
			"archive", signals[0].Archive,
			"expected", signals[0].ExpectedSegments,
			"deviating", signals[0].Deviating)
		v = withDetails(v, func(d *archive.Details) { d.Corruption = &signals[0] })
	}

	i.log.InfoContext(ctx, "Inspection finished",
		"status", v.Status,
		"reason", v.Reason(),
		"duration", time.Since(start))
	return v, nil
}

func (i *Inspector) inspectPart(ctx context.Context, files []nzb.FileEntry, part nzb.FileEntry, password string) (archive.Verdict, []byte, error) {
	_, kind, _ := archive.ParsePart(part.Filename)
	sevenZipPart := kind == archive.PartSevenZip || kind == archive.PartSevenZipVolume

	first, _ := part.FirstSegment()
	data, err := i.fetcher.FetchSegment(ctx, first.ID)
	if err != nil {
		if sharedErrors.IsResource(err) || ctx.Err() != nil {
			return archive.Verdict{}, nil, err
		}
		status := archive.StatusRarInsufficientData
		if sevenZipPart {
			status = archive.StatusSevenZipInsufficientData
		}
		i.log.WarnContext(ctx, "First segment unavailable", "message_id", first.ID, "error", err)
		return fetchFailure(status, first.ID, err), nil, nil
	}

	switch {
	case rar.IsRAR4(data), rar.IsRAR5(data):
		return i.rar.Inspect(data, password), data, nil

	case sevenzip.IsSevenZip(data):
		if i.opts.ShallowSevenZip {
			return i.sevenZip.InspectShallow(data), data, nil
		}
		volumes := archive.SevenZipVolumes(files, part.Filename)
		if len(volumes) == 0 {
			volumes = []nzb.FileEntry{part}
		}
		v, err := i.sevenZip.InspectDeep(ctx, volumes, i.fetcher, password)
		if err != nil {
			return archive.Verdict{}, nil, err
		}
		return v, data, nil

	case zip.IsZip(data):
		return i.zip.Inspect(data), data, nil

	case sevenZipPart:
		return i.sevenZip.InspectShallow(data), data, nil
	}

	i.log.DebugContext(ctx, "Unrecognised archive signature", "bytes", len(data))
	return archive.WithReason(archive.StatusRarHeaderNotFound, archive.ReasonUnknownFormat), data, nil
}

func fetchFailure(status archive.Status, messageID string, err error) archive.Verdict {
	switch {
	case sharedErrors.IsNotFound(err):
		return archive.NewVerdict(status, &archive.Details{
			Reason:          archive.ReasonSegmentMissing,
			MissingSegments: []string{messageID},
		})
	case sharedErrors.IsDecode(err):
		return archive.WithReason(status, archive.ReasonDecodeFailed)
	default:
		return archive.WithReason(status, archive.ReasonFetchFailed)
	}
}

// withDetails applies fn to a copy of the verdict details.
func withDetails(v archive.Verdict, fn func(d *archive.Details)) archive.Verdict {
	d := &archive.Details{}
	if v.Details != nil {
		*d = *v.Details
	}
	fn(d)
	return archive.NewVerdict(v.Status, d)
}

// CheckAvailability STATs the first and last segment of file and returns the
// ids the server reports missing. Transport failures are logged and skipped.
func (i *Inspector) CheckAvailability(ctx context.Context, file nzb.FileEntry) ([]string, error) {
	var ids []string
	if s, ok := file.FirstSegment(); ok {
		ids = append(ids, s.ID)
	}
	if s, ok := file.LastSegment(); ok && (len(ids) == 0 || s.ID != ids[0]) {
		ids = append(ids, s.ID)
	}

	var missing []string
	for _, id := range ids {
		err := i.fetcher.Stat(ctx, id)
		switch {
		case err == nil:
		case sharedErrors.IsNotFound(err):
			missing = append(missing, id)
		case sharedErrors.IsResource(err) || ctx.Err() != nil:
			return nil, err
		default:
			i.log.WarnContext(ctx, "Availability probe failed", "message_id", id, "error", err)
		}
	}

	if len(missing) > 0 {
		i.log.InfoContext(ctx, "Segments missing", "file", file.Filename, "missing", len(missing))
	}
	return missing, nil
}

// Candidate is one NZB to classify in a batch.
type Candidate struct {
	Name     string
	Files    []nzb.FileEntry
	Password string
}

// Result pairs a candidate with its verdict or hard failure.
type Result struct {
	Name    string          `json:"name"`
	Verdict archive.Verdict `json:"verdict"`
	Err     error           `json:"-"`
}

// InspectBatch inspects candidates concurrently, at most Options.Workers at a
// time. Results keep the order of candidates. A hard failure of one candidate
// does not stop the others.
func (i *Inspector) InspectBatch(ctx context.Context, candidates []Candidate) []Result {
	results := make([]Result, len(candidates))

	p := concpool.New().WithMaxGoroutines(i.opts.Workers).WithContext(ctx)
	for idx, c := range candidates {
		p.Go(func(ctx context.Context) error {
			cctx := slogutil.With(ctx, "candidate", c.Name)
			v, err := i.Inspect(cctx, c.Files, c.Password)
			results[idx] = Result{Name: c.Name, Verdict: v, Err: err}
			return nil
		})
	}
	_ = p.Wait()

	return results
}

// Errors joins the hard failures of results, or returns nil.
func Errors(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

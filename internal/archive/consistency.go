package archive

import (
	"sort"
	"strings"

	"github.com/javi11/nzbinspect/internal/nzb"
)

const (
	minConsistencyParts = 3
	deviationThreshold  = 0.20
)

// CorruptionSignal reports a .partNN.rar family whose volumes disagree on
// segment counts. It is a hint, not a verdict.
type CorruptionSignal struct {
	Archive          string `json:"archive"`
	ExpectedSegments int    `json:"expectedSegments"`
	ObservedSegments []int  `json:"observedSegments"`
	SampleFile       string `json:"sampleFile"`
	Parts            int    `json:"parts"`
	Deviating        int    `json:"deviating"`
}

// CheckPartConsistency compares segment counts inside every .partNN.rar family
// with at least three volumes. The last volume is excluded since it is usually
// shorter; the others are compared with the first. A family is reported when at
// least 20% of the compared volumes deviate.
func CheckPartConsistency(files []nzb.FileEntry) []CorruptionSignal {
	type part struct {
		entry  nzb.FileEntry
		number int
	}

	families := make(map[string][]part)
	var order []string
	for _, f := range files {
		base, kind, n := ParsePart(f.Filename)
		if kind != PartRarPart {
			continue
		}
		key := strings.ToLower(base)
		if _, ok := families[key]; !ok {
			order = append(order, key)
		}
		families[key] = append(families[key], part{entry: f, number: n})
	}

	var signals []CorruptionSignal
	for _, key := range order {
		parts := families[key]
		if len(parts) < minConsistencyParts {
			continue
		}
		sort.SliceStable(parts, func(i, j int) bool { return parts[i].number < parts[j].number })

		compared := parts[:len(parts)-1]
		expected := len(compared[0].entry.Segments)

		var observed []int
		sample := ""
		for _, p := range compared[1:] {
			if len(p.entry.Segments) == expected {
				continue
			}
			observed = append(observed, len(p.entry.Segments))
			if sample == "" {
				sample = p.entry.Filename
			}
		}

		if len(observed) == 0 || float64(len(observed))/float64(len(compared)) < deviationThreshold {
			continue
		}

		base, _, _ := ParsePart(compared[0].entry.Filename)
		signals = append(signals, CorruptionSignal{
			Archive:          base,
			ExpectedSegments: expected,
			ObservedSegments: observed,
			SampleFile:       sample,
			Parts:            len(parts),
			Deviating:        len(observed),
		})
	}

	return signals
}

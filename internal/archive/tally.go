package archive

const maxSampleEntries = 5

// Tally accumulates the member files seen while walking an archive.
type Tally struct {
	// ExcludeSamples keeps sample and proof clips out of the playable count.
	ExcludeSamples bool

	Entries  int
	Stored   int
	Playable int
	Nested   int
	Media    int

	firstPlayable string
	firstNested   string
	samples       []string
}

// Observe records a file header without classifying it (directories, service entries).
func (t *Tally) Observe(name string) {
	t.Entries++
	t.sample(name)
}

// AddStored records a stored member and classifies it as playable video,
// nested archive, non-video media or none of these.
func (t *Tally) AddStored(name string) {
	t.Observe(name)
	t.Stored++

	switch {
	case t.playable(name):
		t.Playable++
		if t.firstPlayable == "" {
			t.firstPlayable = name
		}
	case IsArchive(name):
		t.Nested++
		if t.firstNested == "" {
			t.firstNested = name
		}
	case IsNonVideoMedia(name):
		t.Media++
	}
}

func (t *Tally) playable(name string) bool {
	if t.ExcludeSamples {
		return IsPlayable(name)
	}
	return IsVideo(name) && !IsDiscStructure(name)
}

// Samples returns up to five distinct member names in walk order.
func (t *Tally) Samples() []string {
	if len(t.samples) == 0 {
		return nil
	}
	out := make([]string, len(t.samples))
	copy(out, t.samples)
	return out
}

func (t *Tally) sample(name string) {
	if name == "" || len(t.samples) >= maxSampleEntries {
		return
	}
	for _, s := range t.samples {
		if s == name {
			return
		}
	}
	t.samples = append(t.samples, name)
}

// Details returns the diagnostic view of the tally.
func (t *Tally) Details() *Details {
	name := t.firstPlayable
	if name == "" {
		name = t.firstNested
	}
	if name == "" && len(t.samples) > 0 {
		name = t.samples[0]
	}

	return &Details{
		Name:            name,
		SampleEntries:   t.Samples(),
		PlayableEntries: t.Playable,
		NestedArchives:  t.Nested,
		StoredEntries:   t.Stored,
		MediaEntries:    t.Media,
	}
}

// RarVerdict aggregates the tally with the RAR family vocabulary. ZIP shares it.
func (t *Tally) RarVerdict() Verdict {
	d := t.Details()

	switch {
	case t.Entries == 0:
		return NewVerdict(StatusRarHeaderNotFound, nil)
	case t.Nested > 0 && t.Playable == 0:
		return NewVerdict(StatusRarNestedArchive, d)
	case t.Playable == 0:
		return NewVerdict(StatusRarNoVideo, d)
	default:
		return NewVerdict(StatusRarStored, d)
	}
}

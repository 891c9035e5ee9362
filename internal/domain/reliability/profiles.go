package reliability

import (
	"slices"
	"sort"

	"github.com/okian/transferwire/internal/domain/model"
	"github.com/okian/transferwire/pkg/metrics"
)

// refreshProfiles recomputes every regional profile and publishes the set
// with compare-and-swap. A lost race recomputes from fresh state, so the
// published set always reflects the latest finished update.
func (t *Tracker) refreshProfiles() {
	for {
		old := t.profiles.Load()
		next := t.computeProfiles()
		if t.profiles.CompareAndSwap(old, &next) {
			for _, p := range next {
				metrics.UpdateRegionCoverage(string(p.Region), p.CoverageQuality)
			}
			return
		}
	}
}

func (t *Tracker) computeProfiles() profileSet {
	var sources []model.Source
	if t.catalog != nil {
		sources = t.catalog.Sources()
	}

	byRegion := make(map[model.Region][]model.Source)
	for r := range t.regions {
		byRegion[r] = nil
	}
	for _, s := range sources {
		byRegion[s.Region] = append(byRegion[s.Region], s)
	}

	set := make(profileSet, len(byRegion))
	for region, members := range byRegion {
		set[region] = t.profileFor(region, members)
	}
	return set
}

type ranked struct {
	id       string
	accuracy float64
}

func (t *Tracker) profileFor(region model.Region, members []model.Source) model.RegionalProfile {
	cfg := t.regions[region]
	p := model.RegionalProfile{
		Region:   region,
		Timezone: cfg.Timezone,
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	var (
		tracked []ranked
		hours   [24]int
		samples int
		sum     float64
	)
	for _, s := range members {
		if s.Active {
			p.SourceCount++
		}
		m, ok := t.Metric(s.ID)
		if !ok {
			continue
		}
		tracked = append(tracked, ranked{id: s.ID, accuracy: m.AccuracyRate})
		sum += m.AccuracyRate
		for h, n := range m.HourHistogram {
			hours[h] += n
			samples += n
		}
	}

	if len(tracked) > 0 {
		p.AverageAccuracy = sum / float64(len(tracked))
	}
	sort.Slice(tracked, func(i, j int) bool {
		if tracked[i].accuracy != tracked[j].accuracy {
			return tracked[i].accuracy > tracked[j].accuracy
		}
		return tracked[i].id < tracked[j].id
	})
	for i := 0; i < len(tracked) && i < topSourceCount; i++ {
		p.TopPerformingSources = append(p.TopPerformingSources, tracked[i].id)
	}

	target := cfg.TargetSources
	if target <= 0 {
		target = defaultTargetSources
	}
	p.CoverageQuality = min(1.0, float64(p.SourceCount)/float64(target))

	if samples >= t.learnAfter {
		p.PeakActivityHours = topHours(hours, t.peakHours)
		p.LearnedPeakHours = true
	} else {
		p.PeakActivityHours = slices.Clone(cfg.DefaultPeakHours)
		slices.Sort(p.PeakActivityHours)
	}
	return p
}

// topHours returns the n busiest hours in ascending order. Ties keep the
// earlier hour.
func topHours(hist [24]int, n int) []int {
	idx := make([]int, 24)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return hist[idx[a]] > hist[idx[b]] })
	out := make([]int, 0, n)
	for _, h := range idx[:n] {
		if hist[h] == 0 {
			break
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

package aggregate

import (
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// SharedIndex holds the reverse mappings instrument→usernames and network
// origin→usernames. It is derived from a finalized aggregate set and rebuilt
// from scratch on every scoring pass; patching it incrementally across passes
// can under- or over-count membership after a user's attributes change.
type SharedIndex struct {
	byInstrument map[string]map[string]struct{}
	byOrigin     map[string]map[string]struct{}
}

// BuildIndex derives the shared-resource index from an aggregate set.
func BuildIndex(users map[string]*models.UserAggregate) *SharedIndex {
	idx := &SharedIndex{
		byInstrument: make(map[string]map[string]struct{}),
		byOrigin:     make(map[string]map[string]struct{}),
	}
	for username, agg := range users {
		for instrument := range agg.Instruments {
			set, ok := idx.byInstrument[instrument]
			if !ok {
				set = make(map[string]struct{})
				idx.byInstrument[instrument] = set
			}
			set[username] = struct{}{}
		}
		if agg.NetworkOrigin != "" {
			set, ok := idx.byOrigin[agg.NetworkOrigin]
			if !ok {
				set = make(map[string]struct{})
				idx.byOrigin[agg.NetworkOrigin] = set
			}
			set[username] = struct{}{}
		}
	}
	return idx
}

// InstrumentUsers returns how many distinct usernames share the instrument.
func (idx *SharedIndex) InstrumentUsers(instrument string) int {
	return len(idx.byInstrument[instrument])
}

// OriginUsers returns how many distinct usernames share the network origin.
func (idx *SharedIndex) OriginUsers(origin string) int {
	return len(idx.byOrigin[origin])
}

// SharedInstrumentCount returns the maximum, over the user's instruments, of
// that instrument's user-set size. A user with no instruments scores 0.
func (idx *SharedIndex) SharedInstrumentCount(agg *models.UserAggregate) int {
	max := 0
	for instrument := range agg.Instruments {
		if n := len(idx.byInstrument[instrument]); n > max {
			max = n
		}
	}
	return max
}

// SharedOriginCount returns the user-set size of the user's origin, or 0 when
// the user has no recorded origin.
func (idx *SharedIndex) SharedOriginCount(agg *models.UserAggregate) int {
	if agg.NetworkOrigin == "" {
		return 0
	}
	return len(idx.byOrigin[agg.NetworkOrigin])
}

package store

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/ranking"
)

// ErrNotPopulated is returned until the first successful cycle of a section
var ErrNotPopulated = errors.New("data is still loading")

// MoversTable holds the gainers and losers of one timeframe
type MoversTable struct {
	Timeframe market.Timeframe `json:"timeframe"`
	Gainers   []ranking.Mover  `json:"gainers"`
	Losers    []ranking.Mover  `json:"losers"`
	Sampled   int              `json:"sampled"`
}

// MoversSection is every movers table of one cycle
type MoversSection struct {
	Tables     map[market.Timeframe]MoversTable `json:"tables"`
	LastUpdate time.Time                        `json:"last_update"`
}

// VolumeTable holds the volume gaining and losing tables of one timeframe
type VolumeTable struct {
	Timeframe market.Timeframe    `json:"timeframe"`
	Gaining   []ranking.VolumeRow `json:"gaining"`
	Losing    []ranking.VolumeRow `json:"losing"`
	Sampled   int                 `json:"sampled"`
	Excluded  int                 `json:"excluded"` // sampled rows removed by the exclusion set
}

// VolumeSection is every volume table of one cycle plus the exclusion set
// it was filtered with
type VolumeSection struct {
	Tables     map[market.Timeframe]VolumeTable `json:"tables"`
	Excluded   []string                         `json:"excluded"`
	LastUpdate time.Time                        `json:"last_update"`
}

// FundingSection holds the funding tables
type FundingSection struct {
	Positive   []ranking.FundingRow `json:"positive"`
	Negative   []ranking.FundingRow `json:"negative"`
	LastUpdate time.Time            `json:"last_update"`
}

// MarketDataStore holds the last committed section of each category. Each
// section has a single writer; readers never block and never see a partial
// section.
type MarketDataStore struct {
	movers  atomic.Pointer[MoversSection]
	volume  atomic.Pointer[VolumeSection]
	funding atomic.Pointer[FundingSection]
}

// New creates an empty store
func New() *MarketDataStore {
	return &MarketDataStore{}
}

// CommitMovers replaces the movers section
func (s *MarketDataStore) CommitMovers(sec *MoversSection) {
	s.movers.Store(sec)
}

// CommitVolume replaces the volume section
func (s *MarketDataStore) CommitVolume(sec *VolumeSection) {
	s.volume.Store(sec)
}

// CommitFunding replaces the funding section
func (s *MarketDataStore) CommitFunding(sec *FundingSection) {
	s.funding.Store(sec)
}

// Movers returns the movers table for tf and the section's last update
func (s *MarketDataStore) Movers(tf market.Timeframe) (MoversTable, time.Time, error) {
	sec := s.movers.Load()
	if sec == nil {
		return MoversTable{}, time.Time{}, ErrNotPopulated
	}
	t, ok := sec.Tables[tf]
	if !ok {
		return MoversTable{}, time.Time{}, ErrNotPopulated
	}
	return t, sec.LastUpdate, nil
}

// Volume returns the volume table for tf and the section's last update
func (s *MarketDataStore) Volume(tf market.Timeframe) (VolumeTable, time.Time, error) {
	sec := s.volume.Load()
	if sec == nil {
		return VolumeTable{}, time.Time{}, ErrNotPopulated
	}
	t, ok := sec.Tables[tf]
	if !ok {
		return VolumeTable{}, time.Time{}, ErrNotPopulated
	}
	return t, sec.LastUpdate, nil
}

// Funding returns the funding section
func (s *MarketDataStore) Funding() (FundingSection, error) {
	sec := s.funding.Load()
	if sec == nil {
		return FundingSection{}, ErrNotPopulated
	}
	return *sec, nil
}

// MoversSection returns the whole movers section
func (s *MarketDataStore) MoversSection() (*MoversSection, error) {
	if sec := s.movers.Load(); sec != nil {
		return sec, nil
	}
	return nil, ErrNotPopulated
}

// VolumeSection returns the whole volume section
func (s *MarketDataStore) VolumeSection() (*VolumeSection, error) {
	if sec := s.volume.Load(); sec != nil {
		return sec, nil
	}
	return nil, ErrNotPopulated
}

// Status reports the last update of each section; nil means never populated
type Status struct {
	Movers  *time.Time `json:"movers"`
	Volume  *time.Time `json:"volume"`
	Funding *time.Time `json:"funding"`
}

// Ready reports whether every section has been populated at least once
func (st Status) Ready() bool {
	return st.Movers != nil && st.Volume != nil && st.Funding != nil
}

// Status returns the per-section last update times
func (s *MarketDataStore) Status() Status {
	var st Status
	if sec := s.movers.Load(); sec != nil {
		t := sec.LastUpdate
		st.Movers = &t
	}
	if sec := s.volume.Load(); sec != nil {
		t := sec.LastUpdate
		st.Volume = &t
	}
	if sec := s.funding.Load(); sec != nil {
		t := sec.LastUpdate
		st.Funding = &t
	}
	return st
}

package store

import (
	"time"

	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/mcperr"
)

// Section names a top-level part of the state
type Section string

const (
	SectionSetup       Section = "setup"
	SectionServer      Section = "server"
	SectionMarketplace Section = "marketplace"
	SectionErrors      Section = "errors"
	SectionLogs        Section = "logs"
	SectionConfig      Section = "config"
)

// AllSections lists every section in a stable order
var AllSections = []Section{SectionSetup, SectionServer, SectionMarketplace, SectionErrors, SectionLogs, SectionConfig}

// SetupState tracks the setup sequence
type SetupState string

const (
	SetupNotStarted SetupState = "not_started"
	SetupInProgress SetupState = "in_progress"
	SetupCompleted  SetupState = "completed"
	SetupFailed     SetupState = "failed"
)

// SetupSection is the setup progress
type SetupSection struct {
	State       SetupState
	Error       *mcperr.Error
	StartedAt   time.Time
	CompletedAt time.Time
}

// ServerSection is the hub connection and its downstream servers
type ServerSection struct {
	ConnectionState string
	IsOwner         bool
	Version         string
	ActiveClients   int
	Servers         []contracts.ServerRecord
	Prompt          string // capability summary rendered on every refresh
	LastRefresh     time.Time
}

// MarketplaceStatus is the load status of the catalog
type MarketplaceStatus string

const (
	MarketplaceEmpty   MarketplaceStatus = "empty"
	MarketplaceLoading MarketplaceStatus = "loading"
	MarketplaceLoaded  MarketplaceStatus = "loaded"
	MarketplaceError   MarketplaceStatus = "error"
)

// MarketplaceSection is the catalog and the per-item detail cache
type MarketplaceSection struct {
	Status    MarketplaceStatus
	Query     contracts.MarketplaceQuery
	Items     []contracts.MarketplaceItem
	Details   map[string]contracts.MarketplaceDetails
	Stale     bool // served from the local cache after a failed fetch
	LastFetch time.Time
}

// ConfigSection is the last validated servers file
type ConfigSection struct {
	Path     string
	File     *config.ServersFile
	LoadedAt time.Time
}

// State is an immutable snapshot of every section. Slices and maps in a
// snapshot are never modified after publication; mutations copy them.
type State struct {
	Setup       SetupSection
	Server      ServerSection
	Marketplace MarketplaceSection
	Errors      map[mcperr.Category][]*mcperr.Error
	Logs        []contracts.LogRecord
	Config      ConfigSection
}

func initialState() *State {
	return &State{
		Setup:       SetupSection{State: SetupNotStarted},
		Server:      ServerSection{ConnectionState: "disconnected"},
		Marketplace: MarketplaceSection{Status: MarketplaceEmpty},
		Errors:      map[mcperr.Category][]*mcperr.Error{},
	}
}

// FindServer returns the raw record for name
func (s *State) FindServer(name string) (contracts.ServerRecord, bool) {
	return contracts.FindServer(s.Server.Servers, name)
}

// DisplayedServers returns every record as consumers should see it
func (s *State) DisplayedServers() []contracts.ServerRecord {
	out := make([]contracts.ServerRecord, len(s.Server.Servers))
	for i, rec := range s.Server.Servers {
		out[i] = rec.Displayed()
	}
	return out
}

// ErrorsFor returns the error feed of one category, oldest first
func (s *State) ErrorsFor(category mcperr.Category) []*mcperr.Error {
	return s.Errors[category]
}

// ErrorCount returns the total number of recorded errors
func (s *State) ErrorCount() int {
	n := 0
	for _, errs := range s.Errors {
		n += len(errs)
	}
	return n
}

// IsReady reports whether the hub connection is up
func (s *State) IsReady() bool {
	return s.Server.ConnectionState == "connected"
}

// Package store owns every persistent fact the healing core depends on and
// mediates all access to it under a single lock, exactly as described for
// the state store component: one object, one lock, whole-record
// replace-on-write persistence instead of per-field locks.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// ErrNotFound is returned by lookups keyed on a stable id that the store has
// never heard of.
var ErrNotFound = fmt.Errorf("store: not found")

// Validator runs the policy package's steady-state simulator and struct
// validation against a candidate configuration. Injected rather than
// imported directly so the pure policy package can depend on store's types
// without creating an import cycle back into store.
type Validator func(Config) (warnings []string, err error)

// Store is the process-wide, thread-safe container of all mutable state.
type Store struct {
	dataDir  string
	validate Validator

	mu sync.RWMutex

	config      Config
	selected    map[string]struct{}
	excluded    map[string]struct{}
	quarantine  map[string]struct{}
	probes      map[string]Probe
	restarts    map[string]*RestartRecord
	events      []Event
	maintenance Maintenance

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
}

// Open loads persisted state from dataDir (creating defaults for anything
// missing or corrupt) and returns a ready-to-use Store.
func Open(dataDir string, validate Validator) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: data directory unwritable: %w", err)
	}

	s := &Store{
		dataDir:     dataDir,
		validate:    validate,
		selected:    map[string]struct{}{},
		excluded:    map[string]struct{}{},
		quarantine:  map[string]struct{}{},
		probes:      map[string]Probe{},
		restarts:    map[string]*RestartRecord{},
		subscribers: map[chan Event]struct{}{},
	}

	s.load()
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *Store) load() {
	var cfgDoc configDocument
	cfgDoc.Monitor = DefaultConfig().Monitor
	cfgDoc.Restart = DefaultConfig().Restart
	cfgDoc.Backoff = DefaultConfig().Backoff
	cfgDoc.Observability = DefaultConfig().Observability
	cfgDoc.UI = DefaultConfig().UI
	readJSONBestEffort(s.path(configFileName), &cfgDoc)

	s.config = Config{
		Monitor:       cfgDoc.Monitor,
		Restart:       cfgDoc.Restart,
		Backoff:       cfgDoc.Backoff,
		Observability: cfgDoc.Observability,
		UI:            cfgDoc.UI,
	}
	for _, id := range cfgDoc.Containers.Selected {
		s.selected[id] = struct{}{}
	}
	for _, id := range cfgDoc.Containers.Excluded {
		s.excluded[id] = struct{}{}
	}
	if cfgDoc.CustomHealthChecks != nil {
		s.probes = cfgDoc.CustomHealthChecks
	}

	var quarantineDoc []string
	readJSONBestEffort(s.path(quarantineFileName), &quarantineDoc)
	for _, id := range quarantineDoc {
		s.quarantine[id] = struct{}{}
	}

	var eventsDoc []Event
	readJSONBestEffort(s.path(eventsFileName), &eventsDoc)
	s.events = eventsDoc

	var maintDoc maintenanceDocument
	readJSONBestEffort(s.path(maintenanceFileName), &maintDoc)
	s.maintenance = Maintenance{Enabled: maintDoc.Enabled, StartTime: maintDoc.StartTime}

	// restart_counts.json is the authoritative timestamp list; legacy totals
	// from containers.restart_counts in config.json are merged in so a
	// manually edited config file never lowers the displayed total.
	var legacyTimestamps map[string][]time.Time
	readJSONBestEffort(s.path(restartCountsFileName), &legacyTimestamps)
	for id, ts := range legacyTimestamps {
		sortTimestamps(ts)
		s.restarts[id] = &RestartRecord{Total: len(ts), Timestamps: ts}
	}
	for id, total := range cfgDoc.Containers.RestartCounts {
		rec, ok := s.restarts[id]
		if !ok {
			s.restarts[id] = &RestartRecord{Total: total}
			continue
		}
		if total > rec.Total {
			rec.Total = total
		}
	}
}

func sortTimestamps(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}

// ---- persistence of individual documents, each called under the lock ----

func (s *Store) persistConfigLocked() {
	doc := configDocument{
		Monitor:            s.config.Monitor,
		Restart:            s.config.Restart,
		Backoff:            s.config.Backoff,
		Observability:      s.config.Observability,
		UI:                 s.config.UI,
		CustomHealthChecks: s.probes,
		Containers: containersDocument{
			Selected:      sortedKeys(s.selected),
			Excluded:      sortedKeys(s.excluded),
			RestartCounts: totalsOf(s.restarts),
		},
	}
	if err := writeJSONAtomic(s.path(configFileName), doc); err != nil {
		slog.Warn("store: failed to persist config.json", "error", err)
	}
}

func (s *Store) persistQuarantineLocked() {
	if err := writeJSONAtomic(s.path(quarantineFileName), sortedKeys(s.quarantine)); err != nil {
		slog.Warn("store: failed to persist quarantine.json", "error", err)
	}
}

func (s *Store) persistEventsLocked() {
	if err := writeJSONAtomic(s.path(eventsFileName), s.events); err != nil {
		slog.Warn("store: failed to persist events.json", "error", err)
	}
}

func (s *Store) persistMaintenanceLocked() {
	doc := maintenanceDocument{Enabled: s.maintenance.Enabled, StartTime: s.maintenance.StartTime}
	if err := writeJSONAtomic(s.path(maintenanceFileName), doc); err != nil {
		slog.Warn("store: failed to persist maintenance.json", "error", err)
	}
}

func (s *Store) persistRestartsLocked() {
	out := make(map[string][]time.Time, len(s.restarts))
	for id, rec := range s.restarts {
		out[id] = rec.Timestamps
	}
	if err := writeJSONAtomic(s.path(restartCountsFileName), out); err != nil {
		slog.Warn("store: failed to persist restart_counts.json", "error", err)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func totalsOf(m map[string]*RestartRecord) map[string]int {
	out := make(map[string]int, len(m))
	for id, rec := range m {
		out[id] = rec.Total
	}
	return out
}

// copyStruct deep-copies a struct value (including nested slices, such as a
// Probe's Argv) so callers can never mutate store state through a returned
// value. Used for the struct-shaped records; plain maps and slices of those
// records are cloned by hand below since copier targets struct fields.
func copyStruct[T any](v T) T {
	var out T
	if err := copier.CopyWithOption(&out, v, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on structurally incompatible types, which would be
		// a programming error here, not a runtime condition to recover from.
		panic(fmt.Sprintf("store: deep copy failed: %v", err))
	}
	return out
}

func copySet(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func copyEvents(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// ---- read-only views ----

// GetConfig returns a deep copy of the current configuration.
func (s *Store) GetConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStruct(s.config)
}

// GetSelection returns deep copies of the selected and excluded sets.
func (s *Store) GetSelection() (selected, excluded map[string]struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySet(s.selected), copySet(s.excluded)
}

// IsQuarantined reports whether id is currently quarantined.
func (s *Store) IsQuarantined(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.quarantine[id]
	return ok
}

// MembershipOf reports whether any of candidateIDs (typically the stable id
// followed by the container's short and long ephemeral ids, for legacy
// compatibility) is present in the selected, excluded, or quarantine sets.
func (s *Store) MembershipOf(candidateIDs ...string) (selected, excluded, quarantined bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range candidateIDs {
		if _, ok := s.selected[id]; ok {
			selected = true
		}
		if _, ok := s.excluded[id]; ok {
			excluded = true
		}
		if _, ok := s.quarantine[id]; ok {
			quarantined = true
		}
	}
	return selected, excluded, quarantined
}

// GetQuarantine returns a deep copy of the quarantine set.
func (s *Store) GetQuarantine() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySet(s.quarantine)
}

// GetProbe returns the custom probe configured for id, if any.
func (s *Store) GetProbe(id string) (Probe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.probes[id]
	if !ok {
		return Probe{}, false
	}
	return copyStruct(p), true
}

// GetTotalRestarts returns the monotonically non-decreasing restart total.
func (s *Store) GetTotalRestarts(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.restarts[id]; ok {
		return rec.Total
	}
	return 0
}

// GetWindowedRestarts prunes timestamps older than window and returns the
// remaining count and the most recent timestamp (zero value if none).
func (s *Store) GetWindowedRestarts(id string, window time.Duration) (count int, lastRestart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.restarts[id]
	if !ok {
		return 0, time.Time{}
	}

	cutoff := time.Now().UTC().Add(-window)
	pruned := rec.Timestamps[:0:0]
	for _, ts := range rec.Timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	rec.Timestamps = pruned

	if len(pruned) == 0 {
		return 0, time.Time{}
	}
	return len(pruned), pruned[len(pruned)-1]
}

// ResolveLegacyID looks up legacyID (typically a short or long ephemeral
// container id found in an old persisted entry) across selection,
// exclusion, quarantine, and probes, and rewrites any hit to stableID. This
// is the one-way legacy-compat path described for the stable identifier:
// old ephemeral-id keys are accepted on read and rewritten under the
// stable id the first time a mutation touches that row.
func (s *Store) ResolveLegacyID(legacyID, stableID string) {
	if legacyID == "" || legacyID == stableID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rewritten := false
	if _, ok := s.selected[legacyID]; ok {
		delete(s.selected, legacyID)
		s.selected[stableID] = struct{}{}
		rewritten = true
	}
	if _, ok := s.excluded[legacyID]; ok {
		delete(s.excluded, legacyID)
		s.excluded[stableID] = struct{}{}
		rewritten = true
	}
	if p, ok := s.probes[legacyID]; ok {
		delete(s.probes, legacyID)
		s.probes[stableID] = p
		rewritten = true
	}
	if rewritten {
		s.persistConfigLocked()
	}

	if _, ok := s.quarantine[legacyID]; ok {
		delete(s.quarantine, legacyID)
		s.quarantine[stableID] = struct{}{}
		s.persistQuarantineLocked()
	}

	if rec, ok := s.restarts[legacyID]; ok {
		if existing, has := s.restarts[stableID]; has {
			existing.Timestamps = append(existing.Timestamps, rec.Timestamps...)
			sortTimestamps(existing.Timestamps)
			if rec.Total > existing.Total {
				existing.Total = rec.Total
			}
		} else {
			s.restarts[stableID] = rec
		}
		delete(s.restarts, legacyID)
		s.persistRestartsLocked()
	}
}

// GetEvents returns up to limit of the most recent events, oldest first. A
// non-positive limit returns the full log.
func (s *Store) GetEvents(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return copyEvents(events)
}

// GetMaintenance returns a copy of the maintenance flag and start time.
func (s *Store) GetMaintenance() Maintenance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyStruct(s.maintenance)
}

// ---- mutations ----

// SetConfig replaces the whole configuration document. Validation warnings
// are returned alongside a nil error; a hard validation failure rejects the
// mutation entirely and leaves the prior configuration in force.
func (s *Store) SetConfig(cfg Config) (warnings []string, err error) {
	if s.validate != nil {
		warnings, err = s.validate(cfg)
		if err != nil {
			return warnings, fmt.Errorf("config_validation_error: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.persistConfigLocked()
	return warnings, nil
}

// Select adds ids to the selected set, removing each from excluded.
func (s *Store) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.excluded, id)
		s.selected[id] = struct{}{}
	}
	s.persistConfigLocked()
}

// Exclude adds ids to the excluded set, removing each from selected.
func (s *Store) Exclude(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.selected, id)
		s.excluded[id] = struct{}{}
	}
	s.persistConfigLocked()
}

// Deselect removes ids from the selected set without excluding them.
func (s *Store) Deselect(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.selected, id)
	}
	s.persistConfigLocked()
}

// Unexclude removes ids from the excluded set without selecting them.
func (s *Store) Unexclude(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.excluded, id)
	}
	s.persistConfigLocked()
}

// SetProbe adds or replaces the custom probe for id.
func (s *Store) SetProbe(id string, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[id] = probe
	s.persistConfigLocked()
}

// DeleteProbe removes the custom probe for id, if any.
func (s *Store) DeleteProbe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.probes, id)
	s.persistConfigLocked()
}

// RecordRestart appends a restart timestamp for id and bumps its total. The
// total is stored explicitly, not derived from the timestamp list, so a
// pruned or corrupted list can never make it go backwards.
func (s *Store) RecordRestart(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.restarts[id]
	if !ok {
		rec = &RestartRecord{}
		s.restarts[id] = rec
	}
	rec.Timestamps = append(rec.Timestamps, at.UTC())
	rec.Total++
	s.persistRestartsLocked()
	s.persistConfigLocked() // keeps legacy containers.restart_counts mirror current
}

// Quarantine marks id quarantined. Membership is sticky until Unquarantine.
func (s *Store) Quarantine(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantine[id] = struct{}{}
	s.persistQuarantineLocked()
}

// Unquarantine clears id's quarantine flag.
func (s *Store) Unquarantine(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quarantine, id)
	s.persistQuarantineLocked()
}

// AppendEvent appends ev to the bounded event log, evicting the oldest
// entries once max_log_entries is exceeded, and fans it out to any live
// websocket subscribers.
func (s *Store) AppendEvent(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	max := s.config.UI.MaxLogEntries
	if max > 0 && len(s.events) > max {
		s.events = s.events[len(s.events)-max:]
	}
	s.persistEventsLocked()
	s.mu.Unlock()

	s.broadcast(ev)
}

// Subscribe registers a channel that receives every event appended from
// this point on. The returned func must be called to unregister it. A slow
// subscriber is dropped from delivery rather than ever blocking AppendEvent.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		delete(s.subscribers, ch)
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Store) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ClearEvents empties the event log.
func (s *Store) ClearEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.persistEventsLocked()
}

// SetMaintenance enables or disables maintenance mode.
func (s *Store) SetMaintenance(enabled bool) Maintenance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enabled {
		now := time.Now().UTC()
		s.maintenance = Maintenance{Enabled: true, StartTime: &now}
	} else {
		s.maintenance = Maintenance{Enabled: false, StartTime: nil}
	}
	s.persistMaintenanceLocked()
	return copyStruct(s.maintenance)
}

// GC drops selection, exclusion, and probe entries for stable ids that are
// not present in liveIDs. Restart records are kept regardless, so historical
// counts survive a container's transient disappearance.
func (s *Store) GC(liveIDs map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for id := range s.selected {
		if _, ok := liveIDs[id]; !ok {
			delete(s.selected, id)
			changed = true
		}
	}
	for id := range s.excluded {
		if _, ok := liveIDs[id]; !ok {
			delete(s.excluded, id)
			changed = true
		}
	}
	for id := range s.probes {
		if _, ok := liveIDs[id]; !ok {
			delete(s.probes, id)
			changed = true
		}
	}
	if changed {
		s.persistConfigLocked()
	}
}

// ExportConfig returns the whole configuration document as indented JSON.
func (s *Store) ExportConfig() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := configDocument{
		Monitor:            s.config.Monitor,
		Restart:            s.config.Restart,
		Backoff:            s.config.Backoff,
		Observability:      s.config.Observability,
		UI:                 s.config.UI,
		CustomHealthChecks: s.probes,
		Containers: containersDocument{
			Selected:      sortedKeys(s.selected),
			Excluded:      sortedKeys(s.excluded),
			RestartCounts: totalsOf(s.restarts),
		},
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportConfig replaces configuration, selection, exclusion, and probe sets
// from an exported document. Event log and restart counts are left as-is.
func (s *Store) ImportConfig(data []byte) error {
	var doc configDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config_validation_error: %w", err)
	}

	cfg := Config{
		Monitor:       doc.Monitor,
		Restart:       doc.Restart,
		Backoff:       doc.Backoff,
		Observability: doc.Observability,
		UI:            doc.UI,
	}
	if s.validate != nil {
		if _, err := s.validate(cfg); err != nil {
			return fmt.Errorf("config_validation_error: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = cfg
	s.selected = map[string]struct{}{}
	for _, id := range doc.Containers.Selected {
		s.selected[id] = struct{}{}
	}
	s.excluded = map[string]struct{}{}
	for _, id := range doc.Containers.Excluded {
		s.excluded[id] = struct{}{}
	}
	s.probes = doc.CustomHealthChecks
	if s.probes == nil {
		s.probes = map[string]Probe{}
	}
	s.persistConfigLocked()
	return nil
}

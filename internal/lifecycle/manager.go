// ABOUTME: Memory lifecycle manager: decay, promotion, consolidation, archival
// ABOUTME: Runs periodic sweeps and drains an async reinforcement queue
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomeworks/tome/internal/config"
	"github.com/tomeworks/tome/internal/models"
	"github.com/tomeworks/tome/internal/storage"
)

const reinforceQueueSize = 256

// Summarizer condenses evicted working items into one episodic memory.
type Summarizer interface {
	Summarize(ctx context.Context, oldSummary string, newFacts []string, maxLen int) (string, error)
}

// Options holds the lifecycle tuning knobs.
type Options struct {
	WorkingCapacity    int
	DecayRateWorking   float64 // per hour
	DecayRateEpisodic  float64
	DecayRateSemantic  float64
	ArchiveThreshold   float64
	ImportanceExempt   float64
	SweepInterval      time.Duration
	PromoteAccessCount int
	PromoteMinAge      time.Duration
}

// OptionsFromConfig maps the engine configuration onto lifecycle options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WorkingCapacity:    cfg.WorkingCapacity,
		DecayRateWorking:   cfg.DecayRateWorking,
		DecayRateEpisodic:  cfg.DecayRateEpisodic,
		DecayRateSemantic:  cfg.DecayRateSemantic,
		ArchiveThreshold:   cfg.ArchiveThreshold,
		ImportanceExempt:   cfg.ImportanceExempt,
		SweepInterval:      cfg.SweepInterval,
		PromoteAccessCount: cfg.PromoteAccessCount,
		PromoteMinAge:      cfg.PromoteMinAge,
	}
}

type reinforcement struct {
	projectID string
	ref       string
}

// Manager owns tier transitions for memory items. Sweeps recompute strength
// from scratch on every pass; stored strength is a cache, never an input.
type Manager struct {
	items      *storage.ItemStore
	graph      *storage.GraphStore // nil disables graph merging on promotion
	summarizer Summarizer          // nil falls back to verbatim concatenation
	opts       Options
	now        func() time.Time

	reinforceCh chan reinforcement
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewManager creates a lifecycle manager over the item store.
func NewManager(items *storage.ItemStore, graph *storage.GraphStore, summarizer Summarizer, opts Options) *Manager {
	return &Manager{
		items:       items,
		graph:       graph,
		summarizer:  summarizer,
		opts:        opts,
		now:         time.Now,
		reinforceCh: make(chan reinforcement, reinforceQueueSize),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the sweep ticker and the reinforcement drain goroutines.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.sweepLoop()
	go m.reinforceLoop()
	log.Printf("[Lifecycle] started (sweep every %s, working capacity %d)", m.opts.SweepInterval, m.opts.WorkingCapacity)
}

// Stop shuts both goroutines down and waits for them.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	log.Printf("[Lifecycle] stopped")
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.SweepInterval/2)
			if err := m.Sweep(ctx); err != nil {
				log.Printf("[Lifecycle] sweep failed: %v", err)
			}
			cancel()
		}
	}
}

func (m *Manager) reinforceLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case r := <-m.reinforceCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			// The callback sees the bumped access count; the item was just
			// accessed, so the decay term is zero hours.
			_, err := m.items.TouchByRef(ctx, r.projectID, r.ref, m.now(), func(it *models.MemoryItem) float64 {
				return ComputeStrength(it.Importance, m.decayRate(it.Tier), 0, it.AccessCount)
			})
			if err != nil {
				log.Printf("[Lifecycle] reinforcement of %s failed: %v", r.ref, err)
			}
			cancel()
		}
	}
}

// Reinforce queues an access-count bump for the item referenced by ref.
// The queue is bounded and non-blocking: under pressure reinforcements are
// dropped, never allowed to stall retrieval.
func (m *Manager) Reinforce(projectID, ref string) {
	select {
	case m.reinforceCh <- reinforcement{projectID: projectID, ref: ref}:
	default:
		log.Printf("[Lifecycle] reinforcement queue full, dropping %s", ref)
	}
}

// ComputeStrength derives an item's current strength from importance,
// hours since last access, and access count:
//
//	strength = importance * exp(-rate*hours) * (1 + 0.1*ln(1+accesses))
//
// clamped to [0,1].
func ComputeStrength(importance, decayRate, hoursSinceAccess float64, accessCount int) float64 {
	s := importance * math.Exp(-decayRate*hoursSinceAccess) * (1 + 0.1*math.Log(1+float64(accessCount)))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (m *Manager) decayRate(tier models.Tier) float64 {
	switch tier {
	case models.TierWorking:
		return m.opts.DecayRateWorking
	case models.TierEpisodic:
		return m.opts.DecayRateEpisodic
	default:
		return m.opts.DecayRateSemantic
	}
}

// AddWorkingItem stores a new working-tier item and consolidates the tier if
// it is over capacity.
func (m *Manager) AddWorkingItem(ctx context.Context, item *models.MemoryItem) error {
	now := m.now()
	if item.ID == "" {
		item.ID = models.NewMemoryItemID()
	}
	item.Tier = models.TierWorking
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccessedAt.IsZero() {
		item.LastAccessedAt = now
	}
	item.Strength = ComputeStrength(item.Importance, m.opts.DecayRateWorking, 0, item.AccessCount)

	if err := m.items.Put(ctx, item); err != nil {
		return err
	}
	return m.consolidateWorking(ctx, item.ProjectID)
}

// Sweep runs one full lifecycle pass over every project: recompute strength,
// promote access- and age-qualified working and episodic items, consolidate
// the working tier, and archive items that stayed weak for a whole sweep
// interval.
func (m *Manager) Sweep(ctx context.Context) error {
	projects, err := m.items.Projects(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	for _, p := range projects {
		if err := m.sweepProject(ctx, p); err != nil {
			return fmt.Errorf("sweep project %s: %w", p, err)
		}
	}
	return nil
}

func (m *Manager) sweepProject(ctx context.Context, projectID string) error {
	items, err := m.items.ListProject(ctx, projectID)
	if err != nil {
		return err
	}
	now := m.now()

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		hours := now.Sub(item.LastAccessedAt).Hours()
		item.Strength = ComputeStrength(item.Importance, m.decayRate(item.Tier), hours, item.AccessCount)

		if (item.Tier == models.TierWorking || item.Tier == models.TierEpisodic) &&
			item.AccessCount >= m.opts.PromoteAccessCount &&
			item.Age(now) >= m.opts.PromoteMinAge {
			if err := m.promoteToSemantic(ctx, item, now); err != nil {
				return err
			}
			continue
		}

		m.applyArchivalPolicy(item, now)

		if err := m.items.Put(ctx, item); err != nil {
			return err
		}
	}

	return m.consolidateWorking(ctx, projectID)
}

// applyArchivalPolicy archives an item only after it has stayed below the
// strength threshold for a full sweep interval. High-importance items are
// exempt and never archived automatically.
func (m *Manager) applyArchivalPolicy(item *models.MemoryItem, now time.Time) {
	if item.Importance >= m.opts.ImportanceExempt {
		item.WeakSince = nil
		return
	}
	if item.Strength >= m.opts.ArchiveThreshold {
		item.WeakSince = nil
		return
	}
	if item.WeakSince == nil {
		weak := now
		item.WeakSince = &weak
		return
	}
	if now.Sub(*item.WeakSince) >= m.opts.SweepInterval {
		log.Printf("[Lifecycle] archiving %s (strength %.3f below %.2f since %s)",
			item.ID, item.Strength, m.opts.ArchiveThreshold, item.WeakSince.Format(time.RFC3339))
		item.Tier = models.TierArchived
	}
}

// promoteToSemantic moves a working or episodic item into the semantic tier,
// resolving a conflict with any existing semantic item keyed to the same
// concept and merging the concept into the graph.
func (m *Manager) promoteToSemantic(ctx context.Context, item *models.MemoryItem, now time.Time) error {
	promoted := *item
	promoted.Tier = models.TierSemantic
	promoted.Strength = ComputeStrength(promoted.Importance, m.opts.DecayRateSemantic,
		now.Sub(promoted.LastAccessedAt).Hours(), promoted.AccessCount)

	if promoted.Concept != "" {
		existing, err := m.items.FindByConcept(ctx, promoted.ProjectID, promoted.Concept)
		if err != nil {
			return err
		}
		if existing != nil && existing.ID != promoted.ID {
			winner, loser := resolveConflict(existing, &promoted)
			log.Printf("[Lifecycle] conflict on concept %q in %s: kept %s (reliability %.2f), superseded %s",
				promoted.Concept, promoted.ProjectID, winner.ID, winner.Reliability, loser.ID)
			loser.Tier = models.TierArchived
			if err := m.items.Put(ctx, loser); err != nil {
				return err
			}
			if winner.ID != promoted.ID {
				// The existing item won; the promotion candidate is superseded.
				return m.items.Put(ctx, winner)
			}
		}
	}

	if m.graph != nil && promoted.Concept != "" {
		node := models.ConceptNode{
			ID:         models.ConceptID(promoted.ProjectID, promoted.Concept, "topic"),
			Name:       promoted.Concept,
			Type:       "topic",
			Confidence: promoted.Reliability,
		}
		if err := m.graph.UpsertNodes(ctx, promoted.ProjectID, []models.ConceptNode{node}); err != nil {
			log.Printf("[Lifecycle] graph merge for %q failed, promoting anyway: %v", promoted.Concept, err)
		}
	}

	log.Printf("[Lifecycle] promoted %s to semantic (accesses %d, age %s)",
		promoted.ID, promoted.AccessCount, promoted.Age(now).Round(time.Minute))
	return m.items.Put(ctx, &promoted)
}

// consolidateWorking summarizes the weakest working items into one episodic
// item whenever the working tier exceeds its capacity.
func (m *Manager) consolidateWorking(ctx context.Context, projectID string) error {
	working, err := m.items.ListByTier(ctx, projectID, models.TierWorking)
	if err != nil {
		return err
	}
	overflow := len(working) - m.opts.WorkingCapacity
	if overflow <= 0 {
		return nil
	}

	now := m.now()
	sort.Slice(working, func(i, j int) bool {
		si := ComputeStrength(working[i].Importance, m.opts.DecayRateWorking, now.Sub(working[i].LastAccessedAt).Hours(), working[i].AccessCount)
		sj := ComputeStrength(working[j].Importance, m.opts.DecayRateWorking, now.Sub(working[j].LastAccessedAt).Hours(), working[j].AccessCount)
		if si != sj {
			return si < sj
		}
		return working[i].ID < working[j].ID
	})
	evicted := working[:overflow]

	var facts []string
	var refs []string
	maxImportance := 0.0
	maxReliability := 0.0
	for _, it := range evicted {
		facts = append(facts, it.Content)
		refs = append(refs, it.SourceRefs...)
		if it.Importance > maxImportance {
			maxImportance = it.Importance
		}
		if it.Reliability > maxReliability {
			maxReliability = it.Reliability
		}
	}

	content, err := m.condense(ctx, facts)
	if err != nil {
		log.Printf("[Lifecycle] consolidation summary degraded for %s: %v", projectID, err)
		content = strings.Join(facts, "\n")
	}

	episodic := &models.MemoryItem{
		ID:             models.NewMemoryItemID(),
		ProjectID:      projectID,
		Tier:           models.TierEpisodic,
		Content:        content,
		Importance:     maxImportance,
		Strength:       ComputeStrength(maxImportance, m.opts.DecayRateEpisodic, 0, 0),
		CreatedAt:      now,
		LastAccessedAt: now,
		SourceRefs:     refs,
		Reliability:    maxReliability,
	}
	if err := m.items.Put(ctx, episodic); err != nil {
		return err
	}

	for _, it := range evicted {
		it.Tier = models.TierArchived
		if err := m.items.Put(ctx, it); err != nil {
			return err
		}
	}
	log.Printf("[Lifecycle] consolidated %d working items into %s for %s", len(evicted), episodic.ID, projectID)
	return nil
}

func (m *Manager) condense(ctx context.Context, facts []string) (string, error) {
	if m.summarizer == nil {
		return strings.Join(facts, "\n"), nil
	}
	return m.summarizer.Summarize(ctx, "", facts, models.SummaryCapBytes)
}

// RecordIntervention stores a human correction as an authoritative semantic
// item, resolving any conflict with the existing item for the same concept.
func (m *Manager) RecordIntervention(ctx context.Context, projectID, concept, content string) error {
	now := m.now()
	item := &models.MemoryItem{
		ID:             models.NewMemoryItemID(),
		ProjectID:      projectID,
		Tier:           models.TierSemantic,
		Content:        content,
		Importance:     1.0,
		Strength:       1.0,
		CreatedAt:      now,
		LastAccessedAt: now,
		Concept:        concept,
		Reliability:    1.0, // human corrections outrank every extracted source
	}

	if concept != "" {
		existing, err := m.items.FindByConcept(ctx, projectID, concept)
		if err != nil {
			return err
		}
		if existing != nil {
			winner, loser := resolveConflict(existing, item)
			log.Printf("[Lifecycle] intervention on %q in %s: kept %s, superseded %s",
				concept, projectID, winner.ID, loser.ID)
			loser.Tier = models.TierArchived
			if err := m.items.Put(ctx, loser); err != nil {
				return err
			}
			item = winner
		}
	}

	return m.items.Put(ctx, item)
}

// ABOUTME: File-backed per-project memory bank (context, concepts, summary, changelog)
// ABOUTME: Updates run Read-Verify-Update-Execute under a per-project lock
package membank

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/tomeworks/tome/internal/errs"
	"github.com/tomeworks/tome/internal/models"
)

const (
	contextFile   = "context.md"
	conceptsFile  = "concepts.yaml"
	summaryFile   = "summary.md"
	metaFile      = "bank.yaml"
	changelogFile = "changelog.jsonl"

	blockSeparator = "\n\n---\n\n"
)

// Summarizer folds new facts into the running project summary.
type Summarizer interface {
	Summarize(ctx context.Context, oldSummary string, newFacts []string, maxLen int) (string, error)
}

// GraphVerifier checks that a concept the bank is about to list actually
// exists in the concept graph.
type GraphVerifier interface {
	HasConcept(ctx context.Context, projectID, name, conceptType string) (bool, error)
}

// Update is one bank update: a context block to append, concepts to list,
// and facts to fold into the summary. Any field may be empty.
type Update struct {
	ContextBlock string
	Concepts     []models.ConceptEntry
	Facts        []string
}

// Bank owns the per-project bank directories. All mutation goes through
// ApplyUpdate under a per-project write lock; files are written atomically
// (temp file then rename) so a crash never leaves a half-written bank.
type Bank struct {
	baseDir    string
	summarizer Summarizer
	verifier   GraphVerifier

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New creates a bank rooted at baseDir. summarizer and verifier may be nil:
// without a summarizer facts are appended verbatim, without a verifier the
// verify step is skipped.
func New(baseDir string, summarizer Summarizer, verifier GraphVerifier) (*Bank, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "projects"), 0o755); err != nil {
		return nil, fmt.Errorf("create bank directory: %w", err)
	}
	return &Bank{
		baseDir:    baseDir,
		summarizer: summarizer,
		verifier:   verifier,
		locks:      make(map[string]*sync.RWMutex),
	}, nil
}

func (b *Bank) projectLock(projectID string) *sync.RWMutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[projectID]
	if !ok {
		l = &sync.RWMutex{}
		b.locks[projectID] = l
	}
	return l
}

func (b *Bank) projectDir(projectID string) string {
	return filepath.Join(b.baseDir, "projects", sanitizeID(projectID))
}

// bankMeta is persisted in bank.yaml.
type bankMeta struct {
	ProjectID      string    `yaml:"project_id"`
	SummaryVersion int       `yaml:"summary_version"`
	LastUpdated    time.Time `yaml:"last_updated"`
}

// ChangeRecord is one line of changelog.jsonl, the bank's audit trail.
type ChangeRecord struct {
	Timestamp      time.Time `json:"ts"`
	Action         string    `json:"action"`
	Detail         string    `json:"detail,omitempty"`
	SummaryVersion int       `json:"summary_version,omitempty"`
	Conflicts      []string  `json:"conflicts,omitempty"`
}

// ApplyUpdate runs one Read-Verify-Update-Execute cycle for a project:
// load the current bank state, verify listed concepts against the graph,
// apply the update under the size caps, and append an audit record.
// Summarizer failures degrade (the old summary is kept) rather than fail.
func (b *Bank) ApplyUpdate(ctx context.Context, projectID string, upd Update) error {
	lock := b.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	dir := b.projectDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	// Read.
	contextText := readFileOr(filepath.Join(dir, contextFile), "")
	summary := readFileOr(filepath.Join(dir, summaryFile), "")
	concepts, err := readConcepts(filepath.Join(dir, conceptsFile))
	if err != nil {
		return err
	}
	meta, err := readMeta(filepath.Join(dir, metaFile), projectID)
	if err != nil {
		return err
	}

	// Verify: every concept the bank lists must exist in the graph — the
	// incoming entries and the stored list alike, since stored references go
	// stale when the graph changes underneath the bank. A miss is a
	// consistency conflict; the graph is authoritative for structure, so the
	// entry is kept pending but logged for review. The stored list is capped,
	// which bounds the re-check.
	conflicts := b.verifyConcepts(ctx, projectID, upd.Concepts, "listed in bank update but absent from concept graph")
	conflicts = append(conflicts, b.verifyConcepts(ctx, projectID, concepts, "stored in bank but no longer in concept graph")...)
	conflicts = dedupeNames(conflicts)

	// Update: context blocks, concept list, then the summary.
	now := time.Now().UTC()
	if block := strings.TrimSpace(upd.ContextBlock); block != "" {
		var dropped bool
		contextText, dropped = appendContextBlock(contextText, block)
		if dropped {
			log.Printf("[MemBank] %v for %s, dropped oldest context",
				&errs.CapacityExceeded{Field: "context", Limit: models.ContextCapBytes}, projectID)
		}
	}
	concepts = mergeConcepts(concepts, upd.Concepts, now)

	if len(upd.Facts) > 0 {
		newSummary, serr := b.summarize(ctx, summary, upd.Facts)
		if serr != nil {
			log.Printf("[MemBank] summary update degraded for %s, keeping v%d: %v", projectID, meta.SummaryVersion, serr)
		} else {
			if len(newSummary) > models.SummaryCapBytes {
				log.Printf("[MemBank] %v for %s, dropped oldest summary text",
					&errs.CapacityExceeded{Field: "summary", Limit: models.SummaryCapBytes}, projectID)
			}
			summary = truncateBytes(newSummary, models.SummaryCapBytes)
			meta.SummaryVersion++
		}
	}
	meta.LastUpdated = now

	if err := b.writeState(dir, contextText, summary, concepts, meta); err != nil {
		return err
	}

	// Execute: audit trail entry.
	return appendChangelog(dir, ChangeRecord{
		Timestamp:      now,
		Action:         "update",
		Detail:         fmt.Sprintf("context=%dB concepts=%d", len(contextText), len(concepts)),
		SummaryVersion: meta.SummaryVersion,
		Conflicts:      conflicts,
	})
}

// verifyConcepts checks entries against the graph and returns the names the
// graph does not know. Verification errors are logged and skipped so a graph
// outage never blocks a bank update.
func (b *Bank) verifyConcepts(ctx context.Context, projectID string, entries []models.ConceptEntry, detail string) []string {
	if b.verifier == nil {
		return nil
	}
	var missing []string
	for _, c := range entries {
		ok, err := b.verifier.HasConcept(ctx, projectID, c.Name, c.Type)
		if err != nil {
			log.Printf("[MemBank] concept verification unavailable for %s/%s: %v", projectID, c.Name, err)
			continue
		}
		if !ok {
			conflict := &errs.ConsistencyConflict{
				ProjectID: projectID,
				Concept:   c.Name,
				Detail:    detail,
			}
			log.Printf("[MemBank] %v", conflict)
			missing = append(missing, c.Name)
		}
	}
	return missing
}

func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (b *Bank) summarize(ctx context.Context, old string, facts []string) (string, error) {
	if b.summarizer != nil {
		return b.summarizer.Summarize(ctx, old, facts, models.SummaryCapBytes)
	}
	// No summarizer: deterministic fact append keeps the bank usable offline.
	var sb strings.Builder
	sb.WriteString(old)
	for _, f := range facts {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- " + f)
	}
	return sb.String(), nil
}

func (b *Bank) writeState(dir, contextText, summary string, concepts []models.ConceptEntry, meta bankMeta) error {
	if err := writeFileAtomic(filepath.Join(dir, contextFile), []byte(contextText)); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, summaryFile), []byte(summary)); err != nil {
		return err
	}
	conceptData, err := yaml.Marshal(concepts)
	if err != nil {
		return fmt.Errorf("marshal concepts: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, conceptsFile), conceptData); err != nil {
		return err
	}
	metaData, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal bank meta: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, metaFile), metaData)
}

// RecordIntervention appends a human correction to the project context and
// audit trail. Interventions bypass summarization so the operator's wording
// is preserved verbatim.
func (b *Bank) RecordIntervention(ctx context.Context, projectID, note string) error {
	lock := b.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	dir := b.projectDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	contextText := readFileOr(filepath.Join(dir, contextFile), "")
	contextText, dropped := appendContextBlock(contextText, "[correction] "+strings.TrimSpace(note))
	if dropped {
		log.Printf("[MemBank] %v for %s, dropped oldest context",
			&errs.CapacityExceeded{Field: "context", Limit: models.ContextCapBytes}, projectID)
	}
	if err := writeFileAtomic(filepath.Join(dir, contextFile), []byte(contextText)); err != nil {
		return err
	}

	meta, err := readMeta(filepath.Join(dir, metaFile), projectID)
	if err != nil {
		return err
	}
	meta.LastUpdated = time.Now().UTC()
	metaData, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal bank meta: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, metaFile), metaData); err != nil {
		return err
	}

	return appendChangelog(dir, ChangeRecord{
		Timestamp: meta.LastUpdated,
		Action:    "intervention",
		Detail:    note,
	})
}

// Snapshot returns the current denormalized bank view for a project.
// A project with no bank yet yields an empty snapshot, not an error.
func (b *Bank) Snapshot(_ context.Context, projectID string) (*models.MemoryBankSnapshot, error) {
	lock := b.projectLock(projectID)
	lock.RLock()
	defer lock.RUnlock()

	dir := b.projectDir(projectID)
	concepts, err := readConcepts(filepath.Join(dir, conceptsFile))
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(filepath.Join(dir, metaFile), projectID)
	if err != nil {
		return nil, err
	}

	return &models.MemoryBankSnapshot{
		ProjectID:      projectID,
		ContextExcerpt: readFileOr(filepath.Join(dir, contextFile), ""),
		ConceptList:    concepts,
		SummaryText:    readFileOr(filepath.Join(dir, summaryFile), ""),
		SummaryVersion: meta.SummaryVersion,
		LastUpdated:    meta.LastUpdated,
	}, nil
}

// Match scores the bank's context blocks and summary against a keyword query
// for the memory stage of retrieval. Scores are the fraction of query terms
// present; ties break on ref so results are deterministic.
func (b *Bank) Match(_ context.Context, projectID, query string, limit int) ([]models.RetrievalResult, error) {
	lock := b.projectLock(projectID)
	lock.RLock()
	defer lock.RUnlock()

	terms := queryTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	dir := b.projectDir(projectID)
	meta, err := readMeta(filepath.Join(dir, metaFile), projectID)
	if err != nil {
		return nil, err
	}

	var results []models.RetrievalResult
	blocks := splitBlocks(readFileOr(filepath.Join(dir, contextFile), ""))
	for i, block := range blocks {
		if score := keywordScore(block, terms); score > 0 {
			results = append(results, models.RetrievalResult{
				Ref:            fmt.Sprintf("bank:%s:block:%d", projectID, i),
				Content:        block,
				RawScore:       score,
				Source:         models.SourceMemoryBank,
				LastAccessedAt: meta.LastUpdated,
			})
		}
	}
	if summary := readFileOr(filepath.Join(dir, summaryFile), ""); summary != "" {
		if score := keywordScore(summary, terms); score > 0 {
			results = append(results, models.RetrievalResult{
				Ref:            fmt.Sprintf("bank:%s:summary", projectID),
				Content:        summary,
				RawScore:       score,
				Source:         models.SourceMemoryBank,
				LastAccessedAt: meta.LastUpdated,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RawScore != results[j].RawScore {
			return results[i].RawScore > results[j].RawScore
		}
		return results[i].Ref < results[j].Ref
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Changelog returns the audit trail for a project, oldest first.
func (b *Bank) Changelog(_ context.Context, projectID string) ([]ChangeRecord, error) {
	lock := b.projectLock(projectID)
	lock.RLock()
	defer lock.RUnlock()

	f, err := os.Open(filepath.Join(b.projectDir(projectID), changelogFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open changelog: %w", err)
	}
	defer f.Close()

	var records []ChangeRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec ChangeRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			log.Printf("[MemBank] skipping corrupt changelog line for %s: %v", projectID, err)
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// Projects lists project IDs with a bank directory.
func (b *Bank) Projects() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.baseDir, "projects"))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// appendContextBlock appends a block and trims the context back under the
// byte cap, dropping the oldest blocks first. The second return reports
// whether anything was dropped.
func appendContextBlock(contextText, block string) (string, bool) {
	blocks := splitBlocks(contextText)
	blocks = append(blocks, block)

	dropped := false
	joined := strings.Join(blocks, blockSeparator)
	for len(joined) > models.ContextCapBytes && len(blocks) > 1 {
		blocks = blocks[1:]
		joined = strings.Join(blocks, blockSeparator)
		dropped = true
	}
	if len(joined) > models.ContextCapBytes {
		// A single oversized block: keep its newest tail.
		joined = joined[len(joined)-models.ContextCapBytes:]
		dropped = true
	}
	return joined, dropped
}

func splitBlocks(contextText string) []string {
	if strings.TrimSpace(contextText) == "" {
		return nil
	}
	parts := strings.Split(contextText, blockSeparator)
	blocks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			blocks = append(blocks, p)
		}
	}
	return blocks
}

// mergeConcepts dedupes new entries by (name, type), case-insensitive on
// name, and enforces the list cap by evicting the oldest entries.
func mergeConcepts(existing, incoming []models.ConceptEntry, now time.Time) []models.ConceptEntry {
	seen := make(map[string]bool, len(existing))
	key := func(c models.ConceptEntry) string {
		return strings.ToLower(c.Name) + "\x00" + c.Type
	}
	for _, c := range existing {
		seen[key(c)] = true
	}

	merged := existing
	for _, c := range incoming {
		if c.Name == "" || seen[key(c)] {
			continue
		}
		seen[key(c)] = true
		if c.AddedAt.IsZero() {
			c.AddedAt = now
		}
		merged = append(merged, c)
	}

	if len(merged) > models.ConceptListCap {
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].AddedAt.Before(merged[j].AddedAt)
		})
		merged = merged[len(merged)-models.ConceptListCap:]
	}
	return merged
}

func keywordScore(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 { // skip stopword-sized tokens
			terms = append(terms, f)
		}
	}
	return terms
}

func readFileOr(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return string(data)
}

func readConcepts(path string) ([]models.ConceptEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read concepts: %w", err)
	}
	var concepts []models.ConceptEntry
	if err := yaml.Unmarshal(data, &concepts); err != nil {
		return nil, fmt.Errorf("parse concepts: %w", err)
	}
	return concepts, nil
}

func readMeta(path, projectID string) (bankMeta, error) {
	meta := bankMeta{ProjectID: projectID}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return meta, fmt.Errorf("read bank meta: %w", err)
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse bank meta: %w", err)
	}
	return meta, nil
}

// writeFileAtomic writes via a temp file in the same directory and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// truncateBytes cuts text to at most limit bytes, dropping the oldest
// (leading) content first and never splitting a rune.
func truncateBytes(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[len(text)-limit:]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[1:]
	}
	return cut
}

func sanitizeID(id string) string {
	if id == "" {
		return "_default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func appendChangelog(dir string, rec ChangeRecord) error {
	f, err := os.OpenFile(filepath.Join(dir, changelogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open changelog: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal changelog record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append changelog: %w", err)
	}
	return nil
}

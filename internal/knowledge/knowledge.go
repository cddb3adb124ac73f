// Package knowledge keeps a vector index of completed work orders so new
// problems can be matched against how similar ones were fixed before.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"

	"chatterfix/internal/ai"
	"chatterfix/internal/events"
	"chatterfix/types"

	chromem "github.com/philippgille/chromem-go"
)

const (
	collectionName = "work_orders"
	// Dimensions of the hashed token embedding.
	Dimensions = 256
)

// ErrEmptyText is returned when text contains no indexable tokens.
var ErrEmptyText = errors.New("text has no indexable words")

// Source loads work orders for indexing
type Source interface {
	GetWorkOrder(ctx context.Context, id int64) (*types.WorkOrder, error)
	ListCompletedWorkOrders(ctx context.Context, limit int) ([]types.WorkOrder, error)
}

// Match is an indexed work order and its similarity to a query
type Match struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	Resolution string  `json:"resolution"`
	Similarity float32 `json:"similarity"`
}

// Reference converts the match into AI prompt context.
func (m Match) Reference() ai.Reference {
	return ai.Reference{ID: m.ID, Title: m.Title, Resolution: m.Resolution, Similarity: m.Similarity}
}

// Index wraps a chromem collection of completed work orders
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	source     Source
}

// Options configures where the index lives.
type Options struct {
	// Dir enables persistence when Persist is set.
	Dir      string
	Persist  bool
	Compress bool
}

// New opens the index. Without persistence the index is rebuilt from the
// store on every start.
func New(opts Options, source Source) (*Index, error) {
	var db *chromem.DB
	if opts.Persist && opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create knowledge directory %s: %w", opts.Dir, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(opts.Dir, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open knowledge index: %w", err)
		}
		log.Printf("📚 Knowledge index persisted at %s", opts.Dir)
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(collectionName, map[string]string{"kind": "work_order"}, EmbeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to get/create %s collection: %w", collectionName, err)
	}
	return &Index{db: db, collection: collection, source: source}, nil
}

// Count returns how many work orders are indexed.
func (x *Index) Count() int {
	return x.collection.Count()
}

// Add indexes a completed work order. Other statuses are ignored.
func (x *Index) Add(ctx context.Context, wo *types.WorkOrder) error {
	if wo == nil || wo.Status != types.StatusCompleted {
		return nil
	}
	content := documentText(wo)
	if len(tokenize(content)) == 0 {
		return nil
	}
	doc := chromem.Document{
		ID:      strconv.FormatInt(wo.ID, 10),
		Content: content,
		Metadata: map[string]string{
			"title":      wo.Title,
			"category":   string(wo.Category),
			"priority":   string(wo.Priority),
			"resolution": wo.ResolutionNotes,
		},
	}
	if wo.AssetID != nil {
		doc.Metadata["asset_id"] = strconv.FormatInt(*wo.AssetID, 10)
	}
	if err := x.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index work order %d: %w", wo.ID, err)
	}
	return nil
}

// Remove drops a work order from the index. Unknown ids are ignored.
func (x *Index) Remove(ctx context.Context, id int64) error {
	docID := strconv.FormatInt(id, 10)
	if _, err := x.collection.GetByID(ctx, docID); err != nil {
		return nil
	}
	return x.collection.Delete(ctx, nil, nil, docID)
}

// Similar returns up to n indexed work orders most similar to text, best first.
func (x *Index) Similar(ctx context.Context, text string, n int) ([]Match, error) {
	return x.similar(ctx, text, n, 0)
}

// SimilarTo finds past fixes for wo, excluding wo itself.
func (x *Index) SimilarTo(ctx context.Context, wo *types.WorkOrder, n int) ([]Match, error) {
	return x.similar(ctx, wo.Title+"\n"+wo.Description, n, wo.ID)
}

func (x *Index) similar(ctx context.Context, text string, n int, exclude int64) ([]Match, error) {
	if n <= 0 {
		n = 5
	}
	if len(tokenize(text)) == 0 {
		return nil, ErrEmptyText
	}

	// chromem rejects nResults larger than the collection.
	want := n
	if exclude != 0 {
		want++
	}
	if count := x.collection.Count(); want > count {
		want = count
	}
	if want == 0 {
		return []Match{}, nil
	}

	results, err := x.collection.Query(ctx, text, want, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		id, _ := strconv.ParseInt(r.ID, 10, 64)
		if exclude != 0 && id == exclude {
			continue
		}
		matches = append(matches, Match{
			ID:         id,
			Title:      r.Metadata["title"],
			Category:   r.Metadata["category"],
			Resolution: r.Metadata["resolution"],
			Similarity: r.Similarity,
		})
		if len(matches) == n {
			break
		}
	}
	return matches, nil
}

// Rebuild indexes every completed work order in the source.
func (x *Index) Rebuild(ctx context.Context) (int, error) {
	if x.source == nil {
		return 0, nil
	}
	items, err := x.source.ListCompletedWorkOrders(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load completed work orders: %w", err)
	}
	indexed := 0
	for i := range items {
		if err := x.Add(ctx, &items[i]); err != nil {
			return indexed, err
		}
		indexed++
	}
	log.Printf("📚 Knowledge index rebuilt with %d completed work orders", indexed)
	return indexed, nil
}

func (x *Index) Name() string { return "knowledge" }

// Handle keeps the index in step with work orders: completed ones are
// (re)indexed, reopened or deleted ones are dropped.
func (x *Index) Handle(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.WorkOrderCompleted, events.WorkOrderUpdated:
	case events.WorkOrderDeleted:
		if id, ok := eventID(event); ok {
			return x.Remove(ctx, id)
		}
		return nil
	default:
		return nil
	}

	id, ok := eventID(event)
	if !ok || x.source == nil {
		return nil
	}
	wo, err := x.source.GetWorkOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load work order %d: %w", id, err)
	}
	if wo.Status != types.StatusCompleted {
		return x.Remove(ctx, id)
	}
	return x.Add(ctx, wo)
}

// eventID reads the "id" field, which is int64 in-process and float64 after a JSON round trip.
func eventID(event events.Event) (int64, bool) {
	switch v := event.Data["id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	}
	return 0, false
}

func documentText(wo *types.WorkOrder) string {
	parts := []string{wo.Title, wo.Description, string(wo.Category), wo.ResolutionNotes}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// ============================================================================
// EMBEDDING
// ============================================================================

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "was": true, "are": true,
	"has": true, "had": true, "not": true, "but": true, "this": true, "that": true,
	"from": true, "into": true, "its": true, "our": true, "there": true, "is": true,
	"on": true, "in": true, "at": true, "of": true, "to": true, "a": true, "an": true,
}

// EmbeddingFunc returns a deterministic local embedding: a bag of hashed
// word unigrams and bigrams, L2-normalized. It needs no network access.
func EmbeddingFunc() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		return Embed(text)
	}
}

// Embed computes the hashed embedding of text.
func Embed(text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float64, Dimensions)
	add := func(term string, weight float64) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		vec[h.Sum32()%Dimensions] += weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, Dimensions)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		tokens = append(tokens, stem(f))
	}
	return tokens
}

// stem strips a few common English suffixes so "leaking" and "leaks" share a bucket.
func stem(word string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if len(word) > len(suffix)+2 && strings.HasSuffix(word, suffix) {
			return strings.TrimSuffix(word, suffix)
		}
	}
	return word
}

package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// PromptIndex is a PromptSource backed by a bleve full-text index.
	// Loading a query returns the text of the best matching prompts, most
	// relevant first
	PromptIndex struct {
		index bleve.Index
		limit int
	}

	// Prompt is one indexed prompt document
	Prompt struct {
		ID   string `json:"id" yaml:"id"`
		Text string `json:"text" yaml:"text"`
	}
)

const (
	promptTextField    = "text"
	DefaultPromptLimit = 5
)

var _ api.PromptSource = (*PromptIndex)(nil)

var ErrPromptIDEmpty = errors.New("prompt ID empty")

// OpenPromptIndex opens the index at path, creating it if it does not exist.
// An empty path creates an in-memory index
func OpenPromptIndex(path string, limit int) (*PromptIndex, error) {
	if limit <= 0 {
		limit = DefaultPromptLimit
	}
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		return &PromptIndex{index: idx, limit: limit}, nil
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, err
	}
	return &PromptIndex{index: idx, limit: limit}, nil
}

// Add indexes prompts, replacing any with the same id
func (p *PromptIndex) Add(prompts ...Prompt) error {
	b := p.index.NewBatch()
	for _, pr := range prompts {
		if pr.ID == "" {
			return ErrPromptIDEmpty
		}
		if err := b.Index(pr.ID, pr); err != nil {
			return err
		}
	}
	return p.index.Batch(b)
}

// Load returns the text of the prompts best matching query
func (p *PromptIndex) Load(ctx context.Context, query string) ([]string, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField(promptTextField)
	req := bleve.NewSearchRequestOptions(q, p.limit, 0, false)
	req.Fields = []string{promptTextField}

	res, err := p.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("prompt search: %w", err)
	}

	prompts := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if text, ok := hit.Fields[promptTextField].(string); ok {
			prompts = append(prompts, text)
		}
	}
	return prompts, nil
}

// Count returns the number of indexed prompts
func (p *PromptIndex) Count() (uint64, error) {
	return p.index.DocCount()
}

// Close closes the underlying index
func (p *PromptIndex) Close() error {
	return p.index.Close()
}

package capability_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/agentflow/internal/capability"
)

func TestPromptIndexLoad(t *testing.T) {
	idx, err := capability.OpenPromptIndex("", 2)
	assert.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Add(
		capability.Prompt{ID: "p1", Text: "Classify financial health from debt"},
		capability.Prompt{ID: "p2", Text: "Summarize the filing for investors"},
		capability.Prompt{ID: "p3", Text: "Debt exceeding revenue is weak"},
	)
	assert.NoError(t, err)

	count, err := idx.Count()
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	prompts, err := idx.Load(context.Background(), "debt")
	assert.NoError(t, err)
	assert.Len(t, prompts, 2)
	assert.ElementsMatch(t, []string{
		"Classify financial health from debt",
		"Debt exceeding revenue is weak",
	}, prompts)

	prompts, err = idx.Load(context.Background(), "unrelated")
	assert.NoError(t, err)
	assert.Empty(t, prompts)
}

func TestPromptIndexValidation(t *testing.T) {
	idx, err := capability.OpenPromptIndex("", 0)
	assert.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Add(capability.Prompt{Text: "no id"})
	assert.ErrorIs(t, err, capability.ErrPromptIDEmpty)
}

func TestPromptIndexOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.bleve")

	idx, err := capability.OpenPromptIndex(path, 5)
	assert.NoError(t, err)
	assert.NoError(t, idx.Add(capability.Prompt{ID: "p1", Text: "revenue"}))
	assert.NoError(t, idx.Close())

	idx, err = capability.OpenPromptIndex(path, 5)
	assert.NoError(t, err)
	defer func() { _ = idx.Close() }()

	prompts, err := idx.Load(context.Background(), "revenue")
	assert.NoError(t, err)
	assert.Equal(t, []string{"revenue"}, prompts)
}

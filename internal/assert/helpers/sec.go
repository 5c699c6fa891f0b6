package helpers

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/kode4food/agentflow/internal/capability"
	"github.com/kode4food/agentflow/internal/definitions"
	"github.com/kode4food/agentflow/pkg/api"
)

// Filing is the document stored for one SEC filing
type Filing struct {
	Company string  `json:"company"`
	Revenue float64 `json:"revenue"`
	Debt    float64 `json:"debt"`
}

// Sample SEC definition names
const (
	ProcessFiling    api.FlowID     = "process_filing"
	HandleEscalation api.FlowID     = "handle_escalation"
	BatchAnalyze     api.WorkflowID = "batch_analyze"
)

const (
	extractGuide  = "extract"
	classifyGuide = "classify"

	HealthWeak   = "weak"
	HealthStrong = "strong"
)

var ErrUnknownGuide = errors.New("unknown guide")

//go:embed sec.yaml
var secYAML []byte

// SECYAML returns the raw sample definitions
func SECYAML() []byte {
	return append([]byte(nil), secYAML...)
}

// SECDefinitions returns a fresh copy of the sample SEC definitions
func SECDefinitions() *api.Definitions {
	defs, err := definitions.Parse(secYAML)
	if err != nil {
		panic(err)
	}
	return defs
}

// SECPrompts returns the prompts indexed by the test prompt source
func SECPrompts() []capability.Prompt {
	return []capability.Prompt{
		{ID: "extract", Text: "Extract figures exactly as reported"},
		{ID: "units", Text: "Report revenue and debt in US dollars"},
	}
}

// SECAnalyst answers the extraction and classification guides of the sample
// definitions deterministically: a filing is weak when its debt exceeds its
// revenue. An example whose input matches the request overrides the answer
func SECAnalyst(
	_ context.Context, guide string, examples []api.Example, inputs api.Args,
) (any, error) {
	g := strings.ToLower(guide)
	switch {
	case strings.HasPrefix(g, extractGuide):
		filing, _ := inputs["filing"].(map[string]any)
		return map[string]any{
			"name":    filing["company"],
			"revenue": filing["revenue"],
			"debt":    filing["debt"],
		}, nil
	case strings.HasPrefix(g, classifyGuide):
		for _, ex := range examples {
			if matchesInputs(ex.Input, inputs) {
				return ex.Output, nil
			}
		}
		if toFloat(inputs["debt"]) > toFloat(inputs["revenue"]) {
			return HealthWeak, nil
		}
		return HealthStrong, nil
	default:
		return nil, ErrUnknownGuide
	}
}

func matchesInputs(input any, inputs api.Args) bool {
	m, ok := input.(map[string]any)
	if !ok || len(m) == 0 {
		return false
	}
	for k, v := range m {
		if toFloat(v) != toFloat(inputs[api.Name(k)]) {
			return false
		}
	}
	return true
}

func toFloat(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return 0
	}
}

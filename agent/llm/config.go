package llm

import (
	"strings"
)

// Concern selects the model/temperature profile for one class of call.
// The agent loop wants conversational variety; the parser and qualifier
// want determinism.
type Concern string

const (
	ConcernAgent     Concern = "agent"
	ConcernParser    Concern = "parser"
	ConcernQualifier Concern = "qualifier"
	ConcernExpander  Concern = "expander"
)

type Config struct {
	AgentModel     string `envconfig:"AGENT_MODEL" split_words:"true"`
	ParserModel    string `envconfig:"PARSER_MODEL" split_words:"true"`
	QualifierModel string `envconfig:"QUALIFIER_MODEL" split_words:"true"`
	ExpanderModel  string `envconfig:"EXPANDER_MODEL" split_words:"true"`

	AgentTemperature     float64 `envconfig:"AGENT_TEMPERATURE" split_words:"true" default:"0.3"`
	ParserTemperature    float64 `envconfig:"PARSER_TEMPERATURE" split_words:"true" default:"0"`
	QualifierTemperature float64 `envconfig:"QUALIFIER_TEMPERATURE" split_words:"true" default:"0.3"`
	ExpanderTemperature  float64 `envconfig:"EXPANDER_TEMPERATURE" split_words:"true" default:"0.3"`
}

// For resolves the model override and temperature for a concern. An empty
// model means "use the default chat model".
func (c Config) For(concern Concern) (model string, temperature float64) {
	switch concern {
	case ConcernParser:
		return strings.TrimSpace(c.ParserModel), c.ParserTemperature
	case ConcernQualifier:
		return strings.TrimSpace(c.QualifierModel), c.QualifierTemperature
	case ConcernExpander:
		return strings.TrimSpace(c.ExpanderModel), c.ExpanderTemperature
	default:
		return strings.TrimSpace(c.AgentModel), c.AgentTemperature
	}
}

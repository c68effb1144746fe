package api

// ParticipantKind selects the client used to call the model of a participant.
type ParticipantKind string

const (
	ParticipantKindOpenRouter ParticipantKind = "openrouter"
	ParticipantKindGemini     ParticipantKind = "gemini"
	ParticipantKindScripted   ParticipantKind = "scripted"
)

// ParticipantResource describes one model identity that can take part in a run.
type ParticipantResource struct {
	ID       string          `mapstructure:"id" yaml:"id" json:"id"`
	Name     string          `mapstructure:"name" yaml:"name" json:"name"`
	Provider string          `mapstructure:"provider" yaml:"provider" json:"provider"`
	Kind     ParticipantKind `mapstructure:"kind" yaml:"kind" json:"kind"`
	Model    string          `mapstructure:"model" yaml:"model" json:"model"`
	Color    string          `mapstructure:"color" yaml:"color" json:"color,omitempty"`
	// Params are the default generation parameters, a run can override them
	Params map[string]any `mapstructure:"params" yaml:"params" json:"params,omitempty"`
	// Script is only used by scripted participants
	Script *ParticipantScript `mapstructure:"script" yaml:"script" json:"-"`
}

// ParticipantScript drives a scripted participant. Scripted participants do not call
// any provider, they replay the configured fragments and are used in local mode.
type ParticipantScript struct {
	Fragments    []string `mapstructure:"fragments" yaml:"fragments"`
	FragmentWait string   `mapstructure:"fragment_wait" yaml:"fragment_wait"`
	// Fail makes every invocation fail before the first fragment
	Fail bool `mapstructure:"fail" yaml:"fail"`
	// FailAfter makes the invocation fail after the given number of fragments, 0 disables it
	FailAfter    int    `mapstructure:"fail_after" yaml:"fail_after"`
	FailMessage  string `mapstructure:"fail_message" yaml:"fail_message"`
	PromptTokens int    `mapstructure:"prompt_tokens" yaml:"prompt_tokens"`
}

// ParticipantResourceList represents response for listing participants
type ParticipantResourceList struct {
	TotalCount int                   `json:"total_count"`
	Items      []ParticipantResource `json:"items"`
}

// Prompt is what a participant receives for one repetition.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

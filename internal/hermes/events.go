package hermes

const (
	// SubjectTranscriptSubmitted carries transcripts to classify.
	SubjectTranscriptSubmitted = "verdict.transcript.submitted"
	// SubjectConversationClassified carries one result per conversation.
	SubjectConversationClassified = "verdict.conversation.classified"
	// SubjectAgentRegistered announces the service on start-up.
	SubjectAgentRegistered = "verdict.agent.registered"
)

// TranscriptSubmitted asks verdict to classify every conversation in Transcript.
// Labels, when present, are gold labels indexed by conversation ordinal.
type TranscriptSubmitted struct {
	SourceRef  string `json:"source_ref"`
	Transcript string `json:"transcript"`
	Labels     []int  `json:"labels,omitempty"`
}

// ConversationClassified is published once per classified conversation.
type ConversationClassified struct {
	EventID   string     `json:"event_id"`
	RunID     string     `json:"run_id"`
	Ref       string     `json:"ref"`
	SourceRef string     `json:"source_ref"`
	Index     int        `json:"index"`
	StartLine int        `json:"start_line"`
	Turns     int        `json:"turns"`
	Logits    [2]float64 `json:"logits"`
	Probs     [2]float64 `json:"probs"`
	Predicted int        `json:"predicted"`
	GoldLabel *int       `json:"gold_label,omitempty"`
	Loss      *float64   `json:"loss,omitempty"`
	StoredID  string     `json:"stored_id,omitempty"`
}

// AgentRegistered describes the running classifier.
type AgentRegistered struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Pooler       string   `json:"pooler"`
	Encoder      string   `json:"encoder"`
}

// PartitionKey keeps a source's conversations on one Kafka partition.
func (e ConversationClassified) PartitionKey() string { return e.SourceRef }

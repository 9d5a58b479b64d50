package synthesize

import (
	"github.com/TobiSchelling/topicheat/internal/llm"
)

// SubClusterSchema is the object shape asked of the batch classification.
type SubClusterSchema struct {
	TopicTitle  string `json:"topic_title"`
	CoreSubject string `json:"core_subject"`
	Date        string `json:"date"`
	TimeAxis    string `json:"time_axis"`
	MessageIDs  []int  `json:"message_ids"`
}

// PointSchema is one discussion point inside a day or version cluster.
type PointSchema struct {
	Text           string   `json:"text"`
	SubClusters    []string `json:"sub_clusters"`
	PlayerOpinions []string `json:"player_opinions"`
	ExampleQuotes  []string `json:"example_quotes"`
}

// DayClusterSchema is the object shape asked of the day-level pass.
type DayClusterSchema struct {
	TopicTitle       string        `json:"topic_title"`
	Date             string        `json:"date"`
	SubClusters      []string      `json:"sub_clusters"`
	DiscussionPoints []PointSchema `json:"discussion_points"`
}

// DetailSchema is the object shape asked of the detail pass.
type DetailSchema struct {
	ClusterID      string   `json:"cluster_id"`
	PlayerOpinions []string `json:"player_opinions"`
	ExampleQuotes  []string `json:"example_quotes"`
}

// VersionClusterSchema is the object shape asked of the multi-day pass.
type VersionClusterSchema struct {
	TopicTitle       string        `json:"topic_title"`
	DiscussionPoints []PointSchema `json:"discussion_points"`
}

// Schemas lists every prompt schema by name.
func Schemas() (map[string]string, error) {
	out := make(map[string]string)
	for name, fn := range map[string]func() (string, error){
		"sub_cluster":     llm.SchemaHint[SubClusterSchema],
		"day_cluster":     llm.SchemaHint[DayClusterSchema],
		"detail":          llm.SchemaHint[DetailSchema],
		"version_cluster": llm.SchemaHint[VersionClusterSchema],
	} {
		s, err := fn()
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

// WithSchema appends the JSON schema of T to a system prompt. The prompt is
// returned unchanged if the schema cannot be rendered.
func WithSchema[T any](prompt string) string {
	hint, err := llm.SchemaHint[T]()
	if err != nil {
		return prompt
	}
	return prompt + "\n\nEach object follows this JSON schema:\n" + hint
}

package topic

import (
	"fmt"
	"strconv"
	"strings"
)

// Role classifies a speaker in the chat group.
type Role int

const (
	Player Role = iota
	SupportStaff
	Developer
)

func (r Role) String() string {
	switch r {
	case Developer:
		return "developer"
	case SupportStaff:
		return "support"
	default:
		return "player"
	}
}

// Message is one chat utterance. Seq is assigned once at ingestion and is the
// only key used to deduplicate messages downstream.
type Message struct {
	Seq       int    `json:"seq"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	SpeakerID string `json:"speaker_id"`
	Nickname  string `json:"nickname,omitempty"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
}

// Clock returns the message time as seconds since midnight, or -1 when the
// time is not a valid HH:MM:SS value.
func (m Message) Clock() int {
	return ParseClock(m.Time)
}

// ParseClock converts H:MM[:SS] into seconds since midnight. It returns -1 for
// anything that is not a valid wall-clock time.
func ParseClock(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return -1
	}
	vals := [3]int{}
	for i, p := range parts {
		if p == "" || len(p) > 2 {
			return -1
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return -1
		}
		vals[i] = n
	}
	if vals[0] > 23 || vals[1] > 59 || vals[2] > 59 {
		return -1
	}
	return vals[0]*3600 + vals[1]*60 + vals[2]
}

// FormatClock renders seconds since midnight as HH:MM:SS.
func FormatClock(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec/60%60, sec%60)
}

// SubCluster is a topic cluster found inside one processing batch.
type SubCluster struct {
	ClusterID   string `json:"cluster_id"`
	TopicTitle  string `json:"topic_title"`
	CoreSubject string `json:"core_subject,omitempty"`
	Date        string `json:"date"`
	TimeAxis    string `json:"time_axis"`
	Batch       int    `json:"batch"`
	MessageIDs  []int  `json:"message_ids,omitempty"`
}

// DiscussionPoint is a sub-topic of a daily cluster, usually one member
// sub-cluster, with its own engagement numbers.
type DiscussionPoint struct {
	SubClusterID   string   `json:"sub_cluster_id,omitempty"`
	Text           string   `json:"text"`
	PlayerOpinions []string `json:"player_opinions,omitempty"`
	ExampleQuotes  []string `json:"example_quotes,omitempty"`
	Date           string   `json:"date,omitempty"`
	TimeAxis       string   `json:"time_axis,omitempty"`
	SpeakerCount   int      `json:"speaker_count"`
	MessageCount   int      `json:"message_count"`
	HeatScore      float64  `json:"heat_score"`
}

// DailyCluster is a topic aggregated over one calendar day.
// HeatScore is SpeakerCount × sqrt(MessageCount) over the union time axis.
type DailyCluster struct {
	TopicTitle       string            `json:"topic_title"`
	Date             string            `json:"date"`
	TimeAxis         string            `json:"time_axis"`
	MemberClusterIDs []string          `json:"member_cluster_ids"`
	SpeakerCount     int               `json:"speaker_count"`
	MessageCount     int               `json:"message_count"`
	HeatScore        float64           `json:"heat_score"`
	DiscussionPoints []DiscussionPoint `json:"discussion_points"`
}

// DailyRecord is a DailyCluster as persisted in the accumulator.
type DailyRecord struct {
	Idx        int    `json:"idx"`
	DailyTopID string `json:"daily_top_id"`
	RunID      string `json:"run_id,omitempty"`
	DailyCluster
}

// Placement is a concrete (date, time axis) window a discussion point was
// active in.
type Placement struct {
	Date     string `json:"date"`
	TimeAxis string `json:"time_axis"`
}

// VersionPoint is a discussion point of a multi-day cluster.
type VersionPoint struct {
	Text           string      `json:"text"`
	PlayerOpinions []string    `json:"player_opinions,omitempty"`
	ExampleQuotes  []string    `json:"example_quotes,omitempty"`
	Refs           []string    `json:"refs"`
	Placements     []Placement `json:"placements"`
	Dates          []string    `json:"dates"`
	SpeakerCount   int         `json:"speaker_count"`
	MessageCount   int         `json:"message_count"`
	HeatScore      float64     `json:"heat_score"`
}

// Coverage describes which days a version cluster was discussed on.
type Coverage struct {
	Days  int    `json:"days"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

// VersionCluster is a topic aggregated across a multi-day window.
//
// TotalHeatScore is the sum of the points' heat scores. It is deliberately not
// recomputed from TotalSpeakerCount and TotalMessageCount: points can share
// speakers, so the summed speaker count is not a distinct count.
type VersionCluster struct {
	TopicTitle        string         `json:"topic_title"`
	Points            []VersionPoint `json:"discussion_points"`
	TotalSpeakerCount int            `json:"total_speaker_count"`
	TotalMessageCount int            `json:"total_message_count"`
	TotalHeatScore    float64        `json:"total_heat_score"`
	Coverage          Coverage       `json:"coverage"`
}

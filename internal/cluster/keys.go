package cluster

import (
	"regexp"
	"strings"
)

// Canonical field names used after key normalization.
const (
	KeyClusterID        = "cluster_id"
	KeyClusters         = "clusters"
	KeySubClusters      = "sub_clusters"
	KeyTopicTitle       = "topic_title"
	KeyDate             = "date"
	KeyTimeAxis         = "time_axis"
	KeyCoreSubject      = "core_subject"
	KeyDiscussionPoints = "discussion_points"
	KeyPlayerOpinions   = "player_opinions"
	KeyExampleQuotes    = "example_quotes"
	KeyMessageIDs       = "message_ids"
)

// KeyRule maps a family of key spellings the model produces onto one
// canonical key. Patterns are matched against the folded key (lower case,
// no spaces, underscores or hyphens).
type KeyRule struct {
	Pattern   *regexp.Regexp
	Canonical string
}

func rule(pattern, canonical string) KeyRule {
	return KeyRule{Pattern: regexp.MustCompile(pattern), Canonical: canonical}
}

// DefaultKeyRules is checked in order; the first matching rule wins, so
// narrow families come before the broad topic-title family.
var DefaultKeyRules = []KeyRule{
	rule(`^(话题簇id|话题簇编号|子话题簇id|clusterid|subclusterid|dailytopid|id|编号)$`, KeyClusterID),
	rule(`^(聚合)?(话题簇列表|clusters|results|data|items|topics|topiclist)$`, KeyClusters),
	rule(`^(子话题簇|子簇|包含话题簇|包含的话题簇|成员话题簇|关联话题簇|来源话题簇|来源|引用|subclusters?|memberclusterids|memberclusters|clusterids|subclusterids|dailytopids|members|refs|sources?)(列表|list)?\d*$`, KeySubClusters),
	rule(`^(讨论点|讨论要点|讨论点列表|子话题|discussionpoints?|points)\d*$`, KeyDiscussionPoints),
	rule(`^(玩家观点|玩家意见|玩家态度|playeropinions?|opinions?)\d*$`, KeyPlayerOpinions),
	rule(`^(典型发言|示例发言|代表发言|玩家原话|原话|examplequotes?|quotes?|examples?)\d*$`, KeyExampleQuotes),
	rule(`^(消息序号|消息编号|消息id|messageids?|msgids?|seqs?)\d*$`, KeyMessageIDs),
	rule(`^(日期|发言日期|讨论日期|date)\d*$`, KeyDate),
	rule(`^(时间轴|时间段|时间范围|讨论时间|timeaxis|timerange|timewindow)\d*$`, KeyTimeAxis),
	rule(`^(核心讨论点|核心主题|核心内容|讨论内容|内容|描述|摘要|coresubject|subject|summary|description|text)\d*$`, KeyCoreSubject),
	rule(`^(聚合)?(话题簇|话题|主题|topic|cluster)(名称|标题|name|title)?\d*$`, KeyTopicTitle),
	rule(`^(标题|title|name)\d*$`, KeyTopicTitle),
}

var keyFolder = strings.NewReplacer(" ", "", "_", "", "-", "", "　", "")

// CanonicalKey returns the canonical name for key, or key itself (trimmed)
// when no rule matches.
func CanonicalKey(rules []KeyRule, key string) string {
	folded := keyFolder.Replace(strings.ToLower(strings.TrimSpace(key)))
	for _, r := range rules {
		if r.Pattern.MatchString(folded) {
			return r.Canonical
		}
	}
	return strings.TrimSpace(key)
}

// mergeValue combines two values that landed on the same canonical key.
// Lists concatenate; a scalar joining a list is appended; two scalars
// resolve to the later one.
func mergeValue(prev, next any) any {
	pl, prevIsList := prev.([]any)
	nl, nextIsList := next.([]any)
	switch {
	case prevIsList && nextIsList:
		out := make([]any, 0, len(pl)+len(nl))
		out = append(out, pl...)
		return append(out, nl...)
	case prevIsList:
		if isBlank(next) {
			return prev
		}
		out := make([]any, 0, len(pl)+1)
		out = append(out, pl...)
		return append(out, next)
	case nextIsList:
		if isBlank(prev) {
			return next
		}
		out := make([]any, 0, len(nl)+1)
		out = append(out, prev)
		return append(out, nl...)
	default:
		return next
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

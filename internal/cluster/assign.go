package cluster

import (
	"fmt"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/topicheat/internal/timeaxis"
	"github.com/TobiSchelling/topicheat/internal/topic"
)

var titleDateRe = regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`)

// DateInferenceError means no date could be found for a batch. Cluster ids
// cannot be assigned without one, so the batch is abandoned.
type DateInferenceError struct {
	Batch int
}

func (e *DateInferenceError) Error() string {
	return fmt.Sprintf("batch %d: no date in cluster titles or batch messages", e.Batch)
}

// ErrAlreadyAssigned is returned when Assign sees a cluster that already
// carries an id.
var ErrAlreadyAssigned = eris.New("cluster id already assigned")

// InferDate picks the date for a batch: the first YYYY-MM-DD found in a
// cluster title, else the first dated message of the batch.
func InferDate(records []Record, msgs []topic.Message, batch int) (string, error) {
	for _, rec := range records {
		for _, m := range titleDateRe.FindAllString(rec.String(KeyTopicTitle), -1) {
			if d := timeaxis.NormalizeDate(m); d != "" {
				return d, nil
			}
		}
	}
	for _, m := range msgs {
		if d := timeaxis.NormalizeDate(m.Date); d != "" {
			return d, nil
		}
	}
	return "", &DateInferenceError{Batch: batch}
}

// ClusterID formats a batch-scoped cluster id.
func ClusterID(date, tag string, ordinal int) string {
	return fmt.Sprintf("%s_%s_%02d", date, tag, ordinal)
}

// Assign stamps every cluster with {date}_{tag}_{NN}, ordinals starting at 1
// in list order, and fills in Date where the model left it empty. Ids are
// never regenerated: if any cluster already has one, nothing is changed.
func Assign(subs []topic.SubCluster, date, tag string) error {
	if date == "" || tag == "" {
		return eris.Errorf("assign needs a date and a batch tag (date=%q tag=%q)", date, tag)
	}
	for _, s := range subs {
		if s.ClusterID != "" {
			return eris.Wrapf(ErrAlreadyAssigned, "cluster %s", s.ClusterID)
		}
	}
	for i := range subs {
		subs[i].ClusterID = ClusterID(date, tag, i+1)
		if subs[i].Date == "" {
			subs[i].Date = date
		}
	}
	return nil
}

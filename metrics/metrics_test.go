package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

func TestCreateView(t *testing.T) {
	x := newJournalMetric()

	viewList := make([]*view.View, 0)
	viewList = createAppendViews(x, viewList)

	assert.Equal(t, 7, len(viewList))
	assert.Equal(t, x.Commits.Description(), viewList[0].Description)
	assert.Equal(t, view.Count().Type, viewList[0].Aggregation.Type)
	assert.Equal(t, view.LastValue().Type, viewList[6].Aggregation.Type)
}

func TestRecordCommit(t *testing.T) {
	stats.Record(context.Background(), JournalMetric.Commits.M(1))
	rows, err := view.RetrieveData("JournalCommits")
	assert.Nil(t, err)
	assert.Equal(t, 1, len(rows))
	assert.NotNil(t, PrometheusHandler)
}

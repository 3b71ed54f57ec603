package metrics

import (
	"fmt"
	"reflect"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

var (
	//Metrics for the journal state machine
	JournalMetric = newJournalMetric()
	//Metrics for the storage driver traffic issued by the journal
	DriverMetric      = newDriverMetric()
	PrometheusHandler *prometheus.Exporter
)

type journalMetric struct {
	Commits       *stats.Int64Measure `aggr:"Counter"`
	Recoveries    *stats.Int64Measure `aggr:"Counter"`
	Failures      *stats.Int64Measure `aggr:"Counter"`
	LoggedBytes   *stats.Int64Measure `aggr:"Sum"`
	DeliveredRead *stats.Int64Measure `aggr:"Sum"`
	CommittedSize *stats.Int64Measure `aggr:"LastValue"`
	CurrentSlot   *stats.Int64Measure `aggr:"LastValue"`
}

type driverMetric struct {
	Erases       *stats.Int64Measure `aggr:"Counter"`
	Programs     *stats.Int64Measure `aggr:"Counter"`
	Reads        *stats.Int64Measure `aggr:"Counter"`
	ProgramBytes *stats.Int64Measure `aggr:"Sum"`
	ReadBytes    *stats.Int64Measure `aggr:"Sum"`
}

func newJournalMetric() *journalMetric {
	return &journalMetric{
		Commits:       stats.Int64("JournalCommits", "how many blobs have been committed", "1"),
		Recoveries:    stats.Int64("JournalRecoveries", "how many recovery scans have completed", "1"),
		Failures:      stats.Int64("JournalFailures", "driver failures and inconsistencies seen by the journal", "1"),
		LoggedBytes:   stats.Int64("JournalLoggedBytes", "bytes staged through log", stats.UnitBytes),
		DeliveredRead: stats.Int64("JournalReadBytes", "bytes delivered to readers", stats.UnitBytes),
		CommittedSize: stats.Int64("JournalCommittedSize", "size of the current blob", stats.UnitBytes),
		CurrentSlot:   stats.Int64("JournalCurrentSlot", "index of the current slot", "1"),
	}
}

func newDriverMetric() *driverMetric {
	return &driverMetric{
		Erases:       stats.Int64("DriverErases", "erase requests", stats.UnitDimensionless),
		Programs:     stats.Int64("DriverPrograms", "program requests", stats.UnitDimensionless),
		Reads:        stats.Int64("DriverReads", "read requests", stats.UnitDimensionless),
		ProgramBytes: stats.Int64("DriverProgramBytes", "bytes programmed", stats.UnitBytes),
		ReadBytes:    stats.Int64("DriverReadBytes", "bytes read", stats.UnitBytes),
	}
}

//use golang tag to create views from measurements
//https://gist.github.com/drewolson/4771479 is a great example.
func createAppendViews(m interface{}, list []*view.View) []*view.View {
	val := reflect.ValueOf(m).Elem()
	for i := 0; i < val.NumField(); i++ {
		typeField := val.Type().Field(i)
		valueField, _ := val.Field(i).Interface().(*stats.Int64Measure)
		golangTag := typeField.Tag
		v := &view.View{
			Name:        valueField.Name(),
			Description: valueField.Description(),
			Measure:     valueField,
		}
		//aggreation
		var aggr *view.Aggregation
		switch golangTag.Get("aggr") {
		case "Counter":
			aggr = view.Count()
		case "LastValue":
			aggr = view.LastValue()
		case "Sum":
			aggr = view.Sum()
		default:
			panic("now we only suppport Counter, Sum and LastValue")
		}
		v.Aggregation = aggr

		list = append(list, v)
	}
	return list
}

func init() {
	var err error
	viewList := make([]*view.View, 0)
	viewList = createAppendViews(JournalMetric, viewList)
	viewList = createAppendViews(DriverMetric, viewList)

	if err := view.Register(viewList...); err != nil {
		panic("failed to register view")
	}

	PrometheusHandler, err = prometheus.NewExporter(prometheus.Options{
		Namespace: "flashjournal",
		OnError:   func(err error) { fmt.Printf("%v\n", err) },
	})
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}

	view.RegisterExporter(PrometheusHandler)
}

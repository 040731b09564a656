// Package export writes a video's time series out of the process: as CSV and
// as a stream of Kafka messages.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/andresmejia3/trafficvision/internal/traffic"
)

// Header is the CSV column order.
var Header = []string{
	"frame_index", "time_sec", "bus", "car", "van", "total",
	"congestion_index", "congestion_level",
}

// WriteCSV writes the header and one row per record. An empty series still
// produces the header.
func WriteCSV(w io.Writer, records []traffic.VideoFrameRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.FrameIndex),
			strconv.FormatFloat(r.TimeSec, 'f', -1, 64),
			strconv.Itoa(r.Bus),
			strconv.Itoa(r.Car),
			strconv.Itoa(r.Van),
			strconv.Itoa(r.Total),
			strconv.FormatFloat(r.CongestionIndex, 'f', 1, 64),
			r.CongestionLevel,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

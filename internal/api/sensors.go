package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/dashcam/internal/sensor"
	"github.com/banshee-data/dashcam/internal/units"
)

func (s *Server) listRecentSamples(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	ch := sensor.Accelerometer
	if name := r.URL.Query().Get("channel"); name != "" {
		parsed, err := sensor.ParseChannel(name)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		ch = parsed
	}
	target, ok := s.requestUnits(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'units' parameter: must be one of "+units.GetValidUnitsString())
		return
	}

	samples := s.b.Samples.Recent(ch)
	if samples == nil {
		samples = []sensor.Sample{}
	}
	if ch == sensor.Accelerometer {
		for i := range samples {
			samples[i] = convertSample(samples[i], target)
		}
	}
	s.writeJSON(w, samples)
}

// showMotionChart renders the buffered accelerometer and gyroscope
// magnitudes as an HTML line chart. Debugging only.
func (s *Server) showMotionChart(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethods(w, r, http.MethodGet) {
		return
	}
	accel := s.b.Samples.Recent(sensor.Accelerometer)
	gyro := s.b.Samples.Recent(sensor.Gyroscope)
	if len(accel) == 0 && len(gyro) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no samples buffered")
		return
	}

	// X axis is seconds before the newest sample on either channel.
	var newest int64
	for _, set := range [][]sensor.Sample{accel, gyro} {
		if n := len(set); n > 0 && set[n-1].CapturedAtMs > newest {
			newest = set[n-1].CapturedAtMs
		}
	}
	points := func(set []sensor.Sample) []opts.LineData {
		out := make([]opts.LineData, 0, len(set))
		for _, smp := range set {
			age := float64(smp.CapturedAtMs-newest) / 1000
			out = append(out, opts.LineData{Value: []interface{}{age, smp.Magnitude()}})
		}
		return out
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Dashcam motion", Theme: "dark", Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Motion magnitude", Subtitle: fmt.Sprintf("accel=%d gyro=%d samples", len(accel), len(gyro))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "|v|"}),
	)
	line.AddSeries("accelerometer (m/s²)", points(accel)).
		AddSeries("gyroscope (rad/s)", points(gyro))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

package training

import (
	"encoding/json"
	"fmt"
	"time"
)

// EpochLogger receives the per-epoch summary and the final test perplexity
type EpochLogger interface {
	AddEpochLog(epoch int, trainLoss, devLoss, devPPL float64) error
	SetFinalPPL(ppl float64) error
}

// MultiLogger fans out to several loggers, stopping at the first error
type MultiLogger []EpochLogger

func (ml MultiLogger) AddEpochLog(epoch int, trainLoss, devLoss, devPPL float64) error {
	for _, l := range ml {
		if err := l.AddEpochLog(epoch, trainLoss, devLoss, devPPL); err != nil {
			return err
		}
	}
	return nil
}

func (ml MultiLogger) SetFinalPPL(ppl float64) error {
	for _, l := range ml {
		if err := l.SetFinalPPL(ppl); err != nil {
			return err
		}
	}
	return nil
}

// EpochLog is one row of the run report
type EpochLog struct {
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	DevLoss   float64 `json:"dev_loss"`
	DevPPL    float64 `json:"dev_ppl"`
}

// Report collects a run's configuration, epoch history and final perplexity
// and serializes them as JSON
type Report struct {
	ModelName string      `json:"model_name"`
	StartedAt time.Time   `json:"started_at"`
	Config    interface{} `json:"config,omitempty"`
	Epochs    []EpochLog  `json:"epochs"`
	FinalPPL  *float64    `json:"final_ppl,omitempty"`
}

// NewReport creates an empty report. config is embedded verbatim.
func NewReport(modelName string, config interface{}) *Report {
	return &Report{
		ModelName: modelName,
		StartedAt: time.Now(),
		Config:    config,
		Epochs:    make([]EpochLog, 0),
	}
}

func (r *Report) AddEpochLog(epoch int, trainLoss, devLoss, devPPL float64) error {
	r.Epochs = append(r.Epochs, EpochLog{
		Epoch:     epoch,
		TrainLoss: trainLoss,
		DevLoss:   devLoss,
		DevPPL:    devPPL,
	})
	return nil
}

func (r *Report) SetFinalPPL(ppl float64) error {
	r.FinalPPL = &ppl
	return nil
}

// Dumps serializes the report as indented JSON
func (r *Report) Dumps() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	return string(data), nil
}

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves  PlotType = "training_curves"
	PerplexityCurve PlotType = "perplexity_curve"
)

// PlotData is a chart description consumable by external plotting tools
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	YAxisScale string `json:"y_axis_scale"` // "linear", "log"
	ShowLegend bool   `json:"show_legend"`
}

// TrainingCurves returns the per-epoch training and validation loss curves
func (r *Report) TrainingCurves() PlotData {
	train := SeriesData{Name: "Training Loss", Type: "line", Style: map[string]interface{}{"color": "#FF6B6B"}}
	dev := SeriesData{Name: "Validation Loss", Type: "line", Style: map[string]interface{}{"color": "#FF9F43", "line_style": "dashed"}}
	for _, e := range r.Epochs {
		train.Data = append(train.Data, DataPoint{X: float64(e.Epoch), Y: e.TrainLoss})
		dev.Data = append(dev.Data, DataPoint{X: float64(e.Epoch), Y: e.DevLoss})
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", r.ModelName),
		Timestamp: time.Now(),
		ModelName: r.ModelName,
		Series:    []SeriesData{train, dev},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Loss",
			YAxisScale: "linear",
			ShowLegend: true,
		},
	}
}

// PerplexityCurve returns the validation perplexity per epoch
func (r *Report) PerplexityCurve() PlotData {
	ppl := SeriesData{Name: "Validation Perplexity", Type: "line", Style: map[string]interface{}{"color": "#5F27CD"}}
	for _, e := range r.Epochs {
		ppl.Data = append(ppl.Data, DataPoint{X: float64(e.Epoch), Y: e.DevPPL})
	}

	return PlotData{
		PlotType:  PerplexityCurve,
		Title:     fmt.Sprintf("Validation Perplexity - %s", r.ModelName),
		Timestamp: time.Now(),
		ModelName: r.ModelName,
		Series:    []SeriesData{ppl},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Perplexity",
			YAxisScale: "log",
			ShowLegend: true,
		},
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

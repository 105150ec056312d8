package training

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestReport(t *testing.T) {
	report := NewReport("rnnlm", map[string]interface{}{"optimizer": "nt-avgsgd"})

	report.AddEpochLog(1, 5.5, 5.0, 148.4)
	report.AddEpochLog(2, 4.9, 4.8, 121.5)
	report.SetFinalPPL(118.2)

	out, err := report.Dumps()
	if err != nil {
		t.Fatalf("Dumps failed: %v", err)
	}

	var decoded struct {
		ModelName string                 `json:"model_name"`
		Config    map[string]interface{} `json:"config"`
		Epochs    []EpochLog             `json:"epochs"`
		FinalPPL  float64                `json:"final_ppl"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Report is not valid JSON: %v", err)
	}

	if decoded.ModelName != "rnnlm" || decoded.Config["optimizer"] != "nt-avgsgd" {
		t.Errorf("Unexpected header: %+v", decoded)
	}
	if len(decoded.Epochs) != 2 || decoded.Epochs[1].DevPPL != 121.5 {
		t.Errorf("Unexpected epochs: %+v", decoded.Epochs)
	}
	if decoded.FinalPPL != 118.2 {
		t.Errorf("Expected final ppl 118.2, got %f", decoded.FinalPPL)
	}
}

func TestReportWithoutFinalPPL(t *testing.T) {
	out, err := NewReport("rnnlm", nil).Dumps()
	if err != nil {
		t.Fatalf("Dumps failed: %v", err)
	}
	if strings.Contains(out, "final_ppl") {
		t.Error("Unfinished run should not report a final perplexity")
	}
}

func TestMultiLogger(t *testing.T) {
	first := &recordingLogger{failAt: 2}
	second := &recordingLogger{}
	ml := MultiLogger{first, second}

	if err := ml.AddEpochLog(1, 1, 1, 1); err != nil {
		t.Fatalf("AddEpochLog failed: %v", err)
	}
	if err := ml.AddEpochLog(2, 1, 1, 1); err == nil {
		t.Error("Expected error from failing logger")
	}
	if len(second.epochs) != 1 {
		t.Errorf("Loggers after a failure should not be called, got %d entries", len(second.epochs))
	}

	if err := ml.SetFinalPPL(10); err != nil {
		t.Fatalf("SetFinalPPL failed: %v", err)
	}
	if first.finalPPL != 10 || second.finalPPL != 10 {
		t.Error("Final perplexity not fanned out")
	}
}

func TestReportCurves(t *testing.T) {
	report := NewReport("rnnlm", nil)
	for epoch := 1; epoch <= 3; epoch++ {
		report.AddEpochLog(epoch, float64(10-epoch), float64(11-epoch), float64(100-epoch))
	}

	curves := report.TrainingCurves()
	if curves.PlotType != TrainingCurves || len(curves.Series) != 2 {
		t.Fatalf("Unexpected training curves: %+v", curves)
	}
	for _, s := range curves.Series {
		if len(s.Data) != 3 {
			t.Errorf("Series %s: expected 3 points, got %d", s.Name, len(s.Data))
		}
	}
	if curves.Series[1].Data[2].Y != 8 {
		t.Errorf("Expected last validation loss 8, got %f", curves.Series[1].Data[2].Y)
	}

	ppl := report.PerplexityCurve()
	if ppl.Config.YAxisScale != "log" || ppl.Series[0].Data[0].Y != 99 {
		t.Errorf("Unexpected perplexity curve: %+v", ppl)
	}

	js, err := ppl.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	if !strings.Contains(js, `"plot_type": "perplexity_curve"`) {
		t.Errorf("Unexpected JSON: %s", js)
	}
}

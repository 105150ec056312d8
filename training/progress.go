package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-rnnlm/layers"
)

// ProgressBar renders a single-line batch progress bar
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 && percentage > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// Stable metric order keeps the line from jittering
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.3f", k, pb.metrics[k])
	}
	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints PyTorch-style model architecture
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
	}
}

// PrintArchitecture writes the layer stack and parameter totals to out
func (p *ModelArchitecturePrinter) PrintArchitecture(out io.Writer, modelSpec *layers.ModelSpec) {
	fmt.Fprintf(out, "Model Architecture:\n")
	fmt.Fprintf(out, "%s(\n", p.modelName)
	for _, layer := range modelSpec.Layers {
		fmt.Fprintf(out, "  %s\n", p.formatLayer(layer))
	}
	fmt.Fprintf(out, ")\n\n")

	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(modelSpec.TotalParameters))
	fmt.Fprintf(out, "Params size (MB): %.3f\n\n", float64(modelSpec.TotalParameters*8)/1024/1024)
}

func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec) string {
	switch layer.Type {
	case layers.Embedding:
		return fmt.Sprintf("(%s): Embedding(%v, %v, padding_idx=%v)", layer.Name,
			layer.Parameters["vocab_size"], layer.Parameters["emb_size"], layer.Parameters["pad_index"])
	case layers.Dropout:
		return fmt.Sprintf("(%s): Dropout(p=%v)", layer.Name, layer.Parameters["rate"])
	case layers.Elman:
		return fmt.Sprintf("(%s): RNN(%v, %v)", layer.Name,
			layer.Parameters["input_size"], layer.Parameters["hidden_size"])
	case layers.Dense:
		s := fmt.Sprintf("(%s): Linear(in_features=%v, out_features=%v", layer.Name,
			layer.Parameters["input_size"], layer.Parameters["output_size"])
		if tied, _ := layer.Parameters["tied_to"].(string); tied != "" {
			s += ", tied_to=" + tied
		}
		return s + ")"
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type)
	}
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

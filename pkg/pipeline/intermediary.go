package pipeline

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"ifubin/pkg/assemble"
)

// saveIntermediaryResult writes data as little-endian binary to
// <IntermediaryDir>/<stage>/<index>.bin. Floats are float64, integers int32.
func (p *Pipeline) saveIntermediaryResult(stage string, data interface{}, index int) error {
	if !p.params.SaveIntermediaryResults {
		return nil
	}

	stageDir := filepath.Join(p.params.IntermediaryDir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}

	var payload interface{}
	switch v := data.(type) {
	case []float64:
		payload = v
	case assemble.Vector:
		payload = []float64(v)
	case []int:
		ints := make([]int32, len(v))
		for i, x := range v {
			ints[i] = int32(x)
		}
		payload = ints
	default:
		return fmt.Errorf("unsupported intermediary data type %T", data)
	}

	filename := filepath.Join(stageDir, fmt.Sprintf("%03d.bin", index))
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create data file: %w", err)
	}
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, payload); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

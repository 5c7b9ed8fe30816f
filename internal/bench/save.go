package bench

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"
)

// RunInfo identifies a saved benchmark run.
type RunInfo struct {
	Model       string
	APIURL      string
	Concurrency int
	NumPrompts  int
}

// SaveResult writes the report's structured result as JSON to path, or into
// a generated file under dir when path is a directory. It returns the path
// actually written.
func SaveResult(path string, report *BenchmarkReport, info RunInfo, now time.Time) (string, error) {
	id := ksuid.New()

	result := report.Result()
	result["run_id"] = id.String()
	result["date"] = now.Format("20060102-150405")
	result["model_id"] = info.Model
	result["api_url"] = info.APIURL
	result["max_concurrency"] = info.Concurrency
	result["num_prompts"] = info.NumPrompts

	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("bench-%s-%s.json", now.Format("20060102-150405"), id))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create result directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	return path, nil
}

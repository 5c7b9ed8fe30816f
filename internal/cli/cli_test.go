package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldland/worldland-launcher/internal/adapters/nvml"
	"github.com/worldland/worldland-launcher/internal/domain"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// withDevices replaces the local device provider for one test.
func withDevices(t *testing.T, devices ...domain.Device) {
	t.Helper()
	prev := newDeviceProvider
	newDeviceProvider = func() domain.DeviceProvider { return nvml.NewMockProvider(devices...) }
	t.Cleanup(func() { newDeviceProvider = prev })
	t.Setenv("CUDA_VISIBLE_DEVICES", "")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const twoNodes = `# test cluster
node-a slots=4 type=gpu
node-b slots=2 type=gpu
`

func TestStatus_JSON(t *testing.T) {
	withDevices(t)
	hosts := writeFile(t, "hostfile", twoNodes)

	stdout, _, err := execute(t, "status", "--hostfile", hosts, "--json")
	require.NoError(t, err)

	var out statusOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "node-a", out.Master)
	require.Len(t, out.Nodes, 2)
	assert.Equal(t, 4, out.Nodes[0].Available)
	require.NotNil(t, out.Topology)
	assert.Equal(t, 2, out.Topology.NNodes)
	assert.Equal(t, 2, out.Topology.NProcPerNode)
	assert.Equal(t, 4, out.Topology.WorldSize)
	assert.Greater(t, out.Topology.MasterPort, 0)
	assert.False(t, out.Topology.MasterLocal)
}

func TestStatus_TablesWithOverrides(t *testing.T) {
	withDevices(t, domain.Device{Index: 0, Name: "Mock GPU", MemoryTotal: 24000})
	hosts := writeFile(t, "hostfile", twoNodes)

	stdout, _, err := execute(t, "status", "--hostfile", hosts, "--master", "node-b", "--nnodes", "1:2", "--devices")
	require.NoError(t, err)

	assert.Contains(t, stdout, "=== Nodes (2) ===")
	assert.Contains(t, stdout, "node-b *")
	assert.Contains(t, stdout, "=== Topology ===")
	assert.Contains(t, stdout, "Master port:")
	assert.Contains(t, stdout, "Nodes:         1")
	assert.Contains(t, stdout, "Procs/node:    1")
	assert.Contains(t, stdout, "=== Local devices (1) ===")
	assert.Contains(t, stdout, "Mock GPU")
}

func TestStatus_LocalFallback(t *testing.T) {
	withDevices(t)
	t.Setenv("CUDA_VISIBLE_DEVICES", "0,1,2")

	stdout, stderr, err := execute(t, "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "proceeding with local resources")

	var out statusOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, 3, out.Nodes[0].TotalSlots)
	assert.True(t, out.Topology.MasterLocal)
}

func TestStatus_NoDevicesAnywhere(t *testing.T) {
	withDevices(t)
	_, _, err := execute(t, "status")
	assert.ErrorContains(t, err, "no local devices")
}

func TestStatus_InvalidConfig(t *testing.T) {
	_, _, err := execute(t, "status", "--log-level", "chatty")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestAllocate_Local(t *testing.T) {
	withDevices(t)
	hosts := writeFile(t, "hostfile", twoNodes)

	stdout, _, err := execute(t, "allocate", "--hostfile", hosts, "--count", "2", "--repeat", "3")
	require.NoError(t, err)
	assert.Contains(t, stdout, "node-a: slots [0,1]")
	assert.Contains(t, stdout, "node-a: slots [2,3]")
	assert.Contains(t, stdout, "node-b: slots [0,1]")

	_, _, err = execute(t, "allocate", "--hostfile", hosts, "--count", "2", "--repeat", "4")
	assert.ErrorContains(t, err, "allocation 4 of 4")
	assert.ErrorContains(t, err, "insufficient resources")
}

func TestAllocate_ExecDryRun(t *testing.T) {
	withDevices(t)
	hosts := writeFile(t, "hostfile", twoNodes)
	argsFile := writeFile(t, "args.yaml", `
micro_batch_size: 1
use_flash_attn: true
A100:
  micro_batch_size: 4
`)

	_, stderr, err := execute(t, "allocate", "--hostfile", hosts, "--count", "2",
		"--exec", "python train.py", "--args-file", argsFile, "--device-type", "A100",
		"--dry-run", "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "dry run, not executing")
	assert.Contains(t, stderr, "ssh -f -n node-a")
	assert.Contains(t, stderr, "python train.py")
}

func TestAllocate_HydraArgsAndCopy(t *testing.T) {
	withDevices(t)
	hosts := writeFile(t, "hostfile", twoNodes)
	argsFile := writeFile(t, "args.yaml", `
config-name: pretrain
trainer:
  devices: 2
A100:
  trainer:
    devices: 4
`)

	_, stderr, err := execute(t, "allocate", "--hostfile", hosts, "--count", "2",
		"--exec", "python train.py", "--args-file", argsFile, "--device-type", "A100",
		"--args-style", "hydra", "--copy", "/tmp/job:/work/job",
		"--dry-run", "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "--config-name=pretrain")
	assert.Contains(t, stderr, "trainer.devices=4")
	assert.Contains(t, stderr, "scp -r '/tmp/job' node-a:'/work/job'")
	assert.Less(t, strings.Index(stderr, "scp -r"), strings.Index(stderr, "ssh -f -n node-a"), "copy runs before the command")
}

func TestAllocate_RejectsBadArgsStyleAndCopy(t *testing.T) {
	_, _, err := execute(t, "allocate", "--args-style", "yaml")
	assert.ErrorContains(t, err, "--args-style")

	_, _, err = execute(t, "allocate", "--copy", "/tmp/job")
	assert.ErrorContains(t, err, "want src:dst")
}

func TestAllocate_RejectsBadRepeat(t *testing.T) {
	_, _, err := execute(t, "allocate", "--repeat", "0")
	assert.ErrorContains(t, err, "--repeat")
}

func TestBuildCommand(t *testing.T) {
	got := BuildCommand("python train.py", []int{0, 1}, []string{"--lr", "1e-4", "--use-flash-attn"})
	assert.Equal(t, "CUDA_VISIBLE_DEVICES=0,1 python train.py '--lr' '1e-4' '--use-flash-attn'", got)
}

func TestBench_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{
			`{"choices":[{"delta":{"content":"hi"}}]}`,
			`{"choices":[{"delta":{"content":" there"}}]}`,
			`{"choices":[],"usage":{"completion_tokens":2}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	results := t.TempDir()
	stdout, _, err := execute(t, "bench",
		"--api-url", srv.URL+"/v1/chat/completions",
		"--model", "mock-model",
		"--num-prompts", "4",
		"--max-concurrency", "2",
		"--input-len", "8",
		"--output-len", "2",
		"--metric-percentiles", "50,99",
		"--result-path", results,
		"--no-progress",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Serving Benchmark Result")
	assert.Contains(t, stdout, "Successful requests:")
	assert.Contains(t, stdout, "P50 TTFT (ms):")

	entries, err := os.ReadDir(results)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(results, entries[0].Name()))
	require.NoError(t, err)
	var saved map[string]any
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "mock-model", saved["model_id"])
	assert.EqualValues(t, 4, saved["completed"])
}

func TestBench_RequiresEndpoint(t *testing.T) {
	_, _, err := execute(t, "bench", "--model", "m")
	assert.ErrorContains(t, err, "API URL")
}

func TestBench_BadPercentiles(t *testing.T) {
	_, _, err := execute(t, "bench", "--metric-percentiles", "150")
	assert.ErrorContains(t, err, "out of range")
}

func TestPreflight_DryRunHosts(t *testing.T) {
	hosts := writeFile(t, "hostfile", twoNodes)

	stdout, _, err := execute(t, "preflight", "--hostfile", hosts, "--dry-run")
	if err != nil {
		// bash, ssh or scp may be absent on the test machine
		assert.ErrorContains(t, err, "missing")
		assert.NotContains(t, err.Error(), "unreachable")
	}
	assert.Contains(t, stdout, "=== Preflight ===")
	assert.Contains(t, stdout, "✓ node-a: reachable")
	assert.Contains(t, stdout, "✓ node-b: reachable")
}

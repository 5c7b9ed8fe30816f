package cliargs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	doc, err := Parse([]byte(`
tensor_model_parallel_size: 2
use_flash_attn: true
use_cpu_initialization: false
seed: null
lr: 1.0e-4
data_path: [0.5, /data/a, 0.5, /data/b]
optimizer:
  weight_decay: 0.1
  adam_beta2: 0.95
env:
  CUDA_DEVICE_MAX_CONNECTIONS: 1
`))
	require.NoError(t, err)

	args, err := Flatten(doc, "env")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"--tensor-model-parallel-size", "2",
		"--use-flash-attn",
		"--lr", "1.0e-4",
		"--data-path", "0.5", "/data/a", "0.5", "/data/b",
		"--weight-decay", "0.1",
		"--adam-beta2", "0.95",
	}, args)
}

func TestFlatten_Aliases(t *testing.T) {
	doc, err := Parse([]byte(`
base: &base
  hidden_size: 1024
model: *base
`))
	require.NoError(t, err)

	args, err := Flatten(doc, "base")
	require.NoError(t, err)
	assert.Equal(t, []string{"--hidden-size", "1024"}, args)
}

func TestFlatten_Errors(t *testing.T) {
	doc, err := Parse([]byte("- a\n- b\n"))
	require.NoError(t, err)
	_, err = Flatten(doc)
	assert.ErrorIs(t, err, ErrNotMapping)

	doc, err = Parse([]byte("layers: [[1, 2]]\n"))
	require.NoError(t, err)
	_, err = Flatten(doc)
	assert.ErrorContains(t, err, "list items must be scalars")
}

func TestFlatten_Empty(t *testing.T) {
	doc, err := Parse(nil)
	require.NoError(t, err)

	args, err := Flatten(doc)
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestForDevice(t *testing.T) {
	doc, err := Parse([]byte(`
micro_batch_size: 1
A100:
  micro_batch_size: 4
  use_flash_attn: true
BI-V150:
  micro_batch_size: 2
log_interval: 10
`))
	require.NoError(t, err)

	node, err := ForDevice(doc, "A100")
	require.NoError(t, err)

	args, err := Flatten(node)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--micro-batch-size", "1",
		"--log-interval", "10",
		"--micro-batch-size", "4",
		"--use-flash-attn",
	}, args)

	node, err = ForDevice(doc, "H800")
	require.NoError(t, err)
	args, err = Flatten(node)
	require.NoError(t, err)
	assert.Equal(t, []string{"--micro-batch-size", "1", "--log-interval", "10"}, args)
}

func TestForDevice_NoTypeKeepsEverything(t *testing.T) {
	doc, err := Parse([]byte("a: 1\nA100:\n  b: 2\n"))
	require.NoError(t, err)

	node, err := ForDevice(doc, "")
	require.NoError(t, err)
	args, err := Flatten(node)
	require.NoError(t, err)
	assert.Equal(t, []string{"--a", "1", "--b", "2"}, args)
}

func TestFlattenOverrides(t *testing.T) {
	doc, err := Parse([]byte(`
trainer:
  n_gpus_per_node: 8
  logger: [console, wandb]
config-name: ppo_trainer
data:
  train_batch_size: 1024
append_kargs:
  reward_model.enable: true
config-path: /workspace/config
`))
	require.NoError(t, err)

	args, err := FlattenOverrides(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--config-path=/workspace/config",
		"--config-name=ppo_trainer",
		"trainer.n_gpus_per_node=8",
		"trainer.logger=[console,wandb]",
		"data.train_batch_size=1024",
		"+reward_model.enable=true",
	}, args)
}

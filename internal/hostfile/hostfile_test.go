package hostfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldland/worldland-launcher/internal/slots"
)

func TestParse_KeepsFileOrder(t *testing.T) {
	input := `# cluster
10.0.0.1 slots=8 type=A100

worker1 slots=4 type=A100
worker2 slots=16 type=MLU
`
	specs, err := Parse(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "10.0.0.1", specs[0].Address)
	assert.Equal(t, 8, *specs[0].Slots)
	assert.Equal(t, "A100", specs[0].Type)
	assert.Equal(t, "worker2", specs[2].Address)
	assert.Equal(t, "MLU", specs[2].Type)
}

func TestParse_WithoutTypes(t *testing.T) {
	specs, err := Parse(strings.NewReader("a slots=2\nb slots=2\n"))

	require.NoError(t, err)
	assert.Empty(t, specs[0].Type)
	assert.Empty(t, specs[1].Type)
}

func TestParse_DuplicateHost(t *testing.T) {
	_, err := Parse(strings.NewReader("a slots=2\na slots=4\n"))

	var cfgErr *slots.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, slots.ErrDuplicateNode)
}

func TestParse_ReportsEveryInvalidLine(t *testing.T) {
	_, err := Parse(strings.NewReader("a slots=2\nbogus\nb gpus=3\n"))

	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "line 3")
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader("# nothing\n\n"))

	assert.ErrorIs(t, err, ErrEmpty)
}

func TestParse_MixedTypes(t *testing.T) {
	_, err := Parse(strings.NewReader("a slots=2 type=A100\nb slots=2\n"))

	assert.ErrorIs(t, err, slots.ErrMixedResourceTypes)
}

func TestParseFile_MissingFileFallsBack(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	specs, err := ParseFile(filepath.Join(t.TempDir(), "absent"), logger)

	require.NoError(t, err)
	assert.Nil(t, specs)
	assert.Len(t, hook.Entries, 1)
}

func TestParseFile_FeedsAllocator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostfile")
	require.NoError(t, os.WriteFile(path, []byte("m slots=8 type=gpu\nw1 slots=8 type=gpu\n"), 0644))
	logger, _ := logtest.NewNullLogger()

	specs, err := ParseFile(path, logger)
	require.NoError(t, err)

	a, err := slots.New(specs)
	require.NoError(t, err)
	assert.Equal(t, "m", a.Master())
	assert.Equal(t, 16, a.TotalCapacity("gpu"))
}

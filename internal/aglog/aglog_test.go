package aglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/etdemand/internal/models"
)

func TestParse(t *testing.T) {
	want := []models.FlowRecord{
		{Package: "wel_0", EntityID: 0, Timestep: 1, QFromProvider: -12.5, QToReceiver: 12.5},
		{Package: "wel_0", EntityID: 1, Timestep: 1, QFromProvider: -3, QToReceiver: 3},
	}

	tests := []struct {
		name  string
		input string
	}{
		{
			name: "whitespace",
			input: `kper kstp pkg pid q_from_provider q_to_receiver
1 1 wel_0 0 -12.5 12.5
1 1 wel_0 1 -3.0 3.0
`,
		},
		{
			name: "comma with comments and blanks",
			input: `# coupling log
pkg, pid, kstp, q_from_provider, q_to_receiver

wel_0, 0, 1, -12.5, 12.5
wel_0, 1, 1.0, -3, 3
`,
		},
		{
			name:  "upper case header",
			input: "PKG PID KSTP Q_FROM_PROVIDER Q_TO_RECEIVER\nwel_0 0 1 -12.5 12.5\nwel_0 1 1 -3 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input))
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("records (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "no header"},
		{"missing column", "pkg pid kstp q_from_provider\n", `missing column "q_to_receiver"`},
		{"short row", "pkg pid kstp q_from_provider q_to_receiver\nwel_0 0 1 -1\n", "line 2: missing q_to_receiver"},
		{"bad number", "pkg pid kstp q_from_provider q_to_receiver\nwel_0 0 1 x 1\n", "q_from_provider"},
		{"fractional step", "pkg pid kstp q_from_provider q_to_receiver\nwel_0 0 1.5 -1 1\n", "not an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etdemand_well_ag.out")
	require.NoError(t, os.WriteFile(path, []byte("pkg pid kstp q_from_provider q_to_receiver\nwel_0 0 1 -1 1\n"), 0644))

	recs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing_ag.out"))
	assert.True(t, os.IsNotExist(err))
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkers(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "none"},
		{
			name:  "pairs",
			pairs: []string{"tenant_id=acme", " region = eu "},
			want:  map[string]string{"tenant_id": "acme", "region": "eu"},
		},
		{name: "missing value separator", pairs: []string{"tenant_id"}, wantErr: true},
		{name: "empty key", pairs: []string{"=acme"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMarkers(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ask", "index", "schema", "migrate"} {
		assert.True(t, names[want], want)
	}

	build, _, err := rootCmd.Find([]string{"index", "build"})
	require.NoError(t, err)
	assert.Equal(t, "build", build.Name())
}

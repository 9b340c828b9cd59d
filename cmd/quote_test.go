package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/panel-quote/internal/quote"
)

func newQuoteFlagsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "quote"}
	addQuoteFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestBuildRequest_FromFlags(t *testing.T) {
	c := newQuoteFlagsCmd(t,
		"--product", "RoofPanel", "--thickness", "100",
		"--length", "6", "--width", "3.36", "--span", "4.5",
		"--preset", "roof-standard", "--finish", "color=white", "--override",
	)

	req, err := buildRequest(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "RoofPanel", req.Family)
	assert.Equal(t, 100, req.ThicknessMM)
	assert.Equal(t, "3.36", req.CoveredWidth.String())
	assert.Equal(t, "4.5", req.RequestedSpan.String())
	assert.Equal(t, map[string]string{"color": "white"}, req.Finish)
	assert.True(t, req.SpanOverride)
}

func TestBuildRequest_FromFile(t *testing.T) {
	c := newQuoteFlagsCmd(t, "--request", filepath.Join("testdata", "request.json"))

	req, err := buildRequest(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "RoofPanel", req.Family)
	assert.Equal(t, "6", req.CoveredLength.String())
	assert.Equal(t, "roof-standard", req.Preset)
}

func TestBuildRequest_FlagsOverrideFile(t *testing.T) {
	c := newQuoteFlagsCmd(t,
		"--request", filepath.Join("testdata", "request.json"),
		"--thickness", "150", "--span", "7.0",
	)

	req, err := buildRequest(c, nil)
	require.NoError(t, err)
	assert.Equal(t, 150, req.ThicknessMM)
	assert.Equal(t, "7", req.RequestedSpan.String())
	assert.Equal(t, "6", req.CoveredLength.String())
}

func TestBuildRequest_Stdin(t *testing.T) {
	c := newQuoteFlagsCmd(t, "--request", "-")
	stdin := strings.NewReader(`{"product_id": "WallPanel", "thickness_mm": 50, "covered_length_m": "3",
		"covered_width_m": "2", "requested_span_m": "2", "bom_preset": "wall-standard"}`)

	req, err := buildRequest(c, stdin)
	require.NoError(t, err)
	assert.Equal(t, "WallPanel", req.Family)
	assert.Equal(t, 50, req.ThicknessMM)
}

func TestBuildRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad decimal", []string{"--product", "RoofPanel", "--length", "six"}, "--length"},
		{"missing file", []string{"--request", filepath.Join("testdata", "nope.json")}, "open request"},
		{"incomplete", []string{"--product", "RoofPanel"}, "thickness_mm must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRequest(newQuoteFlagsCmd(t, tt.args...), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildRequest_IncompleteIsInvalidRequest(t *testing.T) {
	_, err := buildRequest(newQuoteFlagsCmd(t, "--product", "RoofPanel"), nil)
	assert.ErrorIs(t, err, quote.ErrInvalidRequest)
}

func TestWriteJSON(t *testing.T) {
	var compact, pretty bytes.Buffer
	require.NoError(t, writeJSON(&compact, map[string]int{"a": 1}, false))
	require.NoError(t, writeJSON(&pretty, map[string]int{"a": 1}, true))

	assert.Equal(t, "{\"a\":1}\n", compact.String())
	assert.Equal(t, "{\n  \"a\": 1\n}\n", pretty.String())
}

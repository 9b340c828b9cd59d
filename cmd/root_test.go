package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"quote", "kb", "quotes", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "panel-quote", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestKBCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range kbCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["check"])
	assert.True(t, names["resolve"])
}

func TestQuotesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range quotesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}

func TestQuoteCommand_Flags(t *testing.T) {
	for _, name := range []string{"request", "product", "thickness", "length", "width", "span", "supports", "preset", "finish", "override", "save", "pretty"} {
		require.NotNil(t, quoteCmd.Flags().Lookup(name), "quote command should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("no-save"))
}

func TestQuotesListCommand_Flags(t *testing.T) {
	flag := quotesListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

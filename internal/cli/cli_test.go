package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
	require.Equal(t, DefaultHistoryLimit, parsed.Limit)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/stocklisten.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/stocklisten.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantErr   string
		wantCmd   Command
		wantHelp  bool
		wantPath  string
		wantLimit int
	}{
		{
			name:      "help short flag",
			args:      []string{"-h"},
			wantCmd:   CommandHelp,
			wantHelp:  true,
			wantLimit: DefaultHistoryLimit,
		},
		{
			name:      "help long flag",
			args:      []string{"--help"},
			wantCmd:   CommandHelp,
			wantHelp:  true,
			wantLimit: DefaultHistoryLimit,
		},
		{
			name:      "version flag",
			args:      []string{"--version"},
			wantCmd:   CommandVersion,
			wantHelp:  false,
			wantLimit: DefaultHistoryLimit,
		},
		{
			name:    "config after command",
			args:    []string{"status", "--config", "/tmp/cfg"},
			wantErr: "unexpected arguments after command",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "requires a path",
		},
		{
			name:    "missing limit",
			args:    []string{"--limit"},
			wantErr: "requires a number",
		},
		{
			name:    "non-numeric limit",
			args:    []string{"--limit", "many", "history"},
			wantErr: "positive integer",
		},
		{
			name:    "zero limit",
			args:    []string{"--limit", "0", "history"},
			wantErr: "positive integer",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"toggle"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after command",
			args:    []string{"doctor", "extra"},
			wantErr: "unexpected arguments",
		},
		{
			name:      "listen command",
			args:      []string{"listen"},
			wantCmd:   CommandListen,
			wantLimit: DefaultHistoryLimit,
		},
		{
			name:      "history with limit",
			args:      []string{"--limit", "3", "history"},
			wantCmd:   CommandHistory,
			wantLimit: 3,
		},
		{
			name:      "valid stop with config",
			args:      []string{"--config", "/tmp/cfg", "stop"},
			wantCmd:   CommandStop,
			wantPath:  "/tmp/cfg",
			wantLimit: DefaultHistoryLimit,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
			require.Equal(t, tc.wantLimit, parsed.Limit)
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("stocklisten")
	for _, cmd := range []string{"listen", "stop", "status", "devices", "doctor", "history"} {
		require.Contains(t, text, cmd)
	}
	require.Contains(t, text, "--config PATH")
	require.Contains(t, text, "--limit N")
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/envbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs commands through rootCmd with captured output and
// resets the package-level flag variables between tests.
type CommandTestSuite struct {
	suite.Suite

	Helper *testutils.TestHelper
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.resetFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	s.resetFlags()
}

func (s *CommandTestSuite) resetFlags() {
	configPath = ""
	runDryRun = false
	runNoPanel = false
	scanDuration = 10 * time.Second
	scanFormat = "table"
	scanServices = nil
	scanAllowList = nil
	scanBlockList = nil
	for _, name := range []string{"services", "allow", "block"} {
		if f := scanCmd.Flags().Lookup(name); f != nil {
			f.Changed = false
		}
	}
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
}

// WriteConfig stores yaml in a temp file and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "envbridge.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600), "config file MUST be written")
	return path
}

// ExecuteCommand runs rootCmd with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext runs rootCmd with args under ctx.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

// Command returns the subcommand registered under name.
func (s *CommandTestSuite) Command(name string) *cobra.Command {
	cmd, _, err := rootCmd.Find([]string{name})
	s.Require().NoError(err, "command %q MUST be registered", name)
	return cmd
}

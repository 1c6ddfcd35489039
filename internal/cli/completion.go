package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the completion command. Scripts are generated
// from the live command tree.
func NewCompletionCommand() *cobra.Command {
	var install bool

	cmd := &cobra.Command{
		Use:       "completion <bash|zsh|fish|powershell>",
		Short:     "Generate shell completion scripts",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var buf bytes.Buffer
			if err := generateCompletion(cmd.Root(), args[0], &buf); err != nil {
				return err
			}
			if !install {
				_, err := cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			path, err := installCompletion(args[0], buf.Bytes())
			if err != nil {
				return err
			}
			Success(cmd.OutOrStdout(), "completion script installed to "+path)
			if hint := completionHint(args[0]); hint != "" {
				fmt.Fprintln(cmd.OutOrStdout(), hint)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&install, "install", false, "write the script into the shell's completion directory")
	return cmd
}

func generateCompletion(root *cobra.Command, shell string, buf *bytes.Buffer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(buf, true)
	case "zsh":
		return root.GenZshCompletion(buf)
	case "fish":
		return root.GenFishCompletion(buf, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(buf)
	default:
		return fmt.Errorf("unsupported shell: %s", shell)
	}
}

func completionPath(home, shell string) (string, error) {
	switch shell {
	case "bash":
		return filepath.Join(home, ".bash_completion.d", "karmad"), nil
	case "zsh":
		return filepath.Join(home, ".zsh", "completion", "_karmad"), nil
	case "fish":
		return filepath.Join(home, ".config", "fish", "completions", "karmad.fish"), nil
	default:
		return "", fmt.Errorf("cannot install completion for %s", shell)
	}
}

func installCompletion(shell string, script []byte) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	path, err := completionPath(home, shell)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create completion directory: %w", err)
	}
	if err := os.WriteFile(path, script, 0o644); err != nil {
		return "", fmt.Errorf("write completion script: %w", err)
	}
	return path, nil
}

func completionHint(shell string) string {
	switch shell {
	case "bash":
		return "  source ~/.bash_completion.d/karmad"
	case "zsh":
		return "  fpath=(~/.zsh/completion $fpath)\n  autoload -Uz compinit && compinit"
	}
	return ""
}

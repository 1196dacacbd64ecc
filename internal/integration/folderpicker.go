package integration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TerminalFolderPicker asks for a folder on a terminal. It implements
// core.FolderPicker.
type TerminalFolderPicker struct {
	in  *bufio.Reader
	out io.Writer
	// Suggest, when set, is offered as the default answer.
	Suggest string
}

// NewTerminalFolderPicker creates a picker reading answers from in and
// writing prompts to out.
func NewTerminalFolderPicker(in io.Reader, out io.Writer) *TerminalFolderPicker {
	return &TerminalFolderPicker{in: bufio.NewReader(in), out: out}
}

type pickResult struct {
	folder string
	err    error
}

// PickFolder prompts until an existing directory is entered. An answer of
// "q" or end of input cancels and yields an empty folder.
func (p *TerminalFolderPicker) PickFolder(ctx context.Context) (string, error) {
	done := make(chan pickResult, 1)
	go func() {
		folder, err := p.prompt()
		done <- pickResult{folder: folder, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.folder, r.err
	}
}

func (p *TerminalFolderPicker) prompt() (string, error) {
	for {
		if p.Suggest != "" {
			fmt.Fprintf(p.out, "Folder containing the requirement documents [%s] (q to cancel): ", p.Suggest)
		} else {
			fmt.Fprint(p.out, "Folder containing the requirement documents (q to cancel): ")
		}

		line, err := p.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading folder: %w", err)
		}
		answer := strings.TrimSpace(line)
		if errors.Is(err, io.EOF) && answer == "" {
			fmt.Fprintln(p.out)
			return "", nil
		}

		switch {
		case answer == "q" || answer == "quit":
			return "", nil
		case answer == "" && p.Suggest != "":
			answer = p.Suggest
		case answer == "":
			continue
		}

		abs, absErr := filepath.Abs(expandHome(answer))
		if absErr != nil {
			fmt.Fprintf(p.out, "  invalid path: %v\n", absErr)
			continue
		}
		info, statErr := os.Stat(abs)
		if statErr != nil || !info.IsDir() {
			fmt.Fprintf(p.out, "  %s is not a directory\n", abs)
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			continue
		}
		return abs, nil
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragpp/ragpp/internal/logging"
)

// newLogsCmd prints or follows the rotating log file logging.Setup writes
// for the serve command.
func newLogsCmd() *cobra.Command {
	var logFile string
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the ragppd server log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := logging.FindLogFile(logFile)
			if err != nil {
				return withExitCode(ExitGeneric, err)
			}
			return runLogs(cmd.OutOrStdout(), path, lines, follow)
		},
	}

	cmd.Flags().StringVar(&logFile, "file", "", "log file to read ('' uses the default server log path)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading as the file grows, like tail -f")
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of trailing lines to print before following")

	return cmd
}

func runLogs(out io.Writer, path string, lines int, follow bool) error {
	tail, err := readTail(path, lines)
	if err != nil {
		return withExitCode(ExitGeneric, fmt.Errorf("read %s: %w", path, err))
	}
	for _, line := range tail {
		fmt.Fprintln(out, line)
	}
	if !follow {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return withExitCode(ExitGeneric, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return withExitCode(ExitGeneric, err)
	}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Fprint(out, line)
		}
		if err != nil {
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// readTail returns the last n lines of the file at path without loading
// the whole file for large logs: it reads in fixed-size chunks from the
// end until n newlines are found or the file start is reached.
func readTail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	const chunkSize = 8192
	var (
		size      = info.Size()
		offset    = size
		newlines  = 0
		collected []byte
	)
	buf := make([]byte, chunkSize)
	for offset > 0 && newlines <= n {
		readSize := int64(chunkSize)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize
		if _, err := f.ReadAt(buf[:readSize], offset); err != nil && err != io.EOF {
			return nil, err
		}
		for _, b := range buf[:readSize] {
			if b == '\n' {
				newlines++
			}
		}
		collected = append(buf[:readSize:readSize], collected...)
	}

	lines := splitLines(string(collected))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

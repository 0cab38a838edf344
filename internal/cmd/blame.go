package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/timxx/qgitc-sub000/internal/textcodec"
	"github.com/timxx/qgitc-sub000/internal/util"
)

var blameCmd = &cobra.Command{
	Use:   "blame <file>",
	Short: "Show which commit last changed each line of a file",
	Long: `Show the commit, author and date that last changed each line of <file>.
Files inside submodules are blamed in their own repository.

Examples:
  qgitc blame src/main.c
  qgitc blame src/main.c --rev v1.2 --line 120`,
	Args: exactArgs(1),
	RunE: runBlame,
}

var (
	blameRev     string
	blameLine    int
	blameContext int
)

var blameCurrentStyle = lipgloss.NewStyle().Reverse(true)

func init() {
	rootCmd.AddCommand(blameCmd)

	blameCmd.Flags().StringVar(&blameRev, "rev", "", "Blame the file as of this revision")
	blameCmd.Flags().IntVarP(&blameLine, "line", "L", 0, "Highlight this line and show only the lines around it")
	blameCmd.Flags().IntVar(&blameContext, "context", 10, "Lines shown around --line")
}

// blameLineInfo is one line of blame output.
type blameLineInfo struct {
	SHA1    string
	Author  string
	When    time.Time
	Summary string
	Line    int
	Text    string
}

// blameCommitInfo holds the per-commit headers, which git prints only the
// first time a commit appears.
type blameCommitInfo struct {
	author  string
	when    time.Time
	summary string
}

// parseBlame parses `git blame --porcelain` output.
func parseBlame(data []byte, codec *textcodec.Codec) ([]blameLineInfo, error) {
	var (
		lines   []blameLineInfo
		commits = make(map[string]*blameCommitInfo)
		cur     *blameCommitInfo
		entry   blameLineInfo
		inEntry bool
	)
	decode := func(b []byte) string {
		if codec == nil {
			return string(b)
		}
		return codec.String(b)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) > 0 && raw[0] == '\t' {
			if !inEntry {
				return nil, fmt.Errorf("blame: content line without header")
			}
			entry.Text = decode(raw[1:])
			entry.Author, entry.When, entry.Summary = cur.author, cur.when, cur.summary
			lines = append(lines, entry)
			inEntry = false
			continue
		}
		line := string(raw)
		if !inEntry {
			fields := strings.Fields(line)
			if len(fields) < 3 || len(fields[0]) != 40 {
				return nil, fmt.Errorf("blame: malformed header %q", line)
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("blame: malformed line number %q", fields[2])
			}
			entry = blameLineInfo{SHA1: fields[0], Line: n}
			cur = commits[entry.SHA1]
			if cur == nil {
				cur = &blameCommitInfo{}
				commits[entry.SHA1] = cur
			}
			inEntry = true
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "author":
			cur.author = decode([]byte(value))
		case "author-time":
			if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.when = time.Unix(secs, 0)
			}
		case "summary":
			cur.summary = decode([]byte(value))
		}
	}
	return lines, scanner.Err()
}

// blameArgs builds the git blame command line.
func blameArgs(rev, path string) []string {
	args := []string{"blame", "--porcelain"}
	if rev != "" {
		args = append(args, rev)
	}
	return append(args, "--", path)
}

// ownerRepo returns the deepest repository of repos containing rel, and
// rel relative to it.
func ownerRepo(repos []string, rel string) (repoDir, inRepo string) {
	repoDir, inRepo = ".", rel
	best := -1
	for _, r := range repos {
		if r == "." {
			continue
		}
		if strings.HasPrefix(rel, r+"/") && len(r) > best {
			repoDir, inRepo, best = r, strings.TrimPrefix(rel, r+"/"), len(r)
		}
	}
	return repoDir, inRepo
}

func runBlame(cmd *cobra.Command, args []string) error {
	if blameLine < 0 {
		return invalidArgs("--line must be positive")
	}
	ws, err := openWorkspace(workspaceOptions{})
	if err != nil {
		return err
	}
	defer ws.Close()

	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if repoPath != "" && !filepath.IsAbs(args[0]) {
		abs = filepath.Join(repoPath, args[0])
	}
	if _, err := os.Stat(abs); err != nil && blameRev == "" {
		return invalidArgs("no such file %q", args[0])
	}
	repoDir, path := ownerRepo(ws.repos, ws.repo.Rel(abs))

	data, err := ws.git.Output(cmd.Context(), ws.dir(repoDir), blameArgs(blameRev, path)...)
	if err != nil {
		return err
	}
	lines, err := parseBlame(data, ws.codec)
	if err != nil {
		ws.logger.Warn("failed to parse blame output", "path", path, "error", err.Error())
		return err
	}
	if blameLine > len(lines) {
		return invalidArgs("--line %d is past the end of %s (%d lines)", blameLine, args[0], len(lines))
	}
	writeBlame(cmd.OutOrStdout(), lines, blameLine, blameContext, terminalWidth(cmd.OutOrStdout()))
	return nil
}

// writeBlame prints lines; with a target line only its surroundings are
// printed and the target is highlighted.
func writeBlame(w io.Writer, lines []blameLineInfo, target, context, width int) {
	from, to := 0, len(lines)
	if target > 0 {
		from = max(target-1-context, 0)
		to = min(target+context, len(lines))
	}
	digits := len(strconv.Itoa(len(lines)))
	for _, l := range lines[from:to] {
		date := ""
		if !l.When.IsZero() {
			date = l.When.Format("2006-01-02")
		}
		row := fmt.Sprintf("%s %-14s %10s %*d  %s",
			l.SHA1[:8], util.TruncateString(l.Author, 14), date, digits, l.Line, l.Text)
		if width > 0 {
			row = util.TruncateString(row, width)
		}
		if l.Line == target {
			row = blameCurrentStyle.Render(row)
		} else if len(row) >= 8 {
			row = logSHAStyle.Render(row[:8]) + row[8:]
		}
		fmt.Fprintln(w, row)
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/timxx/qgitc-sub000/internal/conflict"
	"github.com/timxx/qgitc-sub000/internal/errors"
)

// interactive reports whether prompts can be shown.
func interactive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

// promptError maps an aborted form to a silent cancellation.
func promptError(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.ErrCanceled
	}
	return err
}

// promptCommitMessage asks for a commit message. Lines starting with '#'
// are dropped later when commit.ignore_comment_lines is set.
func promptCommitMessage(repos []string, initial string) (string, error) {
	msg := initial
	err := huh.NewText().
		Title("Commit message").
		Description(fmt.Sprintf("Committing staged changes in %s", strings.Join(repos, ", "))).
		CharLimit(0).
		Lines(8).
		Value(&msg).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.ErrEmptyMessage
			}
			return nil
		}).
		Run()
	if err != nil {
		return "", promptError(err)
	}
	return msg, nil
}

// confirm asks a yes/no question.
func confirm(title, description string) (bool, error) {
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, promptError(err)
	}
	return ok, nil
}

// choiceLabels describes the answers git mergetool accepts.
var choiceLabels = map[conflict.Choice]string{
	conflict.ChoiceKeep:   "Keep the modified file",
	conflict.ChoiceDelete: "Delete the file",
	conflict.ChoiceLocal:  "Use the local version",
	conflict.ChoiceRemote: "Use the remote version",
	conflict.ChoiceAbort:  "Abort",
}

// huhPrompter answers mergetool's questions with a select form.
func huhPrompter() conflict.Prompter {
	return conflict.PrompterFunc(func(ctx context.Context, p conflict.Prompt) (conflict.Choice, error) {
		if !interactive() {
			return conflict.ChoiceAbort, nil
		}
		options := make([]huh.Option[conflict.Choice], 0, len(p.Choices))
		for _, c := range p.Choices {
			label, ok := choiceLabels[c]
			if !ok {
				label = string(c)
			}
			options = append(options, huh.NewOption(label, c))
		}
		var choice conflict.Choice
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[conflict.Choice]().
				Title(p.Path).
				Description(strings.TrimSpace(p.Text)).
				Options(options...).
				Value(&choice),
		)).RunWithContext(ctx)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return conflict.ChoiceAbort, nil
			}
			return "", err
		}
		return choice, nil
	})
}

// resolutionChoice is what to do with one conflicted file.
type resolutionChoice string

const (
	resolveMergeTool resolutionChoice = "mergetool"
	resolveOurs      resolutionChoice = "ours"
	resolveTheirs    resolutionChoice = "theirs"
	resolveSkip      resolutionChoice = "skip"
	resolveAbort     resolutionChoice = "abort"
)

// promptResolution asks how to resolve path.
func promptResolution(repoDir, path, excerpt string) (resolutionChoice, error) {
	var choice resolutionChoice
	title := path
	if repoDir != "." && repoDir != "" {
		title = repoDir + ": " + path
	}
	err := huh.NewSelect[resolutionChoice]().
		Title(title).
		Description(excerpt).
		Options(
			huh.NewOption("Open the merge tool", resolveMergeTool),
			huh.NewOption("Take our side", resolveOurs),
			huh.NewOption("Take their side", resolveTheirs),
			huh.NewOption("Skip for now", resolveSkip),
			huh.NewOption("Abort", resolveAbort),
		).
		Value(&choice).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return resolveAbort, nil
		}
		return "", err
	}
	return choice, nil
}

package commitflow

import (
	"strings"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

// FilterMessage prepares a commit message. With ignoreComments, lines
// starting with '#' are dropped. Trailing newlines are removed. A message
// that is blank afterwards fails with ErrEmptyMessage.
func FilterMessage(msg string, ignoreComments bool) (string, error) {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	if ignoreComments {
		lines := strings.Split(msg, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if !strings.HasPrefix(line, "#") {
				kept = append(kept, line)
			}
		}
		msg = strings.Join(kept, "\n")
	}
	msg = strings.TrimRight(msg, "\n")
	if strings.TrimSpace(msg) == "" {
		return "", errors.Join(errors.ErrEmptyMessage,
			errors.NewValidationError("commit message is empty").WithField("message"))
	}
	return msg, nil
}

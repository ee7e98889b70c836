package postexec

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PromptApprover asks for production approval on a terminal. Only an explicit
// "y"/"yes" approves; empty input, anything else, or a closed stream declines.
type PromptApprover struct {
	In  io.Reader
	Out io.Writer
}

func (a *PromptApprover) ApproveProduction(stagingURL string) (bool, error) {
	if stagingURL != "" {
		fmt.Fprintf(a.Out, "Staging deploy: %s\n", stagingURL)
	}
	fmt.Fprint(a.Out, "Deploy to production? [y/N]: ")

	line, err := bufio.NewReader(a.In).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	if err != nil && answer == "" {
		return false, err
	}
	return answer == "y" || answer == "yes", nil
}

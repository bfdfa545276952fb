package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxBranchLen = 200

// Branch names reach git as argv elements, never through a shell, but
// the submission boundary still restricts them to a safe identifier
// set: a leading alphanumeric rules out option-looking names.
var branchPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

func ValidateBranch(branch string) error {
	if branch == "" {
		return errors.New("branch must not be empty")
	}
	if len(branch) > maxBranchLen {
		return fmt.Errorf("branch name exceeds %d characters", maxBranchLen)
	}
	if strings.Contains(branch, "..") {
		return errors.New(`branch must not contain ".."`)
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch %q contains unsupported characters", branch)
	}
	return nil
}

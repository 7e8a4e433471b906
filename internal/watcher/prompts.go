package watcher

import (
	"regexp"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/pkg/task"
)

const (
	sudoPasswordPattern    = `\[sudo\] password for `
	genericPasswordPattern = `password: `
	unknownHostKeyPattern  = `Are you sure you want to continue connecting \(yes/no\)\? `

	genericPasswordSentinel = `Permission denied`
	unknownHostKeySentinel  = `Host key verification failed.\n`
)

// SudoPassword answers a sudo password prompt with password.
// Key based connections have no password to give, which is a configuration error.
func SudoPassword(password string) (*FailingResponder, error) {
	if password == "" {
		return nil, task.Configf("sudo password responder requires a connection with a password")
	}
	return mustFailing(sudoPasswordPattern, password+"\n", constants.SudoSentinel), nil
}

// GenericPassword answers a generic "password: " prompt, as printed by nested ssh, scp or rsync.
func GenericPassword(password string) (*FailingResponder, error) {
	if password == "" {
		return nil, task.Configf("generic password responder requires a connection with a password")
	}
	return mustFailing(genericPasswordPattern, password+"\n", genericPasswordSentinel), nil
}

// UnknownHostKey confirms the authenticity prompt for an unknown host key.
func UnknownHostKey() *FailingResponder {
	return mustFailing(unknownHostKeyPattern, "yes\n", unknownHostKeySentinel)
}

// SudoPrompt answers the fixed prompt used when a command is run through sudo by the executor.
func SudoPrompt(password string) *FailingResponder {
	return mustFailing(regexp.QuoteMeta(constants.SudoPrompt), password+"\n", constants.SudoSentinel)
}

func mustFailing(pattern, response, sentinel string) *FailingResponder {
	f, err := NewFailingResponder(pattern, response, sentinel)
	if err != nil {
		panic(err)
	}
	return f
}

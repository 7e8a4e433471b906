// Package watcher implements stream watchers that answer interactive prompts
// in remote command output.
package watcher

import (
	"fmt"
	"regexp"
)

// Watcher inspects the accumulated output of one stream and returns the
// replies to write to the command's stdin.
type Watcher interface {
	Submit(stream string) ([]string, error)
}

// Responder replies to every new match of a pattern.
// A Responder is stateful and must not be shared between commands or streams.
type Responder struct {
	source   string
	pattern  *regexp.Regexp
	response string
	index    int
}

// NewResponder compiles pattern and returns a Responder that replies with response.
func NewResponder(pattern, response string) (*Responder, error) {
	re, err := compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid responder pattern %q: %w", pattern, err)
	}
	return &Responder{source: pattern, pattern: re, response: response}, nil
}

// Pattern returns the source of the prompt pattern.
func (r *Responder) Pattern() string { return r.source }

// Response returns the reply text.
func (r *Responder) Response() string { return r.response }

// Submit searches only the part of stream not seen by a previous call.
func (r *Responder) Submit(stream string) ([]string, error) {
	matches := matchNew(r.pattern, stream, &r.index)
	out := make([]string, 0, matches)
	for i := 0; i < matches; i++ {
		out = append(out, r.response)
	}
	return out, nil
}

// compile enables dot-matches-newline.
func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?s)" + pattern)
}

// matchNew counts matches of re in stream[*index:] and advances index to the end of stream.
func matchNew(re *regexp.Regexp, stream string, index *int) int {
	if *index > len(stream) {
		*index = 0
	}
	tail := stream[*index:]
	found := re.FindAllStringIndex(tail, -1)
	if len(found) > 0 {
		*index += len(tail)
	}
	return len(found)
}

// FailingResponder is a Responder that fails once its sentinel shows up after a reply was sent,
// e.g. a rejected password.
type FailingResponder struct {
	Responder
	sentinelSrc  string
	sentinel     *regexp.Regexp
	failureIndex int
	tried        bool
}

// NewFailingResponder builds a FailingResponder; sentinel is a regular expression.
func NewFailingResponder(pattern, response, sentinel string) (*FailingResponder, error) {
	r, err := NewResponder(pattern, response)
	if err != nil {
		return nil, err
	}
	s, err := compile(sentinel)
	if err != nil {
		return nil, fmt.Errorf("invalid responder sentinel %q: %w", sentinel, err)
	}
	return &FailingResponder{Responder: *r, sentinelSrc: sentinel, sentinel: s}, nil
}

// Sentinel returns the source of the failure sentinel pattern.
func (f *FailingResponder) Sentinel() string { return f.sentinelSrc }

func (f *FailingResponder) Submit(stream string) ([]string, error) {
	replies, _ := f.Responder.Submit(stream)
	failed := matchNew(f.sentinel, stream, &f.failureIndex) > 0
	if f.tried && failed {
		return nil, &ResponseNotAcceptedError{Pattern: f.Pattern(), Sentinel: f.Sentinel()}
	}
	if len(replies) > 0 {
		f.tried = true
	}
	return replies, nil
}

// ResponseNotAcceptedError reports that the remote side rejected an automatic reply.
type ResponseNotAcceptedError struct {
	Pattern  string
	Sentinel string
}

func (e *ResponseNotAcceptedError) Error() string {
	return fmt.Sprintf("auto-response to %q failed with %q", e.Pattern, e.Sentinel)
}

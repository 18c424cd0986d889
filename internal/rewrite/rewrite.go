// Package rewrite implements the one-shot HTTP head rewrites applied to the first
// bytes of a relayed stream.
//
// Rewriters are pure: they never keep state between calls and never touch bytes
// outside the span they replace. Traffic that does not look like an HTTP/1.x head
// is returned verbatim.
package rewrite

import (
	"bytes"
	"regexp"
)

var (
	crlf     = []byte("\r\n")
	crlfCRLF = []byte("\r\n\r\n")
)

// Result describes one rewrite attempt.
type Result struct {
	Rule string
	Data []byte
	From string
	To   string
}

// Rewriter transforms the head of a stream.
type Rewriter interface {
	// Name labels the rewrite in logs and metrics.
	Name() string
	// Pending reports whether head is a viable prefix of a match that still
	// needs more bytes before Rewrite can decide.
	Pending(head []byte) bool
	// Rewrite returns the rewritten head and whether the rewrite fired.
	// When it did not fire, Result.Data is head unchanged.
	Rewrite(head []byte) (Result, bool)
}

// Rule holds the rewrite settings of a running tunnel.
type Rule struct {
	ReplaceHostname string
	DowngradeHTTP   bool
}

// Request returns the rewriter for client to upstream traffic, or nil when
// Host replacement is disabled.
func (r Rule) Request() Rewriter {
	if r.ReplaceHostname == "" {
		return nil
	}
	return &HostRewriter{Hostname: r.ReplaceHostname}
}

// Response returns the rewriter for upstream to client traffic, or nil when
// the version downgrade is disabled.
func (r Rule) Response() Rewriter {
	if !r.DowngradeHTTP {
		return nil
	}
	return VersionDowngrader{}
}

// hostHeadPattern matches a complete HTTP/1.x request head carrying a Host header.
// Group 1 is the raw header value including any leading whitespace.
var hostHeadPattern = regexp.MustCompile(
	`\A[A-Z]+ [^\r\n]* HTTP/1\.[0-9]\r\n(?:[^\r\n]+\r\n)*?(?i:host):([^\r\n]*)\r\n(?:[^\r\n]+\r\n)*\r\n`)

// requestLinePattern matches a complete HTTP/1.x request line.
var requestLinePattern = regexp.MustCompile(`\A[A-Z]+ [^\r\n]* HTTP/1\.[0-9]\r\n`)

// maxMethodLen bounds the request method token while a head is being assembled.
const maxMethodLen = 16

// HostRewriter replaces the Host header value of a request head.
type HostRewriter struct {
	Hostname string
}

func (h *HostRewriter) Name() string { return "host" }

func (h *HostRewriter) Pending(head []byte) bool {
	if !methodPrefix(head) {
		return false
	}
	// A complete first line that is not a request line ends assembly.
	if bytes.Contains(head, crlf) && !requestLinePattern.Match(head) {
		return false
	}
	return !bytes.Contains(head, crlfCRLF)
}

func (h *HostRewriter) Rewrite(head []byte) (Result, bool) {
	m := hostHeadPattern.FindSubmatchIndex(head)
	if m == nil {
		return Result{Rule: h.Name(), Data: head}, false
	}
	start, end := m[2], m[3]

	out := make([]byte, 0, len(head)-(end-start)+1+len(h.Hostname))
	out = append(out, head[:start]...)
	out = append(out, ' ')
	out = append(out, h.Hostname...)
	out = append(out, head[end:]...)

	return Result{
		Rule: h.Name(),
		Data: out,
		From: string(bytes.TrimSpace(head[start:end])),
		To:   h.Hostname,
	}, true
}

// methodPrefix reports whether head can still begin with "<METHOD> ".
func methodPrefix(head []byte) bool {
	for i, c := range head {
		if c == ' ' {
			return i > 0
		}
		if c < 'A' || c > 'Z' || i >= maxMethodLen {
			return false
		}
	}
	return true
}

// statusLinePattern matches the start of an HTTP status line. Group 1 is the version.
var statusLinePattern = regexp.MustCompile(`\AHTTP/([0-9]+(?:\.[0-9]+)?) [0-9]{3}`)

var httpPrefix = []byte("HTTP/")

const downgradedVersion = "1.0"

// VersionDowngrader rewrites the version of a response status line to 1.0.
type VersionDowngrader struct{}

func (VersionDowngrader) Name() string { return "downgrade" }

func (VersionDowngrader) Pending(head []byte) bool {
	n := min(len(head), len(httpPrefix))
	if !bytes.Equal(head[:n], httpPrefix[:n]) {
		return false
	}
	return !bytes.Contains(head, crlf)
}

func (d VersionDowngrader) Rewrite(head []byte) (Result, bool) {
	m := statusLinePattern.FindSubmatchIndex(head)
	if m == nil {
		return Result{Rule: d.Name(), Data: head}, false
	}
	start, end := m[2], m[3]

	out := make([]byte, 0, len(head)-(end-start)+len(downgradedVersion))
	out = append(out, head[:start]...)
	out = append(out, downgradedVersion...)
	out = append(out, head[end:]...)

	return Result{
		Rule: d.Name(),
		Data: out,
		From: string(head[start:end]),
		To:   downgradedVersion,
	}, true
}

// Package protocol defines the catalog command grammar and reply framing.
// Server and client share it so a command is validated identically on both
// ends of the connection.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Verb string

const (
	FindByName       Verb = "find-by-name"
	FindBySize       Verb = "find-by-size"
	FindByDateBefore Verb = "find-by-date-before"
	FindByDateAfter  Verb = "find-by-date-after"
	FindByExtension  Verb = "find-by-extension"
	ListDirs         Verb = "list-dirs"
	Quit             Verb = "quit"
)

// aliases maps the short w24 command names onto canonical verbs.
var aliases = map[string]Verb{
	"w24fn":   FindByName,
	"w24fz":   FindBySize,
	"w24fdb":  FindByDateBefore,
	"w24fda":  FindByDateAfter,
	"w24ft":   FindByExtension,
	"dirlist": ListDirs,
	"quitc":   Quit,
}

var usage = map[Verb]string{
	FindByName:       "find-by-name filename",
	FindBySize:       "find-by-size min max [-u]",
	FindByDateBefore: "find-by-date-before YYYY-MM-DD [-u]",
	FindByDateAfter:  "find-by-date-after YYYY-MM-DD [-u]",
	FindByExtension:  "find-by-extension ext1 [ext2 [ext3]] [-u]",
	ListDirs:         "list-dirs -a|-t",
	Quit:             "quit",
}

// Verbs lists every canonical verb in presentation order.
var Verbs = []Verb{FindByName, FindBySize, FindByDateBefore, FindByDateAfter, FindByExtension, ListDirs, Quit}

// Usage returns the usage line for v.
func Usage(v Verb) string {
	return "Usage: " + usage[v]
}

// ExpectsArtifact reports whether a successful reply to v carries an archive.
func (v Verb) ExpectsArtifact() bool {
	switch v {
	case FindBySize, FindByDateBefore, FindByDateAfter, FindByExtension:
		return true
	}
	return false
}

const (
	// UnpackFlag is the trailing client-side flag asking for the received
	// archive to be extracted. The server accepts and ignores it.
	UnpackFlag = "-u"

	DateLayout    = "2006-01-02"
	MaxExtensions = 3
)

type DirOrder int

const (
	ByName DirOrder = iota
	ByCreation
)

func (o DirOrder) String() string {
	if o == ByCreation {
		return "creation"
	}
	return "name"
}

// Request is one parsed and validated command line.
type Request struct {
	Verb Verb
	Args []string

	// Unpack is set when the command carried UnpackFlag.
	Unpack bool

	Name       string
	MinSize    int64
	MaxSize    int64
	Date       time.Time
	Extensions []string
	Order      DirOrder
}

// ExpectsArtifact reports whether a successful reply carries an archive.
func (r *Request) ExpectsArtifact() bool {
	return r.Verb.ExpectsArtifact()
}

func (r *Request) String() string {
	return strings.TrimSpace(string(r.Verb) + " " + strings.Join(r.Args, " "))
}

// UsageError is a protocol error: unknown verb or malformed arguments. The
// connection stays usable after one.
type UsageError struct {
	Verb Verb
	Msg  string
}

func (e *UsageError) Error() string {
	if e.Verb == "" {
		return e.Msg
	}
	if e.Msg == "" {
		return Usage(e.Verb)
	}
	return e.Msg + "\n" + Usage(e.Verb)
}

// ErrEmptyLine is returned by Parse for a blank line.
var ErrEmptyLine = &UsageError{Msg: "empty command"}

// Parse splits a command line into a Request, checking arity before any
// argument is looked at.
func Parse(line string) (*Request, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, ErrEmptyLine
	}

	verb, ok := lookupVerb(tokens[0])
	if !ok {
		return nil, &UsageError{Msg: fmt.Sprintf("unknown command %q, expected one of: %s", tokens[0], verbList())}
	}
	req := &Request{Verb: verb, Args: tokens[1:]}

	args := req.Args
	if verb.ExpectsArtifact() && len(args) > 0 && args[len(args)-1] == UnpackFlag {
		req.Unpack = true
		args = args[:len(args)-1]
	}

	switch verb {
	case FindByName:
		if len(args) != 1 {
			return nil, &UsageError{Verb: verb}
		}
		if strings.ContainsRune(args[0], '/') {
			return nil, &UsageError{Verb: verb, Msg: "filename must not contain a path separator"}
		}
		req.Name = args[0]

	case FindBySize:
		if len(args) != 2 {
			return nil, &UsageError{Verb: verb}
		}
		lo, err := parseSize(args[0])
		if err != nil {
			return nil, &UsageError{Verb: verb, Msg: err.Error()}
		}
		hi, err := parseSize(args[1])
		if err != nil {
			return nil, &UsageError{Verb: verb, Msg: err.Error()}
		}
		if lo > hi {
			return nil, &UsageError{Verb: verb, Msg: fmt.Sprintf("invalid size range: %d > %d", lo, hi)}
		}
		req.MinSize, req.MaxSize = lo, hi

	case FindByDateBefore, FindByDateAfter:
		if len(args) != 1 {
			return nil, &UsageError{Verb: verb}
		}
		d, err := ParseDate(args[0])
		if err != nil {
			return nil, &UsageError{Verb: verb, Msg: err.Error()}
		}
		req.Date = d

	case FindByExtension:
		if len(args) < 1 || len(args) > MaxExtensions {
			return nil, &UsageError{Verb: verb}
		}
		req.Extensions = append([]string(nil), args...)

	case ListDirs:
		if len(args) != 1 {
			return nil, &UsageError{Verb: verb}
		}
		switch args[0] {
		case "-a":
			req.Order = ByName
		case "-t":
			req.Order = ByCreation
		default:
			return nil, &UsageError{Verb: verb, Msg: fmt.Sprintf("unknown flag %q", args[0])}
		}

	case Quit:
		if len(args) != 0 {
			return nil, &UsageError{Verb: verb}
		}
	}
	return req, nil
}

// ParseDate reads a YYYY-MM-DD date as local midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

func parseSize(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("size must not be negative: %d", n)
	}
	return n, nil
}

func lookupVerb(tok string) (Verb, bool) {
	if v, ok := aliases[tok]; ok {
		return v, true
	}
	v := Verb(tok)
	_, ok := usage[v]
	return v, ok
}

func verbList() string {
	names := make([]string, len(Verbs))
	for i, v := range Verbs {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

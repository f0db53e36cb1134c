package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command is a parsed slash command.
type Command struct {
	Name string
	// Args are the whitespace-separated arguments with flags removed.
	Args []string
	// Rest is the argument text with flags removed, spacing preserved.
	Rest    string
	Flags   map[string]string
	RawText string
}

// ErrNotACommand is returned by Parse when the text does not start with the
// command prefix.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrUnknownCommand is returned by Route for unregistered names.
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler executes a command for msg.
type CommandHandler func(ctx context.Context, cmd *Command, msg Message) (string, error)

type route struct {
	handler CommandHandler
	flags   map[string]bool
}

// CommandRouter routes commands to handlers.
type CommandRouter struct {
	routes map[string]route
	prefix string
}

// NewCommandRouter creates a router for commands starting with prefix.
func NewCommandRouter(prefix string) *CommandRouter {
	return &CommandRouter{
		routes: make(map[string]route),
		prefix: prefix,
	}
}

// Register registers a command handler. flags lists the "--name" options
// the command accepts; any other "--word" stays part of the argument text.
func (r *CommandRouter) Register(name string, handler CommandHandler, flags ...string) {
	declared := make(map[string]bool, len(flags))
	for _, f := range flags {
		declared[strings.ToLower(f)] = true
	}
	r.routes[strings.ToLower(name)] = route{handler: handler, flags: declared}
}

// Parse parses text into a command. Telegram's "/cmd@BotName" form is
// accepted. Declared flags ("--name" or "--name=value") are recognised only
// at the start or end of the argument text, so user content such as
// "run with --dry-run first" is kept verbatim.
func (r *CommandRouter) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	text = strings.TrimPrefix(text, r.prefix)
	name, rest, _ := strings.Cut(text, " ")
	if nl := strings.IndexByte(name, '\n'); nl >= 0 {
		name, rest = name[:nl], name[nl+1:]+" "+rest
	}
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}

	cmd := &Command{
		Name:    name,
		Args:    []string{},
		Flags:   make(map[string]string),
		RawText: text,
	}

	declared := r.routes[name].flags
	parts := strings.Split(rest, " ")
	for len(parts) > 0 && (parts[0] == "" || cmd.takeFlag(parts[0], declared)) {
		parts = parts[1:]
	}
	for len(parts) > 0 && (parts[len(parts)-1] == "" || cmd.takeFlag(parts[len(parts)-1], declared)) {
		parts = parts[:len(parts)-1]
	}
	cmd.Rest = strings.TrimSpace(strings.Join(parts, " "))
	cmd.Args = append(cmd.Args, strings.Fields(cmd.Rest)...)
	return cmd, nil
}

// takeFlag records part when it is a declared flag.
func (c *Command) takeFlag(part string, declared map[string]bool) bool {
	if !strings.HasPrefix(part, "--") || len(part) <= 2 {
		return false
	}
	flag, value, ok := strings.Cut(part[2:], "=")
	flag = strings.ToLower(flag)
	if !declared[flag] {
		return false
	}
	if !ok {
		value = "true"
	}
	c.Flags[flag] = value
	return true
}

// Route parses text and runs the matching handler.
func (r *CommandRouter) Route(ctx context.Context, text string, msg Message) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}
	rt, ok := r.routes[cmd.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	return rt.handler(ctx, cmd, msg)
}

// GetFlag returns a flag value with a default.
func (c *Command) GetFlag(name, defaultValue string) string {
	if val, ok := c.Flags[name]; ok {
		return val
	}
	return defaultValue
}

// HasFlag checks if a flag is present.
func (c *Command) HasFlag(name string) bool {
	_, ok := c.Flags[name]
	return ok
}

// KeyValue splits Rest on the first "=" into trimmed key and value.
func (c *Command) KeyValue() (key, value string, ok bool) {
	key, value, ok = strings.Cut(c.Rest, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	return key, value, ok && key != "" && value != ""
}

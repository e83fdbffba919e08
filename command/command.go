// Package command implements editor commands on top of the model package:
// a small registry (Editor) and the block-type commands that turn
// paragraphs into headings and back.
package command

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-block-editor/model"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrCommandDisabled = errors.New("command disabled")
)

// ExecuteOptions are passed to Command.Execute.
type ExecuteOptions struct {
	// Batch, when set, receives the command's operations instead of a new
	// batch. Use it to merge several commands into one undo step.
	Batch *model.Batch
}

// Command is an action with state derived from the model.
type Command interface {
	// Refresh recomputes Value and IsEnabled from the current model.
	Refresh()
	Value() any
	IsEnabled() bool
	// Execute runs the command. It does not check IsEnabled; Editor.Execute
	// does.
	Execute(opts ExecuteOptions) error
}

// Editor ties a model, its undo history and a set of named commands
// together. Commands are refreshed after every model change.
type Editor struct {
	Model *model.Model
	Undo  *model.UndoManager

	commands map[string]Command
	log      *logrus.Entry
}

// NewEditor wraps m and registers the undo and redo commands.
func NewEditor(m *model.Model, log *logrus.Entry) *Editor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Editor{
		Model:    m,
		Undo:     model.NewUndoManager(m),
		commands: make(map[string]Command),
		log:      log.WithField("component", "editor"),
	}
	m.OnChange(func(*model.Batch) { e.refresh() })
	e.Add("undo", &undoCommand{undo: e.Undo})
	e.Add("redo", &redoCommand{undo: e.Undo})
	return e
}

// Add registers c under name, replacing any previous command.
func (e *Editor) Add(name string, c Command) {
	e.commands[name] = c
	c.Refresh()
}

func (e *Editor) Get(name string) (Command, bool) {
	c, ok := e.commands[name]
	return c, ok
}

// Names returns the registered command names in sorted order.
func (e *Editor) Names() []string {
	names := make([]string, 0, len(e.commands))
	for n := range e.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs a named command if it is enabled.
func (e *Editor) Execute(name string, opts ExecuteOptions) error {
	c, ok := e.commands[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if !c.IsEnabled() {
		return fmt.Errorf("%w: %q", ErrCommandDisabled, name)
	}
	if err := c.Execute(opts); err != nil {
		return fmt.Errorf("execute %q: %w", name, err)
	}
	e.log.WithField("command", name).Debug("executed")
	return nil
}

// State is a snapshot of one command's derived state.
type State struct {
	Value   any  `json:"value"`
	Enabled bool `json:"enabled"`
}

// States returns the state of every registered command.
func (e *Editor) States() map[string]State {
	out := make(map[string]State, len(e.commands))
	for name, c := range e.commands {
		out[name] = State{Value: c.Value(), Enabled: c.IsEnabled()}
	}
	return out
}

func (e *Editor) refresh() {
	for _, c := range e.commands {
		c.Refresh()
	}
}

type undoCommand struct {
	undo    *model.UndoManager
	enabled bool
}

func (c *undoCommand) Refresh()        { c.enabled = c.undo.CanUndo() }
func (c *undoCommand) Value() any      { return nil }
func (c *undoCommand) IsEnabled() bool { return c.enabled }

func (c *undoCommand) Execute(ExecuteOptions) error {
	_, err := c.undo.Undo()
	return err
}

type redoCommand struct {
	undo    *model.UndoManager
	enabled bool
}

func (c *redoCommand) Refresh()        { c.enabled = c.undo.CanRedo() }
func (c *redoCommand) Value() any      { return nil }
func (c *redoCommand) IsEnabled() bool { return c.enabled }

func (c *redoCommand) Execute(ExecuteOptions) error {
	_, err := c.undo.Redo()
	return err
}

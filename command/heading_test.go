package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-block-editor/model"
)

func newTestEditor(t *testing.T, root *model.Element) *Editor {
	t.Helper()
	s := model.NewSchema()
	require.NoError(t, s.Register("blockQuote", model.ItemDefinition{AllowIn: []string{model.RootName}}))
	require.NoError(t, s.Extend(model.BlockName, model.ItemDefinition{AllowIn: []string{"blockQuote"}}))
	require.NoError(t, s.Register("image", model.ItemDefinition{AllowWhere: model.BlockName, IsBlock: true, IsObject: true}))
	require.NoError(t, s.Register("span", model.ItemDefinition{AllowWhere: model.TextName, IsInline: true, AllowText: true}))

	e := NewEditor(model.New(s, root), nil)
	require.NoError(t, SetupHeadings(e, DefaultHeadingOptions()))
	return e
}

func el(name string, children ...model.Node) *model.Element {
	return model.NewElement(name, nil, children...)
}

func txt(s string) *model.Text { return model.NewText(s) }

func doc(children ...model.Node) *model.Element { return el(model.RootName, children...) }

func selectPath(t *testing.T, e *Editor, anchor, focus []int) {
	t.Helper()
	a, err := e.Model.PositionFromPath(anchor)
	require.NoError(t, err)
	f, err := e.Model.PositionFromPath(focus)
	require.NoError(t, err)
	require.NoError(t, e.Model.SetSelection(model.Selection{Anchor: a, Focus: f}))
}

func caret(t *testing.T, e *Editor, path ...int) {
	t.Helper()
	selectPath(t, e, path, path)
}

func blockNames(e *Editor) []string {
	var names []string
	for _, n := range e.Model.Root.Children() {
		if child, ok := n.(*model.Element); ok {
			names = append(names, child.Name)
		}
	}
	return names
}

func heading(t *testing.T, e *Editor, name string) *HeadingCommand {
	t.Helper()
	c, ok := e.Get(name)
	require.True(t, ok, "command %q not registered", name)
	h, ok := c.(*HeadingCommand)
	require.True(t, ok)
	return h
}

func TestSetupHeadings_RegistersCommandsAndSchema(t *testing.T) {
	e := newTestEditor(t, nil)

	assert.Equal(t, []string{"heading1", "heading2", "heading3", "paragraph", "redo", "undo"}, e.Names())
	for _, opt := range DefaultHeadingOptions() {
		assert.True(t, e.Model.Schema.IsBlock(opt.Model), opt.Model)
		assert.True(t, e.Model.Schema.CheckChild(model.RootName, opt.Model), opt.Model)
		assert.True(t, e.Model.Schema.CheckChild("blockQuote", opt.Model), opt.Model)
	}
	assert.Equal(t, "h3", heading(t, e, "heading2").Option().View)
}

func TestHeadingCommand_Value(t *testing.T) {
	e := newTestEditor(t, doc(
		el("heading1", txt("foo")),
		el("paragraph", txt("bar")),
	))
	h1 := heading(t, e, "heading1")
	h2 := heading(t, e, "heading2")

	caret(t, e, 0, 1)
	assert.Equal(t, true, h1.Value())
	assert.Equal(t, false, h2.Value())

	caret(t, e, 1, 1)
	assert.Equal(t, false, h1.Value())
	p, _ := e.Get("paragraph")
	assert.Equal(t, true, p.Value())
}

func TestHeadingCommand_IsEnabled(t *testing.T) {
	e := newTestEditor(t, doc(
		el("heading1", txt("foo")),
		el("blockQuote", el("paragraph", txt("in quote"))),
		el("image"),
		el("paragraph", txt("bar")),
	))
	h1 := heading(t, e, "heading1")

	t.Run("inside block", func(t *testing.T) {
		caret(t, e, 0, 1)
		assert.True(t, h1.IsEnabled())
		assert.Equal(t, true, h1.Value())
	})

	t.Run("block inside container", func(t *testing.T) {
		caret(t, e, 1, 0, 2)
		assert.True(t, h1.IsEnabled())
	})

	t.Run("directly inside container", func(t *testing.T) {
		caret(t, e, 1, 0)
		assert.False(t, h1.IsEnabled())
		assert.Equal(t, false, h1.Value())
	})

	t.Run("selection on object", func(t *testing.T) {
		selectPath(t, e, []int{2}, []int{3})
		assert.False(t, h1.IsEnabled())
		assert.Equal(t, false, h1.Value())
	})

	t.Run("inside object", func(t *testing.T) {
		caret(t, e, 2, 0)
		assert.False(t, h1.IsEnabled())
		assert.Equal(t, false, h1.Value())
	})
}

func TestHeadingCommand_ConvertsParagraph(t *testing.T) {
	e := newTestEditor(t, doc(el("paragraph", txt("foo"))))
	h2 := heading(t, e, "heading2")
	caret(t, e, 0, 1)

	require.NoError(t, e.Execute("heading2", ExecuteOptions{}))
	assert.Equal(t, []string{"heading2"}, blockNames(e))
	assert.Equal(t, true, h2.Value())
	assert.Equal(t, "foo", e.Model.Root.TextContent())
}

func TestHeadingCommand_ConvertsBetweenHeadings(t *testing.T) {
	e := newTestEditor(t, doc(el("heading1", txt("foo"))))
	caret(t, e, 0, 1)

	require.NoError(t, e.Execute("heading3", ExecuteOptions{}))
	assert.Equal(t, []string{"heading3"}, blockNames(e))
	assert.Equal(t, false, heading(t, e, "heading1").Value())
	assert.Equal(t, true, heading(t, e, "heading3").Value())
}

func TestHeadingCommand_TogglesOffWhenAllMatch(t *testing.T) {
	e := newTestEditor(t, doc(
		el("heading1", txt("foo")),
		el("heading1", txt("bar")),
		el("heading1", txt("baz")),
	))
	selectPath(t, e, []int{0, 1}, []int{2, 2})

	require.NoError(t, e.Execute("heading1", ExecuteOptions{}))
	assert.Equal(t, []string{"paragraph", "paragraph", "paragraph"}, blockNames(e))
	assert.Equal(t, false, heading(t, e, "heading1").Value())
}

func TestHeadingCommand_MixedSelectionConvertsAll(t *testing.T) {
	e := newTestEditor(t, doc(
		el("heading1", txt("foo")),
		el("paragraph", txt("b"), el("span", txt("a")), txt("r")),
		el("heading2", txt("baz")),
		el("paragraph", txt("untouched")),
	))
	selectPath(t, e, []int{0, 1}, []int{2, 2})

	require.NoError(t, e.Execute("heading1", ExecuteOptions{}))
	assert.Equal(t, []string{"heading1", "heading1", "heading1", "paragraph"}, blockNames(e))

	second, err := e.Model.Root.ElementAt([]int{1})
	require.NoError(t, err)
	assert.Equal(t, "bar", second.TextContent())
	span, err := second.ElementAt([]int{1})
	require.NoError(t, err)
	assert.Equal(t, "span", span.Name)
	assert.Equal(t, "a", span.TextContent())
}

func TestHeadingCommand_InsideInlineElement(t *testing.T) {
	e := newTestEditor(t, doc(
		el("paragraph", txt("x"), el("span", txt("foo")), txt("y")),
	))
	caret(t, e, 0, 1, 2)

	require.NoError(t, e.Execute("heading2", ExecuteOptions{}))
	assert.Equal(t, []string{"heading2"}, blockNames(e))

	span, err := e.Model.Root.ElementAt([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, "span", span.Name)
	assert.Equal(t, "foo", span.TextContent())
	assert.Equal(t, "xfooy", e.Model.Root.TextContent())
}

func TestHeadingCommand_RoundTrip(t *testing.T) {
	e := newTestEditor(t, doc(el("paragraph", txt("foo"))))
	caret(t, e, 0, 0)

	require.NoError(t, e.Execute("heading1", ExecuteOptions{}))
	assert.Equal(t, []string{"heading1"}, blockNames(e))
	require.NoError(t, e.Execute("heading1", ExecuteOptions{}))
	assert.Equal(t, []string{"paragraph"}, blockNames(e))
}

func TestHeadingCommand_SingleUndoStep(t *testing.T) {
	e := newTestEditor(t, doc(
		el("paragraph", txt("foo")),
		el("paragraph", txt("bar")),
	))
	selectPath(t, e, []int{0, 0}, []int{1, 3})

	require.NoError(t, e.Execute("heading1", ExecuteOptions{}))
	assert.Equal(t, []string{"heading1", "heading1"}, blockNames(e))

	undo, _ := e.Get("undo")
	require.True(t, undo.IsEnabled())
	require.NoError(t, e.Execute("undo", ExecuteOptions{}))
	assert.Equal(t, []string{"paragraph", "paragraph"}, blockNames(e))
	assert.False(t, undo.IsEnabled())

	redo, _ := e.Get("redo")
	assert.True(t, redo.IsEnabled())
}

func TestHeadingCommand_UsesGivenBatch(t *testing.T) {
	e := newTestEditor(t, doc(el("paragraph", txt("foo"))))
	caret(t, e, 0, 0)

	batch := model.NewBatch(model.BatchDefault)
	require.NoError(t, e.Execute("heading1", ExecuteOptions{Batch: batch}))
	require.Len(t, batch.Operations, 1)
	assert.Equal(t, model.NewRename([]int{0}, "paragraph", "heading1"), batch.Operations[0])
}

func TestHeadingCommand_ExecuteDoesNotRecheckEnabled(t *testing.T) {
	e := newTestEditor(t, doc(
		el("image"),
		el("paragraph", txt("foo")),
	))
	selectPath(t, e, []int{0}, []int{1, 1})
	h1 := heading(t, e, "heading1")
	require.False(t, h1.IsEnabled())

	// Through the editor the disabled command is refused.
	assert.ErrorIs(t, e.Execute("heading1", ExecuteOptions{}), ErrCommandDisabled)
	assert.Equal(t, []string{"image", "paragraph"}, blockNames(e))

	// Called directly it renames what the schema allows. The image stays.
	require.NoError(t, h1.Execute(ExecuteOptions{}))
	assert.Equal(t, []string{"image", "heading1"}, blockNames(e))
}

func TestHeadingCommand_SelectionCases(t *testing.T) {
	tests := []struct {
		name          string
		root          *model.Element
		anchor, focus []int
		command       string
		wantValue     bool
		wantEnabled   bool
		want          []string
	}{
		{
			name:        "range over an image leaves the object alone",
			root:        doc(el("paragraph", txt("foo")), el("image"), el("paragraph", txt("bar"))),
			anchor:      []int{0, 1},
			focus:       []int{2, 2},
			command:     "heading1",
			wantEnabled: true,
			want:        []string{"heading1", "image", "heading1"},
		},
		{
			name:        "backward selection reads the anchor block",
			root:        doc(el("paragraph", txt("foo")), el("heading1", txt("bar"))),
			anchor:      []int{1, 2},
			focus:       []int{0, 1},
			command:     "heading1",
			wantValue:   true,
			wantEnabled: true,
			want:        []string{"heading1", "heading1"},
		},
		{
			name:        "range ending at the start of a block skips it",
			root:        doc(el("paragraph", txt("foo")), el("paragraph", txt("bar"))),
			anchor:      []int{0, 1},
			focus:       []int{1, 0},
			command:     "heading2",
			wantEnabled: true,
			want:        []string{"heading2", "paragraph"},
		},
		{
			name:    "caret in the root between blocks",
			root:    doc(el("paragraph", txt("foo")), el("paragraph", txt("bar"))),
			anchor:  []int{1},
			focus:   []int{1},
			command: "heading1",
			want:    []string{"paragraph", "paragraph"},
		},
		{
			name:    "caret inside a block quote but outside its blocks",
			root:    doc(el("blockQuote", el("paragraph", txt("foo")))),
			anchor:  []int{0, 1},
			focus:   []int{0, 1},
			command: "heading1",
			want:    []string{"blockQuote"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEditor(t, tt.root)
			selectPath(t, e, tt.anchor, tt.focus)
			h := heading(t, e, tt.command)

			assert.Equal(t, tt.wantValue, h.Value())
			assert.Equal(t, tt.wantEnabled, h.IsEnabled())

			err := e.Execute(tt.command, ExecuteOptions{})
			if tt.wantEnabled {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrCommandDisabled)
			}
			assert.Equal(t, tt.want, blockNames(e))
		})
	}
}

func TestHeadingCommand_TogglesOffAroundObject(t *testing.T) {
	e := newTestEditor(t, doc(
		el("heading1", txt("foo")),
		el("image"),
		el("heading1", txt("bar")),
	))
	selectPath(t, e, []int{0, 1}, []int{2, 2})

	require.NoError(t, e.Execute("heading1", ExecuteOptions{}))
	assert.Equal(t, []string{"paragraph", "image", "paragraph"}, blockNames(e))
}

func TestParagraphCommand(t *testing.T) {
	e := newTestEditor(t, doc(
		el("heading1", txt("foo")),
		el("heading3", txt("bar")),
	))
	selectPath(t, e, []int{0, 0}, []int{1, 1})
	p, _ := e.Get("paragraph")
	assert.Equal(t, false, p.Value())

	require.NoError(t, e.Execute("paragraph", ExecuteOptions{}))
	assert.Equal(t, []string{"paragraph", "paragraph"}, blockNames(e))
	assert.Equal(t, true, p.Value())
}

func TestEditor_Errors(t *testing.T) {
	e := newTestEditor(t, nil)

	assert.ErrorIs(t, e.Execute("nope", ExecuteOptions{}), ErrUnknownCommand)
	assert.ErrorIs(t, e.Execute("undo", ExecuteOptions{}), ErrCommandDisabled)

	states := e.States()
	assert.False(t, states["heading1"].Enabled)
	assert.Equal(t, false, states["heading1"].Value)
}

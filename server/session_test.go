package server

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-block-editor/command"
	"github.com/alimasry/go-block-editor/model"
	"github.com/alimasry/go-block-editor/ot"
	"github.com/alimasry/go-block-editor/store"
)

func ctx() context.Context { return context.Background() }

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// mockClient creates a client without a real WebSocket connection, for testing.
func mockClient(id string) *Client {
	return &Client{
		ID:    id,
		Name:  "Test " + id,
		Color: "#000000",
		send:  make(chan []byte, 256),
		log:   testLogger(),
	}
}

// recvMsg reads one message from a mock client's send channel with timeout.
func recvMsg(t *testing.T, c *Client) ServerMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return ServerMessage{}
	}
}

func para(text string) *model.Element {
	return model.NewElement("paragraph", nil, model.NewText(text))
}

func docContent(t *testing.T, blocks ...model.Node) string {
	t.Helper()
	content, err := model.EncodeDocument(model.NewElement(model.RootName, nil, blocks...))
	require.NoError(t, err)
	return content
}

// startSession creates doc1 with content and runs a session for it.
func startSession(t *testing.T, content string) (*Session, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.Create(ctx(), "doc1", content))
	root, err := model.DecodeDocument(content)
	require.NoError(t, err)
	s, err := newSession("doc1", root, 0, nil, &ot.JupiterEngine{}, st, command.DefaultHeadingOptions(), testLogger())
	require.NoError(t, err)
	go s.Run()
	t.Cleanup(func() { close(s.stop) })
	return s, st
}

// joinTwo joins two clients and drains the join traffic.
func joinTwo(t *testing.T, s *Session) (*Client, *Client) {
	t.Helper()
	c1 := mockClient("c1")
	c2 := mockClient("c2")
	s.join <- c1
	s.join <- c2
	recvMsg(t, c1) // doc
	recvMsg(t, c2) // doc
	recvMsg(t, c1) // c2 join notification
	return c1, c2
}

func insertOp(path []int, offset int, text string) ot.Operation {
	return ot.Operation{Ops: []model.Operation{model.NewInsertText(path, offset, text)}}
}

func removeOp(path []int, offset int, text string) ot.Operation {
	return ot.Operation{Ops: []model.Operation{model.NewRemoveText(path, offset, text)}}
}

func blockAt(t *testing.T, s *Session, path ...int) *model.Element {
	t.Helper()
	el, err := s.doc.Model.Root.ElementAt(path)
	require.NoError(t, err)
	return el
}

func TestSession_JoinAndReceiveDoc(t *testing.T) {
	content := docContent(t, para("hello"))
	s, _ := startSession(t, content)

	c := mockClient("c1")
	s.join <- c
	msg := recvMsg(t, c)

	assert.Equal(t, MsgDoc, msg.Type)
	assert.Equal(t, content, msg.Content)
	assert.Equal(t, 0, msg.Revision)
	require.Len(t, msg.Clients, 1)
	assert.Equal(t, "c1", msg.Clients[0].ID)
}

func TestSession_InvalidDocument(t *testing.T) {
	root := model.NewElement(model.RootName, nil, model.NewElement("bogus", nil))
	_, err := newSession("doc1", root, 0, nil, &ot.JupiterEngine{}, store.NewMemoryStore(), command.DefaultHeadingOptions(), testLogger())
	assert.ErrorIs(t, err, model.ErrSchemaViolation)
}

func TestSession_OpTransformAndBroadcast(t *testing.T) {
	s, st := startSession(t, docContent(t, para("abc")))
	c1, c2 := joinTwo(t, s)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgOp, DocID: "doc1", Revision: 0, Op: insertOp([]int{0}, 0, "X")}}

	ack := recvMsg(t, c1)
	assert.Equal(t, MsgAck, ack.Type)
	assert.Equal(t, 1, ack.Revision)

	broadcast := recvMsg(t, c2)
	assert.Equal(t, MsgOp, broadcast.Type)
	assert.Equal(t, 1, broadcast.Revision)
	assert.Equal(t, "c1", broadcast.ClientID)
	assert.Equal(t, "X", broadcast.Op.Ops[0].Text)

	assert.Equal(t, "Xabc", blockAt(t, s, 0).TextContent())

	info, err := st.Get(ctx(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, docContent(t, para("Xabc")), info.Content)
	assert.Equal(t, 1, info.Version)
}

func TestSession_ConcurrentOps(t *testing.T) {
	s, _ := startSession(t, docContent(t, para("abc")))
	c1, c2 := joinTwo(t, s)

	// Both at revision 0:
	// c1 inserts "X" at offset 0: "Xabc"
	// c2 inserts "Y" at offset 3: "abcY"
	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgOp, Revision: 0, Op: insertOp([]int{0}, 0, "X")}}
	recvMsg(t, c1) // ack
	recvMsg(t, c2) // broadcast

	s.incoming <- opMessage{client: c2, msg: ClientMessage{Type: MsgOp, Revision: 0, Op: insertOp([]int{0}, 3, "Y")}}
	recvMsg(t, c2) // ack
	broadcast := recvMsg(t, c1)
	assert.Equal(t, 4, broadcast.Op.Ops[0].Offset, "Y shifted past X")

	assert.Equal(t, "XabcY", blockAt(t, s, 0).TextContent())
}

func TestSession_BadOp(t *testing.T) {
	s, _ := startSession(t, docContent(t, para("abc")))
	c1, _ := joinTwo(t, s)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgOp, Revision: 3, Op: insertOp([]int{0}, 0, "X")}}
	assert.Equal(t, MsgError, recvMsg(t, c1).Type)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgOp, Revision: 0, Op: removeOp([]int{0}, 0, "zz")}}
	assert.Equal(t, MsgError, recvMsg(t, c1).Type)
	assert.Equal(t, "abc", blockAt(t, s, 0).TextContent())
}

func TestSession_HeadingCommand(t *testing.T) {
	s, st := startSession(t, docContent(t, para("abc"), para("def")))
	c1, c2 := joinTwo(t, s)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{
		Type: MsgCommand, Command: "heading1", Revision: 0,
		Anchor: []int{0, 1}, Focus: []int{1, 1},
	}}

	// The sender gets the resulting op like everyone else, then its state.
	own := recvMsg(t, c1)
	assert.Equal(t, MsgOp, own.Type)
	assert.Equal(t, 1, own.Revision)
	require.Len(t, own.Op.Ops, 2)
	assert.Equal(t, model.OpRename, own.Op.Ops[0].Type)
	assert.Equal(t, "heading1", own.Op.Ops[1].NewName)

	state := recvMsg(t, c1)
	assert.Equal(t, MsgState, state.Type)
	assert.Equal(t, true, state.States["heading1"].Value)
	assert.True(t, state.States["heading1"].Enabled)
	assert.Equal(t, false, state.States["paragraph"].Value)
	assert.True(t, state.States["undo"].Enabled)

	other := recvMsg(t, c2)
	assert.Equal(t, MsgOp, other.Type)
	assert.Equal(t, "c1", other.ClientID)

	assert.Equal(t, "heading1", blockAt(t, s, 0).Name)
	assert.Equal(t, "heading1", blockAt(t, s, 1).Name)
	assert.Equal(t, "abc", blockAt(t, s, 0).TextContent())

	ops, err := st.GetOperations(ctx(), "doc1", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	// Running it again toggles back to paragraphs.
	s.incoming <- opMessage{client: c1, msg: ClientMessage{
		Type: MsgCommand, Command: "heading1", Revision: 1,
		Anchor: []int{0, 0}, Focus: []int{1, 3},
	}}
	recvMsg(t, c1) // op
	state = recvMsg(t, c1)
	assert.Equal(t, false, state.States["heading1"].Value)
	assert.Equal(t, "paragraph", blockAt(t, s, 0).Name)
	assert.Equal(t, "paragraph", blockAt(t, s, 1).Name)
}

func TestSession_CommandSelectionTransformed(t *testing.T) {
	s, _ := startSession(t, docContent(t, para("abc"), para("def")))
	c1, c2 := joinTwo(t, s)

	// c2 removes "bc" first.
	s.incoming <- opMessage{client: c2, msg: ClientMessage{Type: MsgOp, Revision: 0, Op: removeOp([]int{0}, 1, "bc")}}
	recvMsg(t, c2) // ack
	recvMsg(t, c1) // broadcast

	// c1 still sees revision 0 where offset 3 was the end of "abc".
	s.incoming <- opMessage{client: c1, msg: ClientMessage{
		Type: MsgCommand, Command: "heading2", Revision: 0, Anchor: []int{0, 3},
	}}
	op := recvMsg(t, c1)
	require.Equal(t, MsgOp, op.Type)
	assert.Equal(t, 2, op.Revision)

	assert.Equal(t, "heading2", blockAt(t, s, 0).Name)
	assert.Equal(t, "paragraph", blockAt(t, s, 1).Name)
}

func TestSession_CommandDisabled(t *testing.T) {
	img := model.NewElement(model.ImageName, map[string]string{"src": "x.png"})
	s, _ := startSession(t, docContent(t, img, para("a")))
	c1, c2 := joinTwo(t, s)

	// Selection wrapping the image.
	s.incoming <- opMessage{client: c1, msg: ClientMessage{
		Type: MsgCommand, Command: "heading1", Anchor: []int{0}, Focus: []int{1},
	}}
	errMsg := recvMsg(t, c1)
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Contains(t, errMsg.Message, "command disabled")

	state := recvMsg(t, c1)
	assert.Equal(t, MsgState, state.Type)
	assert.False(t, state.States["heading1"].Enabled)

	assert.Equal(t, model.ImageName, blockAt(t, s, 0).Name)
	assert.Empty(t, c2.send)
}

func TestSession_UnknownCommandAndBadSelection(t *testing.T) {
	s, _ := startSession(t, docContent(t, para("abc")))
	c1, _ := joinTwo(t, s)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgCommand, Command: "bold", Anchor: []int{0, 0}}}
	errMsg := recvMsg(t, c1)
	assert.Equal(t, MsgError, errMsg.Type)
	assert.Contains(t, errMsg.Message, "unknown command")
	recvMsg(t, c1) // state

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgCommand, Command: "heading1", Anchor: []int{4, 0}}}
	assert.Equal(t, MsgError, recvMsg(t, c1).Type)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgCommand, Command: "heading1"}}
	assert.Equal(t, MsgError, recvMsg(t, c1).Type)
}

func TestSession_StateRequest(t *testing.T) {
	h := model.NewElement("heading2", nil, model.NewText("title"))
	s, _ := startSession(t, docContent(t, para("abc"), h))
	c1, _ := joinTwo(t, s)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgState, Anchor: []int{1, 2}}}
	state := recvMsg(t, c1)
	assert.Equal(t, MsgState, state.Type)
	assert.Equal(t, true, state.States["heading2"].Value)
	assert.Equal(t, false, state.States["heading1"].Value)
	assert.True(t, state.States["heading1"].Enabled)
	assert.False(t, state.States["undo"].Enabled)
}

func TestSession_UndoCommand(t *testing.T) {
	s, _ := startSession(t, docContent(t, para("abc")))
	c1, c2 := joinTwo(t, s)

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgCommand, Command: "heading3", Anchor: []int{0, 0}}}
	recvMsg(t, c1) // op
	recvMsg(t, c1) // state
	recvMsg(t, c2) // op

	// Remote edits are not part of the undo history.
	s.incoming <- opMessage{client: c2, msg: ClientMessage{Type: MsgOp, Revision: 1, Op: insertOp([]int{0}, 3, "!")}}
	recvMsg(t, c2) // ack
	recvMsg(t, c1) // broadcast

	s.incoming <- opMessage{client: c1, msg: ClientMessage{Type: MsgCommand, Command: "undo", Revision: 2, Anchor: []int{0, 0}}}
	undo := recvMsg(t, c1)
	require.Equal(t, MsgOp, undo.Type)
	assert.Equal(t, 3, undo.Revision)
	assert.Equal(t, "paragraph", undo.Op.Ops[0].NewName)
	state := recvMsg(t, c1)
	assert.False(t, state.States["undo"].Enabled)
	assert.True(t, state.States["redo"].Enabled)

	assert.Equal(t, "paragraph", blockAt(t, s, 0).Name)
	assert.Equal(t, "abc!", blockAt(t, s, 0).TextContent())
	assert.Equal(t, "paragraph", recvMsg(t, c2).Op.Ops[0].NewName)
}

func TestSession_LeaveNotification(t *testing.T) {
	s, _ := startSession(t, EmptyDocument())
	c1, c2 := joinTwo(t, s)

	s.leave <- c2
	msg := recvMsg(t, c1)
	assert.Equal(t, MsgLeave, msg.Type)
	assert.Equal(t, "c2", msg.ClientID)
}

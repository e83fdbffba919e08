package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-block-editor/command"
	"github.com/alimasry/go-block-editor/model"
	"github.com/alimasry/go-block-editor/ot"
	"github.com/alimasry/go-block-editor/store"
)

type opMessage struct {
	client *Client
	msg    ClientMessage
}

// Session manages collaboration for a single document.
// All operations are serialized through a single goroutine.
type Session struct {
	docID   string
	doc     *ot.Document
	editor  *command.Editor
	engine  ot.Engine
	store   store.DocumentStore
	clients map[*Client]bool
	log     *logrus.Entry

	// Batches produced while a command runs.
	capturing bool
	captured  []*model.Batch

	incoming chan opMessage
	join     chan *Client
	leave    chan *Client
	stop     chan struct{}
}

// NewSchema builds the schema sessions edit against: the standard items
// plus one block per heading option.
func NewSchema(headings []command.HeadingOption) (*model.Schema, error) {
	schema := model.NewSchema()
	if err := model.RegisterStandardItems(schema); err != nil {
		return nil, err
	}
	for _, h := range headings {
		if schema.IsRegistered(h.Model) {
			continue
		}
		if err := schema.Register(h.Model, model.ItemDefinition{InheritAllFrom: model.BlockName}); err != nil {
			return nil, err
		}
	}
	if !schema.IsRegistered(command.DefaultBlock) {
		if err := schema.Register(command.DefaultBlock, model.ItemDefinition{InheritAllFrom: model.BlockName}); err != nil {
			return nil, err
		}
	}
	return schema, nil
}

func newSession(docID string, root *model.Element, version int, history []ot.Operation, engine ot.Engine, st store.DocumentStore, headings []command.HeadingOption, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "session", "doc": docID})

	schema, err := NewSchema(headings)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", docID, err)
	}
	if err := schema.Validate(root); err != nil {
		return nil, fmt.Errorf("session %s: %w", docID, err)
	}

	m := model.New(schema, root)
	m.SetLogger(log.WithField("component", "model"))
	editor := command.NewEditor(m, log)
	if err := command.SetupHeadings(editor, headings); err != nil {
		return nil, fmt.Errorf("session %s: %w", docID, err)
	}

	doc := ot.NewDocument(m)
	doc.Version = version
	doc.History = history

	s := &Session{
		docID:    docID,
		doc:      doc,
		editor:   editor,
		engine:   engine,
		store:    st,
		clients:  make(map[*Client]bool),
		log:      log,
		incoming: make(chan opMessage, 64),
		join:     make(chan *Client, 16),
		leave:    make(chan *Client, 16),
		stop:     make(chan struct{}),
	}
	m.OnChange(func(b *model.Batch) {
		if s.capturing && b != nil && !b.IsEmpty() {
			s.captured = append(s.captured, b)
		}
	})
	return s, nil
}

// Run is the session's main loop. It serializes all operations.
func (s *Session) Run() {
	for {
		select {
		case c := <-s.join:
			s.handleJoin(c)
		case c := <-s.leave:
			s.handleLeave(c)
		case om := <-s.incoming:
			switch om.msg.Type {
			case MsgCommand:
				s.handleCommand(om)
			case MsgState:
				s.handleState(om)
			default:
				s.handleOp(om)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Session) content() string {
	content, err := model.EncodeDocument(s.doc.Model.Root)
	if err != nil {
		s.log.WithError(err).Error("encode document")
	}
	return content
}

func (s *Session) handleJoin(c *Client) {
	s.clients[c] = true
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	// Send current document state to the joining client.
	clients := s.clientInfos()
	c.sendMsg(ServerMessage{
		Type:     MsgDoc,
		DocID:    s.docID,
		Content:  s.content(),
		Revision: s.doc.Version,
		Clients:  clients,
	})

	// Notify other clients about the new user.
	for other := range s.clients {
		if other != c {
			other.sendMsg(ServerMessage{
				Type:     MsgJoin,
				ClientID: c.ID,
				Name:     c.Name,
				Color:    c.Color,
			})
		}
	}
	s.log.WithField("client", c.ID).Info("client joined")
}

func (s *Session) handleLeave(c *Client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	close(c.send)

	// Notify others.
	for other := range s.clients {
		other.sendMsg(ServerMessage{
			Type:     MsgLeave,
			ClientID: c.ID,
		})
	}
	s.log.WithField("client", c.ID).Info("client left")
}

func (s *Session) handleOp(om opMessage) {
	log := s.log.WithField("client", om.client.ID)

	// Transform the client's operation against server history.
	transformed, err := s.engine.TransformIncoming(om.msg.Op, om.msg.Revision, s.doc.History)
	if err != nil {
		log.WithError(err).Warn("transform failed")
		om.client.sendError("transform error: " + err.Error())
		return
	}

	// Apply to the document.
	if err := s.doc.Apply(transformed); err != nil {
		log.WithError(err).Warn("apply failed")
		om.client.sendError("apply error: " + err.Error())
		return
	}

	s.publish(om.client, transformed, true)
}

// handleCommand runs a named command against the sender's selection and
// publishes the operations it produced.
func (s *Session) handleCommand(om opMessage) {
	log := s.log.WithFields(logrus.Fields{"client": om.client.ID, "command": om.msg.Command})

	if err := s.selectFor(om.msg); err != nil {
		log.WithError(err).Warn("invalid selection")
		om.client.sendError("invalid selection: " + err.Error())
		return
	}

	s.capturing, s.captured = true, nil
	err := s.editor.Execute(om.msg.Command, command.ExecuteOptions{})
	batches := s.captured
	s.capturing, s.captured = false, nil
	if err != nil {
		log.WithError(err).Info("command rejected")
		om.client.sendError(err.Error())
		s.sendState(om.client)
		return
	}

	for _, b := range batches {
		op := s.doc.Commit(b)
		if op.IsNoop() {
			continue
		}
		s.publish(om.client, op, false)
	}
	s.sendState(om.client)
}

func (s *Session) handleState(om opMessage) {
	if err := s.selectFor(om.msg); err != nil {
		om.client.sendError("invalid selection: " + err.Error())
		return
	}
	s.sendState(om.client)
}

// selectFor maps the message's selection from the client's revision to the
// current one and makes it the model selection.
func (s *Session) selectFor(msg ClientMessage) error {
	if msg.Anchor == nil {
		return fmt.Errorf("missing anchor")
	}
	focus := msg.Focus
	if focus == nil {
		focus = msg.Anchor
	}
	anchorPath, err := ot.TransformPositionSince(msg.Anchor, msg.Revision, s.doc.History)
	if err != nil {
		return err
	}
	focusPath, err := ot.TransformPositionSince(focus, msg.Revision, s.doc.History)
	if err != nil {
		return err
	}
	m := s.doc.Model
	anchor, err := m.PositionFromPath(anchorPath)
	if err != nil {
		return err
	}
	head, err := m.PositionFromPath(focusPath)
	if err != nil {
		return err
	}
	return m.SetSelection(model.Selection{Anchor: anchor, Focus: head})
}

func (s *Session) sendState(c *Client) {
	c.sendMsg(ServerMessage{
		Type:     MsgState,
		DocID:    s.docID,
		Revision: s.doc.Version,
		States:   s.editor.States(),
	})
}

// publish persists an applied operation and broadcasts it. When ack is
// set the sender already holds op and only gets an ack; otherwise the
// sender receives the op like everyone else.
func (s *Session) publish(sender *Client, op ot.Operation, ack bool) {
	ctx := context.Background()
	if err := s.store.AppendOperation(ctx, s.docID, op, s.doc.Version); err != nil {
		s.log.WithError(err).WithField("version", s.doc.Version).Error("persist operation")
	}
	if err := s.store.UpdateContent(ctx, s.docID, s.content(), s.doc.Version); err != nil {
		s.log.WithError(err).WithField("version", s.doc.Version).Error("persist content")
	}

	if ack {
		sender.sendMsg(ServerMessage{
			Type:     MsgAck,
			Revision: s.doc.Version,
		})
	}

	for c := range s.clients {
		if !ack || c != sender {
			c.sendMsg(ServerMessage{
				Type:     MsgOp,
				DocID:    s.docID,
				Revision: s.doc.Version,
				Op:       op,
				ClientID: sender.ID,
			})
		}
	}
}

func (s *Session) clientInfos() []ClientInfo {
	infos := make([]ClientInfo, 0, len(s.clients))
	for c := range s.clients {
		infos = append(infos, c.Info())
	}
	return infos
}

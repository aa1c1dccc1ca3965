package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ppiankov/verbatim/internal/model"
)

// Chat export shapes. Exports either carry a "mapping" tree of nodes with
// timestamps or a flat "messages" list.
type rawConversation struct {
	Title    string             `json:"title"`
	Mapping  map[string]rawNode `json:"mapping"`
	Messages []rawMessage       `json:"messages"`
}

type rawNode struct {
	Message *rawMessage `json:"message"`
}

type rawMessage struct {
	Author *struct {
		Role string `json:"role"`
	} `json:"author"`
	Role       string          `json:"role"`
	CreateTime *float64        `json:"create_time"`
	Content    json.RawMessage `json:"content"`
	Text       json.RawMessage `json:"text"`
	Parts      json.RawMessage `json:"parts"`
}

func (m rawMessage) role() string {
	if m.Author != nil && m.Author.Role != "" {
		return m.Author.Role
	}
	if m.Role != "" {
		return m.Role
	}
	return "unknown"
}

// renderConversation flattens one conversation into "[CONV: title]" followed
// by "ROLE: text" blocks. Messages failing the role filter are dropped here,
// before any cost is incurred. ok is false when nothing is left.
func renderConversation(conv rawConversation, index int, role model.Role) (title, text string, ok bool) {
	title = conv.Title
	if title == "" {
		title = fmt.Sprintf("Conversation %d", index)
	}

	var blocks []string
	add := func(m rawMessage) {
		if !role.Accepts(m.role()) {
			return
		}
		if t := messageText(m); t != "" {
			blocks = append(blocks, strings.ToUpper(m.role())+": "+t)
		}
	}

	if len(conv.Mapping) > 0 {
		type timed struct {
			id string
			at float64
			m  rawMessage
		}
		var nodes []timed
		for id, n := range conv.Mapping {
			if n.Message == nil {
				continue
			}
			at := 0.0
			if n.Message.CreateTime != nil {
				at = *n.Message.CreateTime
			}
			nodes = append(nodes, timed{id: id, at: at, m: *n.Message})
		}
		sort.Slice(nodes, func(i, j int) bool {
			if nodes[i].at != nodes[j].at {
				return nodes[i].at < nodes[j].at
			}
			return nodes[i].id < nodes[j].id
		})
		for _, n := range nodes {
			add(n.m)
		}
	}

	if len(blocks) == 0 {
		for _, m := range conv.Messages {
			add(m)
		}
	}

	if len(blocks) == 0 {
		return title, "", false
	}
	return title, "[CONV: " + title + "]\n" + strings.Join(blocks, "\n\n"), true
}

// messageText pulls plain text out of the many content shapes exports use
func messageText(m rawMessage) string {
	content := bytes.TrimSpace(m.Content)
	if len(content) > 0 {
		switch content[0] {
		case '{':
			var c struct {
				Parts json.RawMessage `json:"parts"`
				Text  json.RawMessage `json:"text"`
			}
			if json.Unmarshal(content, &c) == nil {
				if parts, ok := stringItems(c.Parts); ok {
					return strings.Join(parts, "\n")
				}
				if s, ok := asString(c.Text); ok {
					return s
				}
				if items, ok := objectItems(c.Text); ok {
					var buf []string
					for _, it := range items {
						buf = append(buf, firstString(it, "value", "text"))
					}
					return strings.Join(buf, "\n")
				}
			}
		case '[':
			var items []json.RawMessage
			if json.Unmarshal(content, &items) == nil {
				var buf []string
				for _, it := range items {
					if s, ok := asString(it); ok {
						buf = append(buf, s)
						continue
					}
					var obj map[string]json.RawMessage
					if json.Unmarshal(it, &obj) == nil {
						buf = append(buf, firstString(obj, "text", "value"))
					}
				}
				if len(buf) > 0 {
					return strings.Join(buf, "\n")
				}
			}
		case '"':
			if s, ok := asString(content); ok {
				return s
			}
		}
	}

	if s, ok := asString(m.Text); ok {
		return s
	}
	if parts, ok := stringItems(m.Parts); ok {
		return strings.Join(parts, "\n")
	}
	return ""
}

func asString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

// stringItems decodes a JSON list, keeping only its string members
func stringItems(raw json.RawMessage) ([]string, bool) {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil, false
	}
	out := []string{}
	for _, it := range items {
		if s, ok := asString(it); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func objectItems(raw json.RawMessage) ([]map[string]json.RawMessage, bool) {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil, false
	}
	var out []map[string]json.RawMessage
	for _, it := range items {
		var obj map[string]json.RawMessage
		if json.Unmarshal(it, &obj) == nil {
			out = append(out, obj)
		}
	}
	return out, true
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s, ok := asString(obj[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

// pageQueue turns rendered conversations into numbered pseudo-pages
type pageQueue struct {
	file    string
	size    int
	role    model.Role
	number  int
	index   int
	pending []model.Page
}

func (q *pageQueue) push(conv rawConversation) {
	q.index++
	title, text, ok := renderConversation(conv, q.index, q.role)
	if !ok {
		return
	}
	for _, p := range slicePages(text, q.size) {
		q.number++
		q.pending = append(q.pending, model.Page{
			File:         q.file,
			Number:       q.number,
			Conversation: title,
			Text:         p,
		})
	}
}

func (q *pageQueue) pop() (model.Page, bool) {
	if len(q.pending) == 0 {
		return model.Page{}, false
	}
	p := q.pending[0]
	q.pending = q.pending[1:]
	return p, true
}

// conversationReader decodes a small export in one go
type conversationReader struct {
	queue pageQueue
	convs []rawConversation
	next  int
}

func newConversationReader(f File, opts Options) (*conversationReader, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}

	var convs []rawConversation
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &convs); err != nil {
			return nil, fmt.Errorf("parse conversations: %w", err)
		}
	case trimmed[0] == '{':
		var wrapped struct {
			Conversations []rawConversation `json:"conversations"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("parse conversations: %w", err)
		}
		convs = wrapped.Conversations
	default:
		return nil, fmt.Errorf("parse conversations: expected JSON array or object")
	}

	return &conversationReader{
		queue: pageQueue{file: f.Name, size: opts.PseudoPageSize, role: opts.Role},
		convs: convs,
	}, nil
}

func (r *conversationReader) Next() (model.Page, error) {
	for {
		if p, ok := r.queue.pop(); ok {
			return p, nil
		}
		if r.next >= len(r.convs) {
			return model.Page{}, io.EOF
		}
		r.queue.push(r.convs[r.next])
		r.convs[r.next] = rawConversation{}
		r.next++
	}
}

func (r *conversationReader) Close() error { return nil }

// streamingConversationReader walks a large export token by token and decodes
// one conversation at a time. The only structural state it keeps is the stack
// of currently open delimiters.
type streamingConversationReader struct {
	file  *os.File
	dec   *json.Decoder
	queue pageQueue
	stack []json.Delim
	ready bool // positioned inside the conversations array
	done  bool
}

func newStreamingConversationReader(f File, opts Options) (*streamingConversationReader, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	return &streamingConversationReader{
		file:  fh,
		dec:   json.NewDecoder(bufio.NewReaderSize(fh, 1<<20)),
		queue: pageQueue{file: f.Name, size: opts.PseudoPageSize, role: opts.Role},
	}, nil
}

func (r *streamingConversationReader) Next() (model.Page, error) {
	for {
		if p, ok := r.queue.pop(); ok {
			return p, nil
		}
		if r.done {
			return model.Page{}, io.EOF
		}
		if !r.ready {
			if err := r.seekArray(); err != nil {
				return model.Page{}, err
			}
			if r.done {
				return model.Page{}, io.EOF
			}
		}

		if !r.dec.More() {
			// closing ']' of the conversations array
			if _, err := r.token(); err != nil {
				return model.Page{}, fmt.Errorf("parse conversations: %w", err)
			}
			r.done = true
			continue
		}

		var conv rawConversation
		if err := r.dec.Decode(&conv); err != nil {
			return model.Page{}, fmt.Errorf("parse conversation: %w", err)
		}
		r.queue.push(conv)
	}
}

// seekArray positions the decoder at the first element of the conversations
// array: either the top-level array or the "conversations" member of a
// top-level object.
func (r *streamingConversationReader) seekArray() error {
	tok, err := r.token()
	if err == io.EOF {
		r.done = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse conversations: %w", err)
	}

	switch tok {
	case json.Delim('['):
		r.ready = true
		return nil
	case json.Delim('{'):
		for r.dec.More() {
			key, err := r.token()
			if err != nil {
				return fmt.Errorf("parse conversations: %w", err)
			}
			if key == "conversations" {
				open, err := r.token()
				if err != nil {
					return fmt.Errorf("parse conversations: %w", err)
				}
				if open != json.Delim('[') {
					return fmt.Errorf("parse conversations: \"conversations\" is not an array")
				}
				r.ready = true
				return nil
			}
			if err := r.skipValue(); err != nil {
				return fmt.Errorf("parse conversations: %w", err)
			}
		}
		r.done = true
		return nil
	default:
		return fmt.Errorf("parse conversations: expected JSON array or object")
	}
}

// skipValue consumes one value without decoding it
func (r *streamingConversationReader) skipValue() error {
	depth := len(r.stack)
	if _, err := r.token(); err != nil {
		return err
	}
	for len(r.stack) > depth {
		if _, err := r.token(); err != nil {
			return err
		}
	}
	return nil
}

// token reads the next token and maintains the open-delimiter stack
func (r *streamingConversationReader) token() (json.Token, error) {
	tok, err := r.dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); ok {
		switch d {
		case '[', '{':
			r.stack = append(r.stack, d)
		case ']', '}':
			if len(r.stack) > 0 {
				r.stack = r.stack[:len(r.stack)-1]
			}
		}
	}
	return tok, nil
}

func (r *streamingConversationReader) Close() error {
	return r.file.Close()
}

package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"crispy/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

var (
	threadSchema = jsonschema.MustCompileString("thread.json", `{
		"type": "object",
		"required": ["boardId", "content"],
		"properties": {
			"boardId":  {"type": "string", "minLength": 1},
			"content":  {"type": "string"},
			"imageUrl": {"type": ["string", "null"]},
			"imageAlt": {"type": ["string", "null"]},
			"opIp":     {"type": ["string", "null"]}
		}
	}`)
	postSchema = jsonschema.MustCompileString("post.json", `{
		"type": "object",
		"required": ["threadId", "content"],
		"properties": {
			"threadId": {"type": ["string", "integer"], "pattern": "^[0-9]+$"},
			"content":  {"type": "string"},
			"imageUrl": {"type": ["string", "null"]},
			"imageAlt": {"type": ["string", "null"]}
		}
	}`)
	boardSchema = jsonschema.MustCompileString("board.json", `{
		"type": "object",
		"required": ["name", "prefix"],
		"properties": {
			"name":        {"type": "string", "minLength": 1},
			"displayName": {"type": ["string", "null"]},
			"prefix":      {"type": "integer"}
		}
	}`)
	boardUpdateSchema = jsonschema.MustCompileString("board_update.json", `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name":        {"type": "string", "minLength": 1},
			"displayName": {"type": ["string", "null"]}
		}
	}`)
	contentSchema = jsonschema.MustCompileString("content.json", `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"content":  {"type": "string"},
			"imageUrl": {"type": ["string", "null"]},
			"imageAlt": {"type": ["string", "null"]}
		}
	}`)
)

// decodeBody reads a JSON body, checks it against schema and decodes it into dst. A body
// that does not match is reported with message.
func decodeBody(r *http.Request, schema *jsonschema.Schema, message string, dst interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return models.Validationf("could not read request body")
	}
	if len(data) > maxBodyBytes {
		return models.Validationf("request body too large")
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Validationf("invalid JSON body")
	}
	if err := schema.Validate(doc); err != nil {
		return models.Validationf("%s", message)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return models.Validationf("%s", message)
	}
	return nil
}

// flexID accepts an identifier written as a JSON number or a decimal string.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid identifier %q", s)
	}
	*f = flexID(id)
	return nil
}

type threadRequest struct {
	BoardID  string  `json:"boardId"`
	Content  string  `json:"content"`
	ImageURL *string `json:"imageUrl"`
	ImageAlt *string `json:"imageAlt"`
	OpIP     *string `json:"opIp"`
}

type postRequest struct {
	ThreadID flexID  `json:"threadId"`
	Content  string  `json:"content"`
	ImageURL *string `json:"imageUrl"`
	ImageAlt *string `json:"imageAlt"`
}

type boardRequest struct {
	Name        string  `json:"name"`
	DisplayName *string `json:"displayName"`
	Prefix      int     `json:"prefix"`
}

type contentRequest struct {
	Content  string  `json:"content"`
	ImageURL *string `json:"imageUrl"`
	ImageAlt *string `json:"imageAlt"`
}

func (c contentRequest) update() models.ContentUpdate {
	return models.ContentUpdate{Content: c.Content, ImageURL: deref(c.ImageURL), ImageAlt: deref(c.ImageAlt)}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

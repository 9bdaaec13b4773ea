package model

import (
	"encoding/json"
	"errors"
	"mime"
	"regexp"
	"strings"
)

// ChatRequest is the canonical form of an inbound chat message.
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=100000"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
}

// chatBody lists the field names clients have used for the message text.
type chatBody struct {
	Message *string `json:"message"`
	Query   *string `json:"query"`
	Text    *string `json:"text"`
	Email   string  `json:"email"`
}

// ErrMalformedBody is returned for a JSON body that is not an object or a
// string, and for invalid JSON sent as application/json.
var ErrMalformedBody = errors.New("malformed request body")

// DecodeChatRequest turns any accepted body shape into a ChatRequest. JSON
// objects may carry the text in "message", "query" or "text"; JSON strings
// are the message itself. Unless contentType declares JSON, a body that does
// not parse as JSON is plain text, even when it starts with a bracket. The
// message is normalized before it is returned.
func DecodeChatRequest(body []byte, contentType string) (ChatRequest, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ChatRequest{}, nil
	}

	declaredJSON := isJSONContentType(contentType)
	if !declaredJSON && !json.Valid([]byte(trimmed)) {
		return ChatRequest{Message: NormalizeMessage(trimmed)}, nil
	}

	switch trimmed[0] {
	case '{':
		var b chatBody
		if err := json.Unmarshal([]byte(trimmed), &b); err != nil {
			return ChatRequest{}, ErrMalformedBody
		}
		req := ChatRequest{Email: strings.TrimSpace(b.Email)}
		for _, candidate := range []*string{b.Message, b.Query, b.Text} {
			if candidate != nil && strings.TrimSpace(*candidate) != "" {
				req.Message = NormalizeMessage(*candidate)
				break
			}
		}
		return req, nil
	case '"':
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return ChatRequest{}, ErrMalformedBody
		}
		return ChatRequest{Message: NormalizeMessage(s)}, nil
	case '[':
		return ChatRequest{}, ErrMalformedBody
	}

	if declaredJSON {
		return ChatRequest{}, ErrMalformedBody
	}
	// Bare JSON scalars such as 42 or true sent as text.
	return ChatRequest{Message: NormalizeMessage(trimmed)}, nil
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

var controlWhitespace = regexp.MustCompile(`[\r\n\t]+`)

// NormalizeMessage collapses runs of newline, carriage-return and tab
// characters into a single space and trims the result.
func NormalizeMessage(s string) string {
	return strings.TrimSpace(controlWhitespace.ReplaceAllString(s, " "))
}

// ChatResponse is the success body of the chat endpoint.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ProcessingResponse is returned while an identical request is in flight.
type ProcessingResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// TextBlobResponse is returned by the knowledge base and system prompt
// mutators.
type TextBlobResponse struct {
	Message string `json:"message"`
	Length  int    `json:"length"`
}

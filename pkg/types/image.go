package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Class is the tag of an image corpus. It doubles as the AMQP routing key.
type Class string

const (
	ClassFace Class = "face"
	ClassTeam Class = "team"
)

// Classes lists every known class in dispatch order.
var Classes = []Class{ClassFace, ClassTeam}

// ErrUnknownClass is returned when an envelope carries a class tag outside Classes.
var ErrUnknownClass = errors.New("unknown image class")

// ParseClass validates a raw class tag.
func ParseClass(s string) (Class, error) {
	for _, c := range Classes {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownClass, s)
}

// ImageMessage is the unit of work sent from the dispatcher to the workers.
// The JSON field names are part of the wire contract shared with existing producers
// and consumers and must not change.
type ImageMessage struct {
	// ID is generated by the dispatcher, one per message.
	ID string `json:"id"`
	// Class selects the routing key and therefore the destination queue.
	Class Class `json:"tipo"`
	// FileName is the absolute source path. Informational only.
	FileName string `json:"nomeArquivo"`
	// Timestamp is the creation time in epoch milliseconds. Informational only.
	Timestamp int64 `json:"timestamp"`
	// ImageData holds the raw encoded image (base64 on the wire).
	ImageData []byte `json:"dadosImagem"`
}

// Encode serializes the message into its wire form.
func (m *ImageMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image message %s: %w", m.ID, err)
	}
	return b, nil
}

// DecodeImageMessage parses a wire envelope. Unknown fields are ignored. A message
// without image data is rejected since there is nothing to classify.
func DecodeImageMessage(data []byte) (*ImageMessage, error) {
	var m ImageMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("malformed image message: %w", err)
	}
	if m.Class != "" {
		if _, err := ParseClass(string(m.Class)); err != nil {
			return nil, err
		}
	}
	if len(m.ImageData) == 0 {
		return nil, errors.New("malformed image message: missing image data")
	}
	return &m, nil
}

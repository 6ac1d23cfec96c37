// Package payload encodes key commands into request bodies for the event sink.
package payload

import (
	"encoding/json"
	"net/http"

	"github.com/neuroplastio/neio-remote/internal/command"
)

const ContentType = "application/json"

// Payload is an encoded command ready to be posted.
type Payload struct {
	Body   []byte
	Header http.Header
}

// Encode serializes cmd as {"cmd":...,"cmd_type":...,"cmd_num":...} with JSON and bearer headers.
func Encode(cmd command.Command, apiKey string) (Payload, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return Payload{}, err
	}
	header := make(http.Header, 2)
	header.Set("Content-Type", ContentType)
	header.Set("Authorization", "Bearer "+apiKey)
	return Payload{
		Body:   body,
		Header: header,
	}, nil
}

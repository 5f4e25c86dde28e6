package types

import "github.com/goccy/go-json"

const (
	FrameRequest  = "request"
	FrameResponse = "response"
)

// Frame is the envelope of every websocket text message, in both directions.
type Frame struct {
	Type   string          `json:"type"` // "request" | "response"
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (f *Frame) IsRequest() bool  { return f.Type == FrameRequest }
func (f *Frame) IsResponse() bool { return f.Type == FrameResponse }

func Encode(f *Frame) ([]byte, error) { return json.Marshal(f) }

func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

package core

import (
	"encoding/json"
	"fmt"
)

// wirePart is the tagged JSON form of a Part.
type wirePart struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Signature        string            `json:"signature,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

// MarshalJSON encodes parts with a type tag so they can be decoded again.
func (c Content) MarshalJSON() ([]byte, error) {
	wc := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}

	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			wc.Parts = append(wc.Parts, wirePart{Type: "text", Text: v.Text, Metadata: v.Metadata})
		case ThoughtPart:
			wc.Parts = append(wc.Parts, wirePart{Type: "thought", Text: v.Text, Signature: v.Signature})
		case DataPart:
			wc.Parts = append(wc.Parts, wirePart{Type: "data", Data: v.Data, Metadata: v.Metadata})
		case FunctionCallPart:
			fc := v.FunctionCall
			wc.Parts = append(wc.Parts, wirePart{Type: "function_call", FunctionCall: &fc})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			wc.Parts = append(wc.Parts, wirePart{Type: "function_response", FunctionResponse: &fr})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}

	return json.Marshal(wc)
}

// UnmarshalJSON decodes tagged parts.
func (c *Content) UnmarshalJSON(b []byte) error {
	var wc wireContent
	if err := json.Unmarshal(b, &wc); err != nil {
		return err
	}

	c.Role = wc.Role
	c.Parts = make([]Part, 0, len(wc.Parts))

	for _, wp := range wc.Parts {
		switch wp.Type {
		case "text":
			c.Parts = append(c.Parts, TextPart{Text: wp.Text, Metadata: wp.Metadata})
		case "thought":
			c.Parts = append(c.Parts, ThoughtPart{Text: wp.Text, Signature: wp.Signature})
		case "data":
			c.Parts = append(c.Parts, DataPart{Data: wp.Data, Metadata: wp.Metadata})
		case "function_call":
			if wp.FunctionCall != nil {
				c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *wp.FunctionCall})
			}
		case "function_response":
			if wp.FunctionResponse != nil {
				c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *wp.FunctionResponse})
			}
		default:
			return fmt.Errorf("unknown part type %q", wp.Type)
		}
	}

	return nil
}

package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownType is returned when the type discriminator names no known kind.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrMissingBody is returned when an envelope has no body for its kind.
	ErrMissingBody = errors.New("envelope body not set")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// header is the common prefix of every envelope kind.
type header struct {
	Type   Kind   `json:"type" validate:"required"`
	From   string `json:"from" validate:"required"`
	SentAt string `json:"sentAt" validate:"required"`
}

// Encode serializes an envelope to the wire form: JSON, UTF-8, base64.
func Encode(env *Envelope) (string, error) {
	raw, err := EncodeJSON(env)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeJSON serializes an envelope to its flat JSON object form, with the
// body fields alongside type/from/sentAt.
func EncodeJSON(env *Envelope) ([]byte, error) {
	body, err := env.body()
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(body); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", env.Type, err)
	}

	flat := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("flatten %s body: %w", env.Type, err)
	}

	typeRaw, _ := json.Marshal(env.Type)
	fromRaw, _ := json.Marshal(env.From)
	sentRaw, err := json.Marshal(env.SentAt)
	if err != nil {
		return nil, fmt.Errorf("marshal sentAt: %w", err)
	}
	flat["type"] = typeRaw
	flat["from"] = fromRaw
	flat["sentAt"] = sentRaw

	return json.Marshal(flat)
}

// Decode parses a base64 wire payload into an envelope. Any malformed input
// (bad base64, bad JSON, unknown type, failed validation) returns an error;
// callers treating foreign payloads as non-fatal should skip on error.
func Decode(payload string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return DecodeJSON(raw)
}

// DecodeJSON parses the flat JSON object form into an envelope.
func DecodeJSON(raw []byte) (*Envelope, error) {
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if err := validate.Struct(&h); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	env := &Envelope{Type: h.Type}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var body any
	switch h.Type {
	case KindCreateRequest:
		env.CreateRequest = &CreateRequest{}
		body = env.CreateRequest
	case KindJoinAccept:
		env.JoinAccept = &JoinAccept{}
		body = env.JoinAccept
	case KindCreated:
		env.Created = &Created{}
		body = env.Created
	case KindChat:
		env.Chat = &Chat{}
		body = env.Chat
	case KindProposal:
		env.Proposal = &Proposal{}
		body = env.Proposal
	case KindVote:
		env.Vote = &Vote{}
		body = env.Vote
	case KindState:
		env.State = &State{}
		body = env.State
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}

	if err := json.Unmarshal(raw, body); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", h.Type, err)
	}
	if err := validate.Struct(body); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", h.Type, err)
	}

	return env, nil
}

// body returns the populated body matching the envelope's kind.
func (e *Envelope) body() (any, error) {
	var body any
	switch e.Type {
	case KindCreateRequest:
		if e.CreateRequest != nil {
			body = e.CreateRequest
		}
	case KindJoinAccept:
		if e.JoinAccept != nil {
			body = e.JoinAccept
		}
	case KindCreated:
		if e.Created != nil {
			body = e.Created
		}
	case KindChat:
		if e.Chat != nil {
			body = e.Chat
		}
	case KindProposal:
		if e.Proposal != nil {
			body = e.Proposal
		}
	case KindVote:
		if e.Vote != nil {
			body = e.Vote
		}
	case KindState:
		if e.State != nil {
			body = e.State
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if body == nil {
		return nil, fmt.Errorf("%w for %s", ErrMissingBody, e.Type)
	}
	return body, nil
}

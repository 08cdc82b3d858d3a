package checkpoint

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/command"
)

// Checkpoint is the position of a watch stream after its last delivered
// event
type Checkpoint struct {
	// ResumeToken is the raw BSON _id of the last delivered change event
	ResumeToken []byte `cbor:"1,keyasint"`

	// Delivered is the number of events delivered before the checkpoint
	Delivered int64 `cbor:"2,keyasint,omitempty"`

	// Namespace is the watched namespace, informational only
	Namespace string `cbor:"3,keyasint,omitempty"`
}

// Token returns the resume token as a BSON document
func (c *Checkpoint) Token() bson.Raw {
	return bson.Raw(c.ResumeToken)
}

// Encode encodes a checkpoint into a base64 string using CBOR
func Encode(c *Checkpoint) (string, error) {
	if c == nil || len(c.ResumeToken) == 0 {
		return "", nil
	}

	data, err := cbor.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode decodes a base64 checkpoint string. The resume token must be a
// valid BSON document.
func Decode(s string) (*Checkpoint, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty checkpoint", command.ErrInvalidCheckpoint)
	}

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", command.ErrInvalidCheckpoint, err)
	}

	var c Checkpoint
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", command.ErrInvalidCheckpoint, err)
	}
	if err := bson.Raw(c.ResumeToken).Validate(); err != nil {
		return nil, fmt.Errorf("%w: resume token: %v", command.ErrInvalidCheckpoint, err)
	}

	return &c, nil
}

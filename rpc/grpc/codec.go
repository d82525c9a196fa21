package grpc

import (
	"fmt"
	"reflect"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype negotiated for the gateway service.
const CodecName = "cramberry"

// Codec implements encoding.Codec with cramberry in place of protobuf.
type Codec struct {
	options cramberry.Options
}

// NewCodec creates a codec with cramberry's default options.
func NewCodec() *Codec {
	return NewCodecWithOptions(cramberry.DefaultOptions)
}

// NewCodecWithOptions creates a codec with custom options.
func NewCodecWithOptions(opts cramberry.Options) *Codec {
	return &Codec{options: opts}
}

// Marshal encodes a service message.
func (c *Codec) Marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return cramberry.MarshalWithOptions(v, c.options)
}

// Unmarshal decodes data into v, which must be a non-nil pointer.
// An empty payload leaves v at its zero value.
func (c *Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("unmarshal target must be a non-nil pointer, got %T", v)
	}
	return cramberry.UnmarshalWithOptions(data, v, c.options)
}

// Name returns CodecName.
func (c *Codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(NewCodec())
}

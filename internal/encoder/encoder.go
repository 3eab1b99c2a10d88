// Package encoder converts a canonical request into wire packets.
//
// The packet layout itself lives outside this program. The shipped
// implementation runs an external Lua script that defines
//
//	function encode(request) ... return { {0x07, 0x20, ...}, ... } end
//
// and returns an array of packets, each an array of integers 0..255 or a
// byte string. Scripts can use the datalink module:
//
//	datalink.crc_wrap(packet)   length header + CRC16-ARC footer
//	datalink.bytes(str)         string to byte array
//	datalink.log(msg)           log at info level
package encoder

import (
	"context"
	"errors"

	"datalink-sync/internal/model"
)

// ErrNoEncoder is returned when a send is attempted without an encoder.
var ErrNoEncoder = errors.New("encoder: none configured")

// Encoder turns a request into the ordered packet sequence to transmit.
type Encoder interface {
	Encode(ctx context.Context, req *model.Request) ([][]byte, error)
}

// Func adapts a function to the Encoder interface.
type Func func(ctx context.Context, req *model.Request) ([][]byte, error)

func (f Func) Encode(ctx context.Context, req *model.Request) ([][]byte, error) {
	return f(ctx, req)
}

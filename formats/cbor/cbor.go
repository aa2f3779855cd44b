// Package cbor adds CBOR codecs for problem documents. Importing this
// package registers `application/problem+cbor` (and friends) in
// problem.DefaultCodecs.
package cbor

import (
	"io"

	"github.com/apicompat/problem"
	"github.com/fxamacker/cbor/v2"
)

var encMode, _ = cbor.EncOptions{
	// Canonical enc opts
	Sort:          cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloat16,
	NaNConvert:    cbor.NaNConvert7e00,
	InfConvert:    cbor.InfConvertFloat16,
	IndefLength:   cbor.IndefLengthForbidden,
	// Time handling
	Time:    cbor.TimeUnixDynamic,
	TimeTag: cbor.EncTagRequired,
}.EncMode()

// DefaultCBORCodec can also be registered manually under additional
// media types when the automatic registration is not wanted.
var DefaultCBORCodec = problem.Codec{
	Marshal: func(w io.Writer, v any) error {
		return encMode.NewEncoder(w).Encode(v)
	},
	Unmarshal: cbor.Unmarshal,
}

func init() {
	problem.DefaultCodecs["application/cbor"] = DefaultCBORCodec
	problem.DefaultCodecs["application/problem+cbor"] = DefaultCBORCodec
	problem.DefaultCodecs["cbor"] = DefaultCBORCodec
}

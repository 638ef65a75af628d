// Package wire implements WireMsg: the on-the-wire envelope every
// request, response, and Anti-Entropy bounce travels in (spec.md §3
// "WireMsg", §4.5 "Anti-Entropy Handler").
//
// Encoding is canonical CBOR (SPEC_FULL.md §5 Open Question 1): a
// WireMsg's signature covers every field except Dst, so Anti-Entropy can
// rewrite Dst and resend without re-signing, provided re-encoding is
// deterministic — which canonical CBOR guarantees (map keys and
// integers always serialize to the same bytes, unlike JSON's
// unspecified key order or encoding/gob's stream-stateful format).
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/dreamware/saferoute/internal/xorname"
)

// Version is the only WireMsg wire version this client speaks
// (SPEC_FULL.md §5 Open Question 1).
const Version uint8 = 1

// Kind identifies what a WireMsg carries (spec.md §4: Cmd/Query
// requests and responses, plus the three Anti-Entropy bounce kinds).
type Kind uint8

const (
	KindCmd Kind = iota
	KindCmdAck
	KindQuery
	KindQueryResponse
	KindAERetry
	KindAERedirect
	KindAEUpdate
)

func (k Kind) String() string {
	switch k {
	case KindCmd:
		return "Cmd"
	case KindCmdAck:
		return "CmdAck"
	case KindQuery:
		return "Query"
	case KindQueryResponse:
		return "QueryResponse"
	case KindAERetry:
		return "AERetry"
	case KindAERedirect:
		return "AERedirect"
	case KindAEUpdate:
		return "AEUpdate"
	default:
		return "Unknown"
	}
}

// Header is everything about a WireMsg besides its payload. Dst is the
// only field Anti-Entropy is permitted to rewrite on a bounced message
// (spec.md §4.5: "the bounced message's dst field is rewritten... every
// other field, including the signature, is untouched").
type Header struct {
	Version       uint8       `cbor:"version"`
	Kind          Kind        `cbor:"kind"`
	MsgID         xorname.XorName `cbor:"msg_id"`
	Src           xorname.XorName `cbor:"src"`
	Dst           xorname.XorName `cbor:"dst"`
	CorrelationID xorname.XorName `cbor:"correlation_id"`
	SectionKey    []byte      `cbor:"section_key,omitempty"`
	Signature     []byte      `cbor:"signature,omitempty"`
}

// Msg is a complete WireMsg: header plus an opaque, kind-specific
// payload (a Cmd, a Query, spent-proof shares, a SAP update...). Higher
// layers (cmdpipeline, querypipeline, antientropy) decode Payload
// according to Header.Kind.
type Msg struct {
	Header  Header `cbor:"header"`
	Payload []byte `cbor:"payload"`
}

// canonical is the shared CBOR encoding mode: canonical (RFC 7049 §3.9
// canonical CBOR, map keys sorted length-first), so the same Msg value always produces
// the same bytes regardless of map iteration order.
var canonical = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid canonical CBOR options: %v", err))
	}
	return mode
}()

// Encode renders m as canonical CBOR bytes.
func Encode(m Msg) ([]byte, error) {
	b, err := canonical.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// Decode parses bytes produced by Encode.
func Decode(b []byte) (Msg, error) {
	var m Msg
	if err := cbor.Unmarshal(b, &m); err != nil {
		return Msg{}, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}

// SignedBody returns the bytes a WireMsg's Header.Signature is computed
// over: everything except Dst and Signature themselves, so AE-Retry and
// AE-Redirect can rewrite Dst without invalidating the original sender's
// signature.
func (m Msg) SignedBody() ([]byte, error) {
	h := m.Header
	h.Dst = xorname.XorName{}
	h.Signature = nil
	body := struct {
		Header  Header `cbor:"header"`
		Payload []byte `cbor:"payload"`
	}{Header: h, Payload: m.Payload}
	b, err := canonical.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode signed body: %w", err)
	}
	return b, nil
}

// WithDst returns a copy of m with Dst rewritten to dst and every other
// field untouched, the operation Anti-Entropy performs on a bounce
// (spec.md §4.5).
func (m Msg) WithDst(dst xorname.XorName) Msg {
	out := m
	out.Header.Dst = dst
	return out
}

// Package antientropy implements the Anti-Entropy Handler: decoding the
// three bounce kinds an elder can send back instead of a normal
// response — AE-Retry, AE-Redirect, AE-Update — and producing the
// message the Cmd/Query pipeline should resend (spec.md §4.5
// "Anti-Entropy Handler").
package antientropy

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/networkknowledge"
	"github.com/dreamware/saferoute/internal/sectiontree"
	"github.com/dreamware/saferoute/internal/wire"
	"github.com/dreamware/saferoute/internal/xorname"
)

// decodePayload is a thin wrapper over cbor.Unmarshal that reports
// decode failures as the taxonomy's InvalidResponse kind, since a
// malformed AE payload is exactly that: a peer's response that failed
// structure checks.
func decodePayload(raw []byte, out any) error {
	if err := cbor.Unmarshal(raw, out); err != nil {
		return clienterrors.Wrap(clienterrors.InvalidResponse, err, "decode AE payload")
	}
	return nil
}

// redirectPayload is an AE-Redirect message's payload: the Dst the
// sender should retry the original request against instead.
type redirectPayload struct {
	NewDst []byte `cbor:"new_dst"`
}

// updatePayload is an AE-Update message's payload: a proof chain plus
// the new SAP it certifies (spec.md §4.1 "apply_update").
type updatePayload struct {
	Chain []byte `cbor:"chain"`
	SAP   []byte `cbor:"sap"`
}

// Handler resolves AE bounces against a shared Cache, applying
// AE-Update unconditionally, even when no in-flight request concerns the
// updated prefix (SPEC_FULL.md §5), and rewriting Dst for AE-Redirect.
type Handler struct {
	knowledge *networkknowledge.Cache
	logger    zerolog.Logger
}

// New creates a Handler backed by knowledge.
func New(knowledge *networkknowledge.Cache) *Handler {
	return &Handler{
		knowledge: knowledge,
		logger:    log.Logger.With().Str("component", "antientropy").Logger(),
	}
}

// Resolve inspects a bounce received in place of the expected response
// to original and returns the message the caller should resend, plus
// whether a resend is warranted at all. AE-Retry resends original
// unchanged (the elder just wants the same request again, e.g. it was
// mid-split when the first copy arrived); AE-Redirect resends with Dst
// rewritten; AE-Update applies the carried SAP and then resends
// original unchanged, since the update itself doesn't tell the caller
// where to send the retry.
func (h *Handler) Resolve(original wire.Msg, bounce wire.Msg) (wire.Msg, bool, error) {
	switch bounce.Header.Kind {
	case wire.KindAERetry:
		h.logger.Debug().Str("msg_id", original.Header.MsgID.String()).Msg("AE-Retry: resending unchanged")
		return original, true, nil

	case wire.KindAERedirect:
		var payload redirectPayload
		if err := decodePayload(bounce.Payload, &payload); err != nil {
			return wire.Msg{}, false, err
		}
		if len(payload.NewDst) != xorname.Len {
			return wire.Msg{}, false, clienterrors.New(clienterrors.InvalidResponse, "AE-Redirect carried a malformed new_dst")
		}
		var newDst xorname.XorName
		copy(newDst[:], payload.NewDst)
		h.logger.Debug().
			Str("msg_id", original.Header.MsgID.String()).
			Str("new_dst", newDst.String()).
			Msg("AE-Redirect: rewriting dst and resending")
		return original.WithDst(newDst), true, nil

	case wire.KindAEUpdate:
		var payload updatePayload
		if err := decodePayload(bounce.Payload, &payload); err != nil {
			return wire.Msg{}, false, err
		}
		chain, err := sectiontree.DecodeProofChain(payload.Chain)
		if err != nil {
			return wire.Msg{}, false, clienterrors.Wrap(clienterrors.InvalidResponse, err, "decode AE-Update proof chain")
		}
		sap, err := sectiontree.DecodeSAP(payload.SAP)
		if err != nil {
			return wire.Msg{}, false, clienterrors.Wrap(clienterrors.InvalidResponse, err, "decode AE-Update SAP")
		}
		result, err := h.knowledge.Update(chain, sap)
		if err != nil {
			return wire.Msg{}, false, clienterrors.Wrap(clienterrors.UnknownSectionKey, err, "apply AE-Update")
		}
		h.logger.Info().
			Str("prefix", sap.Prefix.String()).
			Str("result", result.String()).
			Msg("applied AE-Update")
		return original, true, nil

	default:
		return wire.Msg{}, false, fmt.Errorf("antientropy: %s is not a bounce kind", bounce.Header.Kind)
	}
}

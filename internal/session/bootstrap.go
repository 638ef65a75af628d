package session

import (
	"context"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/sectiontree"
	"github.com/dreamware/saferoute/internal/wire"
	"github.com/dreamware/saferoute/internal/xorname"
)

// Contact is one entry in the bootstrap contacts file: an elder the
// session may not have any SAP for yet, but can still open a raw QUIC
// link to and ask "what section are you in" (spec.md §4.8 "Bootstrap").
type Contact struct {
	NodeID  xorname.XorName `cbor:"node_id"`
	Address string          `cbor:"address"`
}

// LoadContacts parses a bootstrap contacts file. The builder surfaces a
// parse failure as a hard error (spec.md §4.8: "the builder fails if the
// configured network-contacts file cannot be parsed").
func LoadContacts(path string) ([]Contact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.InvalidResponse, err, "read bootstrap contacts file")
	}
	var contacts []Contact
	if err := cbor.Unmarshal(raw, &contacts); err != nil {
		return nil, clienterrors.Wrap(clienterrors.InvalidResponse, err, "parse bootstrap contacts file")
	}
	return contacts, nil
}

// sectionInfoPayload is the response to a GetSectionInfo probe: a proof
// chain plus the SAP it certifies, reusing exactly the shape an
// AE-Update bounce carries (spec.md §4.1 "apply_update").
type sectionInfoPayload struct {
	Chain []byte `cbor:"chain"`
	SAP   []byte `cbor:"sap"`
}

// getSectionInfoMarker is the fixed query payload a GetSectionInfo probe
// sends; there is no address-specific content to a section-info request.
var getSectionInfoMarker = []byte("get-section-info")

// Bootstrap sends a GetSectionInfo probe to the configured bootstrap
// contacts, ordered by XOR distance to a probe target, until one answers
// with a SAP the Section Tree accepts (spec.md §4.8 "Bootstrap: on first
// use, the session sends a cheap probe query... to populate the tree if
// only the genesis key is known"). It is a no-op if the tree already
// holds any SAP.
func (s *Session) Bootstrap(ctx context.Context) error {
	if len(s.knowledge.Read().AllSAPs()) > 0 {
		return nil
	}
	if len(s.contacts) == 0 {
		return clienterrors.New(clienterrors.InsufficientElders, "no bootstrap contacts configured")
	}

	probeTarget := xorname.Random()
	ordered := append([]Contact(nil), s.contacts...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].NodeID.CloserTo(ordered[j].NodeID, probeTarget)
	})

	msg := wire.Msg{Header: wire.Header{
		Version: wire.Version,
		Kind:    wire.KindQuery,
		MsgID:   xorname.Random(),
		Dst:     probeTarget,
	}, Payload: getSectionInfoMarker}
	encoded, err := wire.Encode(msg)
	if err != nil {
		return clienterrors.Wrap(clienterrors.InvalidResponse, err, "encode bootstrap probe")
	}

	var lastErr error
	for _, contact := range ordered {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryPerAttemptTimeout)
		raw, err := s.pool.SendOnStream(attemptCtx, contact.NodeID, contact.Address, encoded)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := wire.Decode(raw)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Header.Kind != wire.KindQueryResponse {
			lastErr = clienterrors.New(clienterrors.InvalidResponse, "bootstrap contact returned a non-response message")
			continue
		}
		var payload sectionInfoPayload
		if err := cbor.Unmarshal(resp.Payload, &payload); err != nil {
			lastErr = err
			continue
		}
		chain, err := sectiontree.DecodeProofChain(payload.Chain)
		if err != nil {
			lastErr = err
			continue
		}
		sap, err := sectiontree.DecodeSAP(payload.SAP)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := s.knowledge.Update(chain, sap); err != nil {
			lastErr = err
			continue
		}
		s.logger.Info().Str("contact", contact.Address).Str("prefix", sap.Prefix.String()).Msg("bootstrap complete")
		return nil
	}
	return clienterrors.Wrap(clienterrors.ConnectionLost, lastErr, "bootstrap probe failed against every contact")
}

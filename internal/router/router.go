// Package router implements the Request Router: a pure function mapping
// a destination address and the client's current network knowledge
// snapshot to an ordered list of elder targets, closest-first (spec.md
// §4.4 "Request Router").
package router

import (
	"golang.org/x/exp/slices"

	"github.com/dreamware/saferoute/internal/clienterrors"
	"github.com/dreamware/saferoute/internal/sectiontree"
	"github.com/dreamware/saferoute/internal/xorname"
)

// Target is one elder to send a request to, carrying what the peerpool
// needs to reach it.
type Target struct {
	NodeID  xorname.XorName
	Address string
	Age     uint8
}

// Route returns tree's elders for the section owning dst, ordered by
// ascending XOR distance from dst with ties broken lexicographically on
// NodeID (spec.md §4.4: "Targets are the SAP's elders... ordered by XOR
// distance to dst, ties broken lexicographically on node_id").
//
// It returns clienterrors.UnknownSectionKey if tree has no SAP covering
// dst at all (the tree holds nothing but genesis), since there is then
// nothing to route to.
func Route(tree *sectiontree.Tree, dst xorname.XorName) ([]Target, error) {
	sap, err := tree.GetSAP(dst)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.UnknownSectionKey, err, "no section covers destination").
			WithField("dst", dst.String())
	}

	targets := make([]Target, 0, len(sap.Elders))
	for _, e := range sap.Elders {
		targets = append(targets, Target{NodeID: e.NodeID, Address: e.Address, Age: e.Age})
	}
	slices.SortFunc(targets, func(a, b Target) int {
		switch {
		case a.NodeID == b.NodeID:
			return 0
		case a.NodeID.CloserTo(b.NodeID, dst):
			return -1
		default:
			return 1
		}
	})
	return targets, nil
}

// RouteByPrefix returns tree's elders for the SAP whose prefix exactly
// matches p, ordered by ascending node_id (spec.md §4.4: "For a request
// addressed by section prefix (administrative): the targets are all
// elders of that SAP in node_id order"). Unlike Route, there is no
// XOR-distance destination to sort by — prefix-addressed requests are
// administrative (e.g. membership/DKG traffic) and go to the whole
// elder set in a fixed, deterministic order.
//
// It returns clienterrors.UnknownSectionKey if tree holds no SAP for
// that exact prefix.
func RouteByPrefix(tree *sectiontree.Tree, p xorname.Prefix) ([]Target, error) {
	sap, err := tree.GetSAPByPrefix(p)
	if err != nil {
		return nil, clienterrors.Wrap(clienterrors.UnknownSectionKey, err, "no SAP for prefix").
			WithField("prefix", p.String())
	}

	targets := make([]Target, 0, len(sap.Elders))
	for _, e := range sap.Elders {
		targets = append(targets, Target{NodeID: e.NodeID, Address: e.Address, Age: e.Age})
	}
	slices.SortFunc(targets, func(a, b Target) int {
		return a.NodeID.Cmp(b.NodeID)
	})
	return targets, nil
}

// RouteTop returns at most n targets from Route, the common case for
// callers that only need enough elders to satisfy a quorum or a
// query_parallelism budget rather than the whole elder set.
func RouteTop(tree *sectiontree.Tree, dst xorname.XorName, n int) ([]Target, error) {
	targets, err := Route(tree, dst)
	if err != nil {
		return nil, err
	}
	if n < len(targets) {
		targets = targets[:n]
	}
	return targets, nil
}

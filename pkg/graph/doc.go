// Package graph stores named directed graphs in a core.Store.
//
// Each graph owns a nodes_<id> collection keyed by node_id and an edges_<id>
// collection unique on (from, to). Edges require both endpoints to exist and
// removing a node removes its edges in the same transaction.
package graph

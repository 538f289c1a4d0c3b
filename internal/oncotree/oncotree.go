// Package oncotree expands a diagnosis label, or the reserved tokens
// _SOLID_/_LIQUID_, into the set of oncotree labels it covers: the node
// itself plus all of its descendants.
package oncotree

import (
	"encoding/json"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// TokenSolid expands to every label outside the descendants-closure of
	// Lymph and Blood (so Lymph and Blood themselves are excluded too).
	TokenSolid = "_SOLID_"
	// TokenLiquid expands to the descendants-closure of Lymph and Blood.
	TokenLiquid = "_LIQUID_"
)

// Node is one labelled oncotree entry.
type Node struct {
	ID       int    `json:"id"`
	Text     string `json:"text"`
	Children []int  `json:"children"`
}

// LoadSeedFile reads a flat JSON array of nodes. The batch entrypoint builds
// the tree from it when the oncotree_node table is empty; the nodes are not
// written into the table.
func LoadSeedFile(path string) ([]Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading oncotree seed file %q: %w", path, err)
	}
	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parsing oncotree seed file %q: %w", path, err)
	}
	return nodes, nil
}

// Tree is a read-only rooted labelled tree, precomputed with a text→node
// index for O(1) lookup by diagnosis label.
type Tree struct {
	nodes     map[int]*Node
	textIndex map[string]int
	cache     *lru.Cache[string, []string]
}

// New builds a Tree from a flat node list and indexes it by label text.
// Duplicate labels keep the first node seen, mirroring the source's
// lookup_text which returns the first match.
func New(nodes []Node, cacheSize int) (*Tree, error) {
	t := &Tree{
		nodes:     make(map[int]*Node, len(nodes)),
		textIndex: make(map[string]int, len(nodes)),
	}
	for i := range nodes {
		n := nodes[i]
		t.nodes[n.ID] = &n
		if _, exists := t.textIndex[n.Text]; !exists {
			t.textIndex[n.Text] = n.ID
		}
	}

	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	t.cache = cache

	return t, nil
}

// descendantsClosure returns the node itself plus every descendant,
// corresponding to the source's `list(nx.dfs_tree(onco_tree, node))`, which
// includes the root of the traversal.
func (t *Tree) descendantsClosure(rootID int) []int {
	var out []int
	var stack []int
	stack = append(stack, rootID)
	seen := map[int]bool{}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if n, ok := t.nodes[id]; ok {
			stack = append(stack, n.Children...)
		}
	}
	return out
}

func (t *Tree) labelsOf(ids []int) []string {
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := t.nodes[id]; ok {
			labels = append(labels, n.Text)
		}
	}
	return labels
}

// allLabels returns every label in the tree.
func (t *Tree) allLabels() []string {
	labels := make([]string, 0, len(t.nodes))
	for _, n := range t.nodes {
		labels = append(labels, n.Text)
	}
	return labels
}

// Expand returns the set of labels a diagnosis token covers. Unknown labels
// (no matching node) expand to an empty set; callers fold this into an
// inclusion/exclusion leaf the same way any empty result set would be.
func (t *Tree) Expand(label string) []string {
	if cached, ok := t.cache.Get(label); ok {
		return cached
	}

	var result []string
	switch label {
	case TokenLiquid:
		result = t.expandLiquid()
	case TokenSolid:
		result = t.expandSolid()
	default:
		id, ok := t.textIndex[label]
		if !ok {
			result = nil
			break
		}
		result = dedup(t.labelsOf(t.descendantsClosure(id)))
	}

	t.cache.Add(label, result)
	return result
}

func (t *Tree) expandLiquid() []string {
	var ids []int
	for _, root := range []string{"Lymph", "Blood"} {
		if id, ok := t.textIndex[root]; ok {
			ids = append(ids, t.descendantsClosure(id)...)
		}
	}
	return dedup(t.labelsOf(ids))
}

func (t *Tree) expandSolid() []string {
	liquid := make(map[string]bool)
	for _, l := range t.expandLiquid() {
		liquid[l] = true
	}
	var solid []string
	for _, l := range dedup(t.allLabels()) {
		if !liquid[l] {
			solid = append(solid, l)
		}
	}
	return solid
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ExpandMany expands every label in the list and unions the results,
// collapsing duplicates, matching the source's merge-into-$in/$nin-list
// behaviour when a single criterion names several diagnoses.
func (t *Tree) ExpandMany(labels []string) []string {
	var all []string
	for _, l := range labels {
		all = append(all, t.Expand(l)...)
	}
	return dedup(all)
}

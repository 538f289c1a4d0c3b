// Package matchtree parses the nested AND/OR/leaf match payload into a
// typed tree, and builds the surrounding step/arm/dose trial tree with each
// match payload embedded as a non-traversed child attribute.
package matchtree

import (
	"fmt"

	"github.com/dfci/matchengine/internal/model"
)

// Kind tags a match-tree node's type.
type Kind int

const (
	KindAnd Kind = iota
	KindOr
	KindClinical
	KindGenomic
)

// Node is a tagged-variant match-tree node. Interior nodes (And/Or) carry
// Children; leaves (Clinical/Genomic) carry Fields. Evaluation results are
// not stored on the node: the evaluator returns them as a separate
// evaluator.Result for each node it visits.
type Node struct {
	Kind     Kind
	Children []*Node
	Fields   map[string]any
}

// Build parses a match payload — a one-element list whose sole element has
// exactly one key among and/or/clinical/genomic — into a tree rooted at
// that single node. Construction recurses depth-first over the payload's
// nested lists; children keep the order they have in the payload, and no
// node ids are assigned.
func Build(payload []model.MatchPayload) (*Node, error) {
	if len(payload) != 1 {
		return nil, fmt.Errorf("match payload must have exactly one root element, got %d", len(payload))
	}
	return buildNode(payload[0])
}

func buildNode(obj model.MatchPayload) (*Node, error) {
	if len(obj) != 1 {
		return nil, fmt.Errorf("match node must have exactly one key, got %d", len(obj))
	}

	for key, val := range obj {
		switch key {
		case "and", "or":
			children, err := buildChildren(val)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				return nil, fmt.Errorf("%s node must have at least one child", key)
			}
			kind := KindAnd
			if key == "or" {
				kind = KindOr
			}
			return &Node{Kind: kind, Children: children}, nil

		case "clinical":
			fields, err := asFieldMap(val)
			if err != nil {
				return nil, err
			}
			return &Node{Kind: KindClinical, Fields: fields}, nil

		case "genomic":
			fields, err := asFieldMap(val)
			if err != nil {
				return nil, err
			}
			return &Node{Kind: KindGenomic, Fields: fields}, nil

		default:
			return nil, fmt.Errorf("unrecognized match node key %q", key)
		}
	}

	panic("unreachable")
}

func buildChildren(val any) ([]*Node, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("and/or value must be a list")
	}
	children := make([]*Node, 0, len(list))
	for _, item := range list {
		obj, ok := item.(model.MatchPayload)
		if !ok {
			if m, ok2 := item.(map[string]any); ok2 {
				obj = model.MatchPayload(m)
			} else {
				return nil, fmt.Errorf("and/or child must be an object")
			}
		}
		child, err := buildNode(obj)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func asFieldMap(val any) (map[string]any, error) {
	switch t := val.(type) {
	case map[string]any:
		return t, nil
	case model.MatchPayload:
		return map[string]any(t), nil
	default:
		return nil, fmt.Errorf("leaf criterion must be an object")
	}
}

// TrialNode mirrors one step/arm/dose level of the surrounding trial tree.
// MatchTree is the embedded match payload for this node, if any — a child
// attribute never traversed by the trial-tree walk itself, only built here
// for the driver (C8) to hand to the evaluator (C6).
type TrialNode struct {
	Level      string // "step", "arm", or "dose"
	InternalID string
	Code       string
	Suspended  string
	MatchTree  *Node
	Children   []*TrialNode
}

// BuildTrialTree walks a trial's step→arm→dose lists and builds the
// surrounding tree, embedding each node's compiled match tree (if the node
// carries a `match` payload).
func BuildTrialTree(steps []model.Step) ([]*TrialNode, error) {
	out := make([]*TrialNode, 0, len(steps))
	for _, step := range steps {
		node := &TrialNode{Level: "step", InternalID: step.StepInternalID, Code: step.StepCode}

		if len(step.Match) > 0 {
			tree, err := Build(step.Match)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", step.StepInternalID, err)
			}
			node.MatchTree = tree
		}

		for _, arm := range step.Arm {
			armNode := &TrialNode{Level: "arm", InternalID: arm.ArmInternalID, Code: arm.ArmCode, Suspended: arm.ArmSuspended}
			if len(arm.Match) > 0 {
				tree, err := Build(arm.Match)
				if err != nil {
					return nil, fmt.Errorf("arm %s: %w", arm.ArmInternalID, err)
				}
				armNode.MatchTree = tree
			}

			for _, dose := range arm.DoseLevel {
				doseNode := &TrialNode{Level: "dose", InternalID: dose.LevelInternalID, Code: dose.LevelCode, Suspended: dose.LevelSuspended}
				if len(dose.Match) > 0 {
					tree, err := Build(dose.Match)
					if err != nil {
						return nil, fmt.Errorf("dose %s: %w", dose.LevelInternalID, err)
					}
					doseNode.MatchTree = tree
				}
				armNode.Children = append(armNode.Children, doseNode)
			}

			node.Children = append(node.Children, armNode)
		}

		out = append(out, node)
	}
	return out, nil
}

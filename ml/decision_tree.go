package ml

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
)

const TypeDecisionTree = "decision_tree"

type DecisionTree struct {
    classes   []string
    nFeatures int
    nodes     []TreeNode
}

type TreeNode struct {
    FeatureIdx int       `json:"feature_idx"`
    Threshold  float64   `json:"threshold"`
    LeftChild  int       `json:"left_child"`
    RightChild int       `json:"right_child"`
    ClassLabel int       `json:"class_label"`
    IsLeaf     bool      `json:"is_leaf"`
    Counts     []float64 `json:"counts,omitempty"`
}

type treeArtifact struct {
    Type      string     `json:"type"`
    Classes   []string   `json:"classes"`
    NFeatures int        `json:"n_features"`
    Nodes     []TreeNode `json:"nodes"`
}

// NewDecisionTree builds a tree from already-fitted nodes. Node 0 is the root.
func NewDecisionTree(classes []string, nFeatures int, nodes []TreeNode) (*DecisionTree, error) {
    dt := &DecisionTree{
        classes:   append([]string(nil), classes...),
        nFeatures: nFeatures,
        nodes:     append([]TreeNode(nil), nodes...),
    }
    if err := dt.validate(); err != nil {
        return nil, err
    }
    return dt, nil
}

func (dt *DecisionTree) Classes() []string {
    return append([]string(nil), dt.classes...)
}

func (dt *DecisionTree) NumFeatures() int {
    return dt.nFeatures
}

func (dt *DecisionTree) Predict(rows [][]float64) ([]string, error) {
    if err := checkShape(rows, dt.nFeatures); err != nil {
        return nil, err
    }
    labels := make([]string, len(rows))
    for i, row := range rows {
        leaf, err := dt.leaf(row)
        if err != nil {
            return nil, fmt.Errorf("row %d: %w", i, err)
        }
        labels[i] = dt.classes[leaf.ClassLabel]
    }
    return labels, nil
}

// PredictProba returns the normalized class counts of the reached leaf, or a
// one-hot vector when the artifact carries no counts.
func (dt *DecisionTree) PredictProba(rows [][]float64) ([][]float64, error) {
    if err := checkShape(rows, dt.nFeatures); err != nil {
        return nil, err
    }
    out := make([][]float64, len(rows))
    for i, row := range rows {
        leaf, err := dt.leaf(row)
        if err != nil {
            return nil, fmt.Errorf("row %d: %w", i, err)
        }
        out[i] = leafDistribution(leaf, len(dt.classes))
    }
    return out, nil
}

func (dt *DecisionTree) leaf(features []float64) (TreeNode, error) {
    if len(dt.nodes) == 0 {
        return TreeNode{}, ErrNotLoaded
    }
    idx := 0
    // a valid tree reaches a leaf in at most len(nodes) steps
    for steps := 0; steps <= len(dt.nodes); steps++ {
        node := dt.nodes[idx]
        if node.IsLeaf {
            return node, nil
        }
        if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
            return TreeNode{}, errors.New("feature index out of range")
        }
        if features[node.FeatureIdx] <= node.Threshold {
            idx = node.LeftChild
        } else {
            idx = node.RightChild
        }
        if idx < 0 || idx >= len(dt.nodes) {
            return TreeNode{}, errors.New("invalid tree state")
        }
    }
    return TreeNode{}, errors.New("tree contains a cycle")
}

func leafDistribution(leaf TreeNode, classCount int) []float64 {
    dist := make([]float64, classCount)
    total := 0.0
    if len(leaf.Counts) == classCount {
        for _, c := range leaf.Counts {
            total += c
        }
    }
    if total <= 0 {
        dist[leaf.ClassLabel] = 1
        return dist
    }
    for i, c := range leaf.Counts {
        dist[i] = c / total
    }
    return dist
}

func (dt *DecisionTree) Save(path string) error {
    if len(dt.nodes) == 0 {
        return ErrNotLoaded
    }
    payload, err := json.Marshal(treeArtifact{
        Type:      TypeDecisionTree,
        Classes:   dt.classes,
        NFeatures: dt.nFeatures,
        Nodes:     dt.nodes,
    })
    if err != nil {
        return err
    }
    return os.WriteFile(path, payload, 0o600)
}

func (dt *DecisionTree) Load(path string) error {
    payload, err := os.ReadFile(path)
    if err != nil {
        return err
    }
    var artifact treeArtifact
    if err := json.Unmarshal(payload, &artifact); err != nil {
        return fmt.Errorf("decode %s: %w", path, err)
    }
    if artifact.Type != "" && artifact.Type != TypeDecisionTree {
        return fmt.Errorf("%s holds a %q model, not %q", path, artifact.Type, TypeDecisionTree)
    }
    loaded := DecisionTree{classes: artifact.Classes, nFeatures: artifact.NFeatures, nodes: artifact.Nodes}
    if err := loaded.validate(); err != nil {
        return fmt.Errorf("%s: %w", path, err)
    }
    *dt = loaded
    return nil
}

func (dt *DecisionTree) validate() error {
    if len(dt.classes) == 0 {
        return errors.New("decision tree has no classes")
    }
    if len(dt.nodes) == 0 {
        return errors.New("decision tree has no nodes")
    }
    for i, node := range dt.nodes {
        if node.IsLeaf {
            if node.ClassLabel < 0 || node.ClassLabel >= len(dt.classes) {
                return fmt.Errorf("node %d: class label %d out of range", i, node.ClassLabel)
            }
            continue
        }
        if node.LeftChild <= 0 || node.LeftChild >= len(dt.nodes) ||
            node.RightChild <= 0 || node.RightChild >= len(dt.nodes) {
            return fmt.Errorf("node %d: child index out of range", i)
        }
        if node.FeatureIdx < 0 || (dt.nFeatures > 0 && node.FeatureIdx >= dt.nFeatures) {
            return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
        }
    }
    return nil
}

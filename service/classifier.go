package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/emilythestrangee/algaerithm/utils"
	"go.uber.org/zap"
)

const numFeatures = 3

const fallbackFingerprint = "fallback"

// Classifier 像素级二分类器，每行 [R,G,B] 输出一个 0/1 标签
type Classifier interface {
	Predict(features [][3]float64) ([]int, error)
	// Fingerprint 标识模型内容，模型文件变化时随之变化
	Fingerprint() string
}

// Tree 决策树，数组布局与 scikit-learn 的 tree_ 属性一致
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// ForestClassifier 随机森林分类器，加载后只读，可并发使用
type ForestClassifier struct {
	Classes []int  `json:"classes"`
	Trees   []Tree `json:"trees"`

	fingerprint string
}

// LoadClassifier 从JSON文件加载分类器。文件不存在时使用占位模型；
// 其他错误仅在 fallbackOnError 为 true 时回退
func LoadClassifier(path string, fallbackOnError bool) (*ForestClassifier, error) {
	clf, err := loadForest(path)
	if err == nil {
		utils.Logger.Info("classifier loaded",
			zap.String("path", path),
			zap.String("fingerprint", clf.fingerprint),
			zap.Int("trees", len(clf.Trees)))
		return clf, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		utils.Logger.Warn("classifier not found, using fallback model",
			zap.String("path", path))
		return NewFallbackClassifier(), nil
	}

	if fallbackOnError {
		utils.Logger.Warn("failed to load classifier, using fallback model",
			zap.String("path", path),
			zap.Error(err))
		return NewFallbackClassifier(), nil
	}

	return nil, err
}

func loadForest(path string) (*ForestClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var clf ForestClassifier
	if err := json.Unmarshal(data, &clf); err != nil {
		return nil, fmt.Errorf("failed to parse classifier %s: %w", path, err)
	}
	if err := clf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier %s: %w", path, err)
	}
	clf.fingerprint = utils.BytesMD5(data)
	return &clf, nil
}

// NewFallbackClassifier 占位模型：在黑色(0)与白色(1)两个样本上拟合的单层决策树
func NewFallbackClassifier() *ForestClassifier {
	return &ForestClassifier{
		Classes: []int{0, 1},
		Trees: []Tree{
			fitStump([numFeatures]float64{0, 0, 0}, [numFeatures]float64{255, 255, 255}),
		},
		fingerprint: fallbackFingerprint,
	}
}

// fitStump 在第一个可区分的特征上取中点作为阈值
func fitStump(negative, positive [numFeatures]float64) Tree {
	feature := 0
	for f := 0; f < numFeatures; f++ {
		if negative[f] != positive[f] {
			feature = f
			break
		}
	}

	left, right := []float64{1, 0}, []float64{0, 1}
	if negative[feature] > positive[feature] {
		left, right = right, left
	}

	return Tree{
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{feature, -2, -2},
		Threshold:     []float64{(negative[feature] + positive[feature]) / 2, -2, -2},
		Value:         [][]float64{{1, 1}, left, right},
	}
}

func (c *ForestClassifier) Fingerprint() string {
	return c.fingerprint
}

// Validate 检查模型结构，保证预测时不会越界或死循环
func (c *ForestClassifier) Validate() error {
	if len(c.Classes) == 0 {
		return errors.New("no classes")
	}
	for _, class := range c.Classes {
		if class != 0 && class != 1 {
			return fmt.Errorf("unsupported class label %d", class)
		}
	}
	if len(c.Trees) == 0 {
		return errors.New("no trees")
	}

	for t, tree := range c.Trees {
		n := len(tree.ChildrenLeft)
		if n == 0 {
			return fmt.Errorf("tree %d: empty", t)
		}
		if len(tree.ChildrenRight) != n || len(tree.Feature) != n ||
			len(tree.Threshold) != n || len(tree.Value) != n {
			return fmt.Errorf("tree %d: node arrays differ in length", t)
		}
		for i := 0; i < n; i++ {
			if len(tree.Value[i]) != len(c.Classes) {
				return fmt.Errorf("tree %d node %d: %d class values, want %d", t, i, len(tree.Value[i]), len(c.Classes))
			}
			l, r := tree.ChildrenLeft[i], tree.ChildrenRight[i]
			if l == -1 && r == -1 {
				continue
			}
			// 子节点编号必须大于父节点
			if l <= i || l >= n || r <= i || r >= n {
				return fmt.Errorf("tree %d node %d: bad children %d/%d", t, i, l, r)
			}
			if f := tree.Feature[i]; f < 0 || f >= numFeatures {
				return fmt.Errorf("tree %d node %d: bad feature %d", t, i, f)
			}
		}
	}
	return nil
}

// Predict 每行独立预测，对各棵树叶子节点的类别概率取平均后取最大值
func (c *ForestClassifier) Predict(features [][3]float64) ([]int, error) {
	labels := make([]int, len(features))
	proba := make([]float64, len(c.Classes))

	for row, x := range features {
		for k := range proba {
			proba[k] = 0
		}
		for t := range c.Trees {
			leaf := c.Trees[t].Value[c.Trees[t].apply(x)]
			total := 0.0
			for _, v := range leaf {
				total += v
			}
			if total == 0 {
				continue
			}
			for k, v := range leaf {
				proba[k] += v / total
			}
		}

		best := 0
		for k := 1; k < len(proba); k++ {
			if proba[k] > proba[best] {
				best = k
			}
		}
		labels[row] = c.Classes[best]
	}

	return labels, nil
}

// apply 返回样本落入的叶子节点编号
func (t *Tree) apply(x [3]float64) int {
	node := 0
	for t.ChildrenLeft[node] != -1 {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return node
}

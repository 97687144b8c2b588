package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/handsign/internal/detector"
)

// Activation names accepted in a model file.
const (
	ActLinear  = "linear"
	ActReLU    = "relu"
	ActSigmoid = "sigmoid"
	ActTanh    = "tanh"
	ActSoftmax = "softmax"
)

// modelFile is the on-disk JSON form of a dense network. Weights are
// indexed [input][output].
type modelFile struct {
	Labels []string    `json:"labels"`
	Layers []layerFile `json:"layers"`
}

type layerFile struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

type dense struct {
	w   *mat.Dense
	b   *mat.VecDense
	act string
}

// MLP is a feed-forward network of dense layers, written from the trained
// Keras model by scripts/export_model.py. It is immutable after Load and safe
// for concurrent use.
type MLP struct {
	labels []string
	layers []dense
}

// Load reads a model file. Any failure wraps ErrModelUnavailable.
func Load(path string) (*MLP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}
	return m, nil
}

// Parse decodes and validates a model from r.
func Parse(r io.Reader) (*MLP, error) {
	var file modelFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	labels := file.Labels
	if len(labels) == 0 {
		labels = Labels
	}
	if len(labels) != NumLabels {
		return nil, fmt.Errorf("%w: %d labels, want %d", ErrShape, len(labels), NumLabels)
	}
	if len(file.Layers) == 0 {
		return nil, fmt.Errorf("%w: model has no layers", ErrShape)
	}

	m := &MLP{labels: labels}
	width := detector.FeatureLen
	for i, lf := range file.Layers {
		l, err := lf.build(width)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers = append(m.layers, l)
		_, width = l.w.Dims()
	}
	if width != NumLabels {
		return nil, fmt.Errorf("%w: output width %d, want %d", ErrShape, width, NumLabels)
	}
	return m, nil
}

func (lf layerFile) build(in int) (dense, error) {
	if len(lf.Weights) != in {
		return dense{}, fmt.Errorf("%w: %d weight rows, want %d", ErrShape, len(lf.Weights), in)
	}
	out := len(lf.Bias)
	if out == 0 {
		return dense{}, fmt.Errorf("%w: empty bias", ErrShape)
	}

	data := make([]float64, 0, in*out)
	for i, row := range lf.Weights {
		if len(row) != out {
			return dense{}, fmt.Errorf("%w: weight row %d has %d columns, want %d", ErrShape, i, len(row), out)
		}
		data = append(data, row...)
	}

	act := lf.Activation
	switch act {
	case "":
		act = ActLinear
	case ActLinear, ActReLU, ActSigmoid, ActTanh, ActSoftmax:
	default:
		return dense{}, fmt.Errorf("unknown activation %q", act)
	}

	return dense{
		w:   mat.NewDense(in, out, data),
		b:   mat.NewVecDense(out, append([]float64(nil), lf.Bias...)),
		act: act,
	}, nil
}

// Labels returns the model's label alphabet.
func (m *MLP) Labels() []string {
	return m.labels
}

// Predict runs the network on batch and returns the argmax label.
func (m *MLP) Predict(batch *mat.Dense) (Prediction, error) {
	if err := CheckBatch(batch); err != nil {
		return Prediction{}, err
	}

	x := mat.VecDenseCopyOf(batch.RowView(0))
	for _, l := range m.layers {
		_, out := l.w.Dims()
		y := mat.NewVecDense(out, nil)
		y.MulVec(l.w.T(), x)
		y.AddVec(y, l.b)
		activate(l.act, y.RawVector().Data)
		x = y
	}

	return Argmax(m.labels, x.RawVector().Data)
}

func activate(name string, v []float64) {
	switch name {
	case ActReLU:
		for i, x := range v {
			v[i] = math.Max(0, x)
		}
	case ActSigmoid:
		for i, x := range v {
			v[i] = 1 / (1 + math.Exp(-x))
		}
	case ActTanh:
		for i, x := range v {
			v[i] = math.Tanh(x)
		}
	case ActSoftmax:
		floats.AddConst(-floats.Max(v), v)
		for i, x := range v {
			v[i] = math.Exp(x)
		}
		floats.Scale(1/floats.Sum(v), v)
	}
}

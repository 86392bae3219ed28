package grpc

import (
	"github.com/ekisa-team/modelforge/internal/tensor"
)

type (
	FetchRequest struct {
		Kind      string `json:"kind"`
		Root      string `json:"root,omitempty"`
		Overwrite bool   `json:"overwrite,omitempty"`
	}

	FetchResponse struct {
		Path string `json:"path"`
	}
)

type (
	// CompileRequest overrides the server's base config. Zero fields keep the base value.
	CompileRequest struct {
		Kind     string             `json:"kind,omitempty"`
		Target   string             `json:"target,omitempty"`
		OptLevel *int               `json:"opt_level,omitempty"`
		Shapes   map[string][]int64 `json:"shapes,omitempty"`
		DTypes   map[string]string  `json:"dtypes,omitempty"`
		Reuse    bool               `json:"reuse,omitempty"`
	}

	CompileResponse struct {
		Name        string `json:"name"`
		Library     string `json:"library"`
		Graph       string `json:"graph"`
		Params      string `json:"params"`
		Manifest    string `json:"manifest"`
		Fingerprint string `json:"fingerprint"`
		Reused      bool   `json:"reused"`
	}
)

type (
	RunRequest struct {
		CompileRequest

		Device string  `json:"device,omitempty"`
		Debug  *bool   `json:"debug,omitempty"`
		Seed   uint64  `json:"seed,omitempty"`
		Input  *Tensor `json:"input,omitempty"`
	}

	RunResponse struct {
		HandleID string `json:"handle_id"`
		Input    string `json:"input"`
		Output   Tensor `json:"output"`
		Reused   bool   `json:"reused"`
	}
)

// Tensor is the wire form of a tensor: little-endian row-major data.
type Tensor struct {
	Shape []int64 `json:"shape"`
	DType string  `json:"dtype"`
	Data  []byte  `json:"data"`
}

// FromTensor converts t to its wire form.
func FromTensor(t *tensor.Tensor) Tensor {
	return Tensor{Shape: t.Shape(), DType: string(t.DType()), Data: t.Bytes()}
}

// Tensor decodes the wire form.
func (t *Tensor) Tensor() (*tensor.Tensor, error) {
	dtype, err := tensor.ParseDType(t.DType)
	if err != nil {
		return nil, err
	}
	return tensor.New(t.Shape, dtype, t.Data)
}

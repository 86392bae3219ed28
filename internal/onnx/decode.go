package onnx

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelDomain          protowire.Number = 4
	modelModelVersion    protowire.Number = 5
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	tensorName protowire.Number = 8

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensorType protowire.Number = 1

	tensorTypeElemType protowire.Number = 1
	tensorTypeShape    protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue protowire.Number = 1
	dimParam protowire.Number = 2
)

// field is a single decoded (number, type, payload) triple.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walk calls fn for every field in b. Fixed-width fields are skipped.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			f.varint = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			f.bytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if err := fn(f); err != nil {
			return err
		}
	}

	return nil
}

// Parse decodes a serialized ModelProto.
func Parse(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	m := &Model{}
	sawGraph := false
	err := walk(data, func(f field) error {
		switch f.num {
		case modelIRVersion:
			m.IRVersion = int64(f.varint)
		case modelProducerName:
			m.ProducerName = string(f.bytes)
		case modelProducerVersion:
			m.ProducerVersion = string(f.bytes)
		case modelDomain:
			m.Domain = string(f.bytes)
		case modelModelVersion:
			m.ModelVersion = int64(f.varint)
		case modelOpsetImport:
			op, err := parseOpset(f.bytes)
			if err != nil {
				return err
			}
			m.Opsets = append(m.Opsets, op)
		case modelGraph:
			g, err := parseGraph(f.bytes)
			if err != nil {
				return err
			}
			m.Graph = g
			sawGraph = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !sawGraph {
		return nil, fmt.Errorf("%w: model has no graph", ErrMalformed)
	}

	return m, nil
}

func parseOpset(b []byte) (OpsetImport, error) {
	var op OpsetImport
	err := walk(b, func(f field) error {
		switch f.num {
		case opsetDomain:
			op.Domain = string(f.bytes)
		case opsetVersion:
			op.Version = int64(f.varint)
		}
		return nil
	})
	return op, err
}

func parseGraph(b []byte) (Graph, error) {
	var g Graph
	err := walk(b, func(f field) error {
		switch f.num {
		case graphNode:
			g.NodeCount++
		case graphName:
			g.Name = string(f.bytes)
		case graphInitializer:
			name, err := parseTensorName(f.bytes)
			if err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, name)
		case graphInput:
			vi, err := parseValueInfo(f.bytes)
			if err != nil {
				return err
			}
			g.Inputs = append(g.Inputs, vi)
		case graphOutput:
			vi, err := parseValueInfo(f.bytes)
			if err != nil {
				return err
			}
			g.Outputs = append(g.Outputs, vi)
		}
		return nil
	})
	return g, err
}

func parseTensorName(b []byte) (string, error) {
	var name string
	err := walk(b, func(f field) error {
		if f.num == tensorName && f.typ == protowire.BytesType {
			name = string(f.bytes)
		}
		return nil
	})
	return name, err
}

func parseValueInfo(b []byte) (ValueInfo, error) {
	var vi ValueInfo
	err := walk(b, func(f field) error {
		switch f.num {
		case valueInfoName:
			vi.Name = string(f.bytes)
		case valueInfoType:
			return walk(f.bytes, func(tf field) error {
				if tf.num != typeTensorType {
					return nil
				}
				return parseTensorType(tf.bytes, &vi)
			})
		}
		return nil
	})
	return vi, err
}

func parseTensorType(b []byte, vi *ValueInfo) error {
	return walk(b, func(f field) error {
		switch f.num {
		case tensorTypeElemType:
			vi.ElemType = DataType(f.varint)
		case tensorTypeShape:
			return walk(f.bytes, func(sf field) error {
				if sf.num != shapeDim {
					return nil
				}
				var d Dim
				err := walk(sf.bytes, func(df field) error {
					switch df.num {
					case dimValue:
						d.Value = int64(df.varint)
					case dimParam:
						d.Param = string(df.bytes)
					}
					return nil
				})
				if err != nil {
					return err
				}
				vi.Shape = append(vi.Shape, d)
				return nil
			})
		}
		return nil
	})
}
